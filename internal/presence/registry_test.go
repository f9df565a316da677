package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimBindRelease(t *testing.T) {
	r := NewRegistry()

	require.True(t, r.TryClaim("alice"))
	assert.False(t, r.IsAvailable("alice"), "claimed name must be visible immediately")

	r.Bind("conn-1", "alice")
	owner, ok := r.Owner("alice")
	require.True(t, ok)
	assert.Equal(t, ConnID("conn-1"), owner)

	name, released := r.Release("conn-1")
	require.True(t, released)
	assert.Equal(t, "alice", name)
	assert.True(t, r.IsAvailable("alice"))
	assert.Empty(t, r.Snapshot())
}

func TestTryClaimRejectsTakenName(t *testing.T) {
	r := NewRegistry()

	require.True(t, r.TryClaim("bob"))
	assert.False(t, r.TryClaim("bob"))

	r.Bind("conn-1", "bob")
	assert.False(t, r.TryClaim("bob"))
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry()

	require.True(t, r.TryClaim("carol"))
	r.Bind("conn-1", "carol")

	_, released := r.Release("conn-1")
	assert.True(t, released)

	_, released = r.Release("conn-1")
	assert.False(t, released, "second release must be a no-op")
}

func TestReleaseUnknownConnection(t *testing.T) {
	r := NewRegistry()

	name, released := r.Release("never-bound")
	assert.False(t, released)
	assert.Empty(t, name)
}

func TestBindWithoutClaimIsIgnored(t *testing.T) {
	r := NewRegistry()

	r.Bind("conn-1", "ghost")

	_, ok := r.Owner("ghost")
	assert.False(t, ok)
	_, released := r.Release("conn-1")
	assert.False(t, released)
}

func TestSnapshotIsSorted(t *testing.T) {
	r := NewRegistry()

	for i, name := range []string{"zoe", "alice", "mike"} {
		require.True(t, r.TryClaim(name))
		r.Bind(ConnID(fmt.Sprintf("conn-%d", i)), name)
	}

	assert.Equal(t, []string{"alice", "mike", "zoe"}, r.Snapshot())
}

func TestConcurrentClaimsAdmitOneOwner(t *testing.T) {
	const contenders = 50

	r := NewRegistry()
	var wg sync.WaitGroup
	wins := make(chan int, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.TryClaim("shared") {
				r.Bind(ConnID(fmt.Sprintf("conn-%d", i)), "shared")
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []int
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one claim must succeed")
	assert.Equal(t, []string{"shared"}, r.Snapshot())
}

func TestConcurrentClaimReleaseKeepsMapsConsistent(t *testing.T) {
	const workers = 20
	const rounds = 100

	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user-%d", i)
			conn := ConnID(fmt.Sprintf("conn-%d", i))
			for j := 0; j < rounds; j++ {
				if r.TryClaim(name) {
					r.Bind(conn, name)
					released, ok := r.Release(conn)
					if !ok || released != name {
						t.Errorf("release returned (%q, %v), want (%q, true)", released, ok, name)
						return
					}
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, r.Snapshot())
}
