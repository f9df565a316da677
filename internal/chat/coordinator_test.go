package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbspibalcontin/ChatApplication/internal/models"
	"github.com/nbspibalcontin/ChatApplication/internal/presence"
	"github.com/nbspibalcontin/ChatApplication/internal/protocol"
)

type recordedBroadcast struct {
	target Target
	event  protocol.Event
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []recordedBroadcast
}

func (f *fakeBroadcaster) Broadcast(target Target, event protocol.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedBroadcast{target: target, event: event})
}

func (f *fakeBroadcaster) all() []recordedBroadcast {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedBroadcast, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeBroadcaster) ofType(et protocol.EventType) []recordedBroadcast {
	var out []recordedBroadcast
	for _, call := range f.all() {
		if call.event.EventType() == et {
			out = append(out, call)
		}
	}
	return out
}

func (f *fakeBroadcaster) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

type fakeLog struct {
	mu        sync.Mutex
	msgs      []models.ChatMessage
	appendErr error
	panicAll  bool
}

func (f *fakeLog) Append(_ context.Context, msg *models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicAll {
		panic("store exploded")
	}
	if f.appendErr != nil {
		return f.appendErr
	}
	f.msgs = append(f.msgs, *msg)
	return nil
}

func (f *fakeLog) Tail(_ context.Context, n int) ([]models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatMessage
	for i := len(f.msgs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, f.msgs[i])
	}
	return out, nil
}

func (f *fakeLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func newTestCoordinator() (*Coordinator, *fakeBroadcaster, *fakeLog) {
	bc := &fakeBroadcaster{}
	store := &fakeLog{}
	c := NewCoordinator(presence.NewRegistry(), store, bc, slog.Default())
	return c, bc, store
}

// requireConsistent checks the core invariant: the presence snapshot equals
// the set of usernames bound to a joined session.
func requireConsistent(t *testing.T, c *Coordinator) {
	t.Helper()

	c.mu.Lock()
	joined := []string{}
	for _, s := range c.sessions {
		if s.State == StateJoined {
			joined = append(joined, s.Name)
		}
	}
	snapshot := c.registry.Snapshot()
	c.mu.Unlock()

	sort.Strings(joined)
	require.Equal(t, joined, snapshot, "presence set diverged from live sessions")
}

func handle(c *Coordinator, conn presence.ConnID, req protocol.Request) {
	c.HandleRequest(context.Background(), conn, req)
}

func TestJoinBroadcastsPresence(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")

	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})

	joined := bc.ofType(protocol.EventTypeUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, TargetAll, joined[0].target.Kind)
	ev := joined[0].event.(*protocol.UserJoinedEvent)
	assert.Equal(t, "alice", ev.Username)
	assert.Equal(t, []string{"alice"}, ev.Users)
	requireConsistent(t, c)
}

func TestJoinTrimsUsername(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")

	handle(c, "conn-1", &protocol.JoinRequest{Username: "  alice  "})

	joined := bc.ofType(protocol.EventTypeUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "alice", joined[0].event.(*protocol.UserJoinedEvent).Username)
}

func TestJoinRejectsEmptyUsername(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")

	handle(c, "conn-1", &protocol.JoinRequest{Username: "   "})

	require.Empty(t, bc.ofType(protocol.EventTypeUserJoined))
	errs := bc.ofType(protocol.EventTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, TargetCallerOnly, errs[0].target.Kind)
	assert.Equal(t, presence.ConnID("conn-1"), errs[0].target.Caller)
	assert.Equal(t, protocol.ErrCodeValidation, errs[0].event.(*protocol.ErrorEvent).Code)
	requireConsistent(t, c)
}

func TestJoinDuplicateNameGetsNameTaken(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")
	c.ConnectionOpened("conn-2")

	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	handle(c, "conn-2", &protocol.JoinRequest{Username: "alice"})

	taken := bc.ofType(protocol.EventTypeNameTaken)
	require.Len(t, taken, 1)
	assert.Equal(t, presence.ConnID("conn-2"), taken[0].target.Caller)
	require.Len(t, bc.ofType(protocol.EventTypeUserJoined), 1)
	requireConsistent(t, c)
}

func TestConcurrentJoinsSameNameAdmitOne(t *testing.T) {
	const contenders = 20

	c, bc, _ := newTestCoordinator()
	conns := make([]presence.ConnID, contenders)
	for i := range conns {
		conns[i] = presence.ConnID(fmt.Sprintf("conn-%d", i))
		c.ConnectionOpened(conns[i])
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn presence.ConnID) {
			defer wg.Done()
			handle(c, conn, &protocol.JoinRequest{Username: "highlander"})
		}(conn)
	}
	wg.Wait()

	assert.Len(t, bc.ofType(protocol.EventTypeUserJoined), 1)
	assert.Len(t, bc.ofType(protocol.EventTypeNameTaken), contenders-1)
	requireConsistent(t, c)
}

func TestDisconnectThenReconnect(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")
	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	bc.reset()

	handle(c, "conn-1", &protocol.DisconnectRequest{Username: "alice"})

	left := bc.ofType(protocol.EventTypeUserLeft)
	require.Len(t, left, 1)
	assert.Empty(t, left[0].event.(*protocol.UserLeftEvent).Users)
	requireConsistent(t, c)

	handle(c, "conn-1", &protocol.ReconnectRequest{Username: "alice"})

	rejoined := bc.ofType(protocol.EventTypeUserReconnected)
	require.Len(t, rejoined, 1)
	assert.Equal(t, []string{"alice"}, rejoined[0].event.(*protocol.UserReconnectedEvent).Users)
	requireConsistent(t, c)
}

func TestReconnectRequiresPriorName(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")
	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	handle(c, "conn-1", &protocol.DisconnectRequest{Username: "alice"})
	bc.reset()

	handle(c, "conn-1", &protocol.ReconnectRequest{Username: "mallory"})

	require.Empty(t, bc.ofType(protocol.EventTypeUserReconnected))
	errs := bc.ofType(protocol.EventTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.ErrCodeValidation, errs[0].event.(*protocol.ErrorEvent).Code)
	requireConsistent(t, c)
}

func TestReconnectAfterNameRetaken(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")
	c.ConnectionOpened("conn-2")

	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	handle(c, "conn-1", &protocol.DisconnectRequest{Username: "alice"})
	handle(c, "conn-2", &protocol.JoinRequest{Username: "alice"})
	bc.reset()

	// The freed name was retaken while conn-1 was away.
	handle(c, "conn-1", &protocol.ReconnectRequest{Username: "alice"})

	taken := bc.ofType(protocol.EventTypeNameTaken)
	require.Len(t, taken, 1)
	assert.Equal(t, presence.ConnID("conn-1"), taken[0].target.Caller)
	requireConsistent(t, c)

	// RenameReconnect with an unused name succeeds and announces the rename.
	handle(c, "conn-1", &protocol.RenameReconnectRequest{OldUsername: "alice", NewUsername: "alice2"})

	renamed := bc.ofType(protocol.EventTypeUserRenamed)
	require.Len(t, renamed, 1)
	ev := renamed[0].event.(*protocol.UserRenamedEvent)
	assert.Equal(t, "alice", ev.OldUsername)
	assert.Equal(t, "alice2", ev.NewUsername)
	assert.Equal(t, []string{"alice", "alice2"}, ev.Users)
	requireConsistent(t, c)
}

func TestRenamePrefersSessionName(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")
	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	handle(c, "conn-1", &protocol.DisconnectRequest{Username: "alice"})
	bc.reset()

	handle(c, "conn-1", &protocol.RenameReconnectRequest{OldUsername: "impostor", NewUsername: "alice2"})

	renamed := bc.ofType(protocol.EventTypeUserRenamed)
	require.Len(t, renamed, 1)
	assert.Equal(t, "alice", renamed[0].event.(*protocol.UserRenamedEvent).OldUsername)
}

func TestSendMessageWhileUnjoinedRejected(t *testing.T) {
	c, bc, store := newTestCoordinator()
	c.ConnectionOpened("conn-1")

	handle(c, "conn-1", &protocol.SendMessageRequest{Text: "hello"})

	require.Empty(t, bc.ofType(protocol.EventTypeMessage))
	require.Len(t, bc.ofType(protocol.EventTypeError), 1)
	assert.Zero(t, store.count(), "rejected message must not reach the log")
}

func TestSendMessageWhileDisconnectedRejected(t *testing.T) {
	c, bc, store := newTestCoordinator()
	c.ConnectionOpened("conn-1")
	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	handle(c, "conn-1", &protocol.DisconnectRequest{Username: "alice"})
	bc.reset()

	handle(c, "conn-1", &protocol.SendMessageRequest{Text: "hello"})

	require.Empty(t, bc.ofType(protocol.EventTypeMessage))
	assert.Zero(t, store.count())
}

func TestSendMessageRejectsEmptyBody(t *testing.T) {
	c, bc, store := newTestCoordinator()
	c.ConnectionOpened("conn-1")
	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	bc.reset()

	handle(c, "conn-1", &protocol.SendMessageRequest{Text: "   "})

	require.Empty(t, bc.ofType(protocol.EventTypeMessage))
	require.Len(t, bc.ofType(protocol.EventTypeError), 1)
	assert.Zero(t, store.count())
}

func TestSendMessagePersistsAndTargetsLiveConnections(t *testing.T) {
	c, bc, store := newTestCoordinator()
	c.ConnectionOpened("conn-1")
	c.ConnectionOpened("conn-2")
	c.ConnectionOpened("conn-3") // never joins
	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	handle(c, "conn-2", &protocol.JoinRequest{Username: "bob"})
	bc.reset()

	handle(c, "conn-1", &protocol.SendMessageRequest{Text: "hi all"})

	msgs := bc.ofType(protocol.EventTypeMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, TargetConns, msgs[0].target.Kind)
	assert.ElementsMatch(t,
		[]presence.ConnID{"conn-1", "conn-2"},
		msgs[0].target.Conns,
		"only joined connections receive the message")

	ev := msgs[0].event.(*protocol.MessageEvent)
	assert.Equal(t, "alice", ev.Username)
	assert.Equal(t, "hi all", ev.Text)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())

	require.Equal(t, 1, store.count())
}

func TestSendMessageStorageFailureStillBroadcasts(t *testing.T) {
	c, bc, store := newTestCoordinator()
	store.appendErr = errors.New("disk full")
	c.ConnectionOpened("conn-1")
	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	bc.reset()

	handle(c, "conn-1", &protocol.SendMessageRequest{Text: "still delivered"})

	require.Len(t, bc.ofType(protocol.EventTypeMessage), 1, "broadcast is independent of persistence")
	errs := bc.ofType(protocol.EventTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.ErrCodeStorage, errs[0].event.(*protocol.ErrorEvent).Code)
}

func TestHistoryReturnsTenNewestFirst(t *testing.T) {
	c, bc, store := newTestCoordinator()
	c.ConnectionOpened("conn-1")
	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})

	for i := 0; i < 12; i++ {
		handle(c, "conn-1", &protocol.SendMessageRequest{Text: fmt.Sprintf("msg-%d", i)})
	}
	require.Equal(t, 12, store.count())
	bc.reset()

	handle(c, "conn-1", &protocol.RequestHistoryRequest{})

	histories := bc.ofType(protocol.EventTypeHistory)
	require.Len(t, histories, 1)
	assert.Equal(t, TargetCallerOnly, histories[0].target.Kind)

	ev := histories[0].event.(*protocol.HistoryEvent)
	require.Len(t, ev.Messages, 10)
	assert.Equal(t, "msg-11", ev.Messages[0].Body)
	assert.Equal(t, "msg-2", ev.Messages[9].Body)
}

func TestHistoryRequiresJoin(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")

	handle(c, "conn-1", &protocol.RequestHistoryRequest{})

	require.Empty(t, bc.ofType(protocol.EventTypeHistory))
	require.Len(t, bc.ofType(protocol.EventTypeError), 1)
}

func TestCheckAvailableIsAdvisory(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")
	c.ConnectionOpened("conn-2")
	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	bc.reset()

	handle(c, "conn-2", &protocol.CheckAvailableRequest{Username: "alice"})
	handle(c, "conn-2", &protocol.CheckAvailableRequest{Username: "bob"})

	replies := bc.ofType(protocol.EventTypeAvailability)
	require.Len(t, replies, 2)
	assert.False(t, replies[0].event.(*protocol.AvailabilityEvent).Available)
	assert.True(t, replies[1].event.(*protocol.AvailabilityEvent).Available)
}

func TestTransportCloseActsAsDisconnect(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")
	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	bc.reset()

	c.ConnectionClosed("conn-1")

	left := bc.ofType(protocol.EventTypeUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "alice", left[0].event.(*protocol.UserLeftEvent).Username)
	requireConsistent(t, c)

	// A duplicate close must not produce a second UserLeft.
	c.ConnectionClosed("conn-1")
	assert.Len(t, bc.ofType(protocol.EventTypeUserLeft), 1)
}

func TestTransportCloseWhileUnjoinedIsNoop(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")

	c.ConnectionClosed("conn-1")
	c.ConnectionClosed("conn-1")

	assert.Empty(t, bc.all())
}

func TestTransportCloseWhileDisconnectedIsNoop(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")
	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	handle(c, "conn-1", &protocol.DisconnectRequest{Username: "alice"})
	bc.reset()

	c.ConnectionClosed("conn-1")

	assert.Empty(t, bc.ofType(protocol.EventTypeUserLeft))
}

func TestReconnectFromFreshConnectionAfterDrop(t *testing.T) {
	c, bc, _ := newTestCoordinator()
	c.ConnectionOpened("conn-1")
	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	c.ConnectionClosed("conn-1")
	bc.reset()

	// The client redials; the new connection resumes the old identity.
	c.ConnectionOpened("conn-2")
	handle(c, "conn-2", &protocol.ReconnectRequest{Username: "alice"})

	rejoined := bc.ofType(protocol.EventTypeUserReconnected)
	require.Len(t, rejoined, 1)
	assert.Equal(t, "alice", rejoined[0].event.(*protocol.UserReconnectedEvent).Username)
	requireConsistent(t, c)
}

func TestPanicDuringTransitionIsRecovered(t *testing.T) {
	c, bc, store := newTestCoordinator()
	store.panicAll = true
	c.ConnectionOpened("conn-1")
	handle(c, "conn-1", &protocol.JoinRequest{Username: "alice"})
	bc.reset()

	handle(c, "conn-1", &protocol.SendMessageRequest{Text: "boom"})

	errs := bc.ofType(protocol.EventTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.ErrCodeInternal, errs[0].event.(*protocol.ErrorEvent).Code)
	requireConsistent(t, c)
}

func TestLifecycleSequencesKeepPresenceConsistent(t *testing.T) {
	c, _, _ := newTestCoordinator()

	steps := []func(){
		func() { c.ConnectionOpened("c1") },
		func() { handle(c, "c1", &protocol.JoinRequest{Username: "ann"}) },
		func() { c.ConnectionOpened("c2") },
		func() { handle(c, "c2", &protocol.JoinRequest{Username: "ben"}) },
		func() { handle(c, "c1", &protocol.DisconnectRequest{Username: "ann"}) },
		func() { c.ConnectionOpened("c3") },
		func() { handle(c, "c3", &protocol.JoinRequest{Username: "ann"}) },
		func() { handle(c, "c1", &protocol.ReconnectRequest{Username: "ann"}) },
		func() { handle(c, "c1", &protocol.RenameReconnectRequest{OldUsername: "ann", NewUsername: "ann2"}) },
		func() { c.ConnectionClosed("c2") },
		func() { c.ConnectionClosed("c2") },
		func() { handle(c, "c3", &protocol.DisconnectRequest{Username: "ann"}) },
		func() { c.ConnectionClosed("c3") },
	}

	for _, step := range steps {
		step()
		requireConsistent(t, c)
	}

	assert.Equal(t, []string{"ann2"}, c.registry.Snapshot())
}
