package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/nbspibalcontin/ChatApplication/internal/client"
	"github.com/nbspibalcontin/ChatApplication/internal/protocol"
)

func main() {
	_ = godotenv.Load()

	viper.SetDefault("CHAT_SERVER_URL", "ws://localhost:5000/chathub")
	viper.AutomaticEnv()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	app := &consoleApp{
		scanner: bufio.NewScanner(os.Stdin),
		policy:  client.DefaultReconnectPolicy(),
	}
	app.chat = client.NewChatClient(viper.GetString("CHAT_SERVER_URL"), app.handlers(), logger)

	fmt.Println("Welcome to the simple chat application")

	if err := app.chat.Connect(context.Background()); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	app.run()
}

type consoleApp struct {
	chat    *client.ChatClient
	scanner *bufio.Scanner
	policy  client.ReconnectPolicy

	mu            sync.Mutex
	username      string
	joined        bool
	disconnected  bool
	recovering    bool
	pendingRename bool
}

func (a *consoleApp) handlers() client.Handlers {
	return client.Handlers{
		UserJoined: func(ev *protocol.UserJoinedEvent) {
			fmt.Printf("\nUser joined: %s\n", ev.Username)
			displayConnectedUsers(ev.Users)
		},
		UserLeft: func(ev *protocol.UserLeftEvent) {
			fmt.Printf("\nUser disconnected: %s\n", ev.Username)
			displayConnectedUsers(ev.Users)
		},
		UserReconnected: func(ev *protocol.UserReconnectedEvent) {
			fmt.Printf("\n%s reconnected with the room\n", ev.Username)
			displayConnectedUsers(ev.Users)
		},
		UserRenamed: func(ev *protocol.UserRenamedEvent) {
			fmt.Printf("\n%s reconnected with new name %s as the previous one was taken.\n",
				ev.OldUsername, ev.NewUsername)
			displayConnectedUsers(ev.Users)
		},
		Message: func(ev *protocol.MessageEvent) {
			fmt.Printf("\n%s %s: %s\n", ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.Username, ev.Text)
		},
		History: func(ev *protocol.HistoryEvent) {
			if len(ev.Messages) == 0 {
				fmt.Println("\nNo previous data found.")
				return
			}
			fmt.Println("\nPrevious Messages:")
			for _, msg := range ev.Messages {
				fmt.Printf("%s %s: %s\n", msg.Timestamp.Local().Format("2006-01-02 15:04:05"), msg.Username, msg.Body)
			}
		},
		NameTaken: func(ev *protocol.NameTakenEvent) {
			a.mu.Lock()
			recovering := a.recovering
			if recovering {
				a.pendingRename = true
			}
			a.mu.Unlock()

			if recovering {
				fmt.Printf("\nYour name %q was taken while you were away. Enter a new username:\n", ev.Username)
			} else {
				fmt.Println("\nUsername is already taken. Please choose another.")
			}
		},
		Error: func(ev *protocol.ErrorEvent) {
			fmt.Printf("\n%s\n", ev.Reason)
		},
		Closed: func(err error) {
			a.mu.Lock()
			joined := a.joined
			a.mu.Unlock()
			if !joined {
				return
			}
			fmt.Printf("\nConnection lost: %v\n", err)
			go a.recover()
		},
	}
}

// recover redials under the reconnect policy and resumes the session under
// the previous username.
func (a *consoleApp) recover() {
	a.mu.Lock()
	a.recovering = true
	username := a.username
	a.mu.Unlock()

	err := a.policy.Retry(context.Background(), func(ctx context.Context) error {
		return a.chat.Connect(ctx)
	})
	if err != nil {
		fmt.Printf("Could not reconnect: %v\n", err)
		os.Exit(1)
	}

	if err := a.chat.Reconnect(username); err != nil {
		fmt.Printf("Error: %v\n", err)
	}

	a.mu.Lock()
	a.recovering = false
	a.mu.Unlock()
}

func (a *consoleApp) run() {
	for {
		fmt.Println("Enter 1 to join the chat or type 'exit' to quit")
		input := strings.ToLower(strings.TrimSpace(a.readLine()))

		switch input {
		case "exit":
			if a.confirm("Are you sure you want to exit? (y/n)") {
				a.chat.Close()
				os.Exit(0)
			}
		case "1":
			a.joinChat()
		default:
			fmt.Println("Please input a valid value")
		}
	}
}

func (a *consoleApp) joinChat() {
	fmt.Print("Enter your username: ")
	username := strings.TrimSpace(a.readLine())

	if username == "" {
		fmt.Println("Username cannot be empty.")
		return
	}

	available, err := a.chat.CheckAvailable(context.Background(), username)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if !available {
		fmt.Println("\nUsername is already taken. Please choose another.")
		return
	}

	a.mu.Lock()
	prev := a.username
	disconnected := a.disconnected
	a.mu.Unlock()

	// Rejoining on the same connection after 'discon' resumes the session
	// rather than starting a new one.
	switch {
	case disconnected && username == prev:
		err = a.chat.Reconnect(username)
	case disconnected:
		err = a.chat.RenameReconnect(prev, username)
	default:
		err = a.chat.Join(username)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	a.mu.Lock()
	a.username = username
	a.joined = true
	a.disconnected = false
	a.mu.Unlock()

	fmt.Println("\nYou have joined the chat. Type 'p' to see previous messages. Type 'discon' to disconnect from the chat")
	a.chatLoop()
}

func (a *consoleApp) chatLoop() {
	for {
		fmt.Print(">")
		line := strings.TrimSpace(a.readLine())

		if line == "" {
			fmt.Println("Message cannot be empty.")
			continue
		}

		a.mu.Lock()
		pendingRename := a.pendingRename
		username := a.username
		a.mu.Unlock()

		if pendingRename {
			if err := a.chat.RenameReconnect(username, line); err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			a.mu.Lock()
			a.username = line
			a.pendingRename = false
			a.mu.Unlock()
			continue
		}

		switch strings.ToLower(line) {
		case "p":
			if err := a.chat.RequestHistory(); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		case "discon":
			if !a.confirm("Are you sure you want to disconnect? (y/n)") {
				continue
			}
			if err := a.chat.Disconnect(username); err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			a.mu.Lock()
			a.joined = false
			a.disconnected = true
			a.mu.Unlock()
			return
		default:
			if err := a.chat.SendMessage(line); err != nil {
				fmt.Printf("Failed to send message: %v\n", err)
			}
		}
	}
}

func (a *consoleApp) confirm(prompt string) bool {
	fmt.Println(prompt)
	return strings.ToLower(strings.TrimSpace(a.readLine())) == "y"
}

func (a *consoleApp) readLine() string {
	if !a.scanner.Scan() {
		a.chat.Close()
		os.Exit(0)
	}
	return a.scanner.Text()
}

func displayConnectedUsers(users []string) {
	if len(users) == 0 {
		fmt.Println("No users connected.")
		return
	}
	fmt.Println("Connected users:")
	for _, u := range users {
		fmt.Printf("- %s\n", u)
	}
}
