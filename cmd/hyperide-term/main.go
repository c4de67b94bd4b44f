package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hyperide/backend/client"
	"github.com/hyperide/backend/internal/broker"
	"github.com/hyperide/backend/internal/chat"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	username  string
	password  string
)

// textBuffer is the terminal stand-in for the editing widget. The value is
// printed whenever a remote update replaces it.
type textBuffer struct {
	mu    sync.Mutex
	value string
}

func (b *textBuffer) Value() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

func (b *textBuffer) SetValue(content string) {
	b.mu.Lock()
	b.value = content
	b.mu.Unlock()
	fmt.Printf("--- document ---\n%s\n----------------\n", content)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "hyperide-term",
		Short: "Terminal client for the collaborative workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Workspace server URL")
	rootCmd.PersistentFlags().StringVar(&username, "username", "", "Account name")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "Account password")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if username == "" || password == "" {
		return fmt.Errorf("--username and --password are required")
	}

	api := client.NewAPI(serverURL, nil)
	login, err := api.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	fmt.Printf("logged in as %s (%s)\n", login.Username, login.Role)

	session, err := client.Dial(ctx, serverURL, login.AccessToken)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer session.Close()

	editor := &textBuffer{}
	synchronizer := client.NewSynchronizer(client.SynchronizerConfig{
		Editor:  editor,
		Channel: session,
		User:    login.Username,
		Role:    login.Role,
		OnAlert: func(message string) { fmt.Println(message) },
	})
	controller := client.NewController(client.ControllerConfig{
		API:     api,
		Channel: session,
		Sync:    synchronizer,
		User:    login.Username,
		Role:    login.Role,
		OnFileList: func(paths []string) {
			fmt.Printf("files: %s\n", strings.Join(paths, ", "))
		},
		OnChat: func(message chat.Message) {
			fmt.Printf("[%s] %s: %s\n", message.Timestamp, message.Sender, message.Content)
		},
		OnPresence: func(snapshot map[string]string) {
			for user, file := range snapshot {
				fmt.Printf("presence: %s -> %s\n", user, file)
			}
		},
	})

	if err := controller.RefreshFiles(ctx); err != nil {
		return err
	}

	go func() {
		err := session.Listen(func(message broker.Message) {
			controller.HandleMessage(ctx, message)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "connection closed: %v\n", err)
			os.Exit(1)
		}
	}()

	fmt.Println("commands: /open <path>, /create <name>, /delete <path>, anything else is chat")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/open "):
			if err := controller.Activate(ctx, strings.TrimPrefix(line, "/open ")); err != nil {
				fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
			}
		case strings.HasPrefix(line, "/create "):
			if err := controller.CreateFile(strings.TrimPrefix(line, "/create ")); err != nil {
				fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			}
		case strings.HasPrefix(line, "/delete "):
			if err := controller.DeleteFile(strings.TrimPrefix(line, "/delete ")); err != nil {
				fmt.Fprintf(os.Stderr, "delete failed: %v\n", err)
			}
		default:
			if err := controller.SendChat(line); err != nil {
				fmt.Fprintf(os.Stderr, "chat failed: %v\n", err)
			}
		}
	}
	return scanner.Err()
}
