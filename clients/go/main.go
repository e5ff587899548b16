// Kayan CLI - command line client for Kayan Connect messaging
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/ronitzkoai/KayanConnectApp-sub001/clients/go/kayan"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := kayan.NewClient(os.Getenv("KAYAN_URL"))
	args := os.Args[2:]

	switch os.Args[1] {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "register":
		need(args, 1, "register <display_name> [avatar_url]")
		avatar := ""
		if len(args) > 1 {
			avatar = args[1]
		}
		resp, err := client.Register(ctx, args[0], avatar)
		exitOnError(err)
		fmt.Printf("Registered as: %s\n", resp.ID)

	case "who":
		need(args, 1, "who <user_id>")
		resp, err := client.Who(ctx, args[0])
		exitOnError(err)
		printJSON(resp)

	case "conversations":
		list, err := client.Conversations(ctx)
		exitOnError(err)
		for _, c := range list {
			preview := ""
			if c.LastMessage != nil {
				preview = c.LastMessage.Content
			}
			fmt.Printf("  %s  %-24s (%d unread)  %s\n", c.ID, c.Other.DisplayName, c.UnreadCount, preview)
		}

	case "open":
		need(args, 1, "open <user_id>")
		id, created, err := client.StartConversation(ctx, args[0])
		exitOnError(err)
		if created {
			fmt.Printf("Started conversation: %s\n", id)
		} else {
			fmt.Printf("Conversation: %s\n", id)
		}

	case "read":
		conv := kayan.GlobalConversation
		if len(args) > 0 {
			conv = args[0]
		}
		msgs, err := client.Messages(ctx, conv)
		exitOnError(err)
		for _, m := range msgs {
			printMessage(m)
		}

	case "send":
		need(args, 2, "send <conversation_id> <message>")
		msg, err := client.Send(ctx, args[0], args[1])
		exitOnError(err)
		fmt.Printf("Sent: %s\n", msg.ID)

	case "react":
		need(args, 2, "react <message_id> <emoji>")
		present, summaries, err := client.React(ctx, args[0], args[1])
		exitOnError(err)
		if present {
			fmt.Println("Reaction added")
		} else {
			fmt.Println("Reaction removed")
		}
		for _, s := range summaries {
			fmt.Printf("  %s %d\n", s.Emoji, s.Count)
		}

	case "follow":
		need(args, 1, "follow <conversation_id>")
		follow(ctx, client, args[0])

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

// follow prints a thread and every message that arrives until interrupted.
func follow(ctx context.Context, client *kayan.Client, conversationID string) {
	stream, err := client.OpenStream(ctx, "thread", conversationID)
	exitOnError(err)
	defer stream.Close()

	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	printed := make(map[string]bool)
	for {
		f, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			exitOnError(err)
		}
		if f.Type != "thread" {
			continue
		}
		var msgs []models.ThreadMessage
		if err := json.Unmarshal(f.Data, &msgs); err != nil {
			continue
		}
		for _, m := range msgs {
			if !printed[m.ID.String()] {
				printed[m.ID.String()] = true
				printMessage(m)
			}
		}
	}
}

func printMessage(m models.ThreadMessage) {
	ts := m.CreatedAt.Local().Format("2006-01-02 15:04:05")
	read := " "
	if m.IsRead {
		read = "✓"
	}
	fmt.Printf("[%s] %s %s: %s\n", ts, read, m.SenderName, m.Content)
}

func usage() {
	fmt.Println(`Kayan CLI - Kayan Connect messaging

Usage: kayan <command> [options]

Commands:
  register <name> [avatar]       Register a new profile
  who <user_id>                  Get a profile
  conversations                  List your conversations
  open <user_id>                 Find or start a conversation
  read [conversation_id]         Read a thread (global by default)
  send <conversation_id> <text>  Send a message
  react <message_id> <emoji>     Toggle a reaction
  follow <conversation_id>       Print messages as they arrive
  health                         Check server health

Environment:
  KAYAN_URL      Server URL (default: http://localhost:8080)
  KAYAN_CONFIG   Config directory (default: ~/.kayan)`)
}

func need(args []string, n int, usageLine string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "Usage: kayan "+usageLine)
		os.Exit(1)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
