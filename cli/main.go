// Package main provides a terminal chat client for the relay WebSocket server.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

// ReadMessages reads and prints frames from the server.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			frame, err := c.Read()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}
			fmt.Printf("\n%s\n> ", Format(frame))
		}
	}
}

func main() {
	addr := flag.String("addr", "ws://localhost:5001/ws", "WebSocket server address")
	conversation := flag.String("conversation", "", "Conversation ID to join")
	role := flag.String("role", "seeker", "Sender role: seeker or provider")
	token := flag.String("token", "", "Participant token, required when the relay has auth enabled")
	flag.Parse()

	log.SetFlags(log.Ltime)

	if *conversation == "" {
		log.Fatal("-conversation is required")
	}

	fmt.Printf("Connecting to %s...\n", *addr)

	client, err := NewClient(*addr, *token)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if err := client.Join(*conversation); err != nil {
		log.Fatalf("Join failed: %v", err)
	}

	fmt.Printf("Session %s joined %s as %s\n", client.sessionID, *conversation, *role)
	fmt.Println("\nType a message and press Enter to send.")
	fmt.Println("Commands: /delete <id>, /leave, /quit")

	// Start reading messages in background
	go client.ReadMessages()

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		default:
			if !scanner.Scan() {
				return
			}

			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}

			switch {
			case input == "/quit":
				fmt.Println("Bye!")
				return
			case input == "/leave":
				if err := client.Leave(*conversation); err != nil {
					log.Printf("Leave error: %v", err)
				}
			case strings.HasPrefix(input, "/delete "):
				id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(input, "/delete ")), 10, 64)
				if err != nil {
					log.Printf("Invalid message id: %v", err)
					continue
				}
				if err := client.Delete(id); err != nil {
					log.Printf("Delete error: %v", err)
				}
			default:
				if err := client.Send(*conversation, *role, input); err != nil {
					log.Printf("Send error: %v", err)
				}
			}
		}
	}
}
