// realtimechat CLI - command line client for the room relay
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Ibragimm228/realtimechat/clients/go/relay"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client, err := relay.NewClient(os.Getenv("REALTIMECHAT_URL"))
	exitOnError(err)
	_ = client.LoadConfig()

	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "create":
		ttl, capacity := intArg(2), intArg(3)
		resp, err := client.CreateRoom(ttl, capacity)
		exitOnError(err)
		fmt.Println(resp.RoomID)

	case "join":
		roomID := requireArg(2, "join <room_id>")
		_, err := client.Join(roomID)
		exitOnError(err)
		exitOnError(client.SaveConfig())
		fmt.Printf("Joined %s\n", roomID)

	case "post":
		roomID := requireArg(2, "post <room_id> <sender> <ciphertext>")
		sender := requireArg(3, "post <room_id> <sender> <ciphertext>")
		text := requireArg(4, "post <room_id> <sender> <ciphertext>")
		exitOnError(client.PostMessage(roomID, sender, text))

	case "read":
		roomID := requireArg(2, "read <room_id>")
		messages, err := client.GetMessages(roomID)
		exitOnError(err)
		for _, msg := range messages {
			ts := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
			mine := ""
			if msg.Token != "" {
				mine = " (you)"
			}
			fmt.Printf("[%s] %s%s: %s  #%s\n", ts, msg.Sender, mine, msg.Text, msg.ID)
		}

	case "delete":
		roomID := requireArg(2, "delete <room_id> <message_id>")
		messageID := requireArg(3, "delete <room_id> <message_id>")
		exitOnError(client.DeleteMessage(roomID, messageID))

	case "ttl":
		roomID := requireArg(2, "ttl <room_id>")
		ttl, err := client.TTL(roomID)
		exitOnError(err)
		fmt.Printf("%ds\n", ttl)

	case "watch":
		roomID := requireArg(2, "watch <room_id>")
		err := client.Watch(roomID, func(evt relay.Event) bool {
			fmt.Printf("%s %s\n", evt.Event, evt.Data)
			return true
		})
		exitOnError(err)

	case "destroy":
		roomID := requireArg(2, "destroy <room_id>")
		exitOnError(client.Destroy(roomID))
		fmt.Printf("Destroyed %s\n", roomID)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`realtimechat CLI - ephemeral chat room relay

Usage: realtimechat <command> [options]

Commands:
  create [ttl] [capacity]               Create a room
  join <room>                           Join a room (stores your token)
  post <room> <sender> <ciphertext>     Post an encrypted message
  read <room>                           List room messages
  delete <room> <message_id>            Delete a message
  ttl <room>                            Show remaining room lifetime
  watch <room>                          Stream room events
  destroy <room>                        Destroy a room for everyone
  health                                Check server health

Environment:
  REALTIMECHAT_URL      Server URL (default: http://localhost:8080)
  REALTIMECHAT_CONFIG   Config directory (default: ~/.realtimechat)`)
}

func requireArg(i int, usageLine string) string {
	if len(os.Args) <= i {
		fmt.Fprintln(os.Stderr, "Usage: realtimechat "+usageLine)
		os.Exit(1)
	}
	return os.Args[i]
}

func intArg(i int) int {
	if len(os.Args) <= i {
		return 0
	}
	n, err := strconv.Atoi(os.Args[i])
	exitOnError(err)
	return n
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
