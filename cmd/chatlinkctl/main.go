package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AdrenalinApprizal/chatlink/internal/api"
	"github.com/AdrenalinApprizal/chatlink/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(session.SocketPath(sessionName))

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "health":
		cmdHealth(c)
	case "queue":
		cmdQueue(c, *jsonFlag)
	case "messages":
		cmdMessages(c, *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: chatlinkctl send <recipient-id> <text...>")
			os.Exit(1)
		}
		cmdSend(c, args[1], strings.Join(args[2:], " "))
	case "typing":
		if len(args) < 3 || (args[2] != "on" && args[2] != "off") {
			fmt.Fprintln(os.Stderr, "usage: chatlinkctl typing <recipient-id> <on|off>")
			os.Exit(1)
		}
		cmdTyping(c, args[1], args[2] == "on")
	case "reconnect":
		cmdReconnect(c)
	case "subscribe":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatlinkctl subscribe <channel>")
			os.Exit(1)
		}
		cmdSubscribe(c, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatlinkctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                        Show connection status")
	fmt.Fprintln(os.Stderr, "  health                        Show last health report")
	fmt.Fprintln(os.Stderr, "  queue                         Show queued outbound messages")
	fmt.Fprintln(os.Stderr, "  messages                      List reconciled messages")
	fmt.Fprintln(os.Stderr, "  send <recipient> <text>       Send a chat message")
	fmt.Fprintln(os.Stderr, "  typing <recipient> <on|off>   Send a typing indicator")
	fmt.Fprintln(os.Stderr, "  reconnect                     Force both channels to reconnect")
	fmt.Fprintln(os.Stderr, "  subscribe <channel>           Subscribe to a presence channel")
}

type client struct {
	http       *http.Client
	socketPath string
}

func newClient(socketPath string) *client {
	return &client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 10 * time.Second,
		},
		socketPath: socketPath,
	}
}

func (c *client) do(method, path string, body, out any) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://unix"+path, reader)
	if err != nil {
		fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.socketPath, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		fmt.Fprintf(os.Stderr, "error: %s\n", apiErr.Error)
		os.Exit(1)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fatal(err)
		}
	}
}

func cmdStatus(c *client, jsonOut bool) {
	var resp api.StatusResponse
	c.do(http.MethodGet, "/v1/status", nil, &resp)
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session: %s\n", resp.Session)
	fmt.Printf("Uptime:  %dms\n", resp.UptimeMS)
	fmt.Printf("Quality: %s\n", resp.Snapshot.Quality)
	for ch, st := range resp.Snapshot.Channels {
		line := fmt.Sprintf("%-9s %s", ch, st.State)
		if st.Attempts > 0 {
			line += fmt.Sprintf(" (attempt %d)", st.Attempts)
		}
		if st.LastError != "" {
			line += " - " + st.LastError
		}
		fmt.Println(line)
	}
	fmt.Printf("Queued:  %d\n", resp.Snapshot.QueueDepth)
}

func cmdHealth(c *client) {
	var resp json.RawMessage
	c.do(http.MethodGet, "/v1/health?fresh=1", nil, &resp)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resp, "", "  "); err != nil {
		fatal(err)
	}
	fmt.Println(pretty.String())
}

func cmdQueue(c *client, jsonOut bool) {
	var resp api.QueueResponse
	c.do(http.MethodGet, "/v1/queue", nil, &resp)
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Depth: %d\n", resp.Depth)
	for _, e := range resp.Entries {
		fmt.Printf("  %s %s -> %s retries=%d enqueued=%s\n",
			e.Message.Type, e.Message.SenderID, e.Message.RecipientID,
			e.RetryCount, time.UnixMilli(e.EnqueuedAt).Format(time.RFC3339))
	}
}

func cmdMessages(c *client, jsonOut bool) {
	var resp api.MessagesResponse
	c.do(http.MethodGet, "/v1/messages", nil, &resp)
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, m := range resp.Messages {
		marker := " "
		if m.Pending {
			marker = "*"
		}
		fmt.Printf("%s [%s] %s: %s\n", marker, m.Timestamp, m.SenderID, m.Content)
	}
}

func cmdSend(c *client, recipient, text string) {
	var resp api.SendMessageResponse
	c.do(http.MethodPost, "/v1/messages", api.SendMessageRequest{RecipientID: recipient, Content: text}, &resp)
	if resp.Pending {
		fmt.Printf("queued %s\n", resp.TempID)
	} else {
		fmt.Printf("sent %s\n", resp.TempID)
	}
}

func cmdTyping(c *client, recipient string, typing bool) {
	c.do(http.MethodPost, "/v1/typing", api.TypingRequest{RecipientID: recipient, Typing: typing}, nil)
}

func cmdReconnect(c *client) {
	c.do(http.MethodPost, "/v1/reconnect", nil, nil)
	fmt.Println("reconnect requested")
}

func cmdSubscribe(c *client, channel string) {
	c.do(http.MethodPost, "/v1/subscriptions", api.SubscriptionRequest{Channel: channel}, nil)
	fmt.Printf("subscribed to %s\n", channel)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
