package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"nexthire/backend/internal/models"
	"nexthire/backend/pkg/ws"

	"github.com/gorilla/websocket"
)

type options struct {
	server   string
	token    string
	email    string
	password string
	to       string
	message  string
	history  bool
	listen   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.server, "server", "http://localhost:8081", "Chat backend base URL")
	flag.StringVar(&opts.token, "token", os.Getenv("CHAT_TOKEN"), "JWT to authenticate with (defaults to $CHAT_TOKEN)")
	flag.StringVar(&opts.email, "email", "", "Log in with this email instead of -token")
	flag.StringVar(&opts.password, "password", "", "Password for -email")
	flag.StringVar(&opts.to, "to", "", "Counterpart user id")
	flag.StringVar(&opts.message, "send", "", "Send one message to -to over REST and exit")
	flag.BoolVar(&opts.history, "history", false, "Print the conversation with -to and exit")
	flag.BoolVar(&opts.listen, "listen", false, "Open a live session; lines typed on stdin are sent to -to")
	helpPtr := flag.Bool("help", false, "Show usage information")
	flag.Parse()

	if *helpPtr || (opts.message == "" && !opts.history && !opts.listen) {
		fmt.Println("Chat CLI Usage:")
		fmt.Println("  -send TEXT -to ID    Send a message over REST")
		fmt.Println("  -history -to ID      Print the conversation with a user")
		fmt.Println("  -listen [-to ID]     Open a websocket session and chat interactively")
		fmt.Println("  -token JWT | -email E -password P")
		os.Exit(0)
	}

	if opts.token == "" && opts.email != "" {
		token, err := login(opts.server, opts.email, opts.password)
		if err != nil {
			log.Fatalf("Login failed: %v", err)
		}
		opts.token = token
	}
	if opts.token == "" {
		log.Fatal("A token is required: pass -token or -email/-password")
	}

	switch {
	case opts.message != "":
		if opts.to == "" {
			log.Fatal("-send requires -to")
		}
		msg, err := sendMessage(opts.server, opts.token, opts.to, opts.message)
		if err != nil {
			log.Fatalf("Send failed: %v", err)
		}
		fmt.Printf("Sent message %d at %s\n", msg.ID, msg.CreatedAt.Format(time.RFC3339))
	case opts.history:
		if opts.to == "" {
			log.Fatal("-history requires -to")
		}
		if err := printHistory(opts.server, opts.token, opts.to); err != nil {
			log.Fatalf("History failed: %v", err)
		}
	case opts.listen:
		runSession(opts)
	}
}

// websocketURL turns the REST base URL into the /ws endpoint carrying the token
func websocketURL(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

func doJSON(method, target, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("error response: %s, status: %d", string(bodyBytes), resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func login(server, email, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := doJSON(http.MethodPost, server+"/api/auth/login", "", models.LoginRequest{Email: email, Password: password}, &resp)
	return resp.Token, err
}

func sendMessage(server, token, to, content string) (*models.Message, error) {
	var resp struct {
		Message models.Message `json:"message"`
	}
	body := map[string]string{"recipientId": to, "content": content}
	if err := doJSON(http.MethodPost, server+"/api/chat/send", token, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

func printHistory(server, token, to string) error {
	var messages []models.Message
	if err := doJSON(http.MethodGet, server+"/api/chat/messages/"+url.PathEscape(to), token, nil, &messages); err != nil {
		return err
	}
	for _, m := range messages {
		fmt.Println(formatMessage(m))
	}
	return nil
}

func formatMessage(m models.Message) string {
	name := m.SenderID
	if m.Sender != nil && m.Sender.Name != "" {
		name = m.Sender.Name
	}
	status := ""
	if m.Read {
		status = " (read)"
	}
	return fmt.Sprintf("[%s] %s: %s%s", m.CreatedAt.Local().Format("15:04"), name, m.Content, status)
}

func writeFrame(conn *websocket.Conn, event string, data any) error {
	frame, err := ws.NewFrame(event, data)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func runSession(opts options) {
	target, err := websocketURL(opts.server, opts.token)
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}

	log.Println("Connecting to WebSocket...")
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		log.Fatalf("Error connecting to WebSocket: %v", err)
	}
	defer conn.Close()
	log.Println("Connected to WebSocket")

	if opts.to != "" {
		if err := writeFrame(conn, ws.EventJoinChat, map[string]string{"recipientId": opts.to}); err != nil {
			log.Fatalf("Error joining chat: %v", err)
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				log.Printf("WebSocket read error: %v", err)
				return
			}
			printFrame(raw)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	log.Println("Session is running. Type a message and press Enter, Ctrl+C to exit...")
	for {
		select {
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			line = strings.TrimSpace(line)
			if line == "" || opts.to == "" {
				continue
			}
			if err := writeFrame(conn, ws.EventSendMessage, map[string]string{"recipientId": opts.to, "content": line}); err != nil {
				log.Printf("Error sending message: %v", err)
				return
			}
		case <-ticker.C:
			if err := writeFrame(conn, ws.EventPing, nil); err != nil {
				log.Printf("Error writing ping: %v", err)
				return
			}
		case <-interrupt:
			log.Println("Interrupt received, shutting down...")
			err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Printf("Error during closing websocket: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}

func printFrame(raw []byte) {
	var f ws.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Printf("Error unmarshaling frame: %v", err)
		return
	}

	switch f.Event {
	case ws.EventReceiveMessage:
		var m models.Message
		if err := json.Unmarshal(f.Data, &m); err == nil {
			fmt.Println(formatMessage(m))
		}
	case ws.EventUserTyping, ws.EventUserStopTyping:
		var n ws.TypingNotice
		if err := json.Unmarshal(f.Data, &n); err == nil && f.Event == ws.EventUserTyping {
			who := n.Name
			if who == "" {
				who = n.UserID
			}
			fmt.Printf("%s is typing...\n", who)
		}
	case ws.EventMessagesRead:
		var r ws.MessagesRead
		if err := json.Unmarshal(f.Data, &r); err == nil {
			fmt.Printf("%s read your messages\n", r.ReaderID)
		}
	case ws.EventMessageError:
		var e ws.MessageError
		if err := json.Unmarshal(f.Data, &e); err == nil {
			fmt.Printf("error: %s\n", e.Error)
		}
	case ws.EventPong, ws.EventChatJoined, ws.EventNewMessageNotification:
	default:
		log.Printf("Unhandled event %q", f.Event)
	}
}
