package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/Surajsingh419/chat-system/pkg/channel"
	"github.com/Surajsingh419/chat-system/pkg/chatstate"
	"github.com/Surajsingh419/chat-system/pkg/config"
	"github.com/Surajsingh419/chat-system/pkg/model"
	"github.com/Surajsingh419/chat-system/pkg/session"
	"github.com/Surajsingh419/chat-system/pkg/upload"
)

// Outbound typing events stop after this much input inactivity.
const typingIdle = time.Second

type loginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

func login(apiAddr, userID, username string) (session.Session, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID, "username": username})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return session.Session{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return session.Session{}, fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return session.Session{}, err
	}

	return session.Session{Token: loginResp.Token, User: loginResp.User}, nil
}

// typingNotifier debounces outbound typing intents: the first touch starts
// typing, each touch rearms the idle timer, expiry or an explicit flush
// sends stop-typing.
type typingNotifier struct {
	mgr *chatstate.Manager

	mu     sync.Mutex
	timer  *time.Timer
	active bool
}

func (t *typingNotifier) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		t.active = true
		t.mgr.SetTyping(true)
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(typingIdle, t.Flush)
}

func (t *typingNotifier) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.active {
		t.active = false
		t.mgr.SetTyping(false)
	}
}

// renderer forwards channel events into the manager and prints whatever
// became visible. All display falls back gracefully on missing fields.
type renderer struct {
	mgr *chatstate.Manager
}

func (r *renderer) HandleConnect() {
	r.mgr.OnConnect()
	fmt.Print("\rconnected\n> ")
}

func (r *renderer) HandleDisconnect() {
	r.mgr.OnDisconnect()
	fmt.Print("\rdisconnected\n> ")
}

func (r *renderer) HandleConnectError(err error) {
	r.mgr.OnConnectError(err)
	fmt.Printf("\rconnection error: %v\n> ", err)
}

func (r *renderer) HandleAllUsers(users []model.User) {
	r.mgr.OnAllUsers(users)
}

func (r *renderer) HandleRecentMessages(h model.RecentMessages) {
	r.mgr.OnHistory(h)
	active, ok := r.mgr.ActiveChat()
	if !ok || active.ID != h.TargetUserID {
		return
	}
	msgs := r.mgr.Messages()
	fmt.Printf("\r--- %s (%d messages) ---\n", displayName(active.Username), len(msgs))
	for _, msg := range msgs {
		fmt.Println(formatMessage(msg))
	}
	fmt.Print("> ")
}

func (r *renderer) HandleMessage(msg model.Message) {
	before := len(r.mgr.Messages())
	r.mgr.OnMessage(msg)
	if len(r.mgr.Messages()) > before {
		fmt.Printf("\r%s\n> ", formatMessage(msg))
		return
	}
	if n := r.mgr.UnreadCounts()[msg.SenderID]; n > 0 {
		fmt.Printf("\r(%d unread from %s)\n> ", n, displayName(msg.SenderUsername))
	}
}

func (r *renderer) HandleTyping(ev model.TypingEvent) {
	r.mgr.OnTyping(ev.Username, ev.UserID)
	if len(r.mgr.TypingUsers()) > 0 {
		fmt.Printf("\r%s is typing...\n> ", displayName(ev.Username))
	}
}

func (r *renderer) HandleStopTyping(ev model.TypingEvent) {
	r.mgr.OnStopTyping(ev.Username, ev.UserID)
}

func displayName(username string) string {
	if username == "" {
		return "Unknown User"
	}
	return username
}

func formatMessage(msg model.Message) string {
	name := displayName(msg.SenderUsername)
	if msg.FileData != nil {
		label := msg.FileData.OriginalName
		if label == "" {
			label = msg.FileData.URL
		}
		if msg.Content != "" {
			return fmt.Sprintf("%s: [%s] %s", name, label, msg.Content)
		}
		return fmt.Sprintf("%s: [%s]", name, label)
	}
	return fmt.Sprintf("%s: %s", name, msg.Content)
}

func formatLastSeen(u model.User) string {
	if u.IsOnline {
		return "online"
	}
	if u.LastSeen == nil {
		return "offline"
	}
	return "last seen " + u.LastSeen.Local().Format("Jan 2 15:04")
}

func main() {
	userID := flag.String("user", "", "user id to log in as (omit to reuse the stored session)")
	username := flag.String("name", "", "display name (defaults to the user id)")
	flag.Parse()

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatal(err)
	}

	sessionPath := cfg.SessionPath
	if sessionPath == "" {
		sessionPath, err = session.DefaultPath()
		if err != nil {
			log.Fatal(err)
		}
	}
	store := session.NewStore(sessionPath)

	sess, err := store.Load()
	if *userID != "" {
		log.Printf("Logging in as %s...", *userID)
		sess, err = login(cfg.APIAddr, *userID, *username)
		if err != nil {
			log.Fatal("Login failed: ", err)
		}
		if err := store.Save(sess); err != nil {
			log.Printf("Could not persist session: %v", err)
		}
	} else if err != nil {
		log.Fatal("No stored session. Run again with -user <id> to log in.")
	}

	log.Printf("Connecting to %s as %s", cfg.GatewayURL, sess.User.Username)
	ch, err := channel.Dial(context.Background(), cfg.GatewayURL, sess.Token)
	if err != nil {
		if errors.Is(err, model.ErrAuthentication) {
			store.Clear()
			log.Fatal("Session rejected. Run again with -user <id> to log in.")
		}
		log.Fatal("dial: ", err)
	}

	mgr := chatstate.New(sess.User, ch, store)
	uploader := upload.New(cfg.APIAddr)
	notifier := &typingNotifier{mgr: mgr}
	ch.Start(&renderer{mgr: mgr})

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go runInput(mgr, uploader, notifier, interrupt)

	select {
	case <-interrupt:
		log.Println("interrupt")
		mgr.Logout()
	case <-mgr.LoggedOut():
		fmt.Println("logged out")
	}
}

func runInput(mgr *chatstate.Manager, uploader *upload.Client, notifier *typingNotifier, interrupt chan os.Signal) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		switch {
		case line == "/quit":
			close(interrupt)
			return

		case line == "/logout":
			mgr.Logout()
			return

		case line == "/users":
			counts := mgr.UnreadCounts()
			me := mgr.CurrentUser()
			for _, u := range mgr.Users() {
				if u.ID == me.ID {
					continue
				}
				badge := ""
				if n := counts[u.ID]; n > 0 {
					badge = fmt.Sprintf(" (%d unread)", n)
				}
				fmt.Printf("  %s (%s)%s\n", displayName(u.Username), formatLastSeen(u), badge)
			}

		case strings.HasPrefix(line, "/chat "):
			name := strings.TrimSpace(strings.TrimPrefix(line, "/chat "))
			var target *model.User
			for _, u := range mgr.Users() {
				if u.Username == name || u.ID == name {
					target = &u
					break
				}
			}
			if target == nil {
				fmt.Printf("no such user: %s\n", name)
				break
			}
			if err := mgr.SelectConversation(*target); err != nil {
				fmt.Printf("join failed: %v\n", err)
			}

		case strings.HasPrefix(line, "/file "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/file "))
			// One upload at a time; input blocks here until it resolves.
			fd, err := uploader.UploadFile(context.Background(), path)
			if err != nil {
				fmt.Printf("upload failed: %v\n", err)
				break
			}
			notifier.Flush()
			if err := mgr.SendMessage("", fd); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}

		case line == "/typing":
			notifier.Touch()

		default:
			notifier.Flush()
			if err := mgr.SendMessage(line, nil); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		}
		fmt.Print("> ")
	}
}
