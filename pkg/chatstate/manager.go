// Package chatstate owns the client-side conversation state: the active
// chat's message thread, the typing set and per-user unread counters. It is
// the single authority translating channel events and local intents into
// that state; rendering layers only read snapshots.
package chatstate

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/Surajsingh419/chat-system/pkg/model"
)

var (
	// ErrNoActiveChat is returned by intents that need a selected
	// conversation partner.
	ErrNoActiveChat = errors.New("no active chat selected")

	// ErrEmptyMessage is returned when a send carries neither content nor
	// an attachment. Rejected locally, nothing reaches the channel.
	ErrEmptyMessage = errors.New("message has no content or attachment")
)

// Channel is the outbound half of the messaging channel. pkg/channel
// implements it; tests inject a fake.
type Channel interface {
	JoinPrivateChat(targetUserID string, nonce uint64) error
	SendMessage(out model.SendMessage) error
	Typing(targetUserID string) error
	StopTyping(targetUserID string) error
	RequestAllUsers() error
	Close() error
}

// CredentialStore is the slice of the session store the manager needs:
// purging credentials on logout or authentication failure.
type CredentialStore interface {
	Clear() error
}

// Manager routes inbound channel events to conversation state and forwards
// local intents to the channel. Safe for use from the channel's read
// goroutine and the caller's goroutine concurrently; events are applied in
// arrival order.
type Manager struct {
	ch    Channel
	creds CredentialStore

	mu        sync.Mutex
	current   model.User
	users     []model.User
	active    *model.User
	messages  []model.Message
	seen      map[int64]struct{}
	typing    map[string]struct{}
	unread    map[string]int
	connected bool
	// historyGen tags joinPrivateChat intents; a recentMessages push only
	// lands when its echoed nonce still matches.
	historyGen uint64

	logoutOnce sync.Once
	loggedOut  chan struct{}
}

func New(current model.User, ch Channel, creds CredentialStore) *Manager {
	return &Manager{
		ch:        ch,
		creds:     creds,
		current:   current,
		seen:      make(map[int64]struct{}),
		typing:    make(map[string]struct{}),
		unread:    make(map[string]int),
		loggedOut: make(chan struct{}),
	}
}

// SelectConversation makes user the active chat. The user's unread entry is
// removed (not zeroed), the thread and typing set are cleared pending the
// history push, and a subscribe intent is sent. Re-selecting the already
// active user behaves the same way.
func (m *Manager) SelectConversation(user model.User) error {
	m.mu.Lock()
	delete(m.unread, user.ID)
	u := user
	m.active = &u
	m.messages = nil
	m.seen = make(map[int64]struct{})
	m.typing = make(map[string]struct{})
	m.historyGen++
	nonce := m.historyGen
	m.mu.Unlock()

	return m.ch.JoinPrivateChat(user.ID, nonce)
}

// SendMessage forwards a send intent for the active chat. Content is
// trimmed; the message type is derived from the attachment's mimetype. The
// thread is not updated here: the sender sees the message when the channel
// echoes it back, through the same path as the recipient.
func (m *Manager) SendMessage(content string, fileData *model.FileData) error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active == nil {
		return ErrNoActiveChat
	}
	content = strings.TrimSpace(content)
	if content == "" && fileData == nil {
		return ErrEmptyMessage
	}

	return m.ch.SendMessage(model.SendMessage{
		Content:      content,
		MessageType:  model.DeriveType(fileData),
		FileData:     fileData,
		TargetUserID: active.ID,
	})
}

// SetTyping emits a typing or stop-typing intent scoped to the active chat.
// No-op without one. Debouncing is the caller's job; the manager holds no
// timer.
func (m *Manager) SetTyping(isTyping bool) error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active == nil {
		return nil
	}
	if isTyping {
		return m.ch.Typing(active.ID)
	}
	return m.ch.StopTyping(active.ID)
}

// OnMessage routes one inbound message. It belongs to the active
// conversation iff it travels between the current user and the active chat
// partner, in either direction; then it is appended in arrival order.
// Otherwise an attributable message from someone else bumps that sender's
// unread counter, and anything left (own echo for a non-active conversation,
// or an unattributable payload) is dropped.
func (m *Manager) OnMessage(msg model.Message) {
	msg = msg.Normalized()

	m.mu.Lock()
	defer m.mu.Unlock()

	forActive := m.active != nil &&
		((msg.SenderID == m.active.ID && msg.ReceiverID == m.current.ID) ||
			(msg.SenderID == m.current.ID && msg.ReceiverID == m.active.ID))

	switch {
	case forActive:
		// Redelivered messages are identical by ID; keep one.
		if msg.ID != 0 {
			if _, dup := m.seen[msg.ID]; dup {
				return
			}
			m.seen[msg.ID] = struct{}{}
		}
		m.messages = append(m.messages, msg)
	case msg.SenderID != "" && msg.SenderID != m.current.ID && msg.SenderUsername != m.current.Username:
		// Sender checked by id and by username: partial sender objects
		// must not count our own messages as unread.
		m.unread[msg.SenderID]++
	}
}

// OnHistory replaces the thread with a pushed history. Late pushes for a
// since-abandoned selection are discarded: the target must still be the
// active chat and the echoed nonce must match the current generation.
func (m *Manager) OnHistory(h model.RecentMessages) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || h.TargetUserID != m.active.ID || h.Nonce != m.historyGen {
		return
	}

	m.messages = nil
	m.seen = make(map[int64]struct{})
	for _, raw := range h.Messages {
		msg := raw.Normalized()
		if msg.ID != 0 {
			if _, dup := m.seen[msg.ID]; dup {
				continue
			}
			m.seen[msg.ID] = struct{}{}
		}
		m.messages = append(m.messages, msg)
	}
}

// OnAllUsers replaces the known-users snapshot. The active chat is
// re-resolved by id so its presence fields stay current; if it vanished from
// the snapshot the stale record is kept, disappearing from presence does not
// end the conversation.
func (m *Manager) OnAllUsers(users []model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users = append([]model.User(nil), users...)
	if m.active == nil {
		return
	}
	for _, u := range users {
		if u.ID == m.active.ID {
			upd := u
			m.active = &upd
			return
		}
	}
}

// OnTyping adds username to the typing set when the event targets the
// active chat.
func (m *Manager) OnTyping(username, forUserID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || forUserID != m.active.ID || username == "" {
		return
	}
	m.typing[username] = struct{}{}
}

// OnStopTyping removes username from the typing set, with the same
// active-chat guard as OnTyping.
func (m *Manager) OnStopTyping(username, forUserID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || forUserID != m.active.ID {
		return
	}
	delete(m.typing, username)
}

// OnConnect marks the channel live and requests a fresh presence snapshot,
// covering both first connect and the channel's own reconnects.
func (m *Manager) OnConnect() {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()

	// Best effort; routing stays correct without a fresh snapshot.
	m.ch.RequestAllUsers()
}

// OnDisconnect marks the channel dead. No state is dropped and nothing is
// queued for replay.
func (m *Manager) OnDisconnect() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

// OnConnectError handles a channel-level error. Authentication failures are
// fatal to the session: credentials are purged and the logged-out signal is
// raised for the caller to navigate away. Anything else only flips the
// connected flag.
func (m *Manager) OnConnectError(err error) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()

	if errors.Is(err, model.ErrAuthentication) {
		if m.creds != nil {
			m.creds.Clear()
		}
		m.signalLogout()
	}
}

// Logout tears down the channel, clears all conversation state, purges the
// stored credentials and raises the logged-out signal.
func (m *Manager) Logout() error {
	err := m.ch.Close()

	m.mu.Lock()
	m.active = nil
	m.users = nil
	m.messages = nil
	m.seen = make(map[int64]struct{})
	m.typing = make(map[string]struct{})
	m.unread = make(map[string]int)
	m.connected = false
	m.mu.Unlock()

	if m.creds != nil {
		if cerr := m.creds.Clear(); err == nil {
			err = cerr
		}
	}
	m.signalLogout()
	return err
}

// LoggedOut is closed once the session ends, by Logout or by an
// authentication failure. Callers use it to return to the login view.
func (m *Manager) LoggedOut() <-chan struct{} {
	return m.loggedOut
}

func (m *Manager) signalLogout() {
	m.logoutOnce.Do(func() { close(m.loggedOut) })
}

// CurrentUser returns the authenticated user this manager routes for.
func (m *Manager) CurrentUser() model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// ActiveChat returns the selected conversation partner, if any.
func (m *Manager) ActiveChat() (model.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return model.User{}, false
	}
	return *m.active, true
}

// Messages returns a copy of the active thread in arrival order.
func (m *Manager) Messages() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Message(nil), m.messages...)
}

// Users returns a copy of the last presence snapshot.
func (m *Manager) Users() []model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.User(nil), m.users...)
}

// TypingUsers returns the usernames currently typing in the active chat,
// sorted for stable display.
func (m *Manager) TypingUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.typing))
	for name := range m.typing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnreadCounts returns a copy of the per-user unread counters. Users with
// no pending messages have no entry.
func (m *Manager) UnreadCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int, len(m.unread))
	for id, n := range m.unread {
		counts[id] = n
	}
	return counts
}

// Connected reports the channel's live/dead status. Display only; routing
// does not depend on it.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
