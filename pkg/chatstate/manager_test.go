package chatstate

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Surajsingh419/chat-system/pkg/model"
)

type fakeChannel struct {
	mu           sync.Mutex
	joins        []model.JoinPrivateChat
	sends        []model.SendMessage
	typingTo     []string
	stopTypingTo []string
	userRequests int
	closed       bool
}

func (f *fakeChannel) JoinPrivateChat(targetUserID string, nonce uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, model.JoinPrivateChat{TargetUserID: targetUserID, Nonce: nonce})
	return nil
}

func (f *fakeChannel) SendMessage(out model.SendMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, out)
	return nil
}

func (f *fakeChannel) Typing(targetUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingTo = append(f.typingTo, targetUserID)
	return nil
}

func (f *fakeChannel) StopTyping(targetUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopTypingTo = append(f.stopTypingTo, targetUserID)
	return nil
}

func (f *fakeChannel) RequestAllUsers() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userRequests++
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) outboundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.joins) + len(f.sends) + len(f.typingTo) + len(f.stopTypingTo) + f.userRequests
}

type fakeCreds struct {
	mu      sync.Mutex
	cleared int
}

func (f *fakeCreds) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

var (
	me    = model.User{ID: "1", Username: "me"}
	alice = model.User{ID: "2", Username: "alice"}
	bob   = model.User{ID: "3", Username: "bob"}
)

func newManager(t *testing.T) (*Manager, *fakeChannel, *fakeCreds) {
	t.Helper()
	ch := &fakeChannel{}
	creds := &fakeCreds{}
	return New(me, ch, creds), ch, creds
}

func textMessage(id int64, from, to model.User, content string) model.Message {
	return model.Message{
		ID:             id,
		SenderID:       from.ID,
		ReceiverID:     to.ID,
		SenderUsername: from.Username,
		Content:        content,
		CreatedAt:      time.Now(),
	}
}

func TestSelectConversationRemovesUnreadEntry(t *testing.T) {
	m, ch, _ := newManager(t)

	m.OnMessage(textMessage(10, alice, me, "hi"))
	if got := m.UnreadCounts()[alice.ID]; got != 1 {
		t.Fatalf("unread for alice = %d, want 1", got)
	}

	if err := m.SelectConversation(alice); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	// The entry must be gone, not present with a zero value.
	if _, ok := m.UnreadCounts()[alice.ID]; ok {
		t.Fatal("unread entry for alice still present after selection")
	}
	if len(ch.joins) != 1 || ch.joins[0].TargetUserID != alice.ID {
		t.Fatalf("joins = %+v, want one join for alice", ch.joins)
	}
}

func TestSelectConversationClearsTransientState(t *testing.T) {
	m, _, _ := newManager(t)

	m.SelectConversation(alice)
	m.OnMessage(textMessage(10, alice, me, "hi"))
	m.OnTyping(alice.Username, alice.ID)

	// Re-selecting the same user still clears thread and typing set.
	m.SelectConversation(alice)
	if got := len(m.Messages()); got != 0 {
		t.Fatalf("messages after reselect = %d, want 0", got)
	}
	if got := len(m.TypingUsers()); got != 0 {
		t.Fatalf("typing users after reselect = %d, want 0", got)
	}
}

func TestMessageFromActivePartnerAppends(t *testing.T) {
	m, _, _ := newManager(t)
	m.SelectConversation(alice)

	msg := textMessage(10, alice, me, "hi")
	m.OnMessage(msg)

	msgs := m.Messages()
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Fatalf("messages = %+v, want exactly the received message", msgs)
	}
	if len(m.UnreadCounts()) != 0 {
		t.Fatalf("unread counts = %v, want empty", m.UnreadCounts())
	}
}

func TestOwnEchoForActiveChatAppends(t *testing.T) {
	m, _, _ := newManager(t)
	m.SelectConversation(alice)

	// The sender observes their own message through the echo path.
	m.OnMessage(textMessage(11, me, alice, "hello alice"))
	if got := len(m.Messages()); got != 1 {
		t.Fatalf("messages = %d, want 1", got)
	}
	if len(m.UnreadCounts()) != 0 {
		t.Fatalf("unread counts = %v, want empty", m.UnreadCounts())
	}
}

func TestMessageFromOtherUserIncrementsUnread(t *testing.T) {
	m, _, _ := newManager(t)
	m.SelectConversation(alice)

	m.OnMessage(textMessage(12, bob, me, "yo"))

	if got := len(m.Messages()); got != 0 {
		t.Fatalf("messages = %d, want 0", got)
	}
	if got := m.UnreadCounts()[bob.ID]; got != 1 {
		t.Fatalf("unread for bob = %d, want 1", got)
	}
}

func TestOwnEchoForOtherConversationDropped(t *testing.T) {
	m, _, _ := newManager(t)
	m.SelectConversation(alice)

	// Own message toward bob while alice is active: neither appended nor
	// counted.
	m.OnMessage(textMessage(13, me, bob, "later"))
	if got := len(m.Messages()); got != 0 {
		t.Fatalf("messages = %d, want 0", got)
	}
	if len(m.UnreadCounts()) != 0 {
		t.Fatalf("unread counts = %v, want empty", m.UnreadCounts())
	}
}

func TestUnattributableMessageDropped(t *testing.T) {
	m, _, _ := newManager(t)
	m.SelectConversation(alice)

	m.OnMessage(model.Message{ID: 14, Content: "??", ReceiverID: me.ID})
	if got := len(m.Messages()); got != 0 {
		t.Fatalf("messages = %d, want 0", got)
	}
	if len(m.UnreadCounts()) != 0 {
		t.Fatalf("unread counts = %v, want empty", m.UnreadCounts())
	}
}

func TestNestedSenderShapeAccepted(t *testing.T) {
	m, _, _ := newManager(t)
	m.SelectConversation(alice)

	m.OnMessage(model.Message{
		ID:       15,
		Sender:   &model.UserRef{ID: alice.ID, Username: alice.Username},
		Receiver: &model.UserRef{ID: me.ID, Username: me.Username},
		Content:  "nested shape",
	})

	msgs := m.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].SenderID != alice.ID || msgs[0].SenderUsername != alice.Username {
		t.Fatalf("stored message not normalized: %+v", msgs[0])
	}
}

// The web client this behavior was lifted from appended redelivered
// messages twice; duplicates are now dropped by ID, a deliberate divergence.
func TestDuplicateRedeliveryKeptOnce(t *testing.T) {
	m, _, _ := newManager(t)
	m.SelectConversation(alice)

	msg := textMessage(16, alice, me, "once")
	m.OnMessage(msg)
	m.OnMessage(msg)

	if got := len(m.Messages()); got != 1 {
		t.Fatalf("messages = %d, want 1 after duplicate delivery", got)
	}
}

func TestSendMessageWithoutActiveChatRejectedLocally(t *testing.T) {
	m, ch, _ := newManager(t)

	if err := m.SendMessage("hello", nil); !errors.Is(err, ErrNoActiveChat) {
		t.Fatalf("err = %v, want ErrNoActiveChat", err)
	}
	if ch.outboundCount() != 0 {
		t.Fatal("rejected send still reached the channel")
	}
}

func TestSendMessageEmptyContentRejectedLocally(t *testing.T) {
	m, ch, _ := newManager(t)
	m.SelectConversation(alice)
	before := ch.outboundCount()

	for _, content := range []string{"", "   ", "\n\t"} {
		if err := m.SendMessage(content, nil); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("SendMessage(%q) err = %v, want ErrEmptyMessage", content, err)
		}
	}
	if ch.outboundCount() != before {
		t.Fatal("rejected sends still reached the channel")
	}
}

func TestSendMessageTrimsAndTargetsActiveChat(t *testing.T) {
	m, ch, _ := newManager(t)
	m.SelectConversation(alice)

	if err := m.SendMessage("  hi there  ", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if len(ch.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(ch.sends))
	}
	out := ch.sends[0]
	if out.Content != "hi there" || out.TargetUserID != alice.ID || out.MessageType != model.TypeText {
		t.Fatalf("send intent = %+v", out)
	}
	// No optimistic append: the thread stays empty until the echo arrives.
	if got := len(m.Messages()); got != 0 {
		t.Fatalf("messages after send = %d, want 0", got)
	}
}

func TestSendMessageDerivesTypeFromAttachment(t *testing.T) {
	m, ch, _ := newManager(t)
	m.SelectConversation(alice)

	tests := []struct {
		mimetype string
		want     model.MessageType
	}{
		{"image/png", model.TypeImage},
		{"image/jpeg", model.TypeImage},
		{"application/pdf", model.TypeFile},
		{"text/plain", model.TypeFile},
	}
	for _, tt := range tests {
		fd := &model.FileData{URL: "/uploads/x", OriginalName: "x", Mimetype: tt.mimetype, Size: 1}
		if err := m.SendMessage("", fd); err != nil {
			t.Fatalf("SendMessage(%s): %v", tt.mimetype, err)
		}
		out := ch.sends[len(ch.sends)-1]
		if out.MessageType != tt.want {
			t.Errorf("mimetype %s: type = %s, want %s", tt.mimetype, out.MessageType, tt.want)
		}
	}
}

func TestSetTypingWithoutActiveChatIsNoOp(t *testing.T) {
	m, ch, _ := newManager(t)

	if err := m.SetTyping(true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if ch.outboundCount() != 0 {
		t.Fatal("typing intent sent without an active chat")
	}
}

func TestSetTypingScopedToActiveChat(t *testing.T) {
	m, ch, _ := newManager(t)
	m.SelectConversation(alice)

	m.SetTyping(true)
	m.SetTyping(false)

	if len(ch.typingTo) != 1 || ch.typingTo[0] != alice.ID {
		t.Fatalf("typing intents = %v", ch.typingTo)
	}
	if len(ch.stopTypingTo) != 1 || ch.stopTypingTo[0] != alice.ID {
		t.Fatalf("stop-typing intents = %v", ch.stopTypingTo)
	}
}

func TestTypingThenStopTypingEmptiesSet(t *testing.T) {
	m, _, _ := newManager(t)
	m.SelectConversation(alice)

	m.OnTyping(alice.Username, alice.ID)
	if got := m.TypingUsers(); len(got) != 1 || got[0] != alice.Username {
		t.Fatalf("typing users = %v", got)
	}

	m.OnStopTyping(alice.Username, alice.ID)
	if got := m.TypingUsers(); len(got) != 0 {
		t.Fatalf("typing users after stop = %v, want empty", got)
	}
}

func TestTypingSetHasSetSemantics(t *testing.T) {
	m, _, _ := newManager(t)
	m.SelectConversation(alice)

	m.OnTyping(alice.Username, alice.ID)
	m.OnTyping(alice.Username, alice.ID)
	if got := m.TypingUsers(); len(got) != 1 {
		t.Fatalf("typing users = %v, want one entry", got)
	}
}

// One observed variant of the source behavior dropped the active-chat guard
// on stop-typing only; the guard is applied symmetrically here.
func TestStopTypingGuardMatchesTypingGuard(t *testing.T) {
	m, _, _ := newManager(t)
	m.SelectConversation(alice)
	m.OnTyping(alice.Username, alice.ID)

	// Typing event for a non-active conversation: ignored on both sides.
	m.OnTyping(bob.Username, bob.ID)
	m.OnStopTyping(alice.Username, bob.ID)

	if got := m.TypingUsers(); len(got) != 1 || got[0] != alice.Username {
		t.Fatalf("typing users = %v, want [alice]", got)
	}
}

func TestHistoryReplacesThreadForActiveChat(t *testing.T) {
	m, ch, _ := newManager(t)
	m.SelectConversation(alice)

	m.OnHistory(model.RecentMessages{
		TargetUserID: alice.ID,
		Nonce:        ch.joins[0].Nonce,
		Messages: []model.Message{
			textMessage(1, alice, me, "old 1"),
			textMessage(2, me, alice, "old 2"),
		},
	})

	msgs := m.Messages()
	if len(msgs) != 2 || msgs[0].ID != 1 || msgs[1].ID != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestStaleHistoryDiscarded(t *testing.T) {
	m, ch, _ := newManager(t)

	m.SelectConversation(alice)
	staleNonce := ch.joins[0].Nonce
	m.SelectConversation(bob)

	// Late push for the abandoned alice selection.
	m.OnHistory(model.RecentMessages{
		TargetUserID: alice.ID,
		Nonce:        staleNonce,
		Messages:     []model.Message{textMessage(1, alice, me, "stale")},
	})
	if got := len(m.Messages()); got != 0 {
		t.Fatalf("messages = %d, stale history applied", got)
	}

	// Same target but an outdated nonce after a quick re-select.
	m.SelectConversation(bob)
	m.OnHistory(model.RecentMessages{
		TargetUserID: bob.ID,
		Nonce:        ch.joins[1].Nonce,
		Messages:     []model.Message{textMessage(2, bob, me, "stale too")},
	})
	if got := len(m.Messages()); got != 0 {
		t.Fatalf("messages = %d, outdated-nonce history applied", got)
	}

	m.OnHistory(model.RecentMessages{
		TargetUserID: bob.ID,
		Nonce:        ch.joins[2].Nonce,
		Messages:     []model.Message{textMessage(3, bob, me, "fresh")},
	})
	if got := len(m.Messages()); got != 1 {
		t.Fatalf("messages = %d, fresh history not applied", got)
	}
}

func TestPresenceSnapshotRefreshesActiveChat(t *testing.T) {
	m, _, _ := newManager(t)
	m.SelectConversation(alice)

	seen := time.Now().Add(-time.Minute)
	offline := alice
	offline.IsOnline = false
	offline.LastSeen = &seen
	m.OnAllUsers([]model.User{me, offline, bob})

	active, ok := m.ActiveChat()
	if !ok {
		t.Fatal("active chat lost after snapshot")
	}
	if active.IsOnline || active.LastSeen == nil {
		t.Fatalf("active chat not refreshed: %+v", active)
	}
}

func TestPresenceSnapshotRetainsMissingActiveChat(t *testing.T) {
	m, _, _ := newManager(t)
	m.SelectConversation(alice)

	// Alice vanished from presence; the conversation does not end.
	m.OnAllUsers([]model.User{me, bob})

	active, ok := m.ActiveChat()
	if !ok || active.ID != alice.ID {
		t.Fatalf("active chat = %+v, %v; want retained alice", active, ok)
	}
	if got := len(m.Users()); got != 2 {
		t.Fatalf("users = %d, want 2", got)
	}
}

func TestConnectRequestsPresenceSnapshot(t *testing.T) {
	m, ch, _ := newManager(t)

	m.OnConnect()
	if !m.Connected() {
		t.Fatal("not connected after OnConnect")
	}
	if ch.userRequests != 1 {
		t.Fatalf("user requests = %d, want 1", ch.userRequests)
	}

	m.OnDisconnect()
	if m.Connected() {
		t.Fatal("still connected after OnDisconnect")
	}
}

func TestAuthErrorPurgesCredentials(t *testing.T) {
	m, _, creds := newManager(t)

	m.OnConnectError(fmt.Errorf("gateway: %w", model.ErrAuthentication))

	if creds.cleared != 1 {
		t.Fatalf("credentials cleared %d times, want 1", creds.cleared)
	}
	select {
	case <-m.LoggedOut():
	default:
		t.Fatal("logged-out signal not raised on auth failure")
	}
}

func TestOtherConnectErrorsOnlyFlipConnected(t *testing.T) {
	m, _, creds := newManager(t)
	m.OnConnect()

	m.OnConnectError(errors.New("broker unreachable"))

	if m.Connected() {
		t.Fatal("still connected after connect error")
	}
	if creds.cleared != 0 {
		t.Fatal("credentials purged for a non-auth error")
	}
	select {
	case <-m.LoggedOut():
		t.Fatal("logged out for a non-auth error")
	default:
	}
}

func TestLogoutTearsDownEverything(t *testing.T) {
	m, ch, creds := newManager(t)
	m.SelectConversation(alice)
	m.OnMessage(textMessage(1, alice, me, "hi"))
	m.OnMessage(textMessage(2, bob, me, "yo"))
	m.OnTyping(alice.Username, alice.ID)
	m.OnAllUsers([]model.User{me, alice, bob})

	if err := m.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if !ch.closed {
		t.Fatal("channel not closed")
	}
	if creds.cleared != 1 {
		t.Fatalf("credentials cleared %d times, want 1", creds.cleared)
	}
	if _, ok := m.ActiveChat(); ok {
		t.Fatal("active chat survived logout")
	}
	if len(m.Messages()) != 0 || len(m.Users()) != 0 || len(m.TypingUsers()) != 0 || len(m.UnreadCounts()) != 0 {
		t.Fatal("state survived logout")
	}
	select {
	case <-m.LoggedOut():
	default:
		t.Fatal("logged-out signal not raised")
	}
}

// The end-to-end routing scenario: receive from the active partner, receive
// from a third party, then switch to the third party.
func TestRoutingScenario(t *testing.T) {
	m, _, _ := newManager(t)
	m.SelectConversation(alice)

	m.OnMessage(textMessage(100, alice, me, "hi"))
	if got := len(m.Messages()); got != 1 {
		t.Fatalf("messages = %d, want 1", got)
	}
	if got := len(m.UnreadCounts()); got != 0 {
		t.Fatalf("unread = %v, want empty", m.UnreadCounts())
	}

	m.OnMessage(textMessage(101, bob, me, "yo"))
	if got := len(m.Messages()); got != 1 {
		t.Fatalf("messages = %d, want still 1", got)
	}
	if got := m.UnreadCounts()[bob.ID]; got != 1 {
		t.Fatalf("unread for bob = %d, want 1", got)
	}

	m.SelectConversation(bob)
	if got := len(m.UnreadCounts()); got != 0 {
		t.Fatalf("unread after selecting bob = %v, want empty", m.UnreadCounts())
	}
	if got := len(m.Messages()); got != 0 {
		t.Fatalf("messages after selecting bob = %d, want 0 pending history", got)
	}
}
