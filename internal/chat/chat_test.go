package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/4xmen/cafemeet/internal/apperr"
	"github.com/4xmen/cafemeet/internal/ident"
	"github.com/4xmen/cafemeet/internal/models"
	"github.com/4xmen/cafemeet/internal/relay"
)

type memStore struct {
	mu        sync.Mutex
	byPair    map[string]models.Conversation
	messages  map[string][]models.Message
	appendErr error
	markErr   error
}

func newMemStore() *memStore {
	return &memStore{
		byPair:   make(map[string]models.Conversation),
		messages: make(map[string][]models.Message),
	}
}

func (s *memStore) LoadConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Conversation
	for _, c := range s.byPair {
		if !c.Has(userID) {
			continue
		}
		c.Messages = append([]models.Message{}, s.messages[c.ID]...)
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) EnsureConversation(ctx context.Context, c models.Conversation) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ident.PairKey(c.Participants[0], c.Participants[1])
	if existing, ok := s.byPair[key]; ok {
		return existing, nil
	}
	s.byPair[key] = c
	return c, nil
}

func (s *memStore) AppendMessage(ctx context.Context, conversationID string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return nil
}

func (s *memStore) MarkRead(ctx context.Context, conversationID, readerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	for i, msg := range s.messages[conversationID] {
		if msg.ReceiverID == readerID {
			s.messages[conversationID][i].Read = true
		}
	}
	return nil
}

// steppingClock advances one millisecond per call.
func steppingClock() ident.Clock {
	var mu sync.Mutex
	now := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func newModel(userID string, opts ...Option) *Model {
	opts = append([]Option{WithGenerator(ident.NewGenerator(steppingClock()))}, opts...)
	return New(userID, nil, opts...)
}

func TestSendMessageCreatesConversation(t *testing.T) {
	m := newModel("u1")

	id, err := m.SendMessage(context.Background(), "u2", "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	c, ok := m.FindConversation("u2")
	if !ok {
		t.Fatalf("conversation with u2 not found")
	}
	if len(c.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(c.Messages))
	}
	msg := c.Messages[0]
	if msg.ID != id || msg.Content != "hi" || msg.SenderID != "u1" || msg.ReceiverID != "u2" || msg.Read {
		t.Fatalf("unexpected message %+v", msg)
	}
	if c.UnreadCount != 0 {
		t.Fatalf("outgoing message counted as unread")
	}
	if c.LastMessage == nil || c.LastMessage.ID != id {
		t.Fatalf("last message not updated")
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	m := newModel("u1")

	first, err := m.GetOrCreate(context.Background(), "u2")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := m.GetOrCreate(context.Background(), "u2")
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("GetOrCreate returned %s then %s", first.ID, second.ID)
	}
	if got := len(m.Conversations()); got != 1 {
		t.Fatalf("conversations = %d, want 1", got)
	}
}

func TestGetOrCreateConcurrentCallsShareConversation(t *testing.T) {
	m := newModel("u1")

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.GetOrCreate(context.Background(), "u2")
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			ids[i] = c.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent GetOrCreate produced %s and %s", ids[0], id)
		}
	}
}

func TestFindConversationIsSymmetric(t *testing.T) {
	m := newModel("u1")
	if err := m.Receive(context.Background(), models.Message{ID: "m1", SenderID: "u2", ReceiverID: "u1", Content: "hey"}); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if _, err := m.SendMessage(context.Background(), "u2", "hello back"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if got := len(m.Conversations()); got != 1 {
		t.Fatalf("conversations = %d, want 1", got)
	}
	c, _ := m.FindConversation("u2")
	if len(c.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(c.Messages))
	}
}

func TestSendMessageRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		receiver string
		content  string
	}{
		{name: "empty content", receiver: "u2", content: ""},
		{name: "whitespace content", receiver: "u2", content: "  \n\t "},
		{name: "too long", receiver: "u2", content: strings.Repeat("a", DefaultMaxMessageLength+1)},
		{name: "self", receiver: "u1", content: "hi"},
		{name: "no receiver", receiver: "", content: "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newModel("u1")
			if _, err := m.SendMessage(context.Background(), tt.receiver, tt.content); !errors.Is(err, apperr.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			if len(m.Conversations()) != 0 {
				t.Fatalf("rejected send created a conversation")
			}
		})
	}
}

func TestSendMessageTrimsContent(t *testing.T) {
	m := newModel("u1")
	if _, err := m.SendMessage(context.Background(), "u2", "  latte?  "); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	c, _ := m.FindConversation("u2")
	if c.Messages[0].Content != "latte?" {
		t.Fatalf("content = %q", c.Messages[0].Content)
	}
}

func TestMessageLengthCountsRunes(t *testing.T) {
	m := newModel("u1")
	if _, err := m.SendMessage(context.Background(), "u2", strings.Repeat("☕", DefaultMaxMessageLength)); err != nil {
		t.Fatalf("message at the limit rejected: %v", err)
	}
}

func TestMessagesKeepSendOrder(t *testing.T) {
	m := newModel("u1")

	const n = 25
	var ids []string
	for i := 0; i < n; i++ {
		id, err := m.SendMessage(context.Background(), "u2", "msg")
		if err != nil {
			t.Fatalf("SendMessage %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	c, _ := m.FindConversation("u2")
	if len(c.Messages) != n {
		t.Fatalf("messages = %d, want %d", len(c.Messages), n)
	}
	for i, msg := range c.Messages {
		if msg.ID != ids[i] {
			t.Fatalf("message %d = %s, want %s", i, msg.ID, ids[i])
		}
		if i > 0 && msg.ID <= c.Messages[i-1].ID {
			t.Fatalf("ids not increasing at %d", i)
		}
		if i > 0 && msg.Timestamp < c.Messages[i-1].Timestamp {
			t.Fatalf("timestamps not ordered at %d", i)
		}
	}
}

func TestReceiveCountsUnread(t *testing.T) {
	m := newModel("u1")
	ctx := context.Background()

	for i, id := range []string{"m1", "m2", "m3"} {
		msg := models.Message{ID: id, ConversationID: "c-shared", SenderID: "u2", ReceiverID: "u1", Content: "hi", Timestamp: int64(i)}
		if err := m.Receive(ctx, msg); err != nil {
			t.Fatalf("Receive: %v", err)
		}
	}
	if err := m.Receive(ctx, models.Message{ID: "m4", SenderID: "u3", ReceiverID: "u1", Content: "yo"}); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	c, ok := m.Conversation("c-shared")
	if !ok {
		t.Fatalf("incoming conversation should reuse the sender's id")
	}
	if c.UnreadCount != 3 {
		t.Fatalf("unread = %d, want 3", c.UnreadCount)
	}
	if got := m.TotalUnreadCount(); got != 4 {
		t.Fatalf("total unread = %d, want 4", got)
	}
}

func TestReceiveIgnoresDuplicates(t *testing.T) {
	m := newModel("u1")
	msg := models.Message{ID: "m1", SenderID: "u2", ReceiverID: "u1", Content: "hi"}

	for i := 0; i < 3; i++ {
		if err := m.Receive(context.Background(), msg); err != nil {
			t.Fatalf("Receive: %v", err)
		}
	}
	c, _ := m.FindConversation("u2")
	if len(c.Messages) != 1 || c.UnreadCount != 1 {
		t.Fatalf("duplicate delivery changed state: %d messages, %d unread", len(c.Messages), c.UnreadCount)
	}
}

func TestReceiveRejectsForeignMessages(t *testing.T) {
	m := newModel("u1")
	tests := []models.Message{
		{ID: "m1", SenderID: "u2", ReceiverID: "u3", Content: "not for you"},
		{ID: "", SenderID: "u2", ReceiverID: "u1", Content: "no id"},
		{ID: "m2", SenderID: "u1", ReceiverID: "u1", Content: "self"},
	}
	for _, msg := range tests {
		if err := m.Receive(context.Background(), msg); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("Receive(%+v) err = %v, want ErrInvalidInput", msg, err)
		}
	}
}

func TestMarkAllReadOnlyTouchesIncoming(t *testing.T) {
	m := newModel("u1")
	ctx := context.Background()

	if _, err := m.SendMessage(ctx, "u2", "mine"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	_ = m.Receive(ctx, models.Message{ID: "in1", SenderID: "u2", ReceiverID: "u1", Content: "a"})
	_ = m.Receive(ctx, models.Message{ID: "in2", SenderID: "u2", ReceiverID: "u1", Content: "b"})

	c, _ := m.FindConversation("u2")
	if err := m.MarkAllRead(ctx, c.ID); err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}

	c, _ = m.FindConversation("u2")
	if c.UnreadCount != 0 {
		t.Fatalf("unread = %d after MarkAllRead", c.UnreadCount)
	}
	for _, msg := range c.Messages {
		incoming := msg.ReceiverID == "u1"
		if msg.Read != incoming {
			t.Fatalf("message %s read = %v", msg.ID, msg.Read)
		}
	}
	if m.TotalUnreadCount() != 0 {
		t.Fatalf("total unread not reset")
	}
}

func TestMarkAllReadUnknownConversation(t *testing.T) {
	m := newModel("u1")
	if err := m.MarkAllRead(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTotalUnreadMatchesUnreadIncoming(t *testing.T) {
	m := newModel("u1")
	ctx := context.Background()

	senders := []string{"u2", "u3", "u2", "u4", "u3", "u2"}
	for i, s := range senders {
		_ = m.Receive(ctx, models.Message{ID: "m" + string(rune('a'+i)), SenderID: s, ReceiverID: "u1", Content: "x"})
		if i%2 == 0 {
			_, _ = m.SendMessage(ctx, s, "reply")
		}
	}
	c, _ := m.FindConversation("u3")
	_ = m.MarkAllRead(ctx, c.ID)

	want := 0
	for _, c := range m.Conversations() {
		for _, msg := range c.Messages {
			if msg.ReceiverID == "u1" && !msg.Read {
				want++
			}
		}
	}
	if got := m.TotalUnreadCount(); got != want {
		t.Fatalf("total unread = %d, counted %d", got, want)
	}
}

func TestStoreFailureKeepsConversationWithoutMessage(t *testing.T) {
	store := newMemStore()
	store.appendErr = errors.New("disk full")
	m := newModel("u1", WithStore(store))

	var snapshots [][]models.Conversation
	m.Subscribe(func(convs []models.Conversation) { snapshots = append(snapshots, convs) })

	if _, err := m.SendMessage(context.Background(), "u2", "hi"); err == nil {
		t.Fatalf("SendMessage succeeded despite store failure")
	}
	c, ok := m.FindConversation("u2")
	if !ok {
		t.Fatalf("conversation should exist after GetOrCreate succeeded")
	}
	if len(c.Messages) != 0 {
		t.Fatalf("message appended despite store failure")
	}
	if len(snapshots) != 1 || len(snapshots[0]) != 1 || snapshots[0][0].ID != c.ID {
		t.Fatalf("snapshots = %+v, want one snapshot with the new conversation", snapshots)
	}

	// A second failure on the existing conversation changes nothing.
	if _, err := m.SendMessage(context.Background(), "u2", "again"); err == nil {
		t.Fatalf("SendMessage succeeded despite store failure")
	}
	if len(snapshots) != 1 {
		t.Fatalf("unchanged state was announced: %d snapshots", len(snapshots))
	}
}

type fakeDirectory struct {
	known map[string]bool
	err   error
}

func (d fakeDirectory) UserExists(ctx context.Context, userID string) (bool, error) {
	return d.known[userID], d.err
}

func TestUnknownParticipantRejected(t *testing.T) {
	store := newMemStore()
	m := newModel("u1", WithStore(store), WithDirectory(fakeDirectory{known: map[string]bool{"u2": true}}))
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("GetOrCreate(ghost) err = %v, want ErrNotFound", err)
	}
	if _, err := m.SendMessage(ctx, "ghost", "hi"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("SendMessage(ghost) err = %v, want ErrNotFound", err)
	}
	if len(m.Conversations()) != 0 || len(store.byPair) != 0 {
		t.Fatalf("conversation created for unknown user")
	}

	if _, err := m.SendMessage(ctx, "u2", "hi"); err != nil {
		t.Fatalf("SendMessage(u2): %v", err)
	}
}

func TestDirectoryFailureIsNotNotFound(t *testing.T) {
	m := newModel("u1", WithDirectory(fakeDirectory{err: errors.New("db closed")}))
	_, err := m.GetOrCreate(context.Background(), "u2")
	if err == nil || errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want a lookup failure", err)
	}
}

func TestLoadRestoresConversations(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	sender := newModel("u1", WithStore(store))
	if _, err := sender.SendMessage(ctx, "u2", "first"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if _, err := sender.SendMessage(ctx, "u2", "second"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	receiver := newModel("u2", WithStore(store))
	if err := receiver.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c, ok := receiver.FindConversation("u1")
	if !ok {
		t.Fatalf("conversation not loaded")
	}
	if len(c.Messages) != 2 || c.UnreadCount != 2 {
		t.Fatalf("loaded %d messages, %d unread", len(c.Messages), c.UnreadCount)
	}
	if c.LastMessage == nil || c.LastMessage.Content != "second" {
		t.Fatalf("last message = %+v", c.LastMessage)
	}

	if err := receiver.MarkAllRead(ctx, c.ID); err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	again := newModel("u2", WithStore(store))
	_ = again.Load(ctx)
	if again.TotalUnreadCount() != 0 {
		t.Fatalf("read state not persisted")
	}
}

func TestRelayDeliversBetweenModels(t *testing.T) {
	ctx := context.Background()
	local := relay.NewLocal(nil)
	alice := newModel("alice", WithRelay(local))
	bob := newModel("bob", WithRelay(local))

	unregister, _ := local.Register("bob", func(ctx context.Context, env relay.Envelope) {
		if env.Type == relay.TypeMessage && env.Message != nil {
			if err := bob.Receive(ctx, *env.Message); err != nil {
				t.Errorf("Receive: %v", err)
			}
		}
	})
	defer unregister()

	if _, err := alice.SendMessage(ctx, "bob", "coffee?"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	ac, _ := alice.FindConversation("bob")
	bc, ok := bob.FindConversation("alice")
	if !ok {
		t.Fatalf("bob has no conversation")
	}
	if ac.ID != bc.ID {
		t.Fatalf("conversation ids differ: %s vs %s", ac.ID, bc.ID)
	}
	if bob.TotalUnreadCount() != 1 || alice.TotalUnreadCount() != 0 {
		t.Fatalf("unread: alice=%d bob=%d", alice.TotalUnreadCount(), bob.TotalUnreadCount())
	}
}

type failingRelay struct{}

func (failingRelay) Publish(context.Context, relay.Envelope) error { return errors.New("offline") }
func (failingRelay) Register(string, relay.Handler) (func(), error) {
	return func() {}, nil
}
func (failingRelay) Close() error { return nil }

func TestRelayFailureKeepsMessage(t *testing.T) {
	m := newModel("u1", WithRelay(failingRelay{}))
	if _, err := m.SendMessage(context.Background(), "u2", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	c, _ := m.FindConversation("u2")
	if len(c.Messages) != 1 {
		t.Fatalf("message dropped after relay failure")
	}
}

func TestSubscribeReceivesConversations(t *testing.T) {
	m := newModel("u1")

	var got [][]models.Conversation
	unsubscribe := m.Subscribe(func(cs []models.Conversation) { got = append(got, cs) })

	if _, err := m.SendMessage(context.Background(), "u2", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(got) == 0 || len(got[len(got)-1]) != 1 {
		t.Fatalf("snapshots = %+v", got)
	}

	unsubscribe()
	n := len(got)
	_, _ = m.SendMessage(context.Background(), "u3", "hi")
	if len(got) != n {
		t.Fatalf("listener called after unsubscribe")
	}
}
