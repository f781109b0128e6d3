package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"chat-sync/domain"
	"chat-sync/domain/event"
	syncerr "chat-sync/errors"
	"chat-sync/repositories"
	"chat-sync/store"
	"chat-sync/tracking"
)

// fakeAPI stubs the REST surface with per-call function fields; a nil
// field answers with zero values and no error.
type fakeAPI struct {
	accessFn      func(peerID string) (domain.Chat, error)
	createGroupFn func(name string, memberIDs []string) (domain.Chat, error)
	renameFn      func(chatID, name string) (domain.Chat, error)
	addFn         func(chatID, userID string) (domain.Chat, error)
	removeFn      func(chatID, userID string) (domain.Chat, error)
	listFn        func() ([]domain.Chat, error)
	getFn         func(chatID string) ([]domain.Message, error)
	sendFn        func(chatID, content string, msgType domain.MessageType, clientMsgID string) (domain.Message, error)

	markReadCalls atomic.Int32
	markReadErr   error
}

func (f *fakeAPI) AccessOrCreateChat(_ context.Context, peerID string) (domain.Chat, error) {
	if f.accessFn == nil {
		return domain.Chat{}, nil
	}
	return f.accessFn(peerID)
}

func (f *fakeAPI) CreateGroup(_ context.Context, name string, memberIDs []string) (domain.Chat, error) {
	if f.createGroupFn == nil {
		return domain.Chat{}, nil
	}
	return f.createGroupFn(name, memberIDs)
}

func (f *fakeAPI) RenameGroup(_ context.Context, chatID, name string) (domain.Chat, error) {
	if f.renameFn == nil {
		return domain.Chat{}, nil
	}
	return f.renameFn(chatID, name)
}

func (f *fakeAPI) AddMember(_ context.Context, chatID, userID string) (domain.Chat, error) {
	if f.addFn == nil {
		return domain.Chat{}, nil
	}
	return f.addFn(chatID, userID)
}

func (f *fakeAPI) RemoveMember(_ context.Context, chatID, userID string) (domain.Chat, error) {
	if f.removeFn == nil {
		return domain.Chat{}, nil
	}
	return f.removeFn(chatID, userID)
}

func (f *fakeAPI) ListChats(_ context.Context) ([]domain.Chat, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn()
}

func (f *fakeAPI) GetMessages(_ context.Context, chatID string, _ *string, _ int) ([]domain.Message, error) {
	if f.getFn == nil {
		return nil, nil
	}
	return f.getFn(chatID)
}

func (f *fakeAPI) SendMessage(_ context.Context, chatID, content string,
	msgType domain.MessageType, clientMsgID string) (domain.Message, error) {
	if f.sendFn == nil {
		return domain.Message{}, nil
	}
	return f.sendFn(chatID, content, msgType, clientMsgID)
}

func (f *fakeAPI) MarkRead(context.Context, string, string) error {
	f.markReadCalls.Add(1)
	return f.markReadErr
}

// fakeChannel records room membership and sent frames, and lets tests
// inject inbound events and overflow notifications.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []event.Outbound
	joined  []string
	left    []string
	sendErr error

	events  chan event.RealtimeEvent
	dropped chan event.Outbound
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		events:  make(chan event.RealtimeEvent, 16),
		dropped: make(chan event.Outbound, 16),
	}
}

func (f *fakeChannel) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeChannel) JoinRoom(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID)
}

func (f *fakeChannel) LeaveRoom(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, roomID)
}

func (f *fakeChannel) Send(out event.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, out)
	return nil
}

func (f *fakeChannel) Events() <-chan event.RealtimeEvent { return f.events }
func (f *fakeChannel) Dropped() <-chan event.Outbound     { return f.dropped }
func (f *fakeChannel) Connected() bool                    { return true }
func (f *fakeChannel) Close(context.Context) error        { return nil }

func (f *fakeChannel) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lo.Map(f.sent, func(out event.Outbound, _ int) string { return out.ClientMsgID })
}

func (f *fakeChannel) joinedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joined...)
}

func (f *fakeChannel) leftRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.left...)
}

type harness struct {
	service *ChatService
	cache   *store.Store
	api     *fakeAPI
	channel *fakeChannel
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	cache := store.New(
		repositories.NewChatRepository(db, log),
		repositories.NewMessageRepository(db, log, nil),
		log, 0,
	)
	if cfg.UserID == "" {
		cfg.UserID = "me"
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = time.Minute // keep the REST fallback out of the way
	}
	api := &fakeAPI{}
	channel := newFakeChannel()
	service := NewChatService(log, cfg, cache, api, channel, tracking.NewTracker(log))
	return &harness{service: service, cache: cache, api: api, channel: channel}
}

// run starts the event pump so injected realtime events are processed.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.service.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func cachedMessage(cache *store.Store, chatID, id string) (domain.Message, bool) {
	return lo.Find(cache.CachedMessages(chatID, 0), func(m domain.Message) bool {
		return m.ID == id
	})
}

// --- sending ---

func Test_Send_Goes_Pending_Then_Sent_Without_Duplicates(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.run(t)
	h.cache.UpsertChat(domain.Chat{ID: "chat-1", Participants: []string{"me", "alice"}})

	sent, err := h.service.SendMessage(context.Background(), domain.SendMessageCommand{
		ChatID: "chat-1", Content: "hello", Type: domain.TextMessage,
	})
	req.NoError(err)
	req.Equal(domain.StatusPending, sent.Status)

	// The frame went to the realtime channel under the message id.
	req.Equal([]string{sent.ID}, h.channel.sentIDs())
	cached, ok := cachedMessage(h.cache, "chat-1", sent.ID)
	req.True(ok)
	req.Equal(domain.StatusPending, cached.Status)

	// The server echoes our own send; it must advance, never duplicate.
	echo := sent
	echo.ServerID = "server-1"
	echo.Status = domain.StatusSent
	h.channel.events <- event.NewMessage{Room: "chat-1", Sequence: 1, Message: echo}

	req.Eventually(func() bool {
		cached, ok := cachedMessage(h.cache, "chat-1", sent.ID)
		return ok && cached.Status == domain.StatusSent
	}, 2*time.Second, 10*time.Millisecond)
	req.Len(h.cache.CachedMessages("chat-1", 0), 1)
}

func Test_Unacked_Send_Falls_Back_To_Rest(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{SendTimeout: 20 * time.Millisecond})
	h.api.sendFn = func(_, _ string, _ domain.MessageType, clientMsgID string) (domain.Message, error) {
		return domain.Message{ID: clientMsgID, ServerID: "server-9"}, nil
	}
	h.cache.UpsertChat(domain.Chat{ID: "chat-1"})

	sent, err := h.service.SendMessage(context.Background(), domain.SendMessageCommand{
		ChatID: "chat-1", Content: "hello", Type: domain.TextMessage,
	})
	req.NoError(err)

	req.Eventually(func() bool {
		cached, ok := cachedMessage(h.cache, "chat-1", sent.ID)
		return ok && cached.Status == domain.StatusSent && cached.ServerID == "server-9"
	}, 2*time.Second, 10*time.Millisecond)
}

func Test_Exhausted_Send_Turns_Failed(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{SendTimeout: 20 * time.Millisecond})
	h.api.sendFn = func(string, string, domain.MessageType, string) (domain.Message, error) {
		return domain.Message{}, &syncerr.NetworkError{Op: "POST /chats/chat-1/messages", Err: errors.New("down")}
	}
	h.cache.UpsertChat(domain.Chat{ID: "chat-1"})

	sent, err := h.service.SendMessage(context.Background(), domain.SendMessageCommand{
		ChatID: "chat-1", Content: "hello", Type: domain.TextMessage,
	})
	req.NoError(err)

	req.Eventually(func() bool {
		cached, ok := cachedMessage(h.cache, "chat-1", sent.ID)
		return ok && cached.Status == domain.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func Test_Queue_Overflow_Fails_The_Evicted_Message(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.run(t)
	h.cache.UpsertChat(domain.Chat{ID: "chat-1"})

	sent, err := h.service.SendMessage(context.Background(), domain.SendMessageCommand{
		ChatID: "chat-1", Content: "hello", Type: domain.TextMessage,
	})
	req.NoError(err)

	h.channel.dropped <- event.Outbound{ClientMsgID: sent.ID, RoomID: "chat-1", Content: "hello"}

	req.Eventually(func() bool {
		cached, ok := cachedMessage(h.cache, "chat-1", sent.ID)
		return ok && cached.Status == domain.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func Test_Resend_Requires_A_Failed_Message(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.cache.UpsertChat(domain.Chat{ID: "chat-1"})

	failed := domain.Message{
		ID: "failed-1", ChatID: "chat-1", SenderID: "me",
		Content: "lost", Type: domain.TextMessage,
		Status: domain.StatusFailed, CreatedAt: time.Now().UTC(),
	}
	delivered := domain.Message{
		ID: "ok-1", ChatID: "chat-1", SenderID: "me",
		Content: "fine", Type: domain.TextMessage,
		Status: domain.StatusDelivered, CreatedAt: time.Now().UTC(),
	}
	h.cache.UpsertMessages("chat-1", []domain.Message{failed, delivered})

	resent, err := h.service.ResendFailed(context.Background(), "chat-1", "failed-1")
	req.NoError(err)
	req.NotEqual("failed-1", resent.ID)
	req.Equal("failed-1", resent.RetryOf)
	req.Equal(domain.StatusPending, resent.Status)
	req.Equal([]string{resent.ID}, h.channel.sentIDs())

	_, err = h.service.ResendFailed(context.Background(), "chat-1", "ok-1")
	req.ErrorIs(err, syncerr.ErrValidation)
}

// --- read state ---

func Test_Mark_Read_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.cache.UpsertChat(domain.Chat{ID: "chat-1", UnreadCount: 1})
	h.cache.UpsertMessages("chat-1", []domain.Message{{
		ID: "m1", ChatID: "chat-1", SenderID: "alice",
		Content: "hi", Type: domain.TextMessage,
		Status: domain.StatusDelivered, CreatedAt: time.Now().UTC(),
	}})

	req.NoError(h.service.MarkRead(context.Background(), "chat-1", "m1"))

	cached, ok := cachedMessage(h.cache, "chat-1", "m1")
	req.True(ok)
	req.True(cached.IsReadBy("me"))
	req.Equal(domain.StatusRead, cached.Status)

	chat, _ := h.cache.CachedChat("chat-1")
	req.Zero(chat.UnreadCount)

	req.Eventually(func() bool {
		return h.api.markReadCalls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The second call is a no-op: no extra receipt, no extra ack.
	req.NoError(h.service.MarkRead(context.Background(), "chat-1", "m1"))
	time.Sleep(50 * time.Millisecond)
	req.EqualValues(1, h.api.markReadCalls.Load())
	cached, _ = cachedMessage(h.cache, "chat-1", "m1")
	req.Len(cached.ReadBy, 1)
}

func Test_Local_And_Remote_Receipts_Accumulate(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.run(t)
	h.cache.UpsertChat(domain.Chat{ID: "chat-1"})
	h.cache.UpsertMessages("chat-1", []domain.Message{{
		ID: "m1", ChatID: "chat-1", SenderID: "alice",
		Content: "hi", Type: domain.TextMessage,
		Status: domain.StatusDelivered, CreatedAt: time.Now().UTC(),
	}})

	// A remote receipt folds in through the pump while the local user
	// marks the same message read; neither receipt may be lost.
	h.channel.events <- event.MessageRead{
		Room: "chat-1", Sequence: 1,
		MessageID: "m1", ReaderID: "bob", ReadAt: time.Now().UTC(),
	}
	req.NoError(h.service.MarkRead(context.Background(), "chat-1", "m1"))

	req.Eventually(func() bool {
		cached, ok := cachedMessage(h.cache, "chat-1", "m1")
		return ok && cached.IsReadBy("me") && cached.IsReadBy("bob")
	}, 2*time.Second, 10*time.Millisecond)
}

func Test_Mark_Read_Rejects_Unknown_Messages(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	req.ErrorIs(h.service.MarkRead(context.Background(), "chat-1", "ghost"), syncerr.ErrValidation)
}

func Test_Read_Event_Advances_Own_Message(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.run(t)
	h.cache.UpsertChat(domain.Chat{ID: "chat-1"})

	sent, err := h.service.SendMessage(context.Background(), domain.SendMessageCommand{
		ChatID: "chat-1", Content: "hello", Type: domain.TextMessage,
	})
	req.NoError(err)

	echo := sent
	echo.ServerID = "server-1"
	echo.Status = domain.StatusSent
	h.channel.events <- event.NewMessage{Room: "chat-1", Sequence: 1, Message: echo}
	h.channel.events <- event.MessageRead{
		Room: "chat-1", Sequence: 2,
		MessageID: "server-1", ReaderID: "alice", ReadAt: time.Now().UTC(),
	}

	req.Eventually(func() bool {
		cached, ok := cachedMessage(h.cache, "chat-1", sent.ID)
		return ok && cached.Status == domain.StatusRead && cached.IsReadBy("alice")
	}, 2*time.Second, 10*time.Millisecond)
}

// --- streams ---

func Test_List_Chats_Serves_Cache_Then_Refreshes(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.cache.UpsertChat(domain.Chat{ID: "cached-1", DisplayName: "Old"})
	h.api.listFn = func() ([]domain.Chat, error) {
		return []domain.Chat{
			{ID: "cached-1", DisplayName: "Fresh"},
			{ID: "remote-1", DisplayName: "New"},
		}, nil
	}

	updates, cancel := h.service.ListChats(context.Background())
	defer cancel()

	first := <-updates
	req.False(first.Stale)
	req.Len(first.Chats, 1)
	req.Equal("Old", first.Chats[0].DisplayName)

	select {
	case second := <-updates:
		req.False(second.Stale)
		req.Len(second.Chats, 2)
	case <-time.After(2 * time.Second):
		req.Fail("expected a refreshed emission")
	}
}

func Test_List_Chats_Falls_Back_To_Stale_Cache(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.cache.UpsertChat(domain.Chat{ID: "cached-1"})
	h.api.listFn = func() ([]domain.Chat, error) {
		return nil, &syncerr.NetworkError{Op: "GET /chats", Err: errors.New("down")}
	}

	updates, cancel := h.service.ListChats(context.Background())
	defer cancel()

	first := <-updates
	req.False(first.Stale)

	select {
	case second := <-updates:
		req.True(second.Stale)
		req.Len(second.Chats, 1)
	case <-time.After(2 * time.Second):
		req.Fail("expected a stale emission")
	}
}

func Test_Observe_Messages_Joins_And_Leaves_With_Refcount(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})

	_, cancelFirst := h.service.ObserveMessages(context.Background(), "chat-1")
	_, cancelSecond := h.service.ObserveMessages(context.Background(), "chat-1")

	req.Equal([]string{"chat-1"}, h.channel.joinedRooms())

	cancelFirst()
	req.Empty(h.channel.leftRooms())

	cancelSecond()
	req.Equal([]string{"chat-1"}, h.channel.leftRooms())
}

func Test_Observe_Messages_Serves_Stale_History_On_Failure(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.cache.UpsertMessages("chat-1", []domain.Message{{
		ID: "m1", ChatID: "chat-1", SenderID: "alice",
		Content: "hi", Type: domain.TextMessage,
		Status: domain.StatusDelivered, CreatedAt: time.Now().UTC(),
	}})
	h.api.getFn = func(string) ([]domain.Message, error) {
		return nil, &syncerr.NetworkError{Op: "GET /chats/chat-1/messages", Err: errors.New("down")}
	}

	updates, cancel := h.service.ObserveMessages(context.Background(), "chat-1")
	defer cancel()

	first := <-updates
	req.False(first.Stale)
	req.Len(first.Messages, 1)

	select {
	case second := <-updates:
		req.True(second.Stale)
		req.Len(second.Messages, 1)
	case <-time.After(2 * time.Second):
		req.Fail("expected a stale emission")
	}
}

func Test_Incoming_Message_For_Unknown_Chat_Creates_A_Skeleton(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.run(t)

	h.channel.events <- event.NewMessage{
		Room: "chat-9", Sequence: 1,
		Message: domain.Message{
			ID: "m1", ChatID: "chat-9", SenderID: "stranger",
			Content: "hi there", Type: domain.TextMessage,
			Status: domain.StatusDelivered, CreatedAt: time.Now().UTC(),
		},
	}

	req.Eventually(func() bool {
		chat, ok := h.cache.CachedChat("chat-9")
		return ok && chat.HasParticipant("stranger") && chat.UnreadCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// --- chat lifecycle ---

func Test_Access_Or_Create_Chat_Falls_Back_To_Cache(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.cache.UpsertChat(domain.Chat{ID: "chat-1", Participants: []string{"me", "alice"}})
	h.api.accessFn = func(string) (domain.Chat, error) {
		return domain.Chat{}, &syncerr.NetworkError{Op: "POST /chats", Err: errors.New("down")}
	}

	chat, err := h.service.AccessOrCreateChat(context.Background(), "alice")
	req.NoError(err)
	req.Equal("chat-1", chat.ID)

	// No cached chat with that peer: nothing is fabricated.
	_, err = h.service.AccessOrCreateChat(context.Background(), "bob")
	req.ErrorIs(err, syncerr.ErrUnavailable)
}

func Test_Access_Or_Create_Chat_Propagates_Fatal_Errors(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.cache.UpsertChat(domain.Chat{ID: "chat-1", Participants: []string{"me", "alice"}})
	h.api.accessFn = func(string) (domain.Chat, error) {
		return domain.Chat{}, syncerr.ErrAuth
	}

	_, err := h.service.AccessOrCreateChat(context.Background(), "alice")
	req.ErrorIs(err, syncerr.ErrAuth)
}

func Test_Create_Group_Replaces_The_Provisional_Entry(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.api.createGroupFn = func(name string, memberIDs []string) (domain.Chat, error) {
		return domain.Chat{
			ID: "group-1", DisplayName: name, IsGroup: true,
			Participants: append([]string{"me"}, memberIDs...),
		}, nil
	}

	chat, err := h.service.CreateGroup(context.Background(), domain.CreateGroupCommand{
		Name: "Trip", MemberIDs: []string{"alice", "bob"},
	})
	req.NoError(err)
	req.Equal("group-1", chat.ID)

	chats := h.cache.CachedChats()
	req.Len(chats, 1)
	req.Equal("group-1", chats[0].ID)
}

func Test_Create_Group_Rolls_Back_On_Failure(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.api.createGroupFn = func(string, []string) (domain.Chat, error) {
		return domain.Chat{}, &syncerr.NetworkError{Op: "POST /chats/group", Err: errors.New("down")}
	}

	_, err := h.service.CreateGroup(context.Background(), domain.CreateGroupCommand{
		Name: "Trip", MemberIDs: []string{"alice"},
	})
	req.Error(err)
	req.Empty(h.cache.CachedChats())
}

func Test_Rename_Group_Rolls_Back_On_Failure(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.cache.UpsertChat(domain.Chat{ID: "group-1", DisplayName: "Trip", IsGroup: true})
	h.api.renameFn = func(string, string) (domain.Chat, error) {
		return domain.Chat{}, &syncerr.NetworkError{Op: "PUT /chats/group-1/name", Err: errors.New("down")}
	}

	_, err := h.service.RenameGroup(context.Background(), domain.RenameGroupCommand{
		ChatID: "group-1", Name: "Trip 2024",
	})
	req.Error(err)

	chat, _ := h.cache.CachedChat("group-1")
	req.Equal("Trip", chat.DisplayName)
}

func Test_Membership_Updates_Apply_Optimistically(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.cache.UpsertChat(domain.Chat{
		ID: "group-1", DisplayName: "Trip", IsGroup: true,
		Participants: []string{"me", "alice"},
	})
	h.api.addFn = func(chatID, userID string) (domain.Chat, error) {
		chat, _ := h.cache.CachedChat(chatID)
		return chat.WithParticipant(userID), nil
	}
	h.api.removeFn = func(chatID, userID string) (domain.Chat, error) {
		chat, _ := h.cache.CachedChat(chatID)
		return chat.WithoutParticipant(userID), nil
	}

	chat, err := h.service.AddMember(context.Background(), domain.MembershipCommand{
		ChatID: "group-1", UserID: "bob",
	})
	req.NoError(err)
	req.True(chat.HasParticipant("bob"))

	chat, err = h.service.RemoveMember(context.Background(), domain.MembershipCommand{
		ChatID: "group-1", UserID: "alice",
	})
	req.NoError(err)
	req.False(chat.HasParticipant("alice"))

	cached, _ := h.cache.CachedChat("group-1")
	req.ElementsMatch([]string{"me", "bob"}, cached.Participants)
}

func Test_Commands_Are_Validated(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})

	_, err := h.service.SendMessage(context.Background(), domain.SendMessageCommand{ChatID: "chat-1"})
	req.ErrorIs(err, syncerr.ErrValidation)

	_, err = h.service.CreateGroup(context.Background(), domain.CreateGroupCommand{Name: "Trip"})
	req.ErrorIs(err, syncerr.ErrValidation)

	_, err = h.service.RenameGroup(context.Background(), domain.RenameGroupCommand{ChatID: "group-1"})
	req.ErrorIs(err, syncerr.ErrValidation)

	_, err = h.service.AddMember(context.Background(), domain.MembershipCommand{ChatID: "group-1"})
	req.ErrorIs(err, syncerr.ErrValidation)
}

// --- activity passthrough ---

func Test_Typing_And_Presence_Flow_Through_Activity(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	h.run(t)

	h.channel.events <- event.Typing{Room: "chat-1", Sequence: 1, UserID: "alice", IsTyping: true}
	h.channel.events <- event.Presence{Room: "chat-1", Sequence: 2, UserID: "alice", Online: true}

	first := <-h.service.Activity()
	typing, ok := first.(event.Typing)
	req.True(ok)
	req.True(typing.IsTyping)

	second := <-h.service.Activity()
	presence, ok := second.(event.Presence)
	req.True(ok)
	req.True(presence.Online)

	// Nothing on this stream lands in the cache.
	req.Empty(h.cache.CachedMessages("chat-1", 0))
}
