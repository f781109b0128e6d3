// Package services exposes the only interface consumed by UI or CLI
// callers: reactive chat lists, per-chat message streams, and the
// send/read/group operations. The service merges the local cache with
// live realtime events before emitting anything, and degrades to the
// cache whenever the remote side is unreachable.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	syncerr "chat-sync/errors"
	"chat-sync/tracking"
)

// Ensure *ChatService implements the contract.Worker interface at compile time.
var _ contract.Worker = (*ChatService)(nil)

type Config struct {
	// UserID identifies the viewing user; unread counting and read
	// receipts are computed from their perspective.
	UserID string
	// SendTimeout bounds how long a message may stay Pending before the
	// service falls back to the REST send path.
	SendTimeout time.Duration
	// HistoryLimit caps the number of messages emitted per timeline update.
	HistoryLimit int
	// SubscriberBuffer sizes each subscriber channel.
	SubscriberBuffer int
}

func (c *Config) applyDefaults() {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 16
	}
}

type ChatService struct {
	log      *slog.Logger
	cfg      Config
	store    contract.Store
	api      contract.APIClient
	channel  contract.Channel
	tracker  *tracking.Tracker
	registry *Registry

	mu        sync.Mutex
	ackTimers map[string]*time.Timer

	activity chan event.RealtimeEvent
}

func NewChatService(log *slog.Logger, cfg Config, store contract.Store,
	api contract.APIClient, channel contract.Channel, tracker *tracking.Tracker) *ChatService {
	cfg.applyDefaults()
	return &ChatService{
		log:       log,
		cfg:       cfg,
		store:     store,
		api:       api,
		channel:   channel,
		tracker:   tracker,
		registry:  NewRegistry(log),
		ackTimers: make(map[string]*time.Timer),
		activity:  make(chan event.RealtimeEvent, 64),
	}
}

// Run is the event pump: it consumes the realtime stream and the
// overflow notifications, folds them into cache and tracker state, and
// fans the merged result out to subscribers. Meant to run supervised.
func (s *ChatService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-s.channel.Events():
			s.dispatch(ctx, evt)
		case out := <-s.channel.Dropped():
			s.onQueueOverflow(out)
		}
	}
}

// dispatch matches the event union exhaustively. A new event kind must
// be handled here, not silently skipped.
func (s *ChatService) dispatch(ctx context.Context, evt event.RealtimeEvent) {
	switch e := evt.(type) {
	case event.NewMessage:
		s.onNewMessage(ctx, e)
	case event.MessageRead:
		s.onMessageRead(e)
	case event.Typing:
		s.forwardActivity(e)
	case event.Presence:
		s.forwardActivity(e)
	default:
		s.log.Warn(fmt.Sprintf("Unhandled realtime event %T", evt))
	}
}

// --- streams ---

// ListChats returns a lazy, cancellable chat list stream. It emits the
// cache snapshot immediately, then again after a successful remote
// refresh, then on every relevant realtime event. A failed refresh
// re-emits the cached snapshot tagged stale instead of erroring.
func (s *ChatService) ListChats(ctx context.Context) (<-chan ChatsUpdate, context.CancelFunc) {
	id, ch := s.registry.SubscribeChats(s.cfg.SubscriberBuffer)
	s.registry.PublishChatsTo(id, ChatsUpdate{Chats: s.store.CachedChats()})

	go func() {
		chats, err := s.api.ListChats(ctx)
		if !s.registry.ChatsAlive(id) {
			// Subscriber cancelled while the call was in flight;
			// the result is discarded.
			return
		}
		if err != nil {
			s.log.Warn("Chat list refresh failed, serving cache", "error", err)
			s.registry.PublishChatsTo(id, ChatsUpdate{Chats: s.store.CachedChats(), Stale: true})
			return
		}
		for _, chat := range chats {
			s.store.UpsertChat(s.withLocalUnread(chat))
		}
		s.registry.PublishChats(ChatsUpdate{Chats: s.store.CachedChats()})
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { s.registry.UnsubscribeChats(id) })
	}
	return ch, cancel
}

// ObserveMessages returns the merged message stream of one chat:
// cached history first, refreshed from the API, then kept current by
// realtime events. Entries are deduplicated by id and ordered by
// (createdAt, id). The room is joined for the first subscriber and left
// when the last one cancels.
func (s *ChatService) ObserveMessages(ctx context.Context, chatID string) (<-chan TimelineUpdate, context.CancelFunc) {
	id, ch, first := s.registry.SubscribeTimeline(chatID, s.cfg.SubscriberBuffer)
	if first {
		s.channel.JoinRoom(chatID)
	}
	s.registry.PublishTimelineTo(chatID, id, TimelineUpdate{
		ChatID:   chatID,
		Messages: s.store.CachedMessages(chatID, s.cfg.HistoryLimit),
	})

	go func() {
		messages, err := s.api.GetMessages(ctx, chatID, nil, s.cfg.HistoryLimit)
		if !s.registry.TimelineAlive(chatID, id) {
			return
		}
		if err != nil {
			s.log.Warn("History refresh failed, serving cache", "chatId", chatID, "error", err)
			s.registry.PublishTimelineTo(chatID, id, TimelineUpdate{
				ChatID:   chatID,
				Messages: s.store.CachedMessages(chatID, s.cfg.HistoryLimit),
				Stale:    true,
			})
			return
		}
		s.store.UpsertMessages(chatID, messages)
		s.publishTimeline(chatID, false)
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if last := s.registry.UnsubscribeTimeline(chatID, id); last {
				s.channel.LeaveRoom(chatID)
			}
		})
	}
	return ch, cancel
}

// Activity exposes typing and presence events. Nothing on this stream
// is persisted.
func (s *ChatService) Activity() <-chan event.RealtimeEvent { return s.activity }

// --- chat lifecycle ---

// AccessOrCreateChat returns the one-to-one chat with peerID, creating
// it remotely when needed. Offline, it falls back to a cached chat with
// that peer; no implicit chat is fabricated when none is cached.
func (s *ChatService) AccessOrCreateChat(ctx context.Context, peerID string) (domain.Chat, error) {
	chat, err := s.api.AccessOrCreateChat(ctx, peerID)
	if err == nil {
		s.store.UpsertChat(s.withLocalUnread(chat))
		s.publishChats(false)
		return chat, nil
	}
	if !syncerr.IsRetryable(err) {
		return domain.Chat{}, err
	}

	cached, found := lo.Find(s.store.CachedChats(), func(c domain.Chat) bool {
		return !c.IsGroup && c.HasParticipant(peerID)
	})
	if !found {
		return domain.Chat{}, fmt.Errorf("%w: no cached chat with peer %s", syncerr.ErrUnavailable, peerID)
	}
	s.log.Debug("Serving cached chat, remote unavailable", "peerId", peerID, "chatId", cached.ID)
	return cached, nil
}

// CreateGroup creates a group chat. The group appears locally at once
// under a provisional id; the API result replaces it, and a failure
// rolls the provisional entry back.
func (s *ChatService) CreateGroup(ctx context.Context, cmd domain.CreateGroupCommand) (domain.Chat, error) {
	if err := domain.ValidateCommand(cmd); err != nil {
		return domain.Chat{}, fmt.Errorf("%w: %v", syncerr.ErrValidation, err)
	}

	now := time.Now().UTC()
	provisional := domain.Chat{
		ID:           "local-" + uuid.NewString(),
		DisplayName:  cmd.Name,
		IsGroup:      true,
		Participants: lo.Uniq(append([]string{s.cfg.UserID}, cmd.MemberIDs...)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.store.UpsertChat(provisional)
	s.publishChats(false)

	chat, err := s.api.CreateGroup(ctx, cmd.Name, cmd.MemberIDs)
	s.store.DeleteChat(provisional.ID)
	if err != nil {
		s.publishChats(false)
		return domain.Chat{}, err
	}
	s.store.UpsertChat(chat)
	s.publishChats(false)
	return chat, nil
}

// RenameGroup renames a group optimistically and rolls back on failure.
func (s *ChatService) RenameGroup(ctx context.Context, cmd domain.RenameGroupCommand) (domain.Chat, error) {
	if err := domain.ValidateCommand(cmd); err != nil {
		return domain.Chat{}, fmt.Errorf("%w: %v", syncerr.ErrValidation, err)
	}
	return s.optimisticChatUpdate(cmd.ChatID,
		func(chat domain.Chat) domain.Chat {
			chat.DisplayName = cmd.Name
			return chat
		},
		func() (domain.Chat, error) { return s.api.RenameGroup(ctx, cmd.ChatID, cmd.Name) },
	)
}

// AddMember adds a user to a group optimistically.
func (s *ChatService) AddMember(ctx context.Context, cmd domain.MembershipCommand) (domain.Chat, error) {
	if err := domain.ValidateCommand(cmd); err != nil {
		return domain.Chat{}, fmt.Errorf("%w: %v", syncerr.ErrValidation, err)
	}
	return s.optimisticChatUpdate(cmd.ChatID,
		func(chat domain.Chat) domain.Chat { return chat.WithParticipant(cmd.UserID) },
		func() (domain.Chat, error) { return s.api.AddMember(ctx, cmd.ChatID, cmd.UserID) },
	)
}

// RemoveMember removes a user from a group optimistically.
func (s *ChatService) RemoveMember(ctx context.Context, cmd domain.MembershipCommand) (domain.Chat, error) {
	if err := domain.ValidateCommand(cmd); err != nil {
		return domain.Chat{}, fmt.Errorf("%w: %v", syncerr.ErrValidation, err)
	}
	return s.optimisticChatUpdate(cmd.ChatID,
		func(chat domain.Chat) domain.Chat { return chat.WithoutParticipant(cmd.UserID) },
		func() (domain.Chat, error) { return s.api.RemoveMember(ctx, cmd.ChatID, cmd.UserID) },
	)
}

// optimisticChatUpdate applies a local mutation, issues the API call,
// and restores the previous state when the call fails.
func (s *ChatService) optimisticChatUpdate(chatID string,
	mutate func(domain.Chat) domain.Chat,
	call func() (domain.Chat, error)) (domain.Chat, error) {

	previous, cached := s.store.CachedChat(chatID)
	if cached {
		updated := mutate(previous)
		updated.UpdatedAt = time.Now().UTC()
		s.store.UpsertChat(updated)
		s.publishChats(false)
	}

	chat, err := call()
	if err != nil {
		if cached {
			s.store.UpsertChat(previous)
			s.publishChats(false)
		}
		return domain.Chat{}, err
	}
	s.store.UpsertChat(s.withLocalUnread(chat))
	s.publishChats(false)
	return chat, nil
}

// --- sending ---

// SendMessage creates a Pending message, emits it to observers at once,
// and hands it to the realtime channel (queued while offline). The ack
// arriving as a NewMessage echo advances it to Sent; if no ack lands
// within SendTimeout the REST path retries, and only after that path is
// exhausted does the message turn Failed. The original call never
// returns a send failure: callers observe it on the stream.
func (s *ChatService) SendMessage(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
	if err := domain.ValidateCommand(cmd); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", syncerr.ErrValidation, err)
	}

	message := domain.Message{
		ID:        uuid.NewString(),
		ChatID:    cmd.ChatID,
		SenderID:  s.cfg.UserID,
		Content:   cmd.Content,
		Type:      cmd.Type,
		Status:    domain.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	s.acceptOutgoing(message)
	return message, nil
}

// ResendFailed resends a failed message under a fresh id, linked to the
// original for UI grouping. Reusing the failed id is not allowed.
func (s *ChatService) ResendFailed(ctx context.Context, chatID, failedID string) (domain.Message, error) {
	failed, ok := lo.Find(s.store.CachedMessages(chatID, 0), func(m domain.Message) bool {
		return m.ID == failedID
	})
	if !ok || failed.Status != domain.StatusFailed {
		return domain.Message{}, fmt.Errorf("%w: message %s is not failed", syncerr.ErrValidation, failedID)
	}

	s.tracker.Forget(failedID)
	message := domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  s.cfg.UserID,
		Content:   failed.Content,
		Type:      failed.Type,
		Status:    domain.StatusPending,
		CreatedAt: time.Now().UTC(),
		RetryOf:   failedID,
	}
	s.acceptOutgoing(message)
	return message, nil
}

func (s *ChatService) acceptOutgoing(message domain.Message) {
	s.tracker.Track(message.ID)
	s.store.UpsertMessages(message.ChatID, []domain.Message{message})
	s.touchChat(message)
	s.publishTimeline(message.ChatID, false)
	s.publishChats(false)

	if err := s.channel.Send(event.Outbound{
		ClientMsgID: message.ID,
		RoomID:      message.ChatID,
		Content:     message.Content,
		Type:        message.Type,
	}); err != nil {
		s.log.Warn("Realtime send unavailable, REST fallback armed", "clientMsgId", message.ID, "error", err)
	}
	s.armAckTimer(message)
}

// armAckTimer schedules the REST fallback for a send that has not been
// acknowledged over the realtime channel in time.
func (s *ChatService) armAckTimer(message domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackTimers[message.ID] = time.AfterFunc(s.cfg.SendTimeout, func() {
		s.confirmViaAPI(message)
	})
}

func (s *ChatService) cancelAckTimer(clientMsgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.ackTimers[clientMsgID]; ok {
		timer.Stop()
		delete(s.ackTimers, clientMsgID)
	}
}

// confirmViaAPI is the retry path of last resort: the REST client
// retries transient failures internally, so any error here means the
// retries are exhausted and the message turns Failed.
func (s *ChatService) confirmViaAPI(message domain.Message) {
	if status, ok := s.tracker.Status(message.ID); !ok || status != domain.StatusPending {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()

	acked, err := s.api.SendMessage(ctx, message.ChatID, message.Content, message.Type, message.ID)
	if err == nil {
		if s.tracker.MarkSent(message.ID, acked.ServerID) {
			s.store.UpdateMessage(message.ChatID, message.ID, func(m *domain.Message) {
				m.Status = domain.StatusSent
				m.ServerID = acked.ServerID
			})
			s.publishTimeline(message.ChatID, false)
		}
		return
	}

	s.log.Warn("Send retries exhausted", "clientMsgId", message.ID, "error", err)
	if s.tracker.MarkFailed(message.ID) {
		s.store.UpdateMessage(message.ChatID, message.ID, func(m *domain.Message) {
			m.Status = domain.StatusFailed
			m.FailReason = err.Error()
		})
		s.publishTimeline(message.ChatID, false)
	}
}

// --- read state ---

// MarkRead records that the viewing user read a message, updating the
// local status and unread count immediately and acking the server
// asynchronously. Calling it twice for the same message is a no-op.
// The receipt is attached under the store's writer lock: a remote
// receipt for the same message folding in concurrently must accumulate,
// not overwrite.
func (s *ChatService) MarkRead(ctx context.Context, chatID, messageID string) error {
	var ackID string
	already := false
	found := s.store.UpdateMessage(chatID, messageID, func(m *domain.Message) {
		if m.IsReadBy(s.cfg.UserID) {
			already = true
			return
		}
		m.ReadBy = append(m.ReadBy, domain.ReadReceipt{
			UserID: s.cfg.UserID,
			ReadAt: time.Now().UTC(),
		})
		if m.SenderID != s.cfg.UserID && m.Status.Rank() < domain.StatusRead.Rank() {
			m.Status = domain.StatusRead
		}
		ackID = m.ServerID
		if ackID == "" {
			ackID = m.ID
		}
	})
	if !found {
		return fmt.Errorf("%w: unknown message %s", syncerr.ErrValidation, messageID)
	}
	if already {
		return nil
	}

	if chat, cached := s.store.CachedChat(chatID); cached {
		s.store.UpsertChat(s.withLocalUnread(chat))
	}
	s.publishTimeline(chatID, false)
	s.publishChats(false)

	go func() {
		if err := s.api.MarkRead(context.WithoutCancel(ctx), chatID, ackID); err != nil {
			s.log.Warn("Read ack not delivered", "chatId", chatID, "messageId", ackID, "error", err)
		}
	}()
	return nil
}

// --- realtime event handling ---

func (s *ChatService) onNewMessage(ctx context.Context, evt event.NewMessage) {
	message := evt.Message

	if message.SenderID == s.cfg.UserID {
		// Echo of one of our own sends: advance, never duplicate.
		if s.tracker.MarkSent(message.ID, message.ServerID) {
			s.cancelAckTimer(message.ID)
			if message.Status.Rank() < domain.StatusSent.Rank() {
				message.Status = domain.StatusSent
			}
		} else if status, tracked := s.tracker.Status(message.ID); tracked {
			// Duplicate delivery; keep the current rank.
			if status.Rank() > message.Status.Rank() {
				message.Status = status
			}
		}
	}

	s.store.UpsertMessages(message.ChatID, []domain.Message{message})
	s.ensureChatCached(ctx, message)
	s.touchChat(message)
	s.publishTimeline(message.ChatID, false)
	s.publishChats(false)
}

func (s *ChatService) onMessageRead(evt event.MessageRead) {
	// Our own sends are tracked by server id; a hit advances the FSM.
	if clientMsgID, changed := s.tracker.Advance(evt.MessageID, domain.StatusRead); changed {
		s.store.UpdateMessage(evt.Room, clientMsgID, func(m *domain.Message) {
			m.Status = domain.StatusRead
			if !m.IsReadBy(evt.ReaderID) {
				m.ReadBy = append(m.ReadBy, domain.ReadReceipt{UserID: evt.ReaderID, ReadAt: evt.ReadAt})
			}
		})
		s.publishTimeline(evt.Room, false)
		return
	}

	// Otherwise attach the receipt to the referenced message if cached.
	attached := false
	s.store.UpdateMessage(evt.Room, evt.MessageID, func(m *domain.Message) {
		if m.IsReadBy(evt.ReaderID) {
			return
		}
		m.ReadBy = append(m.ReadBy, domain.ReadReceipt{UserID: evt.ReaderID, ReadAt: evt.ReadAt})
		attached = true
	})
	if attached {
		if chat, cached := s.store.CachedChat(evt.Room); cached {
			s.store.UpsertChat(s.withLocalUnread(chat))
		}
		s.publishTimeline(evt.Room, false)
		s.publishChats(false)
	}
}

func (s *ChatService) onQueueOverflow(out event.Outbound) {
	s.log.Warn("Send evicted by queue overflow", "clientMsgId", out.ClientMsgID)
	s.cancelAckTimer(out.ClientMsgID)
	if !s.tracker.MarkFailed(out.ClientMsgID) {
		return
	}
	if s.store.UpdateMessage(out.RoomID, out.ClientMsgID, func(m *domain.Message) {
		m.Status = domain.StatusFailed
		m.FailReason = syncerr.ErrQueueOverflow.Error()
	}) {
		s.publishTimeline(out.RoomID, false)
	}
}

func (s *ChatService) forwardActivity(evt event.RealtimeEvent) {
	select {
	case s.activity <- evt:
	default:
		s.log.Debug("Activity event dropped, no consumer draining")
	}
}

// --- helpers ---

// ensureChatCached fabricates a minimal chat entry when a message
// arrives for an unknown chat (implicit creation on first message from
// a new peer) and refreshes the authoritative record in the background.
func (s *ChatService) ensureChatCached(ctx context.Context, message domain.Message) {
	if _, cached := s.store.CachedChat(message.ChatID); cached {
		return
	}
	now := time.Now().UTC()
	s.store.UpsertChat(domain.Chat{
		ID:           message.ChatID,
		Participants: lo.Uniq([]string{message.SenderID, s.cfg.UserID}),
		CreatedAt:    now,
		UpdatedAt:    now,
	})

	go func() {
		chats, err := s.api.ListChats(context.WithoutCancel(ctx))
		if err != nil {
			s.log.Debug("Background chat refresh failed", "error", err)
			return
		}
		for _, chat := range chats {
			s.store.UpsertChat(s.withLocalUnread(chat))
		}
		s.publishChats(false)
	}()
}

// touchChat refreshes a chat's recency and unread count after a message
// landed on its timeline.
func (s *ChatService) touchChat(message domain.Message) {
	chat, cached := s.store.CachedChat(message.ChatID)
	if !cached {
		return
	}
	chat.LastMessageID = message.ID
	if message.CreatedAt.After(chat.UpdatedAt) {
		chat.UpdatedAt = message.CreatedAt
	}
	s.store.UpsertChat(s.withLocalUnread(chat))
}

// withLocalUnread recomputes the unread counter from the cached
// timeline: messages from others carrying no read receipt of the
// viewing user.
func (s *ChatService) withLocalUnread(chat domain.Chat) domain.Chat {
	messages := s.store.CachedMessages(chat.ID, 0)
	chat.UnreadCount = lo.CountBy(messages, func(m domain.Message) bool {
		return m.SenderID != s.cfg.UserID && !m.IsReadBy(s.cfg.UserID)
	})
	return chat
}

func (s *ChatService) publishChats(stale bool) {
	s.registry.PublishChats(ChatsUpdate{Chats: s.store.CachedChats(), Stale: stale})
}

func (s *ChatService) publishTimeline(chatID string, stale bool) {
	s.registry.PublishTimeline(TimelineUpdate{
		ChatID:   chatID,
		Messages: s.store.CachedMessages(chatID, s.cfg.HistoryLimit),
		Stale:    stale,
	})
}
