package services

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"chat-sync/domain"
)

// ChatsUpdate is one emission of the reactive chat list. Stale marks a
// snapshot served from cache after a failed remote refresh.
type ChatsUpdate struct {
	Chats []domain.Chat
	Stale bool
}

// TimelineUpdate is one emission of a per-chat message stream.
type TimelineUpdate struct {
	ChatID   string
	Messages []domain.Message
	Stale    bool
}

// Registry tracks stream subscribers. Chat list subscribers are global;
// timeline subscribers are grouped per chat with a reference count, so a
// room is joined on the first subscriber and left with the last one.
// Cancelling one subscriber never disturbs the others.
type Registry struct {
	mu        sync.RWMutex
	log       *slog.Logger
	chatLists map[uuid.UUID]chan ChatsUpdate
	timelines map[string]map[uuid.UUID]chan TimelineUpdate
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:       log,
		chatLists: make(map[uuid.UUID]chan ChatsUpdate),
		timelines: make(map[string]map[uuid.UUID]chan TimelineUpdate),
	}
}

func (r *Registry) SubscribeChats(buffer int) (uuid.UUID, chan ChatsUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	ch := make(chan ChatsUpdate, buffer)
	r.chatLists[id] = ch
	return id, ch
}

func (r *Registry) UnsubscribeChats(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.chatLists[id]; ok {
		delete(r.chatLists, id)
		close(ch)
	}
}

// SubscribeTimeline registers a subscriber for one chat. The second
// return value reports whether this is the chat's first subscriber and
// the room must therefore be joined.
func (r *Registry) SubscribeTimeline(chatID string, buffer int) (uuid.UUID, chan TimelineUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New()
	ch := make(chan TimelineUpdate, buffer)
	subs, ok := r.timelines[chatID]
	if !ok {
		subs = make(map[uuid.UUID]chan TimelineUpdate)
		r.timelines[chatID] = subs
	}
	subs[id] = ch
	return id, ch, len(subs) == 1
}

// UnsubscribeTimeline drops one subscriber. Reports whether the chat
// lost its last subscriber and the room can be left. No empty sets are
// left behind.
func (r *Registry) UnsubscribeTimeline(chatID string, id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.timelines[chatID]
	if !ok {
		return false
	}
	if ch, ok := subs[id]; ok {
		delete(subs, id)
		close(ch)
	}
	if len(subs) == 0 {
		delete(r.timelines, chatID)
		return true
	}
	return false
}

// ChatsAlive reports whether a chat list subscription is still active.
// Used to discard results of API calls that outlived their subscriber.
func (r *Registry) ChatsAlive(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.chatLists[id]
	return ok
}

// TimelineAlive reports whether a timeline subscription is still active.
func (r *Registry) TimelineAlive(chatID string, id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs, ok := r.timelines[chatID]
	if !ok {
		return false
	}
	_, ok = subs[id]
	return ok
}

// PublishChats fans an update out to every chat list subscriber. The
// send is best-effort: a subscriber that stopped draining loses the
// intermediate emission, never blocks the pump.
func (r *Registry) PublishChats(update ChatsUpdate) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, ch := range r.chatLists {
		select {
		case ch <- update:
		default:
			r.log.Debug("Chat list subscriber lagging, emission dropped", "subscriber", id)
		}
	}
}

// PublishTimeline fans an update out to one chat's subscribers.
func (r *Registry) PublishTimeline(update TimelineUpdate) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, ch := range r.timelines[update.ChatID] {
		select {
		case ch <- update:
		default:
			r.log.Debug("Timeline subscriber lagging, emission dropped",
				"chatId", update.ChatID, "subscriber", id)
		}
	}
}

// PublishChatsTo targets a single subscriber, used for the initial
// cache snapshot so late subscribers don't replay it to everyone.
func (r *Registry) PublishChatsTo(id uuid.UUID, update ChatsUpdate) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.chatLists[id]
	if !ok {
		return
	}
	select {
	case ch <- update:
	default:
		r.log.Debug("Chat list subscriber lagging, emission dropped", "subscriber", id)
	}
}

// PublishTimelineTo targets a single timeline subscriber.
func (r *Registry) PublishTimelineTo(chatID string, id uuid.UUID, update TimelineUpdate) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.timelines[chatID][id]
	if !ok {
		return
	}
	select {
	case ch <- update:
	default:
		r.log.Debug("Timeline subscriber lagging, emission dropped",
			"chatId", chatID, "subscriber", id)
	}
}
