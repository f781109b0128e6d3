// Package store implements the local chat cache: a versioned in-memory
// snapshot backed by BadgerDB. Readers load the current snapshot through
// an atomic pointer and never block; a single writer mutates copies and
// publishes the next version. Storage failures are logged and degrade to
// cache misses, they never reach the caller.
package store

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/repositories"
)

// Ensure *Store implements the contract.Store interface at compile time.
var _ contract.Store = (*Store)(nil)

type snapshot struct {
	version  uint64
	chats    map[string]domain.Chat
	messages map[string][]domain.Message // ascending (CreatedAt, ID) per chat
}

type Store struct {
	mu       sync.Mutex // serializes writers only, readers go through snap
	snap     atomic.Pointer[snapshot]
	chats    repositories.IChatRepository
	messages repositories.IMessageRepository
	log      *slog.Logger
	// maxPerChat bounds the cached tail kept per chat; zero means unbounded.
	maxPerChat int
}

func New(chats repositories.IChatRepository, messages repositories.IMessageRepository,
	log *slog.Logger, maxPerChat int) *Store {
	s := &Store{chats: chats, messages: messages, log: log, maxPerChat: maxPerChat}
	s.snap.Store(&snapshot{
		chats:    make(map[string]domain.Chat),
		messages: make(map[string][]domain.Message),
	})
	return s
}

// Load warms the snapshot from disk. A failing read leaves the affected
// collection empty: the cache starts cold instead of failing startup.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := &snapshot{
		version:  s.snap.Load().version + 1,
		chats:    make(map[string]domain.Chat),
		messages: make(map[string][]domain.Message),
	}

	chats, err := s.chats.GetChats()
	if err != nil {
		s.log.Warn("Cache warmup skipped chats", "error", err)
	}
	for _, chat := range chats {
		next.chats[chat.ID] = chat
		messages, _, err := s.messages.GetMessages(chat.ID, nil)
		if err != nil {
			s.log.Warn("Cache warmup skipped messages", "chatId", chat.ID, "error", err)
			continue
		}
		next.messages[chat.ID] = messages
	}
	s.snap.Store(next)
}

// UpsertChat records a chat, last writer wins.
func (s *Store) UpsertChat(chat domain.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	next.chats[chat.ID] = chat
	s.snap.Store(next)

	if err := s.chats.StoreChat(chat); err != nil {
		s.log.Warn("Chat not persisted, cache kept in memory", "chatId", chat.ID, "error", err)
	}
}

// DeleteChat drops a chat and its messages from the cache. Only used to
// roll back an optimistic group creation.
func (s *Store) DeleteChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	delete(next.chats, chatID)
	delete(next.messages, chatID)
	s.snap.Store(next)

	if err := s.chats.DeleteChat(chatID); err != nil {
		s.log.Warn("Chat not deleted from disk", "chatId", chatID, "error", err)
	}
}

// UpsertMessages merges messages into one chat's timeline. Each id
// appears at most once (last writer wins) and the merged slice stays
// ordered by (CreatedAt, ID). The bounded tail never evicts Pending or
// Failed entries.
func (s *Store) UpsertMessages(chatID string, messages []domain.Message) {
	if len(messages) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	merged := mergeMessages(next.messages[chatID], messages)
	merged = s.capTail(merged)
	next.messages[chatID] = merged
	s.snap.Store(next)

	for _, message := range messages {
		if err := s.messages.StoreMessage(message); err != nil {
			s.log.Warn("Message not persisted, cache kept in memory",
				"messageId", message.ID, "error", err)
		}
	}
}

// UpdateMessage applies mutate to one cached message under the writer
// lock. ref matches the message id or its server id. Concurrent
// read-modify-writes of the same message (a local read receipt racing a
// remote one) serialize here instead of overwriting each other.
// Reports whether a message matched.
func (s *Store) UpdateMessage(chatID, ref string, mutate func(*domain.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.snap.Load().messages[chatID]
	i := -1
	for j := range current {
		if current[j].ID == ref || (current[j].ServerID != "" && current[j].ServerID == ref) {
			i = j
			break
		}
	}
	if i < 0 {
		return false
	}

	next := s.clone()
	timeline := append([]domain.Message(nil), current...)
	mutate(&timeline[i])
	next.messages[chatID] = timeline
	s.snap.Store(next)

	if err := s.messages.StoreMessage(timeline[i]); err != nil {
		s.log.Warn("Message not persisted, cache kept in memory",
			"messageId", timeline[i].ID, "error", err)
	}
	return true
}

// CachedChats returns the snapshot's chats ordered by recency.
func (s *Store) CachedChats() []domain.Chat {
	snap := s.snap.Load()
	chats := lo.Values(snap.chats)
	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
		}
		return chats[i].ID < chats[j].ID
	})
	return chats
}

func (s *Store) CachedChat(chatID string) (domain.Chat, bool) {
	chat, ok := s.snap.Load().chats[chatID]
	return chat, ok
}

// CachedMessages returns up to limit of the newest messages of a chat in
// chronological order. limit <= 0 returns the whole cached timeline.
func (s *Store) CachedMessages(chatID string, limit int) []domain.Message {
	timeline := s.snap.Load().messages[chatID]
	if limit > 0 && len(timeline) > limit {
		timeline = timeline[len(timeline)-limit:]
	}
	// Copy so callers can't mutate the published snapshot.
	return append([]domain.Message(nil), timeline...)
}

// PurgeStale evicts messages created before olderThan. A message is
// protected when its status is Pending or Failed, or when its chat still
// has unread messages.
func (s *Store) PurgeStale(olderThan time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	keep := func(m domain.Message) bool {
		if m.Status == domain.StatusPending || m.Status == domain.StatusFailed {
			return true
		}
		if chat, ok := next.chats[m.ChatID]; ok && chat.UnreadCount > 0 {
			return true
		}
		return false
	}

	for chatID, timeline := range next.messages {
		next.messages[chatID] = lo.Filter(timeline, func(m domain.Message, _ int) bool {
			return !m.CreatedAt.Before(olderThan) || keep(m)
		})
	}
	s.snap.Store(next)

	deleted, err := s.messages.PurgeOlderThan(olderThan, keep)
	if err != nil {
		s.log.Warn("Purge did not reach the disk", "error", err)
		return
	}
	s.log.Debug(fmt.Sprintf("Purged %d stale messages", deleted))
}

// Version returns the published snapshot version, useful to assert that
// reads observed a given write.
func (s *Store) Version() uint64 {
	return s.snap.Load().version
}

// clone copies the current snapshot so the writer can mutate freely
// before publishing. Message slices are shared until replaced; writers
// always build fresh slices for the chats they touch.
func (s *Store) clone() *snapshot {
	current := s.snap.Load()
	next := &snapshot{
		version:  current.version + 1,
		chats:    make(map[string]domain.Chat, len(current.chats)),
		messages: make(map[string][]domain.Message, len(current.messages)),
	}
	for id, chat := range current.chats {
		next.chats[id] = chat
	}
	for id, timeline := range current.messages {
		next.messages[id] = timeline
	}
	return next
}

func (s *Store) capTail(timeline []domain.Message) []domain.Message {
	if s.maxPerChat <= 0 || len(timeline) <= s.maxPerChat {
		return timeline
	}
	overflow := len(timeline) - s.maxPerChat
	kept := make([]domain.Message, 0, s.maxPerChat)
	dropped := 0
	for _, m := range timeline {
		if dropped < overflow && m.Status != domain.StatusPending && m.Status != domain.StatusFailed {
			dropped++
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// mergeMessages folds updates into an ordered timeline, deduplicating by
// id. An update for a known id replaces the entry in place.
func mergeMessages(timeline, updates []domain.Message) []domain.Message {
	byID := make(map[string]int, len(timeline))
	merged := append([]domain.Message(nil), timeline...)
	for i, m := range merged {
		byID[m.ID] = i
	}
	resort := false
	for _, update := range updates {
		if i, ok := byID[update.ID]; ok {
			if !merged[i].CreatedAt.Equal(update.CreatedAt) {
				resort = true
			}
			merged[i] = update
			continue
		}
		byID[update.ID] = len(merged)
		merged = append(merged, update)
		resort = true
	}
	if resort {
		sort.Slice(merged, func(i, j int) bool { return merged[i].Before(merged[j]) })
	}
	return merged
}
