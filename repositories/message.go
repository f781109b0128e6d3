//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"chat-sync/domain"
)

type IMessageRepository interface {
	StoreMessage(message domain.Message) error
	GetMessages(chatID string, cursor *string) ([]domain.Message, *string, error)
	PurgeOlderThan(cutoff time.Time, keep func(domain.Message) bool) (int, error)
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

// messageKey builds "msg:{chatId}:{timestamp_padded}:{id}" so that:
//  1. A prefix scan per chat returns entries in chronological order
//     (19-digit zero padding keeps lexicographic order aligned with time).
//  2. The id acts as a collision disconnector if two messages land on
//     the same nanosecond.
//
// CreatedAt and ID are immutable, so a status update rewrites the same key.
func messageKey(m domain.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", m.ChatID, m.CreatedAt.UnixNano(), m.ID))
}

// StoreMessage persists a message as its wire JSON document. Writing an
// existing key is a last-writer-wins overwrite.
func (m MessageRepository) StoreMessage(message domain.Message) error {
	bytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message), bytes)
	})
}

// GetMessages retrieves messages for one chat using a reverse prefix scan,
// newest first, then flips the page so callers receive chronological
// order. The returned cursor resumes the scan on the next call; an
// exhausted scan returns a nil cursor so paging stops instead of
// wrapping around to the first page.
func (m MessageRepository) GetMessages(chatID string, cursor *string) ([]domain.Message, *string, error) {
	var pages [][]byte
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("msg:%s:", chatID)
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible timestamp, then walk backwards.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(pages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *m.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				pages = append(pages, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if len(pages) == 0 {
		return nil, nil, nil
	}

	var messages []domain.Message
	for _, b := range pages {
		var message domain.Message
		if err = json.Unmarshal(b, &message); err != nil {
			return nil, nil, err
		}
		messages = append(messages, message)
	}
	return lo.Reverse(messages), &lastKey, nil
}

// PurgeOlderThan deletes messages created before cutoff, skipping any
// entry for which keep returns true. Returns the number of deletions.
func (m MessageRepository) PurgeOlderThan(cutoff time.Time, keep func(domain.Message) bool) (int, error) {
	var doomed [][]byte
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte("msg:")
		options := badger.DefaultIteratorOptions
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(value []byte) error {
				var message domain.Message
				if err := json.Unmarshal(value, &message); err != nil {
					// An unreadable entry is treated as stale.
					doomed = append(doomed, item.KeyCopy(nil))
					return nil
				}
				if message.CreatedAt.Before(cutoff) && !keep(message) {
					doomed = append(doomed, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(doomed), nil
}
