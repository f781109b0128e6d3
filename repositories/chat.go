//go:generate go run go.uber.org/mock/mockgen -source=chat.go -destination=../mocks/mock_chat_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"chat-sync/domain"
)

type IChatRepository interface {
	StoreChat(chat domain.Chat) error
	GetChats() ([]domain.Chat, error)
	DeleteChat(chatID string) error
}

type ChatRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewChatRepository(db *badger.DB, log *slog.Logger) ChatRepository {
	return ChatRepository{db: db, log: log}
}

func chatKey(chatID string) []byte {
	return []byte(fmt.Sprintf("chat:%s", chatID))
}

// StoreChat persists a chat as its wire JSON document, last writer wins.
func (c ChatRepository) StoreChat(chat domain.Chat) error {
	bytes, err := json.Marshal(chat)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chatKey(chat.ID), bytes)
	})
}

// GetChats loads every cached chat. Ordering is left to the snapshot
// layer, which sorts by recency before exposing the list.
func (c ChatRepository) GetChats() ([]domain.Chat, error) {
	var pages [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		prefix := []byte("chat:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
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
		return nil, err
	}

	var chats []domain.Chat
	for _, b := range pages {
		var chat domain.Chat
		if err = json.Unmarshal(b, &chat); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// DeleteChat removes a chat document. Used only to roll back an
// optimistic group creation; synced chats are never deleted.
func (c ChatRepository) DeleteChat(chatID string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(chatKey(chatID))
	})
}
