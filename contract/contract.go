//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"chat-sync/domain"
	"chat-sync/domain/event"
)

// Store is the local cache consulted first by the service and used as the
// sole fallback when the network is down. Implementations never fail the
// caller: storage errors degrade to cache misses.
type Store interface {
	UpsertChat(chat domain.Chat)
	DeleteChat(chatID string)
	UpsertMessages(chatID string, messages []domain.Message)
	UpdateMessage(chatID, ref string, mutate func(*domain.Message)) bool
	CachedChats() []domain.Chat
	CachedChat(chatID string) (domain.Chat, bool)
	CachedMessages(chatID string, limit int) []domain.Message
	PurgeStale(olderThan time.Time)
}

// APIClient covers the request/response surface of the remote chat
// service. Transient failures are retried internally; everything else
// returns a typed error.
type APIClient interface {
	AccessOrCreateChat(ctx context.Context, peerID string) (domain.Chat, error)
	CreateGroup(ctx context.Context, name string, memberIDs []string) (domain.Chat, error)
	RenameGroup(ctx context.Context, chatID, name string) (domain.Chat, error)
	AddMember(ctx context.Context, chatID, userID string) (domain.Chat, error)
	RemoveMember(ctx context.Context, chatID, userID string) (domain.Chat, error)
	ListChats(ctx context.Context) ([]domain.Chat, error)
	GetMessages(ctx context.Context, chatID string, before *string, limit int) ([]domain.Message, error)
	SendMessage(ctx context.Context, chatID, content string, msgType domain.MessageType, clientMsgID string) (domain.Message, error)
	MarkRead(ctx context.Context, chatID, messageID string) error
}

// Channel is the single multiplexed realtime connection. Its connection
// worker owns connect/reconnect/backoff; Send buffers while disconnected.
type Channel interface {
	Worker
	JoinRoom(roomID string)
	LeaveRoom(roomID string)
	Send(out event.Outbound) error
	Events() <-chan event.RealtimeEvent
	Dropped() <-chan event.Outbound
	Connected() bool
	Close(ctx context.Context) error
}

// Worker doesn't protect itself.
// Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
