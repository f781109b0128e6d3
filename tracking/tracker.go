// Package tracking holds the per-message delivery state machine.
// Transitions follow the total order Pending < Sent < Delivered < Read;
// applying an event at or below the current rank is a no-op, which makes
// the tracker idempotent under duplicated or reordered delivery.
package tracking

import (
	"log/slog"
	"sync"

	"chat-sync/domain"
)

type entry struct {
	status   domain.MessageStatus
	serverID string
}

// Tracker correlates delivery events with their messages. Sent is
// matched by clientMsgId (the message id minted at send time);
// Delivered and Read arrive keyed by the server-assigned id handed back
// at Sent time.
type Tracker struct {
	mu       sync.Mutex
	byClient map[string]*entry
	byServer map[string]string // server id -> client id
	log      *slog.Logger
}

func NewTracker(log *slog.Logger) *Tracker {
	return &Tracker{
		byClient: make(map[string]*entry),
		byServer: make(map[string]string),
		log:      log,
	}
}

// Track registers a freshly created message in Pending state.
// Tracking an already known id is a no-op.
func (t *Tracker) Track(clientMsgID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byClient[clientMsgID]; ok {
		return
	}
	t.byClient[clientMsgID] = &entry{status: domain.StatusPending}
}

// MarkSent advances a message to Sent and records the server id for
// later Delivered/Read correlation. Reports whether the state changed.
func (t *Tracker) MarkSent(clientMsgID, serverID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byClient[clientMsgID]
	if !ok {
		// A send we never issued; nothing to advance.
		return false
	}
	if serverID != "" {
		t.byServer[serverID] = clientMsgID
		e.serverID = serverID
	}
	return t.advance(clientMsgID, e, domain.StatusSent)
}

// Advance moves the message known under serverID to status.
// Returns the owning clientMsgId and whether the state changed.
func (t *Tracker) Advance(serverID string, status domain.MessageStatus) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	clientMsgID, ok := t.byServer[serverID]
	if !ok {
		return "", false
	}
	e := t.byClient[clientMsgID]
	return clientMsgID, t.advance(clientMsgID, e, status)
}

// MarkFailed moves a message to Failed. Only a Pending message can fail;
// a message already acknowledged keeps its delivery state.
func (t *Tracker) MarkFailed(clientMsgID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byClient[clientMsgID]
	if !ok || e.status != domain.StatusPending {
		return false
	}
	e.status = domain.StatusFailed
	return true
}

// Status reports the tracked state of a message.
func (t *Tracker) Status(clientMsgID string) (domain.MessageStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byClient[clientMsgID]
	if !ok {
		return 0, false
	}
	return e.status, true
}

// Forget drops a terminal message from the tracker. Called after a
// Failed message has been resent under a fresh id.
func (t *Tracker) Forget(clientMsgID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byClient[clientMsgID]
	if !ok {
		return
	}
	if e.serverID != "" {
		delete(t.byServer, e.serverID)
	}
	delete(t.byClient, clientMsgID)
}

// advance applies the monotonic rank rule. Failed is terminal: a late
// ack for a message already marked Failed is ignored.
func (t *Tracker) advance(clientMsgID string, e *entry, status domain.MessageStatus) bool {
	if e.status == domain.StatusFailed {
		t.log.Debug("Ignoring ack for failed message", "clientMsgId", clientMsgID)
		return false
	}
	if status.Rank() <= e.status.Rank() {
		return false
	}
	e.status = status
	return true
}
