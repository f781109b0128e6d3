// Package realtime manages the single multiplexed websocket connection
// carrying all room traffic. One worker owns the connection lifecycle:
// it dials, re-joins rooms after a drop, and reconnects with exponential
// backoff. A second, per-connection goroutine drains the bounded
// outgoing queue, so frames queued while offline are replayed in their
// original order on reconnect.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"chat-sync/auth"
	"chat-sync/contract"
	"chat-sync/domain/event"
	syncerr "chat-sync/errors"
)

// Ensure *Channel implements the contract.Channel interface at compile time.
var _ contract.Channel = (*Channel)(nil)

type Config struct {
	URL       string
	AuthToken string
	// QueueCapacity bounds the offline send buffer; oldest entries are
	// evicted on overflow. Default 200.
	QueueCapacity int
	BaseDelay     time.Duration // reconnect backoff base, default 500ms
	MaxDelay      time.Duration // reconnect backoff cap, default 30s
	// CloseFlushTimeout bounds the opportunistic queue flush in Close.
	CloseFlushTimeout time.Duration
	EventBuffer       int
}

func (c *Config) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 200
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.CloseFlushTimeout <= 0 {
		c.CloseFlushTimeout = 2 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

type Channel struct {
	log    *slog.Logger
	cfg    Config
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	rooms   map[string]struct{}
	lastSeq map[string]uint64

	// writeMu serializes every write to the connection: the drain
	// goroutine and subscription frames share one websocket writer.
	writeMu sync.Mutex

	queue   *sendQueue
	events  chan event.RealtimeEvent
	dropped chan event.Outbound

	closed atomic.Bool
	done   chan struct{}
}

func NewChannel(cfg Config, log *slog.Logger) *Channel {
	cfg.applyDefaults()
	return &Channel{
		log:     log,
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		rooms:   make(map[string]struct{}),
		lastSeq: make(map[string]uint64),
		queue:   newSendQueue(cfg.QueueCapacity),
		events:  make(chan event.RealtimeEvent, cfg.EventBuffer),
		dropped: make(chan event.Outbound, 16),
		done:    make(chan struct{}),
	}
}

// Run owns the connection for the channel's whole lifetime. It is meant
// to be supervised: the loop only returns when the context is cancelled,
// the channel is closed, or the token is rejected outright.
func (c *Channel) Run(ctx context.Context) error {
	if err := auth.Inspect(c.cfg.AuthToken); err != nil {
		// Fatal: a rejected token never recovers by retrying.
		c.log.Error("Refusing to dial", "error", err)
		return nil
	}

	policy := c.newBackoffPolicy()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.closed.Load() {
			return nil
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if errors.Is(err, syncerr.ErrAuth) {
				c.log.Error("Handshake rejected", "error", err)
				return nil
			}
			if !c.sleep(ctx, policy.NextBackOff(), err) {
				return ctx.Err()
			}
			continue
		}
		policy.Reset()

		if err := c.attach(conn); err != nil {
			_ = conn.Close()
			if !c.sleep(ctx, policy.NextBackOff(), err) {
				return ctx.Err()
			}
			continue
		}

		err = c.session(ctx, conn)
		c.detach()

		if c.closed.Load() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.sleep(ctx, policy.NextBackOff(), err) {
			return ctx.Err()
		}
	}
}

// session reads frames until the connection dies, with the drain
// goroutine pushing queued frames out in parallel. A watcher closes the
// connection on cancellation or Close, since that is the only way to
// unblock a pending ReadMessage.
func (c *Channel) session(ctx context.Context, conn *websocket.Conn) error {
	drainCtx, stopDrain := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.drainLoop(drainCtx, conn)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-drainCtx.Done():
		case <-c.done:
		}
		_ = conn.Close()
	}()

	err := c.readLoop(ctx, conn)

	stopDrain()
	_ = conn.Close()
	c.queue.wake() // unblock the drain goroutine if it is idle
	wg.Wait()
	return err
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env event.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// One bad frame never kills the stream.
			c.log.Warn("Dropping malformed frame", "error", err)
			continue
		}
		if env.Type == event.TypeSubscribed {
			c.log.Debug("Room subscription acknowledged", "roomId", env.RoomID)
			continue
		}

		evt, err := event.Decode(env)
		if err != nil {
			c.log.Warn("Dropping malformed frame", "error", err)
			continue
		}
		if !c.admit(evt) {
			continue
		}

		select {
		case c.events <- evt:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		}
	}
}

// admit enforces per-room sequence monotonicity: a frame older than the
// last one seen for its room is a stale redelivery and is dropped.
func (c *Channel) admit(evt event.RealtimeEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastSeq[evt.RoomID()]; ok && evt.Seq() < last {
		c.log.Debug("Dropping stale frame",
			"roomId", evt.RoomID(), "sequence", evt.Seq(), "lastSequence", last)
		return false
	}
	c.lastSeq[evt.RoomID()] = evt.Seq()
	return true
}

func (c *Channel) drainLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		out, ok := c.queue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-c.queue.Wait():
				continue
			}
		}

		c.writeMu.Lock()
		err := conn.WriteJSON(out)
		c.writeMu.Unlock()
		if err != nil {
			// The connection died mid-drain. Keep the frame for the
			// next session so replay stays loss-free.
			c.queue.PushFront(out)
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.AuthToken)

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", syncerr.ErrAuth, resp.StatusCode)
		}
		return nil, &syncerr.NetworkError{Op: "dial " + c.cfg.URL, Err: err}
	}
	return conn, nil
}

// attach publishes the live connection and re-joins every room the
// channel was subscribed to before the drop.
func (c *Channel) attach(conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	rooms := lo.Keys(c.rooms)
	c.mu.Unlock()

	for _, roomID := range rooms {
		if err := c.writeControl(conn, event.NewSubscribe(roomID)); err != nil {
			return fmt.Errorf("re-joining room %s: %w", roomID, err)
		}
	}
	c.log.Info("Realtime channel connected", "rooms", len(rooms), "queued", c.queue.Len())
	return nil
}

func (c *Channel) detach() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

// JoinRoom subscribes to a room's traffic. The membership is remembered
// so every reconnect re-subscribes; a failed live subscribe frame is
// recovered by the next reconnect for the same reason.
func (c *Channel) JoinRoom(roomID string) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.writeControl(conn, event.NewSubscribe(roomID)); err != nil {
			c.log.Warn("Subscribe frame failed, will retry on reconnect", "roomId", roomID, "error", err)
		}
	}
}

// LeaveRoom forgets a room so reconnects stop re-joining it.
func (c *Channel) LeaveRoom(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// Send queues an outgoing frame. While connected the drain worker picks
// it up immediately; while offline it waits for the next session. On
// overflow the oldest frame is evicted and reported on Dropped, and the
// caller is expected to resend it explicitly.
func (c *Channel) Send(out event.Outbound) error {
	if c.closed.Load() {
		return syncerr.ErrChannelClosed
	}
	if evicted := c.queue.Push(out); evicted != nil {
		c.log.Warn("Outgoing queue overflow, evicting oldest",
			"clientMsgId", evicted.ClientMsgID)
		select {
		case c.dropped <- *evicted:
		default:
			c.log.Warn("Overflow notification lost", "clientMsgId", evicted.ClientMsgID)
		}
	}
	return nil
}

// Events exposes the inbound stream. The channel never closes it;
// consumers stop by cancelling their own context.
func (c *Channel) Events() <-chan event.RealtimeEvent { return c.events }

// Dropped reports frames evicted by queue overflow.
func (c *Channel) Dropped() <-chan event.Outbound { return c.dropped }

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// QueueDepth is exported for the heartbeat worker.
func (c *Channel) QueueDepth() int { return c.queue.Len() }

// Close drains the queue opportunistically within CloseFlushTimeout,
// then tears the connection down. It never blocks indefinitely.
func (c *Channel) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	deadline := time.NewTimer(c.cfg.CloseFlushTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

flush:
	for c.Connected() && c.queue.Len() > 0 {
		select {
		case <-ctx.Done():
			break flush
		case <-deadline.C:
			c.log.Warn("Close flush timed out", "remaining", c.queue.Len())
			break flush
		case <-ticker.C:
		}
	}

	close(c.done)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(100*time.Millisecond))
		_ = conn.Close()
	}
	return nil
}

func (c *Channel) writeControl(conn *websocket.Conn, frame any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

func (c *Channel) newBackoffPolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.BaseDelay
	policy.Multiplier = 2
	policy.MaxInterval = c.cfg.MaxDelay
	policy.RandomizationFactor = 0.2
	policy.MaxElapsedTime = 0
	return policy
}

// sleep waits for the backoff delay, honouring cancellation and close.
// Reports false when the wait was interrupted by the context.
func (c *Channel) sleep(ctx context.Context, delay time.Duration, cause error) bool {
	c.log.Warn("Realtime channel disconnected, backing off", "delay", delay, "error", cause)
	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return true
	case <-time.After(delay):
		return true
	}
}
