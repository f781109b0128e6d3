// Package api implements the stateless REST client of the remote chat
// service. JSON field names follow the remote wire format and must be
// preserved bit-for-bit. Transient failures are retried with exponential
// backoff before surfacing; 4xx responses map to the typed taxonomy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"chat-sync/contract"
	"chat-sync/domain"
	syncerr "chat-sync/errors"
)

// Ensure *Client implements the contract.APIClient interface at compile time.
var _ contract.APIClient = (*Client)(nil)

type Config struct {
	BaseURL     string
	AuthToken   string
	CallTimeout time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type Client struct {
	http *http.Client
	cfg  Config
	log  *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Client{
		http: &http.Client{Timeout: cfg.CallTimeout},
		cfg:  cfg,
		log:  log,
	}
}

type createChatRequest struct {
	UserID string `json:"userId"`
}

type createGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

type renameGroupRequest struct {
	Name string `json:"name"`
}

type memberRequest struct {
	UserID string `json:"userId"`
}

type sendMessageRequest struct {
	Content     string             `json:"content"`
	MessageType domain.MessageType `json:"messageType"`
	ClientMsgID string             `json:"clientMsgId"`
}

func (c *Client) AccessOrCreateChat(ctx context.Context, peerID string) (domain.Chat, error) {
	var chat domain.Chat
	err := c.call(ctx, http.MethodPost, "/chats", createChatRequest{UserID: peerID}, &chat)
	return chat, err
}

func (c *Client) CreateGroup(ctx context.Context, name string, memberIDs []string) (domain.Chat, error) {
	var chat domain.Chat
	err := c.call(ctx, http.MethodPost, "/chats/group", createGroupRequest{Name: name, MemberIDs: memberIDs}, &chat)
	return chat, err
}

func (c *Client) RenameGroup(ctx context.Context, chatID, name string) (domain.Chat, error) {
	var chat domain.Chat
	path := fmt.Sprintf("/chats/%s/name", url.PathEscape(chatID))
	err := c.call(ctx, http.MethodPut, path, renameGroupRequest{Name: name}, &chat)
	return chat, err
}

func (c *Client) AddMember(ctx context.Context, chatID, userID string) (domain.Chat, error) {
	var chat domain.Chat
	path := fmt.Sprintf("/chats/%s/members", url.PathEscape(chatID))
	err := c.call(ctx, http.MethodPost, path, memberRequest{UserID: userID}, &chat)
	return chat, err
}

func (c *Client) RemoveMember(ctx context.Context, chatID, userID string) (domain.Chat, error) {
	var chat domain.Chat
	path := fmt.Sprintf("/chats/%s/members/%s", url.PathEscape(chatID), url.PathEscape(userID))
	err := c.call(ctx, http.MethodDelete, path, nil, &chat)
	return chat, err
}

func (c *Client) ListChats(ctx context.Context) ([]domain.Chat, error) {
	var chats []domain.Chat
	err := c.call(ctx, http.MethodGet, "/chats", nil, &chats)
	return chats, err
}

func (c *Client) GetMessages(ctx context.Context, chatID string, before *string, limit int) ([]domain.Message, error) {
	path := fmt.Sprintf("/chats/%s/messages", url.PathEscape(chatID))
	query := url.Values{}
	if before != nil {
		query.Set("before", *before)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var messages []domain.Message
	err := c.call(ctx, http.MethodGet, path, nil, &messages)
	return messages, err
}

func (c *Client) SendMessage(ctx context.Context, chatID, content string,
	msgType domain.MessageType, clientMsgID string) (domain.Message, error) {
	path := fmt.Sprintf("/chats/%s/messages", url.PathEscape(chatID))
	body := sendMessageRequest{Content: content, MessageType: msgType, ClientMsgID: clientMsgID}
	var message domain.Message
	err := c.call(ctx, http.MethodPost, path, body, &message)
	return message, err
}

func (c *Client) MarkRead(ctx context.Context, chatID, messageID string) error {
	path := fmt.Sprintf("/chats/%s/messages/%s/read", url.PathEscape(chatID), url.PathEscape(messageID))
	return c.call(ctx, http.MethodPut, path, nil, nil)
}

// call performs one REST operation with the configured retry policy.
// Transport failures and 5xx responses are retried up to MaxAttempts with
// the same backoff shape as the realtime reconnect loop; everything else
// stops the retry immediately and propagates as a typed error.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	op := func() error {
		return c.once(ctx, method, path, body, out)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.BaseDelay
	policy.Multiplier = 2
	policy.MaxInterval = c.cfg.MaxDelay
	policy.RandomizationFactor = 0.2
	policy.MaxElapsedTime = 0

	bounded := backoff.WithMaxRetries(policy, uint64(c.cfg.MaxAttempts-1))
	return backoff.Retry(op, backoff.WithContext(bounded, ctx))
}

func (c *Client) once(ctx context.Context, method, path string, body, out any) error {
	op := fmt.Sprintf("%s %s", method, path)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", syncerr.ErrSerialization, err))
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		c.log.Debug("Transport failure, will retry", "op", op, "error", err)
		return &syncerr.NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		c.log.Debug("Server failure, will retry", "op", op, "status", resp.StatusCode)
		return &syncerr.NetworkError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(typedStatusError(op, resp))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("%w: decoding %s: %v", syncerr.ErrSerialization, op, err))
	}
	return nil
}

// typedStatusError maps a 4xx response onto the error taxonomy.
func typedStatusError(op string, resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s: %s", syncerr.ErrAuth, op, string(payload))
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s: %s", syncerr.ErrValidation, op, string(payload))
	case http.StatusConflict:
		return fmt.Errorf("%w: %s: %s", syncerr.ErrConflict, op, string(payload))
	default:
		return &syncerr.HTTPError{Op: op, Status: resp.StatusCode, Body: string(payload)}
	}
}
