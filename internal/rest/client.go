// Package rest is the HTTP client for the chat backend.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wppconsole/internal/conversations"
	"github.com/matheus3301/wppconsole/internal/cursor"
	"github.com/matheus3301/wppconsole/internal/model"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// Client talks to the backend REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for baseURL authenticating with a bearer token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid rest url %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListConversations fetches one page of conversations for scope.
func (c *Client) ListConversations(ctx context.Context, scope cursor.ConversationScope, token string, limit int) (conversations.Listing, error) {
	list, err := c.Conversations(ctx, scope, token, limit)
	if err != nil {
		return conversations.Listing{}, err
	}
	out := conversations.Listing{ArchivedCount: list.ArchivedCount}
	out.Items = make([]model.Conversation, 0, len(list.Conversations))
	out.HasMore = list.Pagination.HasMore
	out.NextCursor = list.Pagination.NextCursor
	for _, d := range list.Conversations {
		out.Items = append(out.Items, d.ToModel())
	}
	return out, nil
}

// Conversations returns the raw list-conversations response.
func (c *Client) Conversations(ctx context.Context, scope cursor.ConversationScope, token string, limit int) (*ConversationList, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if token != "" && scope.Search == "" {
		q.Set("cursor", token)
	}
	if scope.PhoneID != "" {
		q.Set("phoneId", scope.PhoneID)
	}
	if scope.Search != "" {
		q.Set("search", scope.Search)
	}
	if scope.RetargetOnly {
		q.Set("retargetOnly", "true")
	}
	var out ConversationList
	if err := c.do(ctx, "list conversations", http.MethodGet, "/conversations", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages fetches the page of messages strictly older than before.
func (c *Client) ListMessages(ctx context.Context, scope cursor.MessageScope, before cursor.MessageCursor, limit int) (cursor.Page[model.Message], error) {
	conversationID := scope.ConversationID
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before.MessageID != "" {
		q.Set("beforeMessageId", before.MessageID)
	}
	if scope.PhoneID != "" {
		q.Set("phoneId", scope.PhoneID)
	}
	var out MessageList
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, "list messages", http.MethodGet, path, q, nil, &out); err != nil {
		return cursor.Page[model.Message]{}, err
	}
	page := cursor.Page[model.Message]{
		Items:      make([]model.Message, 0, len(out.Messages)),
		HasMore:    out.Pagination.HasMore,
		NextCursor: out.Pagination.NextCursor,
	}
	for _, d := range out.Messages {
		m := d.ToModel()
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		page.Items = append(page.Items, m)
	}
	return page, nil
}

// MarkConversationRead tells the backend the conversation was read.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, "mark read", http.MethodPost, path, nil, nil, nil)
}

// ArchiveConversation archives for the acting user.
func (c *Client) ArchiveConversation(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/archive"
	return c.do(ctx, "archive", http.MethodPost, path, nil, nil, nil)
}

// UnarchiveConversation reverses ArchiveConversation.
func (c *Client) UnarchiveConversation(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/archive"
	return c.do(ctx, "unarchive", http.MethodDelete, path, nil, nil, nil)
}

// CreateConversation opens a conversation with a participant.
func (c *Client) CreateConversation(ctx context.Context, req NewConversation) (model.Conversation, error) {
	var out ConversationDTO
	if err := c.do(ctx, "create conversation", http.MethodPost, "/conversations", nil, req, &out); err != nil {
		return model.Conversation{}, err
	}
	return out.ToModel(), nil
}

// SendText sends a text message.
func (c *Client) SendText(ctx context.Context, msg TextMessage) (SendResult, error) {
	return c.send(ctx, "send text", "/messages", msg)
}

// SendTemplate sends a template message.
func (c *Client) SendTemplate(ctx context.Context, msg TemplateMessage) (SendResult, error) {
	return c.send(ctx, "send template", "/messages/template", msg)
}

// SendMedia sends an uploaded media item.
func (c *Client) SendMedia(ctx context.Context, msg MediaMessage) (SendResult, error) {
	return c.send(ctx, "send media", "/messages/media", msg)
}

// SendReaction reacts to a message.
func (c *Client) SendReaction(ctx context.Context, msg ReactionMessage) (SendResult, error) {
	return c.send(ctx, "send reaction", "/messages/reaction", msg)
}

func (c *Client) send(ctx context.Context, op, path string, body any) (SendResult, error) {
	var out SendResult
	if err := c.do(ctx, op, http.MethodPost, path, nil, body, &out); err != nil {
		return SendResult{}, err
	}
	if out.SavedMessageID == "" {
		return SendResult{}, &NetworkError{Op: op, Err: errors.New("response without savedMessageId")}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("rest request failed",
			zap.String("op", op), zap.String("request_id", requestID), zap.Error(err))
		return &NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	c.logger.Debug("rest request",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Error
		}
		c.logger.Error("rest request rejected",
			zap.String("op", op), zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
