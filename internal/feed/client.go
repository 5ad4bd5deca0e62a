// Package feed is the stateless client for the remote thread/message feed.
// All payloads pass through a typed decode step; malformed records are
// skipped per-record and counted, never propagated into the core.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tomasronis/Rhenti-sub003/internal/store"
	"go.uber.org/zap"
)

// TransportError marks failures where the server was unreachable or returned
// a non-2xx status. Callers degrade to last-known-good data on these.
type TransportError struct {
	Op     string
	Status int // 0 when the request never completed
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ThreadPage is one page of the thread feed.
type ThreadPage struct {
	Threads []store.Thread
	Skipped int // malformed records dropped by the typed decode
}

// MessagePage is one page of a thread's message feed, ascending by creation
// time once returned.
type MessagePage struct {
	Messages []store.Message
	Skipped  int
}

// SendRequest describes an outgoing message.
type SendRequest struct {
	ThreadID      string   `json:"thread_id"`
	Body          string   `json:"body,omitempty"`
	Kind          string   `json:"kind"`
	AttachmentURL string   `json:"attachment_url,omitempty"`
	Members       []string `json:"members"`
}

// Client talks to the remote feed over JSON/HTTPS. It holds no sync state.
type Client struct {
	http   *http.Client
	base   string
	token  string
	logger *zap.Logger
}

// NewClient creates a feed client for the given API base URL.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: 30 * time.Second},
		base:   baseURL,
		token:  token,
		logger: logger,
	}
}

// FetchThreads returns one offset-based page of threads for an account.
func (c *Client) FetchThreads(ctx context.Context, accountID string, limit, offset int, search string) (*ThreadPage, error) {
	q := url.Values{}
	q.Set("account_id", accountID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if search != "" {
		q.Set("search", search)
	}

	var payload struct {
		Threads []json.RawMessage `json:"threads"`
	}
	if err := c.get(ctx, "fetch threads", "/v1/threads", q, &payload); err != nil {
		return nil, err
	}

	page := &ThreadPage{}
	for _, raw := range payload.Threads {
		t, err := decodeThread(raw)
		if err != nil {
			page.Skipped++
			if c.logger != nil {
				c.logger.Warn("skipping malformed thread record", zap.Error(err))
			}
			continue
		}
		page.Threads = append(page.Threads, *t)
	}
	return page, nil
}

// FetchMessages returns one page of a thread's messages, paginated backward
// from the newest or from beforeID when set.
func (c *Client) FetchMessages(ctx context.Context, threadID string, limit int, beforeID string) (*MessagePage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if beforeID != "" {
		q.Set("before_id", beforeID)
	}

	var payload struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := c.get(ctx, "fetch messages", "/v1/threads/"+url.PathEscape(threadID)+"/messages", q, &payload); err != nil {
		return nil, err
	}

	page := &MessagePage{}
	for _, raw := range payload.Messages {
		m, err := decodeMessage(raw)
		if err != nil {
			page.Skipped++
			if c.logger != nil {
				c.logger.Warn("skipping malformed message record",
					zap.String("thread_id", threadID), zap.Error(err))
			}
			continue
		}
		page.Messages = append(page.Messages, *m)
	}
	return page, nil
}

// SendMessage posts a composed message and returns the confirmed message with
// its server-assigned ID. This return is the primary match key for the
// reconciliation engine.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*store.Message, error) {
	var raw json.RawMessage
	path := "/v1/threads/" + url.PathEscape(req.ThreadID) + "/messages"
	if err := c.post(ctx, "send message", path, req, &raw); err != nil {
		return nil, err
	}
	m, err := decodeMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("send message: malformed confirmation: %w", err)
	}
	return m, nil
}

// ClearBadge resets the server-side unread state for the current user. The
// local MarkRead is a paired, not dependent, operation: callers apply it
// regardless of this call's outcome.
func (c *Client) ClearBadge(ctx context.Context, threadID, userID string, members []string) error {
	body := struct {
		UserID  string   `json:"user_id"`
		Members []string `json:"members"`
	}{UserID: userID, Members: members}
	return c.post(ctx, "clear badge", "/v1/threads/"+url.PathEscape(threadID)+"/badge/clear", body, nil)
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return c.do(op, req, out)
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &TransportError{Op: op, Status: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
