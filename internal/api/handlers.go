// Package api exposes the merged sync state over a local HTTP API consumed
// by the UI layer.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/tomasronis/Rhenti-sub003/internal/outbox"
	"github.com/tomasronis/Rhenti-sub003/internal/store"
	"github.com/tomasronis/Rhenti-sub003/internal/summary"
	intsync "github.com/tomasronis/Rhenti-sub003/internal/sync"
	"go.uber.org/zap"
)

// BadgeClearer is the slice of the feed client used for server-side read
// resets.
type BadgeClearer interface {
	ClearBadge(ctx context.Context, threadID, userID string, members []string) error
}

// Handler serves the local HTTP API.
type Handler struct {
	db     *store.DB
	agg    *summary.Aggregator
	rec    *intsync.Reconciler
	sender *outbox.Sender
	badges BadgeClearer
	userID string
	logger *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(db *store.DB, agg *summary.Aggregator, rec *intsync.Reconciler, sender *outbox.Sender, badges BadgeClearer, userID string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		db:     db,
		agg:    agg,
		rec:    rec,
		sender: sender,
		badges: badges,
		userID: userID,
		logger: logger,
	}
}

// Register mounts all routes on the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.health)
	e.GET("/v1/threads", h.listThreads)
	e.DELETE("/v1/threads/:id", h.deleteThread)
	e.GET("/v1/threads/:id/messages", h.listMessages)
	e.POST("/v1/threads/:id/messages", h.sendMessage)
	e.POST("/v1/threads/:id/read", h.markRead)
	e.POST("/v1/threads/:id/pin", h.setPinned)
	e.POST("/v1/messages/:local_id/retry", h.retry)
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type threadDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ImageURL    string `json:"image_url,omitempty"`
	UnreadCount int    `json:"unread_count"`
	Pinned      bool   `json:"pinned"`
	LastBody    string `json:"last_body"`
	LastAt      int64  `json:"last_at"`
	LastPending bool   `json:"last_pending"`
}

func (h *Handler) listThreads(c echo.Context) error {
	limit, offset := pageParams(c, 50)
	sums, err := h.agg.Summaries(limit, offset)
	if err != nil {
		h.logger.Error("list threads", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list threads")
	}

	out := make([]threadDTO, 0, len(sums))
	for _, s := range sums {
		out = append(out, threadDTO{
			ID:          s.Thread.ID,
			Name:        s.Thread.Name,
			ImageURL:    s.Thread.ImageURL,
			UnreadCount: s.Thread.UnreadCount,
			Pinned:      s.Thread.Pinned,
			LastBody:    s.LastBody,
			LastAt:      s.LastAt,
			LastPending: s.LastPending,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"threads": out})
}

type messageDTO struct {
	Source        string  `json:"source"` // server or pending
	ID            string  `json:"id"`
	Body          string  `json:"body"`
	Kind          string  `json:"kind"`
	SenderRole    string  `json:"sender_role,omitempty"`
	AttachmentURL string  `json:"attachment_url,omitempty"`
	State         string  `json:"state,omitempty"` // pending lifecycle state
	Status        string  `json:"status,omitempty"`
	Progress      float64 `json:"progress,omitempty"`
	CreatedAt     int64   `json:"created_at"`
}

func (h *Handler) listMessages(c echo.Context) error {
	threadID := c.Param("id")
	merged, err := h.rec.Merged(threadID)
	if err != nil {
		h.logger.Error("merge thread", zap.String("thread_id", threadID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load messages")
	}

	out := make([]messageDTO, 0, len(merged))
	for _, d := range merged {
		switch v := d.(type) {
		case intsync.ServerMessage:
			out = append(out, messageDTO{
				Source:        "server",
				ID:            v.Msg.ID,
				Body:          v.Msg.Body,
				Kind:          v.Msg.Kind,
				SenderRole:    v.Msg.SenderRole,
				AttachmentURL: v.Msg.AttachmentURL,
				Status:        v.Msg.Status,
				CreatedAt:     v.Msg.CreatedAt,
			})
		case intsync.PendingMessage:
			out = append(out, messageDTO{
				Source:        "pending",
				ID:            v.Msg.LocalID,
				Body:          v.Msg.Body,
				Kind:          v.Msg.Kind,
				AttachmentURL: v.Msg.AttachmentURL,
				State:         string(v.Msg.State),
				Progress:      v.Msg.Progress,
				CreatedAt:     v.Msg.CreatedAt,
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": out})
}

type sendRequest struct {
	Body string `json:"body"`
	Kind string `json:"kind"`
}

func (h *Handler) sendMessage(c echo.Context) error {
	threadID := c.Param("id")
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "body is required")
	}
	if req.Kind == "" {
		req.Kind = "text"
	}

	entry := h.sender.Enqueue(threadID, req.Body, req.Kind)
	return c.JSON(http.StatusAccepted, map[string]any{
		"local_id":   entry.LocalID,
		"state":      string(entry.State),
		"created_at": entry.CreatedAt,
	})
}

// markRead applies the local unread reset and fires the server-side badge
// clear as a paired, not dependent, call: the UI reflects read state even
// when the remote reset fails, and the next full sync reconciles.
func (h *Handler) markRead(c echo.Context) error {
	threadID := c.Param("id")

	th, err := h.db.GetThread(threadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load thread")
	}
	if th == nil {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}

	if err := h.db.MarkRead(threadID); err != nil {
		h.logger.Error("mark read", zap.String("thread_id", threadID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to mark read")
	}

	members := make([]string, 0, len(th.Members))
	for id := range th.Members {
		members = append(members, id)
	}
	go func() {
		if err := h.badges.ClearBadge(context.Background(), threadID, h.userID, members); err != nil {
			h.logger.Warn("badge clear failed, will reconcile on next sync",
				zap.String("thread_id", threadID), zap.Error(err))
		}
	}()

	return c.NoContent(http.StatusNoContent)
}

type pinRequest struct {
	Pinned bool `json:"pinned"`
}

func (h *Handler) setPinned(c echo.Context) error {
	var req pinRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.db.SetPinned(c.Param("id"), req.Pinned); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update pin")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) retry(c echo.Context) error {
	entry, err := h.sender.Retry(c.Param("local_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"local_id": entry.LocalID,
		"state":    string(entry.State),
	})
}

func (h *Handler) deleteThread(c echo.Context) error {
	if err := h.db.DeleteThread(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete thread")
	}
	return c.NoContent(http.StatusNoContent)
}

func pageParams(c echo.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if o := c.QueryParam("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
