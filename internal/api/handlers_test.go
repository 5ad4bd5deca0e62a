package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tomasronis/Rhenti-sub003/internal/bus"
	"github.com/tomasronis/Rhenti-sub003/internal/feed"
	"github.com/tomasronis/Rhenti-sub003/internal/outbox"
	"github.com/tomasronis/Rhenti-sub003/internal/pending"
	"github.com/tomasronis/Rhenti-sub003/internal/store"
	"github.com/tomasronis/Rhenti-sub003/internal/summary"
	intsync "github.com/tomasronis/Rhenti-sub003/internal/sync"
)

type stubFeed struct {
	mu      sync.Mutex
	cleared []string
}

func (s *stubFeed) SendMessage(_ context.Context, req feed.SendRequest) (*store.Message, error) {
	return &store.Message{ID: "64a1b2c3d4e5f60718293a4b", ThreadID: req.ThreadID,
		Body: req.Body, Status: store.StatusSent, CreatedAt: time.Now().UnixMilli()}, nil
}

func (s *stubFeed) ClearBadge(_ context.Context, threadID, _ string, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, threadID)
	return nil
}

func (s *stubFeed) clearedThreads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cleared...)
}

type env struct {
	handler *Handler
	echo    *echo.Echo
	db      *store.DB
	tracker *pending.Tracker
	feed    *stubFeed
}

func testEnv(t *testing.T) *env {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	tracker := pending.NewTracker()
	b := bus.New()
	rec := intsync.NewReconciler(db, tracker, b, time.Minute, nil)
	agg := summary.NewAggregator(db, rec)
	f := &stubFeed{}
	caller := intsync.Caller{UserID: "u1", Role: store.RoleOwner}
	sender := outbox.NewSender(db, tracker, f, rec, b, caller, nil)

	h := NewHandler(db, agg, rec, sender, f, "u1", nil)
	e := echo.New()
	h.Register(e)
	return &env{handler: h, echo: e, db: db, tracker: tracker, feed: f}
}

func (e *env) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.echo.ServeHTTP(rec, req)
	return rec
}

func TestListThreads(t *testing.T) {
	env := testEnv(t)
	if err := env.db.UpsertThread(&store.Thread{ID: "t1", Name: "12 Oak St", UnreadCount: 2, LastMessageAt: 100}); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/v1/threads", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Threads []threadDTO `json:"threads"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Threads) != 1 || resp.Threads[0].Name != "12 Oak St" {
		t.Errorf("threads = %+v", resp.Threads)
	}
	if resp.Threads[0].UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", resp.Threads[0].UnreadCount)
	}
}

func TestListMessagesMergesPending(t *testing.T) {
	env := testEnv(t)
	if err := env.db.UpsertThread(&store.Thread{ID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.db.UpsertMessages("t1", []store.Message{
		{ID: "m1", ThreadID: "t1", Body: "hi", CreatedAt: 100, Status: store.StatusSent},
	}); err != nil {
		t.Fatal(err)
	}
	env.tracker.SetClock(func() int64 { return 200 })
	p := env.tracker.Create("t1", "yo", "text")

	rec := env.do(t, http.MethodGet, "/v1/threads/t1/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Messages []messageDTO `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(resp.Messages))
	}
	if resp.Messages[0].Source != "server" || resp.Messages[0].ID != "m1" {
		t.Errorf("first = %+v, want server m1", resp.Messages[0])
	}
	if resp.Messages[1].Source != "pending" || resp.Messages[1].ID != p.LocalID {
		t.Errorf("second = %+v, want pending %s", resp.Messages[1], p.LocalID)
	}
	if resp.Messages[1].State != string(pending.StateSending) {
		t.Errorf("pending state = %q", resp.Messages[1].State)
	}
}

func TestSendMessageAccepted(t *testing.T) {
	env := testEnv(t)
	if err := env.db.UpsertThread(&store.Thread{ID: "t1"}); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodPost, "/v1/threads/t1/messages", `{"body": "hello"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	var resp struct {
		LocalID string `json:"local_id"`
		State   string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != string(pending.StateSending) {
		t.Errorf("state = %q, want sending", resp.State)
	}
	if _, ok := env.tracker.Get(resp.LocalID); !ok {
		t.Error("entry not registered with tracker")
	}
}

func TestSendMessageRejectsEmptyBody(t *testing.T) {
	env := testEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/threads/t1/messages", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMarkReadPairsLocalAndRemote(t *testing.T) {
	env := testEnv(t)
	if err := env.db.UpsertThread(&store.Thread{ID: "t1", UnreadCount: 3, Members: map[string]int{"u1": 3}}); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodPost, "/v1/threads/t1/read", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	th, err := env.db.GetThread("t1")
	if err != nil {
		t.Fatal(err)
	}
	if th.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 (local reset is not dependent on remote)", th.UnreadCount)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cleared := env.feed.clearedThreads(); len(cleared) == 1 && cleared[0] == "t1" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("remote badge clear never fired")
}

func TestMarkReadUnknownThread(t *testing.T) {
	env := testEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/threads/nope/read", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRetryRequiresFailedEntry(t *testing.T) {
	env := testEnv(t)
	p := env.tracker.Create("t1", "hi", "text")

	rec := env.do(t, http.MethodPost, "/v1/messages/"+p.LocalID+"/retry", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 for non-failed entry", rec.Code)
	}

	env.tracker.MarkFailed(p.LocalID)
	rec = env.do(t, http.MethodPost, "/v1/messages/"+p.LocalID+"/retry", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestSetPinned(t *testing.T) {
	env := testEnv(t)
	if err := env.db.UpsertThread(&store.Thread{ID: "t1"}); err != nil {
		t.Fatal(err)
	}
	rec := env.do(t, http.MethodPost, "/v1/threads/t1/pin", `{"pinned": true}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	th, _ := env.db.GetThread("t1")
	if !th.Pinned {
		t.Error("pin not applied")
	}
}
