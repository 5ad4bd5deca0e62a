package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestFetchMessagesSkipsMalformedRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// One record with no id, one with no created_at, two valid.
		_, _ = w.Write([]byte(`{"messages": [
			{"id": "64a1b2c3d4e5f60718293a01", "thread_id": "t1", "body": "one", "created_at": 100},
			{"thread_id": "t1", "body": "no id", "created_at": 150},
			{"id": "64a1b2c3d4e5f60718293a02", "thread_id": "t1", "body": "no ts"},
			{"id": "64a1b2c3d4e5f60718293a03", "thread_id": "t1", "body": "two", "created_at": 200}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	page, err := c.FetchMessages(context.Background(), "t1", 50, "")
	if err != nil {
		t.Fatalf("FetchMessages() error = %v", err)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(page.Messages))
	}
	if page.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", page.Skipped)
	}
	if page.Messages[0].Body != "one" || page.Messages[1].Body != "two" {
		t.Errorf("unexpected bodies: %q, %q", page.Messages[0].Body, page.Messages[1].Body)
	}
	if page.Messages[0].Status != "sent" {
		t.Errorf("defaulted status = %q, want sent", page.Messages[0].Status)
	}
}

func TestFetchThreadsQueryAndDecode(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"threads": [
			{"id": "t1", "name": "12 Oak St", "unread_count": 2, "last_message_at": 500, "members": {"u1": 2}},
			{"name": "missing id"},
			{"id": "t2", "unread_count": -1}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	page, err := c.FetchThreads(context.Background(), "acct1", 20, 40, "oak")
	if err != nil {
		t.Fatalf("FetchThreads() error = %v", err)
	}
	if len(page.Threads) != 1 {
		t.Fatalf("got %d threads, want 1", len(page.Threads))
	}
	if page.Skipped != 2 {
		t.Errorf("skipped = %d, want 2 (missing id, negative unread)", page.Skipped)
	}
	th := page.Threads[0]
	if th.Name != "12 Oak St" || th.Members["u1"] != 2 {
		t.Errorf("unexpected thread: %+v", th)
	}
	params, err := url.ParseQuery(gotQuery)
	if err != nil {
		t.Fatal(err)
	}
	for key, want := range map[string]string{"account_id": "acct1", "limit": "20", "offset": "40", "search": "oak"} {
		if got := params.Get(key); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}
}

func TestSendMessageReturnsConfirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "64a1b2c3d4e5f60718293a4b", "thread_id": "t1", "body": "yo", "created_at": 900}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	m, err := c.SendMessage(context.Background(), SendRequest{ThreadID: "t1", Body: "yo", Kind: "text"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if m.ID != "64a1b2c3d4e5f60718293a4b" {
		t.Errorf("server ID = %q", m.ID)
	}
}

func TestTransportErrorOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	_, err := c.FetchMessages(context.Background(), "t1", 50, "")
	if err == nil {
		t.Fatal("expected error")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error type = %T, want *TransportError", err)
	}
	if te.Status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", te.Status)
	}
}

func TestTransportErrorOnUnreachableHost(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "tok", nil)
	_, err := c.FetchThreads(context.Background(), "acct1", 10, 0, "")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error type = %T, want *TransportError", err)
	}
}

func TestClearBadge(t *testing.T) {
	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		if r.URL.Path != "/v1/threads/t1/badge/clear" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	if err := c.ClearBadge(context.Background(), "t1", "u1", []string{"u1", "u2"}); err != nil {
		t.Fatalf("ClearBadge() error = %v", err)
	}
	if !hit {
		t.Error("server not hit")
	}
}
