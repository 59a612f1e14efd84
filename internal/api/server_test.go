package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/partforge/internal/dispatch"
	"github.com/mattjoyce/partforge/internal/log"
)

// fakeDispatcher echoes every call back as a result envelope and pushes it
// to the hub, mirroring what the real dispatcher does.
type fakeDispatcher struct {
	hub *EventHub

	mu    sync.Mutex
	calls []dispatch.Request
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req dispatch.Request) dispatch.Response {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	resp := dispatch.Response{RequestID: req.RequestID, Type: dispatch.TypeResult, Result: "done"}
	if f.hub != nil {
		f.hub.Publish(dispatch.EventResponse, resp)
	}
	return resp
}

func (f *fakeDispatcher) IndexedParts() int { return 3 }

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixedCounter int

func (c fixedCounter) Len() int { return int(c) }

func newTestServer(t *testing.T) (*Server, *fakeDispatcher, *EventHub) {
	t.Helper()
	hub := NewEventHub(16)
	disp := &fakeDispatcher{hub: hub}
	srv := New(Config{Listen: "127.0.0.1:0"}, disp, fixedCounter(7), hub, log.WithComponent("api-test"))
	return srv, disp, hub
}

func TestHandleHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.StoredResults != 7 || resp.IndexedParts != 3 {
		t.Errorf("healthz = %+v", resp)
	}
}

func TestHandleExecuteAcksAndDispatches(t *testing.T) {
	srv, disp, _ := newTestServer(t)

	body := `{"request_id":"req-1","tool_name":"run_script","arguments":{"workspace_path":"/ws","script":"result = 1"}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp/execute", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var ack ExecuteAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Status != "processing" || ack.RequestID != "req-1" {
		t.Errorf("ack = %+v", ack)
	}

	// The dispatch happens in a goroutine after the ack.
	deadline := time.After(2 * time.Second)
	for disp.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("dispatch never happened")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHandleExecuteValidation(t *testing.T) {
	srv, disp, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing request_id", `{"tool_name":"run_script","arguments":{}}`},
		{"missing tool_name", `{"request_id":"r1","arguments":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp/execute", bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()
			srv.setupRoutes().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	if disp.callCount() != 0 {
		t.Errorf("invalid requests were dispatched: %d", disp.callCount())
	}
}

func TestHandleEventsReplaysBuffer(t *testing.T) {
	srv, _, hub := newTestServer(t)

	hub.Publish(dispatch.EventResponse, dispatch.Response{RequestID: "req-1", Type: dispatch.TypeResult})
	hub.Publish(dispatch.EventResponse, dispatch.Response{RequestID: "req-2", Type: dispatch.TypeResult})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/mcp/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "id: 1\n") || !strings.Contains(body, "id: 2\n") {
		t.Errorf("ring not replayed:\n%s", body)
	}
	if !strings.Contains(body, "event: response\n") {
		t.Errorf("event type missing:\n%s", body)
	}
	if !strings.Contains(body, `"request_id":"req-2"`) {
		t.Errorf("payload missing:\n%s", body)
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestHandleEventsLastEventID(t *testing.T) {
	srv, _, hub := newTestServer(t)

	hub.Publish(dispatch.EventResponse, dispatch.Response{RequestID: "req-1"})
	hub.Publish(dispatch.EventResponse, dispatch.Response{RequestID: "req-2"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/mcp/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, `"request_id":"req-1"`) {
		t.Errorf("already-seen event replayed:\n%s", body)
	}
	if !strings.Contains(body, `"request_id":"req-2"`) {
		t.Errorf("new event missing:\n%s", body)
	}
}

func TestParseLastEventID(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"42", 42},
		{"-1", 0},
		{"junk", 0},
	}
	for _, tt := range tests {
		if got := parseLastEventID(tt.in); got != tt.want {
			t.Errorf("parseLastEventID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
