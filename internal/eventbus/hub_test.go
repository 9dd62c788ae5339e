package eventbus

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func TestHubBroadcastsEvents(t *testing.T) {
	bus := New()
	defer bus.Close()
	hub := NewHub(bus, nil)
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	// The subscription races the registration; give the reader a moment.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	bus.Emit(TypeTaskMerged, "demo", map[string]any{"task_id": "4", "branch": "task-4"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if event.Type != TypeTaskMerged {
		t.Errorf("event.Type = %q, want %q", event.Type, TypeTaskMerged)
	}
	if event.ProjectID != "demo" {
		t.Errorf("event.ProjectID = %q, want demo", event.ProjectID)
	}
	if event.Data["branch"] != "task-4" {
		t.Errorf("event.Data = %v", event.Data)
	}
}

func TestHubPrunesDeadClients(t *testing.T) {
	bus := New()
	defer bus.Close()
	hub := NewHub(bus, nil)
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()

	// The drain goroutine notices the close, or the next write fails;
	// either way the client must disappear.
	bus.Emit(TypeOrchestratorStopped, "demo", nil)
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		bus.Emit(TypeOrchestratorStopped, "demo", nil)
		time.Sleep(20 * time.Millisecond)
	}
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0 after client disconnect", got)
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	bus := New()
	defer bus.Close()
	hub := NewHub(bus, nil)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	hub.Close()
	hub.Close() // idempotent

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0 after hub close", got)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected read error after hub close")
	}
}
