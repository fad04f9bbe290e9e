package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/config"
	"github.com/UtrechtUniversity/anonymouus/internal/walker"
)

func newTestHub(t *testing.T, cfg config.WebSocketConfig) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return ev
}

func TestHubBroadcast(t *testing.T) {
	hub, url := newTestHub(t, config.GetDefaults().Server.WebSocket)

	conn := dial(t, url, nil)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.BroadcastEvent(Event{
		Type: EventTypeSubstitutionBatch,
		Data: SubstitutionBatchEvent{Source: "api", Substitutions: 3},
	})

	ev := readEvent(t, conn)
	if ev.Type != EventTypeSubstitutionBatch {
		t.Errorf("expected substitution_batch, got %s", ev.Type)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected a timestamp on the event")
	}

	stats := hub.GetStats()
	if stats.TotalConnections != 1 {
		t.Errorf("expected 1 total connection, got %d", stats.TotalConnections)
	}
	if stats.ActiveConnections != 1 {
		t.Errorf("expected 1 active connection, got %d", stats.ActiveConnections)
	}
}

func TestHubBroadcastFile(t *testing.T) {
	hub, url := newTestHub(t, config.GetDefaults().Server.WebSocket)

	conn := dial(t, url, nil)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.BroadcastFile(walker.FileEvent{Path: "diary.txt", Kind: walker.KindText, Replacements: 2})

	ev := readEvent(t, conn)
	if ev.Type != EventTypeFileProcessed {
		t.Fatalf("expected file_processed, got %s", ev.Type)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected a timestamp on the event")
	}
}

func TestHubConnectionEvents(t *testing.T) {
	hub, url := newTestHub(t, config.GetDefaults().Server.WebSocket)

	first := dial(t, url, nil)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	dial(t, url, nil)
	waitFor(t, func() bool { return hub.ClientCount() == 2 })

	// The first client hears about the second one joining.
	ev := readEvent(t, first)
	if ev.Type != EventTypeConnection {
		t.Fatalf("expected connection event, got %s", ev.Type)
	}
}

func TestHubDisabledEventTypes(t *testing.T) {
	cfg := config.GetDefaults().Server.WebSocket
	cfg.Events.BroadcastSubstitutions = false

	hub, url := newTestHub(t, cfg)

	conn := dial(t, url, nil)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.BroadcastEvent(Event{Type: EventTypeSubstitutionBatch})
	hub.BroadcastEvent(Event{Type: EventTypeFileProcessed})

	// The disabled type never reaches the queue, so the file event is
	// the first thing the client sees.
	ev := readEvent(t, conn)
	if ev.Type != EventTypeFileProcessed {
		t.Errorf("expected file_processed, got %s", ev.Type)
	}
}

func TestHubSubscriptionFilter(t *testing.T) {
	cfg := config.GetDefaults().Server.WebSocket
	cfg.Events.BroadcastConnections = false

	hub, url := newTestHub(t, cfg)

	conn := dial(t, url, nil)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	sub := `{"type":"subscribe","data":{"events":["table_written"]}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// The pong response confirms the subscription was processed, the
	// hub handles client messages in order.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != "pong" {
		t.Fatalf("expected pong, got %s", ev.Type)
	}

	hub.BroadcastEvent(Event{Type: EventTypeFileProcessed})
	hub.BroadcastEvent(Event{
		Type: EventTypeTableWritten,
		Data: TableWrittenEvent{Path: "pseudonyms.csv", Records: 4},
	})

	ev := readEvent(t, conn)
	if ev.Type != EventTypeTableWritten {
		t.Errorf("expected table_written, got %s", ev.Type)
	}
}

func TestHubConnectionLimit(t *testing.T) {
	cfg := config.GetDefaults().Server.WebSocket
	cfg.MaxConnections = 1

	hub, url := newTestHub(t, cfg)

	dial(t, url, nil)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected second connection to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 response, got %+v", resp)
	}
}

func TestHubOriginCheck(t *testing.T) {
	cfg := config.GetDefaults().Server.WebSocket
	cfg.AllowedOrigins = []string{"https://dashboard.example.org"}

	hub, url := newTestHub(t, cfg)

	badHeader := http.Header{"Origin": []string{"https://evil.example.org"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, badHeader); err == nil {
		t.Fatal("expected rejected origin")
	}

	goodHeader := http.Header{"Origin": []string{"https://dashboard.example.org"}}
	dial(t, url, goodHeader)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })
}
