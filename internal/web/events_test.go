package web

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openguenther/guenther/internal/terminallog"
)

func dialEvents(t *testing.T, e *webEnv) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(e.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) terminallog.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e terminallog.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return e
}

func TestEventsStreamStartsWithBanner(t *testing.T) {
	e := newWebEnv(t)
	conn := dialEvents(t, e)

	banner := readEvent(t, conn)
	if banner.Type != terminallog.TypeHeader || banner.Message != "G U E N T H E R  v1.0 - MCP Agent Terminal" {
		t.Fatalf("banner = %+v", banner)
	}
}

func TestEventsStreamDeliversPublishedEvents(t *testing.T) {
	e := newWebEnv(t)
	conn := dialEvents(t, e)
	readEvent(t, conn) // banner

	e.bus.Publish(terminallog.Event{Type: terminallog.TypeText, Message: "Werkzeug gestartet"})

	got := readEvent(t, conn)
	if got.Type != terminallog.TypeText || got.Message != "Werkzeug gestartet" {
		t.Fatalf("event = %+v", got)
	}
}

func TestEventsStreamReplaysRecentHistory(t *testing.T) {
	e := newWebEnv(t)
	e.bus.Publish(terminallog.Event{Type: terminallog.TypeText, Message: "Alte Zeile"})

	conn := dialEvents(t, e)
	readEvent(t, conn) // banner

	got := readEvent(t, conn)
	if got.Message != "Alte Zeile" {
		t.Fatalf("replayed event = %+v", got)
	}
}
