package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialLayoutWS(t *testing.T) (*websocket.Conn, func()) {
	t.Helper()
	h := NewWebSocketHandler(testConfig())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleLayout))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial failed: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestWebSocketLayoutStreamsResult(t *testing.T) {
	conn, cleanup := dialLayoutWS(t)
	defer cleanup()

	req := LayoutRequest{
		Nodes: []LayoutNode{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}},
		Edges: []LayoutEdge{{Source: 0, Target: 1}},
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	sawResult := false
	for !sawResult {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		switch msg["type"] {
		case "progress":
			// fine, keep reading
		case "result":
			positions, ok := msg["positions"].([]interface{})
			if !ok || len(positions) != 4 {
				t.Fatalf("result positions malformed: %v", msg["positions"])
			}
			sawResult = true
		case "error":
			t.Fatalf("server reported error: %v", msg["message"])
		default:
			t.Fatalf("unexpected frame type %v", msg["type"])
		}
	}
}

func TestWebSocketLayoutRejectsEmptyGraph(t *testing.T) {
	conn, cleanup := dialLayoutWS(t)
	defer cleanup()

	if err := conn.WriteJSON(LayoutRequest{}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if msg["type"] != "error" {
		t.Fatalf("expected an error frame, got %v", msg["type"])
	}
}

func TestWebSocketLayoutRejectsBadEdge(t *testing.T) {
	conn, cleanup := dialLayoutWS(t)
	defer cleanup()

	req := LayoutRequest{
		Nodes: []LayoutNode{{X: 0, Y: 0}},
		Edges: []LayoutEdge{{Source: 0, Target: 7}},
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if msg["type"] != "error" {
		t.Fatalf("expected an error frame, got %v", msg["type"])
	}
}
