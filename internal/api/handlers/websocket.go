package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/graphpulse/forcemap/internal/config"
	"github.com/graphpulse/forcemap/internal/layout"
	"github.com/graphpulse/forcemap/internal/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// Progress updates are throttled to this interval
	progressInterval = 100 * time.Millisecond

	// Maximum request size accepted over the socket
	maxRequestSize = 64 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// CORS middleware handles origin policy
		return true
	},
}

// ProgressMessage is streamed after iterations while a layout runs.
type ProgressMessage struct {
	Type            string  `json:"type"` // "progress", "result", "error"
	Iteration       int     `json:"iteration,omitempty"`
	Total           int     `json:"total,omitempty"`
	AvgDisplacement float64 `json:"avg_displacement,omitempty"`
	MaxDisplacement float64 `json:"max_displacement,omitempty"`
}

// ResultMessage carries the final positions once the run finishes.
type ResultMessage struct {
	Type       string       `json:"type"` // always "result"
	Positions  [][2]float64 `json:"positions"`
	Iterations int          `json:"iterations"`
	Converged  bool         `json:"converged"`
	DurationMS int64        `json:"duration_ms"`
}

type errorMessage struct {
	Type    string `json:"type"` // always "error"
	Message string `json:"message"`
}

// WebSocketHandler streams layout progress over a socket. The client sends a
// LayoutRequest as its first message; the server answers with progress frames
// and a final result frame, then closes.
type WebSocketHandler struct {
	cfg *config.Config
}

// NewWebSocketHandler returns a progress-streaming handler.
func NewWebSocketHandler(cfg *config.Config) *WebSocketHandler {
	return &WebSocketHandler{cfg: cfg}
}

// HandleLayout handles GET /api/layout/ws.
func (h *WebSocketHandler) HandleLayout(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxRequestSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var req LayoutRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeWSError(conn, "invalid layout request")
		return
	}
	if len(req.Nodes) == 0 {
		writeWSError(conn, "graph has no nodes")
		return
	}
	if len(req.Nodes) > h.cfg.LayoutMaxNodes {
		writeWSError(conn, "graph exceeds node limit")
		return
	}
	for _, e := range req.Edges {
		if int(e.Source) >= len(req.Nodes) || int(e.Target) >= len(req.Nodes) || e.Source < 0 || e.Target < 0 {
			writeWSError(conn, "edge references a node out of range")
			return
		}
	}

	set := &layout.PointSet{
		X:    make([]float64, len(req.Nodes)),
		Y:    make([]float64, len(req.Nodes)),
		Size: make([]float64, len(req.Nodes)),
	}
	for i, n := range req.Nodes {
		set.X[i] = n.X
		set.Y[i] = n.Y
		set.Size[i] = n.Size
	}
	for _, e := range req.Edges {
		set.Edges = append(set.Edges, layout.Edge{Source: e.Source, Target: e.Target, Length: e.Length})
	}

	lh := LayoutHandler{cfg: h.cfg}
	opts := lh.layoutOptions(&req)
	total := opts.Iterations

	// The run blocks this goroutine, so progress frames are queued from the
	// iteration callback and drained by a writer goroutine.
	progress := make(chan ProgressMessage, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-progress:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	lastSent := time.Time{}
	opts.OnIteration = func(is layout.IterationStats) {
		if time.Since(lastSent) < progressInterval && is.Iteration+1 < total {
			return
		}
		lastSent = time.Now()
		select {
		case progress <- ProgressMessage{
			Type:            "progress",
			Iteration:       is.Iteration + 1,
			Total:           total,
			AvgDisplacement: is.AvgDisplacement,
			MaxDisplacement: is.MaxDisplacement,
		}:
		default:
			// Drop the frame rather than stall the run
		}
	}

	engine := layout.New(opts)
	defer engine.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stats, err := engine.Run(ctx, set)
	close(progress)
	<-done
	if err != nil {
		logger.ErrorContext(ctx, "websocket layout run failed", "error", err)
		writeWSError(conn, "layout computation failed")
		return
	}

	result := ResultMessage{
		Type:       "result",
		Positions:  make([][2]float64, len(req.Nodes)),
		Iterations: stats.Iterations,
		Converged:  stats.Converged,
		DurationMS: stats.Duration.Milliseconds(),
	}
	for i := range req.Nodes {
		result.Positions[i] = [2]float64{set.X[i], set.Y[i]}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(result); err != nil {
		logger.Warn("websocket result write failed", "error", err)
		return
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func writeWSError(conn *websocket.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, _ := json.Marshal(errorMessage{Type: "error", Message: msg})
	conn.WriteMessage(websocket.TextMessage, data)
}
