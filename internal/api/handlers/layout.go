package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/graphpulse/forcemap/internal/apierr"
	"github.com/graphpulse/forcemap/internal/cache"
	"github.com/graphpulse/forcemap/internal/config"
	"github.com/graphpulse/forcemap/internal/layout"
	"github.com/graphpulse/forcemap/internal/logger"
	"github.com/graphpulse/forcemap/internal/tracing"
)

// LayoutRequest is the JSON body for a one-shot layout computation.
type LayoutRequest struct {
	Nodes []LayoutNode `json:"nodes"`
	Edges []LayoutEdge `json:"edges"`

	// Optional overrides; zero values fall back to server defaults.
	Iterations int     `json:"iterations,omitempty"`
	Threads    int     `json:"threads,omitempty"`
	Separation float64 `json:"separation,omitempty"`
	Repulsion  float64 `json:"repulsion,omitempty"`
	Stiffness  float64 `json:"edge_stiffness,omitempty"`
}

// LayoutNode is an input point.
type LayoutNode struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Size float64 `json:"size,omitempty"`
}

// LayoutEdge references nodes by index in the request's node array.
type LayoutEdge struct {
	Source int32   `json:"source"`
	Target int32   `json:"target"`
	Length float64 `json:"length,omitempty"`
}

// LayoutResponse carries final positions in input order.
type LayoutResponse struct {
	Positions  [][2]float64 `json:"positions"`
	Iterations int          `json:"iterations"`
	Converged  bool         `json:"converged"`
	DurationMS int64        `json:"duration_ms"`
	Cached     bool         `json:"cached,omitempty"`
}

// LayoutHandler runs layout computations for HTTP clients, with result
// caching keyed on the request body. Engines are request-scoped because the
// worker count and iteration callback are fixed at construction.
type LayoutHandler struct {
	cache cache.Cache
	cfg   *config.Config
}

// NewLayoutHandler wires a result cache and server defaults.
func NewLayoutHandler(c cache.Cache, cfg *config.Config) *LayoutHandler {
	return &LayoutHandler{cache: c, cfg: cfg}
}

func requestCacheKey(body []byte) string {
	sum := sha256.Sum256(body)
	return "layout:" + hex.EncodeToString(sum[:16])
}

// ServeHTTP handles POST /api/layout.
func (h *LayoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "api.layout")
	defer span.End()

	var req LayoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierr.BadRequest(w, r, err.Error())
		return
	}

	if len(req.Nodes) == 0 {
		apierr.BadRequest(w, r, "graph has no nodes")
		return
	}
	if len(req.Nodes) > h.cfg.LayoutMaxNodes {
		apierr.Write(w, r, apierr.CodeTooLarge,
			fmt.Sprintf("graph has %d nodes, limit is %d", len(req.Nodes), h.cfg.LayoutMaxNodes))
		return
	}
	for i, e := range req.Edges {
		if int(e.Source) >= len(req.Nodes) || int(e.Target) >= len(req.Nodes) || e.Source < 0 || e.Target < 0 {
			apierr.BadRequest(w, r, fmt.Sprintf("edge %d references a node out of range", i))
			return
		}
	}

	// Re-encode canonically for the cache key so formatting differences
	// do not split identical requests.
	canonical, err := json.Marshal(req)
	if err != nil {
		apierr.Internal(w, r, "failed to canonicalize request")
		return
	}
	key := requestCacheKey(canonical)
	if h.cache != nil {
		if data, ok := h.cache.Get(key); ok {
			var cached LayoutResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				cached.Cached = true
				writeJSON(w, http.StatusOK, &cached)
				return
			}
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

	engine := layout.New(h.layoutOptions(&req))
	defer engine.Close()
	stats, err := engine.Run(ctx, set)
	if err != nil {
		logger.ErrorContext(ctx, "layout run failed", "error", err, "nodes", len(req.Nodes))
		apierr.Internal(w, r, "layout computation failed")
		return
	}

	resp := &LayoutResponse{
		Positions:  make([][2]float64, len(req.Nodes)),
		Iterations: stats.Iterations,
		Converged:  stats.Converged,
		DurationMS: stats.Duration.Milliseconds(),
	}
	for i := range req.Nodes {
		resp.Positions[i] = [2]float64{set.X[i], set.Y[i]}
	}

	if h.cache != nil {
		if data, err := json.Marshal(resp); err == nil {
			h.cache.Set(key, data, 0)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LayoutHandler) layoutOptions(req *LayoutRequest) layout.Options {
	opts := layout.Options{
		Threads:           h.cfg.LayoutThreads,
		Iterations:        h.cfg.LayoutIterations,
		Separation:        h.cfg.LayoutSeparation,
		RepulsionStrength: h.cfg.LayoutRepulsion,
		EdgeStiffness:     h.cfg.LayoutEdgeStiffness,
		Softening:         h.cfg.LayoutSoftening,
		MaxStep:           h.cfg.LayoutMaxStep,
		ConvergenceEps:    h.cfg.LayoutEpsilon,
		DirectThreshold:   h.cfg.LayoutDirectThreshold,
	}
	if req.Iterations > 0 {
		opts.Iterations = req.Iterations
	}
	if req.Threads > 0 {
		opts.Threads = req.Threads
	}
	if req.Separation > 0 {
		opts.Separation = req.Separation
	}
	if req.Repulsion > 0 {
		opts.RepulsionStrength = req.Repulsion
	}
	if req.Stiffness > 0 {
		opts.EdgeStiffness = req.Stiffness
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v", err)
	}
	return nil
}
