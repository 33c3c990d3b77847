package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/graphpulse/forcemap/internal/apierr"
	"github.com/graphpulse/forcemap/internal/config"
	"github.com/graphpulse/forcemap/internal/layout"
	"github.com/graphpulse/forcemap/internal/logger"
	"github.com/graphpulse/forcemap/internal/store"
	"github.com/graphpulse/forcemap/internal/tracing"
)

// GraphHandler exposes stored graphs: create, lay out, and read positions.
type GraphHandler struct {
	store *store.Store
	cfg   *config.Config
}

// NewGraphHandler wires the persistence-backed endpoints.
func NewGraphHandler(s *store.Store, cfg *config.Config) *GraphHandler {
	return &GraphHandler{store: s, cfg: cfg}
}

// storeFailure maps a persistence error to the right envelope: 503 while the
// circuit breaker is refusing database calls, 500 otherwise.
func storeFailure(w http.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, store.ErrUnavailable) {
		apierr.Write(w, r, apierr.CodeUnavailable, "graph storage temporarily unavailable")
		return
	}
	apierr.Internal(w, r, message)
}

// CreateGraphRequest is the body for POST /api/graphs.
type CreateGraphRequest struct {
	Name  string       `json:"name"`
	Nodes []namedNode  `json:"nodes"`
	Edges []LayoutEdge `json:"edges"`
}

type namedNode struct {
	Name string  `json:"name"`
	Size float64 `json:"size,omitempty"`
}

// Create handles POST /api/graphs.
func (h *GraphHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateGraphRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierr.BadRequest(w, r, err.Error())
		return
	}
	if req.Name == "" {
		apierr.BadRequest(w, r, "graph name is required")
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

	ctx := r.Context()
	graphID, err := h.store.CreateGraph(ctx, req.Name)
	if err != nil {
		logger.ErrorContext(ctx, "create graph failed", "error", err)
		storeFailure(w, r, err, "failed to create graph")
		return
	}

	names := make([]string, len(req.Nodes))
	sizes := make([]float64, len(req.Nodes))
	for i, n := range req.Nodes {
		names[i] = n.Name
		sizes[i] = n.Size
	}
	nodeIDs, err := h.store.InsertNodes(ctx, graphID, names, sizes)
	if err != nil {
		logger.ErrorContext(ctx, "insert nodes failed", "error", err, "graph_id", graphID)
		storeFailure(w, r, err, "failed to store nodes")
		return
	}

	edges := make([]store.GraphEdge, len(req.Edges))
	for i, e := range req.Edges {
		edges[i] = store.GraphEdge{
			Source: nodeIDs[e.Source],
			Target: nodeIDs[e.Target],
			Length: e.Length,
		}
	}
	if err := h.store.InsertEdges(ctx, graphID, edges); err != nil {
		logger.ErrorContext(ctx, "insert edges failed", "error", err, "graph_id", graphID)
		storeFailure(w, r, err, "failed to store edges")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       graphID,
		"node_ids": nodeIDs,
	})
}

// Get handles GET /api/graphs/{id}.
func (h *GraphHandler) Get(w http.ResponseWriter, r *http.Request) {
	graphID, ok := graphIDFrom(w, r)
	if !ok {
		return
	}
	g, err := h.store.LoadGraph(r.Context(), graphID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierr.Write(w, r, apierr.CodeNotFound, "graph not found")
			return
		}
		logger.ErrorContext(r.Context(), "load graph failed", "error", err, "graph_id", graphID)
		storeFailure(w, r, err, "failed to load graph")
		return
	}

	type nodeOut struct {
		ID   int64    `json:"id"`
		Name string   `json:"name"`
		Size float64  `json:"size"`
		X    *float64 `json:"x,omitempty"`
		Y    *float64 `json:"y,omitempty"`
	}
	type edgeOut struct {
		Source int64   `json:"source"`
		Target int64   `json:"target"`
		Length float64 `json:"length"`
	}
	out := struct {
		ID    int64     `json:"id"`
		Name  string    `json:"name"`
		Nodes []nodeOut `json:"nodes"`
		Edges []edgeOut `json:"edges"`
	}{ID: g.ID, Name: g.Name}
	for _, n := range g.Nodes {
		no := nodeOut{ID: n.ID, Name: n.Name, Size: n.Size}
		if n.X.Valid && n.Y.Valid {
			x, y := n.X.Float64, n.Y.Float64
			no.X, no.Y = &x, &y
		}
		out.Nodes = append(out.Nodes, no)
	}
	for _, e := range g.Edges {
		out.Edges = append(out.Edges, edgeOut{Source: e.Source, Target: e.Target, Length: e.Length})
	}
	writeJSON(w, http.StatusOK, out)
}

// RunLayout handles POST /api/graphs/{id}/layout. It loads the stored graph,
// runs the engine, persists the positions and records the run.
func (h *GraphHandler) RunLayout(w http.ResponseWriter, r *http.Request) {
	graphID, ok := graphIDFrom(w, r)
	if !ok {
		return
	}

	ctx, span := tracing.StartSpan(r.Context(), "api.graph_layout")
	defer span.End()

	var req LayoutRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			apierr.BadRequest(w, r, err.Error())
			return
		}
	}

	g, err := h.store.LoadGraph(ctx, graphID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierr.Write(w, r, apierr.CodeNotFound, "graph not found")
			return
		}
		logger.ErrorContext(ctx, "load graph failed", "error", err, "graph_id", graphID)
		storeFailure(w, r, err, "failed to load graph")
		return
	}
	if len(g.Nodes) == 0 {
		apierr.BadRequest(w, r, "graph has no nodes")
		return
	}

	set, nodeIDs := g.PointSet()

	lh := LayoutHandler{cfg: h.cfg}
	engine := layout.New(lh.layoutOptions(&req))
	defer engine.Close()

	stats, err := engine.Run(ctx, set)
	if err != nil {
		logger.ErrorContext(ctx, "layout run failed", "error", err, "graph_id", graphID)
		apierr.Internal(w, r, "layout computation failed")
		return
	}

	if err := h.store.SavePositions(ctx, graphID, nodeIDs, set.X, set.Y); err != nil {
		logger.ErrorContext(ctx, "save positions failed", "error", err, "graph_id", graphID)
		storeFailure(w, r, err, "failed to persist positions")
		return
	}
	if err := h.store.RecordLayoutRun(ctx, graphID, lh.layoutOptions(&req), stats); err != nil {
		// Positions were saved; the run record is best effort
		logger.Warn("record layout run failed", "error", err, "graph_id", graphID)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"graph_id":    graphID,
		"iterations":  stats.Iterations,
		"converged":   stats.Converged,
		"duration_ms": stats.Duration.Milliseconds(),
	})
}

func graphIDFrom(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		apierr.BadRequest(w, r, "invalid graph id")
		return 0, false
	}
	return id, true
}
