// Package store persists graphs and computed layouts in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/graphpulse/forcemap/internal/circuitbreaker"
	"github.com/graphpulse/forcemap/internal/layout"
	"github.com/graphpulse/forcemap/internal/metrics"
	"github.com/graphpulse/forcemap/internal/tracing"
)

// Store wraps the database connection used for graph and position persistence.
// All operations go through a circuit breaker so a dead database turns into
// fast ErrUnavailable responses instead of piled-up timeouts.
type Store struct {
	db            *sql.DB
	cb            *circuitbreaker.Breaker
	stmtTimeout   time.Duration
	positionBatch int
}

// ErrUnavailable is returned while the breaker is refusing database calls.
var ErrUnavailable = circuitbreaker.ErrOpen

// Open connects to Postgres and verifies the connection.
func Open(connStr string, stmtTimeout time.Duration, positionBatch int) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if positionBatch <= 0 {
		positionBatch = 500
	}
	return &Store{
		db:            db,
		cb:            circuitbreaker.New(circuitbreaker.Config{Name: "postgres"}),
		stmtTimeout:   stmtTimeout,
		positionBatch: positionBatch,
	}, nil
}

// guard runs a database operation through the circuit breaker. ErrNotFound is
// a valid answer, not a database failure, so it never counts against the
// breaker.
func (s *Store) guard(fn func() error) error {
	var notFound bool
	err := s.cb.Call(func() error {
		if err := fn(); err != nil {
			if errors.Is(err, ErrNotFound) {
				notFound = true
				return nil
			}
			return err
		}
		return nil
	})
	if notFound {
		return ErrNotFound
	}
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.stmtTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.stmtTimeout)
}

// GraphNode is a stored node with its last computed position.
type GraphNode struct {
	ID   int64
	Name string
	Size float64
	X    sql.NullFloat64
	Y    sql.NullFloat64
}

// GraphEdge is a stored undirected edge with a desired rest length.
type GraphEdge struct {
	Source int64
	Target int64
	Length float64
}

// Graph is a named node and edge collection.
type Graph struct {
	ID    int64
	Name  string
	Nodes []GraphNode
	Edges []GraphEdge
}

// PointSet builds the engine input from stored nodes and edges, returning the
// node ids parallel to the point order. Nodes without stored positions start
// on a small deterministic grid so repeated runs of the same graph reproduce.
func (g *Graph) PointSet() (*layout.PointSet, []int64) {
	set := &layout.PointSet{
		X:    make([]float64, len(g.Nodes)),
		Y:    make([]float64, len(g.Nodes)),
		Size: make([]float64, len(g.Nodes)),
	}
	nodeIDs := make([]int64, len(g.Nodes))
	index := make(map[int64]int32, len(g.Nodes))
	side := 1
	for side*side < len(g.Nodes) {
		side++
	}
	for i, n := range g.Nodes {
		nodeIDs[i] = n.ID
		index[n.ID] = int32(i)
		set.Size[i] = n.Size
		if n.X.Valid && n.Y.Valid {
			set.X[i] = n.X.Float64
			set.Y[i] = n.Y.Float64
		} else {
			set.X[i] = float64(i % side)
			set.Y[i] = float64(i / side)
		}
	}
	for _, e := range g.Edges {
		si, ok1 := index[e.Source]
		ti, ok2 := index[e.Target]
		if !ok1 || !ok2 {
			continue
		}
		set.Edges = append(set.Edges, layout.Edge{Source: si, Target: ti, Length: e.Length})
	}
	return set, nodeIDs
}

// CreateGraph inserts an empty named graph and returns its id.
func (s *Store) CreateGraph(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.guard(func() error {
		var err error
		id, err = s.createGraph(ctx, name)
		return err
	})
	return id, err
}

func (s *Store) createGraph(ctx context.Context, name string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO graphs (name, created_at) VALUES ($1, NOW()) RETURNING id`,
		name,
	).Scan(&id)
	metrics.DBOperationDuration.WithLabelValues("create_graph").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBOperationErrors.WithLabelValues("create_graph").Inc()
		return 0, fmt.Errorf("create graph: %w", err)
	}
	return id, nil
}

// InsertNodes bulk-inserts nodes for a graph. Node ids are assigned by the
// database and returned in input order.
func (s *Store) InsertNodes(ctx context.Context, graphID int64, names []string, sizes []float64) ([]int64, error) {
	var ids []int64
	err := s.guard(func() error {
		var err error
		ids, err = s.insertNodes(ctx, graphID, names, sizes)
		return err
	})
	return ids, err
}

func (s *Store) insertNodes(ctx context.Context, graphID int64, names []string, sizes []float64) ([]int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO graph_nodes (graph_id, name, size) VALUES ($1, $2, $3) RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("prepare node insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, len(names))
	for i, name := range names {
		size := 1.0
		if i < len(sizes) && sizes[i] > 0 {
			size = sizes[i]
		}
		if err := stmt.QueryRowContext(ctx, graphID, name, size).Scan(&ids[i]); err != nil {
			metrics.DBOperationErrors.WithLabelValues("insert_nodes").Inc()
			return nil, fmt.Errorf("insert node %q: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit nodes: %w", err)
	}
	metrics.DBOperationDuration.WithLabelValues("insert_nodes").Observe(time.Since(start).Seconds())
	return ids, nil
}

// InsertEdges bulk-inserts edges for a graph.
func (s *Store) InsertEdges(ctx context.Context, graphID int64, edges []GraphEdge) error {
	return s.guard(func() error {
		return s.insertEdges(ctx, graphID, edges)
	})
}

func (s *Store) insertEdges(ctx context.Context, graphID int64, edges []GraphEdge) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO graph_edges (graph_id, source_id, target_id, length) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("prepare edge insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		length := e.Length
		if length <= 0 {
			length = 1
		}
		if _, err := stmt.ExecContext(ctx, graphID, e.Source, e.Target, length); err != nil {
			metrics.DBOperationErrors.WithLabelValues("insert_edges").Inc()
			return fmt.Errorf("insert edge %d->%d: %w", e.Source, e.Target, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit edges: %w", err)
	}
	metrics.DBOperationDuration.WithLabelValues("insert_edges").Observe(time.Since(start).Seconds())
	return nil
}

// LoadGraph reads a full graph with its nodes, edges and stored positions.
func (s *Store) LoadGraph(ctx context.Context, graphID int64) (*Graph, error) {
	ctx, span := tracing.StartSpan(ctx, "store.load_graph")
	defer span.End()

	var g *Graph
	err := s.guard(func() error {
		var err error
		g, err = s.loadGraph(ctx, graphID)
		return err
	})
	return g, err
}

func (s *Store) loadGraph(ctx context.Context, graphID int64) (*Graph, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	g := &Graph{ID: graphID}
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM graphs WHERE id = $1`, graphID,
	).Scan(&g.Name)
	if err != nil {
		metrics.DBOperationErrors.WithLabelValues("load_graph").Inc()
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load graph %d: %w", graphID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, size, pos_x, pos_y FROM graph_nodes WHERE graph_id = $1 ORDER BY id`, graphID)
	if err != nil {
		metrics.DBOperationErrors.WithLabelValues("load_graph").Inc()
		return nil, fmt.Errorf("load nodes for graph %d: %w", graphID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var n GraphNode
		if err := rows.Scan(&n.ID, &n.Name, &n.Size, &n.X, &n.Y); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		g.Nodes = append(g.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}

	edgeRows, err := s.db.QueryContext(ctx,
		`SELECT source_id, target_id, length FROM graph_edges WHERE graph_id = $1 ORDER BY source_id, target_id`, graphID)
	if err != nil {
		metrics.DBOperationErrors.WithLabelValues("load_graph").Inc()
		return nil, fmt.Errorf("load edges for graph %d: %w", graphID, err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e GraphEdge
		if err := edgeRows.Scan(&e.Source, &e.Target, &e.Length); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		g.Edges = append(g.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}

	metrics.DBOperationDuration.WithLabelValues("load_graph").Observe(time.Since(start).Seconds())
	return g, nil
}

// SavePositions writes computed positions back in batches of multi-row
// updates. nodeIDs and positions are parallel with the layout order.
func (s *Store) SavePositions(ctx context.Context, graphID int64, nodeIDs []int64, x, y []float64) error {
	if len(nodeIDs) != len(x) || len(nodeIDs) != len(y) {
		return fmt.Errorf("save positions: mismatched lengths %d/%d/%d", len(nodeIDs), len(x), len(y))
	}

	ctx, span := tracing.StartSpan(ctx, "store.save_positions")
	defer span.End()

	return s.guard(func() error {
		return s.savePositions(ctx, graphID, nodeIDs, x, y)
	})
}

func (s *Store) savePositions(ctx context.Context, graphID int64, nodeIDs []int64, x, y []float64) error {
	start := time.Now()
	for off := 0; off < len(nodeIDs); off += s.positionBatch {
		end := off + s.positionBatch
		if end > len(nodeIDs) {
			end = len(nodeIDs)
		}
		if err := s.savePositionBatch(ctx, graphID, nodeIDs[off:end], x[off:end], y[off:end]); err != nil {
			metrics.DBOperationErrors.WithLabelValues("save_positions").Inc()
			return err
		}
	}
	metrics.DBOperationDuration.WithLabelValues("save_positions").Observe(time.Since(start).Seconds())
	return nil
}

// savePositionBatch updates one batch via an unnested VALUES join, keeping
// round trips proportional to the batch count rather than the node count.
func (s *Store) savePositionBatch(ctx context.Context, graphID int64, nodeIDs []int64, x, y []float64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var sb strings.Builder
	args := make([]interface{}, 0, len(nodeIDs)*3+1)
	args = append(args, graphID)
	sb.WriteString(`UPDATE graph_nodes AS n SET pos_x = v.x, pos_y = v.y, positioned_at = NOW() FROM (VALUES `)
	for i := range nodeIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := len(args)
		fmt.Fprintf(&sb, "($%d::bigint, $%d::double precision, $%d::double precision)", base+1, base+2, base+3)
		args = append(args, nodeIDs[i], x[i], y[i])
	}
	sb.WriteString(`) AS v(id, x, y) WHERE n.graph_id = $1 AND n.id = v.id`)

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("update position batch: %w", err)
	}
	return nil
}

// RecordLayoutRun stores a row describing a completed layout run, with the
// options snapshot kept as JSONB for later inspection.
func (s *Store) RecordLayoutRun(ctx context.Context, graphID int64, opts layout.Options, stats layout.RunStats) error {
	return s.guard(func() error {
		return s.recordLayoutRun(ctx, graphID, opts, stats)
	})
}

func (s *Store) recordLayoutRun(ctx context.Context, graphID int64, opts layout.Options, stats layout.RunStats) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	optsJSON, err := json.Marshal(map[string]interface{}{
		"threads":          opts.Threads,
		"iterations":       opts.Iterations,
		"separation":       opts.Separation,
		"repulsion":        opts.RepulsionStrength,
		"edge_stiffness":   opts.EdgeStiffness,
		"softening":        opts.Softening,
		"max_step":         opts.MaxStep,
		"convergence_eps":  opts.ConvergenceEps,
		"direct_threshold": opts.DirectThreshold,
	})
	if err != nil {
		return fmt.Errorf("marshal layout options: %w", err)
	}

	start := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO layout_runs (graph_id, iterations, converged, duration_ms, options, finished_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		graphID,
		stats.Iterations,
		stats.Converged,
		stats.Duration.Milliseconds(),
		pqtype.NullRawMessage{RawMessage: optsJSON, Valid: true},
	)
	metrics.DBOperationDuration.WithLabelValues("record_layout_run").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBOperationErrors.WithLabelValues("record_layout_run").Inc()
		return fmt.Errorf("record layout run: %w", err)
	}
	return nil
}

// ListGraphsNeedingLayout returns ids of graphs that still have nodes without
// a stored position, oldest first.
func (s *Store) ListGraphsNeedingLayout(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	err := s.guard(func() error {
		ctx, cancel := s.withTimeout(ctx)
		defer cancel()

		start := time.Now()
		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT graph_id FROM graph_nodes WHERE pos_x IS NULL ORDER BY graph_id LIMIT $1`,
			limit)
		if err != nil {
			metrics.DBOperationErrors.WithLabelValues("list_needing_layout").Inc()
			return fmt.Errorf("list graphs needing layout: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan graph id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate graph ids: %w", err)
		}
		metrics.DBOperationDuration.WithLabelValues("list_needing_layout").Observe(time.Since(start).Seconds())
		return nil
	})
	return ids, err
}

// LatestLayoutRun returns the most recent recorded run for a graph.
func (s *Store) LatestLayoutRun(ctx context.Context, graphID int64) (*LayoutRun, error) {
	var run *LayoutRun
	err := s.guard(func() error {
		var err error
		run, err = s.latestLayoutRun(ctx, graphID)
		return err
	})
	return run, err
}

func (s *Store) latestLayoutRun(ctx context.Context, graphID int64) (*LayoutRun, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var run LayoutRun
	var raw pqtype.NullRawMessage
	err := s.db.QueryRowContext(ctx,
		`SELECT id, graph_id, iterations, converged, duration_ms, options, finished_at
		 FROM layout_runs WHERE graph_id = $1 ORDER BY finished_at DESC LIMIT 1`,
		graphID,
	).Scan(&run.ID, &run.GraphID, &run.Iterations, &run.Converged, &run.DurationMS, &raw, &run.FinishedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load latest layout run: %w", err)
	}
	if raw.Valid {
		run.Options = json.RawMessage(raw.RawMessage)
	}
	return &run, nil
}

// LayoutRun is a stored record of one engine run.
type LayoutRun struct {
	ID         int64
	GraphID    int64
	Iterations int
	Converged  bool
	DurationMS int64
	Options    json.RawMessage
	FinishedAt time.Time
}
