package store

import (
	"context"
	"time"

	"github.com/graphpulse/forcemap/internal/layout"
	"github.com/graphpulse/forcemap/internal/logger"
)

// refreshBatchLimit caps how many graphs one refresh pass will lay out.
const refreshBatchLimit = 20

// RefreshJob periodically lays out graphs that still have unpositioned
// nodes, so bulk-imported graphs get positions without anyone calling the
// layout endpoint.
type RefreshJob struct {
	store    *Store
	interval time.Duration
	opts     layout.Options
}

// NewRefreshJob creates a refresh job running every interval with the given
// engine options.
func NewRefreshJob(s *Store, interval time.Duration, opts layout.Options) *RefreshJob {
	return &RefreshJob{store: s, interval: interval, opts: opts}
}

// Start runs the job until ctx is cancelled. The first pass runs immediately.
func (j *RefreshJob) Start(ctx context.Context) {
	logger.Info("starting layout refresh job", "interval", j.interval.String())

	j.runOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("layout refresh job stopped")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *RefreshJob) runOnce(ctx context.Context) {
	ids, err := j.store.ListGraphsNeedingLayout(ctx, refreshBatchLimit)
	if err != nil {
		logger.Warn("layout refresh scan failed", "error", err)
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := j.refreshGraph(ctx, id); err != nil {
			logger.Warn("layout refresh failed", "graph_id", id, "error", err)
		}
	}
}

func (j *RefreshJob) refreshGraph(ctx context.Context, graphID int64) error {
	g, err := j.store.LoadGraph(ctx, graphID)
	if err != nil {
		return err
	}
	if len(g.Nodes) == 0 {
		return nil
	}
	set, nodeIDs := g.PointSet()

	engine := layout.New(j.opts)
	defer engine.Close()

	stats, err := engine.Run(ctx, set)
	if err != nil {
		return err
	}
	if err := j.store.SavePositions(ctx, graphID, nodeIDs, set.X, set.Y); err != nil {
		return err
	}
	if err := j.store.RecordLayoutRun(ctx, graphID, j.opts, stats); err != nil {
		// Positions are saved; the run record is best effort
		logger.Warn("record layout run failed", "graph_id", graphID, "error", err)
	}
	logger.Info("graph layout refreshed",
		"graph_id", graphID,
		"nodes", len(g.Nodes),
		"iterations", stats.Iterations,
		"converged", stats.Converged,
	)
	return nil
}
