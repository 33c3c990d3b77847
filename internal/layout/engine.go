// Package layout implements a parallel long-range force-approximation engine
// for graph drawing. Given a flat point set and pairwise ideal-distance
// edges, it iteratively computes an approximate all-pairs force field in
// near-linear time: points are sorted by Morton code, indexed by an
// array-backed quadtree, decomposed into well-separated pairs, and evaluated
// by a fixed pool of workers in barrier-phased SPMD style.
package layout

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/graphpulse/forcemap/internal/logger"
	"github.com/graphpulse/forcemap/internal/metrics"
	"github.com/graphpulse/forcemap/internal/tracing"
)

// Options configures an Engine. Zero values select the defaults noted on each
// field.
type Options struct {
	// Threads is the fixed worker count; defaults to GOMAXPROCS. The
	// parallel sort path needs a power of two and falls back to a
	// sequential sort for other counts.
	Threads int
	// Iterations caps the simulation loop. Default 400.
	Iterations int
	// Separation is the WSPD ratio s in dist >= s*max(diam). Default 1.
	Separation float64
	// RepulsionStrength scales the pairwise repulsion. Default 2500.
	RepulsionStrength float64
	// EdgeStiffness scales the attractive edge springs. Default 1.
	EdgeStiffness float64
	// Softening is the additive epsilon keeping coincident points from
	// dividing by zero. Default 0.01.
	Softening float64
	// MaxStep is the initial per-iteration displacement clamp; it cools
	// linearly over the run. Default 10.
	MaxStep float64
	// ConvergenceEps stops the run early once the average displacement
	// falls below it. Zero runs all iterations.
	ConvergenceEps float64
	// DirectThreshold is the expansion size below which a failed pair is
	// evaluated brute-force instead of refined further. Default 25.
	DirectThreshold int
	// OnIteration, when set, is invoked after every completed iteration.
	OnIteration func(IterationStats)
}

func (o Options) withDefaults() Options {
	if o.Threads <= 0 {
		o.Threads = runtime.GOMAXPROCS(0)
	}
	if o.Iterations <= 0 {
		o.Iterations = 400
	}
	if o.Separation <= 0 {
		o.Separation = 1
	}
	if o.RepulsionStrength <= 0 {
		o.RepulsionStrength = 2500
	}
	if o.EdgeStiffness <= 0 {
		o.EdgeStiffness = 1
	}
	if o.Softening <= 0 {
		o.Softening = 0.01
	}
	if o.MaxStep <= 0 {
		o.MaxStep = 10
	}
	if o.DirectThreshold <= 0 {
		o.DirectThreshold = 25
	}
	return o
}

// RunStats summarizes one completed Run.
type RunStats struct {
	Iterations int
	Converged  bool
	Duration   time.Duration
	Final      IterationStats
}

// Engine owns the worker pool and drives the iteration loop. The pool is
// constructed once and reused across runs; per-run arenas are allocated when
// Run sees the point count. An engine must be Closed when no longer needed.
type Engine struct {
	opts Options
	pool *threadPool
	log  *slog.Logger
}

// New builds an engine. Pool construction failure is unrecoverable
// infrastructure failure and panics, as does allocation failure later on the
// arenas: there is no degraded mode without memory or workers.
func New(opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		opts: opts,
		pool: newThreadPool(opts.Threads),
		log:  logger.WithComponent("layout"),
	}
}

// Close stops the worker pool.
func (e *Engine) Close() { e.pool.close() }

// Run executes the simulation loop on the point set, mutating its positions
// in place. An empty set is a no-op. The context is only checked between
// iterations; a started kernel invocation always runs to completion.
func (e *Engine) Run(ctx context.Context, set *PointSet) (RunStats, error) {
	var stats RunStats
	n := set.Len()
	if n == 0 {
		return stats, nil
	}
	if len(set.Y) != n || (len(set.Size) != 0 && len(set.Size) != n) {
		return stats, fmt.Errorf("layout: mismatched point array lengths")
	}
	for _, ed := range set.Edges {
		if ed.Source < 0 || int(ed.Source) >= n || ed.Target < 0 || int(ed.Target) >= n {
			return stats, fmt.Errorf("layout: edge %d-%d out of range", ed.Source, ed.Target)
		}
	}

	ctx, span := tracing.StartSpan(ctx, "layout.run")
	defer span.End()

	start := time.Now()
	k := newForceKernel(e, set)
	e.log.Debug("run starting", "points", n, "edges", len(set.Edges), "threads", e.opts.Threads)

	for it := 0; it < e.opts.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			k.ps.writeBack(set)
			stats.Duration = time.Since(start)
			return stats, err
		}

		// Linear cooling with a floor so late iterations still move.
		k.temperature = e.opts.MaxStep * (1 - float64(it)/float64(e.opts.Iterations))
		if floor := e.opts.MaxStep * 0.01; k.temperature < floor {
			k.temperature = floor
		}

		iterStart := time.Now()
		e.pool.runKernel(k.run)
		metrics.LayoutIterationDuration.Observe(time.Since(iterStart).Seconds())

		is := k.stats
		is.Iteration = it
		stats.Iterations = it + 1
		stats.Final = is
		if e.opts.OnIteration != nil {
			e.opts.OnIteration(is)
		}
		if e.opts.ConvergenceEps > 0 && is.AvgDisplacement < e.opts.ConvergenceEps {
			stats.Converged = true
			break
		}
	}

	k.ps.writeBack(set)
	stats.Duration = time.Since(start)

	metrics.LayoutRunDuration.Observe(stats.Duration.Seconds())
	metrics.LayoutTreeNodes.Set(float64(stats.Final.TreeNodes))
	metrics.LayoutPairs.WithLabelValues("well_separated").Set(float64(stats.Final.WellSeparatedPairs))
	metrics.LayoutPairs.WithLabelValues("direct").Set(float64(stats.Final.DirectPairs))
	metrics.LayoutRunsTotal.Inc()

	e.log.Info("run complete",
		"points", n,
		"edges", len(set.Edges),
		"iterations", stats.Iterations,
		"converged", stats.Converged,
		"duration", stats.Duration,
	)
	return stats, nil
}
