// Command layout runs a one-shot layout computation. It reads a JSON graph
// from a file or stdin and writes final positions as JSON, or with -graph-id
// it lays out a stored graph and writes positions back to the database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/graphpulse/forcemap/internal/layout"
	"github.com/graphpulse/forcemap/internal/logger"
	"github.com/graphpulse/forcemap/internal/store"
)

type inputGraph struct {
	Nodes []struct {
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
		Size float64 `json:"size,omitempty"`
	} `json:"nodes"`
	Edges []struct {
		Source int32   `json:"source"`
		Target int32   `json:"target"`
		Length float64 `json:"length,omitempty"`
	} `json:"edges"`
}

type output struct {
	Positions  [][2]float64 `json:"positions"`
	Iterations int          `json:"iterations"`
	Converged  bool         `json:"converged"`
	DurationMS int64        `json:"duration_ms"`
}

func main() {
	var (
		inPath     = flag.String("in", "-", "input graph JSON, - for stdin")
		outPath    = flag.String("out", "-", "output JSON, - for stdout")
		graphID    = flag.Int64("graph-id", 0, "stored graph id; requires DATABASE_URL and overrides -in/-out")
		iterations = flag.Int("iterations", 400, "iteration count")
		threads    = flag.Int("threads", 0, "worker count, 0 = one per CPU")
		separation = flag.Float64("separation", 1.0, "well-separation ratio")
		repulsion  = flag.Float64("repulsion", 2500, "repulsion strength")
		stiffness  = flag.Float64("stiffness", 1.0, "edge spring stiffness")
		eps        = flag.Float64("eps", 0, "convergence threshold, 0 = run all iterations")
		progress   = flag.Bool("progress", false, "log progress every 50 iterations")
		logLevel   = flag.String("log-level", "info", "log level")
	)
	flag.Parse()
	logger.Init(*logLevel)
	godotenv.Load()

	opts := layout.Options{
		Threads:           *threads,
		Iterations:        *iterations,
		Separation:        *separation,
		RepulsionStrength: *repulsion,
		EdgeStiffness:     *stiffness,
		ConvergenceEps:    *eps,
	}
	if *progress {
		opts.OnIteration = func(is layout.IterationStats) {
			if (is.Iteration+1)%50 == 0 {
				logger.Info("progress",
					"iteration", is.Iteration+1,
					"avg_displacement", is.AvgDisplacement,
					"max_displacement", is.MaxDisplacement,
				)
			}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *graphID > 0 {
		runStored(ctx, *graphID, opts)
		return
	}
	runFile(ctx, *inPath, *outPath, opts)
}

// runFile lays out a JSON graph from a file or stdin and writes positions
// back out as JSON.
func runFile(ctx context.Context, inPath, outPath string, opts layout.Options) {
	in, err := readInput(inPath)
	if err != nil {
		fatal("read input: %v", err)
	}

	set := &layout.PointSet{
		X:    make([]float64, len(in.Nodes)),
		Y:    make([]float64, len(in.Nodes)),
		Size: make([]float64, len(in.Nodes)),
	}
	for i, n := range in.Nodes {
		set.X[i] = n.X
		set.Y[i] = n.Y
		set.Size[i] = n.Size
	}
	for _, e := range in.Edges {
		set.Edges = append(set.Edges, layout.Edge{Source: e.Source, Target: e.Target, Length: e.Length})
	}

	engine := layout.New(opts)
	defer engine.Close()

	stats, err := engine.Run(ctx, set)
	if err != nil {
		fatal("layout run: %v", err)
	}

	out := output{
		Positions:  make([][2]float64, len(in.Nodes)),
		Iterations: stats.Iterations,
		Converged:  stats.Converged,
		DurationMS: stats.Duration.Milliseconds(),
	}
	for i := range in.Nodes {
		out.Positions[i] = [2]float64{set.X[i], set.Y[i]}
	}
	if err := writeOutput(outPath, &out); err != nil {
		fatal("write output: %v", err)
	}
}

// runStored lays out a graph from the database and persists the result.
func runStored(ctx context.Context, graphID int64, opts layout.Options) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		fatal("-graph-id requires DATABASE_URL")
	}
	s, err := store.Open(dbURL, 25*time.Second, 5000)
	if err != nil {
		fatal("open store: %v", err)
	}
	defer s.Close()

	g, err := s.LoadGraph(ctx, graphID)
	if err != nil {
		fatal("load graph %d: %v", graphID, err)
	}
	if len(g.Nodes) == 0 {
		fatal("graph %d has no nodes", graphID)
	}
	set, nodeIDs := g.PointSet()

	engine := layout.New(opts)
	defer engine.Close()

	stats, err := engine.Run(ctx, set)
	if err != nil {
		fatal("layout run: %v", err)
	}
	if err := s.SavePositions(ctx, graphID, nodeIDs, set.X, set.Y); err != nil {
		fatal("save positions: %v", err)
	}
	if err := s.RecordLayoutRun(ctx, graphID, opts, stats); err != nil {
		logger.Warn("record layout run failed", "error", err)
	}
	logger.Info("layout stored",
		"graph_id", graphID,
		"nodes", len(g.Nodes),
		"iterations", stats.Iterations,
		"converged", stats.Converged,
		"duration_ms", stats.Duration.Milliseconds(),
	)
}

func readInput(path string) (*inputGraph, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var in inputGraph
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, err
	}
	if len(in.Nodes) == 0 {
		return nil, fmt.Errorf("graph has no nodes")
	}
	for i, e := range in.Edges {
		if int(e.Source) >= len(in.Nodes) || int(e.Target) >= len(in.Nodes) || e.Source < 0 || e.Target < 0 {
			return nil, fmt.Errorf("edge %d references a node out of range", i)
		}
	}
	return &in, nil
}

func writeOutput(path string, out *output) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
