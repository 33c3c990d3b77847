package layout

import (
	"context"
	"fmt"
	"math"
	"testing"
)

func TestRunEmptySetIsNoOp(t *testing.T) {
	e := New(Options{Threads: 2, Iterations: 10})
	defer e.Close()
	stats, err := e.Run(context.Background(), &PointSet{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Iterations != 0 {
		t.Errorf("iterations = %d, want 0", stats.Iterations)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	e := New(Options{Threads: 1, Iterations: 1})
	defer e.Close()

	t.Run("mismatched arrays", func(t *testing.T) {
		set := &PointSet{X: []float64{1, 2}, Y: []float64{1}}
		if _, err := e.Run(context.Background(), set); err == nil {
			t.Error("expected an error for mismatched array lengths")
		}
	})

	t.Run("edge out of range", func(t *testing.T) {
		set := &PointSet{
			X:     []float64{1, 2},
			Y:     []float64{1, 2},
			Edges: []Edge{{Source: 0, Target: 5}},
		}
		if _, err := e.Run(context.Background(), set); err == nil {
			t.Error("expected an error for an out-of-range edge")
		}
	})

	t.Run("negative edge endpoint", func(t *testing.T) {
		set := &PointSet{
			X:     []float64{1, 2},
			Y:     []float64{1, 2},
			Edges: []Edge{{Source: -1, Target: 0}},
		}
		if _, err := e.Run(context.Background(), set); err == nil {
			t.Error("expected an error for a negative edge endpoint")
		}
	})
}

func TestRunSquareExpandsSymmetrically(t *testing.T) {
	// Four points on a square with no edges repel each other outward; the
	// configuration stays a square centered where it started.
	set := &PointSet{
		X: []float64{0, 10, 0, 10},
		Y: []float64{0, 0, 10, 10},
	}
	e := New(Options{Threads: 1, Iterations: 10, MaxStep: 1})
	defer e.Close()
	if _, err := e.Run(context.Background(), set); err != nil {
		t.Fatal(err)
	}

	cx := (set.X[0] + set.X[1] + set.X[2] + set.X[3]) / 4
	cy := (set.Y[0] + set.Y[1] + set.Y[2] + set.Y[3]) / 4
	if math.Abs(cx-5) > 1e-6 || math.Abs(cy-5) > 1e-6 {
		t.Errorf("center drifted to (%f,%f)", cx, cy)
	}

	d01 := math.Hypot(set.X[0]-set.X[1], set.Y[0]-set.Y[1])
	if d01 <= 10 {
		t.Errorf("points did not expand: side = %f", d01)
	}
	// All sides equal by symmetry.
	d23 := math.Hypot(set.X[2]-set.X[3], set.Y[2]-set.Y[3])
	d02 := math.Hypot(set.X[0]-set.X[2], set.Y[0]-set.Y[2])
	d13 := math.Hypot(set.X[1]-set.X[3], set.Y[1]-set.Y[3])
	for _, d := range []float64{d23, d02, d13} {
		if math.Abs(d-d01) > 1e-6 {
			t.Errorf("square broke symmetry: sides %f vs %f", d01, d)
		}
	}
}

func TestRunFourPointsMatchBruteForce(t *testing.T) {
	// Four points on one thread under the default separation: every
	// decomposition entry is either a pair of singleton subtrees or a
	// direct expansion, so the approximation introduces no model error and
	// the run must track the O(n^2) reference to summation-order precision.
	iterations := 10
	opts := Options{Threads: 1, Iterations: iterations}

	engineSet := &PointSet{
		X:     []float64{0, 10, 0, 10},
		Y:     []float64{0, 0, 10, 10},
		Edges: []Edge{{Source: 0, Target: 3, Length: 12}},
	}
	refSet := &PointSet{
		X:     append([]float64(nil), engineSet.X...),
		Y:     append([]float64(nil), engineSet.Y...),
		Edges: engineSet.Edges,
	}

	e := New(opts)
	defer e.Close()
	if _, err := e.Run(context.Background(), engineSet); err != nil {
		t.Fatal(err)
	}

	full := opts.withDefaults()
	for it := 0; it < iterations; it++ {
		temp := full.MaxStep * (1 - float64(it)/float64(iterations))
		if floor := full.MaxStep * 0.01; temp < floor {
			temp = floor
		}
		bruteForceStep(refSet, full, temp)
	}

	for i := range engineSet.X {
		dx := math.Abs(engineSet.X[i] - refSet.X[i])
		dy := math.Abs(engineSet.Y[i] - refSet.Y[i])
		if dx > 1e-9 || dy > 1e-9 {
			t.Fatalf("point %d diverged from the reference by (%g, %g)", i, dx, dy)
		}
	}
}

func TestRunMatchesBruteForceWhenAllDirect(t *testing.T) {
	// A huge separation ratio forces every pair onto the direct path, so
	// the engine computes the exact model and must agree with the plain
	// O(n^2) reference up to summation order.
	n := 60
	iterations := 5
	opts := Options{
		Threads:           1,
		Iterations:        iterations,
		Separation:        1e12,
		RepulsionStrength: 2500,
		EdgeStiffness:     1,
		Softening:         0.01,
		MaxStep:           10,
	}

	engineSet := randomPointSet(n, 200, 55)
	refSet := randomPointSet(n, 200, 55)
	engineSet.Edges = []Edge{{0, 1, 5}, {1, 2, 5}, {2, 3, 5}, {10, 40, 8}}
	refSet.Edges = engineSet.Edges

	e := New(opts)
	defer e.Close()
	if _, err := e.Run(context.Background(), engineSet); err != nil {
		t.Fatal(err)
	}

	full := opts.withDefaults()
	for it := 0; it < iterations; it++ {
		temp := full.MaxStep * (1 - float64(it)/float64(iterations))
		if floor := full.MaxStep * 0.01; temp < floor {
			temp = floor
		}
		bruteForceStep(refSet, full, temp)
	}

	for i := 0; i < n; i++ {
		dx := math.Abs(engineSet.X[i] - refSet.X[i])
		dy := math.Abs(engineSet.Y[i] - refSet.Y[i])
		if dx > 1e-6 || dy > 1e-6 {
			t.Fatalf("point %d diverged from the reference by (%g, %g)", i, dx, dy)
		}
	}
}

func TestRunAgreesAcrossThreadCounts(t *testing.T) {
	// The sort is a total order, the tree build and decomposition run on
	// worker 0, and forces reduce over fixed list blocks in index order, so
	// the thread count must not change the result at all. A tolerance here
	// would hide summation-order seeds that amplify through discrete
	// reclassification over enough iterations, so positions are compared
	// exactly.
	n := 500
	var refX, refY []float64
	for _, threads := range []int{1, 2, 4, 8} {
		t.Run(fmt.Sprintf("threads=%d", threads), func(t *testing.T) {
			set := randomPointSet(n, 300, 123)
			for i := 0; i < n-1; i += 7 {
				set.Edges = append(set.Edges, Edge{Source: int32(i), Target: int32(i + 1), Length: 10})
			}
			e := New(Options{Threads: threads, Iterations: 20})
			defer e.Close()
			if _, err := e.Run(context.Background(), set); err != nil {
				t.Fatal(err)
			}
			if refX == nil {
				refX = append([]float64(nil), set.X...)
				refY = append([]float64(nil), set.Y...)
				return
			}
			for i := 0; i < n; i++ {
				if set.X[i] != refX[i] || set.Y[i] != refY[i] {
					t.Fatalf("point %d differs from 1-thread run by (%g, %g)",
						i, set.X[i]-refX[i], set.Y[i]-refY[i])
				}
			}
		})
	}
}

func TestRunLargeSetAgreesAcrossThreadCounts(t *testing.T) {
	// Above the parallel-sort cutoff the merge path is exercised too; the
	// total order (code, then id) still yields the identical permutation,
	// so the exact-agreement property must hold there as well.
	if testing.Short() {
		t.Skip("large input")
	}
	n := 4000
	var refX, refY []float64
	for _, threads := range []int{1, 4} {
		set := randomPointSet(n, 1000, 99)
		e := New(Options{Threads: threads, Iterations: 10})
		if _, err := e.Run(context.Background(), set); err != nil {
			e.Close()
			t.Fatal(err)
		}
		e.Close()
		if refX == nil {
			refX = append([]float64(nil), set.X...)
			refY = append([]float64(nil), set.Y...)
			continue
		}
		for i := 0; i < n; i++ {
			if set.X[i] != refX[i] || set.Y[i] != refY[i] {
				t.Fatalf("threads=%d: point %d differs by (%g, %g)",
					threads, i, set.X[i]-refX[i], set.Y[i]-refY[i])
			}
		}
	}
}

func TestRunEdgesPullEndpointsTogether(t *testing.T) {
	// Two clusters joined by edges end closer together than two unjoined
	// clusters in the same starting configuration.
	build := func(withEdges bool) float64 {
		set := &PointSet{}
		for i := 0; i < 20; i++ {
			set.X = append(set.X, float64(i%5))
			set.Y = append(set.Y, float64(i/5))
		}
		for i := 0; i < 20; i++ {
			set.X = append(set.X, 500+float64(i%5))
			set.Y = append(set.Y, float64(i/5))
		}
		set.Size = make([]float64, 40)
		if withEdges {
			for i := 0; i < 10; i++ {
				set.Edges = append(set.Edges, Edge{Source: int32(i), Target: int32(20 + i), Length: 20})
			}
		}
		e := New(Options{Threads: 2, Iterations: 100})
		defer e.Close()
		if _, err := e.Run(context.Background(), set); err != nil {
			t.Fatal(err)
		}
		var c1x, c2x float64
		for i := 0; i < 20; i++ {
			c1x += set.X[i] / 20
			c2x += set.X[20+i] / 20
		}
		return math.Abs(c2x - c1x)
	}

	joined := build(true)
	free := build(false)
	if joined >= free {
		t.Errorf("edge-joined clusters ended %f apart, unjoined %f", joined, free)
	}
}

func TestRunConvergenceStopsEarly(t *testing.T) {
	set := randomPointSet(50, 100, 7)
	e := New(Options{Threads: 1, Iterations: 10000, ConvergenceEps: 5, MaxStep: 10})
	defer e.Close()
	stats, err := e.Run(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if !stats.Converged {
		t.Error("expected convergence with a loose threshold")
	}
	if stats.Iterations >= 10000 {
		t.Error("run did not stop early")
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	set := randomPointSet(2000, 500, 17)
	e := New(Options{Threads: 2, Iterations: 100000})
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Run(ctx, set)
		done <- err
	}()
	cancel()
	if err := <-done; err == nil {
		t.Error("expected a context error")
	}
}

func TestRunOnIterationCallback(t *testing.T) {
	iterations := 12
	var calls []int
	e := New(Options{
		Threads:    1,
		Iterations: iterations,
		OnIteration: func(is IterationStats) {
			calls = append(calls, is.Iteration)
		},
	})
	defer e.Close()

	set := randomPointSet(30, 100, 2)
	stats, err := e.Run(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != stats.Iterations {
		t.Fatalf("callback fired %d times for %d iterations", len(calls), stats.Iterations)
	}
	for i, it := range calls {
		if it != i {
			t.Fatalf("callback %d reported iteration %d", i, it)
		}
	}
}

func TestRunStatsPopulated(t *testing.T) {
	set := randomPointSet(200, 100, 4)
	e := New(Options{Threads: 2, Iterations: 5})
	defer e.Close()
	stats, err := e.Run(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Iterations != 5 {
		t.Errorf("iterations = %d, want 5", stats.Iterations)
	}
	if stats.Duration <= 0 {
		t.Error("duration not recorded")
	}
	if stats.Final.TreeNodes == 0 {
		t.Error("tree node count missing from final stats")
	}
	if stats.Final.WellSeparatedPairs+stats.Final.DirectPairs+stats.Final.DirectNodes == 0 {
		t.Error("no decomposition output in final stats")
	}
}

func TestRunEngineReusableAcrossRuns(t *testing.T) {
	e := New(Options{Threads: 2, Iterations: 3})
	defer e.Close()
	for i := 0; i < 3; i++ {
		set := randomPointSet(100, 100, int64(i))
		if _, err := e.Run(context.Background(), set); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.Threads < 1 {
		t.Error("threads default missing")
	}
	if o.Iterations != 400 {
		t.Errorf("iterations default = %d", o.Iterations)
	}
	if o.Separation != 1 || o.RepulsionStrength != 2500 || o.EdgeStiffness != 1 {
		t.Error("force defaults wrong")
	}
	if o.Softening != 0.01 || o.MaxStep != 10 || o.DirectThreshold != 25 {
		t.Error("numeric defaults wrong")
	}
}
