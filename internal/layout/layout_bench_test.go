package layout

import (
	"context"
	"fmt"
	"sort"
	"testing"
)

func BenchmarkIndexBuild(b *testing.B) {
	for _, n := range []int{1000, 10000, 100000} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			set := randomPointSet(n, 1000, int64(n))
			ps := newPointStore(set)
			idx := newSpatialIndex(n)
			idx.init(ps.boundsOf(0, n))
			for i := 0; i < n; i++ {
				ps.code[i] = idx.codeOf(ps.x[i], ps.y[i])
			}
			sort.Sort(&pointSorter{ps: ps, lo: 0, hi: n})
			builder := newIndexBuilder(idx)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				idx.init(ps.boundsOf(0, n))
				for j := 0; j < n; j++ {
					ps.code[j] = idx.codeOf(ps.x[j], ps.y[j])
				}
				builder.build(ps)
			}
		})
	}
}

func BenchmarkDecompose(b *testing.B) {
	for _, n := range []int{1000, 10000, 100000} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			set := randomPointSet(n, 1000, int64(n))
			_, idx := buildTestIndex(set)
			d := newPairDecomposer(idx, 1.0, 25)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				idx.clear()
				d.decompose()
			}
		})
	}
}

func BenchmarkRunIteration(b *testing.B) {
	for _, n := range []int{1000, 10000} {
		for _, threads := range []int{1, 2, 4, 8} {
			b.Run(fmt.Sprintf("n=%d/threads=%d", n, threads), func(b *testing.B) {
				set := randomPointSet(n, 1000, int64(n))
				for i := 0; i < n-1; i += 3 {
					set.Edges = append(set.Edges, Edge{Source: int32(i), Target: int32(i + 1), Length: 10})
				}
				e := New(Options{Threads: threads, Iterations: 1})
				defer e.Close()

				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := e.Run(context.Background(), set); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkMortonEncode(b *testing.B) {
	var sink uint64
	for i := 0; i < b.N; i++ {
		sink += mortonEncode(uint32(i), uint32(i>>1))
	}
	_ = sink
}
