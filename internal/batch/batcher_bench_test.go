package batch_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rshade/coalesce/internal/batch"
	"github.com/rshade/coalesce/internal/ctxtree"
)

func identity(_ context.Context, items []batch.Item[int, struct{}]) ([]batch.Result[int], error) {
	out := make([]batch.Result[int], len(items))
	for i, it := range items {
		out[i] = batch.Ok(it.Key)
	}
	return out, nil
}

// BenchmarkSubmit measures Submit throughput under parallel callers for a
// range of key spaces. Small key spaces exercise deduplication.
func BenchmarkSubmit(b *testing.B) {
	benchmarkCases := []struct {
		name string
		keys int
	}{
		{"keys_10", 10},
		{"keys_1000", 1000},
		{"keys_100000", 100000},
	}

	for _, bc := range benchmarkCases {
		b.Run(bc.name, func(b *testing.B) {
			root, cancel := ctxtree.NewRoot()
			defer cancel.Cancel(nil)

			bt, err := batch.New[int, struct{}, int](root, batch.ExecutorFunc[int, struct{}, int](identity),
				batch.Config{MaxBatchSize: 256, MaxWait: time.Millisecond, Concurrency: 8})
			if err != nil {
				b.Fatal(err)
			}
			defer bt.Close()

			b.ResetTimer()
			b.ReportAllocs()

			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					if _, err := bt.Submit(context.Background(), i%bc.keys, struct{}{}); err != nil {
						b.Error(err)
						return
					}
					i++
				}
			})

			b.StopTimer()
			s := bt.Stats()
			b.ReportMetric(s.AvgBatchSize, "keys/batch")
		})
	}
}

// BenchmarkSubmitMany measures one caller submitting whole batches.
func BenchmarkSubmitMany(b *testing.B) {
	for _, size := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("items_%d", size), func(b *testing.B) {
			root, cancel := ctxtree.NewRoot()
			defer cancel.Cancel(nil)

			bt, err := batch.New[int, struct{}, int](root, batch.ExecutorFunc[int, struct{}, int](identity),
				batch.Config{MaxBatchSize: size, MaxWait: time.Millisecond})
			if err != nil {
				b.Fatal(err)
			}
			defer bt.Close()

			items := make([]batch.Item[int, struct{}], size)
			for i := range items {
				items[i].Key = i
			}

			b.ResetTimer()
			b.ReportAllocs()
			for range b.N {
				bt.SubmitMany(context.Background(), items)
			}
		})
	}
}
