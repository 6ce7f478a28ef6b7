package ctxtree_test

import (
	"fmt"
	"testing"

	"github.com/rshade/coalesce/internal/ctxtree"
)

// BenchmarkDeriveCancel measures building and cancelling a tree of the
// given fan-out under one root.
func BenchmarkDeriveCancel(b *testing.B) {
	for _, width := range []int{1, 100, 10000} {
		b.Run(fmt.Sprintf("children_%d", width), func(b *testing.B) {
			b.ReportAllocs()
			for range b.N {
				root, cancel := ctxtree.NewRoot()
				for range width {
					ctxtree.Derive(root)
				}
				cancel.Cancel(nil)
				<-root.Done()
			}
		})
	}
}

// BenchmarkDoneAfterCancel measures observers that register after cancellation.
func BenchmarkDoneAfterCancel(b *testing.B) {
	root, cancel := ctxtree.NewRoot()
	cancel.Cancel(nil)

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			<-root.Done()
		}
	})
}
