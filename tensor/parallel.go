package tensor

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelFor runs fn for every index in [0, n) on at most GOMAXPROCS
// goroutines and returns the first error. All work has joined on return.
func parallelFor(n int, fn func(i int) error) error {
	if n == 1 {
		return fn(0)
	}
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			return fn(i)
		})
	}
	return g.Wait()
}
