// Package clip implements the iterative rejection kernel used when
// combining stacks of co-registered exposures. Each spatial pixel is an
// independent column of N samples; the kernel repeatedly estimates a
// robust center and scatter for the column, flags samples outside the
// configured sigma bounds, and stops when the unmasked count stabilises
// or the iteration cap is reached. Only the mask plane is ever written;
// mask bits are added, never cleared.
package clip

import (
	"fmt"
	"runtime"
	"sync"
)

// MaxStackDepth bounds the number of images a column working buffer can
// hold. Reject fails before touching any output when a stack is deeper.
const MaxStackDepth = 10000

// Rejected is OR'd into the mask word of every sample excluded by the
// clipping loop. Caller-provided mask bits are preserved; any non-zero
// mask word means the sample is excluded from statistics.
const Rejected uint16 = 1 << 15

// DefaultMaxIters caps the convergence loop when Params.MaxIters is zero.
const DefaultMaxIters = 100

// Center selects the location statistic the loop clips around.
type Center int

const (
	// CenterMean clips around the median on the first pass and the mean
	// on subsequent passes.
	CenterMean Center = iota
	// CenterMedian clips around the median on every pass.
	CenterMedian
)

// Scatter selects where the rejection thresholds take their scale from.
type Scatter int

const (
	// ScatterColumn derives a single standard deviation from the
	// pixel-to-pixel spread of the column; the same bounds apply to
	// every sample.
	ScatterColumn Scatter = iota
	// ScatterVariance uses the caller-supplied variance plane, giving
	// sample n its own bounds from sqrt(variance[n]).
	ScatterVariance
)

// Stack is N co-registered images over P spatial pixels stored as
// parallel flattened arrays of length N*P, with sample n of pixel p at
// index n*P + p. Reject reads Data and Variance and writes only Mask.
type Stack struct {
	Data     []float32
	Mask     []uint16
	Variance []float32 // optional; required for ScatterVariance
	Images   int       // N
	Pixels   int       // P
}

// Params configures the rejection loop.
type Params struct {
	LSigma   float64 // lower rejection multiplier
	HSigma   float64 // upper rejection multiplier
	MaxIters int     // 0 means DefaultMaxIters
	Center   Center
	Scatter  Scatter
	Workers  int // 0 means GOMAXPROCS
}

// Summary reports what a Reject call did across all columns.
type Summary struct {
	Columns  int
	Rejected int64 // previously-good samples newly flagged
}

func (st *Stack) validate() error {
	if st.Images < 1 {
		return fmt.Errorf("clip: stack has no images")
	}
	if st.Pixels < 0 {
		return fmt.Errorf("clip: negative pixel count %d", st.Pixels)
	}
	if st.Images > MaxStackDepth {
		return fmt.Errorf("clip: stack depth %d exceeds working capacity %d", st.Images, MaxStackDepth)
	}
	want := st.Images * st.Pixels
	if len(st.Data) != want {
		return fmt.Errorf("clip: data length %d, want %d", len(st.Data), want)
	}
	if len(st.Mask) != want {
		return fmt.Errorf("clip: mask length %d, want %d", len(st.Mask), want)
	}
	if st.Variance != nil && len(st.Variance) != want {
		return fmt.Errorf("clip: variance length %d, want %d", len(st.Variance), want)
	}
	return nil
}

// Reject runs the convergence loop over every pixel column of st and
// ORs the Rejected bit into the mask of outlying samples. Columns are
// mutually independent, so the pixel range is partitioned across
// workers with no synchronisation beyond disjoint mask slices. All
// validation happens before any mutation; on error the stack is
// untouched.
func Reject(st *Stack, p Params) (Summary, error) {
	if err := st.validate(); err != nil {
		return Summary{}, err
	}
	if p.Scatter == ScatterVariance && st.Variance == nil {
		return Summary{}, fmt.Errorf("clip: variance scatter requested but stack has no variance plane")
	}

	maxIters := p.MaxIters
	if maxIters <= 0 {
		maxIters = DefaultMaxIters
	}

	var rej rejector
	if p.Scatter == ScatterVariance {
		rej = varianceScatter{lsigma: p.LSigma, hsigma: p.HSigma}
	} else {
		rej = columnScatter{lsigma: p.LSigma, hsigma: p.HSigma}
	}

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > st.Pixels {
		workers = st.Pixels
	}
	if workers == 0 {
		return Summary{}, nil
	}

	chunk := (st.Pixels + workers - 1) / workers
	totals := make([]int64, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > st.Pixels {
			hi = st.Pixels
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			col := newColumn(st.Images)
			defer col.release()
			var rejected int64
			for px := lo; px < hi; px++ {
				rejected += clipColumn(st, px, col, rej, p.Center, maxIters)
			}
			totals[w] = rejected
		}(w, lo, hi)
	}
	wg.Wait()

	sum := Summary{Columns: st.Pixels}
	for _, n := range totals {
		sum.Rejected += n
	}
	return sum, nil
}
