package tasks

import (
	"math"
	"testing"

	"coadd/internal/clip"
)

func TestCombinePlaneAveragesUnmasked(t *testing.T) {
	// two pixels, three frames; second pixel has one rejected sample
	st := &clip.Stack{
		Data:   []float32{10, 2, 20, 4, 30, 900},
		Mask:   []uint16{0, 0, 0, 0, 0, clip.Rejected},
		Images: 3,
		Pixels: 2,
	}

	out := combinePlane(st)
	if len(out) != 2 {
		t.Fatalf("expected 2 output pixels, got %d", len(out))
	}
	if out[0] != 20 {
		t.Fatalf("pixel 0: expected mean 20, got %v", out[0])
	}
	if out[1] != 3 {
		t.Fatalf("pixel 1: expected mean of surviving samples 3, got %v", out[1])
	}
}

func TestCombinePlaneFullyMaskedFallsBack(t *testing.T) {
	st := &clip.Stack{
		Data:   []float32{1, 3, 5},
		Mask:   []uint16{4, 4, 4},
		Images: 3,
		Pixels: 1,
	}

	out := combinePlane(st)
	if out[0] != 3 {
		t.Fatalf("expected full-set mean 3, got %v", out[0])
	}
}

func TestCombinePlaneEndToEndWithKernel(t *testing.T) {
	// one hot pixel in frame 2 of 10; after rejection the combined value
	// should be the clean mean
	n, p := 10, 4
	st := &clip.Stack{
		Data:   make([]float32, n*p),
		Mask:   make([]uint16, n*p),
		Images: n,
		Pixels: p,
	}
	for img := 0; img < n; img++ {
		for px := 0; px < p; px++ {
			st.Data[img*p+px] = 100
		}
	}
	st.Data[2*p+1] = 60000 // hot pixel

	sum, err := clip.Reject(st, clip.Params{LSigma: 3, HSigma: 3, Center: clip.CenterMedian, Workers: 1})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if sum.Rejected != 1 {
		t.Fatalf("expected single rejection, got %d", sum.Rejected)
	}

	out := combinePlane(st)
	for px, v := range out {
		if math.Abs(float64(v)-100) > 1e-6 {
			t.Fatalf("pixel %d: expected clean mean 100, got %v", px, v)
		}
	}
}

func TestPlaneSignal(t *testing.T) {
	mean, spread := planeSignal([]float32{2, 4, 6, 8})
	if mean != 5 {
		t.Fatalf("expected mean 5, got %v", mean)
	}
	if spread <= 0 {
		t.Fatalf("expected positive spread, got %v", spread)
	}
}
