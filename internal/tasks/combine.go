package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/gographics/imagick.v3/imagick"

	"coadd/internal/clip"
	"coadd/internal/fsutil"
)

// CombineRequest defines inputs for combining a session of
// co-registered frames into a single output frame.
type CombineRequest struct {
	InputDir      string
	Output        string
	LSigma        float64
	HSigma        float64
	MaxIterations int  // 0 = kernel default
	MedianCenter  bool // clip around the median on every pass
	MinFrames     int  // 0 = 2
	KernelWorkers int  // 0 = all CPUs
}

// CombineResult captures combine metadata.
type CombineResult struct {
	OutputFile      string
	Frames          int
	Width, Height   int
	RejectedSamples int64
	MeanSignal      float64
	SignalSpread    float64
	ProcessingTime  time.Duration
}

// Combine loads all frames under InputDir, runs the rejection kernel
// over every channel, averages what survives and writes the result.
// Frames must already be co-registered; alignment is a separate
// pipeline's job.
func Combine(ctx context.Context, req CombineRequest) (CombineResult, error) {
	start := time.Now()

	minFrames := req.MinFrames
	if minFrames < 2 {
		minFrames = 2
	}

	frames, err := fsutil.ListFrames(req.InputDir)
	if err != nil {
		return CombineResult{}, fmt.Errorf("failed to list frames: %w", err)
	}
	if len(frames) < minFrames {
		return CombineResult{}, fmt.Errorf("need at least %d frames to combine, got %d", minFrames, len(frames))
	}

	output := req.Output
	if output == "" || output[len(output)-1] == filepath.Separator {
		output = filepath.Join(output, "combined.tif")
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return CombineResult{}, err
	}

	imagick.Initialize()
	defer imagick.Terminate()

	stacks, err := LoadStacks(frames)
	if err != nil {
		return CombineResult{}, err
	}

	params := clip.Params{
		LSigma:   req.LSigma,
		HSigma:   req.HSigma,
		MaxIters: req.MaxIterations,
		Workers:  req.KernelWorkers,
	}
	if req.MedianCenter {
		params.Center = clip.CenterMedian
	}

	var planes [3][]float32
	var rejected int64
	for ch, st := range stacks.Channels {
		if err := ctx.Err(); err != nil {
			return CombineResult{}, err
		}
		sum, err := clip.Reject(st, params)
		if err != nil {
			return CombineResult{}, fmt.Errorf("rejection failed on channel %d: %w", ch, err)
		}
		rejected += sum.Rejected
		planes[ch] = combinePlane(st)
	}

	if err := WriteCombined(output, stacks.Width, stacks.Height, planes); err != nil {
		return CombineResult{}, err
	}

	mean, spread := planeSignal(planes[1]) // green carries most of the signal
	return CombineResult{
		OutputFile:      output,
		Frames:          len(frames),
		Width:           int(stacks.Width),
		Height:          int(stacks.Height),
		RejectedSamples: rejected,
		MeanSignal:      mean,
		SignalSpread:    spread,
		ProcessingTime:  time.Since(start),
	}, nil
}

// combinePlane averages the unmasked samples of every column of st.
// A column where rejection (or the caller) masked everything falls back
// to the full sample set, mirroring the kernel's degenerate-column rule.
func combinePlane(st *clip.Stack) []float32 {
	out := make([]float32, st.Pixels)
	for p := 0; p < st.Pixels; p++ {
		var sum float64
		n := 0
		for img := 0; img < st.Images; img++ {
			i := img*st.Pixels + p
			if st.Mask[i] != 0 {
				continue
			}
			sum += float64(st.Data[i])
			n++
		}
		if n == 0 {
			for img := 0; img < st.Images; img++ {
				sum += float64(st.Data[img*st.Pixels+p])
			}
			n = st.Images
		}
		out[p] = float32(sum / float64(n))
	}
	return out
}

// planeSignal summarises a combined plane for job metadata.
func planeSignal(plane []float32) (mean, spread float64) {
	f := make([]float64, len(plane))
	for i, v := range plane {
		f[i] = float64(v)
	}
	return stat.Mean(f, nil), stat.StdDev(f, nil)
}
