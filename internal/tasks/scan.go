package tasks

import (
	"context"
	"fmt"

	"gopkg.in/gographics/imagick.v3/imagick"

	"coadd/internal/fsutil"
)

// ScanRequest defines inputs for inventorying a frame session.
type ScanRequest struct {
	InputDir string
}

// ScanResult reports what a session contains before any combine runs.
type ScanResult struct {
	Frames        int
	Width, Height uint
	Uniform       bool     // all frames share the first frame's dimensions
	Mismatched    []string // frames that do not
}

// Scan inventories the frames under InputDir so a session can be vetted
// before it is combined.
func Scan(ctx context.Context, req ScanRequest) (ScanResult, error) {
	frames, err := fsutil.ListFrames(req.InputDir)
	if err != nil {
		return ScanResult{}, fmt.Errorf("failed to list frames: %w", err)
	}
	if len(frames) == 0 {
		return ScanResult{}, nil
	}

	imagick.Initialize()
	defer imagick.Terminate()

	res := ScanResult{Frames: len(frames), Uniform: true}
	for i, path := range frames {
		if err := ctx.Err(); err != nil {
			return ScanResult{}, err
		}
		w, h, err := FrameSize(path)
		if err != nil {
			return ScanResult{}, err
		}
		if i == 0 {
			res.Width, res.Height = w, h
			continue
		}
		if w != res.Width || h != res.Height {
			res.Uniform = false
			res.Mismatched = append(res.Mismatched, path)
		}
	}
	return res, nil
}
