package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"coadd/internal/config"
	"coadd/internal/storage"
	"coadd/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log       *slog.Logger
	store     *storage.Store
	defaults  config.Combine
	combineFn combineFunc
	scanFn    scanFunc
}

type combineFunc func(ctx context.Context, req tasks.CombineRequest) (tasks.CombineResult, error)

type scanFunc func(ctx context.Context, req tasks.ScanRequest) (tasks.ScanResult, error)

func newRouter(logger *slog.Logger, store *storage.Store, combineCfg *config.Combine) Processor {
	defaults := config.Combine{LSigma: 3.0, HSigma: 3.0, MedianCenter: true, MinFrames: 3}
	if combineCfg != nil {
		defaults = *combineCfg
	}
	return &router{
		log:       logger,
		store:     store,
		defaults:  defaults,
		combineFn: tasks.Combine,
		scanFn:    tasks.Scan,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobCombine:
		return r.handleCombine(ctx, job)
	case JobScan:
		return r.handleScan(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleCombine(ctx context.Context, job Job) Result {
	req := tasks.CombineRequest{
		InputDir:      job.InputPath,
		Output:        job.Output,
		LSigma:        getFloat64Option(job.Options, "lsigma", r.defaults.LSigma),
		HSigma:        getFloat64Option(job.Options, "hsigma", r.defaults.HSigma),
		MaxIterations: getIntOption(job.Options, "iterations", r.defaults.MaxIterations),
		MedianCenter:  getBoolOption(job.Options, "medianCenter", r.defaults.MedianCenter),
		MinFrames:     getIntOption(job.Options, "minFrames", r.defaults.MinFrames),
		KernelWorkers: getIntOption(job.Options, "workers", 0),
	}

	res, err := r.combineFn(ctx, req)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	if r.store != nil {
		_ = r.store.RecordRejectionStats(storage.RejectionStats{
			JobID:           job.ID,
			Frames:          res.Frames,
			Pixels:          res.Width * res.Height,
			RejectedSamples: res.RejectedSamples,
			LSigma:          req.LSigma,
			HSigma:          req.HSigma,
			MaxIterations:   req.MaxIterations,
			MedianCenter:    req.MedianCenter,
		})
	}

	meta := map[string]any{
		"output":          res.OutputFile,
		"frames":          res.Frames,
		"width":           res.Width,
		"height":          res.Height,
		"rejectedSamples": res.RejectedSamples,
		"meanSignal":      res.MeanSignal,
		"signalSpread":    res.SignalSpread,
		"processingTime":  res.ProcessingTime.String(),
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleScan(ctx context.Context, job Job) Result {
	res, err := r.scanFn(ctx, tasks.ScanRequest{InputDir: job.InputPath})
	if err != nil {
		return Result{Job: job, Error: err}
	}

	if r.store != nil && res.Frames > 0 {
		_ = r.store.RecordSession(storage.SessionRecord{
			JobID:      job.ID,
			BasePath:   job.InputPath,
			FrameCount: res.Frames,
			Width:      int(res.Width),
			Height:     int(res.Height),
		})
	}

	meta := map[string]any{
		"frames":     res.Frames,
		"width":      res.Width,
		"height":     res.Height,
		"uniform":    res.Uniform,
		"mismatched": res.Mismatched,
	}
	return Result{Job: job, Meta: meta}
}

// Helper functions to safely extract typed options from job.Options map
func getBoolOption(options map[string]any, key string, fallback bool) bool {
	if val, ok := options[key].(bool); ok {
		return val
	}
	return fallback
}

func getFloat64Option(options map[string]any, key string, fallback float64) float64 {
	if val, ok := options[key].(float64); ok {
		return val
	}
	return fallback
}

func getIntOption(options map[string]any, key string, fallback int) int {
	switch v := options[key].(type) {
	case int:
		return v
	case float64:
		// JSON-decoded options arrive as float64
		return int(v)
	}
	return fallback
}
