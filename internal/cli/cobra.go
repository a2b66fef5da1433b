package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"coadd/internal/config"
	"coadd/internal/pipeline"
	"coadd/internal/storage"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	root := NewRoot(pipe, cfg, log, store)

	rootCmd := &cobra.Command{
		Use:   "coadd",
		Short: "Coadd combines co-registered astronomical frames with outlier rejection",
		Long: `Coadd stacks co-registered astronomical exposures into a single deep frame,
rejecting cosmic rays, satellite trails and hot pixels with iterative
sigma clipping before averaging what survives.`,
	}

	rootCmd.AddCommand(newCombineCmd(root))
	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newCombineCmd(root *Root) *cobra.Command {
	var (
		lsigma     float64
		hsigma     float64
		iterations int
		mclip      bool
		minFrames  int
		workers    int
		output     string
	)

	cmd := &cobra.Command{
		Use:   "combine <input_directory> [output_path]",
		Short: "Combine a session of frames into one stacked image",
		Long: `Combine all frames under a directory into a single output frame.

Frames must already be co-registered. Each pixel is clipped iteratively:
samples further than the sigma thresholds from the column's center are
rejected, and the survivors are averaged.

Examples:
  # Default 3-sigma clip around the median
  coadd combine /sessions/m31/ m31.tif

  # Asymmetric clip, mean center after the first pass
  coadd combine /sessions/m42/ --lsigma 2 --hsigma 4 --mclip=false`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]

			if len(args) > 1 {
				output = args[1]
			}
			if output == "" && root.cfg.Paths.DefaultOutput != "" {
				inputBaseName := filepath.Base(filepath.Clean(input))
				output = filepath.Join(root.cfg.Paths.DefaultOutput, inputBaseName+".tif")
			}

			root.log.Info("combine command parsed",
				"input", input,
				"output", output,
				"lsigma", lsigma,
				"hsigma", hsigma,
				"iterations", iterations,
				"mclip", mclip,
				"min_frames", minFrames,
				"workers", workers,
			)

			job := pipeline.Job{
				ID:        newID("comb"),
				Type:      pipeline.JobCombine,
				InputPath: input,
				Output:    output,
				Options: map[string]any{
					"lsigma":       lsigma,
					"hsigma":       hsigma,
					"iterations":   iterations,
					"medianCenter": mclip,
					"minFrames":    minFrames,
					"workers":      workers,
					"source":       "cli",
				},
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	defaults := root.cfg.Combine
	cmd.Flags().Float64Var(&lsigma, "lsigma", defaults.LSigma, "lower rejection threshold in sigma units")
	cmd.Flags().Float64Var(&hsigma, "hsigma", defaults.HSigma, "upper rejection threshold in sigma units")
	cmd.Flags().IntVar(&iterations, "iterations", defaults.MaxIterations, "maximum clipping iterations (0 = default)")
	cmd.Flags().BoolVar(&mclip, "mclip", defaults.MedianCenter, "clip around the median on every pass instead of the mean")
	cmd.Flags().IntVar(&minFrames, "min-frames", defaults.MinFrames, "refuse to combine fewer frames than this")
	cmd.Flags().IntVar(&workers, "workers", 0, "kernel worker goroutines (0 = all CPUs)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path")

	return cmd
}

func newScanCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <input_directory>",
		Short: "Inventory a session directory before combining",
		Long: `Scan a directory for frames and report their count and dimensions.
Frames whose dimensions disagree with the first frame are flagged;
mixed sessions cannot be combined.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        newID("scan"),
				Type:      pipeline.JobScan,
				InputPath: args[0],
				Options:   map[string]any{"source": "cli"},
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr       string
		watchPaths []string
		settleSecs int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server with optional session watching",
		Long: `Start an HTTP server exposing job submission, history and live result
streams. With --watch, session directories are monitored and combined
automatically once they stop receiving frames.

Examples:
  # Basic server
  coadd serve --addr :8080

  # Combine sessions as they land
  coadd serve --addr :8080 --watch /data/incoming --settle 60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if len(watchPaths) == 0 {
				watchPaths = root.cfg.Watch.Paths
			}
			if settleSecs == 0 {
				settleSecs = root.cfg.Watch.SettleSeconds
			}

			root.log.Info("starting server",
				"addr", addr,
				"watch_paths", watchPaths,
				"settle_seconds", settleSecs,
			)

			return root.serveFn(ctx, addr, root.store, root.pipeline, watchPaths, time.Duration(settleSecs)*time.Second, root.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "server address (host:port)")
	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "directories to monitor for incoming sessions")
	cmd.Flags().IntVar(&settleSecs, "settle", 0, "seconds a watched directory must stay quiet before combining")

	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate coadd configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			fmt.Printf("Configuration:\n\n")
			fmt.Printf("Database Path: %s\n", cfg.Paths.DatabasePath)
			fmt.Printf("Default Input: %s\n", cfg.Paths.DefaultInput)
			fmt.Printf("Default Output: %s\n", cfg.Paths.DefaultOutput)
			fmt.Printf("Temp Directory: %s\n", cfg.Processing.TempDir)
			fmt.Printf("Parallel Jobs: %d\n", cfg.Processing.ParallelJobs)
			fmt.Printf("Kernel Workers: %d\n", cfg.Processing.KernelWorkers)
			fmt.Printf("Log Level: %s\n", cfg.Logging.Level)
			fmt.Printf("Log Format: %s\n", cfg.Logging.Format)
			fmt.Printf("Log Directory: %s\n", cfg.Logging.LogDir)
			fmt.Printf("\nCombine defaults:\n")
			fmt.Printf("  Lower Sigma: %.2f\n", cfg.Combine.LSigma)
			fmt.Printf("  Upper Sigma: %.2f\n", cfg.Combine.HSigma)
			fmt.Printf("  Max Iterations: %d\n", cfg.Combine.MaxIterations)
			fmt.Printf("  Median Center: %v\n", cfg.Combine.MedianCenter)
			fmt.Printf("  Min Frames: %d\n", cfg.Combine.MinFrames)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if cfg.Combine.LSigma < 0 || cfg.Combine.HSigma < 0 {
				return fmt.Errorf("sigma thresholds must be non-negative")
			}
			if cfg.Combine.MinFrames < 2 {
				return fmt.Errorf("min_frames must be at least 2")
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Println("Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("Coadd v1.0.0")
		},
	}
}
