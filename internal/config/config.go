package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/coadd/config.json"
	defaultParallel   = 4
)

// Config holds user-editable settings for the combine service.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Combine    Combine    `json:"combine"`
	Watch      Watch      `json:"watch"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs  int    `json:"parallel_jobs"`  // pipeline worker count
	KernelWorkers int    `json:"kernel_workers"` // per-job rejection workers; 0 = all CPUs
	TempDir       string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultInput  string `json:"default_input"`
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// Combine holds the default rejection parameters applied when a job
// does not override them.
type Combine struct {
	LSigma        float64 `json:"lsigma"`         // lower rejection multiplier
	HSigma        float64 `json:"hsigma"`         // upper rejection multiplier
	MaxIterations int     `json:"max_iterations"` // 0 = kernel default
	MedianCenter  bool    `json:"median_center"`  // clip around the median on every pass
	MinFrames     int     `json:"min_frames"`     // refuse to combine fewer frames
}

// Watch configures the incoming-session watcher.
type Watch struct {
	Paths         []string `json:"paths"`
	SettleSeconds int      `json:"settle_seconds"` // quiet time before a session is combined
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("COADD_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput:  ".",
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "coadd.db"),
		},
		Combine: Combine{
			LSigma:       3.0,
			HSigma:       3.0,
			MedianCenter: true,
			MinFrames:    3,
		},
		Watch: Watch{
			SettleSeconds: 30,
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
