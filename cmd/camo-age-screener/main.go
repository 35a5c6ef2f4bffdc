package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	screener "github.com/menta2k/camo-age-screener"
	"github.com/menta2k/camo-age-screener/internal/config"
	"github.com/menta2k/camo-age-screener/internal/logging"
	"github.com/menta2k/camo-age-screener/pkg/progress"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		log.Fatalln("ERROR:", err)
	}
}

type cliFlags struct {
	configFile string
	envFile    string
	dataset    string
	output     string
	backend    string
	url        string
	model      string
	flushEvery int
	sync       bool
	isolate    bool
	logLevel   string
}

func newRootCmd() *cobra.Command {
	return newCommand(&cliFlags{})
}

func newCommand(f *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "camo-age-screener --dataset DIR --output DIR",
		Short: "Estimate ages of faces and detect camouflage clothing in a directory of images",
		Long: `Walks a dataset directory, runs every image through a face/age model and a
camouflage classifier, and writes the results to ages.csv and camo.csv in the
output directory. Rows are flushed as they are produced, so an interrupted run
keeps every completed image.`,
		Version:       screener.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.dataset, "dataset", "d", "", "path to the input dataset of images (required)")
	flags.StringVarP(&f.output, "output", "o", "", "directory receiving ages.csv and camo.csv (required)")
	flags.StringVar(&f.configFile, "config", "", "configuration file (.yaml, .yml or .json)")
	flags.StringVar(&f.envFile, "env-file", ".env", "file with SCREENER_* environment variables")
	flags.StringVar(&f.backend, "backend", config.BackendDNN, "inference backend: dnn, ollama or llamacpp")
	flags.StringVar(&f.url, "url", "", "server URL of the ollama or llamacpp backend")
	flags.StringVar(&f.model, "model", "", "model name for the ollama or llamacpp backend")
	flags.IntVar(&f.flushEvery, "flush-every", 1, "flush the CSV files after this many rows")
	flags.BoolVar(&f.sync, "sync", false, "fsync the CSV files after every flush")
	flags.BoolVar(&f.isolate, "isolate-inference-errors", false, "skip images whose inference fails instead of aborting")
	flags.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	return cmd
}

// loadConfig merges defaults, config file, environment and flags, in that order
func loadConfig(cmd *cobra.Command, f cliFlags) (*config.Config, error) {
	if err := config.LoadEnv(f.envFile); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if f.configFile != "" {
		loaded, err := config.LoadFromFile(f.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	changed := cmd.Flags().Changed
	if changed("dataset") {
		cfg.Dataset.Dir = f.dataset
	}
	if changed("output") {
		cfg.Output.Dir = f.output
	}
	if changed("backend") {
		cfg.Models.Backend = f.backend
	}
	if changed("url") {
		cfg.VLM.URL = f.url
	}
	if changed("model") {
		cfg.VLM.Model = f.model
	}
	if changed("flush-every") {
		cfg.Output.FlushEvery = f.flushEvery
	}
	if changed("sync") {
		cfg.Output.Sync = f.sync
	}
	if changed("isolate-inference-errors") {
		cfg.Pipeline.IsolateInferenceErrors = f.isolate
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}

	if cfg.Dataset.Dir == "" {
		return nil, errors.New("path to the input dataset is required (--dataset)")
	}
	if cfg.Output.Dir == "" {
		return nil, errors.New("path to the output directory is required (--output)")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	base, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer base.Sync()

	runID := uuid.NewString()
	logger := logging.WithRun(base, "process_dataset", runID)

	batch, err := screener.Open(cfg.Dataset.Dir, cfg.Output.Dir, screener.Options{
		Extensions:             cfg.Dataset.Extensions,
		FlushEvery:             cfg.Output.FlushEvery,
		Sync:                   cfg.Output.Sync,
		PositiveLabel:          cfg.Models.PositiveLabel,
		IsolateInferenceErrors: cfg.Pipeline.IsolateInferenceErrors,
		Logger:                 logger,
		Progress:               progress.NewLogReporter(logger, cfg.Pipeline.ProgressEvery),
	})
	if err != nil {
		logger.Error("failed to open dataset", zap.Error(err))
		return logging.NewOperationError("open", runID, err)
	}
	defer func() {
		logger.Info("cleaning up")
		if closeErr := batch.Close(); closeErr != nil {
			logger.Error("failed to close output files", zap.Error(closeErr))
			err = errors.Join(err, logging.NewOperationError("close", runID, closeErr))
		}
	}()

	logger.Info("loading models", zap.String("backend", cfg.Models.Backend))
	loaded, err := loadModels(cfg)
	if err != nil {
		logger.Error("failed to load models", zap.Error(err))
		return logging.NewOperationError("load_models", runID, err)
	}
	defer loaded.Close()

	stats, err := batch.Run(ctx, loaded.Ages, loaded.Camo)
	logger.Info("run finished",
		zap.Int("total", stats.Total),
		zap.Int("processed", stats.Processed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("age_rows", stats.AgeRows),
		zap.Int("camo_rows", stats.CamoRows),
	)
	if err != nil {
		logger.Error("processing aborted", zap.Error(err))
		return logging.NewOperationError("process", runID, err)
	}
	return nil
}
