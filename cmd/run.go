package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/policycheck/policy-ingest/internal/api"
	"github.com/policycheck/policy-ingest/internal/clock/system"
	"github.com/policycheck/policy-ingest/internal/config"
	"github.com/policycheck/policy-ingest/internal/id/uuid"
	"github.com/policycheck/policy-ingest/internal/ingest"
	"github.com/policycheck/policy-ingest/internal/logging"
	"github.com/policycheck/policy-ingest/internal/metrics"
	"github.com/policycheck/policy-ingest/internal/store"
	"github.com/policycheck/policy-ingest/internal/urlkey"
	"github.com/policycheck/policy-ingest/internal/worker"
)

// flagBindings maps config keys to the run command's flag names.
var flagBindings = map[string]string{
	"ingest.input_file":      "input",
	"ingest.output_dir":      "output-dir",
	"ingest.workers":         "workers",
	"ingest.host_delay":      "host-delay",
	"ingest.min_document_kb": "min-document-kb",
	"ingest.max_document_mb": "max-document-mb",
	"ingest.from_failures":   "from-failures",
	"http.request_timeout":   "timeout",
	"metrics.addr":           "metrics-addr",
	"logging.development":    "dev-logging",
}

// newRunCmd creates and configures the 'run' subcommand.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one ingest pass over the input URL list",
		Long: `Reads candidate URLs, deduplicates them by canonical form, fetches
each with bounded per-host politeness, and persists validated documents
plus metadata. A run over an existing output directory skips every URL
already downloaded.`,
		RunE: runIngestCommand,
	}

	cmd.Flags().String("input", "", "input URL file, one URL per line")
	cmd.Flags().String("output-dir", "", "directory for documents, metadata, and the failure log")
	cmd.Flags().Int("workers", 0, "concurrent download workers (1-64)")
	cmd.Flags().Duration("host-delay", 0, "minimum delay between requests to one host")
	cmd.Flags().Int64("min-document-kb", 0, "reject documents smaller than this many KiB")
	cmd.Flags().Int64("max-document-mb", 0, "abort downloads larger than this many MiB")
	cmd.Flags().Duration("timeout", 0, "per-request timeout (connect+read)")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	cmd.Flags().Bool("from-failures", false, "treat the input file as a failure log from a prior run")
	cmd.Flags().Bool("dev-logging", false, "human-readable development logging")

	return cmd
}

func runIngestCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, func(v *viper.Viper) error {
		for key, name := range flagBindings {
			flag := cmd.Flags().Lookup(name)
			if flag == nil || !flag.Changed {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runIngest(ctx, cfg, logger)
}

func runIngest(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics.Init()

	rawURLs, err := loadInput(cfg)
	if err != nil {
		return err
	}

	artifactStore, err := store.New(store.Config{
		OutputDir:              cfg.Ingest.OutputDir,
		MaxConsecutiveFailures: cfg.Ingest.MaxStoreFailures,
	}, logger)
	if err != nil {
		return fmt.Errorf("init artifact store: %w", err)
	}
	defer func() {
		if cerr := artifactStore.Close(); cerr != nil {
			logger.Warn("close artifact store", zap.Error(cerr))
		}
	}()

	seen := ingest.NewSeenSet()
	prior, err := artifactStore.ScanExisting()
	if err != nil {
		return fmt.Errorf("scan existing records: %w", err)
	}
	seen.Preload(prior)

	clk := system.New()
	stats := ingest.NewStats(clk)
	validator := ingest.NewValidator(ingest.ValidatorConfig{
		MinBytes: cfg.Ingest.MinBytes(),
		MaxBytes: cfg.Ingest.MaxBytes(),
	}, logger)

	fetchCfg := ingest.FetcherConfig{
		UserAgent:      cfg.HTTP.UserAgent,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBytes:       cfg.Ingest.MaxBytes(),
		Concurrency:    cfg.Ingest.Workers,
	}
	fetcher := ingest.NewFetcher(ingest.NewHTTPClient(fetchCfg), validator, fetchCfg, logger)

	pool := worker.New(
		worker.Config{Workers: cfg.Ingest.Workers},
		urlkey.New(cfg.Ingest.TrackingParams),
		seen,
		ingest.NewHostLimiter(cfg.Ingest.HostDelay),
		fetcher,
		artifactStore,
		stats,
		clk,
		logger,
	)

	if cfg.Metrics.Addr != "" {
		srv := api.NewServer(cfg.Metrics.Addr, logger)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("metrics shutdown", zap.Error(serr))
			}
		}()
	}

	logger.Info("ingest run starting",
		zap.Int("urls", len(rawURLs)),
		zap.Int("already_stored", len(prior)),
		zap.Int("workers", cfg.Ingest.Workers),
		zap.String("output_dir", cfg.Ingest.OutputDir),
	)

	if err := pool.Run(ctx, rawURLs); err != nil {
		return fmt.Errorf("ingest run: %w", err)
	}

	logSummary(logger, stats.Summarize(clk), artifactStore.Failures().Path())
	return nil
}

func loadInput(cfg config.Config) ([]string, error) {
	if cfg.Ingest.FromFailures {
		urls, err := store.ReadFailureURLs(cfg.Ingest.InputFile)
		if err != nil {
			return nil, err
		}
		if len(urls) == 0 {
			return nil, fmt.Errorf("failure log %s contains no retryable URLs", cfg.Ingest.InputFile)
		}
		return urls, nil
	}
	return ingest.ReadURLList(cfg.Ingest.InputFile)
}

func logSummary(logger *zap.Logger, s ingest.Summary, failureLogPath string) {
	fields := []zap.Field{
		zap.Int("dispatched", s.Dispatched),
		zap.Int("skipped", s.Skipped),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("rejected", s.Rejected),
		zap.Int("transient_failed", s.Transient),
		zap.Int("permanent_failed", s.Permanent),
		zap.Int("store_errors", s.StoreErrors),
		zap.Int64("bytes", s.Bytes),
		zap.Duration("elapsed", s.Elapsed),
		zap.Float64("docs_per_second", s.Throughput),
	}
	for reason, count := range s.RejectedByReason {
		fields = append(fields, zap.Int("rejected_"+string(reason), count))
	}
	logger.Info("ingest run finished", fields...)

	if len(s.TopErrors) > 0 {
		for _, ec := range s.TopErrors {
			logger.Info("failure breakdown",
				zap.String("error", ec.Detail),
				zap.Int("count", ec.Count),
			)
		}
		logger.Info("failed URLs can be retried",
			zap.String("failure_log", failureLogPath),
			zap.String("hint", "re-run with --from-failures --input "+failureLogPath),
		)
	}
}
