package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/psantana5/modelsearch/internal/runner"
	"github.com/psantana5/modelsearch/pkg/device"
	"github.com/psantana5/modelsearch/pkg/metrics"
	"github.com/psantana5/modelsearch/pkg/shutdown"
	"github.com/psantana5/modelsearch/pkg/store"
	"github.com/psantana5/modelsearch/pkg/tracing"
)

var workerJobID string

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Worker process commands",
	Hidden: true,
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one job read from stdin",
	Long: `Run a single search job. The job payload is read as JSON from stdin.
Exit status: 0 completed, 1 search failed or cancelled, 2 invalid payload or environment.`,
	Args: cobra.NoArgs,
	Run:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerRunCmd)
	workerRunCmd.Flags().StringVar(&workerJobID, "job-id", "", "job id, for process listings")
}

func runWorker(cmd *cobra.Command, args []string) {
	os.Exit(workerMain())
}

func workerMain() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		return runner.ExitInvalid
	}

	logger := newLogger(cfg.Logging, "worker", "job")
	if workerJobID != "" {
		logger = logger.WithField("job_id", workerJobID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	tracer, err := tracing.InitTracer(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing unavailable", map[string]interface{}{"error": err.Error()})
		tracer = tracing.Noop()
	}

	st, err := store.NewStore(cfg.Store)
	if err != nil {
		logger.Error("Failed to open store", map[string]interface{}{"error": err.Error()})
		return runner.ExitInvalid
	}

	mgr := shutdown.New(cfg.Server.ShutdownTimeout, logger)
	mgr.Register("tracer", tracer.Shutdown)
	mgr.Register("store", shutdown.CloseResource(st, "store"))
	mgr.Register("logger", shutdown.CloseResource(logger, "logger"))
	defer mgr.Shutdown()

	if cfg.Logging.MaxSizeMB > 0 {
		if err := logger.RotateIfNeeded(cfg.Logging.MaxSizeMB * 1024 * 1024); err != nil {
			logger.Warn("Log rotation failed", map[string]interface{}{"error": err.Error()})
		}
	}

	m := metrics.New()
	return runner.Main(ctx, os.Stdin, runner.Deps{
		Store:    st,
		Detector: &device.Detector{},
		NewSearcher: runner.NewSearcherFactory(runner.SearchOptions{
			Generator: cfg.Generator,
			Executor:  cfg.Executor,
			Artifacts: cfg.Artifacts,
			Timeouts:  cfg.Search.Timeouts,
			Logger:    logger,
			Tracer:    tracer,
			Metrics:   m,
			Seed:      cfg.Search.Seed,
		}),
		Logger:    logger,
		JobLogDir: cfg.Logging.JobLogDir,
		Metrics:   m,
	})
}
