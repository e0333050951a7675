package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/psantana5/modelsearch/internal/api"
	"github.com/psantana5/modelsearch/internal/config"
	"github.com/psantana5/modelsearch/internal/orchestrator"
	"github.com/psantana5/modelsearch/internal/strategy"
	"github.com/psantana5/modelsearch/internal/workerpool"
	"github.com/psantana5/modelsearch/pkg/auth"
	"github.com/psantana5/modelsearch/pkg/cleanup"
	"github.com/psantana5/modelsearch/pkg/device"
	"github.com/psantana5/modelsearch/pkg/metrics"
	"github.com/psantana5/modelsearch/pkg/ratelimit"
	"github.com/psantana5/modelsearch/pkg/shutdown"
	"github.com/psantana5/modelsearch/pkg/store"
	"github.com/psantana5/modelsearch/pkg/tlsutil"
	"github.com/psantana5/modelsearch/pkg/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor: control API, worker pool and metrics",
	Long: `Run the supervisor. Each submitted job is handed to a separate worker
process; the supervisor records jobs whose worker dies without reporting.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Type == "memory" {
		return errors.New("store.type memory cannot be shared with worker processes; use sqlite or postgres")
	}

	logger := newLogger(cfg.Logging, "supervisor", "api")
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.InitTracer(ctx, cfg.Tracing, logger)
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	logger.Info("Store ready", map[string]interface{}{"type": cfg.Store.Type})

	m := metrics.New()

	workerCommand, err := workerCommandFunc(cfg.Pool)
	if err != nil {
		st.Close()
		return err
	}
	pool, err := workerpool.New(workerpool.Config{
		MaxActive:   cfg.Pool.MaxActive,
		GracePeriod: cfg.Pool.GracePeriod,
		Command:     workerCommand,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Logger:      logger.WithField("component", "pool"),
		Metrics:     m,
	})
	if err != nil {
		st.Close()
		return err
	}

	keys, err := buildKeyRegistry(cfg.Server)
	if err != nil {
		st.Close()
		return err
	}
	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = ratelimit.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	// Strategy listing only; workers build their own fully wired strategies.
	registry := orchestrator.New(strategy.NewVision(strategy.RefinerConfig{}, cfg.Generator.HasCredentials()))

	handler := api.NewHandler(api.Options{
		Store:      st,
		Pool:       pool,
		Strategies: registry,
		Detector:   &device.Detector{},
		JobLogDir:  cfg.Logging.JobLogDir,
		Logger:     logger,
	})
	apiSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(handler, api.RouterOptions{Keys: keys, Limiter: limiter, Logger: logger}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.Server.TLS.Enabled {
		generated, err := tlsutil.EnsureCertificate(cfg.Server.TLS, "msearch")
		if err != nil {
			st.Close()
			return err
		}
		if generated {
			logger.Info("Generated self-signed certificate", map[string]interface{}{"cert": cfg.Server.TLS.CertFile})
		}
		tlsConfig, err := tlsutil.ServerConfig(cfg.Server.TLS)
		if err != nil {
			st.Close()
			return err
		}
		apiSrv.TLSConfig = tlsConfig
	} else {
		logger.Warn("TLS disabled for the control API")
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", m.Handler()).Methods("GET")
		metricsRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"healthy"}`))
		}).Methods("GET")
		metricsSrv = &http.Server{
			Addr:         cfg.Server.MetricsAddr,
			Handler:      metricsRouter,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	superCtx, stopSupervisor := context.WithCancel(context.Background())
	superDone := make(chan struct{})

	// Steps run in reverse: stop accepting requests, stop workers, record
	// their exits, then release the store and the tracer.
	mgr := shutdown.New(cfg.Server.ShutdownTimeout, logger)
	mgr.Register("tracer", tracer.Shutdown)
	mgr.Register("store", shutdown.CloseResource(st, "store"))
	mgr.Register("supervisor", func(ctx context.Context) error {
		stopSupervisor()
		select {
		case <-superDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		if n := api.Drain(pool.Exits(), st, logger, 500*time.Millisecond); n > 0 {
			logger.Info("Recorded worker exits during shutdown", map[string]interface{}{"count": n})
		}
		return nil
	})
	mgr.Register("worker pool", pool.Shutdown)
	if metricsSrv != nil {
		mgr.Register("metrics server", shutdown.StopHTTPServer(metricsSrv, "metrics server"))
	}
	mgr.Register("api server", shutdown.StopHTTPServer(apiSrv, "api server"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Supervisor API listening", map[string]interface{}{
			"addr":        cfg.Server.Addr,
			"auth":        keys.Enabled(),
			"max_workers": cfg.Pool.MaxActive,
			"tls":         cfg.Server.TLS.Enabled,
		})
		return listen(apiSrv)
	})
	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("Metrics server listening", map[string]interface{}{"addr": cfg.Server.MetricsAddr})
			return listen(metricsSrv)
		})
	}
	go func() {
		defer close(superDone)
		api.Supervise(superCtx, pool.Exits(), st, logger)
	}()
	if cfg.Server.HostSampleInterval > 0 {
		g.Go(func() error {
			m.RunHostSampler(gctx, cfg.Server.HostSampleInterval)
			return nil
		})
	}
	janitor := cleanup.NewManager(cfg.Cleanup, st, cfg.Logging.JobLogDir, logger)
	g.Go(func() error {
		janitor.Run(gctx)
		return nil
	})
	if limiter != nil {
		g.Go(func() error {
			limiter.RunCleanup(gctx, time.Minute, 10*time.Minute)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down supervisor")
		return errors.Join(mgr.Shutdown()...)
	})

	return g.Wait()
}

func listen(srv *http.Server) error {
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}

// workerCommandFunc returns the command a worker process runs. By default it
// is this binary's hidden "worker run" with the same config file.
func workerCommandFunc(cfg config.PoolConfig) (workerpool.CommandFunc, error) {
	argv := cfg.WorkerCommand
	if len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		argv = []string{exe, "worker", "run"}
		if used := v.ConfigFileUsed(); used != "" {
			argv = append(argv, "--config", used)
		}
	}
	return func(jobID string) *exec.Cmd {
		args := append(append([]string{}, argv[1:]...), "--job-id", jobID)
		return exec.Command(argv[0], args...)
	}, nil
}

// buildKeyRegistry loads the configured API keys and key hashes.
func buildKeyRegistry(cfg config.ServerConfig) (*auth.KeyRegistry, error) {
	keys := auth.NewKeyRegistry(bcrypt.DefaultCost)
	for i, key := range cfg.APIKeys {
		if err := keys.Add(fmt.Sprintf("key-%d", i+1), key); err != nil {
			return nil, fmt.Errorf("invalid api key %d: %w", i+1, err)
		}
	}
	for i, hash := range cfg.APIKeyHashes {
		if err := keys.AddHash(fmt.Sprintf("hash-%d", i+1), hash); err != nil {
			return nil, fmt.Errorf("invalid api key hash %d: %w", i+1, err)
		}
	}
	return keys, nil
}
