package runner

import (
	"time"

	"github.com/psantana5/modelsearch/internal/artifacts"
	"github.com/psantana5/modelsearch/internal/executor"
	"github.com/psantana5/modelsearch/internal/generator"
	"github.com/psantana5/modelsearch/internal/orchestrator"
	"github.com/psantana5/modelsearch/internal/policy"
	"github.com/psantana5/modelsearch/internal/strategy"
	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/metrics"
	"github.com/psantana5/modelsearch/pkg/models"
	"github.com/psantana5/modelsearch/pkg/ratelimit"
	"github.com/psantana5/modelsearch/pkg/tracing"
)

// SearchOptions configures the production searcher.
type SearchOptions struct {
	Generator generator.Config
	Executor  executor.Config
	Artifacts artifacts.Config
	Timeouts  strategy.TrialTimeouts
	Logger    *logging.Logger
	Tracer    *tracing.Provider
	Metrics   *metrics.Metrics
	// Seed fixes the policy's random source; zero seeds from the clock.
	Seed int64
}

// NewSearcherFactory wires the LLM generator, the trainer executor and the
// artifact store into an orchestrator for each job.
func NewSearcherFactory(opts SearchOptions) SearcherFactory {
	return func(cfg models.JobConfig, _ *logging.JobLogger) (Searcher, error) {
		if err := opts.Generator.Validate(); err != nil {
			return nil, models.WrapFatal(err)
		}
		if err := opts.Executor.Validate(); err != nil {
			return nil, models.WrapFatal(err)
		}

		logger := opts.Logger
		if logger == nil {
			logger = logging.Discard()
		}
		logger = logger.WithField("job_id", cfg.JobID)

		limiter := ratelimit.NewLimiter(opts.Generator.RequestsPerSecond, opts.Generator.Burst)
		client := generator.NewChatClient(opts.Generator, limiter)
		gen := generator.New(client, logger, opts.Tracer)

		arts := artifacts.New(opts.Artifacts)
		ex := executor.New(opts.Executor, executor.Job{
			ModelID: cfg.ModelID,
			Dataset: cfg.Dataset,
			Device:  cfg.Device,
		}, arts, logger, opts.Tracer)

		seed := opts.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}

		rc := strategy.RefinerConfig{
			Generator: gen,
			Executor:  ex,
			Policy:    policy.NewSeeded(seed),
			Saver:     arts,
			Timeouts:  opts.Timeouts,
			Logger:    logger,
			Tracer:    opts.Tracer,
		}
		if opts.Metrics != nil {
			rc.Observer = opts.Metrics
		}

		return orchestrator.New(
			strategy.NewVision(rc, opts.Generator.HasCredentials()),
		).WithLogger(logger), nil
	}
}
