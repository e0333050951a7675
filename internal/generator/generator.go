// Package generator asks a hosted language model for candidate model
// definitions and extracts the source from its reply.
package generator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/models"
	"github.com/psantana5/modelsearch/pkg/tracing"
)

// Generator produces the source of one candidate model.
type Generator interface {
	Generate(ctx context.Context, ds models.DatasetDescriptor, params models.HyperparameterSet, fb models.Feedback) (string, error)
}

// LLMGenerator builds prompts, calls a Completer and extracts the code.
type LLMGenerator struct {
	client Completer
	logger *logging.Logger
	tracer *tracing.Provider
}

// New creates an LLMGenerator. Logger and tracer may be nil.
func New(client Completer, logger *logging.Logger, tracer *tracing.Provider) *LLMGenerator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LLMGenerator{client: client, logger: logger, tracer: tracer}
}

// Generate returns the candidate source for the given trial parameters.
func (g *LLMGenerator) Generate(ctx context.Context, ds models.DatasetDescriptor, params models.HyperparameterSet, fb models.Feedback) (string, error) {
	ctx, span := g.tracer.StartSpan(ctx, "generator.generate",
		attribute.String("dataset", ds.Name),
		attribute.Bool("has_feedback_error", fb.LastError != ""),
	)
	defer span.End()

	g.logger.Debug("Requesting candidate architecture", map[string]interface{}{
		"dataset": ds.Name,
		"params":  params.String(),
	})

	reply, err := g.client.Complete(ctx, SystemPrompt(ds), UserPrompt(ds, params, fb))
	if err != nil {
		tracing.SetError(ctx, err)
		return "", err
	}

	code, err := ExtractCode(reply)
	if err != nil {
		tracing.SetError(ctx, err)
		return "", err
	}

	span.SetAttributes(attribute.Int("source_bytes", len(code)))
	return code, nil
}
