package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/psantana5/modelsearch/pkg/auth"
	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/middleware"
	"github.com/psantana5/modelsearch/pkg/ratelimit"
)

// RouterOptions configures the middleware chain around a Handler.
type RouterOptions struct {
	Keys    *auth.KeyRegistry
	Limiter *ratelimit.Limiter
	Logger  *logging.Logger
}

// NewRouter builds the API router. Middleware runs outermost first:
// recovery, request logging, rate limiting, then authentication.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	r := mux.NewRouter()
	h.RegisterRoutes(r)

	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	if opts.Limiter != nil {
		r.Use(opts.Limiter.Middleware(ratelimit.IPKeyFunc))
	}
	if opts.Keys.Enabled() {
		r.Use(middleware.Auth(opts.Keys, logger, middleware.DefaultPublicPaths...))
	} else {
		logger.Warn("API authentication disabled: no API keys configured")
	}
	return r
}
