// Package server assembles the gateway's HTTP surface: the MCP endpoint,
// artifact downloads, health and metrics.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
	"github.com/tonimelisma/minutes-gateway/internal/auth"
)

// MCPPath is where the streamable MCP endpoint is mounted.
const MCPPath = "/mcp"

// Config holds the handler's collaborators. Downloads is nil when
// artifacts are delivered through the object store.
type Config struct {
	Auth      *auth.Authenticator
	MCP       *mcpserver.MCPServer
	Downloads ArtifactSource
	Observer  DownloadObserver
	Metrics   http.Handler
	Limiter   *RateLimiter
	Logger    *slog.Logger
}

// New builds the root handler.
//
// Middleware order: request ID, access log, panic recovery, rate limit.
// /healthz and /metrics sit outside the rate limit so probes and scrapes
// are never refused.
func New(cfg Config) (http.Handler, error) {
	var errs []error

	if cfg.Auth == nil {
		errs = append(errs, errors.New("server: authenticator is required"))
	}

	if cfg.MCP == nil {
		errs = append(errs, errors.New("server: MCP server is required"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	streamable := mcpserver.NewStreamableHTTPServer(cfg.MCP,
		mcpserver.WithEndpointPath(MCPPath),
		mcpserver.WithHTTPContextFunc(requestContext),
	)

	r := chi.NewRouter()
	r.Use(requestID, accessLog(logger), recoverer(logger))

	r.Get("/healthz", healthz)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(cfg.Limiter.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.Middleware, principalLog(logger))
			r.Handle(MCPPath, streamable)
		})

		if cfg.Downloads != nil {
			r.Group(func(r chi.Router) {
				r.Use(cfg.Auth.Optional)
				r.Handle("/download/{id}", &downloadHandler{
					store:    cfg.Downloads,
					observer: cfg.Observer,
					logger:   logger,
				})
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperr.WriteJSON(w, apperr.NotFound("route_not_found", "no such endpoint", nil), apperr.RequestID(r.Context()))
	})

	return r, nil
}

// requestContext carries the caller and request ID from the HTTP request
// into the context MCP tool handlers receive.
func requestContext(ctx context.Context, r *http.Request) context.Context {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		ctx = auth.WithPrincipal(ctx, p)
	}

	if id := apperr.RequestID(r.Context()); id != "" {
		ctx = apperr.WithRequestID(ctx, id)
	}

	return ctx
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, "ok\n")
}
