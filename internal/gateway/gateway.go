// Package gateway implements the minutes operations: listing and reading
// transcripts from a caller's input folder, and rendering, uploading and
// delivering minutes into the output folder. Every operation runs inside a
// Session bound to one authenticated caller.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
	"github.com/tonimelisma/minutes-gateway/internal/auth"
	"github.com/tonimelisma/minutes-gateway/internal/broker"
	"github.com/tonimelisma/minutes-gateway/internal/cursor"
	"github.com/tonimelisma/minutes-gateway/internal/delivery"
	"github.com/tonimelisma/minutes-gateway/internal/graph"
	"github.com/tonimelisma/minutes-gateway/internal/minutes"
	"github.com/tonimelisma/minutes-gateway/internal/scope"
)

// Content limits.
const (
	// MaxTranscriptSize bounds a transcript read.
	MaxTranscriptSize = 2 << 20

	// MaxDownloadSize bounds an existing output file fetched for delivery.
	MaxDownloadSize = delivery.DefaultMaxSize
)

// Observer receives one observation per tool call. code is "ok" on success.
type Observer interface {
	ObserveTool(tool, code string, elapsed time.Duration)
}

// Config wires a Gateway. All fields except ArtifactTTL and Observer are
// required.
type Config struct {
	// Graph is the base document API client. Sessions derive a copy
	// carrying the caller's delegated token.
	Graph       *graph.Client
	Exchanger   broker.Exchanger
	Provisioner scope.Provisioner
	Cursors     *cursor.Codec
	Renderer    minutes.Renderer
	Store       delivery.Store

	// ArtifactTTL is the requested download lifetime; zero uses the
	// store's default.
	ArtifactTTL time.Duration
	Observer    Observer
}

// Gateway runs operations on behalf of authenticated callers.
type Gateway struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and creates a Gateway.
func New(cfg Config, logger *slog.Logger) (*Gateway, error) {
	var errs []error

	if cfg.Graph == nil {
		errs = append(errs, errors.New("gateway: graph client is required"))
	}

	if cfg.Exchanger == nil {
		errs = append(errs, errors.New("gateway: token exchanger is required"))
	}

	if cfg.Provisioner == nil {
		errs = append(errs, errors.New("gateway: scope provisioner is required"))
	}

	if cfg.Cursors == nil {
		errs = append(errs, errors.New("gateway: cursor codec is required"))
	}

	if cfg.Renderer == nil {
		errs = append(errs, errors.New("gateway: renderer is required"))
	}

	if cfg.Store == nil {
		errs = append(errs, errors.New("gateway: delivery store is required"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{cfg: cfg, logger: logger}, nil
}

// Session is the per-request context of one caller: who they are, the
// subtree they may touch, and a document API client acting as them.
type Session struct {
	Principal *auth.Principal
	Scope     *scope.Scope

	api *graph.Client
}

// Session exchanges the caller's token and resolves their scope. Steps run
// strictly in order; nothing is cached across requests.
func (g *Gateway) Session(ctx context.Context, p *auth.Principal) (*Session, error) {
	if p == nil || p.Identity == nil {
		return nil, apperr.Unauthorized("missing_token", "request is not authenticated", nil)
	}

	delegated, err := g.cfg.Exchanger.Exchange(ctx, p.RawToken)
	if err != nil {
		return nil, err
	}

	api := g.cfg.Graph.WithToken(graph.StaticToken(delegated))

	sc, err := g.cfg.Provisioner.Resolve(ctx, api, p.Identity.UserKey)
	if err != nil {
		return nil, graph.ToAppError(err)
	}

	g.logger.Debug("session resolved",
		slog.String("request_id", apperr.RequestID(ctx)),
		slog.String("user_key", sc.UserKey),
		slog.String("user_prefix", sc.UserPrefix),
	)

	return &Session{Principal: p, Scope: sc, api: api}, nil
}

// Identity describes the caller and their scope.
type Identity struct {
	UserKey     string   `json:"userKey"`
	Email       string   `json:"email,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	SourceClaim string   `json:"sourceClaim,omitempty"`
	ClientID    string   `json:"clientId,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
	Verified    bool     `json:"verified"`
	Prefixes    Prefixes `json:"prefixes"`
}

// Prefixes are the scope's canonical folder paths.
type Prefixes struct {
	Base   string `json:"base"`
	User   string `json:"user"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// WhoAmI reports the session's identity and scope.
func (g *Gateway) WhoAmI(s *Session) *Identity {
	id := s.Principal.Identity

	out := &Identity{
		UserKey:     id.UserKey,
		Email:       id.Email,
		Subject:     id.Subject,
		SourceClaim: id.SourceClaim,
		Prefixes: Prefixes{
			Base:   s.Scope.BasePrefix,
			User:   s.Scope.UserPrefix,
			Input:  s.Scope.InputPrefix,
			Output: s.Scope.OutputPrefix,
		},
	}

	if tok := s.Principal.Token; tok != nil {
		out.ClientID = tok.ClientID
		out.Scopes = tok.Scopes
		out.Verified = true
	}

	return out
}
