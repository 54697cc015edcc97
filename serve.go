package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/minutes-gateway/internal/auth"
	"github.com/tonimelisma/minutes-gateway/internal/broker"
	"github.com/tonimelisma/minutes-gateway/internal/config"
	"github.com/tonimelisma/minutes-gateway/internal/cursor"
	"github.com/tonimelisma/minutes-gateway/internal/delivery"
	"github.com/tonimelisma/minutes-gateway/internal/driveid"
	"github.com/tonimelisma/minutes-gateway/internal/gateway"
	"github.com/tonimelisma/minutes-gateway/internal/graph"
	"github.com/tonimelisma/minutes-gateway/internal/metrics"
	"github.com/tonimelisma/minutes-gateway/internal/minutes"
	"github.com/tonimelisma/minutes-gateway/internal/retry"
	"github.com/tonimelisma/minutes-gateway/internal/scope"
	"github.com/tonimelisma/minutes-gateway/internal/server"
)

// limiterPruneInterval is how often idle per-client limiters are dropped.
const limiterPruneInterval = server.DefaultLimiterIdle / 2

var flagPIDFile string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		Long: `Run the gateway HTTP server.

The server exposes the MCP endpoint at /mcp, artifact downloads at
/download/{id} (memory delivery only), /healthz and /metrics. SIGINT or
SIGTERM drains in-flight requests; SIGHUP re-reads logging.log_level from
the config file.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&flagPIDFile, "pid-file", "", "write the process ID here, for the reload command")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, level := buildLogger(resolvedCfg, os.Stderr)

	ctx := trapShutdown(cmd.Context(), logger, os.Exit)

	if flagPIDFile != "" {
		lock, err := lockPIDFile(flagPIDFile)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := buildApp(ctx, resolvedCfg, reg, logger)
	if err != nil {
		return err
	}

	if resolvedCfg.Path != "" && flagLogLevel() == "" {
		a.reloader = config.NewLevelReloader(resolvedCfg.Path, level, os.LookupEnv, logger, a.collector.ObserveReload)
	}

	ln, err := net.Listen("tcp", resolvedCfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", resolvedCfg.Server.ListenAddr, err)
	}

	return a.run(ctx, ln)
}

// app is the assembled gateway process.
type app struct {
	cfg       *config.Resolved
	handler   http.Handler
	limiter   *server.RateLimiter
	collector *metrics.Collector
	reloader  *config.LevelReloader
	logger    *slog.Logger
}

// buildApp wires every component from the resolved configuration. Fixed
// scope mode contacts the document API here, so startup fails fast on a
// misconfigured site, drive or folder.
func buildApp(ctx context.Context, r *config.Resolved, reg *prometheus.Registry, logger *slog.Logger) (*app, error) {
	collector := metrics.NewCollector(reg)
	httpClient := &http.Client{Timeout: r.Graph.Timeout}

	policy := retry.New(r.Graph.MaxAttempts, r.Graph.BaseDelay, r.Graph.MaxDelay, logger,
		retry.WithRetryHook(collector.ObserveRetry))
	api := graph.NewClient(r.Graph.BaseURL, httpClient, nil, logger, r.Graph.UserAgent, policy)

	exchanger, err := buildExchanger(r.Broker, httpClient, logger)
	if err != nil {
		return nil, err
	}

	provisioner, err := buildProvisioner(ctx, r, api, httpClient, logger)
	if err != nil {
		return nil, err
	}

	if len(r.Cursor.SigningKey) == 0 {
		logger.Warn("cursor.signing_key not set, cursors will not survive a restart")
	}

	codec, err := cursor.NewCodec(r.Cursor.SigningKey, r.Graph.BaseURL, cursor.WithTTL(r.Cursor.TTL))
	if err != nil {
		return nil, fmt.Errorf("cursor codec: %w", err)
	}

	renderer, err := minutes.NewMarkdownRenderer()
	if err != nil {
		return nil, fmt.Errorf("minutes renderer: %w", err)
	}

	store, downloads, err := buildStore(r.Delivery, httpClient, collector, logger)
	if err != nil {
		return nil, err
	}

	gw, err := gateway.New(gateway.Config{
		Graph:       api,
		Exchanger:   exchanger,
		Provisioner: provisioner,
		Cursors:     codec,
		Renderer:    renderer,
		Store:       store,
		Observer:    collector,
	}, logger)
	if err != nil {
		return nil, err
	}

	mcpSrv := mcpserver.NewMCPServer("minutes-gateway", version, mcpserver.WithToolCapabilities(false))
	gw.Register(mcpSrv)

	authenticator, err := buildAuthenticator(r.Auth, httpClient, logger)
	if err != nil {
		return nil, err
	}

	limiter := server.NewRateLimiter(r.Server.RateLimit, r.Server.RateBurst, logger, collector.ObserveRateLimited)

	handler, err := server.New(server.Config{
		Auth:      authenticator,
		MCP:       mcpSrv,
		Downloads: downloads,
		Observer:  collector,
		Metrics:   metrics.Handler(reg),
		Limiter:   limiter,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("gateway configured",
		slog.String("config", describeSource(r.Path)),
		slog.String("auth_mode", r.Auth.Mode),
		slog.String("broker_mode", r.Broker.Mode),
		slog.String("scope_mode", r.Scope.ScopeMode()),
		slog.String("delivery", r.Delivery.Backend()),
	)

	return &app{
		cfg:       r,
		handler:   handler,
		limiter:   limiter,
		collector: collector,
		logger:    logger,
	}, nil
}

func buildExchanger(b config.BrokerSettings, httpClient *http.Client, logger *slog.Logger) (broker.Exchanger, error) {
	if b.Mode == config.BrokerModePassthrough {
		return broker.Passthrough{}, nil
	}

	ex, err := broker.NewDestinationExchanger(broker.Config{
		TokenURL:        b.TokenURL,
		ClientID:        b.ClientID,
		ClientSecret:    b.ClientSecret,
		Scopes:          b.Scopes,
		DestinationURL:  b.DestinationURL,
		DestinationName: b.DestinationName,
		HTTPClient:      httpClient,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("token broker: %w", err)
	}

	return ex, nil
}

func buildProvisioner(
	ctx context.Context, r *config.Resolved, api *graph.Client, httpClient *http.Client, logger *slog.Logger,
) (scope.Provisioner, error) {
	switch s := r.Scope.(type) {
	case config.FixedScope:
		if r.Graph.App == nil {
			return nil, errors.New("fixed scope mode requires graph app credentials")
		}

		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		appAPI := api.WithToken(graph.AppTokenSource(tokenCtx, graph.AppCredentials{
			TokenURL:     r.Graph.App.TokenURL,
			ClientID:     r.Graph.App.ClientID,
			ClientSecret: r.Graph.App.ClientSecret,
			Scopes:       r.Graph.App.Scopes,
		}, logger))

		fixed, err := scope.LoadFixed(ctx, appAPI, scope.FixedConfig{
			SiteID:         s.SiteID,
			DriveID:        driveid.New(s.DriveID),
			InputFolderID:  s.InputFolderID,
			OutputFolderID: s.OutputFolderID,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("loading fixed scope: %w", err)
		}

		return fixed, nil
	case config.PerUserScope:
		per, err := scope.NewPerUser(s.SiteID, driveid.New(s.DriveID), s.BaseFolder, logger)
		if err != nil {
			return nil, fmt.Errorf("per-user scope: %w", err)
		}

		return per, nil
	default:
		return nil, fmt.Errorf("unsupported scope settings %T", r.Scope)
	}
}

// buildStore returns the delivery store, plus the download source when
// artifacts are served by this process.
func buildStore(
	d config.DeliverySettings, httpClient *http.Client, collector *metrics.Collector, logger *slog.Logger,
) (delivery.Store, server.ArtifactSource, error) {
	switch d := d.(type) {
	case config.MemoryDelivery:
		mem := delivery.NewMemoryStore(delivery.MemoryConfig{
			PublicBaseURL: d.PublicBaseURL,
			DefaultTTL:    d.TTL,
			MaxTTL:        d.MaxTTL,
			MaxEntries:    d.MaxEntries,
			MaxSize:       d.MaxSize,
			EnforceOwner:  d.EnforceOwner,
		}, logger, delivery.WithEvictionHook(collector.ObserveEviction))

		return mem, mem, nil
	case config.ObjectDelivery:
		obj, err := delivery.NewObjectStore(delivery.ObjectConfig{
			Endpoint:  d.Endpoint,
			Region:    d.Region,
			Bucket:    d.Bucket,
			Prefix:    d.Prefix,
			PathStyle: d.PathStyle,
			Credentials: delivery.Credentials{
				AccessKeyID:     d.AccessKeyID,
				SecretAccessKey: d.SecretAccessKey,
				SessionToken:    d.SessionToken,
			},
			DefaultTTL: d.TTL,
			MaxTTL:     d.MaxTTL,
			MaxSize:    d.MaxSize,
			HTTPClient: httpClient,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("object store: %w", err)
		}

		return obj, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported delivery settings %T", d)
	}
}

func buildAuthenticator(a config.AuthSettings, httpClient *http.Client, logger *slog.Logger) (*auth.Authenticator, error) {
	resolver := auth.NewResolver(auth.ClaimContract{Order: a.IdentityClaims})

	var verifier *auth.Verifier

	if a.Mode == config.AuthModeJWKS {
		v, err := auth.NewVerifier(auth.VerifierConfig{
			Issuer:         a.Issuer,
			Audience:       a.Audience,
			JWKSURL:        a.JWKSURL,
			RequiredScopes: a.RequiredScopes,
			ClockSkew:      a.ClockSkew,
			JWKSTTL:        a.JWKSTTL,
			HTTPClient:     httpClient,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("token verifier: %w", err)
		}

		verifier = v
	} else {
		logger.Warn("auth mode is trusted, bearer tokens are not verified by this process")
	}

	authenticator, err := auth.NewAuthenticator(auth.Mode(a.Mode), verifier, resolver, a.Realm, logger)
	if err != nil {
		return nil, fmt.Errorf("authenticator: %w", err)
	}

	return authenticator, nil
}

// run serves on ln until ctx is canceled, then drains within the shutdown
// timeout. Background loops share the server's lifetime.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(a.logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("listening", slog.String("addr", ln.Addr().String()))

		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		a.logger.Info("shutting down", slog.Duration("timeout", a.cfg.Server.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		a.limiter.Run(gctx.Done(), limiterPruneInterval)
		return nil
	})

	notifyHangup(gctx, a.reloadLevel)

	if a.reloader != nil {
		g.Go(func() error {
			if err := a.reloader.Watch(gctx); err != nil {
				a.logger.Warn("config file watch disabled, SIGHUP still reloads",
					slog.String("error", err.Error()),
				)
			}

			return nil
		})
	}

	return g.Wait()
}

// reloadLevel is the SIGHUP handler.
func (a *app) reloadLevel() {
	if a.reloader == nil {
		a.logger.Info("received SIGHUP, nothing to reload (no config file or log level pinned by flag)")
		return
	}

	a.logger.Info("received SIGHUP, reloading log level")

	if err := a.reloader.Reload(); err != nil {
		a.logger.Warn("config reload failed, keeping current log level",
			slog.String("error", err.Error()),
		)
	}
}

func newReloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask a running gateway to re-read its log level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flagPIDFile == "" {
				return errors.New("--pid-file is required")
			}

			if err := signalGateway(flagPIDFile, syscall.SIGHUP); err != nil {
				return err
			}

			statusf(cmd.ErrOrStderr(), flagQuiet, "Sent reload signal.\n")

			return nil
		},
	}

	cmd.Flags().StringVar(&flagPIDFile, "pid-file", "", "PID file written by serve --pid-file")

	return cmd
}
