// ABOUTME: Server orchestrator wiring the store, enhanced client, trigger and HTTP surface
// ABOUTME: Manages TCP or tailnet listeners, graceful shutdown and health endpoints

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/tms-core/internal/auth"
	"github.com/2389/tms-core/internal/config"
	"github.com/2389/tms-core/internal/enhanced"
	"github.com/2389/tms-core/internal/store"
	"github.com/2389/tms-core/internal/trigger"
)

// Server serves the heartbeat trigger, the dashboard's enhanced endpoints and
// health checks.
type Server struct {
	config      *config.Config
	store       store.KeyValueStore
	client      *enhanced.Client
	trigger     *trigger.Trigger
	verifier    auth.TokenVerifier
	router      chi.Router
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// requestLogLevel is the minimum level for per-request access logs.
	requestLogLevel slog.Level
}

// Option customizes a Server.
type Option func(*Server)

// WithRequestLogLevel sets the minimum level of the HTTP access log.
func WithRequestLogLevel(level slog.Level) Option {
	return func(s *Server) { s.requestLogLevel = level }
}

// OpenStore opens the SQLite store named by cfg.
func OpenStore(cfg *config.Config) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// NewClient builds the enhanced service client and its ledger over kv.
func NewClient(cfg *config.Config, kv store.KeyValueStore, logger *slog.Logger) (*enhanced.Client, *enhanced.Ledger) {
	ledger := enhanced.NewLedger(kv)
	client := enhanced.NewClient(enhanced.ClientConfig{
		BaseURL: cfg.Enhanced.URL,
		Secret:  cfg.Enhanced.Secret,
		Timeout: cfg.Enhanced.Timeout,
	},
		enhanced.NewIdentity(kv, cfg.Enhanced.InstanceID),
		enhanced.NewTokenStore(kv),
		ledger,
		logger,
	)
	return client, ledger
}

// New opens the store named by cfg and builds a Server around it.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	kv, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	srv, err := NewWithStore(cfg, kv, logger, opts...)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	return srv, nil
}

// NewWithStore builds a Server over an existing store. The Server takes
// ownership of kv and closes it on Shutdown.
func NewWithStore(cfg *config.Config, kv store.KeyValueStore, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, ledger := NewClient(cfg, kv, logger)

	srv := &Server{
		config:          cfg,
		store:           kv,
		client:          client,
		trigger:         trigger.New(cfg.Cron.Secret, client, ledger, logger),
		logger:          logger.With("component", "server"),
		requestLogLevel: slog.LevelInfo,
	}
	for _, opt := range opts {
		opt(srv)
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		srv.verifier = verifier
	} else {
		srv.logger.Warn("auth.jwt_secret not set: enhanced dashboard endpoints are unauthenticated")
	}

	if !client.Configured() {
		srv.logger.Info("enhanced service not configured; enhanced features report not_configured")
	}
	if !srv.trigger.RequiresSecret() {
		srv.logger.Warn("cron.secret not set: /heartbeat-trigger accepts any caller")
	}

	srv.router = srv.routes(logger)
	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupTCPListener creates the standard TCP listener.
func (s *Server) setupTCPListener() (net.Listener, error) {
	s.logger.Info("starting tms-core", "http_addr", s.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}
	return s.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "tms-core", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on :80, or :443 with
// tailnet certificates when tailscale.https is set.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	if !tsCfg.HTTPS {
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}

	s.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases the tailnet node and
// the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down tms-core")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	return errors.Join(errs...)
}
