package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/raysh454/proctor/internal/cli"
	"github.com/raysh454/proctor/internal/hub"
	"github.com/raysh454/proctor/internal/ledger"
	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/policy"
	"github.com/raysh454/proctor/internal/server"
)

// Application is the global runtime state container of the server. It
// holds config, parsed CLI args and the core services shared across
// modules. Pass Application into modules that need access to the global
// state rather than using package-level variables.
type Application struct {
	Config *Config
	Args   *cli.CLIArgs

	Logger logging.Logger
	Ledger *ledger.Ledger
	Hub    *hub.Hub
	Server *server.Server

	store    ledger.Store
	http     *http.Server
	listener net.Listener
	serveErr chan error
	stopOnce sync.Once
}

// NewApplication wires store, ledger, hub and HTTP server from cfg.
func NewApplication(ctx context.Context, cfg *Config, args *cli.CLIArgs, logger logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if args != nil {
		cfg.ApplyArgs(args)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := OpenStore(ctx, cfg.Store, logger.With(logging.Field{Key: "component", Value: "store"}))
	if err != nil {
		return nil, err
	}

	l := ledger.New(store, policy.New(cfg.Policy), cfg.Ledger, nil, logger.With(logging.Field{Key: "component", Value: "ledger"}))
	h := hub.New(cfg.Hub, logger)
	l.Subscribe(ledger.ObserverFunc(h.OnLedgerEvent))

	srvCfg := cfg.Server
	srvCfg.Logger = logger.With(logging.Field{Key: "component", Value: "server"})
	if srvCfg.JWTSecret == "" {
		logger.Warn("no jwt secret configured, moderator routes are disabled")
	}
	srv := server.NewServer(srvCfg, l, h)

	return &Application{
		Config:   cfg,
		Args:     args,
		Logger:   logger,
		Ledger:   l,
		Hub:      h,
		Server:   srv,
		store:    store,
		http:     srv.HTTPServer(),
		serveErr: make(chan error, 1),
	}, nil
}

// ApplyArgs lets command-line flags override loaded values.
func (c *Config) ApplyArgs(args *cli.CLIArgs) {
	if args.ListenAddr != "" {
		c.Server.ListenAddr = args.ListenAddr
	}
	if args.StoreBackend != "" {
		c.Store.Backend = args.StoreBackend
	}
	if args.LogFormat != "" {
		c.Log.Format = args.LogFormat
	}
	if args.LogLevel != "" {
		c.Log.Level = args.LogLevel
	}
}

// Start binds the listen address and serves in the background. A bind
// failure is returned directly.
func (a *Application) Start() error {
	if a == nil {
		return errors.New("application is nil")
	}
	ln, err := net.Listen("tcp", a.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.http.Addr, err)
	}
	a.listener = ln
	a.Logger.Info("proctor server listening", logging.Field{Key: "addr", Value: ln.Addr().String()})

	go func() {
		err := a.http.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		a.serveErr <- err
	}()
	return nil
}

// Addr is the bound address once Start succeeded.
func (a *Application) Addr() string {
	if a.listener == nil {
		return a.http.Addr
	}
	return a.listener.Addr().String()
}

// Wait blocks until ctx is done or the HTTP server stops on its own.
func (a *Application) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-a.serveErr:
		return err
	}
}

// Shutdown stops accepting requests, closes push connections, drains
// ledger observers and releases the store.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	var firstErr error
	a.stopOnce.Do(func() {
		a.Logger.Info("application shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		// Hijacked websocket connections are not tracked by http.Server.
		a.Server.Close()
		if a.listener != nil {
			if err := a.http.Shutdown(shutdownCtx); err != nil {
				firstErr = fmt.Errorf("http shutdown: %w", err)
			}
		}
		a.Ledger.Shutdown()
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close store: %w", err)
		}
	})
	return firstErr
}
