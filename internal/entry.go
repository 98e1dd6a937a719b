// Package internal provides the process entry points for the hub, node,
// console and MCP commands.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/reliefnet/internal/api"
	"github.com/starford/reliefnet/internal/bridge"
	"github.com/starford/reliefnet/internal/console"
	"github.com/starford/reliefnet/internal/hub"
	"github.com/starford/reliefnet/internal/journal"
	"github.com/starford/reliefnet/internal/link"
	"github.com/starford/reliefnet/internal/mcpserver"
	"github.com/starford/reliefnet/internal/node"
	"github.com/starford/reliefnet/internal/sse"
	pkgconfig "github.com/starford/reliefnet/pkg/config"
)

const shutdownTimeout = 10 * time.Second

func setup(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger builds the structured JSON logger. The returned LevelVar lets a
// config reload change the level at runtime.
func (a *application) newLogger() (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(a.config.App.LogLevel)
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, level
}

// watchConfig re-reads the config file on change and applies a new log
// level. Other settings need a restart.
func (a *application) watchConfig(ctx context.Context, g *errgroup.Group, level *slog.LevelVar, logger *slog.Logger) {
	if a.configPath == "" {
		return
	}
	g.Go(func() error {
		err := pkgconfig.Watch(ctx, a.configPath, logger, func() {
			next := NewDefaultConfig()
			if err := pkgconfig.Load(a.configPath, next); err != nil {
				logger.Warn("config reload failed", slog.String("error", err.Error()))
				return
			}
			if next.App.LogLevel != level.Level() {
				level.Set(next.App.LogLevel)
				logger.Info("log level changed", slog.String("log_level", next.App.LogLevel.String()))
			}
		})
		if err != nil {
			logger.Warn("config watcher disabled", slog.String("error", err.Error()))
		}
		return nil
	})
}

// newRouter returns the base chi router with the shared middleware stack
// and the unauthenticated health endpoints.
func newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	health := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
	r.Get("/health/live", health)
	r.Get("/health/ready", health)
	return r
}

// serveHTTP starts srv in g and shuts it down when ctx ends.
func serveHTTP(ctx context.Context, g *errgroup.Group, srv *http.Server, logger *slog.Logger) {
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})
}

// handleSignals cancels the run when SIGINT or SIGTERM arrives.
func handleSignals(ctx context.Context, g *errgroup.Group, cancel context.CancelFunc, logger *slog.Logger) {
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-ctx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		cancel()
		return nil
	})
}

func wait(g *errgroup.Group, logger *slog.Logger) error {
	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Stopped successfully")
	return nil
}

// RunHub starts the relay: the radio link, the console bridge listener, the
// router loop and the status HTTP surface.
func RunHub(ctx context.Context, opts ...Option) error {
	app, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger, level := app.newLogger()

	logger.Info("Configuration loaded",
		slog.String("link", cfg.Hub.Listen),
		slog.String("console_listen", cfg.Hub.ConsoleListen),
		slog.String("http_address", cfg.Hub.HTTP.Address()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	udp, err := link.ListenUDP(cfg.Hub.Listen, logger)
	if err != nil {
		return fmt.Errorf("init link: %w", err)
	}
	defer udp.Close()

	consoles, err := bridge.Listen(cfg.Hub.ConsoleListen, logger)
	if err != nil {
		return fmt.Errorf("init bridge: %w", err)
	}

	h := hub.New(hub.Config{
		HeartbeatInterval: cfg.Hub.HeartbeatInterval,
		PeerTimeout:       cfg.Hub.PeerTimeout,
		MaxPeers:          cfg.Hub.MaxPeers,
		MaxVolunteers:     cfg.Hub.MaxVolunteers,
		InboxSize:         cfg.Hub.InboxSize,
	}, udp, consoles, logger)

	r := newRouter()
	r.Mount("/api", api.NewHubRouter(h, cfg.Auth.AuthEnabled(), cfg.Auth.Token, logger))
	httpServer := &http.Server{Addr: cfg.Hub.HTTP.Address(), Handler: r}

	fmt.Fprintln(app.logOutput, renderBanner("hub", app.version,
		field{"radio", udp.LocalAddr()},
		field{"consoles", consoles.Addr()},
		field{"status", "http://localhost" + cfg.Hub.HTTP.Address() + "/api/peers"},
	))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return udp.Serve(gCtx) })
	g.Go(func() error {
		return consoles.Serve(gCtx, func(cmd bridge.Command) {
			if err := h.Command(gCtx, cmd); err != nil {
				logger.Debug("command not delivered", slog.String("error", err.Error()))
			}
		})
	})
	g.Go(func() error { return h.Run(gCtx) })
	serveHTTP(gCtx, g, httpServer, logger)
	app.watchConfig(gCtx, g, level, logger)
	handleSignals(gCtx, g, cancel, logger)

	return wait(g, logger)
}

// RunNode starts a relief node: the radio link to the hub, the agent loop
// and the local portal API.
func RunNode(ctx context.Context, opts ...Option) error {
	app, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger, level := app.newLogger()

	logger.Info("Configuration loaded",
		slog.String("hub", cfg.Node.Hub),
		slog.String("link", cfg.Node.Listen),
		slog.String("http_address", cfg.Node.HTTP.Address()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	udp, err := link.ListenUDP(cfg.Node.Listen, logger)
	if err != nil {
		return fmt.Errorf("init link: %w", err)
	}
	defer udp.Close()

	agent := node.NewAgent(node.Config{
		Hub:               cfg.Node.Hub,
		HeartbeatInterval: cfg.Node.HeartbeatInterval,
		HubTimeout:        cfg.Node.HubTimeout,
		ProvisionalID:     cfg.Node.ProvisionalID,
		InboxSize:         cfg.Node.InboxSize,
		Store: node.StoreConfig{
			MaxClients:   cfg.Node.MaxClients,
			ChatCapacity: cfg.Node.ChatCapacity,
			DedupWindow:  cfg.Node.DedupWindow,
			MaxNotices:   cfg.Node.MaxNotices,
		},
	}, udp, logger)

	r := newRouter()
	r.Mount("/api", api.NewNodeRouter(agent, logger))
	httpServer := &http.Server{Addr: cfg.Node.HTTP.Address(), Handler: r}

	portal := cfg.Node.PortalURL
	if portal == "" {
		portal = "http://localhost" + cfg.Node.HTTP.Address()
	}
	fmt.Fprintln(app.logOutput, renderBanner("node", app.version,
		field{"hub", cfg.Node.Hub},
		field{"radio", udp.LocalAddr()},
		field{"portal", portal},
	))
	if qr := portalQR(portal); qr != "" {
		fmt.Fprintln(app.logOutput, "Scan to open the portal:")
		fmt.Fprintln(app.logOutput, qr)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return udp.Serve(gCtx) })
	g.Go(func() error { return agent.Run(gCtx) })
	serveHTTP(gCtx, g, httpServer, logger)
	app.watchConfig(gCtx, g, level, logger)
	handleSignals(gCtx, g, cancel, logger)

	return wait(g, logger)
}

// newConsoleService opens the journal and the bridge client shared by the
// console and mcp commands. pub may be nil.
func newConsoleService(cfg *Config, pub console.Publisher, logger *slog.Logger) (*console.Service, *bridge.Client, io.Closer, error) {
	db, err := journal.Open(cfg.Console.SQLitePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init journal: %w", err)
	}
	client := bridge.NewClient(cfg.Console.Bridge, cfg.Console.ReconnectDelay, logger)
	state := console.NewState(cfg.Console.MaxChats, cfg.Console.MaxEvents)
	return console.NewService(state, db, client, pub, logger), client, db, nil
}

// RunConsole starts the operator console: the bridge client to the hub, the
// journal, and the dashboard HTTP/SSE surface.
func RunConsole(ctx context.Context, opts ...Option) error {
	app, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger, level := app.newLogger()

	logger.Info("Configuration loaded",
		slog.String("bridge", cfg.Console.Bridge),
		slog.String("sqlite_path", cfg.Console.SQLitePath),
		slog.String("http_address", cfg.Console.HTTP.Address()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// The broker's snapshot runs on its own loop, only after a dashboard
	// subscribes or a hub event arrives, both of which follow svc being set.
	var svc *console.Service
	broker := sse.NewBroker(
		sse.WithStateThrottle(cfg.Console.StateThrottle),
		sse.WithKeepAlive(15*time.Second),
		sse.WithSnapshot(func() any { return svc.Snapshot() }),
	)
	defer broker.Close()

	svc, client, db, err := newConsoleService(cfg, broker, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	r := newRouter()
	r.Mount("/api", console.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, logger))
	httpServer := &http.Server{Addr: cfg.Console.HTTP.Address(), Handler: r}

	fmt.Fprintln(app.logOutput, renderBanner("console", app.version,
		field{"hub", cfg.Console.Bridge},
		field{"journal", cfg.Console.SQLitePath},
		field{"dashboard", "http://localhost" + cfg.Console.HTTP.Address() + "/api/state"},
	))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return client.Run(gCtx, svc.HandleEvent, svc.HandleConnection) })
	serveHTTP(gCtx, g, httpServer, logger)
	app.watchConfig(gCtx, g, level, logger)
	handleSignals(gCtx, g, cancel, logger)

	return wait(g, logger)
}

// RunMCP serves the operator tools over stdio. Logs go to the configured
// log output, which must not be stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := setup(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	cfg := app.config
	logger, _ := app.newLogger()

	svc, client, db, err := newConsoleService(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Run(ctx, svc.HandleEvent, svc.HandleConnection)
	}()

	logger.Info("MCP server starting on stdio", slog.String("bridge", cfg.Console.Bridge))
	err = mcpserver.New(svc, app.version).ServeStdio()
	cancel()
	<-done
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
