package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"httptunnel-go/internal/client"
	"httptunnel-go/internal/config"
	"httptunnel-go/internal/handler"
	"httptunnel-go/internal/metrics"
	"httptunnel-go/internal/middleware"
	"httptunnel-go/internal/payload"
	"httptunnel-go/internal/prompt"
	"httptunnel-go/internal/shell"
	"httptunnel-go/internal/tunnel"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("httptunnel"),
		kong.Description("Run PHP payloads on a remote target through size-limited HTTP requests."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(newFxLogger),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			client.NewTargetClient,
			payload.NewCodec,
			prompt.NewStdio,
			newChannel,
			func(ch *tunnel.Channel) handler.TunnelInfo { return ch },
			handler.NewHealthHandler,
			newRunner,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer, runShell),
	).Run()
}

// newLogger writes to stderr; stdout carries payload results.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(h)
}

// newFxLogger keeps container events out of the operator's way unless
// debugging.
func newFxLogger(logger *slog.Logger) fxevent.Logger {
	l := &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
	l.UseLogLevel(slog.LevelDebug)
	return l
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 5 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.StatusMetrics(m))
	e.Use(middleware.SecurityHeaders())

	if cfg.Status.RateLimit.Enabled {
		e.Use(middleware.RateLimit(cfg.Status.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Status.RateLimit.RequestsPerSecond)
	}

	return e
}

func newChannel(cfg *config.Config, codec *payload.Codec, tc *client.TargetClient, term *prompt.Terminal, logger *slog.Logger, m *metrics.Metrics) (*tunnel.Channel, error) {
	return tunnel.NewChannel(cfg, codec, tc, term, logger, m)
}

func newRunner(cli *config.CLI, ch *tunnel.Channel, term *prompt.Terminal, logger *slog.Logger) *shell.Runner {
	return shell.NewRunner(cli, ch, term, os.Stdout, logger)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Status.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Status.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting status server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("status server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down status server")
			return e.Shutdown(ctx)
		},
	})
}

// runShell runs the session once the app has started and stops the app when
// the session ends. Stopping the app first (SIGINT, SIGTERM) cancels the
// session, interrupting any transfer in flight.
func runShell(lc fx.Lifecycle, sd fx.Shutdowner, r *shell.Runner, cfg *config.Config, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("tunnel ready", "target", cfg.Target, "method", cfg.Request.DefaultMethod)
			go func() {
				defer close(done)
				code := 0
				if err := r.Run(ctx); err != nil {
					logger.Error("session failed", "err", err)
					code = 1
				}
				if err := sd.Shutdown(fx.ExitCode(code)); err != nil {
					logger.Error("shutdown failed", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
