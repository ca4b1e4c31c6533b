package main

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

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"imhub/database"
	"imhub/internal/auth"
	"imhub/internal/config"
	"imhub/internal/httpapi"
	"imhub/internal/im"
	"imhub/internal/membership"
	"imhub/internal/transport/tcp"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

func main() {
	app := &cli.Command{
		Name:    "im-server",
		Usage:   "Real-time chat routing server (WebSocket and TCP)",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "http-port",
				Usage: "HTTP/WebSocket listen port (overrides HTTP_PORT)",
			},
			&cli.IntFlag{
				Name:  "tcp-port",
				Usage: "raw TCP listen port, 0 disables (overrides TCP_PORT)",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "membership store: memory, redis or postgres (overrides MEMBERSHIP_STORE)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level: debug, info, warn, error (overrides LOG_LEVEL)",
			},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("server_error", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.IsSet("http-port") {
		cfg.HTTPPort = int(c.Int("http-port"))
	}
	if c.IsSet("tcp-port") {
		cfg.TCPPort = int(c.Int("tcp-port"))
	}
	if c.IsSet("store") {
		cfg.MembershipStore = c.String("store")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore.Close()

	hub := im.NewHub(im.SessionOptions{
		QueueCapacity:  cfg.QueueCapacity,
		DrainTimeout:   cfg.DrainTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		Logger:         logger,
	})
	members := membership.NewService(store, hub.Registry, logger)
	hub.SetOnOpen(members.Restore)

	router := httpapi.NewRouter(httpapi.Deps{
		Hub:            hub,
		Tokens:         tokens,
		Membership:     members,
		MaxMessageSize: int64(cfg.MaxMessageSize),
		Logger:         logger,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 2)
	go func() {
		logger.Info("http_server_started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	var tcpServer *tcp.Server
	if cfg.TCPPort > 0 {
		tcpServer = tcp.NewServer(fmt.Sprintf(":%d", cfg.TCPPort), hub, tokens, cfg.MaxMessageSize, logger)
		go func() {
			if err := tcpServer.Start(); err != nil {
				errChan <- fmt.Errorf("tcp server: %w", err)
			}
		}()
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received_shutdown_signal")
	case runErr = <-errChan:
		logger.Error("server_error", "error", runErr.Error())
	}

	shutdown(httpServer, tcpServer, hub, logger)
	logger.Info("server_stopped_gracefully")
	return runErr
}

// shutdown stops the listeners first so no session can register after the
// hub has closed the existing ones.
func shutdown(httpServer *http.Server, tcpServer *tcp.Server, hub *im.Hub, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown leaves hijacked WebSocket connections to the hub
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("http_shutdown_incomplete", "error", err.Error())
	}
	if tcpServer != nil {
		tcpServer.Stop()
	}
	hub.Shutdown()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openStore builds the configured membership store and the closer that
// releases its connections.
func openStore(cfg *config.Config, logger *slog.Logger) (membership.Store, io.Closer, error) {
	switch cfg.MembershipStore {
	case "redis":
		store, err := membership.NewRedisStore(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("membership_store_ready", "store", "redis")
		return store, store, nil
	case "postgres":
		db, err := database.Connect(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("membership_store_ready", "store", "postgres")
		return membership.NewGormStore(db), closerFunc(func() error { return database.Close(db) }), nil
	default:
		logger.Info("membership_store_ready", "store", "memory")
		return membership.NewMemoryStore(), closerFunc(func() error { return nil }), nil
	}
}
