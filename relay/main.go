package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/xiaot623/gigchat/relay/internal/auth"
	"github.com/xiaot623/gigchat/relay/internal/config"
	"github.com/xiaot623/gigchat/relay/internal/hub"
	internalhttp "github.com/xiaot623/gigchat/relay/internal/http"
	"github.com/xiaot623/gigchat/relay/internal/logger"
	"github.com/xiaot623/gigchat/relay/internal/policy"
	"github.com/xiaot623/gigchat/relay/internal/relay"
	"github.com/xiaot623/gigchat/relay/internal/store"
	"github.com/xiaot623/gigchat/relay/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting relay",
		zap.Int("ws_port", cfg.WSPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("store_driver", cfg.StoreDriver),
		zap.Bool("echo_to_sender", cfg.EchoToSender),
		zap.Bool("auth", cfg.JWTSecret != ""))

	ctx := context.Background()

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	st, err := store.Open(openCtx, store.Options{
		Driver:      cfg.StoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		BadgerPath:  cfg.BadgerPath,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to close store", zap.Error(err))
		}
	}()

	engine, err := policy.NewEngineFromFile(ctx, cfg.PolicyPath, cfg.MaxTextLength)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		if verifier, err = auth.NewVerifier(cfg.JWTSecret); err != nil {
			return err
		}
	}

	connectionHub := hub.NewHub(log.Named("hub"))
	chatRelay := relay.New(st, connectionHub, engine, relay.Options{
		EchoToSender: cfg.EchoToSender,
		StoreTimeout: cfg.StoreTimeout,
	}, log.Named("relay"))

	// WebSocket server
	wsEcho := echo.New()
	wsEcho.HideBanner = true
	wsEcho.HidePort = true
	wsEcho.Use(middleware.Logger())
	wsEcho.Use(middleware.Recover())
	ws.NewServer(cfg, connectionHub, chatRelay, verifier, log.Named("ws")).Register(wsEcho)

	// History and health server
	httpServer := internalhttp.NewServer(chatRelay, cfg.Origin, log.Named("http"))

	errCh := make(chan error, 2)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.WSPort)
		if err := wsEcho.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("websocket server: %w", err)
		}
	}()
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	log.Info("relay started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		log.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := wsEcho.Shutdown(shutdownCtx); err != nil {
		log.Warn("failed to shutdown websocket server gracefully", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("failed to shutdown http server gracefully", zap.Error(err))
	}

	log.Info("relay stopped")
	return runErr
}
