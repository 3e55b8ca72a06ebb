package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/livechat/internal/auth"
	"github.com/Tyrowin/livechat/internal/config"
	"github.com/Tyrowin/livechat/internal/relay"
	"github.com/Tyrowin/livechat/internal/server"
	"github.com/Tyrowin/livechat/internal/storage"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	store, err := storage.Open(cfg, log)
	if err != nil {
		return fmt.Errorf("storage opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing storage", "driver", cfg.StorageDriver)
		_ = store.Close()
	}()

	hub := server.NewHub(log)
	server.StartHub(hub)

	var router *server.Router
	if cfg.NatsURL != "" {
		nc, err := relay.Connect(cfg.NatsURL, log)
		if err != nil {
			return err
		}
		defer func() { _ = nc.Close() }()
		router = server.NewRouter(hub, nc, log)
		if err := nc.Start(router); err != nil {
			return err
		}
	} else {
		router = server.NewRouter(hub, nil, log)
	}

	jwt := auth.NewJWT(cfg.JWTSecret, cfg.TokenTTL)
	app := server.NewApp(cfg, server.Deps{
		Hub:      hub,
		Router:   router,
		Store:    store,
		Verifier: jwt,
		Issuer:   jwt,
	}, log)
	httpServer := server.CreateServer(cfg.Port, app.SetupRoutes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, log)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		log.Error("HTTP shutdown incomplete", "error", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Error("Hub shutdown incomplete", "error", err)
	}
	return nil
}
