package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/astromechza/chatsync/pkg/config"
	"github.com/astromechza/chatsync/pkg/server"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configVar := flag.String("config", "", "an optional yaml config file")
	addrVar := flag.String("addr", "", "the address to listen on")
	dbVar := flag.String("db", "", "the sqlite database path")
	redisVar := flag.String("redis", "", "a redis url for cross-instance push fanout")
	flag.Parse()

	cfg, err := config.LoadServer(*configVar)
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.Addr = *addrVar
	}
	if *dbVar != "" {
		cfg.Database = *dbVar
	}
	if *redisVar != "" {
		cfg.RedisURL = *redisVar
	}

	slog.Info("Opening database", "path", cfg.Database)
	repo, err := server.OpenRepository(cfg.Database)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var broker server.Broker = server.NewLocalBroker()
	if cfg.RedisURL != "" {
		rb, err := server.NewRedisBroker(ctx, cfg.RedisURL, cfg.RedisChannel, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to setup broker: %w", err)
		}
		slog.Info("Fanning out through redis", "channel", cfg.RedisChannel)
		broker = rb
	}
	defer broker.Close()

	s := server.New(repo, broker)
	httpServer := &http.Server{Addr: cfg.Addr, Handler: s.Handler()}

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	listenErr := make(chan error, 1)

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case err := <-listenErr:
		cancel()
		wg.Wait()
		return fmt.Errorf("server listen failed: %w", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	s.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}

	wg.Wait()
	return nil
}
