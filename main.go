package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gametable/server/internal/net/ws"
	"gametable/server/internal/observability"
	"gametable/server/internal/room"
	"gametable/server/internal/rules"
	"gametable/server/internal/rules/luarules"
	"gametable/server/internal/rules/nim"
	"gametable/server/internal/session"
	"gametable/server/internal/store"
	"gametable/server/logging"
	loggingSinks "gametable/server/logging/sinks"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.EnabledSinks = cfg.LogSinks
	logCfg.JSON.FilePath = cfg.LogJSONPath

	namedSinks, cleanup, err := buildSinks(logCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	router, err := logging.NewRouter(nil, logCfg, namedSinks)
	if err != nil {
		return fmt.Errorf("construct logging router: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := router.Close(ctx); err != nil {
			log.Printf("failed to close logging router: %v", err)
		}
	}()

	db, err := store.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	defer db.Close()

	reg := rules.NewRegistry()
	if err := reg.Register("nim", nim.New()); err != nil {
		return err
	}
	if cfg.RulesDir != "" {
		titles, err := luarules.LoadDir(cfg.RulesDir, reg)
		if err != nil {
			return fmt.Errorf("load rules from %s: %w", cfg.RulesDir, err)
		}
		log.Printf("loaded %d scripted titles from %s", len(titles), cfg.RulesDir)
	}

	rooms := room.NewRegistry()
	metrics := newTelemetry()
	engine := session.NewEngine(db, reg, rooms, router, metrics)

	wsHandler := ws.NewHandler(engine, queryAuthenticator{}, ws.HandlerConfig{})
	handler := newHTTPHandler(httpDeps{
		wsHandler:     wsHandler,
		rules:         reg,
		rooms:         rooms,
		metrics:       metrics,
		router:        router,
		observability: observability.Config{EnablePprof: cfg.EnablePprof},
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildSinks constructs the sinks named in the config. The returned cleanup
// closes any files the sinks write to, after the router has drained.
func buildSinks(cfg logging.Config) ([]logging.NamedSink, func(), error) {
	var named []logging.NamedSink
	var files []*os.File

	if cfg.HasSink("console") {
		named = append(named, logging.NamedSink{
			Name: "console",
			Sink: loggingSinks.NewConsoleSink(os.Stdout, cfg.Console),
		})
	}
	if cfg.HasSink("json") {
		file, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open json log %s: %w", cfg.JSON.FilePath, err)
		}
		files = append(files, file)
		named = append(named, logging.NamedSink{
			Name: "json",
			Sink: loggingSinks.NewJSON(file, cfg.JSON.FlushInterval),
		})
	}

	cleanup := func() {
		for _, file := range files {
			file.Close()
		}
	}
	return named, cleanup, nil
}
