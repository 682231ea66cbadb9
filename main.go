package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"arenasync/server"
)

// arenasync: authoritative session coordinator. Clients open /play, send
// control inputs and receive the full world state after every change.
func main() {
	var (
		configPath string
		envFile    string
		addr       string
	)
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&envFile, "env", ".env", "dotenv file loaded before the config (ignored if missing)")
	flag.StringVar(&addr, "addr", "", "listen address, overrides the config, e.g. :8080")
	flag.Parse()

	cfg, err := server.LoadConfig(configPath, envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if addr != "" {
		cfg.Addr = addr
	}

	log, err := server.InitLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer server.SyncLogger(log)

	var (
		sinks   []server.EventSink
		journal *server.Journal
		index   *server.ConnIndex
	)
	if cfg.Journal.Dir != "" {
		if journal, err = server.OpenJournal(cfg.Journal, log); err != nil {
			log.Fatalf("open journal: %v", err)
		}
		sinks = append(sinks, journal)
	}
	if cfg.Index.Path != "" {
		if index, err = server.OpenIndex(cfg.Index, log); err != nil {
			log.Fatalf("open index: %v", err)
		}
		sinks = append(sinks, index)
	}

	manager := server.NewSessionManager(cfg, log, sinks...)
	srv := &http.Server{Addr: cfg.Addr, Handler: server.NewServer(manager, index, journal, log).Routes()}

	go func() {
		log.Infof("arenasync listening on %s (roster=%s overflow=%s)", cfg.Addr, cfg.Session.Roster, cfg.Session.Overflow)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = multierr.Append(srv.Shutdown(ctx), manager.Shutdown(ctx))
	for _, s := range sinks {
		err = multierr.Append(err, s.Close())
	}
	if err != nil {
		log.Warnf("shutdown: %v", err)
	}
}
