package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"main/internal/broker"
	"main/internal/engine"
	"main/internal/feed"
	"main/internal/ops"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Printf("trigger: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to JSON config")
	listenAddr := flag.String("listen", ":8080", "status/metrics HTTP listen address")
	feedURL := flag.String("feed-url", "", "tick feed websocket URL (overrides config)")
	profileAddr := flag.String("pyroscope", "", "pyroscope server address (empty=disabled)")
	flag.Parse()

	var (
		loaded ops.Loaded
		err    error
	)
	if *configPath != "" {
		loaded, err = ops.Load(*configPath)
	} else {
		loaded, err = ops.Resolve(ops.FileConfig{})
	}
	if err != nil {
		return err
	}
	if *feedURL != "" {
		loaded.FeedURL = *feedURL
	}

	if *profileAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "trigger",
			ServerAddress:   *profileAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var src feed.Source
	if loaded.FeedURL != "" {
		src = feed.NewWSFeed(ctx, loaded.FeedURL)
	}

	eng, err := engine.New(loaded, broker.NewSim(), src)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(eng.Status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	eng.Close(shutdownCtx)
	return nil
}
