// Command beltcountd runs the conveyor counting service: the HTTP API, the
// job worker pool, and the sqlite-backed event store.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/beltline-data/conveyor.report/internal/api"
	"github.com/beltline-data/conveyor.report/internal/config"
	"github.com/beltline-data/conveyor.report/internal/count"
	"github.com/beltline-data/conveyor.report/internal/monitoring"
	"github.com/beltline-data/conveyor.report/internal/session"
	"github.com/beltline-data/conveyor.report/internal/stats"
	"github.com/beltline-data/conveyor.report/internal/storage"
	"github.com/beltline-data/conveyor.report/internal/timeutil"
	"github.com/beltline-data/conveyor.report/internal/version"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	dbFile     = flag.String("db", "counts.db", "Path to the sqlite event store")
	configFile = flag.String("config", "", "Path to a tuning config JSON file (defaults apply when empty)")
	uploadDir  = flag.String("upload-dir", "", "Directory for uploaded media (OS temp dir when empty)")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	monitoring.Logf("beltcountd %s", version.String())

	tuning := config.EmptyTuningConfig()
	if *configFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		monitoring.Logf("loaded tuning config from %s", *configFile)
	}

	store, err := storage.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open event store: %v", err)
	}
	defer store.Close()

	registry := session.NewRegistry()
	agg := stats.NewAggregator()

	// Replay persisted state so counts and contexts survive restarts.
	if _, err := store.ReplayInto(agg); err != nil {
		log.Fatalf("Failed to replay count events: %v", err)
	}
	contexts, err := store.ListContexts()
	if err != nil {
		log.Fatalf("Failed to load contexts: %v", err)
	}
	for _, sc := range contexts {
		if err := registry.Create(sc.ID, sc.Config); err != nil {
			log.Fatalf("Failed to recreate context %s: %v", sc.ID, err)
		}
	}
	monitoring.Logf("restored %d contexts", len(contexts))

	var srv *api.Server
	jobs := session.NewManager(registry, timeutil.RealClock{},
		tuning.GetWorkerPoolSize(), func(ev count.CountEvent) {
			srv.RecordEvents(ev)
		})
	jobs.SetFinishHook(func(j session.Job) {
		if err := store.SaveJob(j); err != nil {
			monitoring.Logf("persist job %s: %v", j.ID, err)
		}
	})

	srv = api.NewServer(registry, jobs, agg, store, tuning)
	if *uploadDir != "" {
		srv.SetUploadDir(*uploadDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(srv.ServeMux()),
	}

	go func() {
		monitoring.Logf("listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	// Let in-flight jobs finish so their events are persisted.
	jobs.Shutdown()
}
