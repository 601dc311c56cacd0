// Package main runs the SafeBeacon sync core as a standalone process: a
// durable offline action queue, an in-memory entity store fed by the remote
// change streams, and the coordinator that reconciles the two.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/safebeacon/core/internal/config"
	"github.com/safebeacon/core/internal/logging"
	"github.com/safebeacon/core/internal/models"
	"github.com/safebeacon/core/internal/queue"
	"github.com/safebeacon/core/internal/repository"
	"github.com/safebeacon/core/internal/storage"
	"github.com/safebeacon/core/internal/store"
	"github.com/safebeacon/core/internal/stream"
	syncpkg "github.com/safebeacon/core/internal/sync"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	fmt.Printf("SafeBeacon Core v%s\n", Version)

	cfg := config.Load()
	logging.Init(os.Stdout, cfg.LogLevel)

	db, err := storage.Open(cfg.DataDir)
	if err != nil {
		logging.Error("failed to open action storage", err, logging.Fields{"data_dir": cfg.DataDir})
		os.Exit(1)
	}
	defer db.Close()

	q := queue.New(db, queue.Config{
		MaxRetries: cfg.QueueMaxRetries,
		MaxSize:    cfg.QueueMaxSize,
		Backoff:    queue.Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
	})
	if err := q.Load(); err != nil {
		logging.Error("failed to load action queue", err, nil)
		os.Exit(1)
	}

	entities := store.NewStore()

	source := stream.NewWebSocketSource(cfg.StreamURL)
	streamCfg := stream.Config{
		ReconnectBase:        cfg.ReconnectBase,
		ReconnectMax:         cfg.ReconnectMax,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
	}
	managers := []*stream.Manager{
		stream.NewManager(source, models.CollectionUsers, streamCfg),
		stream.NewManager(source, models.CollectionContacts, streamCfg),
		stream.NewManager(source, models.CollectionCheckIns, streamCfg),
	}

	failures := syncpkg.NewFailureChannel(32)
	transport := syncpkg.NewHTTPTransport(cfg.APIURL)
	coord := syncpkg.NewCoordinator(entities, q, transport, failures, managers...)
	repo := repository.New(entities, q, coord, failures)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord.Start(ctx)
	for _, m := range managers {
		m.StartStreaming(ctx)
	}

	go func() {
		for item := range repo.Failures() {
			logging.Warn("action failed permanently", logging.Fields{
				"action_id": item.Action.ID,
				"kind":      item.Action.Payload.Kind(),
				"error":     item.ErrorMessage,
			})
		}
	}()

	logging.Info("sync core running", logging.Fields{
		"data_dir":   cfg.DataDir,
		"stream_url": cfg.StreamURL,
		"api_url":    cfg.APIURL,
		"queued":     q.Len(),
	})

	<-ctx.Done()

	for _, m := range managers {
		m.StopStreaming()
	}
	coord.Stop()

	logging.Info("sync core stopped", logging.Fields{"queued": q.Len()})
}
