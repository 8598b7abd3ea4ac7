// Package app assembles the application from configuration.
package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/juju/clock"

	"github.com/bxtxh/seiji-watch-sub000/internal/config"
	"github.com/bxtxh/seiji-watch-sub000/internal/infrastructure/connector"
	"github.com/bxtxh/seiji-watch-sub000/internal/infrastructure/delivery"
	"github.com/bxtxh/seiji-watch-sub000/internal/infrastructure/normalize"
	"github.com/bxtxh/seiji-watch-sub000/internal/infrastructure/storage"
	"github.com/bxtxh/seiji-watch-sub000/internal/infrastructure/upstream"
	"github.com/bxtxh/seiji-watch-sub000/internal/infrastructure/webhook"
	"github.com/bxtxh/seiji-watch-sub000/internal/logging"
	"github.com/bxtxh/seiji-watch-sub000/internal/token"
	"github.com/bxtxh/seiji-watch-sub000/internal/usecase"
)

// App holds the wired components.
type App struct {
	Config Config
	Logger *slog.Logger
	Store  *storage.Store

	Router        *usecase.Router
	Detector      *usecase.Detector
	Aggregator    *usecase.Aggregator
	Dispatcher    *usecase.Dispatcher
	Subscriptions *usecase.SubscriptionManager
	Webhook       *webhook.Handler
}

// Config aliases the loaded configuration for callers of New.
type Config = config.Config

// New wires every component from configuration.
func New(cfg Config) (*App, error) {
	logger := logging.New(cfg.Logging.Level)
	clk := clock.WallClock

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cutover, err := cfg.Ingest.Cutover()
	if err != nil {
		store.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	minutesPair := usecase.SourcePair{
		Connector: connector.New(
			upstream.NewMinutesClient(cfg.Sources.Minutes.BaseURL, cfg.Sources.Minutes.PageSize, httpClient),
			cfg.Sources.Minutes.Connector, clk,
			logging.Component(logger, "connector.minutes")),
		Normalizer: normalize.NewMinutesNormalizer(store, cfg.Members, cfg.Labels, clk,
			logging.Component(logger, "normalize.minutes")),
	}
	transcriptPair := usecase.SourcePair{
		Connector: connector.New(
			upstream.NewTranscriptClient(cfg.Sources.Transcript.BaseURL, cfg.Sources.Transcript.PageSize, httpClient),
			cfg.Sources.Transcript.Connector, clk,
			logging.Component(logger, "connector.transcript")),
		Normalizer: normalize.NewTranscriptNormalizer(store, cfg.Members, cfg.Labels, clk,
			logging.Component(logger, "normalize.transcript")),
	}

	router := usecase.NewRouter(usecase.RouterDeps{
		Minutes:     minutesPair,
		Transcript:  transcriptPair,
		Canonical:   store,
		Checkpoints: store,
		Cutover:     cutover,
		Logger:      logging.Component(logger, "ingest"),
	})

	detector := usecase.NewDetector(usecase.DetectorDeps{
		Canonical: store,
		Snapshots: store,
		Events:    store,
		Clock:     clk,
		Logger:    logging.Component(logger, "detect"),
	})

	aggregator := usecase.NewAggregator(usecase.AggregatorDeps{
		Events:        store,
		Subscriptions: store,
		Batches:       store,
		Window:        cfg.Digest.Window,
		Logger:        logging.Component(logger, "digest"),
	})

	signer := token.NewSigner(cfg.Tokens.SigningKey, cfg.Tokens.TTL, clk, store)

	dispatcher := usecase.NewDispatcher(usecase.DispatcherDeps{
		Batches:           store,
		Events:            store,
		Delivery:          delivery.NewClient(cfg.Delivery.Endpoint, cfg.Delivery.APIKey),
		Signer:            signer,
		MessagesPerMinute: cfg.Delivery.MessagesPerMinute,
		Burst:             cfg.Delivery.Burst,
		BaseURL:           cfg.Tokens.BaseURL,
		Clock:             clk,
		Logger:            logging.Component(logger, "dispatch"),
	})

	subscriptions := usecase.NewSubscriptionManager(usecase.SubscriptionManagerDeps{
		Subscriptions: store,
		Signer:        signer,
		Clock:         clk,
		Logger:        logging.Component(logger, "subscriptions"),
	})

	return &App{
		Config:        cfg,
		Logger:        logger,
		Store:         store,
		Router:        router,
		Detector:      detector,
		Aggregator:    aggregator,
		Dispatcher:    dispatcher,
		Subscriptions: subscriptions,
		Webhook:       webhook.NewHandler(subscriptions, logging.Component(logger, "webhook")),
	}, nil
}

// Close releases held resources.
func (a *App) Close() error {
	return a.Store.Close()
}
