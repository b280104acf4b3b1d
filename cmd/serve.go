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

	"content-service/aggregator"
	"content-service/api"
	"content-service/cache"
	"content-service/config"
	"content-service/fetcher"
	"content-service/metrics"
	"content-service/ratelimit"
	"content-service/service"
	"content-service/worker"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the cache refresher",
		RunE:  runServe,
	}
}

func newAggregator(cfg *config.Config) *aggregator.Aggregator {
	client := fetcher.NewClient(cfg.HTTPTimeout)
	return aggregator.New(
		fetcher.NewMemeProvider(client, cfg.ImgurAPIURL, cfg.ImgurClientID),
		fetcher.NewCryptoProvider(client, cfg.CryptoFeedURL),
		fetcher.NewGamingProvider(client, cfg.GamingFeedURL),
	)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Version == "dev" {
		cfg.Version = version
	}
	metrics.Init(api.ServiceName, cfg.Version, cfg.Environment)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Cache backend: Mongo when configured so instances share entries.
	var store cache.Store = cache.NewMemoryStore()
	var ready api.ReadyCheck
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		defer mongoClient.Disconnect(context.Background())

		mongoStore := cache.NewMongoStore(mongoClient.Database(cfg.MongoDatabase))
		if err := mongoStore.EnsureIndexes(context.Background()); err != nil {
			log.Printf("[WARN] Failed to create cache indexes: %v", err)
		}
		store = mongoStore
		ready = func(ctx context.Context) error {
			return mongoClient.Ping(ctx, nil)
		}
		log.Printf("[INFO] Using MongoDB cache in database %s", cfg.MongoDatabase)
	}

	svc := service.New(newAggregator(cfg), cache.New(store), ratelimit.New())

	var bus worker.Bus
	if cfg.NATSUrl != "" {
		nc, err := nats.Connect(cfg.NATSUrl,
			nats.Name(api.ServiceName),
			nats.ReconnectWait(2*time.Second),
			nats.MaxReconnects(-1),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Printf("Reconnected to NATS at %s", nc.ConnectedUrl())
			}),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Printf("NATS connection lost: %v", err)
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Close()
		bus = nc
		log.Printf("[INFO] Connected to NATS at %s", nc.ConnectedUrl())
	}

	refresher := worker.NewWorker(svc, bus, cfg.RefreshInterval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := refresher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Setup(api.NewHandler(svc, refresher, ready)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Content service starting on %s", cfg.Address())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		refresher.Stop()
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Println("Shutting down content service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Drain HTTP first so no refresh trigger arrives while the worker stops.
	err := srv.Shutdown(shutdownCtx)
	refresher.Stop()
	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Content service stopped")
	return nil
}
