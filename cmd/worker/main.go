package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qrattend/internal/analytics"
	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/queue"
	"qrattend/internal/store"
	"qrattend/internal/worker"
)

// Worker consumes write events and re-warms the affected owners' analytics
// cache so the next dashboard load is served from Redis.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend == "memory" || cfg.StoreBackend == "memory" {
		log.Fatalf("worker needs the redis queue and postgres store; in-memory backends are warmed inside the api")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	agg := analytics.NewAggregator(
		attendance.NewRepository(db.Client),
		analytics.Options{
			DefaulterThreshold: cfg.DefaulterThreshold,
			HeatmapDays:        cfg.HeatmapDays,
			MaxRangeDays:       cfg.AnalyticsMaxRangeDays,
		},
		analytics.NewCache(redisClient.Client, cfg.AnalyticsCacheTTL),
	)

	events, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for events...")
	worker.New(func(ctx context.Context, owner string) error {
		return agg.Warm(ctx, owner, time.Now())
	}, time.Second).Run(ctx, events)
	log.Println("worker stopped")
}
