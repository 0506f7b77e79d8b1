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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"qrattend/internal/analytics"
	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/handler"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
	"qrattend/internal/store"
	"qrattend/internal/worker"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()
	m := metrics.New()

	var (
		st attendance.Store
		db *store.DB
	)
	switch cfg.StoreBackend {
	case "memory":
		log.Println("using in-memory store; data is lost on exit")
		st = attendance.NewMemoryStore()
	default:
		var err error
		db, err = store.NewDB(ctx, cfg.DatabaseURL)
		if db != nil {
			defer db.Close()
		}
		if err != nil {
			return fmt.Errorf("connect db: %w", err)
		}
		if cfg.AutoMigrate {
			if err := store.Migrate(ctx, db.Client); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		st = attendance.NewRepository(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	cache := analytics.NewCache(redisClient.Client, cfg.AnalyticsCacheTTL)
	opts := analytics.Options{
		DefaulterThreshold: cfg.DefaulterThreshold,
		HeatmapDays:        cfg.HeatmapDays,
		MaxRangeDays:       cfg.AnalyticsMaxRangeDays,
	}
	agg := analytics.NewAggregator(st, opts, cache)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// No separate worker can see this queue, so drain it here.
		mem := queue.NewInMemory(64)
		events, _ := mem.Consume(workerCtx)
		go worker.New(func(ctx context.Context, owner string) error {
			return agg.Warm(ctx, owner, time.Now())
		}, time.Second).Run(workerCtx, events)
		q = mem
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	h := handler.New(handler.Deps{
		Store:           st,
		Issuer:          attendance.NewIssuer(st, attendance.SystemClock{}, cfg.MaxValidity, cfg.DBRetryAttempts),
		Engine:          attendance.NewEngine(st, cfg.DBRetryAttempts, m.OnRedeemRetry),
		Enroller:        attendance.NewEnroller(st, cfg.DBRetryAttempts),
		Analytics:       agg,
		Cache:           cache,
		Queue:           q,
		Metrics:         m,
		DefaultValidity: cfg.DefaultValidity,
		JWTSigningKey:   cfg.JWTSigningKey,
		JWTIssuer:       cfg.JWTIssuer,
		Limiter:         httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		Health: func(ctx context.Context) map[string]bool {
			res := map[string]bool{"redis": redisClient.Healthy(ctx)}
			if db != nil {
				res["db"] = db.Healthy(ctx)
			}
			return res
		},
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
