package http

import (
	"context"
	"fmt"
	"log"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chirpfeed/internal/cache"
	"chirpfeed/internal/config"
	"chirpfeed/internal/database"
	"chirpfeed/internal/fanout"
	"chirpfeed/internal/handler"
	"chirpfeed/internal/queue"
	appredis "chirpfeed/internal/redis"
	"chirpfeed/internal/repository"
	"chirpfeed/internal/service"
)

const shutdownTimeout = 15 * time.Second

// Run wires the whole application together and blocks until SIGINT or
// SIGTERM, then drains the HTTP server and the fan-out workers.
func Run() error {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Connect to Postgres
	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// 3. Connect to Redis
	redisClient, err := appredis.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}

	// 4. Repositories
	userRepo := repository.NewUserRepository(db)
	followRepo := repository.NewFollowRepository(db)
	postRepo := repository.NewPostRepository(db)
	timelineRepo := repository.NewTimelineRepository(db)
	refreshTokenRepo := repository.NewRefreshTokenRepository(db)

	// 5. Caches and queue
	timelineCache := cache.NewTimelineCache(redisClient.Client)
	publisher := queue.NewPublisher(redisClient.Client)
	consumer := queue.NewConsumer(redisClient.Client)

	// 6. Fan-out workers
	fanoutHandler := fanout.NewHandler(timelineRepo, followRepo, postRepo, timelineCache, fanout.Config{
		BatchSize:     cfg.FanoutBatchSize,
		Concurrency:   cfg.FanoutConcurrency,
		MaxAttempts:   cfg.FanoutMaxAttempts,
		PullThreshold: cfg.FanoutPullThreshold,
		IncludeSelf:   cfg.FanoutIncludeSelf,
	})
	manager := fanout.NewManager(consumer, fanoutHandler, fanout.ManagerConfig{
		WorkerCount: cfg.WorkerCount,
	})
	if err := manager.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start fan-out workers: %w", err)
	}
	defer manager.Stop()

	// 7. Services
	userService := service.NewUserService(userRepo)
	authService := service.NewAuthService(refreshTokenRepo, cfg)
	followService := service.NewFollowService(followRepo, userRepo, publisher, cfg.StrictCursors)
	postService := service.NewPostService(postRepo, publisher, cfg.StrictCursors)
	timelineService := service.NewTimelineService(
		timelineRepo, postRepo, followRepo, timelineCache,
		cfg.FanoutPullThreshold, cfg.StrictCursors,
	)

	// 8. Handlers and router
	router := NewRouter(RouterConfig{
		AuthHandler:         handler.NewAuthHandler(userService, authService),
		FollowHandler:       handler.NewFollowHandler(followService),
		PostHandler:         handler.NewPostHandler(postService),
		TimelineHandler:     handler.NewTimelineHandler(timelineService),
		FollowingLookup:     followRepo,
		MaxFollowingSetSize: cfg.MaxFollowingSetSize,
		JWTSecret:           cfg.JWTSecret,
	})

	server := &stdhttp.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] Listening on :%s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		log.Printf("[Server] Received %v, shutting down...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Printf("[Server] Shutdown complete")
	return nil
}
