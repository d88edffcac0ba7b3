package main

import (
	"context"
	"log"
	"time"

	"github.com/benbjohnson/clock"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"estados/config"
	"estados/internal/events"
	"estados/internal/handler"
	"estados/internal/middleware"
	"estados/internal/redis"
	"estados/internal/repository"
	"estados/internal/server"
	"estados/internal/services"
	"estados/internal/storage"
	"estados/internal/viewer"
	"estados/internal/websocket"
	"estados/pkg/database"
	"estados/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	mode := logger.DevelopmentMode
	if cfg.AppMode == server.ReleaseMode {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis carries the change feed across nodes and backs rate limiting.
	// Without it a single node runs on the in-process feed, unlimited.
	var (
		bus         events.Bus
		redisClient *goredis.Client
	)
	rc := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redis.Ping(ctx, rc); err != nil {
		l.Warn("redis unavailable, using in-process change feed", zap.Error(err))
		_ = rc.Close()
		bus = events.NewLocalFeed()
	} else {
		redisClient = rc
		defer redisClient.Close()
		bus = events.NewRedisFeed(redisClient, l)
	}

	notifier := events.NewNotifier(bus, l)
	statuses := repository.NewStatusRepository(db, notifier)
	views := repository.NewViewRepository(db, notifier)
	reactions := repository.NewReactionRepository(db, notifier)
	profiles := repository.NewProfileRepository(db)
	if redisClient != nil {
		profiles = repository.NewCachedProfileRepository(profiles, redis.NewCacheStore(redisClient, redis.DefaultCacheConfig()), l)
	}

	clk := clock.New()
	sessions := services.NewSessionManager(views, reactions, profiles, bus, services.SessionConfig{
		View: services.ViewCacheConfig{
			TTL:        cfg.Core.ViewCacheTTL,
			FlushDelay: cfg.Core.ViewFlushDelay,
		},
		Reaction: services.ReactionCacheConfig{
			TTL:        cfg.Core.ReactionCacheTTL,
			LockWindow: cfg.Core.ReactionLockWindow,
		},
		Viewer: viewer.Config{
			Tick:     cfg.Core.ViewerTick,
			AutoPlay: cfg.Core.ViewerAutoplay,
		},
		IdleTTL: cfg.Core.SessionIdleTTL,
	}, clk, l)
	sessions.Start()
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		sessions.Stop(stopCtx)
	}()

	statusService := services.NewStatusService(statuses, profiles, sessions, cfg.Core.StatusLifetime, clk, l)
	authService := services.NewAuthService(cfg.JWTSecret)

	var objects services.ObjectStore
	if cfg.S3Enabled() {
		s3Client, err := storage.NewClient(ctx, storage.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PublicBase: cfg.S3PublicBase,
			PresignTTL: cfg.S3PresignTTL,
		})
		if err != nil {
			l.Warn("s3 disabled", zap.Error(err))
		} else {
			objects = s3Client
		}
	}
	uploadService := services.NewUploadService(objects, l)

	var limiter middleware.Limiter
	if redisClient != nil {
		limiter = redis.NewRateLimiter(redisClient, redis.RateLimitConfig{
			CreateLimit:    cfg.RateLimitCreate,
			CreateWindow:   cfg.RateLimitCreateWindow,
			ReactionLimit:  cfg.RateLimitReactions,
			ReactionWindow: cfg.RateLimitReactionWindow,
		})
	}

	hub := websocket.NewHub()
	bridge := websocket.NewBridge(bus, hub, l)
	go func() {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			l.Error("websocket bridge stopped", zap.Error(err))
		}
	}()

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Estado:    handler.NewEstadoHandler(statusService),
		Viewer:    handler.NewViewerHandler(statusService),
		Upload:    handler.NewUploadHandler(uploadService),
		Session:   handler.NewSessionHandler(sessions),
		WebSocket: websocket.NewHandler(hub, statusService, l),
	}, server.Deps{
		Auth:    authService,
		Limiter: limiter,
		Health: func(ctx context.Context) error {
			return database.HealthCheck(ctx, db)
		},
	})

	if err := srv.Start(); err != nil {
		l.Error("server stopped with error", zap.Error(err))
	}
}
