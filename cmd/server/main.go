package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"carelink/internal/cache"
	"carelink/internal/config"
	"carelink/internal/repository"
	"carelink/internal/service"
	"carelink/internal/transport/rest"
	"carelink/internal/transport/ws"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load failed")
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Fatal().Err(err).Msg("mongodb connect failed")
	}
	defer mongoClient.Disconnect(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		logger.Fatal().Err(err).Msg("mongodb ping failed")
	}
	logger.Info().Str("db", cfg.MongoDB).Msg("connected to mongodb")

	db := mongoClient.Database(cfg.MongoDB)

	// Redis connection
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.Fatal().Err(err).Msg("redis ping failed")
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	// Repositories
	userRepo := repository.NewUserRepo(db)
	convRepo := repository.NewConversationRepo(db)
	msgRepo := repository.NewMessageRepo(db)
	meetingRepo := repository.NewMeetingRepo(db)

	// Caches
	presenceCache := cache.NewPresenceCache(rdb)
	unreadCache := cache.NewUnreadCache(rdb)
	codeCache := cache.NewRoomCodeCache(rdb)

	// WebSocket hub
	wsHub := ws.NewHub(presenceCache, logger)

	// Services
	authSvc := service.NewAuthService(userRepo, cfg.JWTSecret)
	chatSvc := service.NewChatService(convRepo, msgRepo, unreadCache, logger)
	meetingSvc := service.NewMeetingService(meetingRepo, userRepo, codeCache, authSvc, cfg.MediaWsURL, logger)
	mediaSvc, err := service.NewMediaService(cfg.MediaDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("media dir unavailable")
	}

	// Inject broadcaster (wsHub implements service.Broadcaster)
	chatSvc.SetBroadcaster(wsHub)
	meetingSvc.SetBroadcaster(wsHub)

	router := rest.NewRouter(&rest.Container{
		Config:         cfg,
		AuthService:    authSvc,
		ChatService:    chatSvc,
		MeetingService: meetingSvc,
		MediaService:   mediaSvc,
		WSHub:          wsHub,
		Log:            logger,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("forced shutdown")
	}
	logger.Info().Msg("server exited")
}
