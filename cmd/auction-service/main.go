package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gavel-auction-service/internal/adapters/broadcaster"
	"gavel-auction-service/internal/adapters/db"
	"gavel-auction-service/internal/adapters/lock"
	"gavel-auction-service/internal/adapters/queue"
	"gavel-auction-service/internal/adapters/redis"
	"gavel-auction-service/internal/adapters/scheduler"
	"gavel-auction-service/internal/adapters/ws"
	"gavel-auction-service/internal/app"
	"gavel-auction-service/internal/config"
)

func main() {

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	initLogging(cfg)

	log.Info().Msg("Starting Gavel Auction Service...")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection
	dbConn, err := db.NewConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbConn.Close()

	log.Info().Msg("Database connection established")

	repoFactory := db.NewRepositoryFactory(dbConn)
	auctionRepo := repoFactory.GetAuctionRepository()
	bidRepo := repoFactory.GetBidRepository()
	userRepo := repoFactory.GetUserRepository()
	store := repoFactory.GetStore()

	log.Info().Msg("Database repositories initialized")

	redisClient := redis.NewClient(cfg)
	if err := redis.PingRedis(redisClient); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	log.Info().Msg("Redis connection established")

	redisBroadcaster := broadcaster.NewBroadcaster(broadcaster.RedisBroadcasterParams{
		RedisClient: redisClient,
		Logger:      log.Logger,
	})

	auctionLocker := lock.NewRedisLocker(lock.RedisLockerParams{
		RedisClient: redisClient,
		Config:      cfg.Lock,
		Logger:      log.Logger,
	})

	notificationQueue := queue.NewRedisQueue(queue.RedisQueueParams{
		RedisClient: redisClient,
		Logger:      log.Logger,
	})

	propagator := app.NewOutbidPropagator(app.OutbidPropagatorParams{
		Store:       store,
		Broadcaster: redisBroadcaster,
		Queue:       notificationQueue,
		Logger:      log.Logger,
	})

	auctionService := app.NewAuctionService(app.AuctionServiceParams{
		AuctionRepo: auctionRepo,
		UserRepo:    userRepo,
		Store:       store,
		Locker:      auctionLocker,
		Broadcaster: redisBroadcaster,
		Logger:      log.Logger,
	})

	auctionScheduler := scheduler.NewAuctionScheduler(
		scheduler.AuctionSchedulerParams{
			RedisClient:    redisClient,
			AuctionService: auctionService,
			Broadcaster:    redisBroadcaster,
			Logger:         log.Logger,
		},
	)
	auctionService.SetScheduler(auctionScheduler)

	biddingService := app.NewBidService(app.BidServiceParams{
		Store:       store,
		BidRepo:     bidRepo,
		UserRepo:    userRepo,
		Locker:      auctionLocker,
		Broadcaster: redisBroadcaster,
		Scheduler:   auctionScheduler,
		Propagator:  propagator,
		Config:      cfg.Bidding,
		Logger:      log.Logger,
	})

	log.Info().Msg("Business services initialized")

	auctionScheduler.Start()
	log.Info().Msg("Auction scheduler started")

	wsServer := ws.NewServer(ws.ServerParams{
		Config:         cfg,
		AuctionService: auctionService,
		BiddingService: biddingService,
		Broadcaster:    redisBroadcaster,
		Logger:         log.Logger,
	})

	log.Info().Msg("WebSocket server initialized")

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting WebSocket server")
		if err := wsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start WebSocket server")
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	// Graceful shutdown
	log.Info().Msg("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	auctionScheduler.Stop()
	log.Info().Msg("Auction scheduler stopped")

	// Let in-flight outbid propagation finish before the process exits
	propagator.Stop()
	log.Info().Msg("Outbid propagator drained")

	if err := wsServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping WebSocket server")
	}

	log.Info().Msg("Graceful shutdown completed")
}

func initLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		// Console format for development
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.DefaultContextLogger = &log.Logger
}
