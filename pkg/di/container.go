package di

import (
	"context"
	"errors"
	"fmt"

	"nexthire/backend/internal/grpcserver"
	"nexthire/backend/internal/models"
	"nexthire/backend/internal/repository"
	"nexthire/backend/internal/service"
	"nexthire/backend/internal/ws"
	"nexthire/backend/pkg/cache"
	"nexthire/backend/pkg/config"
	"nexthire/backend/pkg/health"
	"nexthire/backend/pkg/jwt"
	"nexthire/backend/pkg/logger"
	"nexthire/backend/pkg/resilience"
	"nexthire/backend/pkg/secrets"
	sharedredis "nexthire/backend/shared/redis"

	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config         *config.Config
	DB             *gorm.DB
	Logger         *logger.Logger
	JWTService     *jwt.Service
	UserService    *service.UserService
	MessageService *service.MessageService
	Hub            *ws.Hub
	WSHandler      *ws.Handler
	Health         *health.Checker
	GRPC           *grpcserver.Server

	// Redis and Breaker are nil when fan-out stays in process
	Redis   *sharedredis.Client
	Breaker *resilience.CircuitBreaker

	summaries *cache.Cache[string, models.UserSummary]
}

// New wires every service of the chat backend on top of an open database
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	jwtSecret := secrets.GetSecretWithDefault(ctx, secrets.KeyJWTSecret, cfg.JWT.Secret)
	if jwtSecret == "" {
		return nil, errors.New("no JWT secret configured")
	}
	jwtService := jwt.NewService(jwtSecret, cfg.JWT.Expiry)

	var summaries *cache.Cache[string, models.UserSummary]
	if cfg.Cache.Enabled {
		summaries = cache.New[string, models.UserSummary](cache.Options{
			TTL:         cfg.Cache.TTL,
			PurgeWindow: cfg.Cache.PurgeWindow,
			MaxSize:     cfg.Cache.MaxSize,
		})
	}
	userService := service.NewUserService(db, jwtService, summaries)

	c := &Container{
		Config:      cfg,
		DB:          db,
		Logger:      log,
		JWTService:  jwtService,
		UserService: userService,
		Health:      health.NewChecker(log, 0),
		summaries:   summaries,
	}

	var hubOpts []ws.HubOption
	if cfg.Redis.Enabled {
		client, err := sharedredis.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			// a single instance is still correct without Redis
			log.LogError(err, "Redis unavailable, fan-out and presence stay in process")
		} else {
			c.Redis = client
			c.Breaker = resilience.NewCircuitBreaker(resilience.DefaultConfig("redis-fanout"), log)
			hubOpts = append(hubOpts,
				ws.WithBroker(ws.NewRedisBroker(client, cfg.Redis.Channel, c.Breaker, log)),
				ws.WithPresence(client),
			)
			c.Health.RegisterRedisCheck(client.Ping)
		}
	}

	c.Hub = ws.NewHub(log, hubOpts...)
	c.MessageService = service.NewMessageService(
		repository.NewGormMessageRepository(db),
		userService,
		c.Hub,
		service.MessageConfig{
			MaxContentLength:  cfg.Chat.MaxContentLength,
			DefaultPageSize:   cfg.Chat.DefaultPageSize,
			MaxPageSize:       cfg.Chat.MaxPageSize,
			AllowSelfMessages: cfg.Chat.AllowSelfMessages,
		},
	)
	c.WSHandler = ws.NewHandler(
		c.Hub,
		ws.NewCoordinator(c.Hub, c.MessageService),
		jwtService,
		userService,
		ws.ClientOptions{
			SendBuffer: cfg.Chat.SendBufferSize,
			EventRate:  cfg.Chat.SocketEventRate,
			EventBurst: cfg.Chat.SocketEventBurst,
		},
		cfg.Security.AllowedOrigins,
	)

	c.Health.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})

	if cfg.Telemetry.GRPCPort != "" {
		c.GRPC = grpcserver.New(log)
	}

	return c, nil
}

// Start runs the background loops until ctx is done
func (c *Container) Start(ctx context.Context) {
	c.Health.Start(ctx)

	go func() {
		if err := c.Hub.Run(ctx); err != nil {
			c.Logger.LogError(err, "Hub broker loop stopped")
		}
	}()

	if c.GRPC != nil {
		c.GRPC.Follow(ctx, c.Health, 0)
		go func() {
			if err := c.GRPC.ListenAndServe(c.Config.Telemetry.GRPCPort); err != nil {
				c.Logger.LogError(err, "gRPC server stopped")
			}
		}()
	}
}

// Close closes every session and releases external connections
func (c *Container) Close() error {
	c.Hub.Shutdown()
	if c.GRPC != nil {
		c.GRPC.Stop()
	}
	if c.summaries != nil {
		c.summaries.Close()
	}

	var errs []error
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
