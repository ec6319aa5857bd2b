package bootstrap

import (
	"context"
	"log"
	"time"

	"wordware-roast-be/internal/config"
	"wordware-roast-be/internal/controller"
	"wordware-roast-be/internal/pkg/logger"
	"wordware-roast-be/internal/repository/contract"
	"wordware-roast-be/internal/repository/memory"
	"wordware-roast-be/internal/repository/redislock"
	"wordware-roast-be/internal/repository/unitofwork"
	"wordware-roast-be/internal/service"
	pktNats "wordware-roast-be/pkg/nats"
	"wordware-roast-be/pkg/wordware"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	WordwareController controller.IWordwareController

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService

	Logger logger.ILogger

	closers []func()
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	c := &Container{}

	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	streamLogger := logger.NewIsolatedLogger(cfg.App.StreamLogFilePath)
	c.Logger = sysLogger
	c.closers = append(c.closers, func() { _ = streamLogger.Sync(); _ = sysLogger.Sync() })

	// 2. Event Bus
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermill.NewStdLogger(false, false),
	)
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	// NATS forwarding is optional; without NATS_URL events are only logged.
	var forwarder service.EventForwarder
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			forwarder = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
	}

	// 3. Run lock
	runLock := newRunLock(cfg, c)

	// 4. Services
	publisherService := service.NewPublisherService(cfg.App.EventsTopic, pubSub)
	c.ConsumerService = service.NewConsumerService(pubSub, cfg.App.EventsTopic, forwarder, sysLogger)

	wordwareService := service.NewWordwareService(
		uowFactory,
		wordware.NewClient(cfg.Wordware.BaseURL, cfg.Wordware.APIKey),
		runLock,
		publisherService,
		sysLogger,
		streamLogger,
		cfg.Wordware.RoastPromptID,
		cfg.Wordware.FullPromptID,
		service.WordwareOptions{
			StreamTimeout:     cfg.Wordware.StreamTimeout,
			DedupGraceWindow:  cfg.Wordware.DedupGraceWindow,
			FallbackThreshold: cfg.Wordware.FallbackThreshold,
			WriteTimeout:      cfg.Wordware.WriteTimeout,
			LockTTL:           cfg.Lock.TTL,
		},
	)

	// 5. Controllers
	c.WordwareController = controller.NewWordwareController(wordwareService, sysLogger)

	return c
}

func newRunLock(cfg *config.Config, c *Container) contract.RunLock {
	switch cfg.Lock.Driver {
	case "memory":
		log.Printf("[INFO] Using run lock: MEMORY")
		return memory.NewRunLock()
	case "redis":
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		rdb := redis.NewClient(opt)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
		}
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		log.Printf("[INFO] Using run lock: REDIS")
		return redislock.NewRunLock(rdb)
	default:
		return memory.NoopRunLock{}
	}
}

// Close releases background connections in reverse creation order.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
