package main

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/cache"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/cart"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/clock"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/config"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/events"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/identity"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/inventory"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/llm"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/menu"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/ratelimit"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/store/mongostore"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/store/relstore"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/userdata"
)

// App is the composition root: every concrete adapter this repo owns,
// wired together behind the component constructors. cmd/core's only job is
// to build one of these and keep it alive.
type App struct {
	Config *config.Config

	redis           *goredis.Client
	mongo           *mongostore.Store
	rel             *relstore.Store
	eventsPublisher *events.Publisher

	Inventory  *inventory.Engine
	Menu       *menu.Cache
	Cart       *cart.Service
	Identity   *identity.Service
	UserData   *userdata.Manager
	Scheduler  *llm.Scheduler
	Classifier *llm.Classifier
}

// New connects every storage and transport adapter and wires the
// component graph. provider and prober are supplied by the embedding
// deployment (see unconfiguredProvider for the no-op placeholder this
// binary falls back to when none is given).
func New(ctx context.Context, cfg *config.Config, provider llm.Provider, prober ratelimit.Prober) (*App, error) {
	redisOpts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("wire: parse REDIS_URL: %w", err)
	}
	redisClient := goredis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("wire: ping redis: %w", err)
	}

	mongoStore, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("wire: connect mongo: %w", err)
	}

	relStore, err := relstore.Connect(cfg.MySQLDSN, cfg.IsProduction())
	if err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("wire: connect mysql: %w", err)
	}
	if err := relStore.AutoMigrate(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("wire: automigrate: %w", err)
	}

	eventsPublisher, err := events.Connect(cfg.RabbitMQURL)
	if err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("wire: connect rabbitmq: %w", err)
	}

	clk := clock.Real{}

	invStore := inventory.NewRedisStore(redisClient, "inventory:")
	invEngine := inventory.NewEngine(invStore, eventsPublisher)

	menuRefresh := time.Duration(cfg.MenuRefreshSeconds) * time.Second
	menuMirror := cache.NewRedisMenuMirror(redisClient, 2*menuRefresh)

	menuCache := menu.NewCache(mongoStore)
	menuCache.SetRefreshInterval(menuRefresh)
	menuCache.OnRefresh(func(ctx context.Context, items []domain.MenuItem) {
		menuMirror.Mirror(ctx, items)
		if categories, err := mongoStore.LoadCategories(ctx); err != nil {
			log.Warn().Err(err).Msg("menu_mirror_category_load_failed")
		} else {
			menuMirror.MirrorCategories(ctx, categories)
		}
		if !cfg.InventoryCacheEnabled {
			return
		}
		stock, err := mongoStore.LoadStock(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("inventory_stock_load_failed")
			return
		}
		if err := invEngine.SyncFromCanonical(ctx, stock); err != nil {
			log.Warn().Err(err).Msg("inventory_sync_failed")
		}
	})
	if err := menuCache.StartBackgroundRefresh(ctx); err != nil {
		return nil, fmt.Errorf("wire: initial menu load: %w", err)
	}

	cartStore := cache.NewRedisCartStore(redisClient)
	cartService := cart.NewService(cartStore, invEngine, menuCache, eventsPublisher)
	cartService.SetTTL(time.Duration(cfg.CartTTLSeconds) * time.Second)

	identityService := identity.NewService(relStore, relStore, eventsPublisher, cfg.SecretKey)
	identityService.SetLifetimes(
		time.Duration(cfg.SessionTokenTTLDays)*24*time.Hour,
		time.Duration(cfg.SessionRenewalThresholdDays)*24*time.Hour,
	)

	userDataManager := userdata.NewManager(mongoStore, relStore, cartStore, invEngine, invEngine)
	userDataManager.SetWindows(
		time.Duration(cfg.AbandonedCartWindowHours)*time.Hour,
		time.Duration(cfg.AbandonedBookingWindowDays)*24*time.Hour,
	)

	accountSpecs := cfg.Accounts
	var fallback *ratelimit.AccountSpec
	if cfg.FallbackAPIKey != "" {
		fallback = &ratelimit.AccountSpec{
			AccountID:       0,
			APIKey:          cfg.FallbackAPIKey,
			PrimaryRPM:      500,
			PrimaryTPM:      200000,
			MiniRPM:         1000,
			MiniTPM:         400000,
			BufferPercent:   80,
			CooldownSeconds: cfg.LLMCooldownSeconds,
		}
	}
	pool, _, err := ratelimit.Warmup(ctx, accountSpecs, fallback, prober, clk)
	if err != nil {
		return nil, fmt.Errorf("wire: warm up account pool: %w", err)
	}

	scheduler := llm.NewScheduler(pool, provider, clk, llm.SchedulerConfig{
		FindAccountTimeout: time.Duration(cfg.LLMRetryTimeoutSeconds) * time.Second,
		PollInterval:       time.Duration(cfg.LLMRetryPollSeconds) * time.Second,
	})

	classifierCache, err := cache.NewClassifierCache(cfg.MemcacheAddr)
	var classifier *llm.Classifier
	if err != nil {
		log.Warn().Err(err).Msg("classifier_cache_unavailable_running_without")
		classifier = llm.NewClassifier(scheduler)
	} else {
		llm.SetCacheKeyFunc(cache.Key)
		classifier = llm.NewClassifier(scheduler).WithCache(classifierCache)
	}

	return &App{
		Config:          cfg,
		redis:           redisClient,
		mongo:           mongoStore,
		rel:             relStore,
		eventsPublisher: eventsPublisher,
		Inventory:       invEngine,
		Menu:            menuCache,
		Cart:            cartService,
		Identity:        identityService,
		UserData:        userDataManager,
		Scheduler:       scheduler,
		Classifier:      classifier,
	}, nil
}

// Close tears every connection down in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	a.Menu.Stop()
	if err := a.eventsPublisher.Close(); err != nil {
		logCloseErr("rabbitmq", err)
	}
	if err := a.rel.Close(); err != nil {
		logCloseErr("mysql", err)
	}
	if err := a.mongo.Close(ctx); err != nil {
		logCloseErr("mongo", err)
	}
	if err := a.redis.Close(); err != nil {
		logCloseErr("redis", err)
	}
}
