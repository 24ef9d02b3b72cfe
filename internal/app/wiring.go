package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	apihttp "pricehub/internal/api/http"
	"pricehub/internal/api/http/handlers"
	"pricehub/internal/api/http/mw"
	"pricehub/internal/archive"
	"pricehub/internal/cache"
	"pricehub/internal/config"
	"pricehub/internal/metrics"
	"pricehub/internal/providers"
	"pricehub/internal/pubsub"
	"pricehub/internal/refresher"
	"pricehub/internal/scheduler"
	"pricehub/internal/security"
	"pricehub/internal/service"
	"pricehub/internal/sharedcache"
	"pricehub/internal/stores/redis"
	"pricehub/internal/stream"

	"github.com/grafana/pyroscope-go"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

type Container struct {
	app *App

	// infra
	redis *redis.Client
	ch    *archive.Conn

	// background components
	updater  *refresher.Updater
	queue    *scheduler.Queue
	consumer *stream.Consumer

	cleanupF func()

	// servers
	httpSrv *apihttp.Server

	// metrics
	profiler *pyroscope.Profiler
}

func (c *Container) Start() error {
	c.updater.Start()
	c.queue.Start()

	if err := c.consumer.Connect(); err != nil {
		return fmt.Errorf("stream consumer connect is failed, error=%w", err)
	}

	return c.app.Start()
}

func (c *Container) Stop(ctx context.Context) error {
	if err := c.app.Shutdown(ctx); err != nil {
		return fmt.Errorf("app shutdown is failed, error=%w", err)
	}

	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("stream consumer close is failed, error=%w", err)
	}
	c.queue.Stop()
	c.updater.Stop()

	if c.cleanupF != nil {
		c.cleanupF()
	}
	return nil
}

// Construct image app
func Build(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	lg := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	lg.Info("Successfully initialize logger")

	profiler, err := metrics.InitPProf(cfg.App.InstanceID, &cfg.Metrics.Pyroscope)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize pyroscope: %w", err)
	}
	if profiler != nil {
		lg.Infof("Successfully initialize Pyroscope to %s as %s", cfg.Metrics.Pyroscope.ServerAddr, cfg.Metrics.Pyroscope.AppName)
	}

	// Redis client
	rdb, err := redis.New(ctx, &cfg.Stores.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize redis client: %w", err)
	}
	lg.Infof("Successfully initialize redis client, addr=%s", cfg.Stores.Redis.Addr)

	// Shared cache over Redis
	shared, err := sharedcache.New(lg, rdb, cfg.Cache.SharedTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize shared cache: %w", err)
	}
	lg.Info("Successfully initialize shared cache")

	// Local LRU store + negative cache
	store, err := cache.New(&cfg.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize price store: %w", err)
	}
	lg.Infof("Successfully initialize price store, max_entries=%d", cfg.Cache.MaxEntries)

	// In-process tick fan-out
	fanout := pubsub.NewFanout()

	// Token price providers
	dex := providers.NewDexScreener(&cfg.Providers.DexScreener)
	jup := providers.NewJupiter(&cfg.Providers.Jupiter)

	// ClickHouse archive (optional)
	var (
		ch       *archive.Conn
		chWriter *archive.Writer
		archiver service.Archiver
	)
	if cfg.Stores.ClickHouse.Enabled {
		ch, err = archive.New(ctx, &cfg.Stores.ClickHouse)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize clickhouse client: %w", err)
		}
		url := strings.Split(cfg.Stores.ClickHouse.DSN, "?")
		lg.Infof("Successfully initialize clickhouse client, url=%s", url[0])

		chWriter, err = archive.NewWriter(lg, &cfg.Stores.ClickHouse, ch)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize clickhouse writer: %w", err)
		}
		archiver = chWriter
		lg.Info("Successfully initialize clickhouse writer")
	}

	// Service Layer
	svc, err := service.New(
		lg,
		&cfg.Cache,
		&cfg.Providers.Breaker,
		cfg.Quote.Mint,
		store,
		shared,
		fanout,
		[]providers.TokenProvider{dex, jup},
		jup,
		archiver,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize price service: %w", err)
	}
	lg.Info("Successfully initialize price service")

	// Quote-rate updater
	updater, err := refresher.New(lg, &cfg.Quote, []providers.RateProvider{
		providers.NewCoinGecko(&cfg.Providers.CoinGecko),
		providers.NewBinance(&cfg.Providers.Binance),
	}, svc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize quote-rate updater: %w", err)
	}
	lg.Info("Successfully initialize quote-rate updater")

	// Swap-triggered refresh queue
	queue, err := scheduler.New(lg, &cfg.Refresh, svc.RefreshKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize refresh queue: %w", err)
	}
	lg.Info("Successfully initialize refresh queue")

	// Swap-event stream consumer
	consumer, err := stream.New(lg, &cfg.Stream, svc, updater, queue, cfg.Quote.StableMints)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize stream consumer: %w", err)
	}
	lg.Infof("Successfully initialize stream consumer, url=%s subject=%s", cfg.Stream.URL, cfg.Stream.Subject)

	svc.Bind(updater, consumer, queue.Backlog)

	var verifier *security.RS256Verifier
	if cfg.Security.JWT.Enabled {
		if verifier, err = security.NewRS256Verifier(&cfg.Security.JWT); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize jwt verifier: %w", err)
		}
		lg.Info("Successfully initialize JWT-Verifier")
	}

	// HTTP Server
	h := handlers.New(lg, svc)
	var jwtMW *mw.JWTMiddleware
	if verifier != nil {
		jwtMW = mw.NewJWT(verifier)
	}
	rateLimitMW := mw.NewRateLimit(rdb.Client, mw.RateLimitConfig{
		ByJWT: mw.RateBucket{
			RefillPerSec: cfg.RateLimit.ByJWT.RefillPerSec,
			Burst:        cfg.RateLimit.ByJWT.Burst,
		},
		ByIP: mw.RateBucket{
			RefillPerSec: cfg.RateLimit.ByIP.RefillPerSec,
			Burst:        cfg.RateLimit.ByIP.Burst,
		},
		Verifier: verifier,
	})
	var corsMW *mw.CORSMiddleware
	if cfg.API.HTTP.CORS.Enabled {
		corsMW = mw.NewCORS(&cfg.API.HTTP.CORS)
	}
	router := apihttp.BuildRouter(h, mw.NewLogging(lg), mw.NewGzip(0, lg), rateLimitMW, jwtMW, corsMW)
	httpSrv := apihttp.NewServer(lg, &cfg.API.HTTP, router)
	lg.Info("Successfully initialize HTTP server")

	c := &Container{
		app:      NewApp(lg, httpSrv),
		redis:    rdb,
		ch:       ch,
		updater:  updater,
		queue:    queue,
		consumer: consumer,
		httpSrv:  httpSrv,
		profiler: profiler,
	}

	cleanupF := func() {
		ctxClean, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if c.profiler != nil {
			if err = c.profiler.Stop(); err != nil {
				lg.Errorf("Failed to stop profiler: %v", err)
			}
		}

		if chWriter != nil {
			if err = chWriter.Close(ctxClean); err != nil {
				lg.Errorf("Failed to close by cleanupF clickhouse writer: %v", err)
			}
		}
		if ch != nil {
			if err = ch.Close(); err != nil {
				lg.Errorf("Failed to close by cleanupF clickhouse client: %v", err)
			}
		}

		if err = rdb.Close(); err != nil {
			lg.Errorf("Failed to close by cleanupF redis client: %v", err)
		}

		lg.Info("Successfully cleaned up dependency")
	}

	lg.Info("Successfully initialize Wiring")
	return c, cleanupF, nil
}
