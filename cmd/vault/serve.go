package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/wyfcoding/optionvault/internal/vault/application"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
	"github.com/wyfcoding/optionvault/internal/vault/infrastructure/adapter"
	"github.com/wyfcoding/optionvault/internal/vault/infrastructure/messaging"
	"github.com/wyfcoding/optionvault/internal/vault/infrastructure/persistence/memory"
	"github.com/wyfcoding/optionvault/internal/vault/infrastructure/persistence/mysql"
	vaultgrpc "github.com/wyfcoding/optionvault/internal/vault/interfaces/grpc"
	vaulthttp "github.com/wyfcoding/optionvault/internal/vault/interfaces/http"
	"github.com/wyfcoding/optionvault/internal/vault/interfaces/job"
	"github.com/wyfcoding/optionvault/pkg/cache"
	"github.com/wyfcoding/optionvault/pkg/config"
	"github.com/wyfcoding/optionvault/pkg/db"
	"github.com/wyfcoding/optionvault/pkg/logger"
	"github.com/wyfcoding/optionvault/pkg/metrics"
	"github.com/wyfcoding/optionvault/pkg/middleware"
	"github.com/wyfcoding/optionvault/pkg/mq"
	"github.com/wyfcoding/optionvault/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vault HTTP, gRPC and metrics servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log, err := logger.Init(logger.Config{
			Level:      cfg.Logger.Level,
			Format:     cfg.Logger.Format,
			Output:     cfg.Logger.Output,
			FilePath:   cfg.Logger.FilePath,
			MaxSize:    cfg.Logger.MaxSize,
			MaxBackups: cfg.Logger.MaxBackups,
			MaxAge:     cfg.Logger.MaxAge,
			Compress:   cfg.Logger.Compress,
			WithCaller: cfg.Logger.WithCaller,
		})
		if err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		log = log.With("service", cfg.ServiceName, "version", cfg.Version, "env", cfg.Environment)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			a.close()
			return err
		}
		defer a.close()
		return a.run(ctx)
	},
}

// app 进程内所有组件
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.VaultMetrics
	registry  *prometheus.Registry
	svc       *application.VaultService
	relay     *messaging.OutboxRelay
	redis     *cache.RedisCache
	httpSrv   *http.Server
	grpcSrv   *vaultgrpc.Server
	scheduler *job.Scheduler
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log, metrics: metrics.New(), registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := a.metrics.Register(a.registry); err != nil {
		return a, fmt.Errorf("failed to register metrics: %w", err)
	}

	if cfg.Redis.Enabled {
		rc, err := cache.New(ctx, cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, log)
		if err != nil {
			return a, err
		}
		a.redis = rc
		a.closers = append(a.closers, rc.Close)
	}

	repo, outbox, err := a.openRepository(ctx)
	if err != nil {
		return a, err
	}

	vault, err := a.buildVault()
	if err != nil {
		return a, err
	}

	var publisher domain.EventPublisher
	if cfg.Kafka.Enabled {
		producer := mq.NewProducer(mq.KafkaConfig{Brokers: cfg.Kafka.Brokers}, log)
		a.closers = append(a.closers, producer.Close)
		if outbox != nil {
			a.relay = messaging.NewOutboxRelay(outbox, producer, cfg.Kafka.Topic, cfg.Vault.Asset, log,
				messaging.WithDeadLetter(mq.NewDeadLetterQueue(producer, cfg.Kafka.DLQTopic), 5),
				messaging.WithRecorder(a.metrics),
			)
		} else {
			publisher = messaging.NewKafkaEventPublisher(producer, cfg.Kafka.Topic, cfg.Vault.Asset)
		}
	}

	a.svc, err = application.NewVaultService(ctx, vault, repo, publisher, a.metrics, log)
	if err != nil {
		return a, err
	}

	a.httpSrv = &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      a.router(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	interceptors := []grpc.UnaryServerInterceptor{
		middleware.GRPCRecovery(log),
		middleware.GRPCLogging(log),
		middleware.GRPCMetrics(a.metrics),
	}
	if cfg.RateLimit.Enabled {
		interceptors = append(interceptors, middleware.GRPCRateLimit(a.limiter(), ratelimit.PerSecond(cfg.RateLimit.Rate, cfg.RateLimit.Burst)))
	}
	a.grpcSrv = vaultgrpc.NewServer(func(ctx context.Context) error {
		_, err := a.svc.GetUSDPrice(ctx)
		return err
	}, log, interceptors...)

	if cfg.Scheduler.Enabled {
		if err := a.schedule(ctx); err != nil {
			return a, err
		}
	}
	return a, nil
}

// openRepository 按驱动选择仓储；使用数据库时同时返回 outbox 存储
func (a *app) openRepository(ctx context.Context) (domain.VaultRepository, messaging.OutboxStore, error) {
	dbCfg := a.cfg.Database
	if dbCfg.Driver == "memory" {
		a.logger.WarnContext(ctx, "using in-memory vault repository, state is lost on restart")
		return memory.NewRepository(), nil, nil
	}
	database, err := db.Init(ctx, db.Config{
		Driver:             dbCfg.Driver,
		DSN:                dbCfg.DSN,
		MaxOpenConns:       dbCfg.MaxOpenConns,
		MaxIdleConns:       dbCfg.MaxIdleConns,
		ConnMaxLifetime:    dbCfg.ConnMaxLifetime,
		LogEnabled:         dbCfg.LogEnabled,
		SlowQueryThreshold: dbCfg.SlowQueryThreshold,
	}, a.logger)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, database.Close)

	repo := mysql.NewRepository(database)
	if dbCfg.AutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return repo, repo, nil
}

// buildVault 组装储备资产、质押池、报价与定价适配器。
// 创世余额只在仓储尚无余额快照时生效，之后由 NewVaultService 恢复的快照覆盖。
func (a *app) buildVault() (*domain.Vault, error) {
	vc := a.cfg.Vault
	account := common.HexToAddress(vc.Account)

	token := adapter.NewReserveToken(vc.Asset, vc.AssetDecimals)
	for _, g := range vc.Genesis {
		holder := common.HexToAddress(g.Address)
		amount, err := decimal.NewFromString(g.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid genesis amount for %s: %w", g.Address, err)
		}
		if err := token.Mint(holder, amount); err != nil {
			return nil, err
		}
		if g.Allowance != "" {
			allowance, err := decimal.NewFromString(g.Allowance)
			if err != nil {
				return nil, fmt.Errorf("invalid genesis allowance for %s: %w", g.Address, err)
			}
			if err := token.Approve(context.Background(), holder, account, allowance); err != nil {
				return nil, err
			}
		}
	}
	pool := adapter.NewStakingPool(token, common.HexToAddress(vc.StakingAccount))

	price, err := decimal.NewFromString(a.cfg.Oracle.StaticPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid oracle.static_price: %w", err)
	}
	aggregator := adapter.NewOracleAggregator(time.Duration(a.cfg.Oracle.MaxAge)*time.Second, nil)
	aggregator.UpdateOracleForAsset(vc.Asset, adapter.NewStaticFeed(price, nil))
	var oracle domain.PriceOracle = aggregator
	if a.redis != nil && a.cfg.Oracle.CacheTTL > 0 {
		oracle = adapter.NewCachedOracle(aggregator, a.redis, time.Duration(a.cfg.Oracle.CacheTTL)*time.Second, a.logger)
	}

	var pricing domain.OptionPricing
	switch a.cfg.Pricing.Model {
	case "black_scholes":
		pricing, err = adapter.NewBlackScholesPricing(oracle, vc.Asset, a.cfg.Pricing.Volatility, a.cfg.Pricing.RiskFreeRate, nil)
		if err != nil {
			return nil, err
		}
	default:
		fixed, err := decimal.NewFromString(a.cfg.Pricing.FixedPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid pricing.fixed_price: %w", err)
		}
		pricing = adapter.NewFixedPricing(fixed)
	}

	return domain.NewVault(domain.Config{
		Owner:         common.HexToAddress(vc.Owner),
		Account:       account,
		Asset:         vc.Asset,
		AssetDecimals: vc.AssetDecimals,
		Clock:         time.Now,
	}, nil, token, pool, oracle, pricing)
}

func (a *app) limiter() ratelimit.RateLimiter {
	if a.redis != nil {
		return ratelimit.NewRedisRateLimiter(a.redis.Client())
	}
	return ratelimit.NewTokenBucketLimiter(time.Now)
}

func (a *app) router() *gin.Engine {
	if a.cfg.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		middleware.GinRecovery(a.logger),
		middleware.GinLogging(a.logger),
		middleware.GinCORS(a.cfg.HTTP.AllowOrigins),
		middleware.GinMetrics(a.metrics),
	)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api/v1")
	if a.cfg.RateLimit.Enabled {
		limit := ratelimit.PerSecond(a.cfg.RateLimit.Rate, a.cfg.RateLimit.Burst)
		api.Use(middleware.GinRateLimit(a.limiter(), limit, middleware.ClientIPKey, a.logger))
	}
	vaulthttp.NewVaultHandler(a.svc, a.logger).RegisterRoutes(api)
	return r
}

type scheduledJob struct {
	name string
	spec string
	ttl  time.Duration
	fn   func(context.Context) error
}

func (a *app) schedule(ctx context.Context) error {
	sc := a.cfg.Scheduler
	var locker job.Locker
	if a.redis != nil {
		locker = a.redis
	}
	a.scheduler = job.NewScheduler(ctx, locker, a.logger)

	entries := []scheduledJob{
		{"expiry_watch", sc.ExpiryWatch, 30 * time.Second, job.ExpiryWatchJob(a.svc, time.Now, a.logger)},
		{"health_probe", "*/15 * * * * *", 10 * time.Second, job.ProbeJob(a.grpcSrv.Refresh)},
	}
	if sc.KeeperAddress != "" {
		entries = append(entries, scheduledJob{"compound", sc.CompoundSpec, time.Minute, job.CompoundJob(a.svc, common.HexToAddress(sc.KeeperAddress))})
	}
	if a.relay != nil {
		entries = append(entries,
			scheduledJob{"outbox_relay", sc.OutboxSpec, time.Minute, job.OutboxRelayJob(a.relay, sc.OutboxBatch)},
			scheduledJob{"outbox_cleanup", sc.CleanupSpec, 5 * time.Minute, job.OutboxCleanupJob(a.relay, time.Duration(sc.OutboxRetain)*time.Hour)},
		)
	}
	for _, e := range entries {
		if _, err := a.scheduler.Add(e.name, e.spec, e.ttl, e.fn); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", e.name, err)
		}
	}
	return nil
}

func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server starting", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", a.cfg.GRPC.Addr())
		if err != nil {
			return err
		}
		a.logger.Info("gRPC server starting", "addr", a.cfg.GRPC.Addr())
		return a.grpcSrv.Serve(lis)
	})

	var metricsSrv *http.Server
	if a.cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(fmt.Sprintf(":%d", a.cfg.Metrics.Port), a.cfg.Metrics.Path, a.registry)
		g.Go(func() error {
			a.logger.Info("metrics server starting", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if a.scheduler != nil {
		a.scheduler.Start()
	}

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		if a.scheduler != nil {
			a.scheduler.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.grpcSrv.GracefulStop()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return a.httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close resource", "error", err)
		}
	}
}
