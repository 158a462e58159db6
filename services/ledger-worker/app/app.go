package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/assets"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/cache"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/chain"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/database"
	kafkautils "github.com/nimeshabuddhika/custodial-ledger/pkg/kafka"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/ledger"
	middleware "github.com/nimeshabuddhika/custodial-ledger/pkg/middlewares"
	"github.com/nimeshabuddhika/custodial-ledger/services/ledger-worker/configs"
	"github.com/nimeshabuddhika/custodial-ledger/services/ledger-worker/internal/handlers"
	"github.com/nimeshabuddhika/custodial-ledger/services/ledger-worker/internal/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout    = 10 * time.Second
	breakerOpenTimeout = 30 * time.Second
	tickLockPrefix     = "ledger:tick:"
	rpcLimitPrefix     = "ledger:rpc:"
)

// App owns every long-running component of the ledger worker.
type App struct {
	logger    *zap.Logger
	cfg       *configs.Config
	server    *http.Server
	publisher *kafkautils.EventPublisher
	consumer  services.WithdrawalConsumer
	scheduler *services.SchedulerConfig
	closers   []func() // released in reverse order after the components stop
	checks    []handlers.ReadinessCheck

	// runCtx stops the consumer; it is cancelled by the parent or by a failed component.
	runCtx context.Context
	cancel context.CancelFunc
}

// NewApp wires dependencies from configuration. Nothing is consumed or polled until Run.
func NewApp(ctx context.Context, logger *zap.Logger) (*App, error) {
	cfg, err := configs.Load(logger)
	if err != nil {
		return nil, err
	}
	a := &App{logger: logger, cfg: cfg}
	a.runCtx, a.cancel = context.WithCancel(ctx)
	if err := a.wire(ctx); err != nil {
		a.cancel()
		a.release()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	// Redis is optional: without it ticks and RPC limits are enforced per replica only.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		client, closeRedis, err := cache.New(ctx, logger, cache.Config{Addr: cfg.RedisAddr})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, closeRedis)
		a.checks = append(a.checks, handlers.ReadinessCheck{Name: "redis", Probe: cache.Ping(client)})
		redisClient = client
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	logger.Info("asset_registry_built", zap.Strings("symbols", registry.Symbols()))

	if err := kafkautils.InitKafkaTopics(logger, ctx, kafkautils.KafkaConfig{
		BootstrapServers: cfg.KafkaBrokers,
		Topics: []kafkautils.TopicConfig{{
			Topic:             cfg.KafkaWithdrawalTopic,
			NumPartitions:     cfg.KafkaPartition,
			ReplicationFactor: cfg.KafkaReplicationFactor,
		}},
	}); err != nil {
		return err
	}

	a.publisher, err = kafkautils.NewEventPublisher(kafkautils.EventPublisherConfig{
		Logger:            logger,
		Brokers:           cfg.KafkaBrokers,
		Partitions:        cfg.KafkaPartition,
		ReplicationFactor: cfg.KafkaReplicationFactor,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.publisher.Start())
	if err := a.publisher.Declare(ctx, pkg.OutboundQueues...); err != nil {
		return err
	}

	intake := services.NewWithdrawalIntake(services.WithdrawalIntakeConfig{
		Logger:   logger,
		Store:    store,
		Registry: registry,
		Policy:   pkg.BalancePolicy(cfg.NegativeBalancePolicy),
	})
	a.consumer, err = services.NewKafkaWithdrawalConsumer(services.KafkaWithdrawalConfig{
		Context: a.runCtx,
		Logger:  logger,
		Config:  cfg,
		Intake:  intake,
	})
	if err != nil {
		return err
	}

	pollers, err := a.buildPollers(ctx, store, redisClient)
	if err != nil {
		return err
	}
	jobs := make([]services.Job, 0, len(pollers))
	for _, p := range pollers {
		jobs = append(jobs, services.Job{
			Name:     "deposit_poller_" + strings.ToLower(p.Coin()),
			Interval: cfg.DepositPollInterval,
			Run:      p.Tick,
		})
	}
	schedulerCfg := services.SchedulerConfig{Logger: logger, Jobs: jobs}
	if redisClient != nil {
		schedulerCfg.Lock = cache.NewTickLock(redisClient, tickLockPrefix, cfg.DepositPollInterval)
	}
	a.scheduler, err = services.NewScheduler(schedulerCfg)
	if err != nil {
		return err
	}

	recorder := services.NewDepositRecorder(services.DepositRecorderConfig{
		Logger:    logger,
		Store:     store,
		Registry:  registry,
		Publisher: a.publisher,
	})
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           newRouter(logger, store, recorder, a.checks),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (ledger.Store, error) {
	cfg, logger := a.cfg, a.logger
	if cfg.StoreDriver == configs.StoreDriverMemory {
		logger.Warn("using_in_memory_ledger_store")
		return ledger.NewMemoryStore(), nil
	}

	// Run migrations on primary
	if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	dbConfig := database.Config{
		PrimaryDSN: cfg.PrimaryDbAddr,
		MaxConns:   cfg.MaxDbCons,
		MinConns:   cfg.MinDbCons,
	}
	if cfg.ReadDbAddr != "" {
		dbConfig.ReadDSNs = []string{cfg.ReadDbAddr}
	}
	db, disconnect, err := database.New(ctx, logger, dbConfig)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, disconnect)
	a.checks = append(a.checks, handlers.ReadinessCheck{Name: "postgres", Probe: db.Ping})
	return ledger.NewPostgresStore(db, logger), nil
}

// buildRegistry registers every supported asset. Plugins only validate addresses, so they do
// not depend on a node being configured.
func buildRegistry(cfg *configs.Config) (*assets.Registry, error) {
	params, err := assets.BitcoinParams(cfg.BtcNetwork)
	if err != nil {
		return nil, err
	}
	plugins := []assets.Plugin{
		assets.NewBitcoinPlugin("BTC", params),
		assets.NewEtherPlugin("ETH"),
	}
	tokens, err := cfg.Tokens()
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		plugin, err := assets.NewERC20Plugin(t.Symbol, t.Contract, t.Decimals)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, plugin)
	}
	return assets.NewRegistry(plugins...)
}

// buildPollers creates one poller per coin whose node is configured. Every node call goes
// through a Guard sharing one limiter per node.
func (a *App) buildPollers(ctx context.Context, store ledger.Store, redisClient *redis.Client) ([]services.DepositPoller, error) {
	cfg, logger := a.cfg, a.logger
	guard := func(name string, client chain.ConfirmationClient, limiter chain.Limiter) chain.ConfirmationClient {
		return chain.NewGuard(chain.GuardConfig{
			Name:        name,
			Client:      client,
			Timeout:     cfg.RpcTimeout,
			MaxRetries:  cfg.RpcMaxRetries,
			OpenTimeout: breakerOpenTimeout,
			Limiter:     limiter,
			Logger:      logger,
		})
	}
	newPoller := func(coin string, client chain.ConfirmationClient, threshold int64) (services.DepositPoller, error) {
		return services.NewDepositPoller(services.DepositPollerConfig{
			Logger:     logger,
			Store:      store,
			Client:     client,
			Publisher:  a.publisher,
			CoinSymbol: coin,
			Threshold:  threshold,
		})
	}

	var pollers []services.DepositPoller
	if cfg.BitcoinEnabled() {
		btc, closeBtc, err := chain.NewBitcoinClient(chain.BitcoinConfig{
			Host:       cfg.BtcRpcHost,
			User:       cfg.BtcRpcUser,
			Pass:       cfg.BtcRpcPass,
			DisableTLS: !cfg.BtcRpcTLS,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeBtc)
		limiter := pkg.NewDistributedLimiter(redisClient, rpcLimitPrefix+string(assets.ChainBitcoin), cfg.RpcRateLimitPerSec, 0, time.Second, logger)
		p, err := newPoller("BTC", guard("bitcoin", btc, limiter), cfg.BtcConfThreshold)
		if err != nil {
			return nil, err
		}
		pollers = append(pollers, p)
	}

	if cfg.EthereumEnabled() {
		eth, closeEth, err := chain.DialEthereum(ctx, chain.EthereumConfig{URL: cfg.EthRpcUrl, Timeout: cfg.RpcTimeout, Logger: logger})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeEth)
		limiter := pkg.NewDistributedLimiter(redisClient, rpcLimitPrefix+string(assets.ChainEthereum), cfg.RpcRateLimitPerSec, 0, time.Second, logger)
		p, err := newPoller("ETH", guard("ethereum", chain.NewEtherClient(eth, logger), limiter), cfg.EthConfThreshold)
		if err != nil {
			return nil, err
		}
		pollers = append(pollers, p)

		tokens, err := cfg.Tokens()
		if err != nil {
			return nil, err
		}
		for _, t := range tokens {
			client := guard("ethereum_"+strings.ToLower(t.Symbol), chain.NewTokenClient(eth, t.Contract, logger), limiter)
			p, err := newPoller(t.Symbol, client, cfg.Erc20ConfThreshold)
			if err != nil {
				return nil, err
			}
			pollers = append(pollers, p)
		}
	}

	if len(pollers) == 0 {
		logger.Warn("no_chain_node_configured_deposits_will_not_confirm")
	}
	return pollers, nil
}

func newRouter(logger *zap.Logger, store ledger.Store, recorder services.DepositRecorder, checks []handlers.ReadinessCheck) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api/v1")
	api.Use(middleware.TraceID())
	api.Use(middleware.AccessLog(logger))
	api.Use(middleware.Metrics())

	handlers.NewLedgerHandler(logger, store, recorder).RegisterRoutes(api)
	handlers.NewBaseHandler(logger, checks...).RegisterRoutes(r)
	return r
}

// Run starts every component and blocks until the context given to NewApp is cancelled or the
// HTTP server fails.
// On return, consumers and pollers have drained and every connection is closed.
func (a *App) Run() error {
	closeConsumer := a.consumer.Start()
	stopScheduler := a.scheduler.Start()

	g, gctx := errgroup.WithContext(a.runCtx)
	g.Go(func() error {
		a.logger.Info("ledger_worker_http_started", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("ledger_worker_shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http_shutdown_failed", zap.Error(err))
		}
		return nil
	})
	err := g.Wait()
	if err != nil {
		a.logger.Error("ledger_worker_stopping_on_error", zap.Error(err))
	}
	a.cancel()

	stopScheduler()
	closeConsumer()
	a.release()
	return err
}

func (a *App) release() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
