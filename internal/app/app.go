package app

import (
	"context"
	"errors"
	"fmt"
	"gw-settlement/internal/api/middlew"
	"gw-settlement/internal/cache"
	"gw-settlement/internal/kafka"
	"gw-settlement/internal/metrics"
	"gw-settlement/internal/provider"
	"gw-settlement/internal/storage/postgres"
	"gw-settlement/pkg/logger"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gw-settlement/internal/api/handlers"
	"gw-settlement/internal/config"
	"gw-settlement/internal/db"
	"gw-settlement/internal/server"
	"gw-settlement/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type App struct {
	log     *slog.Logger
	server  *server.Server
	pool    *pgxpool.Pool
	redis   *redis.Client
	logFile *os.File
	cfg     *config.Config

	metrics       *metrics.Metrics
	policies      *config.Policies
	kafkaProducer kafka.Producer
	notifier      *service.Notifier
	adapter       provider.Adapter

	authService       service.Auth
	quoteService      service.Quotes
	eligibilitySvc    service.Eligibility
	settlementService service.Settlements
	rebalanceService  *service.RebalanceService
	retryService      *service.RetryService
}

func NewApp() (*App, error) {
	loggerWithFile := logger.NewLoggerWithFile("settlement.log")
	log := loggerWithFile.Logger
	log.Info("инициализация приложения")

	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации конфига: %w", err)
	}
	log.Info("конфигурация загружена", slog.String("port", cfg.HTTPPort))

	log.Info("выполнение миграций базы данных")
	if err := db.RunMigrations(cfg.DB.MigrationURL(), "migrations"); err != nil {
		return nil, fmt.Errorf("ошибка выполнения миграций: %w", err)
	}
	log.Info("миграции успешно применены")

	poolCfg := db.PoolConfig{
		MaxConns:          200,
		MinConns:          10,
		HealthCheckPeriod: 30 * time.Second,
		PoolTimeout:       5 * time.Second,
		RetryAttempts:     5,
		RetryDelay:        1 * time.Second,
	}

	pool, err := db.NewPool(context.Background(), cfg.DB.DSN(), poolCfg, log)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к базе данных: %w", err)
	}
	log.Info("подключение к базе данных установлено")

	redisClient, err := cache.NewRedisClient(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к redis: %w", err)
	}

	var kafkaProducer kafka.Producer
	if cfg.Kafka.Enabled {
		log.Info("инициализация kafka producer", slog.Any("brokers", cfg.Kafka.Brokers))
		kafkaProducer, err = kafka.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации kafka: %w", err)
		}
	} else {
		log.Info("kafka отключен в конфигурации")
		kafkaProducer = kafka.NewNoOpProducer(log)
	}

	var adapter provider.Adapter
	if cfg.Provider.Name == "simulated" {
		adapter = provider.NewSimulatedAdapter(log)
	} else {
		adapter = provider.NewRemoteAdapter(cfg.Provider.Name, cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout, log)
	}
	log.Info("платежный провайдер инициализирован", slog.String("provider", adapter.Name()))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	srv := server.NewServer(cfg.HTTPPort)
	log.Info("сервер инициализирован", slog.String("port", cfg.HTTPPort))
	srv.Router.Use(middleware.RequestID)
	srv.Router.Use(middlew.WithLogger(log))
	srv.Router.Use(middleware.RealIP)
	srv.Router.Use(middleware.Recoverer)
	srv.RegisterSwagger()
	srv.Router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &App{
		log:           log,
		server:        srv,
		pool:          pool,
		redis:         redisClient,
		logFile:       loggerWithFile.LogFile,
		cfg:           cfg,
		metrics:       m,
		policies:      config.DefaultPolicies(),
		kafkaProducer: kafkaProducer,
		notifier:      service.NewNotifier(kafkaProducer, 3, 256, log),
		adapter:       adapter,
	}, nil
}

func (a *App) BuildAuthLayer() {
	txManager := service.NewPgxTxManager(a.pool)
	userRepo := postgres.NewUserRepository(a.pool)
	walletRepo := postgres.NewWalletRepository(a.pool)

	a.authService = service.NewAuthService(
		userRepo,
		walletRepo,
		txManager,
		a.cfg.JWT.Secret,
		a.cfg.JWT.Expiration,
		a.log,
	)

	authHandler := handlers.NewAuthHandler(a.authService)

	a.server.Router.Post("/api/v1/register", authHandler.Register)
	a.server.Router.Post("/api/v1/login", authHandler.Login)

	a.log.Info("слой 'auth' собран и маршруты зарегистрированы")
}

func (a *App) BuildWalletLayer() error {
	if a.authService == nil {
		err := errors.New("authService not initialized, call BuildAuthLayer first")
		a.log.Error(err.Error())
		return err
	}

	walletRepo := postgres.NewWalletRepository(a.pool)
	walletService := service.NewWalletService(walletRepo)
	walletHandler := handlers.NewWalletHandler(walletService)

	a.server.Router.Group(func(r chi.Router) {
		r.Use(middlew.RequireAuth(a.authService))

		r.Get("/api/v1/wallets/{walletID}", walletHandler.GetWalletByID)
		r.Get("/api/v1/balance", walletHandler.GetBalance)
	})

	a.log.Info("слой 'wallet' собран и маршруты зарегистрированы")
	return nil
}

func (a *App) BuildQuoteLayer() error {
	if a.authService == nil {
		err := errors.New("authService not initialized, call BuildAuthLayer first")
		a.log.Error(err.Error())
		return err
	}

	rateRepo := postgres.NewRateRepository(a.pool)
	txRepo := postgres.NewTransactionRepository(a.pool)
	quoteStore := cache.NewQuoteStore(a.redis)

	a.quoteService = service.NewQuoteService(
		rateRepo,
		txRepo,
		quoteStore,
		a.policies,
		5*time.Minute,
		a.log,
	)

	quoteHandler := handlers.NewQuoteHandler(a.quoteService)

	a.server.Router.Group(func(r chi.Router) {
		r.Use(middlew.RequireAuth(a.authService))

		r.Post("/api/v1/quotes", quoteHandler.GenerateQuote)
		r.Post("/api/v1/quotes/personalized", quoteHandler.GeneratePersonalizedQuote)
		r.Post("/api/v1/quotes/lock", quoteHandler.LockRate)
		r.Get("/api/v1/quotes/lock/{lockID}", quoteHandler.VerifyRateLock)
		r.Get("/api/v1/quotes/{quoteID}", quoteHandler.GetQuote)
	})

	a.log.Info("слой 'quotes' собран и маршруты зарегистрированы")
	return nil
}

func (a *App) BuildSettlementLayer() error {
	if a.authService == nil {
		err := errors.New("authService not initialized, call BuildAuthLayer first")
		a.log.Error(err.Error())
		return err
	}

	txManager := service.NewPgxTxManager(a.pool)
	walletRepo := postgres.NewWalletRepository(a.pool)
	poolRepo := postgres.NewPoolRepository(a.pool)
	txRepo := postgres.NewTransactionRepository(a.pool)
	usageRepo := postgres.NewEligibilityRepository(a.pool)
	retryRepo := postgres.NewRetryRepository(a.pool)
	quoteStore := cache.NewQuoteStore(a.redis)

	a.eligibilitySvc = service.NewEligibilityService(poolRepo, usageRepo, a.policies, a.log)

	a.settlementService = service.NewSettlementService(
		txManager,
		walletRepo,
		poolRepo,
		txRepo,
		usageRepo,
		retryRepo,
		a.eligibilitySvc,
		quoteStore,
		a.adapter,
		a.notifier,
		a.metrics,
		a.policies,
		a.cfg.Provider.Timeout,
		a.log,
	)

	settlementHandler := handlers.NewSettlementHandler(a.settlementService, a.eligibilitySvc)
	webhookHandler := handlers.NewWebhookHandler(a.settlementService)

	a.server.Router.Group(func(r chi.Router) {
		r.Use(middlew.RequireAuth(a.authService))

		r.Post("/api/v1/settlements/deposit", settlementHandler.Deposit)
		r.Post("/api/v1/settlements/deposit/instant", settlementHandler.InstantDeposit)
		r.Post("/api/v1/settlements/withdraw", settlementHandler.Withdraw)
		r.Post("/api/v1/settlements/withdraw/instant", settlementHandler.InstantWithdraw)
		r.Get("/api/v1/settlements/eligibility", settlementHandler.CheckEligibility)
		r.Get("/api/v1/settlements/{transactionID}", settlementHandler.GetTransaction)
		r.Post("/api/v1/settlements/{transactionID}/cancel", settlementHandler.CancelTransaction)
		r.Post("/api/v1/settlements/{transactionID}/retry", settlementHandler.RetryTransaction)
	})

	// Вебхуки аутентифицируются подписью, не JWT
	a.server.Router.Group(func(r chi.Router) {
		r.Use(middlew.VerifyWebhookSignature(a.cfg.WebhookSecret))
		r.Post("/api/v1/webhooks/provider", webhookHandler.ProviderWebhook)
	})

	a.log.Info("слой 'settlement' собран и маршруты зарегистрированы")
	return nil
}

func (a *App) BuildPoolLayer() error {
	if a.authService == nil {
		err := errors.New("authService not initialized, call BuildAuthLayer first")
		a.log.Error(err.Error())
		return err
	}

	txManager := service.NewPgxTxManager(a.pool)
	poolRepo := postgres.NewPoolRepository(a.pool)
	rebalanceRepo := postgres.NewRebalanceRepository(a.pool)

	a.rebalanceService = service.NewRebalanceService(
		txManager,
		poolRepo,
		rebalanceRepo,
		a.notifier,
		a.metrics,
		a.policies,
		a.cfg.Jobs.RebalanceScanInterval,
		a.log,
	)

	poolHandler := handlers.NewPoolHandler(a.rebalanceService)

	a.server.Router.Group(func(r chi.Router) {
		r.Use(middlew.RequireAuth(a.authService))

		r.Get("/api/v1/pools", poolHandler.GetPools)
		r.Get("/api/v1/pools/rebalance/recommendations", poolHandler.Recommend)
		r.Post("/api/v1/pools/rebalance", poolHandler.ExecuteRebalance)
		r.Get("/api/v1/pools/{currency}", poolHandler.GetPool)
		r.Get("/api/v1/pools/{currency}/movements", poolHandler.GetMovements)
	})

	a.log.Info("слой 'pools' собран и маршруты зарегистрированы")
	return nil
}

// StartBackgroundJobs запускает планировщик повторов и сканер пулов.
// Вызывается после сборки всех слоев.
func (a *App) StartBackgroundJobs() error {
	if a.settlementService == nil || a.rebalanceService == nil {
		err := errors.New("services not initialized, build all layers first")
		a.log.Error(err.Error())
		return err
	}

	retryRepo := postgres.NewRetryRepository(a.pool)
	a.retryService = service.NewRetryService(retryRepo, a.settlementService, a.cfg.Jobs.RetrySweepInterval, a.log)
	a.retryService.Start()
	a.rebalanceService.Start()

	return nil
}

func (a *App) Run() error {
	a.log.Info("сервер запускается")

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("ошибка запуска сервера: %w", err)
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case sig := <-shutdownChan:
		a.log.Info("получен сигнал завершения", slog.String("signal", sig.String()))
	}

	a.log.Info("приложение останавливается")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.retryService != nil {
		a.retryService.Stop()
	}
	if a.rebalanceService != nil {
		a.rebalanceService.Stop()
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Error("ошибка при остановке http сервера", slog.String("error", err.Error()))
	}

	if a.notifier != nil {
		a.log.Info("остановка notifier")
		if err := a.notifier.Shutdown(ctx); err != nil {
			a.log.Error("ошибка при остановке notifier", slog.String("error", err.Error()))
		}
	}

	if a.kafkaProducer != nil {
		a.log.Info("закрытие kafka producer")
		if err := a.kafkaProducer.Close(); err != nil {
			a.log.Error("ошибка при закрытии kafka producer", slog.String("error", err.Error()))
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("ошибка при закрытии redis", slog.String("error", err.Error()))
		}
	}

	a.log.Info("закрытие соединения с базой данных")
	a.pool.Close()

	a.log.Info("закрытие файла логов")
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			a.log.Error("ошибка при закрытии файла логов", slog.String("error", err.Error()))
		}
	}

	a.log.Info("приложение остановлено")
	return nil
}
