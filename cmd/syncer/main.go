package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/athebyme/gomarket-platform/supplier-service/config"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/adapters/cache"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/adapters/storage"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/api"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/api/handlers"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/metrics"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/supplier"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/utils"
	"github.com/athebyme/gomarket-platform/supplier-service/pkg/interfaces"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	log.Info("Инициализация сервиса",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	connectionStr, err := utils.GenerateConnectionString(
		cfg.Postgres.Host,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
		cfg.Postgres.Port,
		cfg.Postgres.PoolSize,
		cfg.Postgres.Timeout,
	)
	if err != nil {
		log.Fatal("Ошибка генерации строки подключения к PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	store, err := postgres.NewPostgresStorage(ctx, connectionStr)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer store.Close()
	log.Info("Хранилище инициализировано")

	testCtx, testCancel := context.WithTimeout(ctx, 5*time.Second)
	defer testCancel()

	if err := checkPostgresConnection(testCtx, store); err != nil {
		log.Fatal("Ошибка подключения к PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Соединение с PostgreSQL проверено")

	cacheClient, err := cache.NewRedisCache(
		ctx,
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
		cfg.Redis.MinIdleConns,
		cfg.Redis.KeyPrefix,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации кэша",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	messagingClient, err := messaging.NewKafkaMessaging(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		cfg.Kafka.AutoOffsetReset,
		cfg.Kafka.SessionTimeout,
		log,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации системы обмена сообщениями",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer messagingClient.Close()
	log.Info("Система обмена сообщениями инициализирована")

	// Один лимитер на процесс: обращения за токеном и повторы
	// делят общую квоту вызовов API поставщика
	httpClient := &http.Client{Timeout: cfg.Supplier.RequestTimeout}
	limiter := rate.NewLimiter(rate.Every(cfg.Supplier.MinCallInterval), 1)

	tokens := supplier.NewTokenManager(
		cfg.Supplier.TokenURL,
		cfg.Supplier.Username,
		cfg.Supplier.Password,
		cfg.Supplier.TokenExpiryBuffer,
		cfg.Supplier.DefaultTokenTTL,
		limiter,
		httpClient,
		log,
	)
	gateway := supplier.NewGateway(
		cfg.Supplier.BaseURL,
		httpClient,
		limiter,
		tokens,
		cfg.Supplier.MaxAttempts,
		cfg.Supplier.MinCallInterval,
		cfg.Supplier.CacheTTL,
		cfg.Supplier.CacheMaxEntries,
		log,
	)
	supplierClient := supplier.NewClient(gateway)
	log.Info("Шлюз API поставщика инициализирован",
		interfaces.LogField{Key: "min_call_interval", Value: cfg.Supplier.MinCallInterval.String()},
		interfaces.LogField{Key: "max_attempts", Value: cfg.Supplier.MaxAttempts},
	)

	pricingStore := config.NewPricingStore(cfg)
	config.WatchPricing(pricingStore, func(v config.PricingValues) {
		log.Info("Настройки ценообразования обновлены",
			interfaces.LogField{Key: "currency_rate", Value: v.CurrencyRate},
			interfaces.LogField{Key: "markup", Value: v.Markup},
			interfaces.LogField{Key: "change_threshold_pct", Value: v.ChangeThresholdPct},
		)
	})

	inventoryService := services.NewInventorySyncService(
		store,
		cacheClient,
		messagingClient,
		supplierClient,
		cfg.Sync.Inventory.StockFloor,
		cfg.Kafka.SyncEventsTopic,
		log,
	)
	priceService := services.NewPriceSyncService(
		store,
		cacheClient,
		messagingClient,
		supplierClient,
		func() services.PricingSettings {
			v := pricingStore.Current()
			return services.PricingSettings{
				CurrencyRate:       v.CurrencyRate,
				Markup:             v.Markup,
				ChangeThresholdPct: v.ChangeThresholdPct,
			}
		},
		cfg.Kafka.SyncEventsTopic,
		cfg.Kafka.PriceEventsTopic,
		log,
	)
	log.Info("Сервисы синхронизации инициализированы")

	policy := services.SchedulePolicy{
		Inventory: services.InventoryPolicy{
			WeekdayInterval: cfg.Sync.Inventory.WeekdayInterval,
			WeekendInterval: cfg.Sync.Inventory.WeekendInterval,
			WakeStartHour:   cfg.Sync.Inventory.WakeStartHour,
			WakeEndHour:     cfg.Sync.Inventory.WakeEndHour,
		},
		Price: services.PricePolicy{
			FireHour:   cfg.Sync.Price.FireHour,
			FireMinute: cfg.Sync.Price.FireMinute,
		},
	}
	monitor := services.NewHealthMonitor(policy, cfg.Sync.Inventory.Enabled, cfg.Sync.Price.Enabled)
	scheduler := services.NewScheduler(policy, monitor, inventoryService, priceService, services.SchedulerOptions{
		InventoryEnabled:    cfg.Sync.Inventory.Enabled,
		PriceEnabled:        cfg.Sync.Price.Enabled,
		InventoryBatchLimit: cfg.Sync.Inventory.BatchLimit,
		PriceBatchLimit:     cfg.Sync.Price.BatchLimit,
	}, log)

	syncHandler := handlers.NewSyncHandler(
		monitor,
		scheduler,
		store,
		cacheClient,
		supplierClient,
		cfg.Redis.DefaultExpiration,
		log,
	)
	router := api.SetupRouter(syncHandler, log, cfg.Server.APIKey, cfg.Metrics.Enabled, cfg.Metrics.Endpoint)
	log.Info("Маршрутизатор настроен")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	scheduler.Start(ctx)
	log.Info("Планировщик запущен")

	if cfg.Kafka.CommandsEnabled {
		subscribeToSyncCommands(ctx, messagingClient, scheduler, cfg.Kafka.CommandsTopic, log, &wg)
	}

	if cfg.Metrics.Enabled {
		startOverdueRefresher(ctx, monitor, &wg)
	}

	go func() {
		log.Info("Сервер запущен", interfaces.LogField{Key: "address", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Ошибка запуска сервера", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Ошибка при graceful shutdown",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}
		log.Info("HTTP сервер остановлен")

		scheduler.Stop()
		log.Info("Планировщик остановлен")

		cancel()
		wg.Wait()
		close(done)
	}()

	<-done
	log.Info("Сервис корректно завершил работу")
}

// checkPostgresConnection проверяет соединение с PostgreSQL
func checkPostgresConnection(ctx context.Context, store interfaces.StoragePort) error {
	txCtx, err := store.BeginTx(ctx)
	if err != nil {
		return err
	}
	return store.RollbackTx(txCtx)
}

// subscribeToSyncCommands подписывается на команды ручного запуска синхронизации
func subscribeToSyncCommands(ctx context.Context, messagingClient interfaces.MessagingPort,
	scheduler *services.Scheduler, topic string,
	logger interfaces.LoggerPort, wg *sync.WaitGroup) {

	commandHandler := func(ctx context.Context, msg *interfaces.Message) error {
		logger.InfoWithContext(ctx, "Получена команда синхронизации",
			interfaces.LogField{Key: "message_id", Value: msg.ID},
			interfaces.LogField{Key: "topic", Value: msg.Topic},
		)

		var command messaging.SyncCommand
		if err := json.Unmarshal(msg.Value, &command); err != nil {
			logger.ErrorWithContext(ctx, "Ошибка декодирования команды",
				interfaces.LogField{Key: "error", Value: err.Error()})
			return err
		}

		var err error
		switch command.CommandType {
		case messaging.SyncInventoryCommand:
			err = scheduler.TriggerInventory(command.Limit)
		case messaging.SyncPriceCommand:
			err = scheduler.TriggerPrice(command.Limit)
		default:
			logger.WarnWithContext(ctx, "Неизвестный тип команды",
				interfaces.LogField{Key: "command_type", Value: command.CommandType})
			return nil
		}

		if err != nil {
			// Занятое задание не повод перечитывать сообщение
			if errors.Is(err, utils.ErrJobAlreadyRunning) {
				logger.WarnWithContext(ctx, "Команда пропущена, задание ещё выполняется",
					interfaces.LogField{Key: "command_type", Value: command.CommandType})
				return nil
			}
			logger.ErrorWithContext(ctx, "Ошибка обработки команды",
				interfaces.LogField{Key: "command_type", Value: command.CommandType},
				interfaces.LogField{Key: "error", Value: err.Error()})
			return err
		}

		logger.InfoWithContext(ctx, "Команда принята",
			interfaces.LogField{Key: "command_type", Value: command.CommandType})
		return nil
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		unsubscribe, err := messagingClient.Subscribe(ctx, topic, commandHandler)
		if err != nil {
			logger.Error("Ошибка подписки на команды синхронизации",
				interfaces.LogField{Key: "error", Value: err.Error()})
			return
		}
		defer unsubscribe()

		logger.Info("Подписка на команды синхронизации установлена")

		<-ctx.Done()
		logger.Info("Отмена подписки на команды синхронизации")
	}()
}

// startOverdueRefresher периодически переносит флаг просроченности заданий в метрики
func startOverdueRefresher(ctx context.Context, monitor *services.HealthMonitor, wg *sync.WaitGroup) {
	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snapshot := monitor.Health()
				for job, health := range snapshot.Jobs {
					metrics.SetJobOverdue(job, health.Overdue)
				}
			}
		}
	}()
}
