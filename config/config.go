package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config содержит все настройки сервиса
type Config struct {
	AppName  string
	Version  string
	LogLevel string
	ENV      string

	Server struct {
		Host            string
		Port            int
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		APIKey          string // ключ для изменяющих операций ops API; пустой ключ отключает проверку
	}

	Postgres struct {
		Host     string
		Port     int
		User     string
		Password string
		DBName   string
		SSLMode  string
		Timeout  time.Duration
		PoolSize int // размер пула соединений
	}

	Redis struct {
		Host              string
		Port              int
		Password          string
		DB                int
		PoolSize          int           // размер пула соединений
		MinIdleConns      int           // минимальное количество неактивных соединений
		ConnectTimeout    time.Duration // таймаут соединения
		ReadTimeout       time.Duration // таймаут чтения
		WriteTimeout      time.Duration // таймаут записи
		KeyPrefix         string        // префикс всех ключей сервиса
		DefaultExpiration time.Duration // срок действия кэша по умолчанию
	}

	Kafka struct {
		Brokers          []string      `mapstructure:"brokers"`
		GroupID          string        `mapstructure:"group_id"`
		SyncEventsTopic  string        `mapstructure:"sync_events_topic"`
		PriceEventsTopic string        `mapstructure:"price_events_topic"`
		CommandsTopic    string        `mapstructure:"commands_topic"`
		CommandsEnabled  bool          `mapstructure:"commands_enabled"`
		AutoOffsetReset  string        `mapstructure:"auto_offset_reset"`
		SessionTimeout   time.Duration `mapstructure:"session_timeout"`
	}

	// Supplier описывает подключение к API поставщика: учётные данные,
	// троттлинг и кэширование ответов
	Supplier struct {
		BaseURL           string
		TokenURL          string
		Username          string
		Password          string
		RequestTimeout    time.Duration
		MinCallInterval   time.Duration // минимальный интервал между вызовами API
		MaxAttempts       int           // попыток на один вызов с учётом повторов
		CacheTTL          time.Duration // срок жизни кэша ответов
		CacheMaxEntries   int           // ограничение размера кэша ответов
		TokenExpiryBuffer time.Duration // запас до истечения токена, при котором начинаем обновление
		DefaultTokenTTL   time.Duration // срок жизни токена, если поставщик его не сообщил
	}

	Sync struct {
		Inventory struct {
			Enabled         bool
			BatchLimit      int
			WeekdayInterval time.Duration // интервал в будни (низкий трафик)
			WeekendInterval time.Duration // интервал в выходные (высокий трафик)
			WakeStartHour   int           // начало окна запусков, локальный час
			WakeEndHour     int           // конец окна запусков, локальный час
			StockFloor      int           // остаток не выше этого значения сохраняется как 0
		}
		Price struct {
			Enabled    bool
			BatchLimit int
			FireHour   int // локальный час ежесуточного запуска
			FireMinute int
		}
	}

	// Pricing перечитывается на лету при изменении файла конфигурации,
	// чтобы маржу можно было перенастроить без перезапуска
	Pricing struct {
		CurrencyRate       float64
		Markup             float64
		ChangeThresholdPct float64 // порог существенного изменения цены в процентах
	}

	Metrics struct {
		Enabled  bool
		Endpoint string
	}
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	configFile := "config"
	if configPath != "" {
		configFile = configPath
	}

	var cfg Config

	// Настройка Viper
	viper.SetConfigName(configFile)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("../config")
	viper.AddConfigPath("../../config")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Чтение конфигурационного файла
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		// Продолжаем, если файл не найден, будем использовать только переменные окружения
	}

	// Установка значений по умолчанию
	setDefaults()

	// Привязка переменных окружения
	bindEnvVariables()

	// Чтение конфигурации в структуру
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка десериализации конфигурации: %w", err)
	}

	// Получаем окружение
	cfg.ENV = viper.GetString("env")
	if cfg.ENV == "" {
		cfg.ENV = "development"
		if envVar := os.Getenv("APP_ENV"); envVar != "" {
			cfg.ENV = envVar
		}
	}

	return &cfg, nil
}

// setDefaults устанавливает значения по умолчанию
func setDefaults() {
	// Основные настройки
	viper.SetDefault("appName", "supplier-service")
	viper.SetDefault("version", "1.0.0")
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("env", "development")

	// Настройки сервера
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.readTimeout", "10s")
	viper.SetDefault("server.writeTimeout", "10s")
	viper.SetDefault("server.shutdownTimeout", "5s")
	viper.SetDefault("server.apiKey", "")

	// Настройки Postgres
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "postgres")
	viper.SetDefault("postgres.password", "postgres")
	viper.SetDefault("postgres.dbname", "postgres")
	viper.SetDefault("postgres.sslmode", "disable")
	viper.SetDefault("postgres.timeout", "5s")
	viper.SetDefault("postgres.poolSize", 10)

	// Настройки Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolSize", 10)
	viper.SetDefault("redis.minIdleConns", 2)
	viper.SetDefault("redis.connectTimeout", "1s")
	viper.SetDefault("redis.readTimeout", "1s")
	viper.SetDefault("redis.writeTimeout", "1s")
	viper.SetDefault("redis.keyPrefix", "supplier")
	viper.SetDefault("redis.defaultExpiration", "30m")

	// Настройки Kafka
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "supplier-service")
	viper.SetDefault("kafka.sync_events_topic", "supplier.sync.events")
	viper.SetDefault("kafka.price_events_topic", "supplier.price.events")
	viper.SetDefault("kafka.commands_topic", "supplier.sync.commands")
	viper.SetDefault("kafka.commands_enabled", true)
	viper.SetDefault("kafka.auto_offset_reset", "latest")
	viper.SetDefault("kafka.session_timeout", "10s")

	// Настройки API поставщика
	viper.SetDefault("supplier.baseURL", "")
	viper.SetDefault("supplier.tokenURL", "")
	viper.SetDefault("supplier.username", "")
	viper.SetDefault("supplier.password", "")
	viper.SetDefault("supplier.requestTimeout", "30s")
	viper.SetDefault("supplier.minCallInterval", "1500ms")
	viper.SetDefault("supplier.maxAttempts", 3)
	viper.SetDefault("supplier.cacheTTL", "5m")
	viper.SetDefault("supplier.cacheMaxEntries", 100)
	viper.SetDefault("supplier.tokenExpiryBuffer", "10m")
	viper.SetDefault("supplier.defaultTokenTTL", "1h")

	// Настройки заданий синхронизации
	viper.SetDefault("sync.inventory.enabled", true)
	viper.SetDefault("sync.inventory.batchLimit", 50)
	viper.SetDefault("sync.inventory.weekdayInterval", "6h")
	viper.SetDefault("sync.inventory.weekendInterval", "3h")
	viper.SetDefault("sync.inventory.wakeStartHour", 8)
	viper.SetDefault("sync.inventory.wakeEndHour", 20)
	viper.SetDefault("sync.inventory.stockFloor", 20)
	viper.SetDefault("sync.price.enabled", true)
	viper.SetDefault("sync.price.batchLimit", 100)
	viper.SetDefault("sync.price.fireHour", 7)
	viper.SetDefault("sync.price.fireMinute", 30)

	// Настройки ценообразования
	viper.SetDefault("pricing.currencyRate", 1.0)
	viper.SetDefault("pricing.markup", 1.6)
	viper.SetDefault("pricing.changeThresholdPct", 0.5)

	// Настройки метрик
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.endpoint", "/metrics")
}

// bindEnvVariables привязывает переменные окружения к конфигурации
func bindEnvVariables() {
	// Основные настройки
	viper.BindEnv("appName", "APP_NAME")
	viper.BindEnv("version", "APP_VERSION")
	viper.BindEnv("logLevel", "LOG_LEVEL")
	viper.BindEnv("env", "APP_ENV")

	// Настройки сервера
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.readTimeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.writeTimeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.shutdownTimeout", "SERVER_SHUTDOWN_TIMEOUT")
	viper.BindEnv("server.apiKey", "SERVER_API_KEY")

	// Настройки Postgres
	viper.BindEnv("postgres.host", "POSTGRES_HOST")
	viper.BindEnv("postgres.port", "POSTGRES_PORT")
	viper.BindEnv("postgres.user", "POSTGRES_USER")
	viper.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	viper.BindEnv("postgres.dbname", "POSTGRES_DBNAME")
	viper.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
	viper.BindEnv("postgres.timeout", "POSTGRES_TIMEOUT")
	viper.BindEnv("postgres.poolSize", "POSTGRES_POOL_SIZE")

	// Настройки Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.poolSize", "REDIS_POOL_SIZE")
	viper.BindEnv("redis.minIdleConns", "REDIS_MIN_IDLE_CONNS")
	viper.BindEnv("redis.connectTimeout", "REDIS_CONNECT_TIMEOUT")
	viper.BindEnv("redis.readTimeout", "REDIS_READ_TIMEOUT")
	viper.BindEnv("redis.writeTimeout", "REDIS_WRITE_TIMEOUT")
	viper.BindEnv("redis.keyPrefix", "REDIS_KEY_PREFIX")
	viper.BindEnv("redis.defaultExpiration", "REDIS_DEFAULT_EXPIRATION")

	// Настройки Kafka
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	viper.BindEnv("kafka.sync_events_topic", "KAFKA_SYNC_EVENTS_TOPIC")
	viper.BindEnv("kafka.price_events_topic", "KAFKA_PRICE_EVENTS_TOPIC")
	viper.BindEnv("kafka.commands_topic", "KAFKA_COMMANDS_TOPIC")
	viper.BindEnv("kafka.commands_enabled", "KAFKA_COMMANDS_ENABLED")
	viper.BindEnv("kafka.auto_offset_reset", "KAFKA_AUTO_OFFSET_RESET")
	viper.BindEnv("kafka.session_timeout", "KAFKA_SESSION_TIMEOUT")

	// Настройки API поставщика
	viper.BindEnv("supplier.baseURL", "SUPPLIER_BASE_URL")
	viper.BindEnv("supplier.tokenURL", "SUPPLIER_TOKEN_URL")
	viper.BindEnv("supplier.username", "SUPPLIER_USERNAME")
	viper.BindEnv("supplier.password", "SUPPLIER_PASSWORD")
	viper.BindEnv("supplier.requestTimeout", "SUPPLIER_REQUEST_TIMEOUT")
	viper.BindEnv("supplier.minCallInterval", "SUPPLIER_MIN_CALL_INTERVAL")
	viper.BindEnv("supplier.maxAttempts", "SUPPLIER_MAX_ATTEMPTS")
	viper.BindEnv("supplier.cacheTTL", "SUPPLIER_CACHE_TTL")
	viper.BindEnv("supplier.cacheMaxEntries", "SUPPLIER_CACHE_MAX_ENTRIES")
	viper.BindEnv("supplier.tokenExpiryBuffer", "SUPPLIER_TOKEN_EXPIRY_BUFFER")
	viper.BindEnv("supplier.defaultTokenTTL", "SUPPLIER_DEFAULT_TOKEN_TTL")

	// Настройки заданий синхронизации
	viper.BindEnv("sync.inventory.enabled", "SYNC_INVENTORY_ENABLED")
	viper.BindEnv("sync.inventory.batchLimit", "SYNC_INVENTORY_BATCH_LIMIT")
	viper.BindEnv("sync.inventory.weekdayInterval", "SYNC_INVENTORY_WEEKDAY_INTERVAL")
	viper.BindEnv("sync.inventory.weekendInterval", "SYNC_INVENTORY_WEEKEND_INTERVAL")
	viper.BindEnv("sync.inventory.wakeStartHour", "SYNC_INVENTORY_WAKE_START_HOUR")
	viper.BindEnv("sync.inventory.wakeEndHour", "SYNC_INVENTORY_WAKE_END_HOUR")
	viper.BindEnv("sync.inventory.stockFloor", "SYNC_INVENTORY_STOCK_FLOOR")
	viper.BindEnv("sync.price.enabled", "SYNC_PRICE_ENABLED")
	viper.BindEnv("sync.price.batchLimit", "SYNC_PRICE_BATCH_LIMIT")
	viper.BindEnv("sync.price.fireHour", "SYNC_PRICE_FIRE_HOUR")
	viper.BindEnv("sync.price.fireMinute", "SYNC_PRICE_FIRE_MINUTE")

	// Настройки ценообразования
	viper.BindEnv("pricing.currencyRate", "PRICING_CURRENCY_RATE")
	viper.BindEnv("pricing.markup", "PRICING_MARKUP")
	viper.BindEnv("pricing.changeThresholdPct", "PRICING_CHANGE_THRESHOLD_PCT")

	// Настройки метрик
	viper.BindEnv("metrics.enabled", "METRICS_ENABLED")
	viper.BindEnv("metrics.endpoint", "METRICS_ENDPOINT")
}
