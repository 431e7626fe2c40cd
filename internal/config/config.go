package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит конфигурацию приложения
type Config struct {
	Environment string
	Server      ServerConfig
	Simulation  SimulationConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	MySQL       MySQLConfig
	Batch       BatchConfig
	Performance PerformanceConfig
	Monitoring  MonitoringConfig
	Tracing     TracingConfig
	Auth        AuthConfig
	Import      ImportConfig
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
}

// SimulationConfig параметры движка симуляции
type SimulationConfig struct {
	TickInterval      time.Duration
	Speed             float64 // Единицы провайдера геометрии в секунду (метры для haversine)
	Geometry          string  // haversine | planar
	DistanceCacheSize int     // 0 отключает кеш расстояний
	SeedDefaultRoute  bool
	AutoStart         bool
}

// RedisConfig конфигурация Redis. Пустой URL отключает хранилище состояния.
type RedisConfig struct {
	URL          string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	SnapshotTTL  time.Duration
}

// MQTTConfig конфигурация MQTT. Пустой URL отключает шину телеметрии.
type MQTTConfig struct {
	URL            string
	ClientID       string
	Username       string
	Password       string
	CleanSession   bool
	TelemetryTopic string
	CommandTopic   string
	QoS            int
}

// MySQLConfig конфигурация MySQL. Пустой DSN отключает историю прогонов.
type MySQLConfig struct {
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
	Retention    time.Duration // Возраст прогонов для очистки, 0 отключает очистку
}

// BatchConfig конфигурация пакетной записи телеметрии
type BatchConfig struct {
	Size          int
	FlushInterval time.Duration
	QueueSize     int
	MaxRetries    int
}

// PerformanceConfig конфигурация производительности
type PerformanceConfig struct {
	SubscriberBuffer      int
	WebSocketPingInterval time.Duration
	WebSocketPongTimeout  time.Duration
	RateLimitRPS          float64
	RateLimitBurst        int
}

// MonitoringConfig конфигурация мониторинга
type MonitoringConfig struct {
	MetricsEnabled bool
}

// TracingConfig конфигурация трассировки OpenTelemetry
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string
	SampleRatio float64
}

// ImportConfig очистка импортируемых маршрутов. Расстояния в единицах геометрии, 0 отключает фильтр.
type ImportConfig struct {
	DedupDistance    float64
	OutlierThreshold float64
}

// AuthConfig токены операторов. Пустые Tokens и Endpoint отключают проверку.
type AuthConfig struct {
	Tokens   string // name:token[:role],...
	Endpoint string // Внешний сервис проверки Bearer токенов
	CacheTTL time.Duration
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Address:         getEnv("SERVER_ADDRESS", ":8090"),
			ReadTimeout:     getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxUploadBytes:  int64(getInt("SERVER_MAX_UPLOAD_BYTES", 4<<20)),
		},
		Simulation: SimulationConfig{
			TickInterval:      getDuration("SIM_TICK_INTERVAL", 1000*time.Millisecond),
			Speed:             getFloat("SIM_SPEED", 10),
			Geometry:          strings.ToLower(getEnv("SIM_GEOMETRY", "haversine")),
			DistanceCacheSize: getInt("SIM_DISTANCE_CACHE_SIZE", 1024),
			SeedDefaultRoute:  getBool("SIM_SEED_DEFAULT_ROUTE", true),
			AutoStart:         getBool("SIM_AUTO_START", false),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getInt("REDIS_DB", 0),
			PoolSize:     getInt("REDIS_POOL_SIZE", 20),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			SnapshotTTL:  getDuration("REDIS_SNAPSHOT_TTL", 24*time.Hour),
		},
		MQTT: MQTTConfig{
			URL:            getEnv("MQTT_URL", ""),
			ClientID:       getEnv("MQTT_CLIENT_ID", "drone-sim"),
			Username:       getEnv("MQTT_USERNAME", ""),
			Password:       getEnv("MQTT_PASSWORD", ""),
			CleanSession:   getBool("MQTT_CLEAN_SESSION", true),
			TelemetryTopic: getEnv("MQTT_TELEMETRY_TOPIC", "drone/sim/telemetry"),
			CommandTopic:   getEnv("MQTT_COMMAND_TOPIC", "drone/sim/cmd"),
			QoS:            getInt("MQTT_QOS", 0),
		},
		MySQL: MySQLConfig{
			DSN:          getEnv("MYSQL_DSN", ""),
			MaxIdleConns: getInt("MYSQL_MAX_IDLE_CONNS", 5),
			MaxOpenConns: getInt("MYSQL_MAX_OPEN_CONNS", 20),
			Retention:    getDuration("MYSQL_RUN_RETENTION", 30*24*time.Hour),
		},
		Batch: BatchConfig{
			Size:          getInt("BATCH_SIZE", 100),
			FlushInterval: getDuration("BATCH_FLUSH_INTERVAL", 5*time.Second),
			QueueSize:     getInt("BATCH_QUEUE_SIZE", 10000),
			MaxRetries:    getInt("BATCH_MAX_RETRIES", 3),
		},
		Performance: PerformanceConfig{
			SubscriberBuffer:      getInt("SUBSCRIBER_BUFFER", 64),
			WebSocketPingInterval: getDuration("WEBSOCKET_PING_INTERVAL", 30*time.Second),
			WebSocketPongTimeout:  getDuration("WEBSOCKET_PONG_TIMEOUT", 60*time.Second),
			RateLimitRPS:          getFloat("RATE_LIMIT_RPS", 100),
			RateLimitBurst:        getInt("RATE_LIMIT_BURST", 200),
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: getBool("METRICS_ENABLED", true),
		},
		Tracing: TracingConfig{
			Enabled:     getBool("TRACING_ENABLED", false),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "drone-sim"),
			Exporter:    strings.ToLower(getEnv("TRACING_EXPORTER", "stdout")),
			Endpoint:    getEnv("TRACING_OTLP_ENDPOINT", ""),
			SampleRatio: getFloat("TRACING_SAMPLE_RATIO", 1.0),
		},
		Auth: AuthConfig{
			Tokens:   getEnv("AUTH_TOKENS", ""),
			Endpoint: getEnv("AUTH_ENDPOINT", ""),
			CacheTTL: getDuration("AUTH_CACHE_TTL", 5*time.Minute),
		},
		Import: ImportConfig{
			DedupDistance:    getFloat("IMPORT_DEDUP_DISTANCE", 0),
			OutlierThreshold: getFloat("IMPORT_OUTLIER_THRESHOLD", 0),
		},
	}

	// Валидация
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("SERVER_ADDRESS is required")
	}

	// Проверка симуляции
	if c.Simulation.TickInterval <= 0 {
		return fmt.Errorf("SIM_TICK_INTERVAL must be positive")
	}

	if c.Simulation.Speed < 0 {
		return fmt.Errorf("SIM_SPEED must not be negative")
	}

	switch c.Simulation.Geometry {
	case "haversine", "planar":
	default:
		return fmt.Errorf("SIM_GEOMETRY must be haversine or planar, got %q", c.Simulation.Geometry)
	}

	if c.Simulation.DistanceCacheSize < 0 {
		return fmt.Errorf("SIM_DISTANCE_CACHE_SIZE must not be negative")
	}

	// Проверка MQTT
	if c.MQTT.URL != "" {
		if c.MQTT.TelemetryTopic == "" || c.MQTT.CommandTopic == "" {
			return fmt.Errorf("MQTT topics are required when MQTT_URL is set")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
		}
	}

	// Проверка пакетной записи
	if c.Batch.Size <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}

	if c.Batch.FlushInterval <= 0 {
		return fmt.Errorf("BATCH_FLUSH_INTERVAL must be positive")
	}

	if c.Performance.SubscriberBuffer <= 0 {
		return fmt.Errorf("SUBSCRIBER_BUFFER must be positive")
	}

	// Проверка трассировки
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be between 0 and 1")
	}

	switch c.Tracing.Exporter {
	case "stdout", "otlp":
	default:
		return fmt.Errorf("TRACING_EXPORTER must be stdout or otlp, got %q", c.Tracing.Exporter)
	}

	if c.Import.DedupDistance < 0 || c.Import.OutlierThreshold < 0 {
		return fmt.Errorf("IMPORT_DEDUP_DISTANCE and IMPORT_OUTLIER_THRESHOLD must not be negative")
	}

	if c.Auth.Endpoint != "" && c.Auth.CacheTTL <= 0 {
		return fmt.Errorf("AUTH_CACHE_TTL must be positive when AUTH_ENDPOINT is set")
	}

	return nil
}

// RedisEnabled сообщает, настроено ли хранилище состояния
func (c *Config) RedisEnabled() bool {
	return c.Redis.URL != ""
}

// MQTTEnabled сообщает, настроена ли шина MQTT
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.URL != ""
}

// HistoryEnabled сообщает, включена ли история прогонов в MySQL
func (c *Config) HistoryEnabled() bool {
	return c.MySQL.DSN != ""
}

// Helper функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// LogLevel возвращает уровень логирования
func LogLevel() string {
	return getEnv("LOG_LEVEL", "info")
}

// LogFormat возвращает формат логирования
func LogFormat() string {
	return getEnv("LOG_FORMAT", "json")
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func IsDevelopment() bool {
	return getEnv("ENVIRONMENT", "development") == "development"
}
