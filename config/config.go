// Ininicializing common application configuration
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "TRIPSEATS"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Booking  BookingConfig  `mapstructure:"booking"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Governor GovernorConfig `mapstructure:"governor"`
	Fanout   FanoutConfig   `mapstructure:"fanout"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Broker   BrokerConfig   `mapstructure:"broker"`
}

type ServerConfig struct {
	AppVersion     string        `mapstructure:"app_version"`
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	Timeout        time.Duration `mapstructure:"timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Env            string        `mapstructure:"environment"`
	Mode           string        `mapstructure:"mode"`
	AllowOrigins   []string      `mapstructure:"allow_origins"`
	// TrustedProxies may set X-Forwarded-For; empty means the peer address is the client IP
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Настройки пула соединений
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
}

// StorageConfig selects the seat inventory backend: memory, postgres or redis.
type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type BookingConfig struct {
	HoldTTL         time.Duration `mapstructure:"hold_ttl"`
	MaxSeatsPerHold int           `mapstructure:"max_seats_per_hold"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
}

type WorkerConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
}

type GovernorConfig struct {
	MaxConnectionsPerIdentity int           `mapstructure:"max_connections_per_identity"`
	MaxAttempts               int           `mapstructure:"max_attempts"`
	AttemptWindow             time.Duration `mapstructure:"attempt_window"`
	MaxRoomsPerConnection     int           `mapstructure:"max_rooms_per_connection"`
	IdleTimeout               time.Duration `mapstructure:"idle_timeout"`
}

type FanoutConfig struct {
	RedisRelay     bool   `mapstructure:"redis_relay"`
	Channel        string `mapstructure:"channel"`
	OutboundBuffer int    `mapstructure:"outbound_buffer"`
}

type PaymentConfig struct {
	Driver        string `mapstructure:"driver"`
	DeclinePrefix string `mapstructure:"decline_prefix"`
}

// BrokerConfig selects where domain events go: log, rabbitmq or kafka.
type BrokerConfig struct {
	Driver   string         `mapstructure:"driver"`
	Retries  int            `mapstructure:"retries"`
	DLQKey   string         `mapstructure:"dlq_key"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LoadConfig reads config.yaml from configPath (./config when empty).
// Every key can be overridden by TRIPSEATS_<SECTION>_<KEY> environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	viperInstance := viper.New()
	setDefaults(viperInstance)

	if configPath == "" {
		configPath = "./config"
	}
	viperInstance.AddConfigPath(configPath)
	viperInstance.SetConfigName("config")
	viperInstance.SetConfigType("yaml")

	viperInstance.SetEnvPrefix(envPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperInstance.AutomaticEnv()

	if err := viperInstance.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return viperInstance, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config

	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Broker.Driver {
	case "log", "rabbitmq", "kafka":
	default:
		return fmt.Errorf("unknown broker driver %q", c.Broker.Driver)
	}
	if c.Booking.HoldTTL <= 0 {
		return fmt.Errorf("booking.hold_ttl must be positive")
	}
	if c.Governor.MaxConnectionsPerIdentity < 1 || c.Governor.MaxRoomsPerConnection < 1 {
		return fmt.Errorf("governor limits must be at least 1")
	}
	return nil
}

// GetServerAddress возвращает полный адрес сервера
func (c *Config) GetServerAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsProduction проверяет, production ли окружение
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setDefaults устанавливает значения по умолчанию
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.app_version", "1.0.0")
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tripseats")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.dbname", "tripseats")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.key_prefix", "tripseats:")

	v.SetDefault("jwt.secret", "your-super-secret-jwt-key-change-in-production")

	// Booking defaults
	v.SetDefault("booking.hold_ttl", 10*time.Minute)
	v.SetDefault("booking.max_seats_per_hold", 10)
	v.SetDefault("booking.retry_attempts", 3)
	v.SetDefault("booking.retry_base_delay", 50*time.Millisecond)
	v.SetDefault("booking.retry_max_delay", time.Second)

	v.SetDefault("worker.sweep_interval", time.Second)
	v.SetDefault("worker.resync_interval", time.Minute)

	// Connection governance defaults
	v.SetDefault("governor.max_connections_per_identity", 3)
	v.SetDefault("governor.max_attempts", 20)
	v.SetDefault("governor.attempt_window", time.Minute)
	v.SetDefault("governor.max_rooms_per_connection", 5)
	v.SetDefault("governor.idle_timeout", 30*time.Minute)

	v.SetDefault("fanout.redis_relay", false)
	v.SetDefault("fanout.channel", "tripseats:seat-updates")
	v.SetDefault("fanout.outbound_buffer", 64)

	v.SetDefault("payment.driver", "static")
	v.SetDefault("payment.decline_prefix", "decline")

	v.SetDefault("broker.driver", "log")
	v.SetDefault("broker.retries", 3)
	v.SetDefault("broker.dlq_key", "tripseats:events:dlq")
	v.SetDefault("broker.rabbitmq.exchange", "tripseats.events")
	v.SetDefault("broker.kafka.topic", "tripseats-events")
}
