package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Storage, engine and artifact drivers
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"

	EngineRemote      = "remote"
	EnginePlaceholder = "placeholder"

	ArtifactInline = "inline"
	ArtifactMinio  = "minio"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Worker   WorkerConfig   `yaml:"worker"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	Artifact ArtifactConfig `yaml:"artifact"`
	Minio    MinioConfig    `yaml:"minio"`
	Callback CallbackConfig `yaml:"callback"`
	Events   EventsConfig   `yaml:"events"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
	NoColor      bool   `yaml:"no_color"`
}

// WorkerConfig holds execution dispatcher configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	Seed            *int64        `yaml:"seed"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the job store backend
type StorageConfig struct {
	Driver        string        `yaml:"driver"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	Database     int           `yaml:"database"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// EngineConfig selects and configures the generation engine
type EngineConfig struct {
	Driver  string        `yaml:"driver"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
	Device  string        `yaml:"device"`
	DType   string        `yaml:"dtype"`
	Delay   time.Duration `yaml:"delay"`
}

// ArtifactConfig selects where generated images go
type ArtifactConfig struct {
	Driver        string        `yaml:"driver"`
	Prefix        string        `yaml:"prefix"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

// MinioConfig holds object storage configuration
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
}

// CallbackConfig holds callback delivery settings
type CallbackConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// EventsConfig enables completion events on RabbitMQ
type EventsConfig struct {
	Enabled  bool           `yaml:"enabled"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	VHost             string        `yaml:"vhost"`
	Exchange          string        `yaml:"exchange"`
	ExchangeType      string        `yaml:"exchange_type"`
	Queue             string        `yaml:"queue"`
	RoutingKey        string        `yaml:"routing_key"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	PublishRetries    int           `yaml:"publish_retries"`
	PublishRetryDelay time.Duration `yaml:"publish_retry_delay"`
}

// Load reads and parses the configuration file, then fills defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills every unset field with its default
func (c *Config) ApplyDefaults() {
	setDefault(&c.App.Name, "imagegen-api")
	setDefault(&c.App.Version, "1.0.0")
	setDefault(&c.App.Environment, "development")

	setDefault(&c.Server.Port, 8000)
	setDefault(&c.Server.ReadTimeout, 15*time.Second)
	setDefault(&c.Server.WriteTimeout, 15*time.Second)
	setDefault(&c.Server.IdleTimeout, 60*time.Second)
	setDefault(&c.Server.ShutdownTimeout, 30*time.Second)

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "console")
	setDefault(&c.Logging.Output, "stdout")

	setDefault(&c.Worker.Concurrency, 2)
	setDefault(&c.Worker.QueueCapacity, 100)
	setDefault(&c.Worker.JobTimeout, 10*time.Minute)
	setDefault(&c.Worker.ShutdownTimeout, 30*time.Second)
	if c.Worker.Seed == nil {
		seed := int64(42)
		c.Worker.Seed = &seed
	}

	setDefault(&c.Storage.Driver, StorageMemory)
	setDefault(&c.Storage.Retention, 24*time.Hour)
	setDefault(&c.Storage.SweepInterval, 5*time.Minute)

	setDefault(&c.Database.Port, 5432)
	setDefault(&c.Database.SSLMode, "disable")
	setDefault(&c.Database.MaxOpenConns, 10)
	setDefault(&c.Database.MaxIdleConns, 5)
	setDefault(&c.Database.ConnMaxLifetime, 30*time.Minute)

	setDefault(&c.Redis.Port, 6379)
	setDefault(&c.Redis.DialTimeout, 5*time.Second)
	setDefault(&c.Redis.PoolSize, 10)

	setDefault(&c.Engine.Driver, EnginePlaceholder)
	setDefault(&c.Engine.Timeout, 10*time.Minute)
	setDefault(&c.Engine.Device, "cpu")

	setDefault(&c.Artifact.Driver, ArtifactInline)
	setDefault(&c.Artifact.Prefix, "generations")
	setDefault(&c.Artifact.PresignExpiry, time.Hour)

	setDefault(&c.Callback.Timeout, 30*time.Second)
	setDefault(&c.Callback.UserAgent, "imagegen-api-callback/1.0")

	rmq := &c.Events.RabbitMQ
	setDefault(&rmq.Port, 5672)
	setDefault(&rmq.VHost, "/")
	setDefault(&rmq.Exchange, "imagegen.events")
	setDefault(&rmq.ExchangeType, "topic")
	setDefault(&rmq.RoutingKey, "job.completed")
	setDefault(&rmq.RetryAttempts, 5)
	setDefault(&rmq.RetryInterval, 2*time.Second)
	setDefault(&rmq.Heartbeat, 10*time.Second)
	setDefault(&rmq.PublishRetries, 3)
	setDefault(&rmq.PublishRetryDelay, 100*time.Millisecond)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort))
	}

	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker concurrency must be greater than 0"))
	}
	if c.Worker.QueueCapacity <= 0 {
		errs = append(errs, errors.New("worker queue_capacity must be greater than 0"))
	}
	if c.Worker.JobTimeout < 0 {
		errs = append(errs, errors.New("worker job_timeout must not be negative"))
	}
	if c.Worker.Seed != nil && *c.Worker.Seed < -1 {
		errs = append(errs, fmt.Errorf("worker seed must be -1 (random) or non-negative, got %d", *c.Worker.Seed))
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database host is required for the postgres store"))
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			errs = append(errs, fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort))
		}
		if c.Database.Database == "" {
			errs = append(errs, errors.New("database name is required for the postgres store"))
		}
	case StorageRedis:
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("redis host is required for the redis store"))
		}
		if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
			errs = append(errs, fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q (want %s, %s or %s)", c.Storage.Driver, StorageMemory, StoragePostgres, StorageRedis))
	}

	switch c.Engine.Driver {
	case EnginePlaceholder:
	case EngineRemote:
		if u, err := url.Parse(c.Engine.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("engine base_url must be an absolute URL, got %q", c.Engine.BaseURL))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown engine driver %q (want %s or %s)", c.Engine.Driver, EngineRemote, EnginePlaceholder))
	}

	switch c.Artifact.Driver {
	case ArtifactInline:
	case ArtifactMinio:
		if c.Minio.Endpoint == "" {
			errs = append(errs, errors.New("minio endpoint is required for the minio artifact sink"))
		}
		if c.Minio.Bucket == "" {
			errs = append(errs, errors.New("minio bucket is required for the minio artifact sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown artifact driver %q (want %s or %s)", c.Artifact.Driver, ArtifactInline, ArtifactMinio))
	}

	if c.Events.Enabled {
		if c.Events.RabbitMQ.Host == "" {
			errs = append(errs, errors.New("rabbitmq host is required when events are enabled"))
		}
		if c.Events.RabbitMQ.Exchange == "" {
			errs = append(errs, errors.New("rabbitmq exchange is required when events are enabled"))
		}
	}

	return errors.Join(errs...)
}
