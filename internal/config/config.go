package config

import (
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

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Logging      LoggingConfig      `yaml:"logging"`
	App          AppConfig          `yaml:"app"`
	Worker       WorkerConfig       `yaml:"worker"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Planner      PlannerConfig      `yaml:"planner"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Reliability  ReliabilityConfig  `yaml:"reliability"`
	Inference    InferenceConfig    `yaml:"inference"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
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
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host        string            `yaml:"host"`
	Port        int               `yaml:"port"`
	User        string            `yaml:"user"`
	Password    string            `yaml:"password"`
	VHost       string            `yaml:"vhost"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Queue       QueueConfig       `yaml:"queue"`
	RoutingKey  string            `yaml:"routing_key"`
	Connection  ConnectionConfig  `yaml:"connection"`
	Publish     PublishConfig     `yaml:"publish"`
	Consumer    ConsumerConfig    `yaml:"consumer"`
	ChannelPool ChannelPoolConfig `yaml:"channel_pool"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// ChannelPoolConfig sizes the pool of publishing channels
type ChannelPoolConfig struct {
	Size            int           `yaml:"size"`
	MaxAge          time.Duration `yaml:"max_age"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	RedispatchAfter   time.Duration `yaml:"redispatch_after"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	SweepBatchSize    int           `yaml:"sweep_batch_size"`
}

// OrchestratorConfig holds the parameter defaults applied to every job
type OrchestratorConfig struct {
	PageSize        int           `yaml:"page_size"`
	MaxItems        int           `yaml:"max_items"`
	TimeBudget      time.Duration `yaml:"time_budget"`
	Concurrency     int           `yaml:"concurrency"`
	InterBatchDelay time.Duration `yaml:"inter_batch_delay"`
}

// PlannerConfig holds batch sizes per tier and complexity thresholds
type PlannerConfig struct {
	ComplexBatchSize int           `yaml:"complex_batch_size"`
	MediumBatchSize  int           `yaml:"medium_batch_size"`
	SimpleBatchSize  int           `yaml:"simple_batch_size"`
	MediumLength     int           `yaml:"medium_length"`
	ComplexLength    int           `yaml:"complex_length"`
	RecencyHalfLife  time.Duration `yaml:"recency_half_life"`
}

// ExecutorConfig holds the retry policy of external calls
type ExecutorConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
}

// ReliabilityConfig holds the circuit breaker thresholds
type ReliabilityConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	FailureRatio     float64       `yaml:"failure_ratio"`
	RatioWindow      int           `yaml:"ratio_window"`
	MinRequests      int           `yaml:"min_requests"`
}

// InferenceConfig holds the inference API client settings
type InferenceConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	ChatModel         string        `yaml:"chat_model"`
	EmbeddingModel    string        `yaml:"embedding_model"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxInputChars     int           `yaml:"max_input_chars"`
}

// RateLimitConfig holds the trigger endpoint limit
type RateLimitConfig struct {
	Limit         int           `yaml:"limit"`
	Window        time.Duration `yaml:"window"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

// TelemetryConfig holds the metrics export settings
type TelemetryConfig struct {
	ExportInterval time.Duration `yaml:"export_interval"`
}

// Load reads the configuration file, expands ${VAR} references from the
// environment and applies defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Server.ShutdownTimeout, 15*time.Second)
	setDefault(&c.Database.SSLMode, "disable")
	setDefault(&c.Database.RetryAttempts, 1)
	setDefault(&c.RabbitMQ.Exchange.Type, "direct")
	setDefault(&c.RabbitMQ.Connection.RetryAttempts, 1)
	setDefault(&c.RabbitMQ.ChannelPool.Size, 4)
	setDefault(&c.RabbitMQ.ChannelPool.CleanupInterval, time.Minute)
	setDefault(&c.RabbitMQ.Consumer.PrefetchCount, 1)
	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Worker.Concurrency, 1)
	setDefault(&c.Worker.JobTimeout, 10*time.Minute)
	setDefault(&c.Worker.HeartbeatInterval, 30*time.Second)
	setDefault(&c.Worker.ShutdownTimeout, 30*time.Second)
	setDefault(&c.Worker.SweepInterval, time.Minute)
	setDefault(&c.Worker.RedispatchAfter, 5*time.Minute)
	setDefault(&c.Worker.StaleAfter, 5*time.Minute)
	setDefault(&c.Inference.BaseURL, "https://api.openai.com/v1")
	setDefault(&c.RateLimit.PurgeInterval, time.Minute)
	setDefault(&c.Telemetry.ExportInterval, time.Minute)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks the settings shared by every service
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Orchestrator.PageSize < 0 || c.Orchestrator.MaxItems < 0 || c.Orchestrator.Concurrency < 0 {
		return fmt.Errorf("orchestrator limits must not be negative")
	}

	if c.Reliability.FailureRatio < 0 || c.Reliability.FailureRatio > 1 {
		return fmt.Errorf("reliability failure_ratio must be between 0 and 1")
	}

	return nil
}

// ValidateAPIConfig checks the settings needed by the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.RateLimit.Limit < 0 || (c.RateLimit.Limit > 0 && c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate_limit window must be greater than 0 when a limit is set")
	}

	return c.Validate()
}

// ValidateWorkerConfig checks the settings needed by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.StaleAfter <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker stale_after must be longer than heartbeat_interval")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Orchestrator.TimeBudget >= c.Worker.JobTimeout {
		return fmt.Errorf("orchestrator time_budget must be shorter than worker job_timeout")
	}

	if _, err := url.ParseRequestURI(c.Inference.BaseURL); err != nil {
		return fmt.Errorf("invalid inference base_url: %w", err)
	}

	return c.Validate()
}
