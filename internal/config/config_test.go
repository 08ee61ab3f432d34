package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("TEST_DB_USER", "pipeline")
	t.Setenv("TEST_INFERENCE_KEY", "sk-test")

	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, 5432, cfg.Database.Port)
			assert.Equal(t, "jobs_db", cfg.Database.Database)
			assert.Equal(t, "jobs_exchange", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "jobs_queue", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, "opportunity-pipeline", cfg.App.Name)
			assert.Equal(t, 8, cfg.RabbitMQ.ChannelPool.Size)
			assert.Equal(t, 4, cfg.RabbitMQ.Consumer.PrefetchCount)
			assert.Equal(t, 2*time.Minute, cfg.Orchestrator.TimeBudget)
			assert.Equal(t, 10, cfg.RateLimit.Limit)
		})
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_DB_USER", "pipeline")
	t.Setenv("TEST_INFERENCE_KEY", "sk-test")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "pipeline", cfg.Database.User)
	assert.Equal(t, "sk-test", cfg.Inference.APIKey)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load("testdata/missing_database.yaml")
	require.NoError(t, err)

	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "direct", cfg.RabbitMQ.Exchange.Type)
	assert.Equal(t, 4, cfg.RabbitMQ.ChannelPool.Size)
	assert.Equal(t, 1, cfg.RabbitMQ.Consumer.PrefetchCount)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 1, cfg.Worker.Concurrency)
	assert.Equal(t, 10*time.Minute, cfg.Worker.JobTimeout)
	assert.Equal(t, 30*time.Second, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.Worker.StaleAfter)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Inference.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, time.Minute, cfg.Telemetry.ExportInterval)
}

func validConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "jobs_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "jobs_exchange"},
			Queue:    QueueConfig{Name: "jobs_queue"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 0 },
			errString: "invalid database port",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "invalid rabbitmq port",
			mutate:    func(c *Config) { c.RabbitMQ.Port = 70000 },
			errString: "invalid rabbitmq port",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "negative orchestrator limit",
			mutate:    func(c *Config) { c.Orchestrator.MaxItems = -1 },
			errString: "orchestrator limits must not be negative",
		},
		{
			name:      "failure ratio above one",
			mutate:    func(c *Config) { c.Reliability.FailureRatio = 1.5 },
			errString: "failure_ratio must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "rate limit without window",
			mutate:    func(c *Config) { c.RateLimit.Limit = 5 },
			errString: "rate_limit window",
		},
		{
			name:      "common settings are checked too",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "stale threshold not above heartbeat",
			mutate:    func(c *Config) { c.Worker.StaleAfter = c.Worker.HeartbeatInterval },
			errString: "stale_after must be longer than heartbeat_interval",
		},
		{
			name:      "invalid inference url",
			mutate:    func(c *Config) { c.Inference.BaseURL = "not a url" },
			errString: "invalid inference base_url",
		},
		{
			name: "time budget outlasts job timeout",
			mutate: func(c *Config) {
				c.Worker.JobTimeout = 5 * time.Minute
				c.Orchestrator.TimeBudget = 5 * time.Minute
			},
			errString: "time_budget must be shorter than worker job_timeout",
		},
		{
			name:   "server port is not required",
			mutate: func(c *Config) { c.Server.Port = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		errString string
	}{
		{
			name:      "invalid server port",
			filePath:  "testdata/invalid_port.yaml",
			errString: "invalid server port",
		},
		{
			name:      "missing database host",
			filePath:  "testdata/missing_database.yaml",
			errString: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)
			require.NoError(t, err, "Load should succeed")

			err = cfg.ValidateAPIConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_OrchestratorConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Orchestrator = OrchestratorConfig{
		PageSize:        25,
		MaxItems:        200,
		TimeBudget:      2 * time.Minute,
		Concurrency:     3,
		InterBatchDelay: 250 * time.Millisecond,
	}
	cfg.Executor.MaxAttempts = 5
	cfg.Reliability.Cooldown = time.Minute

	out := cfg.OrchestratorConfig()

	assert.Equal(t, 25, out.Defaults.PageSize)
	assert.Equal(t, 200, out.Defaults.MaxItems)
	assert.Equal(t, 120, out.Defaults.TimeBudgetSeconds)
	assert.Equal(t, 3, out.Defaults.Concurrency)
	assert.Equal(t, 250, out.Defaults.InterBatchDelayMS)

	t.Run("set values override component defaults", func(t *testing.T) {
		assert.Equal(t, 5, out.Executor.MaxAttempts)
		assert.Equal(t, time.Minute, out.Reliability.Cooldown)
	})

	t.Run("unset values keep component defaults", func(t *testing.T) {
		assert.Equal(t, 500*time.Millisecond, out.Executor.BaseDelay)
		assert.Equal(t, 5, out.Reliability.FailureThreshold)
		assert.InDelta(t, 0.5, out.Reliability.FailureRatio, 1e-9)
	})
}

func TestConfig_ClientConfigs(t *testing.T) {
	cfg := validConfig()
	cfg.Database.RetryAttempts = 3
	cfg.RabbitMQ.ChannelPool.MaxAge = 10 * time.Minute
	cfg.Inference.ChatModel = "gpt-4o-mini"
	cfg.RateLimit = RateLimitConfig{Limit: 10, Window: time.Minute}

	db := cfg.PostgreSQL()
	assert.Equal(t, "host=localhost port=5432 user= password= dbname=jobs_db sslmode=disable", db.DSN())
	assert.Equal(t, 3, db.RetryAttempts)

	mq := cfg.RabbitMQClient()
	assert.Equal(t, "jobs_exchange", mq.ExchangeName)
	assert.Equal(t, 4, mq.ChannelPoolSize)
	assert.Equal(t, 10*time.Minute, mq.ChannelMaxAge)

	assert.Equal(t, "gpt-4o-mini", cfg.InferenceClient().ChatModel)
	assert.Equal(t, 10, cfg.RateLimiter().Limit)

	cfg.App.Version = "1.2.0"
	telemetry := cfg.TelemetryProvider("worker-service", nil)
	assert.Equal(t, "worker-service", telemetry.ServiceName)
	assert.Equal(t, "1.2.0", telemetry.ServiceVersion)
	assert.Equal(t, time.Minute, telemetry.ExportInterval)
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
