package config

import (
	"log/slog"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/cuongbtq/opportunity-pipeline/internal/executor"
	"github.com/cuongbtq/opportunity-pipeline/internal/inference"
	"github.com/cuongbtq/opportunity-pipeline/internal/orchestrator"
	"github.com/cuongbtq/opportunity-pipeline/internal/planner"
	"github.com/cuongbtq/opportunity-pipeline/internal/reliability"
	"github.com/cuongbtq/opportunity-pipeline/internal/telemetry"
	"github.com/cuongbtq/opportunity-pipeline/shared/postgresql"
	"github.com/cuongbtq/opportunity-pipeline/shared/rabbitmq"
	"github.com/cuongbtq/opportunity-pipeline/shared/ratelimit"
)

// PostgreSQL returns the database client configuration
func (c *Config) PostgreSQL() *postgresql.Config {
	db := c.Database
	return &postgresql.Config{
		Host:            db.Host,
		Port:            db.Port,
		User:            db.User,
		Password:        db.Password,
		Database:        db.Database,
		SSLMode:         db.SSLMode,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		ConnMaxIdleTime: db.ConnMaxIdleTime,
		RetryAttempts:   db.RetryAttempts,
		RetryInterval:   db.RetryInterval,
	}
}

// RabbitMQClient returns the broker client configuration
func (c *Config) RabbitMQClient() *rabbitmq.Config {
	mq := c.RabbitMQ
	return &rabbitmq.Config{
		Host:               mq.Host,
		Port:               mq.Port,
		User:               mq.User,
		Password:           mq.Password,
		VHost:              mq.VHost,
		ExchangeName:       mq.Exchange.Name,
		ExchangeType:       mq.Exchange.Type,
		ExchangeDurable:    mq.Exchange.Durable,
		ExchangeAutoDelete: mq.Exchange.AutoDelete,
		QueueName:          mq.Queue.Name,
		QueueDurable:       mq.Queue.Durable,
		QueueAutoDelete:    mq.Queue.AutoDelete,
		QueueExclusive:     mq.Queue.Exclusive,
		RoutingKey:         mq.RoutingKey,
		RetryAttempts:      mq.Connection.RetryAttempts,
		RetryInterval:      mq.Connection.RetryInterval,
		Heartbeat:          mq.Connection.Heartbeat,
		ConnectionTimeout:  mq.Connection.ConnectionTimeout,
		PublishRetries:     mq.Publish.RetryAttempts,
		PublishRetryDelay:  mq.Publish.RetryInterval,
		PublishBackoffMult: mq.Publish.BackoffMultiplier,
		ChannelPoolSize:    mq.ChannelPool.Size,
		ChannelMaxAge:      mq.ChannelPool.MaxAge,
	}
}

// OrchestratorConfig returns the orchestrator settings. Unset values fall
// back to the defaults of each component.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	o := c.Orchestrator

	policy := executor.DefaultPolicy()
	override(&policy.MaxAttempts, c.Executor.MaxAttempts)
	override(&policy.BaseDelay, c.Executor.BaseDelay)
	override(&policy.MaxDelay, c.Executor.MaxDelay)
	override(&policy.RateLimitCooldown, c.Executor.RateLimitCooldown)

	breaker := reliability.DefaultConfig()
	override(&breaker.FailureThreshold, c.Reliability.FailureThreshold)
	override(&breaker.Cooldown, c.Reliability.Cooldown)
	override(&breaker.FailureRatio, c.Reliability.FailureRatio)
	override(&breaker.RatioWindow, c.Reliability.RatioWindow)
	override(&breaker.MinRequests, c.Reliability.MinRequests)

	return orchestrator.Config{
		Defaults: domain.Params{
			PageSize:          o.PageSize,
			MaxItems:          o.MaxItems,
			TimeBudgetSeconds: int(o.TimeBudget.Seconds()),
			Concurrency:       o.Concurrency,
			InterBatchDelayMS: int(o.InterBatchDelay.Milliseconds()),
		},
		Planner: planner.Config{
			ComplexBatchSize: c.Planner.ComplexBatchSize,
			MediumBatchSize:  c.Planner.MediumBatchSize,
			SimpleBatchSize:  c.Planner.SimpleBatchSize,
			MediumLength:     c.Planner.MediumLength,
			ComplexLength:    c.Planner.ComplexLength,
			RecencyHalfLife:  c.Planner.RecencyHalfLife,
		},
		Executor:    policy,
		Reliability: breaker,
	}
}

func override[T comparable](field *T, value T) {
	var zero T
	if value != zero {
		*field = value
	}
}

// InferenceClient returns the inference API client configuration
func (c *Config) InferenceClient() inference.Config {
	i := c.Inference
	return inference.Config{
		BaseURL:           i.BaseURL,
		APIKey:            i.APIKey,
		ChatModel:         i.ChatModel,
		EmbeddingModel:    i.EmbeddingModel,
		Timeout:           i.Timeout,
		RequestsPerSecond: i.RequestsPerSecond,
		Burst:             i.Burst,
		MaxInputChars:     i.MaxInputChars,
	}
}

// RateLimiter returns the trigger endpoint limiter configuration
func (c *Config) RateLimiter() ratelimit.Config {
	return ratelimit.Config{
		Limit:  c.RateLimit.Limit,
		Window: c.RateLimit.Window,
	}
}

// TelemetryProvider converts the telemetry config for the named service
func (c *Config) TelemetryProvider(service string, logger *slog.Logger) telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName:    service,
		ServiceVersion: c.App.Version,
		ExportInterval: c.Telemetry.ExportInterval,
		Logger:         logger,
	}
}
