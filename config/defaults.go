// =============================================================================
// 📦 MannMedia 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Database:   DefaultDatabaseConfig(),
		Redis:      DefaultRedisConfig(),
		Connection: DefaultConnectionConfig(),
		Tools:      DefaultToolsConfig(),
		Handoff:    DefaultHandoffConfig(),
		Workflow:   DefaultWorkflowConfig(),
		Scheduler:  DefaultSchedulerConfig(),
		JWT:        JWTConfig{},
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "mannmedia",
		SampleRate:   0.1,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:              "postgres",
		Host:                "localhost",
		Port:                5432,
		User:                "mannmedia",
		Password:            "",
		Name:                "mannmedia",
		SSLMode:             "disable",
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "mannmedia:",
	}
}

// DefaultConnectionConfig 返回默认连接配置
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Endpoint:             "ws://localhost:8765/mcp",
		HeartbeatInterval:    30 * time.Second,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 5,
		DialTimeout:          10 * time.Second,
		EventBuffer:          64,
	}
}

// DefaultToolsConfig 返回默认工具调用配置
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		MaxRetries:     2,
		RetryDelay:     time.Second,
		Timeout:        10 * time.Second,
		MinInterval:    200 * time.Millisecond,
		DebounceWindow: 300 * time.Millisecond,
	}
}

// DefaultHandoffConfig 返回默认交接配置
func DefaultHandoffConfig() HandoffConfig {
	return HandoffConfig{
		StoreType:           "memory",
		BaseDir:             "./data/handoffs",
		OrchestratorURL:     "",
		OrchestratorTimeout: 30 * time.Second,
		MessageWindow:       10,
		SweepInterval:       time.Hour,
		Retention:           24 * time.Hour,
	}
}

// DefaultWorkflowConfig 返回默认工作流配置
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		PersistEnabled:   true,
		StoreTimeout:     5 * time.Second,
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}
}

// DefaultSchedulerConfig 返回默认调度配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:                 false,
		TickInterval:            time.Minute,
		ExecutionEndpoint:       "",
		ExecutionToken:          "",
		BatchSize:               50,
		Concurrency:             4,
		DispatchTimeout:         30 * time.Second,
		StaleClaimTimeout:       15 * time.Minute,
		CreditCheckEnabled:      true,
		CreditCost:              1,
		RetryRecurringOnFailure: false,
	}
}
