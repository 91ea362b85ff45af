// =============================================================================
// 📦 MannMedia 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("MANNMEDIA").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是编排核心的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Database 数据库配置（工作流状态、定时任务）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis 配置（交接记录持久化）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Connection 工具执行端点连接配置
	Connection ConnectionConfig `yaml:"connection" env:"CONNECTION"`

	// Tools 工具调用配置
	Tools ToolsConfig `yaml:"tools" env:"TOOLS"`

	// Handoff 交接协调配置
	Handoff HandoffConfig `yaml:"handoff" env:"HANDOFF"`

	// Workflow 工作流阶段跟踪配置
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`

	// Scheduler 定时任务调度配置
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// JWT 认证配置
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端每秒请求数
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite, sqlite3
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// Key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 是否使用 TLS 连接
	TLS bool `yaml:"tls" env:"TLS"`
}

// ConnectionConfig 工具执行端点（WebSocket）连接配置
type ConnectionConfig struct {
	// WebSocket 端点
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// 项目 ID（连接建立后立即发送 set-context）
	ProjectID string `yaml:"project_id" env:"PROJECT_ID"`
	// 应用层心跳间隔
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	// 重连基础间隔（第 N 次重连延迟 = 间隔 × N）
	ReconnectInterval time.Duration `yaml:"reconnect_interval" env:"RECONNECT_INTERVAL"`
	// 最大重连次数
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" env:"MAX_RECONNECT_ATTEMPTS"`
	// 拨号超时
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	// 每个订阅者的事件缓冲
	EventBuffer int `yaml:"event_buffer" env:"EVENT_BUFFER"`
}

// ToolsConfig 工具调用配置
type ToolsConfig struct {
	// 最大重试次数（总尝试次数 = MaxRetries + 1）
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 重试基础延迟（第 N 次重试前等待 延迟 × N）
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 单次尝试超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 两次调用开始的最小间隔
	MinInterval time.Duration `yaml:"min_interval" env:"MIN_INTERVAL"`
	// 默认防抖窗口
	DebounceWindow time.Duration `yaml:"debounce_window" env:"DEBOUNCE_WINDOW"`
}

// HandoffConfig 交接协调配置
type HandoffConfig struct {
	// 存储类型: memory, file, redis
	StoreType string `yaml:"store_type" env:"STORE_TYPE"`
	// 文件存储目录
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`
	// 远端编排端点
	OrchestratorURL string `yaml:"orchestrator_url" env:"ORCHESTRATOR_URL"`
	// 远端编排调用超时
	OrchestratorTimeout time.Duration `yaml:"orchestrator_timeout" env:"ORCHESTRATOR_TIMEOUT"`
	// 发送给远端的最近消息条数
	MessageWindow int `yaml:"message_window" env:"MESSAGE_WINDOW"`
	// 清理周期
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// 已完成交接的保留时间
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
	// 发送前移除工具调用与工具结果消息
	DropToolMessages bool `yaml:"drop_tool_messages" env:"DROP_TOOL_MESSAGES"`
	// 发送给接收方的系统提示（为空时不添加）
	SystemContext string `yaml:"system_context" env:"SYSTEM_CONTEXT"`
}

// WorkflowConfig 工作流配置
type WorkflowConfig struct {
	// 是否使用数据库持久化（关闭时仅使用内存实现）
	PersistEnabled bool `yaml:"persist_enabled" env:"PERSIST_ENABLED"`
	// 单次存储操作超时
	StoreTimeout time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT"`
	// 连续失败多少次后熔断主存储
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 熔断后多久再探测主存储
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
}

// SchedulerConfig 定时任务调度配置
type SchedulerConfig struct {
	// 是否在 serve 进程内周期运行
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 调度周期
	TickInterval time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	// 执行端点
	ExecutionEndpoint string `yaml:"execution_endpoint" env:"EXECUTION_ENDPOINT"`
	// 执行端点 Bearer Token
	ExecutionToken string `yaml:"execution_token" env:"EXECUTION_TOKEN"`
	// 单批次最多认领的任务数
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
	// 并发派发数
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
	// 单次派发超时
	DispatchTimeout time.Duration `yaml:"dispatch_timeout" env:"DISPATCH_TIMEOUT"`
	// 认领超过该时长视为遗弃
	StaleClaimTimeout time.Duration `yaml:"stale_claim_timeout" env:"STALE_CLAIM_TIMEOUT"`
	// 是否在派发前检查额度
	CreditCheckEnabled bool `yaml:"credit_check_enabled" env:"CREDIT_CHECK_ENABLED"`
	// 每次派发扣除的额度
	CreditCost float64 `yaml:"credit_cost" env:"CREDIT_COST"`
	// 周期任务派发失败后是否继续排期
	RetryRecurringOnFailure bool `yaml:"retry_recurring_on_failure" env:"RETRY_RECURRING_ON_FAILURE"`
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	// HMAC 密钥（为空时不启用认证）
	Secret string `yaml:"secret" env:"SECRET"`
	// 签发者
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 受众
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MANNMEDIA",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，键名为 前缀_段_字段
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic（仅用于程序初始化）
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	if c.Connection.MaxReconnectAttempts < 0 {
		errs = append(errs, "connection.max_reconnect_attempts must not be negative")
	}
	if c.Connection.HeartbeatInterval <= 0 {
		errs = append(errs, "connection.heartbeat_interval must be positive")
	}

	if c.Tools.MaxRetries < 0 {
		errs = append(errs, "tools.max_retries must not be negative")
	}
	if c.Tools.Timeout <= 0 {
		errs = append(errs, "tools.timeout must be positive")
	}

	switch c.Handoff.StoreType {
	case "memory", "file", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unsupported handoff.store_type %q", c.Handoff.StoreType))
	}
	if c.Handoff.MessageWindow <= 0 {
		errs = append(errs, "handoff.message_window must be positive")
	}

	if c.Scheduler.Concurrency <= 0 {
		errs = append(errs, "scheduler.concurrency must be positive")
	}
	if c.Scheduler.BatchSize <= 0 {
		errs = append(errs, "scheduler.batch_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite", "sqlite3":
		return d.Name
	default:
		return ""
	}
}
