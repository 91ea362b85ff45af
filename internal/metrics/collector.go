// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
//
// 所有 Record 方法对 nil 接收者安全，组件未配置指标时可直接调用。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 连接指标
	connectionState        *prometheus.GaugeVec
	reconnectAttemptsTotal *prometheus.CounterVec
	eventsDroppedTotal     *prometheus.CounterVec

	// 工具调用指标
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolCallAttempts *prometheus.HistogramVec

	// 交接指标
	handoffsTotal *prometheus.CounterVec

	// 工作流指标
	stageUpdatesTotal   *prometheus.CounterVec
	storeFallbacksTotal *prometheus.CounterVec

	// 调度指标
	schedulerTasksTotal     *prometheus.CounterVec
	schedulerTickDuration   prometheus.Histogram
	schedulerClaimConflicts prometheus.Counter

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbHealthy         *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，reg 为 nil 时注册到默认 Registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 连接指标
	c.connectionState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (1 for the active state)",
		},
		[]string{"endpoint", "state"},
	)

	c.reconnectAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_reconnect_attempts_total",
			Help:      "Total number of reconnect attempts",
		},
		[]string{"endpoint"},
	)

	c.eventsDroppedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_dropped_total",
			Help:      "Events dropped because a subscriber buffer was full",
		},
		[]string{"type"},
	)

	// 工具调用指标
	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations by outcome",
		},
		[]string{"tool", "outcome"},
	)

	c.toolCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation duration in seconds, retries included",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)

	c.toolCallAttempts = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_attempts",
			Help:      "Attempts used per tool invocation",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		},
		[]string{"tool"},
	)

	// 交接指标
	c.handoffsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Handoff status transitions",
		},
		[]string{"target_agent", "status"},
	)

	// 工作流指标
	c.stageUpdatesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_stage_updates_total",
			Help:      "Workflow stage updates",
		},
		[]string{"stage", "status"},
	)

	c.storeFallbacksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_store_fallbacks_total",
			Help:      "Operations served by the in-memory fallback store",
		},
		[]string{"operation"},
	)

	// 调度指标
	c.schedulerTasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_tasks_total",
			Help:      "Scheduled tasks processed by outcome",
		},
		[]string{"schedule_type", "outcome"},
	)

	c.schedulerTickDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Scheduler tick duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	c.schedulerClaimConflicts = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_claim_conflicts_total",
			Help:      "Due tasks already claimed by a concurrent tick",
		},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbHealthy = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_healthy",
			Help:      "Result of the last database health check (1 healthy, 0 unhealthy)",
		},
		[]string{"database"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔌 连接指标记录
// =============================================================================

var connectionStates = []string{"disconnected", "connecting", "connected"}

// RecordConnectionState 记录连接状态（仅当前状态为 1）
func (c *Collector) RecordConnectionState(endpoint, state string) {
	if c == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.connectionState.WithLabelValues(endpoint, s).Set(v)
	}
}

// RecordReconnectAttempt 记录一次重连尝试
func (c *Collector) RecordReconnectAttempt(endpoint string) {
	if c == nil {
		return
	}
	c.reconnectAttemptsTotal.WithLabelValues(endpoint).Inc()
}

// RecordEventDropped 记录被丢弃的事件
func (c *Collector) RecordEventDropped(eventType string) {
	if c == nil {
		return
	}
	c.eventsDroppedTotal.WithLabelValues(eventType).Inc()
}

// =============================================================================
// 🔧 工具调用指标记录
// =============================================================================

// RecordToolCall 记录一次工具调用的终态
func (c *Collector) RecordToolCall(tool, outcome string, attempts int, duration time.Duration) {
	if c == nil {
		return
	}
	c.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	if attempts > 0 {
		c.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
		c.toolCallAttempts.WithLabelValues(tool).Observe(float64(attempts))
	}
}

// =============================================================================
// 🤝 交接指标记录
// =============================================================================

// RecordHandoff 记录交接状态变化
func (c *Collector) RecordHandoff(targetAgent, status string) {
	if c == nil {
		return
	}
	c.handoffsTotal.WithLabelValues(targetAgent, status).Inc()
}

// =============================================================================
// 🎬 工作流指标记录
// =============================================================================

// RecordStageUpdate 记录阶段更新
func (c *Collector) RecordStageUpdate(stage, status string) {
	if c == nil {
		return
	}
	c.stageUpdatesTotal.WithLabelValues(stage, status).Inc()
}

// RecordStoreFallback 记录一次降级到内存存储
func (c *Collector) RecordStoreFallback(operation string) {
	if c == nil {
		return
	}
	c.storeFallbacksTotal.WithLabelValues(operation).Inc()
}

// =============================================================================
// ⏰ 调度指标记录
// =============================================================================

// RecordScheduledTask 记录定时任务处理结果
func (c *Collector) RecordScheduledTask(scheduleType, outcome string) {
	if c == nil {
		return
	}
	c.schedulerTasksTotal.WithLabelValues(scheduleType, outcome).Inc()
}

// RecordSchedulerTick 记录一次调度周期耗时与认领冲突数
func (c *Collector) RecordSchedulerTick(duration time.Duration, conflicts int) {
	if c == nil {
		return
	}
	c.schedulerTickDuration.Observe(duration.Seconds())
	c.schedulerClaimConflicts.Add(float64(conflicts))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBHealth 记录数据库探活结果
func (c *Collector) RecordDBHealth(database string, healthy bool) {
	if c == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	c.dbHealthy.WithLabelValues(database).Set(v)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
