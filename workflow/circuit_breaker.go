package workflow

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState 熔断器状态
type CircuitState int

const (
	// CircuitClosed 正常状态，请求走主存储
	CircuitClosed CircuitState = iota
	// CircuitOpen 熔断状态，请求直接走内存降级存储
	CircuitOpen
	// CircuitHalfOpen 半开状态，允许一次探测主存储
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig 主存储熔断配置
type BreakerConfig struct {
	// FailureThreshold 连续失败次数阈值，达到后熔断
	FailureThreshold int `json:"failure_threshold"`
	// RecoveryTimeout 熔断后等待探测的时间
	RecoveryTimeout time.Duration `json:"recovery_timeout"`
}

// DefaultBreakerConfig 默认熔断配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}
}

// storeBreaker 决定一次存储操作是否尝试主存储。
// 熔断期间所有操作直接走降级存储，恢复时间到后放行一次探测。
type storeBreaker struct {
	config   BreakerConfig
	state    CircuitState
	failures int
	openedAt time.Time
	// 半开状态下是否已有探测在途
	probing  bool
	now      func() time.Time
	onChange func(from, to CircuitState)
	logger   *zap.Logger
	mu       sync.Mutex
}

func newStoreBreaker(config BreakerConfig, logger *zap.Logger) *storeBreaker {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = def.RecoveryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &storeBreaker{
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
		logger: logger,
	}
}

// allow 检查是否尝试主存储
func (b *storeBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.config.RecoveryTimeout {
			return false
		}
		b.transitionTo(CircuitHalfOpen, "recovery timeout elapsed")
		b.probing = true
		return true
	default:
		// 半开状态同一时间只放行一个探测
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// success 记录主存储成功
func (b *storeBreaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state != CircuitClosed {
		b.transitionTo(CircuitClosed, "probe succeeded")
	}
}

// failure 记录主存储失败
func (b *storeBreaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probing = false
	switch b.state {
	case CircuitClosed:
		if b.failures >= b.config.FailureThreshold {
			b.openedAt = b.now()
			b.transitionTo(CircuitOpen, "consecutive failures")
		}
	case CircuitHalfOpen:
		// 探测失败重新熔断
		b.openedAt = b.now()
		b.transitionTo(CircuitOpen, "probe failed")
	}
}

func (b *storeBreaker) current() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transitionTo 状态转换（必须在锁内调用）
func (b *storeBreaker) transitionTo(newState CircuitState, reason string) {
	oldState := b.state
	b.state = newState

	b.logger.Info("state store breaker state change",
		zap.String("old_state", oldState.String()),
		zap.String("new_state", newState.String()),
		zap.String("reason", reason),
		zap.Int("failures", b.failures))

	if b.onChange != nil {
		b.onChange(oldState, newState)
	}
}
