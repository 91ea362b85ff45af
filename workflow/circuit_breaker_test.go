package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestStoreBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	b := newStoreBreaker(BreakerConfig{FailureThreshold: 2, RecoveryTimeout: 10 * time.Second}, zap.NewNop())
	b.now = func() time.Time { return now }

	var transitions []string
	b.onChange = func(from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	assert.True(t, b.allow())
	b.failure()
	assert.Equal(t, CircuitClosed, b.current())
	b.failure()
	assert.Equal(t, CircuitOpen, b.current())
	assert.False(t, b.allow())

	now = now.Add(10 * time.Second)
	assert.True(t, b.allow(), "probe after recovery timeout")
	assert.Equal(t, CircuitHalfOpen, b.current())
	assert.False(t, b.allow(), "only one probe in flight")

	b.failure()
	assert.Equal(t, CircuitOpen, b.current())

	now = now.Add(10 * time.Second)
	assert.True(t, b.allow())
	b.success()
	assert.Equal(t, CircuitClosed, b.current())
	assert.True(t, b.allow())

	assert.Equal(t, []string{
		"closed->open",
		"open->half_open",
		"half_open->open",
		"open->half_open",
		"half_open->closed",
	}, transitions)
}

func TestStoreBreaker_SuccessResetsFailures(t *testing.T) {
	b := newStoreBreaker(BreakerConfig{FailureThreshold: 2}, nil)
	b.failure()
	b.success()
	b.failure()
	assert.Equal(t, CircuitClosed, b.current())
}

func TestNewStoreBreaker_Defaults(t *testing.T) {
	b := newStoreBreaker(BreakerConfig{}, nil)
	assert.Equal(t, DefaultBreakerConfig(), b.config)
	assert.Equal(t, "unknown", CircuitState(9).String())
}
