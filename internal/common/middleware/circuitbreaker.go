package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState 熔断器状态。
type CircuitBreakerState int

const (
	StateClosed   CircuitBreakerState = iota // 正常放行
	StateOpen                                // 熔断中，直接拒绝
	StateHalfOpen                            // 试探恢复，限量放行
)

// ErrCircuitOpen 熔断开启时的调用错误。
var ErrCircuitOpen = errors.New("circuit breaker is open")

// 半开状态同时放行的试探请求上限。
const halfOpenProbes = 3

// CircuitBreaker 熔断器，保护对外部依赖的调用（如通知网关）。
// 连续失败达到阈值后打开；冷却期满进入半开，试探成功则闭合。
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu       sync.RWMutex
	state    CircuitBreakerState
	failures int
	probes   int // 半开状态已放行的试探数
	openedAt time.Time
}

// NewCircuitBreaker 创建熔断器。
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
	}
}

// Call 经熔断器执行 fn。熔断中或半开名额用尽时不执行 fn。
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.settle(err)
	return err
}

// admit 判断当前调用是否放行，并做必要的状态迁移。
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		fallthrough
	case StateHalfOpen:
		if cb.probes >= halfOpenProbes {
			return fmt.Errorf("circuit breaker %s: half-open probe limit reached", cb.name)
		}
		cb.probes++
	}
	return nil
}

// settle 根据调用结果更新计数与状态。
func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.probes = 0
		}
		cb.failures = 0
		return
	}

	cb.failures++
	cb.openedAt = time.Now()
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		cb.probes = 0
	}
}

// GetState 当前状态。
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
