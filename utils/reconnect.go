package utils

import "time"

type ReconnectStrategy interface {
	NextDelay() time.Duration
	Reset()
}

type ExponentialBackoff struct {
	initialDelay time.Duration
	currentDelay time.Duration
	maxDelay     time.Duration
}

var _ ReconnectStrategy = (*ExponentialBackoff)(nil)

func NewExponentialBackoff() *ExponentialBackoff {
	return NewExponentialBackoffWith(1*time.Second, 30*time.Second)
}

// NewExponentialBackoffWith 使用自定义的初始和最大间隔
func NewExponentialBackoffWith(initial, maxDelay time.Duration) *ExponentialBackoff {
	if initial <= 0 {
		initial = time.Second
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &ExponentialBackoff{
		initialDelay: initial,
		currentDelay: initial,
		maxDelay:     maxDelay,
	}
}

func (e *ExponentialBackoff) NextDelay() time.Duration {
	delay := e.currentDelay
	e.currentDelay *= 2
	if e.currentDelay > e.maxDelay {
		e.currentDelay = e.maxDelay
	}
	return delay
}

func (e *ExponentialBackoff) Reset() {
	e.currentDelay = e.initialDelay
}
