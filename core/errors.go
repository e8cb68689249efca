package core

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrInvalidConfig     = errors.New("invalid config")

	// ErrSessionClosed 表示对端正常关闭了连接
	ErrSessionClosed = errors.New("session closed by peer")
)
