package interfaces

import "fmt"

// ConnectError 连接建立失败
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrConnectionFailed, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() []error { return []error{ErrConnectionFailed, e.Err} }

// SendError 发送失败，只终止当前会话
type SendError struct {
	Addr string
	Err  error
}

func (e *SendError) Error() string { return fmt.Sprintf("send to %s: %v", e.Addr, e.Err) }

func (e *SendError) Unwrap() error { return e.Err }

// RecvError 接收失败，只终止当前会话
type RecvError struct {
	Addr string
	Err  error
}

func (e *RecvError) Error() string { return fmt.Sprintf("recv from %s: %v", e.Addr, e.Err) }

func (e *RecvError) Unwrap() error { return e.Err }

// FramingError 表示无法正确切分一帧，连接不可恢复
type FramingError struct {
	Mode   FramingMode
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s framing: %s: %v", e.Mode, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s framing: %s", e.Mode, e.Reason)
}

func (e *FramingError) Unwrap() error { return e.Err }
