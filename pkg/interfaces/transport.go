// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConnectionFailed    = errors.New("connection failed")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrConnectionClosed    = errors.New("connection closed")
)

// Connection 是一条已建立（可能经过 TLS）的字节流，由唯一的会话持有
type Connection interface {
	// Send 发送一个数据块；帧格式由传输层决定
	Send(ctx context.Context, data []byte) error
	// Recv 最多返回 maxBytes 字节；流结束时返回 io.EOF
	Recv(ctx context.Context, maxBytes int) ([]byte, error)
	Close() error
	RemoteAddr() string
}

// Transport 负责建立客户端连接
type Transport interface {
	Dial(ctx context.Context) (Connection, error)
	ProtocolType() string
}

// NewHandlerFunc 为每个被接受的连接创建一个会话
type NewHandlerFunc func(conn Connection) SessionHandler

// Listener 负责接受连接并驱动会话
type Listener interface {
	Serve(ctx context.Context, newHandler NewHandlerFunc) error
	Addr() string
	ProtocolType() string
}

// SessionHandler 是传输层回调的会话生命周期钩子
type SessionHandler interface {
	// OnLink 在连接建立后调用
	OnLink(ctx context.Context) error
	// OnHandle 运行会话主循环，直到结束或出错
	OnHandle(ctx context.Context, conn Connection) error
	// OnError 接收连接或会话中的任何错误
	OnError(err error)
	// OnConnectionClosed 在连接关闭（正常或异常）后调用
	OnConnectionClosed(conn Connection)
}

// FramingMode 决定消息在字节流中的分界方式，两端必须一致
type FramingMode string

const (
	FramingLine FramingMode = "line"
	FramingRaw  FramingMode = "raw"
)

// ParseFramingMode 解析配置中的分帧模式
func ParseFramingMode(s string) (FramingMode, error) {
	switch FramingMode(strings.ToLower(strings.TrimSpace(s))) {
	case FramingLine:
		return FramingLine, nil
	case FramingRaw, "":
		return FramingRaw, nil
	default:
		return "", fmt.Errorf("unknown framing mode %q (want line or raw)", s)
	}
}
