// protocols/websocket/connection.go
package websocket

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
)

const closeGracePeriod = time.Second

// Conn 把 websocket 二进制消息适配为 interfaces.Connection。
// 每次 Send 对应一条消息；Recv 读到的消息超过上限时保留余下部分
type Conn struct {
	ws      *websocket.Conn
	pending []byte

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ interfaces.Connection = (*Conn)(nil)

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return c.translate(ctx, err)
	}
	return nil
}

func (c *Conn) Recv(ctx context.Context, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, errors.New("invalid read size")
	}
	if len(c.pending) > 0 {
		return c.takePending(maxBytes), nil
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, c.translate(ctx, err)
		}
		if msgType != websocket.BinaryMessage {
			return nil, &interfaces.FramingError{
				Mode:   "websocket",
				Reason: "unexpected non-binary message",
			}
		}
		if len(data) == 0 {
			continue
		}
		c.pending = data
		return c.takePending(maxBytes), nil
	}
}

func (c *Conn) takePending(maxBytes int) []byte {
	n := min(len(c.pending), maxBytes)
	out := c.pending[:n:n]
	c.pending = c.pending[n:]
	if len(c.pending) == 0 {
		c.pending = nil
	}
	return out
}

func (c *Conn) translate(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return interfaces.ErrConnectionClosed
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

// Close 先尝试发送关闭帧，再关闭底层连接；可重复调用
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() string {
	if addr := c.ws.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
