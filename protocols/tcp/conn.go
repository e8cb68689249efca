package tcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
)

// DefaultMaxLineBytes 行模式下单行（含换行符）的上限
const DefaultMaxLineBytes = 64 * 1024

// Conn 在 net.Conn 上实现 interfaces.Connection。
// 行模式下每条消息做 base64 编码并以换行结尾，二进制 PCM 不会与分隔符冲突
type Conn struct {
	conn    net.Conn
	reader  *bufio.Reader
	framing interfaces.FramingMode
	maxLine int
	pending []byte

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ interfaces.Connection = (*Conn)(nil)

func newConn(c net.Conn, framing interfaces.FramingMode, maxLineBytes int) *Conn {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	size := 4096
	if framing == interfaces.FramingLine {
		size = maxLineBytes
	}
	return &Conn{
		conn:    c,
		reader:  bufio.NewReaderSize(c, size),
		framing: framing,
		maxLine: maxLineBytes,
	}
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	payload := data
	if c.framing == interfaces.FramingLine {
		payload = make([]byte, base64.StdEncoding.EncodedLen(len(data))+1)
		base64.StdEncoding.Encode(payload, data)
		payload[len(payload)-1] = '\n'
		if len(payload) > c.maxLine {
			return &interfaces.FramingError{
				Mode:   c.framing,
				Reason: fmt.Sprintf("encoded message of %d bytes exceeds line limit %d", len(payload), c.maxLine),
			}
		}
	}

	if _, err := c.conn.Write(payload); err != nil {
		return c.translate(ctx, err)
	}
	return nil
}

func (c *Conn) Recv(ctx context.Context, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("invalid read size %d", maxBytes)
	}

	if c.framing == interfaces.FramingLine && len(c.pending) > 0 {
		return c.takePending(maxBytes), nil
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if c.framing == interfaces.FramingLine {
		return c.recvLine(ctx, maxBytes)
	}

	buf := make([]byte, maxBytes)
	n, err := c.reader.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, c.translate(ctx, err)
}

func (c *Conn) recvLine(ctx context.Context, maxBytes int) ([]byte, error) {
	for {
		line, err := c.reader.ReadSlice('\n')
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			return nil, &interfaces.FramingError{
				Mode:   c.framing,
				Reason: fmt.Sprintf("separator not found within %d bytes", c.maxLine),
			}
		case errors.Is(err, io.EOF) && len(line) > 0:
			return nil, &interfaces.FramingError{Mode: c.framing, Reason: "stream ended inside a line"}
		case err != nil:
			return nil, c.translate(ctx, err)
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(line)))
		n, err := base64.StdEncoding.Decode(decoded, line)
		if err != nil {
			return nil, &interfaces.FramingError{Mode: c.framing, Reason: "malformed line payload", Err: err}
		}
		if n == 0 {
			continue
		}
		c.pending = decoded[:n]
		return c.takePending(maxBytes), nil
	}
}

func (c *Conn) takePending(maxBytes int) []byte {
	n := len(c.pending)
	if n > maxBytes {
		n = maxBytes
	}
	out := c.pending[:n:n]
	c.pending = c.pending[n:]
	if len(c.pending) == 0 {
		c.pending = nil
	}
	return out
}

// translate 把底层错误转换为调用方关心的形式：取消返回 ctx.Err()，对端关闭返回 io.EOF
func (c *Conn) translate(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, net.ErrClosed) {
		return interfaces.ErrConnectionClosed
	}
	return err
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
