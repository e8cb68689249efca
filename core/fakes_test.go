package core

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lisuiheng/pcmlink-go/audio"
	"github.com/lisuiheng/pcmlink-go/logger"
	"github.com/lisuiheng/pcmlink-go/observe"
	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
)

// fakeConn 是内存中的 interfaces.Connection。
// reads 依次由 Recv 返回，读完后返回 io.EOF；若 block 为真则改为等待 ctx 或 Hangup
type fakeConn struct {
	mu      sync.Mutex
	addr    string
	sent    [][]byte
	sendErr error
	reads   [][]byte
	recvErr error
	block   bool
	closed  bool
	hangup  chan struct{}
	hungUp  bool
}

var _ interfaces.Connection = (*fakeConn)(nil)

var errBrokenPipe = errors.New("write: broken pipe")

func newFakeConn(addr string, reads ...[]byte) *fakeConn {
	return &fakeConn{addr: addr, reads: reads, hangup: make(chan struct{})}
}

// newIdleConn 返回一个对端从不发送数据、也不主动关闭的连接
func newIdleConn(addr string) *fakeConn {
	c := newFakeConn(addr)
	c.block = true
	return c
}

// Hangup 模拟对端正常关闭：阻塞中的 Recv 返回 io.EOF，之后的 Send 失败
func (c *fakeConn) Hangup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hungUp {
		c.hungUp = true
		close(c.hangup)
	}
}

func (c *fakeConn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.hungUp {
		return errBrokenPipe
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Recv(ctx context.Context, maxBytes int) ([]byte, error) {
	c.mu.Lock()
	if len(c.reads) > 0 {
		data := c.reads[0]
		if len(data) > maxBytes {
			c.reads[0] = data[maxBytes:]
			data = data[:maxBytes]
		} else {
			c.reads = c.reads[1:]
		}
		c.mu.Unlock()
		return data, nil
	}
	recvErr, block := c.recvErr, c.block
	c.mu.Unlock()

	if recvErr != nil {
		return nil, recvErr
	}
	if block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.hangup:
			return nil, io.EOF
		}
	}
	return nil, io.EOF
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

func (c *fakeConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeTransport 返回预设的连接或错误
type fakeTransport struct {
	conn interfaces.Connection
	err  error
}

func (t *fakeTransport) Dial(ctx context.Context) (interfaces.Connection, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.conn, nil
}

func (t *fakeTransport) ProtocolType() string { return "fake" }

func newTestDeps(t *testing.T) (Deps, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)
	return Deps{Logger: logger.Discard(), Metrics: m}, reader
}

// counterValue 汇总某个 int64 计数器的所有数据点，未记录时为 0
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func tone(n int, amplitude float64) audio.Block {
	b := make(audio.Block, n)
	for i := range b {
		b[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/44100))
	}
	return b
}
