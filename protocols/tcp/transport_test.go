package tcp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisuiheng/pcmlink-go/certs"
	"github.com/lisuiheng/pcmlink-go/logger"
	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
	"github.com/lisuiheng/pcmlink-go/utils"
)

// recordingHandler 记录服务端收到的每次 Recv 结果
type recordingHandler struct {
	readSize int

	mu     sync.Mutex
	chunks [][]byte
	errs   []error
	closed chan struct{}
}

func newRecordingHandler(readSize int) *recordingHandler {
	return &recordingHandler{readSize: readSize, closed: make(chan struct{})}
}

func (h *recordingHandler) OnLink(ctx context.Context) error { return nil }

func (h *recordingHandler) OnHandle(ctx context.Context, conn interfaces.Connection) error {
	for {
		data, err := conn.Recv(ctx, h.readSize)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.chunks = append(h.chunks, data)
		h.mu.Unlock()
	}
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
}

func (h *recordingHandler) OnConnectionClosed(conn interfaces.Connection) { close(h.closed) }

func (h *recordingHandler) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-h.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not close")
	}
}

func (h *recordingHandler) received() ([][]byte, []error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.chunks...), append([]error(nil), h.errs...)
}

// startListener 启动监听并返回实际地址，测试结束时停止
func startListener(t *testing.T, cfg Config, h interfaces.SessionHandler) string {
	t.Helper()
	cfg.Address = "127.0.0.1:0"
	l := NewListener(cfg, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Serve(ctx, func(interfaces.Connection) interfaces.SessionHandler { return h })
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("listener did not stop")
		}
	})

	select {
	case <-l.Ready():
	case err := <-done:
		t.Fatalf("listener failed: %v", err)
	}
	return l.Addr()
}

func dial(t *testing.T, cfg Config) interfaces.Connection {
	t.Helper()
	conn, err := NewDialer(cfg, logger.Discard()).Dial(context.Background())
	require.NoError(t, err)
	return conn
}

func TestRawFramingRoundTrip(t *testing.T) {
	h := newRecordingHandler(60)
	addr := startListener(t, Config{Framing: interfaces.FramingRaw}, h)

	conn := dial(t, Config{Address: addr, Framing: interfaces.FramingRaw})
	payload := bytes.Repeat([]byte{1, 2, 3, 4, 5}, 100)
	require.NoError(t, conn.Send(context.Background(), payload))
	require.NoError(t, conn.Close())

	h.waitClosed(t)
	chunks, errs := h.received()
	assert.Empty(t, errs)

	var got []byte
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 60)
		got = append(got, c...)
	}
	assert.Equal(t, payload, got)
}

func TestLineFramingPreservesMessagesAndSplitsLargeOnes(t *testing.T) {
	h := newRecordingHandler(4)
	addr := startListener(t, Config{Framing: interfaces.FramingLine}, h)

	conn := dial(t, Config{Address: addr, Framing: interfaces.FramingLine})
	ctx := context.Background()
	// '\n' 出现在二进制数据中也不影响分帧
	require.NoError(t, conn.Send(ctx, []byte{'\n', 0, 1, 2, 3, 4}))
	require.NoError(t, conn.Send(ctx, []byte{9, 9}))
	require.NoError(t, conn.Close())

	h.waitClosed(t)
	chunks, errs := h.received()
	assert.Empty(t, errs)
	assert.Equal(t, [][]byte{{'\n', 0, 1, 2}, {3, 4}, {9, 9}}, chunks)
}

func TestLineFramingErrors(t *testing.T) {
	tests := []struct {
		name  string
		wire  []byte
		limit int
	}{
		{name: "line too long", wire: bytes.Repeat([]byte("A"), 128), limit: 32},
		{name: "malformed payload", wire: []byte("!!not base64!!\n"), limit: 64},
		{name: "stream ends inside line", wire: []byte("AAAA"), limit: 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRecordingHandler(60)
			addr := startListener(t, Config{Framing: interfaces.FramingLine, MaxLineBytes: tt.limit}, h)

			raw, err := net.Dial("tcp", addr)
			require.NoError(t, err)
			_, err = raw.Write(tt.wire)
			require.NoError(t, err)
			require.NoError(t, raw.(*net.TCPConn).CloseWrite())

			h.waitClosed(t)
			_ = raw.Close()

			_, errs := h.received()
			require.Len(t, errs, 1)
			var framing *interfaces.FramingError
			assert.True(t, errors.As(errs[0], &framing), "got %v", errs[0])
		})
	}
}

func TestSendRejectsOversizedLine(t *testing.T) {
	h := newRecordingHandler(60)
	addr := startListener(t, Config{Framing: interfaces.FramingLine}, h)

	conn := dial(t, Config{Address: addr, Framing: interfaces.FramingLine, MaxLineBytes: 32})
	defer conn.Close()

	err := conn.Send(context.Background(), make([]byte, 64))
	var framing *interfaces.FramingError
	assert.True(t, errors.As(err, &framing))
}

func TestDialRetriesThenFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	d := NewDialer(Config{
		Address:     addr,
		MaxAttempts: 3,
		Backoff:     utils.NewExponentialBackoffWith(time.Millisecond, 5*time.Millisecond),
	}, logger.Discard())

	_, err = d.Dial(context.Background())
	require.Error(t, err)

	var connErr *interfaces.ConnectError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, addr, connErr.Addr)
	assert.ErrorIs(t, err, interfaces.ErrConnectionFailed)
}

func TestDialHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDialer(Config{Address: "127.0.0.1:1", MaxAttempts: 5}, logger.Discard())
	_, err := d.Dial(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecvObservesContext(t *testing.T) {
	h := newRecordingHandler(60)
	addr := startListener(t, Config{Framing: interfaces.FramingRaw}, h)
	conn := dial(t, Config{Address: addr, Framing: interfaces.FramingRaw})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := conn.Recv(ctx, 16)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTLSRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := certs.NewProvisioner(&certs.X509Provider{}, certs.Config{
		Dir:       dir,
		KeyPath:   filepath.Join(dir, "private.key"),
		CertPath:  filepath.Join(dir, "certificate.crt"),
		Subject:   "localhost",
		ValidDays: 365,
	}, logger.Discard())
	cert, err := p.Provision()
	require.NoError(t, err)

	h := newRecordingHandler(60)
	addr := startListener(t, Config{Framing: interfaces.FramingLine, TLS: certs.ServerTLSConfig(cert)}, h)

	clientTLS, err := certs.ClientTLSConfig(certs.ClientConfig{
		Enabled:    true,
		CAFile:     p.Config.CertPath,
		ServerName: "localhost",
	})
	require.NoError(t, err)

	d := NewDialer(Config{Address: addr, Framing: interfaces.FramingLine, TLS: clientTLS}, logger.Discard())
	assert.Equal(t, "tls", d.ProtocolType())
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.Send(context.Background(), []byte{1, 0, 2, 0}))
	require.NoError(t, conn.Close())

	h.waitClosed(t)
	chunks, errs := h.received()
	assert.Empty(t, errs)
	assert.Equal(t, [][]byte{{1, 0, 2, 0}}, chunks)
}

// hangupHandler 建立连接后立即结束会话，服务端随即关闭连接
type hangupHandler struct{}

func (hangupHandler) OnLink(context.Context) error                          { return nil }
func (hangupHandler) OnHandle(context.Context, interfaces.Connection) error { return nil }
func (hangupHandler) OnError(error)                                         {}
func (hangupHandler) OnConnectionClosed(interfaces.Connection)              {}

func TestRecvReportsPeerCloseAsEOF(t *testing.T) {
	for _, framing := range []interfaces.FramingMode{interfaces.FramingRaw, interfaces.FramingLine} {
		t.Run(string(framing), func(t *testing.T) {
			addr := startListener(t, Config{Framing: framing}, hangupHandler{})
			conn := dial(t, Config{Address: addr, Framing: framing})
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := conn.Recv(ctx, 512)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestServeCanRunAgainAfterStop(t *testing.T) {
	l := NewListener(Config{Address: "127.0.0.1:0", Framing: interfaces.FramingRaw}, logger.Discard())
	newHandler := func(interfaces.Connection) interfaces.SessionHandler { return hangupHandler{} }

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- l.Serve(ctx, newHandler) }()

		select {
		case <-l.Ready():
		case err := <-done:
			t.Fatalf("serve failed: %v", err)
		}
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("serve did not stop")
		}
	}
}
