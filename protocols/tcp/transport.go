// protocols/tcp/transport.go
package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
	"github.com/lisuiheng/pcmlink-go/protocols"
	"github.com/lisuiheng/pcmlink-go/utils"
)

var (
	_ interfaces.Transport = (*Dialer)(nil)
	_ interfaces.Listener  = (*Listener)(nil)
)

// Config 定义 tcp 传输特有的配置
type Config struct {
	Address      string
	TLS          *tls.Config
	Framing      interfaces.FramingMode
	DialTimeout  time.Duration
	MaxLineBytes int
	// MaxAttempts 是建立连接的最大尝试次数，<=1 表示不重试
	MaxAttempts int
	Backoff     utils.ReconnectStrategy
}

// Dialer 建立到服务端的 TCP/TLS 连接
type Dialer struct {
	config Config
	logger *slog.Logger
}

func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if cfg.Backoff == nil {
		cfg.Backoff = utils.NewExponentialBackoff()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Dialer{config: cfg, logger: logger}
}

func (d *Dialer) ProtocolType() string {
	if d.config.TLS != nil {
		return "tls"
	}
	return "tcp"
}

// Dial 连接失败时按退避策略重试，用尽后返回 *interfaces.ConnectError
func (d *Dialer) Dial(ctx context.Context) (interfaces.Connection, error) {
	attempts := d.config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		c, err := d.dialOnce(ctx)
		if err == nil {
			d.config.Backoff.Reset()
			d.logger.Info("Connected to server",
				"address", d.config.Address,
				"protocol", d.ProtocolType(),
				"framing", d.config.Framing)
			return newConn(c, d.config.Framing, d.config.MaxLineBytes), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= attempts {
			return nil, &interfaces.ConnectError{Addr: d.config.Address, Err: err}
		}

		delay := d.config.Backoff.NextDelay()
		d.logger.Warn("Failed to connect, retrying",
			"address", d.config.Address,
			"attempt", attempt,
			"max_attempts", attempts,
			"retry_in", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (d *Dialer) dialOnce(ctx context.Context) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.config.DialTimeout}
	if d.config.TLS != nil {
		td := &tls.Dialer{NetDialer: nd, Config: d.config.TLS}
		return td.DialContext(ctx, "tcp", d.config.Address)
	}
	return nd.DialContext(ctx, "tcp", d.config.Address)
}

// Listener 接受连接，每个连接在独立的 goroutine 中运行会话
type Listener struct {
	config Config
	logger *slog.Logger

	mu        sync.Mutex
	ln        net.Listener
	ready     chan struct{}
	readyOnce sync.Once
}

func NewListener(cfg Config, logger *slog.Logger) *Listener {
	return &Listener{
		config: cfg,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

func (l *Listener) ProtocolType() string {
	if l.config.TLS != nil {
		return "tls"
	}
	return "tcp"
}

// Ready 在开始监听后关闭
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Addr 返回实际监听地址（端口为 0 时尤其有用）
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr().String()
	}
	return l.config.Address
}

// Serve 阻塞直到 ctx 取消或监听失败；返回前等待所有会话结束
func (l *Listener) Serve(ctx context.Context, newHandler interfaces.NewHandlerFunc) error {
	ln, err := net.Listen("tcp", l.config.Address)
	if err != nil {
		return err
	}
	if l.config.TLS != nil {
		ln = tls.NewListener(ln, l.config.TLS)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	l.readyOnce.Do(func() { close(l.ready) })

	l.logger.Info("Listening for connections",
		"address", ln.Addr().String(),
		"protocol", l.ProtocolType(),
		"framing", l.config.Framing)

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.logger.Info("Listener stopped", "address", ln.Addr().String())
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				l.logger.Warn("Accept failed, retrying", "error", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			_ = ln.Close()
			return err
		}

		conn := newConn(c, l.config.Framing, l.config.MaxLineBytes)
		l.logger.Info("Accepted connection", "remote_addr", conn.RemoteAddr())

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = protocols.RunSession(ctx, conn, newHandler(conn))
		}()
	}
}
