// protocols/websocket/transport.go
package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
	"github.com/lisuiheng/pcmlink-go/protocols"
)

// DefaultPath 服务端接受音频流的路径
const DefaultPath = "/stream"

var (
	_ interfaces.Transport = (*Dialer)(nil)
	_ interfaces.Listener  = (*Listener)(nil)
)

// Config 定义websocket特有的配置
type Config struct {
	// URL 客户端连接地址，例如 ws://host:port/stream
	URL string
	// Address 服务端监听地址
	Address          string
	Path             string
	TLS              *tls.Config
	HandshakeTimeout time.Duration
	// Header 握手时附加的请求头
	Header http.Header
}

// Dialer 建立 websocket 客户端连接
type Dialer struct {
	config Config
	logger *slog.Logger
}

func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Dialer{config: cfg, logger: logger}
}

func (d *Dialer) ProtocolType() string { return "websocket" }

func (d *Dialer) Dial(ctx context.Context) (interfaces.Connection, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = d.config.HandshakeTimeout
	dialer.TLSClientConfig = d.config.TLS

	ws, resp, err := dialer.DialContext(ctx, d.config.URL, d.config.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &interfaces.ConnectError{Addr: d.config.URL, Err: err}
	}

	d.logger.Info("Connected to server", "url", d.config.URL, "protocol", d.ProtocolType())
	return newConn(ws), nil
}

// Listener 通过 HTTP 升级接受 websocket 连接
type Listener struct {
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	ln        net.Listener
	ready     chan struct{}
	readyOnce sync.Once
}

func NewListener(cfg Config, logger *slog.Logger) *Listener {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	return &Listener{
		config: cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ready: make(chan struct{}),
	}
}

func (l *Listener) ProtocolType() string { return "websocket" }

// Ready 在开始监听后关闭
func (l *Listener) Ready() <-chan struct{} { return l.ready }

func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr().String()
	}
	return l.config.Address
}

// Handler 返回处理升级请求的 http.Handler，每个连接在请求 goroutine 中运行会话
func (l *Listener) Handler(ctx context.Context, newHandler interfaces.NewHandlerFunc, wg *sync.WaitGroup) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(l.config.Path, func(w http.ResponseWriter, r *http.Request) {
		if wg != nil {
			wg.Add(1)
			defer wg.Done()
		}
		ws, err := l.upgrader.Upgrade(w, r, nil)
		if err != nil {
			l.logger.Warn("Websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
			return
		}

		conn := newConn(ws)
		l.logger.Info("Accepted connection", "remote_addr", conn.RemoteAddr())
		_ = protocols.RunSession(ctx, conn, newHandler(conn))
	})
	return mux
}

// Serve 阻塞直到 ctx 取消或服务失败；返回前等待所有会话结束
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

	var sessions sync.WaitGroup
	srv := &http.Server{
		Handler:           l.Handler(ctx, newHandler, &sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}

	l.logger.Info("Listening for connections",
		"address", ln.Addr().String(),
		"path", l.config.Path,
		"protocol", l.ProtocolType(),
		"tls", l.config.TLS != nil)

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	err = srv.Serve(ln)
	sessions.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		l.logger.Info("Listener stopped", "address", ln.Addr().String())
		return nil
	}
	return err
}
