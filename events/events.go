// Package events 把会话生命周期变化发布到 NATS
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Event 是一次会话状态变化
type Event struct {
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}

// Publisher 发布会话事件；实现必须不阻塞音频路径
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Config NATS 事件配置，NATSURL 为空时不发布
type Config struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Noop 丢弃所有事件
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Connection 抽象 NATS 连接，便于测试注入
type Connection interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// ConnectionAdapter 把 *nats.Conn 适配为 Connection
type ConnectionAdapter struct {
	conn *nats.Conn
}

func NewConnectionAdapter(conn *nats.Conn) *ConnectionAdapter {
	return &ConnectionAdapter{conn: conn}
}

func (a *ConnectionAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *ConnectionAdapter) Drain() error { return a.conn.Drain() }

// NATSPublisher 把事件以 JSON 发布到 <prefix>.<role>.<session_id>
type NATSPublisher struct {
	conn   Connection
	prefix string
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Connect 连接 NATS 并返回发布器
func Connect(cfg Config, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("pcmlink"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", cfg.NATSURL, err)
	}
	logger.Info("Connected to NATS", "url", cfg.NATSURL, "subject_prefix", cfg.SubjectPrefix)
	return NewNATSPublisher(NewConnectionAdapter(nc), cfg.SubjectPrefix, logger), nil
}

func NewNATSPublisher(conn Connection, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "pcmlink.sessions"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject 返回事件的发布主题
func (p *NATSPublisher) Subject(ev Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, ev.Role, ev.SessionID)
}

func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(ev)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("Published session event", "subject", subject, "from", ev.From, "to", ev.To)
	return nil
}

// Close 排空未发送的消息后关闭连接
func (p *NATSPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.conn.Drain()
	})
	return p.closeErr
}

// New 根据配置返回 NATS 发布器或 Noop
func New(cfg Config, logger *slog.Logger) (Publisher, error) {
	if cfg.NATSURL == "" {
		return Noop{}, nil
	}
	return Connect(cfg, logger)
}
