package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lisuiheng/pcmlink-go/audio"
	"github.com/lisuiheng/pcmlink-go/certs"
	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
	"github.com/lisuiheng/pcmlink-go/protocols"
)

// Client 采集本地音频并推送到服务端
type Client struct {
	config    Config
	transport interfaces.Transport
	device    audio.Device
	deps      Deps
	logger    *slog.Logger

	mu      sync.Mutex
	session *StreamingSession
}

// NewClient 创建客户端；transport 为 nil 时按配置创建
func NewClient(cfg Config, device audio.Device, transport interfaces.Transport, deps Deps) (*Client, error) {
	if device == nil {
		return nil, errors.New("audio device cannot be nil")
	}
	deps = deps.withDefaults()
	log := deps.Logger.With("component", "client")

	if transport == nil {
		clientTLS := cfg.TLS.Client
		clientTLS.Enabled = cfg.TLS.Enabled
		tlsConfig, err := certs.ClientTLSConfig(clientTLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config: %w", err)
		}
		if tlsConfig != nil && tlsConfig.InsecureSkipVerify {
			log.Warn("TLS certificate verification disabled")
		}
		transport, err = NewProtocol(cfg, tlsConfig, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
	}

	return &Client{
		config:    cfg,
		transport: transport,
		device:    device,
		deps:      deps,
		logger:    log,
	}, nil
}

// Run 连接服务端并推流，直到 ctx 取消或会话失败
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("Starting client",
		"transport", c.transport.ProtocolType(),
		"address", c.config.Network.Address)
	defer c.logger.Info("Client stopped")

	session, err := NewStreamingSession(StreamingConfig{
		Input: audio.InputConfig{
			SampleRate: c.config.Audio.SampleRate,
			Channels:   c.config.Audio.Channels,
			ChunkSize:  c.config.Audio.CaptureChunkSize,
		},
		Filter:        c.config.Audio.Filter,
		QueueCapacity: c.config.Audio.QueueCapacity,
	}, c.device, c.deps)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	return protocols.Connect(ctx, c.transport, session)
}

// State 返回当前会话状态，尚未开始时为 Created
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return StateCreated
	}
	return c.session.State()
}
