package core

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
	"github.com/lisuiheng/pcmlink-go/protocols/tcp"
	"github.com/lisuiheng/pcmlink-go/protocols/websocket"
	"github.com/lisuiheng/pcmlink-go/utils"
)

// NewProtocol 根据配置创建客户端传输
func NewProtocol(cfg Config, tlsConfig *tls.Config, logger *slog.Logger) (interfaces.Transport, error) {
	n := cfg.Network
	switch n.Transport {
	case "tcp":
		framing, err := interfaces.ParseFramingMode(n.Framing)
		if err != nil {
			return nil, err
		}
		return tcp.NewDialer(tcp.Config{
			Address:      n.Address,
			TLS:          tlsConfig,
			Framing:      framing,
			DialTimeout:  n.DialTimeout,
			MaxLineBytes: n.MaxLineBytes,
			MaxAttempts:  n.Reconnect.MaxAttempts,
			Backoff:      backoff(n),
		}, logger.With("transport", "tcp")), nil
	case "websocket":
		return websocket.NewDialer(websocket.Config{
			URL:              websocketURL(n, tlsConfig != nil),
			TLS:              tlsConfig,
			HandshakeTimeout: n.DialTimeout,
		}, logger.With("transport", "websocket")), nil
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnsupportedProtocol, n.Transport)
	}
}

// NewListener 根据配置创建服务端监听
func NewListener(cfg Config, tlsConfig *tls.Config, logger *slog.Logger) (interfaces.Listener, error) {
	n := cfg.Network
	switch n.Transport {
	case "tcp":
		framing, err := interfaces.ParseFramingMode(n.Framing)
		if err != nil {
			return nil, err
		}
		return tcp.NewListener(tcp.Config{
			Address:      n.Address,
			TLS:          tlsConfig,
			Framing:      framing,
			MaxLineBytes: n.MaxLineBytes,
		}, logger.With("transport", "tcp")), nil
	case "websocket":
		return websocket.NewListener(websocket.Config{
			Address: n.Address,
			Path:    n.Path,
			TLS:     tlsConfig,
		}, logger.With("transport", "websocket")), nil
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnsupportedProtocol, n.Transport)
	}
}

func backoff(n NetworkConfig) utils.ReconnectStrategy {
	if n.Reconnect.InitialDelay <= 0 || n.Reconnect.MaxDelay <= 0 {
		return utils.NewExponentialBackoff()
	}
	return utils.NewExponentialBackoffWith(n.Reconnect.InitialDelay, n.Reconnect.MaxDelay)
}

func websocketURL(n NetworkConfig, secure bool) string {
	if n.URL != "" {
		return n.URL
	}
	u := url.URL{Scheme: "ws", Host: n.Address, Path: n.Path}
	if secure {
		u.Scheme = "wss"
	}
	if u.Path == "" {
		u.Path = websocket.DefaultPath
	}
	return u.String()
}
