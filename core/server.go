package core

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lisuiheng/pcmlink-go/audio"
	"github.com/lisuiheng/pcmlink-go/certs"
	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
)

// Server 接受连接并把每个连接的音频写入同一个输出设备
type Server struct {
	config   Config
	device   audio.Device
	provider certs.Provider
	deps     Deps
	logger   *slog.Logger

	newListener func(Config, *tls.Config, *slog.Logger) (interfaces.Listener, error)
}

func NewServer(cfg Config, device audio.Device, deps Deps) (*Server, error) {
	if device == nil {
		return nil, errors.New("audio device cannot be nil")
	}
	deps = deps.withDefaults()
	return &Server{
		config:      cfg,
		device:      device,
		provider:    &certs.X509Provider{},
		deps:        deps,
		logger:      deps.Logger.With("component", "server"),
		newListener: NewListener,
	}, nil
}

// Run 依次完成证书准备、打开输出设备和监听，阻塞直到 ctx 取消。
// 输出设备在启动时打开，退出时关闭
func (s *Server) Run(ctx context.Context) error {
	var tlsConfig *tls.Config
	if s.config.TLS.Enabled {
		provisioner := certs.NewProvisioner(s.provider, s.config.TLS.Server, s.logger)
		cert, err := provisioner.Provision()
		if err != nil {
			return fmt.Errorf("failed to provision TLS material: %w", err)
		}
		tlsConfig = certs.ServerTLSConfig(cert)
	}

	output, err := s.device.OpenOutput(audio.OutputConfig{
		SampleRate: s.config.Audio.SampleRate,
		Channels:   s.config.Audio.Channels,
		ChunkSize:  s.config.Audio.OutputBlockSize,
	})
	if err != nil {
		return fmt.Errorf("failed to open output device: %w", err)
	}
	defer func() {
		if err := output.Close(); err != nil {
			s.logger.Error("Failed to close output device", "error", err)
		}
	}()

	listener, err := s.newListener(s.config, tlsConfig, s.deps.Logger)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.logger.Info("Starting server",
		"address", s.config.Network.Address,
		"transport", listener.ProtocolType(),
		"read_ceiling", s.config.Audio.ReadCeiling)
	defer s.logger.Info("Server stopped")

	return listener.Serve(ctx, func(conn interfaces.Connection) interfaces.SessionHandler {
		return NewPlaybackSession(conn.RemoteAddr(), output, s.config.Audio.ReadCeiling, s.deps)
	})
}
