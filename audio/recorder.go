package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoCapture 基于 malgo 的采集流，回调运行在 miniaudio 的设备线程上
type MalgoCapture struct {
	config    InputConfig
	logger    *slog.Logger
	onCapture CaptureFunc

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu     sync.Mutex
	closed bool
}

var _ InputHandle = (*MalgoCapture)(nil)

// NewMalgoCapture 初始化 malgo 上下文并创建采集设备，但不启动
func NewMalgoCapture(cfg InputConfig, onCapture CaptureFunc, logger *slog.Logger) (*MalgoCapture, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.ChunkSize <= 0 {
		return nil, &ConfigError{Field: "input", Reason: fmt.Sprintf("invalid parameters %+v", cfg)}
	}
	if onCapture == nil {
		return nil, errors.New("capture callback cannot be nil")
	}

	c := &MalgoCapture{
		config:    cfg,
		logger:    logger,
		onCapture: onCapture,
	}

	// 初始化malgo上下文
	ctxMalgo, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	c.ctx = ctxMalgo

	// 创建设备配置
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.ChunkSize)

	device, err := malgo.InitDevice(ctxMalgo.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: c.captureCallback,
		Stop: func() {
			logger.Debug("Capture device stopped")
		},
	})
	if err != nil {
		_ = ctxMalgo.Uninit()
		ctxMalgo.Free()
		return nil, fmt.Errorf("failed to initialize audio device: %w", err)
	}
	c.device = device
	return c, nil
}

// captureCallback 不做任何阻塞操作，只解码并交给 onCapture
func (c *MalgoCapture) captureCallback(_, pcmData []byte, frameCount uint32) {
	status := StatusNominal
	expected := int(frameCount) * c.config.Channels * BytesPerSample
	if len(pcmData) != expected {
		status |= StatusFrameMismatch
	}
	c.onCapture(Block(bytesToInt16(pcmData)), status)
}

// Start 启动设备
func (c *MalgoCapture) Start() error {
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start audio device: %w", err)
	}
	c.logger.Info("Audio recording started",
		"sample_rate", c.config.SampleRate,
		"channels", c.config.Channels,
		"frame_size", c.config.ChunkSize)
	return nil
}

// Close 停止并释放设备和上下文，可重复调用
func (c *MalgoCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if c.device != nil {
		if c.device.IsStarted() {
			_ = c.device.Stop()
		}
		c.device.Uninit()
	}
	var err error
	if c.ctx != nil {
		err = c.ctx.Uninit()
		c.ctx.Free()
	}
	c.logger.Info("Audio recording stopped")
	return err
}
