package audio

import "log/slog"

// SystemDevice 组合真实硬件：malgo 负责采集，PortAudio 负责播放
type SystemDevice struct {
	logger *slog.Logger
}

var _ Device = (*SystemDevice)(nil)

// NewSystemDevice 返回使用默认系统设备的 Device
func NewSystemDevice(logger *slog.Logger) *SystemDevice {
	return &SystemDevice{logger: logger}
}

func (d *SystemDevice) OpenInput(cfg InputConfig, onCapture CaptureFunc) (InputHandle, error) {
	return NewMalgoCapture(cfg, onCapture, d.logger.With("stream", "input"))
}

func (d *SystemDevice) OpenOutput(cfg OutputConfig) (OutputHandle, error) {
	return NewPortAudioPlayer(cfg, d.logger.With("stream", "output"))
}
