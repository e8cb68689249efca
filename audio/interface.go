// audio/interface.go
package audio

import "fmt"

// DeviceStatus 描述一次采集回调时设备报告的状态
type DeviceStatus uint8

const (
	StatusNominal DeviceStatus = 0
	// StatusInputOverflow 表示设备在回调之间丢失了输入数据
	StatusInputOverflow DeviceStatus = 1 << iota
	// StatusFrameMismatch 表示回调交付的字节数与帧数不一致
	StatusFrameMismatch
)

// Nominal 报告状态是否正常
func (s DeviceStatus) Nominal() bool { return s == StatusNominal }

func (s DeviceStatus) String() string {
	if s.Nominal() {
		return "nominal"
	}
	var out string
	if s&StatusInputOverflow != 0 {
		out += "input overflow"
	}
	if s&StatusFrameMismatch != 0 {
		if out != "" {
			out += ", "
		}
		out += "frame mismatch"
	}
	if out == "" {
		out = fmt.Sprintf("status(0x%02x)", uint8(s))
	}
	return out
}

// CaptureFunc 在设备自己的线程上被调用，不能阻塞
type CaptureFunc func(block Block, status DeviceStatus)

// InputConfig 采集参数
type InputConfig struct {
	SampleRate int
	Channels   int
	ChunkSize  int // 每次回调的帧数
}

// OutputConfig 播放参数
type OutputConfig struct {
	SampleRate int
	Channels   int
	ChunkSize  int // 设备缓冲块的帧数
}

// Device 定义音频设备能力：采集回调与阻塞写入
type Device interface {
	OpenInput(cfg InputConfig, onCapture CaptureFunc) (InputHandle, error)
	OpenOutput(cfg OutputConfig) (OutputHandle, error)
}

// InputHandle 是一个已打开的采集流
type InputHandle interface {
	Start() error
	Close() error
}

// OutputHandle 是一个已打开的播放流。Write 会阻塞直到设备缓冲区有空间，
// 并发调用由实现串行化
type OutputHandle interface {
	Write(samples []int16) error
	Close() error
}
