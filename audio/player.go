package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// ErrPlayerClosed 播放器关闭后写入返回该错误
var ErrPlayerClosed = errors.New("audio player closed")

// PortAudioPlayer PortAudio实现的阻塞式PCM播放器。
// Write 在设备缓冲区满时阻塞，这是播放链路唯一的流控信号
type PortAudioPlayer struct {
	config OutputConfig
	logger *slog.Logger
	stream *portaudio.Stream

	mu     sync.Mutex // 串行化所有会话的写入
	frame  []int16    // 容量固定为 ChunkSize*Channels
	buf    []int16    // 传给 PortAudio 的切片，长度随每次写入变化
	closed bool
}

var _ OutputHandle = (*PortAudioPlayer)(nil)

// NewPortAudioPlayer 初始化 PortAudio 并打开默认输出设备
func NewPortAudioPlayer(cfg OutputConfig, logger *slog.Logger) (*PortAudioPlayer, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.ChunkSize <= 0 {
		return nil, &ConfigError{Field: "output", Reason: fmt.Sprintf("invalid parameters %+v", cfg)}
	}

	// 初始化PortAudio
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	player := &PortAudioPlayer{
		config: cfg,
		logger: logger,
		frame:  make([]int16, cfg.ChunkSize*cfg.Channels),
	}
	player.buf = player.frame

	// 阻塞式输出流：传入切片指针，每次 Write 按当前长度写出
	stream, err := portaudio.OpenDefaultStream(
		0,                       // 输入通道数(0表示不录音)
		cfg.Channels,            // 输出通道数
		float64(cfg.SampleRate), // 采样率
		cfg.ChunkSize,
		&player.buf,
	)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	player.stream = stream

	// 启动音频流
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}

	logger.Info("Audio playback started",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"block_size", cfg.ChunkSize)
	return player, nil
}

// Write 分块写入设备，阻塞直到全部写完。欠载只记录，不视为错误
func (p *PortAudioPlayer) Write(samples []int16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPlayerClosed
	}

	for len(samples) > 0 {
		n := copy(p.frame, samples)
		// 只写完整的帧
		n -= n % p.config.Channels
		if n == 0 {
			break
		}
		p.buf = p.frame[:n]
		samples = samples[n:]

		if err := p.stream.Write(); err != nil {
			if errors.Is(err, portaudio.OutputUnderflowed) {
				p.logger.Debug("Audio output underflowed")
				continue
			}
			return fmt.Errorf("audio write failed: %w", err)
		}
	}
	return nil
}

// Close 停止流并终止 PortAudio。进行中的 Write 会先完成
func (p *PortAudioPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.stream != nil {
		// 停止并关闭音频流
		if err := p.stream.Stop(); err != nil {
			p.logger.Error("failed to stop audio stream", "error", err)
		}
		if err := p.stream.Close(); err != nil {
			p.logger.Error("failed to close audio stream", "error", err)
		}
	}

	// 终止PortAudio
	return portaudio.Terminate()
}
