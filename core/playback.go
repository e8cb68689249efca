package core

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/lisuiheng/pcmlink-go/audio"
	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
)

var _ interfaces.SessionHandler = (*PlaybackSession)(nil)

// DefaultReadCeiling 每次 Recv 的字节上限
const DefaultReadCeiling = 60

// PlaybackSession 是服务端会话，每个连接一个：接收并顺序写入共享的输出设备
type PlaybackSession struct {
	*session

	output      audio.OutputHandle
	readCeiling int
	// carry 保存上次读取末尾不足一个采样的字节
	carry []byte
}

func NewPlaybackSession(remoteAddr string, output audio.OutputHandle, readCeiling int, deps Deps) *PlaybackSession {
	if readCeiling < audio.BytesPerSample {
		readCeiling = DefaultReadCeiling
	}
	return &PlaybackSession{
		session:     newSession(RoleServer, remoteAddr, deps),
		output:      output,
		readCeiling: readCeiling,
	}
}

func (s *PlaybackSession) OnLink(ctx context.Context) error {
	s.logger.Info("Connection established", "remote_addr", s.RemoteAddr())
	return s.sm.transition(StateLinked, nil)
}

// OnHandle 循环接收并播放；对端正常结束流时返回 nil
func (s *PlaybackSession) OnHandle(ctx context.Context, conn interfaces.Connection) error {
	for {
		data, err := conn.Recv(ctx, s.readCeiling)
		if errors.Is(err, io.EOF) {
			if len(s.carry) > 0 {
				s.logger.Debug("Dropping incomplete trailing sample", "bytes", len(s.carry))
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &interfaces.RecvError{Addr: conn.RemoteAddr(), Err: err}
		}

		if s.State() == StateLinked {
			if err := s.sm.transition(StateStreaming, nil); err != nil {
				return err
			}
		}
		s.metrics.BytesReceived.Add(ctx, int64(len(data)))

		if len(s.carry) > 0 {
			data = append(s.carry, data...)
			s.carry = nil
		}
		samples, rest := audio.BlockFromBytes(data)
		if len(rest) > 0 {
			s.carry = []byte{rest[0]}
		}
		if len(samples) == 0 {
			continue
		}

		// 阻塞直到设备接收，只影响本连接的 goroutine
		if err := s.output.Write(samples); err != nil {
			return fmt.Errorf("write output device: %w", err)
		}
		s.metrics.SamplesPlayed.Add(ctx, int64(len(samples)))
	}
}

func (s *PlaybackSession) OnError(err error) {
	s.fail(err)
}

func (s *PlaybackSession) OnConnectionClosed(conn interfaces.Connection) {
	s.finish()
}
