package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lisuiheng/pcmlink-go/audio"
	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
)

var _ interfaces.SessionHandler = (*StreamingSession)(nil)

// StreamingConfig 客户端会话参数
type StreamingConfig struct {
	Input         audio.InputConfig
	Filter        audio.FilterConfig
	QueueCapacity int
}

// StreamingSession 是客户端会话：采集、过滤并发送。
// 它是连接唯一的写入者
type StreamingSession struct {
	*session

	device audio.Device
	input  audio.InputConfig
	filter *audio.Filter
	bridge *audio.Bridge

	feedOnce   sync.Once
	feedCancel context.CancelFunc
	feedDone   chan struct{}
	stopOnce   sync.Once

	seenCaptured uint64
	seenDropped  uint64
}

func NewStreamingSession(cfg StreamingConfig, device audio.Device, deps Deps) (*StreamingSession, error) {
	filter, err := audio.NewFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}

	s := &StreamingSession{
		session:  newSession(RoleClient, "", deps),
		device:   device,
		input:    cfg.Input,
		filter:   filter,
		feedDone: make(chan struct{}),
	}
	s.bridge = audio.NewBridge(s.logger, audio.WithCapacity(cfg.QueueCapacity))
	return s, nil
}

// OnLink 启动采集 goroutine 并进入 Linked
func (s *StreamingSession) OnLink(ctx context.Context) error {
	s.feedOnce.Do(func() {
		feedCtx, cancel := context.WithCancel(ctx)
		s.feedCancel = cancel
		go s.captureFeed(feedCtx)
	})
	return s.sm.transition(StateLinked, nil)
}

// captureFeed 打开输入设备并保持到 ctx 取消；失败时以该错误关闭采集桥
func (s *StreamingSession) captureFeed(ctx context.Context) {
	defer close(s.feedDone)

	handle, err := s.device.OpenInput(s.input, s.bridge.OnCapture)
	if err != nil {
		s.bridge.CloseWithError(fmt.Errorf("open input device: %w", err))
		return
	}
	defer func() {
		if err := handle.Close(); err != nil {
			s.logger.Warn("Failed to close input device", "error", err)
		}
	}()

	if err := handle.Start(); err != nil {
		s.bridge.CloseWithError(fmt.Errorf("start input device: %w", err))
		return
	}
	s.logger.Info("Recording",
		"sample_rate", s.input.SampleRate,
		"channels", s.input.Channels,
		"chunk_size", s.input.ChunkSize)

	<-ctx.Done()
	s.logger.Debug("Capture feed stopped")
}

// OnHandle 循环取块、平滑、门限判断并发送，直到取消、对端关闭或出错。
// 对端正常关闭连接时返回 nil
func (s *StreamingSession) OnHandle(ctx context.Context, conn interfaces.Connection) error {
	s.setRemoteAddr(conn.RemoteAddr())

	loopCtx, cancel := context.WithCancelCause(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		s.watchPeer(loopCtx, conn, cancel)
	}()
	defer func() {
		cancel(nil)
		<-watchDone
	}()

	for {
		block, err := s.bridge.Next(loopCtx)
		if err != nil {
			return s.exitErr(ctx, loopCtx, err)
		}
		s.syncQueueMetrics(ctx)

		if s.State() == StateLinked {
			if err := s.sm.transition(StateStreaming, nil); err != nil {
				return err
			}
		}

		smoothed, keep := s.filter.Process(block)
		if !keep {
			s.metrics.BlocksGated.Add(ctx, 1)
			continue
		}

		data := smoothed.Bytes()
		if err := conn.Send(loopCtx, data); err != nil {
			// 对端关闭后的写入失败可能先于 EOF 到达
			select {
			case <-watchDone:
			case <-time.After(peerCloseGrace):
			}
			if loopCtx.Err() != nil {
				return s.exitErr(ctx, loopCtx, err)
			}
			return &interfaces.SendError{Addr: conn.RemoteAddr(), Err: err}
		}
		s.metrics.BlocksSent.Add(ctx, 1)
		s.metrics.BytesSent.Add(ctx, int64(len(data)))
	}
}

// peerCloseGrace 发送失败后等待读端确认对端关闭的时间
const peerCloseGrace = 200 * time.Millisecond

// watchPeer 持续读取连接以发现对端关闭。服务端不发送数据，读到的字节直接丢弃
func (s *StreamingSession) watchPeer(ctx context.Context, conn interfaces.Connection, cancel context.CancelCauseFunc) {
	for {
		_, err := conn.Recv(ctx, watchReadSize)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, io.EOF):
			s.logger.Info("Server closed the connection", "remote_addr", conn.RemoteAddr())
			cancel(ErrSessionClosed)
			return
		default:
			cancel(&interfaces.RecvError{Addr: conn.RemoteAddr(), Err: err})
			return
		}
	}
}

const watchReadSize = 512

// exitErr 决定发送循环的返回值：外部取消优先，其次是对端关闭（正常结束）和读端错误
func (s *StreamingSession) exitErr(ctx, loopCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if loopCtx.Err() == nil {
		return err
	}
	cause := context.Cause(loopCtx)
	if errors.Is(cause, ErrSessionClosed) {
		return nil
	}
	return cause
}

func (s *StreamingSession) syncQueueMetrics(ctx context.Context) {
	if c := s.bridge.Captured(); c > s.seenCaptured {
		s.metrics.BlocksCaptured.Add(ctx, int64(c-s.seenCaptured))
		s.seenCaptured = c
	}
	if d := s.bridge.Dropped(); d > s.seenDropped {
		s.metrics.QueueDrops.Add(ctx, int64(d-s.seenDropped))
		s.logger.Warn("Capture queue overflow, dropped oldest blocks", "dropped_total", d)
		s.seenDropped = d
	}
}

func (s *StreamingSession) OnError(err error) {
	s.fail(err)
}

// OnConnectionClosed 停止采集并进入 Closed（Failed 保持不变）
func (s *StreamingSession) OnConnectionClosed(conn interfaces.Connection) {
	s.stopFeed()
	s.finish()
}

func (s *StreamingSession) stopFeed() {
	s.stopOnce.Do(func() {
		s.feedOnce.Do(func() {}) // 未启动时阻止之后再启动
		if s.feedCancel != nil {
			s.feedCancel()
			<-s.feedDone
		}
		s.bridge.Close()
	})
}
