package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrBridgeClosed 在桥关闭且队列已排空后由 Next 返回
var ErrBridgeClosed = errors.New("capture bridge closed")

// Bridge 把设备线程上的采集回调转交给会话 goroutine。
// 生产者只做加锁追加和非阻塞通知，从不等待消费者
type Bridge struct {
	mu       sync.Mutex
	queue    []Block
	capacity int // 0 表示无界
	closed   bool
	closeErr error
	notify   chan struct{}

	captured atomic.Uint64
	dropped  atomic.Uint64
	logger   *slog.Logger
}

// BridgeOption 配置 Bridge
type BridgeOption func(*Bridge)

// WithCapacity 限制队列长度，满时丢弃最旧的块
func WithCapacity(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// NewBridge 创建采集桥
func NewBridge(logger *slog.Logger, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		notify: make(chan struct{}, 1),
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnCapture 是设备回调，可在任意线程调用。状态异常只记录警告，不丢弃数据
func (b *Bridge) OnCapture(block Block, status DeviceStatus) {
	if !status.Nominal() {
		b.logger.Warn("Capture device reported abnormal status",
			"status", status.String(),
			"frames", len(block))
	}

	// 设备可能复用缓冲区
	block = block.Clone()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.capacity > 0 && len(b.queue) >= b.capacity {
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.dropped.Add(1)
	}
	b.queue = append(b.queue, block)
	b.mu.Unlock()

	b.captured.Add(1)
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Next 挂起直到有块可用，按 FIFO 顺序返回
func (b *Bridge) Next(ctx context.Context) (Block, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			block := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return block, nil
		}
		if b.closed {
			err := b.closeErr
			b.mu.Unlock()
			return nil, err
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close 关闭桥，已排队的块仍可被取出
func (b *Bridge) Close() {
	b.CloseWithError(nil)
}

// CloseWithError 关闭桥，队列排空后 Next 返回 err（为 nil 时返回 ErrBridgeClosed）
func (b *Bridge) CloseWithError(err error) {
	if err == nil {
		err = ErrBridgeClosed
	}
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		b.closeErr = err
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Len 返回当前排队的块数
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Captured 返回累计收到的块数
func (b *Bridge) Captured() uint64 { return b.captured.Load() }

// Dropped 返回有界模式下丢弃的块数
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }
