package audio

import (
	"errors"
	"sync"
	"time"
)

// MockDevice 实现 Device，不依赖硬件，用于测试和无声卡环境
type MockDevice struct {
	mu             sync.Mutex
	inputs         []*MockInput
	output         *MockOutput
	openInputErr   error
	openOutputErr  error
	startErr       error
	writeErr       error
	writeDelay     time.Duration
	inputOpened    chan struct{}
	inputOpenedOne sync.Once
}

var _ Device = (*MockDevice)(nil)

// NewMockDevice 创建模拟设备
func NewMockDevice() *MockDevice {
	return &MockDevice{inputOpened: make(chan struct{})}
}

// SetOpenInputError 让 OpenInput 返回错误
func (m *MockDevice) SetOpenInputError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openInputErr = err
}

// SetOpenOutputError 让 OpenOutput 返回错误
func (m *MockDevice) SetOpenOutputError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOutputErr = err
}

// SetStartError 让输入流 Start 返回错误
func (m *MockDevice) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// SetWriteError 让输出流 Write 返回错误
func (m *MockDevice) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
	if m.output != nil {
		m.output.setWriteError(err)
	}
}

// SetWriteDelay 模拟设备背压，每次 Write 阻塞指定时长
func (m *MockDevice) SetWriteDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeDelay = d
}

func (m *MockDevice) OpenInput(cfg InputConfig, onCapture CaptureFunc) (InputHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openInputErr != nil {
		return nil, m.openInputErr
	}
	if onCapture == nil {
		return nil, errors.New("capture callback cannot be nil")
	}
	in := &MockInput{config: cfg, onCapture: onCapture, startErr: m.startErr}
	m.inputs = append(m.inputs, in)
	m.inputOpenedOne.Do(func() { close(m.inputOpened) })
	return in, nil
}

func (m *MockDevice) OpenOutput(cfg OutputConfig) (OutputHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openOutputErr != nil {
		return nil, m.openOutputErr
	}
	m.output = &MockOutput{config: cfg, writeErr: m.writeErr, delay: m.writeDelay}
	return m.output, nil
}

// InputOpened 在第一次 OpenInput 之后关闭
func (m *MockDevice) InputOpened() <-chan struct{} { return m.inputOpened }

// Input 返回最近打开的输入流
func (m *MockDevice) Input() *MockInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inputs) == 0 {
		return nil
	}
	return m.inputs[len(m.inputs)-1]
}

// Output 返回最近打开的输出流
func (m *MockDevice) Output() *MockOutput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.output
}

// MockInput 模拟采集流，通过 Capture 手动触发回调
type MockInput struct {
	mu        sync.Mutex
	config    InputConfig
	onCapture CaptureFunc
	startErr  error
	started   bool
	closed    bool
}

// Config 返回打开时的参数
func (in *MockInput) Config() InputConfig { return in.config }

func (in *MockInput) Start() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.startErr != nil {
		return in.startErr
	}
	if in.closed {
		return errors.New("stream not open")
	}
	in.started = true
	return nil
}

func (in *MockInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	in.started = false
	return nil
}

// Started 报告流是否处于运行状态
func (in *MockInput) Started() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.started
}

// Capture 模拟一次设备回调；流未启动时返回 false
func (in *MockInput) Capture(block Block, status DeviceStatus) bool {
	in.mu.Lock()
	started := in.started
	cb := in.onCapture
	in.mu.Unlock()

	if !started {
		return false
	}
	cb(block, status)
	return true
}

// MockOutput 记录所有写入的数据
type MockOutput struct {
	mu       sync.Mutex
	writeMu  sync.Mutex
	config   OutputConfig
	writes   [][]int16
	writeErr error
	delay    time.Duration
	closed   bool
}

// Config 返回打开时的参数
func (out *MockOutput) Config() OutputConfig { return out.config }

func (out *MockOutput) setWriteError(err error) {
	out.mu.Lock()
	defer out.mu.Unlock()
	out.writeErr = err
}

func (out *MockOutput) Write(samples []int16) error {
	// 与真实设备一样串行化写入
	out.writeMu.Lock()
	defer out.writeMu.Unlock()

	out.mu.Lock()
	if out.writeErr != nil {
		err := out.writeErr
		out.mu.Unlock()
		return err
	}
	if out.closed {
		out.mu.Unlock()
		return ErrPlayerClosed
	}
	delay := out.delay
	dataCopy := make([]int16, len(samples))
	copy(dataCopy, samples)
	out.writes = append(out.writes, dataCopy)
	out.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

func (out *MockOutput) Close() error {
	out.mu.Lock()
	defer out.mu.Unlock()
	out.closed = true
	return nil
}

// Writes 返回所有写入记录的拷贝
func (out *MockOutput) Writes() [][]int16 {
	out.mu.Lock()
	defer out.mu.Unlock()
	result := make([][]int16, len(out.writes))
	copy(result, out.writes)
	return result
}

// Closed 报告输出是否已关闭
func (out *MockOutput) Closed() bool {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.closed
}
