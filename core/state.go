package core

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// SessionState 表示会话状态
type SessionState string

const (
	StateCreated   SessionState = "created"
	StateLinked    SessionState = "linked"
	StateStreaming SessionState = "streaming"
	StateClosing   SessionState = "closing"
	StateClosed    SessionState = "closed"
	StateFailed    SessionState = "failed"
)

// Failed 可以从任意非终止状态进入
var transitions = map[SessionState][]SessionState{
	StateCreated:   {StateLinked, StateClosing, StateFailed},
	StateLinked:    {StateStreaming, StateClosing, StateFailed},
	StateStreaming: {StateClosing, StateFailed},
	StateClosing:   {StateClosed, StateFailed},
}

// Terminal 报告状态是否为终止状态
func (s SessionState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// CanTransition 报告 from -> to 是否合法
func CanTransition(from, to SessionState) bool {
	return slices.Contains(transitions[from], to)
}

// StateChange 描述一次状态变化，Err 为导致变化的错误（若有）
type StateChange struct {
	From SessionState
	To   SessionState
	Err  error
}

type stateMachine struct {
	mu       sync.Mutex
	state    SessionState
	logger   *slog.Logger
	onChange func(StateChange)
}

func newStateMachine(logger *slog.Logger, onChange func(StateChange)) *stateMachine {
	return &stateMachine{state: StateCreated, logger: logger, onChange: onChange}
}

func (m *stateMachine) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition 切换状态；相同状态视为成功。
// 回调在锁内执行以保证事件顺序与状态顺序一致
func (m *stateMachine) transition(to SessionState, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	m.state = to
	m.logger.Info("State changed", "from", from, "to", to)
	if m.onChange != nil {
		m.onChange(StateChange{From: from, To: to, Err: cause})
	}
	return nil
}
