package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lisuiheng/pcmlink-go/events"
	"github.com/lisuiheng/pcmlink-go/logger"
	"github.com/lisuiheng/pcmlink-go/observe"
)

const (
	RoleClient = "client"
	RoleServer = "server"
)

// Deps 是会话共享的基础设施，零值可用
type Deps struct {
	Logger  *slog.Logger
	Metrics *observe.Metrics
	Events  events.Publisher
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logger.Logger()
	}
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	return d
}

// session 是两种角色共用的状态、日志与上报逻辑
type session struct {
	id       string
	role     string
	logger   *slog.Logger
	metrics  *observe.Metrics
	events   events.Publisher
	reporter *Reporter
	sm       *stateMachine

	mu         sync.Mutex
	remoteAddr string
	active     bool
}

func newSession(role, remoteAddr string, deps Deps) *session {
	deps = deps.withDefaults()
	id := uuid.NewString()
	log := deps.Logger.With("component", role+"_session", "session_id", id)

	s := &session{
		id:         id,
		role:       role,
		logger:     log,
		metrics:    deps.Metrics,
		events:     deps.Events,
		reporter:   NewReporter(role, log, deps.Metrics),
		remoteAddr: remoteAddr,
	}
	s.sm = newStateMachine(log, s.onStateChange)
	return s
}

// ID 返回会话标识
func (s *session) ID() string { return s.id }

// State 返回当前状态
func (s *session) State() SessionState { return s.sm.State() }

func (s *session) RemoteAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAddr
}

func (s *session) setRemoteAddr(addr string) {
	s.mu.Lock()
	s.remoteAddr = addr
	s.mu.Unlock()
}

func (s *session) onStateChange(c StateChange) {
	ctx := context.Background()

	s.mu.Lock()
	switch {
	case c.To == StateLinked:
		s.active = true
		s.metrics.SessionStarted(ctx, s.role)
	case c.To.Terminal() && s.active:
		s.active = false
		s.metrics.SessionEnded(ctx, s.role)
	}
	addr := s.remoteAddr
	s.mu.Unlock()

	ev := events.Event{
		SessionID:  s.id,
		Role:       s.role,
		RemoteAddr: addr,
		From:       string(c.From),
		To:         string(c.To),
		At:         time.Now().UTC(),
	}
	if c.Err != nil {
		ev.Error = c.Err.Error()
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("Failed to publish session event", "error", err)
	}
}

// fail 进入 Failed 并上报；已终止的会话只上报
func (s *session) fail(err error) {
	if terr := s.sm.transition(StateFailed, err); terr != nil {
		s.logger.Debug("Session already terminated", "state", s.State())
	}
	where := "Session failed"
	if addr := s.RemoteAddr(); addr != "" {
		where = "Connection from " + addr + " failed"
	}
	s.reporter.Report(where, err)
}

// finish 在连接关闭后进入 Closed，Failed 状态保持不变
func (s *session) finish() {
	if s.State() == StateFailed {
		s.logger.Info("Connection closed", "state", StateFailed, "remote_addr", s.RemoteAddr())
		return
	}
	for _, next := range []SessionState{StateClosing, StateClosed} {
		if err := s.sm.transition(next, nil); err != nil {
			s.logger.Warn("Unexpected state on close", "error", err)
			return
		}
	}
	s.logger.Info("Connection closed", "remote_addr", s.RemoteAddr())
}
