package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lisuiheng/pcmlink-go/observe"
)

// Reporter 统一记录会话错误：写日志并计数，从不吞掉、重抛或 panic
type Reporter struct {
	role    string
	logger  *slog.Logger
	metrics *observe.Metrics
}

func NewReporter(role string, logger *slog.Logger, metrics *observe.Metrics) *Reporter {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Reporter{role: role, logger: logger, metrics: metrics}
}

// Report 记录错误消息及完整的错误链
func (r *Reporter) Report(where string, err error) {
	if err == nil {
		return
	}
	kind := ErrorKind(err)
	r.logger.Error(where,
		"error", err.Error(),
		"kind", kind,
		"chain", ErrorChain(err))
	r.metrics.RecordError(context.Background(), r.role, kind)
}

// ErrorChain 按深度优先展开错误链（包括 errors.Join 的分支），每层带上类型名
func ErrorChain(err error) []string {
	var chain []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		chain = append(chain, fmt.Sprintf("%T: %v", e, e))
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return chain
}

// ErrorKind 按深度优先返回错误链中第一个具名错误类型，用作指标标签
func ErrorKind(err error) string {
	var walk func(error) string
	walk = func(e error) string {
		if e == nil {
			return ""
		}
		switch t := fmt.Sprintf("%T", e); t {
		case "*errors.errorString", "*fmt.wrapError", "*fmt.wrapErrors", "*errors.joinError":
		default:
			return t
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				if kind := walk(inner); kind != "" {
					return kind
				}
			}
		case interface{ Unwrap() error }:
			return walk(u.Unwrap())
		}
		return ""
	}
	if kind := walk(err); kind != "" {
		return kind
	}
	return fmt.Sprintf("%T", err)
}
