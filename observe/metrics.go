// Package observe 提供音频链路的 OpenTelemetry 指标。
//
// 测试中使用 NewMetrics 搭配独立的 MeterProvider，避免全局状态互相污染；
// 运行时通过 InitProvider 注册 Prometheus 导出器并由 Handler 暴露 /metrics
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/lisuiheng/pcmlink-go"

// Metrics 汇总所有指标，字段并发安全
type Metrics struct {
	// 客户端
	BlocksCaptured metric.Int64Counter
	BlocksGated    metric.Int64Counter
	BlocksSent     metric.Int64Counter
	BytesSent      metric.Int64Counter
	QueueDrops     metric.Int64Counter

	// 服务端
	BytesReceived metric.Int64Counter
	SamplesPlayed metric.Int64Counter

	// ActiveSessions 按 role 区分
	ActiveSessions metric.Int64UpDownCounter
	// Errors 按 role 和 kind（错误类型）区分
	Errors metric.Int64Counter
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.BlocksCaptured, err = m.Int64Counter("pcmlink.blocks.captured",
		metric.WithDescription("Audio blocks delivered by the capture device."),
	); err != nil {
		return nil, err
	}
	if met.BlocksGated, err = m.Int64Counter("pcmlink.blocks.gated",
		metric.WithDescription("Audio blocks discarded by the noise gate."),
	); err != nil {
		return nil, err
	}
	if met.BlocksSent, err = m.Int64Counter("pcmlink.blocks.sent",
		metric.WithDescription("Audio blocks written to the connection."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("pcmlink.bytes.sent",
		metric.WithDescription("PCM bytes written to the connection."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.QueueDrops, err = m.Int64Counter("pcmlink.queue.drops",
		metric.WithDescription("Blocks dropped by a bounded capture queue."),
	); err != nil {
		return nil, err
	}
	if met.BytesReceived, err = m.Int64Counter("pcmlink.bytes.received",
		metric.WithDescription("PCM bytes read from connections."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.SamplesPlayed, err = m.Int64Counter("pcmlink.samples.played",
		metric.WithDescription("Samples written to the output device."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("pcmlink.active_sessions",
		metric.WithDescription("Number of live streaming or playback sessions."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("pcmlink.errors",
		metric.WithDescription("Session errors by role and kind."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics 返回基于全局 MeterProvider 的实例，首次调用时创建
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) RecordError(ctx context.Context, role, kind string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("kind", kind),
	))
}

func (m *Metrics) SessionStarted(ctx context.Context, role string) {
	m.ActiveSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

func (m *Metrics) SessionEnded(ctx context.Context, role string) {
	m.ActiveSessions.Add(ctx, -1, metric.WithAttributes(attribute.String("role", role)))
}
