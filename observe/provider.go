package observe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig 配置 OTel SDK
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
	// Registry 为空时使用独立的 prometheus.Registry
	Registry *prometheus.Registry
}

// Provider 持有已注册为全局的 MeterProvider 及其 Prometheus 注册表
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	registry      *prometheus.Registry
}

// InitProvider 创建带 Prometheus 导出器的 MeterProvider 并注册为全局
func InitProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "pcmlink"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	exp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registry))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	otel.SetMeterProvider(mp)

	return &Provider{meterProvider: mp, registry: cfg.Registry}, nil
}

// MeterProvider 用于 NewMetrics
func (p *Provider) MeterProvider() *sdkmetric.MeterProvider { return p.meterProvider }

// Handler 返回 Prometheus 抓取接口
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Provider) Shutdown(ctx context.Context) error {
	return p.meterProvider.Shutdown(ctx)
}

// Serve 在 address 上暴露 /metrics，直到 ctx 取消
func (p *Provider) Serve(ctx context.Context, address string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.Info("Serving metrics", "address", address, "path", "/metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
