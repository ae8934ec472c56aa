// Package observe 提供基于 OpenTelemetry 的指标采集，并通过
// Prometheus exporter 暴露给 /metrics 抓取端点。
package observe

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// meterName 是所有指标共用的 instrumentation scope。
const meterName = "github.com/echotalk/backend"

// latencyBuckets 针对语音流水线延迟选取的直方图边界（秒）。
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// Metrics 持有全部指标仪表。各字段由 OTel 自行保证并发安全。
// 所有记录方法都允许 nil 接收者，便于测试中不接指标。
type Metrics struct {
	// ActiveSessions 当前存活的实时语音会话数。
	ActiveSessions metric.Int64UpDownCounter

	// Turns 完成的对话轮次计数。
	Turns metric.Int64Counter

	// PipelineFailures 响应流水线各阶段的失败计数，带 stage 属性。
	PipelineFailures metric.Int64Counter

	// GenerationDuration 追问生成延迟。
	GenerationDuration metric.Float64Histogram

	// SynthesisDuration 语音合成延迟。
	SynthesisDuration metric.Float64Histogram
}

// NewMetrics 基于给定的 MeterProvider 创建全部仪表。
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.ActiveSessions, err = m.Int64UpDownCounter("echotalk.realtime.active_sessions",
		metric.WithDescription("Number of live realtime voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("echotalk.conversation.turns",
		metric.WithDescription("Total completed conversation turns."),
	); err != nil {
		return nil, err
	}
	if met.PipelineFailures, err = m.Int64Counter("echotalk.pipeline.failures",
		metric.WithDescription("Total response pipeline failures by stage."),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("echotalk.generation.duration",
		metric.WithDescription("Latency of follow-up question generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("echotalk.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// InitProvider 安装全局 MeterProvider，并返回供 /metrics 使用的 registry。
func InitProvider() (*sdkmetric.MeterProvider, *prometheus.Registry, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("observe: create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "echotalk-backend"),
		)),
	)
	otel.SetMeterProvider(mp)
	return mp, registry, nil
}

// Handler 返回指标抓取端点。
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SessionStarted 记录一个实时会话开始。
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded 记录一个实时会话结束。
func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}

// TurnCompleted 记录一个完整的对话轮次。
func (m *Metrics) TurnCompleted(ctx context.Context) {
	if m == nil {
		return
	}
	m.Turns.Add(ctx, 1)
}

// PipelineFailure 记录流水线某阶段的失败。
func (m *Metrics) PipelineFailure(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.PipelineFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// ObserveGeneration 记录一次追问生成耗时。
func (m *Metrics) ObserveGeneration(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.GenerationDuration.Record(ctx, seconds)
}

// ObserveSynthesis 记录一次语音合成耗时。
func (m *Metrics) ObserveSynthesis(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.SynthesisDuration.Record(ctx, seconds)
}
