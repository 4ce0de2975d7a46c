package telemetry

import (
	"context"
	"fmt"

	"github.com/BaSui01/voiceflow/voice/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// =============================================================================
// 📈 回合指标（OTel）
// =============================================================================

// TurnMeter records finished turns as OTel metrics. It implements
// events.Publisher so it can sit next to the NATS publisher.
type TurnMeter struct {
	turns      metric.Int64Counter
	total      metric.Int64Histogram
	firstAudio metric.Int64Histogram
	tokens     metric.Int64Counter
}

var _ events.Publisher = (*TurnMeter)(nil)

// NewTurnMeter creates the instruments on mp, or on the global provider when nil.
func NewTurnMeter(mp metric.MeterProvider) (*TurnMeter, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("voiceflow/turn")

	turns, err := meter.Int64Counter("voiceflow.turns",
		metric.WithDescription("Finished voice turns"))
	if err != nil {
		return nil, fmt.Errorf("create turns counter: %w", err)
	}
	total, err := meter.Int64Histogram("voiceflow.turn.duration",
		metric.WithDescription("Turn duration from start to terminal event"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create turn duration histogram: %w", err)
	}
	firstAudio, err := meter.Int64Histogram("voiceflow.turn.first_audio",
		metric.WithDescription("Time to the first synthesized audio chunk"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create first audio histogram: %w", err)
	}
	tokens, err := meter.Int64Counter("voiceflow.turn.tokens",
		metric.WithDescription("Estimated tokens of final turn texts"))
	if err != nil {
		return nil, fmt.Errorf("create tokens counter: %w", err)
	}
	return &TurnMeter{turns: turns, total: total, firstAudio: firstAudio, tokens: tokens}, nil
}

// PublishTurn implements events.Publisher.
func (m *TurnMeter) PublishTurn(ctx context.Context, s events.TurnSummary) error {
	attrs := metric.WithAttributes(
		attribute.String("outcome", s.Outcome),
		attribute.Bool("has_errors", s.HasErrors),
		attribute.Bool("persisted", s.Persisted),
	)
	m.turns.Add(ctx, 1, attrs)
	if v, ok := int64Metric(s.Metrics, "totalMs"); ok {
		m.total.Record(ctx, v, attrs)
	}
	if v, ok := int64Metric(s.Metrics, "firstAudioMs"); ok && v > 0 {
		m.firstAudio.Record(ctx, v, attrs)
	}
	if v, ok := int64Metric(s.Metrics, "tokenEstimate"); ok && v > 0 {
		m.tokens.Add(ctx, v, attrs)
	}
	return nil
}

// Close implements events.Publisher.
func (m *TurnMeter) Close() error { return nil }

func int64Metric(m map[string]any, key string) (int64, bool) {
	switch v := m[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
