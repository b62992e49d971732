package services

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"chatbot-backend/internal/models"
)

const instrumentationName = "chatbot-backend/internal/services"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)
)

// GenerationParams are passed through to the provider unmodified.
type GenerationParams struct {
	Model       string
	Temperature float32
}

// Gateway sends an ordered conversation to a chat-completion provider and
// returns the assistant's reply. Implementations make exactly one attempt per
// call and hold no per-session state.
type Gateway interface {
	Generate(ctx context.Context, messages []models.ChatMessage, params GenerationParams) (models.ChatMessage, error)
}

// gatewayInstruments holds the provider latency histogram and the token usage
// counters. Usage keys come from the provider response, so those counters are
// created on first sight and reused afterwards.
type gatewayInstruments struct {
	meter    metric.Meter
	duration metric.Float64Histogram

	mu    sync.Mutex
	usage map[string]metric.Int64Counter
}

var gatewayMetrics = newGatewayInstruments(meter)

func newGatewayInstruments(m metric.Meter) *gatewayInstruments {
	g := &gatewayInstruments{meter: m, usage: make(map[string]metric.Int64Counter)}
	duration, err := m.Float64Histogram(
		"upstream.request.duration",
		metric.WithDescription("Model provider request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err == nil {
		g.duration = duration
	}
	return g
}

// Recording is best effort: a broken meter never fails a turn.
func (g *gatewayInstruments) recordDuration(ctx context.Context, provider string, ms float64) {
	if g.duration == nil {
		return
	}
	g.duration.Record(ctx, ms, metric.WithAttributes(attribute.String("provider", provider)))
}

func (g *gatewayInstruments) recordUsage(ctx context.Context, usage map[string]int64) {
	for key, value := range usage {
		counter := g.usageCounter(key)
		if counter == nil {
			continue
		}
		counter.Add(ctx, value)
	}
}

func (g *gatewayInstruments) usageCounter(key string) metric.Int64Counter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if counter, ok := g.usage[key]; ok {
		return counter
	}
	counter, err := g.meter.Int64Counter(
		"llm.usage."+key,
		metric.WithDescription("LLM usage metric: "+key),
	)
	if err != nil {
		return nil
	}
	g.usage[key] = counter
	return counter
}
