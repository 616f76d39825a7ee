package saltedge

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const responseTimeWindow = 50

var (
	clientMeter           = otel.Meter("finsight/saltedge")
	clientCallDuration, _ = clientMeter.Float64Histogram("saltedge.client.duration",
		metric.WithDescription("Salt Edge API call duration in seconds"),
		metric.WithUnit("s"),
	)
	clientCallTotal, _ = clientMeter.Int64Counter("saltedge.client.total",
		metric.WithDescription("Total Salt Edge API calls by outcome"),
	)
)

// MetricsSnapshot is the performance summary exposed on the status endpoint.
type MetricsSnapshot struct {
	TotalRequests       int     `json:"totalRequests"`
	SuccessfulRequests  int     `json:"successfulRequests"`
	FailedRequests      int     `json:"failedRequests"`
	AverageResponseTime float64 `json:"averageResponseTime"` // milliseconds, last 50 calls
	SuccessRate         float64 `json:"successRate"`         // percent
}

// MetricsRecorder accumulates call outcomes in process and exports them
// through OpenTelemetry.
type MetricsRecorder struct {
	mu            sync.Mutex
	total         int
	successful    int
	failed        int
	responseTimes []time.Duration
}

func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{responseTimes: make([]time.Duration, 0, responseTimeWindow)}
}

func (m *MetricsRecorder) Record(ctx context.Context, action string, d time.Duration, success bool) {
	m.mu.Lock()
	m.total++
	if success {
		m.successful++
	} else {
		m.failed++
	}
	m.responseTimes = append(m.responseTimes, d)
	if len(m.responseTimes) > responseTimeWindow {
		m.responseTimes = m.responseTimes[len(m.responseTimes)-responseTimeWindow:]
	}
	m.mu.Unlock()

	outcome := "success"
	if !success {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("saltedge.action", action),
		attribute.String("saltedge.outcome", outcome),
	)
	clientCallDuration.Record(ctx, d.Seconds(), attrs)
	clientCallTotal.Add(ctx, 1, attrs)
}

func (m *MetricsRecorder) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSnapshot{
		TotalRequests:      m.total,
		SuccessfulRequests: m.successful,
		FailedRequests:     m.failed,
	}
	if len(m.responseTimes) > 0 {
		var sum time.Duration
		for _, d := range m.responseTimes {
			sum += d
		}
		s.AverageResponseTime = float64(sum) / float64(time.Millisecond) / float64(len(m.responseTimes))
	}
	if m.total > 0 {
		s.SuccessRate = float64(m.successful) / float64(m.total) * 100
	}
	return s
}

func (m *MetricsRecorder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total, m.successful, m.failed = 0, 0, 0
	m.responseTimes = m.responseTimes[:0]
}
