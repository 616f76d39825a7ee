package saltedge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAuditLog_RingBuffer(t *testing.T) {
	a := NewAuditLog()
	for i := 0; i < 130; i++ {
		a.Record(AuditEntry{Action: fmt.Sprintf("call-%d", i)})
	}

	entries := a.Entries(AuditFilter{})
	assert.Len(t, entries, 100)
	assert.Equal(t, "call-30", entries[0].Action)
	assert.Equal(t, "call-129", entries[99].Action)
	assert.Equal(t, LevelInfo, entries[0].Level)
}

func TestAuditLog_Filters(t *testing.T) {
	a := NewAuditLog()
	a.Record(AuditEntry{Action: "getAccounts", Level: LevelInfo})
	a.Record(AuditEntry{Action: "getTransactions", Level: LevelError})
	a.Record(AuditEntry{Action: "getConnectionTransactions", Level: LevelError})
	a.Record(AuditEntry{Action: "createCustomer", Level: LevelInfo})

	assert.Len(t, a.Entries(AuditFilter{Level: LevelError}), 2)
	assert.Len(t, a.Entries(AuditFilter{Action: "Transactions"}), 2)

	last := a.Entries(AuditFilter{LastN: 1})
	if assert.Len(t, last, 1) {
		assert.Equal(t, "createCustomer", last[0].Action)
	}

	a.Clear()
	assert.Equal(t, 0, a.Len())
}

func TestMetricsRecorder_Snapshot(t *testing.T) {
	m := NewMetricsRecorder()
	ctx := context.Background()

	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())

	m.Record(ctx, "getAccounts", 100*time.Millisecond, true)
	m.Record(ctx, "getAccounts", 300*time.Millisecond, false)
	m.Record(ctx, "getAccounts", 200*time.Millisecond, true)

	s := m.Snapshot()
	assert.Equal(t, 3, s.TotalRequests)
	assert.Equal(t, 2, s.SuccessfulRequests)
	assert.Equal(t, 1, s.FailedRequests)
	assert.InDelta(t, 200.0, s.AverageResponseTime, 0.001)
	assert.InDelta(t, 66.666, s.SuccessRate, 0.01)

	m.Reset()
	assert.Equal(t, 0, m.Snapshot().TotalRequests)
}

func TestMetricsRecorder_KeepsLast50Durations(t *testing.T) {
	m := NewMetricsRecorder()
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		m.Record(ctx, "x", time.Second, true)
	}
	for i := 0; i < 50; i++ {
		m.Record(ctx, "x", 10*time.Millisecond, true)
	}

	s := m.Snapshot()
	assert.Equal(t, 100, s.TotalRequests)
	assert.InDelta(t, 10.0, s.AverageResponseTime, 0.001)
}

func TestSandboxQuota(t *testing.T) {
	q := NewSandboxQuota()

	status := q.Record("connection_attempt", "fake_client_xf", true)
	assert.Equal(t, 1, status.UsedTests)
	assert.Equal(t, 9, status.RemainingTests)
	assert.Equal(t, "fake_client_xf", status.TestHistory[0].Provider)

	for i := 0; i < 15; i++ {
		q.Record("connection_attempt", "", true)
	}
	status = q.Status()
	assert.Equal(t, 10, status.UsedTests)
	assert.Len(t, status.TestHistory, 10)
	assert.Equal(t, 0, status.RemainingTests)

	q.Reset()
	assert.Equal(t, 0, q.Status().UsedTests)
}

func TestRecommendations(t *testing.T) {
	fresh := Recommendations(QuotaStatus{TotalTests: 10, RemainingTests: 10})
	assert.Len(t, fresh, 2)
	assert.Equal(t, "high", fresh[0].Priority)

	midway := Recommendations(QuotaStatus{TotalTests: 10, UsedTests: 5, RemainingTests: 5})
	if assert.Len(t, midway, 1) {
		assert.Equal(t, "Testez la gestion d'erreurs et les cas limites", midway[0].Message)
	}

	exhausted := Recommendations(QuotaStatus{TotalTests: 10, UsedTests: 10, RemainingTests: 0})
	assert.Len(t, exhausted, 2)
	assert.Equal(t, "critical", exhausted[1].Priority)
}
