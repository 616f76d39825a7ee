package saltedge

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const auditCapacity = 100

// Audit levels.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// AuditEntry is one recorded aggregator interaction.
type AuditEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Action     string         `json:"action"`
	Endpoint   string         `json:"endpoint,omitempty"`
	Method     string         `json:"method,omitempty"`
	DurationMs int64          `json:"duration,omitempty"`
	Status     string         `json:"status,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// AuditFilter narrows Entries. Zero values match everything.
type AuditFilter struct {
	Level  string
	Action string
	LastN  int
}

// AuditLog keeps the most recent aggregator interactions in memory and
// mirrors each one to the structured logger.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	now     func() time.Time
}

func NewAuditLog() *AuditLog {
	return &AuditLog{
		entries: make([]AuditEntry, 0, auditCapacity),
		now:     time.Now,
	}
}

func (a *AuditLog) Record(e AuditEntry) {
	if e.Level == "" {
		e.Level = LevelInfo
	}
	e.Timestamp = a.now()

	a.mu.Lock()
	a.entries = append(a.entries, e)
	if len(a.entries) > auditCapacity {
		a.entries = append(a.entries[:0:0], a.entries[len(a.entries)-auditCapacity:]...)
	}
	a.mu.Unlock()

	event := log.WithLevel(zerologLevel(e.Level)).
		Str("component", "saltedge").
		Str("action", e.Action)
	if e.Method != "" {
		event = event.Str("method", e.Method)
	}
	if e.Endpoint != "" {
		event = event.Str("endpoint", e.Endpoint)
	}
	if e.DurationMs > 0 {
		event = event.Int64("duration_ms", e.DurationMs)
	}
	if e.Status != "" {
		event = event.Str("status", e.Status)
	}
	if len(e.Details) > 0 {
		event = event.Interface("details", e.Details)
	}
	if e.Error != "" {
		event = event.Str("error", e.Error)
	}
	event.Msg("saltedge call")
}

// Entries returns a copy of the matching entries, oldest first.
func (a *AuditLog) Entries(f AuditFilter) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]AuditEntry, 0, len(a.entries))
	for _, e := range a.entries {
		if f.Level != "" && e.Level != f.Level {
			continue
		}
		if f.Action != "" && !strings.Contains(e.Action, f.Action) {
			continue
		}
		out = append(out, e)
	}
	if f.LastN > 0 && len(out) > f.LastN {
		out = out[len(out)-f.LastN:]
	}
	return out
}

func (a *AuditLog) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = a.entries[:0]
}

func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func zerologLevel(level string) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
