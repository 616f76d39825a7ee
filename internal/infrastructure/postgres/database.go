package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	dbTracer = otel.Tracer("finsight.db")
	dbMeter  = otel.Meter("finsight.db")
)

// Pool settings
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
	pingTimeout     = 5 * time.Second

	maxStatementLen = 256
)

// DB is a *sql.DB whose query methods open a span and record a duration per
// statement. Repositories only ever see this type.
type DB struct {
	*sql.DB
	duration metric.Float64Histogram
}

func New(connStr string) (*DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Int("max_open_conns", maxOpenConns).Msg("database connection established")

	return wrap(db), nil
}

func wrap(db *sql.DB) *DB {
	duration, err := dbMeter.Float64Histogram("db.client.operation.duration",
		metric.WithDescription("Duration of database statements"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Warn().Err(err).Msg("db duration histogram unavailable")
	}
	return &DB{DB: db, duration: duration}
}

// Ping reports whether the database answers within the health check deadline.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return db.DB.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// statement carries the span and timing of one SQL call until it finishes.
type statement struct {
	db    *DB
	span  trace.Span
	attrs []attribute.KeyValue
	start time.Time
}

func (db *DB) begin(ctx context.Context, name, query string) (context.Context, *statement) {
	op, table := describeStatement(query)
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", op),
	}
	if table != "" {
		attrs = append(attrs, attribute.String("db.sql.table", table))
	}

	ctx, span := dbTracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		append(attrs, attribute.String("db.statement", normalizeStatement(query)))...,
	))
	return ctx, &statement{db: db, span: span, attrs: attrs, start: time.Now()}
}

func (s *statement) end(ctx context.Context, err error) {
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
	if s.db.duration != nil {
		s.db.duration.Record(ctx, time.Since(s.start).Seconds(), metric.WithAttributes(s.attrs...))
	}
}

// QueryContext wraps sql.DB.QueryContext with tracing.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx, stmt := db.begin(ctx, "db.Query", query)
	rows, err := db.DB.QueryContext(ctx, query, args...)
	stmt.end(ctx, err)
	return rows, err
}

// Row is returned by QueryRowContext. sql.Row defers every error to Scan, so
// the statement is only finished there.
type Row struct {
	ctx  context.Context
	row  *sql.Row
	stmt *statement
}

func (r *Row) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if r.stmt != nil {
		r.stmt.end(r.ctx, err)
		r.stmt = nil
	}
	return err
}

// QueryRowContext wraps sql.DB.QueryRowContext with tracing.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *Row {
	ctx, stmt := db.begin(ctx, "db.QueryRow", query)
	return &Row{ctx: ctx, row: db.DB.QueryRowContext(ctx, query, args...), stmt: stmt}
}

// ExecContext wraps sql.DB.ExecContext with tracing.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, stmt := db.begin(ctx, "db.Exec", query)
	result, err := db.DB.ExecContext(ctx, query, args...)
	stmt.end(ctx, err)
	return result, err
}

// describeStatement returns the SQL verb and the first table the statement
// touches, if one can be found after FROM, INTO or UPDATE.
func describeStatement(query string) (op, table string) {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "", ""
	}
	op = strings.ToUpper(fields[0])

	for i := 0; i < len(fields)-1; i++ {
		switch strings.ToUpper(fields[i]) {
		case "FROM", "INTO", "UPDATE":
			table = strings.Trim(fields[i+1], `"(;`)
			return op, strings.ToLower(table)
		}
	}
	return op, ""
}

// normalizeStatement collapses whitespace and replaces string and numeric
// literals with '?', so no user data reaches a trace. $N placeholders are kept.
func normalizeStatement(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	inString := false
	prevSpace := true
	for i := 0; i < len(query); i++ {
		c := query[i]

		if inString {
			if c == '\'' {
				if i+1 < len(query) && query[i+1] == '\'' {
					i++
					continue
				}
				inString = false
			}
			continue
		}

		switch {
		case c == '\'':
			inString = true
			b.WriteString("'?'")
			prevSpace = false
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case isDigit(c) && (i == 0 || !isIdentByte(query[i-1])):
			for i+1 < len(query) && (isDigit(query[i+1]) || query[i+1] == '.') {
				i++
			}
			b.WriteByte('?')
			prevSpace = false
		default:
			b.WriteByte(c)
			prevSpace = false
		}
	}

	s := strings.TrimRight(b.String(), " ")
	if len(s) > maxStatementLen {
		return s[:maxStatementLen] + "..."
	}
	return s
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || isDigit(c) || c == '_' || c == '$'
}
