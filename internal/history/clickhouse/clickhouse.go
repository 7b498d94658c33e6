package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/cardflow/internal/history"
)

// Sink exports journey lifecycle events to ClickHouse for long-horizon
// warehouse analytics, outside the operational bottleneck view.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(addr, database, username, password, table string) (*Sink, error) {
	if table == "" {
		table = "journey_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &Sink{conn: conn, table: table}, nil
}

// EnsureSchema creates the history table when absent.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			type String,
			occurred_at DateTime64(3, 'UTC'),
			journey_id String,
			stage String,
			previous_stage String,
			duration_minutes Int64,
			priority String,
			region String,
			source String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, journey_id)`, s.table)
	return s.conn.Exec(ctx, ddl)
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	prev := ""
	if e.PreviousStage != nil {
		prev = string(*e.PreviousStage)
	}
	var dur int64
	if e.DurationMinutes != nil {
		dur = *e.DurationMinutes
	}
	q := fmt.Sprintf(`INSERT INTO %s
		(type, occurred_at, journey_id, stage, previous_stage, duration_minutes, priority, region, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	return s.conn.Exec(ctx, q,
		string(e.Type), e.OccurredAt, e.JourneyID, string(e.Stage), prev, dur,
		e.Priority, e.Region, e.Source)
}
