package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ArchiveSink stores every projected reading in a Postgres (or Timescale)
// table as asset, capture time and the datapoints as JSONB.
type ArchiveSink struct {
	db        *sql.DB
	tableName string
}

func NewArchiveSink(db *sql.DB, table string) (*ArchiveSink, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("archive: invalid table name %q", table)
	}
	return &ArchiveSink{db: db, tableName: table}, nil
}

func (a *ArchiveSink) Name() string { return "archive" }

// EnsureSchema creates the archive table when it does not exist.
func (a *ArchiveSink) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+a.tableName+
		" (asset TEXT NOT NULL, ts TIMESTAMPTZ NOT NULL, datapoints JSONB NOT NULL, PRIMARY KEY (asset, ts))")
	if err != nil {
		return fmt.Errorf("archive schema: %w", err)
	}
	return nil
}

// WriteBatch inserts the batch in one statement. Replayed readings hit the
// primary key and are skipped.
func (a *ArchiveSink) WriteBatch(readings []*domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(a.tableName)
	b.WriteString(" (asset, ts, datapoints) VALUES ")

	args := make([]any, 0, len(readings)*3)
	for i, r := range readings {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "($%d,$%d,$%d)", len(args)+1, len(args)+2, len(args)+3)
		dps, err := json.Marshal(domain.EncodeDatapoints(r.Datapoints))
		if err != nil {
			return fmt.Errorf("marshal datapoints of %s: %w", r.Asset, err)
		}
		args = append(args, r.Asset, r.Timestamp.Time(), dps)
	}

	b.WriteString(" ON CONFLICT (asset, ts) DO NOTHING")

	if _, err := a.db.Exec(b.String(), args...); err != nil {
		return fmt.Errorf("archive insert: %w", err)
	}
	return nil
}

var _ ports.Sink = (*ArchiveSink)(nil)
