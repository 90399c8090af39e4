package sink

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
)

// sameTime matches a time.Time argument by instant.
type sameTime time.Time

func (s sameTime) Match(v driver.Value) bool {
	t, ok := v.(time.Time)
	return ok && t.Equal(time.Time(s))
}

func TestArchiveSinkWriteBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink, err := NewArchiveSink(db, "readings")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ts := time.Date(2024, 5, 1, 10, 0, 0, 500000000, time.UTC)

	readings := []*domain.Reading{
		{Asset: "pump", Timestamp: domain.TimestampOf(ts), Datapoints: []domain.Datapoint{
			{Name: "temp", Value: domain.Float(21.5)},
		}},
		{Asset: "fan", Timestamp: domain.TimestampOf(ts), Datapoints: []domain.Datapoint{
			{Name: "rpm", Value: domain.Integer(900)},
		}},
	}

	expectedQuery := regexp.QuoteMeta("INSERT INTO readings (asset, ts, datapoints) VALUES ($1,$2,$3),($4,$5,$6) ON CONFLICT (asset, ts) DO NOTHING")
	mock.ExpectExec(expectedQuery).
		WithArgs("pump", sameTime(ts), []byte(`[{"name":"temp","value":{"type":"float","float":21.5}}]`),
			"fan", sameTime(ts), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := sink.WriteBatch(readings); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestArchiveSinkWriteBatchNoReadings(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink, _ := NewArchiveSink(db, "readings")
	if err := sink.WriteBatch(nil); err != nil {
		t.Fatalf("expected nil error for empty batch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestArchiveSinkWrapsExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO readings").WillReturnError(boom)

	sink, _ := NewArchiveSink(db, "readings")
	err = sink.WriteBatch([]*domain.Reading{{Asset: "pump"}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped exec error, got %v", err)
	}
}

func TestArchiveSinkEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS public.readings")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	sink, err := NewArchiveSink(db, "public.readings")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestArchiveSinkRejectsBadTableName(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	if _, err := NewArchiveSink(db, "readings; DROP TABLE x"); err == nil {
		t.Fatalf("expected invalid table name to be rejected")
	}
	sink, _ := NewArchiveSink(db, "readings")
	if sink.Name() != "archive" {
		t.Fatalf("expected sink name archive, got %s", sink.Name())
	}
}
