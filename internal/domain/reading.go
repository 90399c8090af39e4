package domain

import (
	"fmt"
	"time"
)

// Datapoint is one named value inside a reading or a dictionary.
type Datapoint struct {
	Name  string
	Value Value
}

// Timestamp is the capture time of a reading, split the way readings carry it.
type Timestamp struct {
	Sec  int64
	Usec int64
}

// TimestampOf converts t to a reading timestamp with microsecond precision.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{Sec: t.Unix(), Usec: int64(t.Nanosecond() / 1000)}
}

// Time returns the timestamp as a UTC time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Sec, ts.Usec*1000).UTC()
}

// IsZero reports whether no capture time was recorded.
func (ts Timestamp) IsZero() bool { return ts.Sec == 0 && ts.Usec == 0 }

// Reading is a set of datapoints captured for one asset at one instant.
type Reading struct {
	Asset      string
	Datapoints []Datapoint
	Timestamp  Timestamp
}

// Datapoint returns the top-level datapoint named name.
func (r *Reading) Datapoint(name string) (Value, bool) {
	for _, dp := range r.Datapoints {
		if dp.Name == name {
			return dp.Value, true
		}
	}
	return nil, false
}

// Seconds between 1601-01-01 and 1970-01-01.
const epochDelta1601 = 134774 * 24 * 3600

const ticksPerSecond = 10_000_000

// DateTimeOf converts t to OPC UA ticks.
func DateTimeOf(t time.Time) DateTime {
	return DateTime((t.Unix()+epochDelta1601)*ticksPerSecond + int64(t.Nanosecond()/100))
}

// Time converts the tick count to a UTC time.Time.
func (d DateTime) Time() time.Time {
	ticks := int64(d)
	sec := ticks/ticksPerSecond - epochDelta1601
	rem := ticks % ticksPerSecond
	return time.Unix(sec, rem*100).UTC()
}

// FormatDateTime renders d as "YYYY-MM-DD HH:MM:SS.ffffff+00:00" in UTC.
func FormatDateTime(d DateTime) string {
	t := d.Time()
	return fmt.Sprintf("%s.%06d+00:00", t.Format("2006-01-02 15:04:05"), t.Nanosecond()/1000)
}
