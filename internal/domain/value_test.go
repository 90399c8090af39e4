package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderScalars(t *testing.T) {
	assert.Equal(t, "42", Render(Integer(42)))
	assert.Equal(t, "21.5", Render(Float(21.5)))
	assert.Equal(t, "Plant1/Building2", Render(String("Plant1/Building2")))
	assert.Equal(t, "[1, 2.5]", Render(FloatArray{1, 2.5}))
	assert.Equal(t, "", Render(Null{}))
	assert.Equal(t, "", Render(nil))
}

func TestRenderDict(t *testing.T) {
	d := Dict{{Name: "speed", Value: Integer(1200)}, {Name: "status", Value: String("OK")}}
	assert.Equal(t, `{"speed" : 1200, "status" : OK}`, Render(d))
}

func TestIsScalar(t *testing.T) {
	assert.True(t, IsScalar(Integer(1)))
	assert.True(t, IsScalar(FloatArray{1}))
	assert.False(t, IsScalar(Dict{}))
	assert.False(t, IsScalar(Array2D{{1}}))
	assert.False(t, IsScalar(Null{}))
}

func TestDateTimeFormatting(t *testing.T) {
	// 2020-01-01T00:00:00Z expressed in 100ns ticks since 1601.
	const ticks = DateTime(132223104000000000)
	assert.Equal(t, "2020-01-01 00:00:00.000000+00:00", FormatDateTime(ticks))
	assert.Equal(t, ticks, DateTimeOf(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))

	withMicros := DateTimeOf(time.Date(2021, 6, 30, 12, 34, 56, 789012000, time.UTC))
	assert.Equal(t, "2021-06-30 12:34:56.789012+00:00", FormatDateTime(withMicros))
}

func TestTimestampRoundTrip(t *testing.T) {
	at := time.Date(2023, 3, 4, 5, 6, 7, 123456000, time.UTC)
	ts := TimestampOf(at)
	assert.Equal(t, Timestamp{Sec: at.Unix(), Usec: 123456}, ts)
	assert.True(t, ts.Time().Equal(at))
	assert.True(t, Timestamp{}.IsZero())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "array_2d", KindArray2D.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
