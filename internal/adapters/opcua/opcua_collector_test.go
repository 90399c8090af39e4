package opcua

import (
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
)

func item(handle uint32, v any, source time.Time) *ua.MonitoredItemNotification {
	return &ua.MonitoredItemNotification{
		ClientHandle: handle,
		Value: &ua.DataValue{
			EncodingMask:    ua.DataValueValue | ua.DataValueSourceTimestamp,
			Value:           ua.MustVariant(v),
			SourceTimestamp: source,
		},
	}
}

func TestReadingsFromGroupsByAsset(t *testing.T) {
	handles := map[uint32]NodeConfig{
		1: {NodeID: "ns=2;s=Pump.Temp", Asset: "pump", Datapoint: "temp"},
		2: {NodeID: "ns=2;s=Pump.Speed", Asset: "pump", Datapoint: "speed"},
		3: {NodeID: "ns=2;s=Fan.State", Asset: "fan", Datapoint: "state"},
	}
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	got := readingsFrom(handles, []*ua.MonitoredItemNotification{
		item(1, 21.5, t0),
		item(3, "on", t0),
		item(2, int32(1200), t0.Add(time.Second)),
		item(9, 1.0, t0),
	}, time.Now())

	require.Len(t, got, 2)
	assert.Equal(t, "pump", got[0].Asset)
	assert.Equal(t, []domain.Datapoint{
		{Name: "temp", Value: domain.Float(21.5)},
		{Name: "speed", Value: domain.Integer(1200)},
	}, got[0].Datapoints)
	assert.Equal(t, t0.Add(time.Second), got[0].Timestamp.Time())

	assert.Equal(t, "fan", got[1].Asset)
	assert.Equal(t, domain.String("on"), got[1].Datapoints[0].Value)
}

func TestReadingsFromFallsBackToNow(t *testing.T) {
	handles := map[uint32]NodeConfig{1: {Asset: "a", Datapoint: "value"}}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got := readingsFrom(handles, []*ua.MonitoredItemNotification{
		{ClientHandle: 1, Value: &ua.DataValue{EncodingMask: ua.DataValueValue, Value: ua.MustVariant(int64(7))}},
	}, now)

	require.Len(t, got, 1)
	assert.Equal(t, now, got[0].Timestamp.Time())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Endpoint: "opc.tcp://upstream:4840", Nodes: []NodeConfig{{NodeID: "ns=2;i=5"}}}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "None", cfg.SecurityMode)
	assert.Equal(t, 250*time.Millisecond, cfg.PublishInterval)
	assert.Equal(t, "ns=2;i=5", cfg.Nodes[0].Asset)
	assert.Equal(t, "value", cfg.Nodes[0].Datapoint)

	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Endpoint: "x"}).Validate())
}

func TestNormalizeSecurityMode(t *testing.T) {
	assert.Equal(t, "Sign", normalizeSecurityMode("sign"))
	assert.Equal(t, "SignAndEncrypt", normalizeSecurityMode("sign_and_encrypt"))
	assert.Equal(t, "None", normalizeSecurityMode("bogus"))
}
