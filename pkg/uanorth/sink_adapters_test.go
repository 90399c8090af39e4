package uanorth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCallbackSink(t *testing.T) {
	var received []*Reading
	sink := NewCallbackSink("cb", func(batch []*Reading) error {
		received = append(received, batch...)
		return nil
	})

	input := NewReading("pump", Timestamp{Sec: 1}, Datapoint{Name: "temp", Value: Float(3.14)})
	require.NoError(t, sink.WriteBatch([]*Reading{input}))
	require.Len(t, received, 1)
	assert.Equal(t, "pump", received[0].Asset)
	assert.Equal(t, Float(3.14), received[0].Datapoints[0].Value)
	assert.Equal(t, "cb", sink.Name())
}

func TestNewCallbackSinkNilHandler(t *testing.T) {
	sink := NewCallbackSink("", nil)
	assert.Error(t, sink.WriteBatch([]*Reading{{Asset: "a"}}))
	assert.Equal(t, "callback", sink.Name())
}

func TestNewChannelSink(t *testing.T) {
	sink, ch, closeFn := NewChannelSink("chan", 1)
	defer closeFn()

	input := &Reading{Asset: "fan"}
	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.WriteBatch([]*Reading{input})
	}()

	var batch []*Reading
	select {
	case batch = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel batch")
	}
	require.NoError(t, <-errCh)
	require.Len(t, batch, 1)
	assert.Equal(t, "fan", batch[0].Asset)

	closeFn()
	assert.ErrorIs(t, sink.WriteBatch([]*Reading{input}), ErrChannelSinkClosed)
}
