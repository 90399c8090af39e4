package control

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/memstore"
	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

type mockObs struct {
	ports.Observability
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (m *mockObs) LogInfo(string, ...ports.Field) {}
func (m *mockObs) LogWarn(msg string, _ ...ports.Field) {
	m.mu.Lock()
	m.warns = append(m.warns, msg)
	m.mu.Unlock()
}
func (m *mockObs) LogError(msg string, _ error, _ ...ports.Field) {
	m.mu.Lock()
	m.errors = append(m.errors, msg)
	m.mu.Unlock()
}
func (m *mockObs) IncCounter(string, float64) {}

type write struct {
	name, value string
	dest        domain.Destination
	arg         string
}

type recorder struct {
	mu     sync.Mutex
	writes []write
}

func (r *recorder) write(name, value string, dest domain.Destination, arg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, write{name, value, dest, arg})
	return true
}

func testControls() domain.ControlMap {
	return domain.ControlMap{
		{Name: "speed", Type: domain.ControlTypeInteger, Destination: domain.DestinationService, Argument: "pump-south"},
		{Name: "gain", Type: domain.ControlTypeFloat},
		{Name: "bogus", Type: "string"},
	}
}

func setup(t *testing.T) (*Binding, *memstore.Store, *mockObs) {
	t.Helper()
	store := memstore.New("Objects")
	obs := &mockObs{}
	b := New(testControls(), store, obs)
	require.NoError(t, b.Setup(store.Root(), ""))
	return b, store, obs
}

func TestSetupCreatesTypedControlNodes(t *testing.T) {
	b, store, obs := setup(t)

	speed, ok := store.Find(DefaultRoot, "speed")
	require.True(t, ok)
	v, _, err := store.Value(speed)
	require.NoError(t, err)
	assert.Equal(t, domain.Integer(32), v)

	gain, ok := store.Find(DefaultRoot, "gain")
	require.True(t, ok)
	v, _, err = store.Value(gain)
	require.NoError(t, err)
	assert.Equal(t, domain.Float(32.8), v)

	_, ok = store.Find(DefaultRoot, "bogus")
	assert.False(t, ok)
	assert.Equal(t, []string{"control_type_unknown"}, obs.warns)

	controls := b.Controls()
	require.Len(t, controls, 2)
	assert.Equal(t, speed, controls[0].Node)
	assert.Equal(t, "pump-south", controls[0].Argument)

	assert.ErrorIs(t, b.Setup(store.Root(), ""), ErrAlreadySetUp)
}

func TestWriteIsForwardedWithDestination(t *testing.T) {
	b, store, _ := setup(t)
	rec := &recorder{}
	b.SetWriter(rec.write)

	speed, _ := store.Find(DefaultRoot, "speed")
	gain, _ := store.Find(DefaultRoot, "gain")
	require.NoError(t, store.Write(speed, domain.Integer(40)))
	require.NoError(t, store.Write(gain, domain.Float(1.5)))

	assert.Equal(t, []write{
		{name: "speed", value: "40", dest: domain.DestinationService, arg: "pump-south"},
		{name: "gain", value: "1.500000", dest: domain.DestinationBroadcast, arg: ""},
	}, rec.writes)
}

func TestChangeWithoutWriterIsDropped(t *testing.T) {
	b, store, obs := setup(t)
	speed, _ := store.Find(DefaultRoot, "speed")

	require.NoError(t, store.Write(speed, domain.Integer(1)))
	assert.Equal(t, []string{"control_change_dropped"}, obs.errors)

	rec := &recorder{}
	b.SetWriter(rec.write)
	b.SetWriter(nil)
	require.NoError(t, store.Write(speed, domain.Integer(2)))
	assert.Empty(t, rec.writes)
}

func TestUnknownNodeNeverReachesWriter(t *testing.T) {
	b, store, obs := setup(t)
	rec := &recorder{}
	b.SetWriter(rec.write)

	other, err := store.CreateVariable(store.Root(), "speed", domain.Integer(0))
	require.NoError(t, err)
	b.DataChange(other, domain.Integer(5))
	b.DataChange(ports.NewNodeRef("i=4242"), domain.Integer(6))

	assert.Empty(t, rec.writes)
	assert.Contains(t, obs.warns, "control_node_unknown")
}

func TestNullChangeIsIgnored(t *testing.T) {
	b, store, obs := setup(t)
	rec := &recorder{}
	b.SetWriter(rec.write)
	speed, _ := store.Find(DefaultRoot, "speed")

	b.DataChange(speed, domain.Null{})
	b.DataChange(speed, nil)

	assert.Empty(t, rec.writes)
	assert.Empty(t, obs.errors)
}

func TestConcurrentWritesAndWriterSwap(t *testing.T) {
	b, store, _ := setup(t)
	speed, _ := store.Find(DefaultRoot, "speed")
	rec := &recorder{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.SetWriter(rec.write)
			_ = store.Write(speed, domain.Integer(int64(i)))
		}(i)
	}
	wg.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.NotEmpty(t, rec.writes)
}

func TestRenderEvent(t *testing.T) {
	ticks2020 := domain.DateTimeOf(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, domain.DateTime(132223104000000000), ticks2020)

	cases := []struct {
		name string
		in   domain.Value
		want string
	}{
		{"datetime", ticks2020, "2020-01-01 00:00:00.000000+00:00"},
		{"datetime_micros", ticks2020 + 1_234_560, "2020-01-01 00:00:00.123456+00:00"},
		{"integer", domain.Integer(-7), "-7"},
		{"float", domain.Float(32.8), "32.800000"},
		{"string", domain.String("open"), "open"},
		{"array", domain.FloatArray{1, 2}, "[1, 2]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := RenderEvent(tc.in)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	_, ok := RenderEvent(domain.Null{})
	assert.False(t, ok)
}
