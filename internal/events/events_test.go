package events

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestBus_SubscribeAndEmit(t *testing.T) {
	bus := NewBus(silentLogger())

	var got []*Event
	bus.Subscribe(RebalanceCompleted, func(e *Event) { got = append(got, e) })

	bus.Emit(RebalanceCompleted, "rebalancing", map[string]interface{}{"run_id": "r1"})
	bus.Emit(BackupCompleted, "reliability", nil)

	require.Len(t, got, 1)
	assert.Equal(t, RebalanceCompleted, got[0].Type)
	assert.Equal(t, "rebalancing", got[0].Module)
	assert.Equal(t, "r1", got[0].Data["run_id"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBus_WildcardAndUnsubscribe(t *testing.T) {
	bus := NewBus(silentLogger())

	count := 0
	unsubscribe := bus.SubscribeAll(func(*Event) { count++ })
	single := bus.Subscribe(ErrorOccurred, func(*Event) { count += 10 })
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Emit(ErrorOccurred, "m", nil)
	assert.Equal(t, 11, count)

	unsubscribe()
	single()
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Emit(ErrorOccurred, "m", nil)
	assert.Equal(t, 11, count)
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	bus := NewBus(silentLogger())

	called := false
	bus.Subscribe(BackupCompleted, func(*Event) { panic("boom") })
	bus.Subscribe(BackupCompleted, func(*Event) { called = true })

	assert.NotPanics(t, func() { bus.Emit(BackupCompleted, "reliability", nil) })
	assert.True(t, called)
}

func TestBus_ConcurrentEmitAndSubscribe(t *testing.T) {
	bus := NewBus(silentLogger())

	var mu sync.Mutex
	received := 0
	bus.SubscribeAll(func(*Event) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Emit(RebalanceCompleted, "m", nil)
		}()
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(RiskProfileScored, func(*Event) {})
			unsub()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, received)
}

func TestManager_EmitTypedLogsAndPublishes(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	bus := NewBus(log)
	manager := NewManager(bus, log)

	var got *Event
	bus.Subscribe(RebalanceCompleted, func(e *Event) { got = e })

	manager.EmitTyped("rebalancing", &RebalanceCompletedData{RunID: "abc", Tiers: 2, Strategies: 5})

	require.NotNil(t, got)
	assert.Equal(t, "abc", got.Data["run_id"])
	assert.Equal(t, float64(5), got.Data["strategies"])
	assert.Contains(t, buf.String(), `"event_type":"REBALANCE_COMPLETED"`)
	assert.Contains(t, buf.String(), "Event emitted")

	var decoded RebalanceCompletedData
	require.NoError(t, Decode(got, &decoded))
	assert.Equal(t, "abc", decoded.RunID)
	assert.Equal(t, 2, decoded.Tiers)
}

func TestManager_EmitError(t *testing.T) {
	bus := NewBus(silentLogger())
	manager := NewManager(bus, silentLogger())

	var got *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { got = e })

	manager.EmitError("riskprofile", nil, nil)
	assert.Nil(t, got)

	manager.EmitError("riskprofile", errors.New("upstream down"), map[string]interface{}{"attempt": 2})
	require.NotNil(t, got)
	assert.Equal(t, "upstream down", got.Data["error"])
}

func TestEventData_Types(t *testing.T) {
	tests := []struct {
		data EventData
		want EventType
	}{
		{&RebalanceCompletedData{}, RebalanceCompleted},
		{&RiskProfileScoredData{}, RiskProfileScored},
		{&BehaviorClassifiedData{}, BehaviorClassified},
		{&BackupCompletedData{}, BackupCompleted},
		{&MaintenanceCompletedData{}, MaintenanceCompleted},
		{&ErrorEventData{}, ErrorOccurred},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.data.EventType())
	}
	assert.Len(t, AllEventTypes(), len(tests))
}
