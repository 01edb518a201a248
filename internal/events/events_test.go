package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBusFiltersByExecution(t *testing.T) {
	bus := NewBus(10)
	all := bus.Subscribe("")
	one := bus.Subscribe("exec-1")

	bus.Emit(New(TaskStarted, "exec-1", "t1", nil))
	bus.Emit(New(TaskStarted, "exec-2", "t2", nil))

	require.Len(t, all, 2)
	require.Len(t, one, 1)
	e := <-one
	assert.Equal(t, "t1", e.TaskID)
}

func TestBusDropsOldest(t *testing.T) {
	bus := NewBus(2)
	ch := bus.Subscribe("")

	for i := 0; i < 5; i++ {
		bus.Emit(Event{Type: Progress, ExecutionID: "x", Payload: i})
	}

	assert.Equal(t, int64(3), bus.Dropped())
	first := <-ch
	second := <-ch
	assert.Equal(t, 3, first.Payload)
	assert.Equal(t, 4, second.Payload)
}

func TestBusUnsubscribeAndClose(t *testing.T) {
	bus := NewBus(1)
	ch := bus.Subscribe("")
	bus.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	ch2 := bus.Subscribe("")
	bus.Close()
	_, open = <-ch2
	assert.False(t, open)

	// emits after close are ignored, subscribing returns a closed channel
	bus.Emit(New(Progress, "x", "", nil))
	_, open = <-bus.Subscribe("")
	assert.False(t, open)
}

func TestMultiAndFunc(t *testing.T) {
	var got []Type
	sink := Multi{SinkFunc(func(e Event) { got = append(got, e.Type) }), nil, Nop}
	sink.Emit(New(ExecutionComplete, "x", "", nil))
	assert.Equal(t, []Type{ExecutionComplete}, got)
	assert.True(t, ExecutionComplete.Terminal())
	assert.False(t, TaskComplete.Terminal())
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := LogSink{Logger: zap.New(core)}

	sink.Emit(Event{Type: TaskRetry, ExecutionID: "x", TaskID: "t", Time: time.Now(), Payload: map[string]any{"attempt": 1}})
	sink.Emit(Event{Type: ExecutionError, ExecutionID: "x"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "t", entries[0].ContextMap()["task_id"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
