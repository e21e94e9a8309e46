package approval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus(&EventBusConfig{BufferSize: 2})
	ch, cancel := bus.Subscribe("exec-1")

	expected := Event{ApprovalID: "approval-1", SubjectID: "exec-1", Status: StatusApproved}
	bus.Publish(expected)
	bus.Publish(Event{SubjectID: "exec-2", Status: StatusRejected})

	select {
	case evt := <-ch:
		require.Equal(t, expected.ApprovalID, evt.ApprovalID)
		require.Equal(t, expected.Status, evt.Status)
	default:
		t.Fatal("expected event to be delivered")
	}
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %+v", evt)
	default:
	}

	cancel()
	cancel()
	_, open := <-ch
	require.False(t, open)
	bus.Publish(expected)
}

func TestEventBus_NilSafe(t *testing.T) {
	var bus *EventBus
	bus.Publish(Event{SubjectID: "x"})
	ch, cancel := bus.Subscribe("x")
	require.Nil(t, ch)
	cancel()
}
