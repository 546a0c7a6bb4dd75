package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/bisonbotkit/logging"
)

// createTestLogBackend creates a LogBackend for testing
func createTestLogBackend() *logging.LogBackend {
	logBackend, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        "", // Empty for testing - will use stdout
		DebugLevel:     "error",
		MaxLogFiles:    1,
		MaxBufferLines: 100,
	})
	if err != nil {
		return &logging.LogBackend{}
	}
	return logBackend
}

func newTestBus(buffer int) *Bus {
	logBackend := createTestLogBackend()
	return NewBus("ABC123", buffer, logBackend.Logger("TEST"))
}

func TestBusSequenceContiguous(t *testing.T) {
	bus := newTestBus(8)
	sub := bus.Subscribe()
	now := time.Now().UTC()

	bus.Publish(EventGameCreated, nil, now)
	bus.Publish(EventPlayerJoined, nil, now)
	bus.Publish(EventGameStarted, nil, now)

	for want := uint64(1); want <= 3; want++ {
		select {
		case ev := <-sub.C:
			require.Equal(t, want, ev.Seq, "sequence numbers are contiguous from 1")
			require.Equal(t, "ABC123", ev.SessionCode)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", want)
		}
	}
}

func TestBusPreservesPublishOrder(t *testing.T) {
	bus := newTestBus(16)
	sub := bus.Subscribe()
	now := time.Now().UTC()

	types := []EventType{EventPlayerJoined, EventPlayerJoined, EventGameStarted, EventCardDrawn, EventTurnChanged}
	for _, et := range types {
		bus.Publish(et, nil, now)
	}

	for i, want := range types {
		ev := <-sub.C
		assert.Equal(t, want, ev.Type, "event %d out of order", i)
	}
}

func TestBusShedsSlowSubscriber(t *testing.T) {
	bus := newTestBus(1)
	slow := bus.Subscribe()
	fast := bus.Subscribe()
	now := time.Now().UTC()

	// The slow subscriber never drains; its single-slot buffer fills on
	// the first publish and the second sheds it.
	bus.Publish(EventCardDrawn, nil, now)
	ev := <-fast.C
	require.Equal(t, uint64(1), ev.Seq)

	bus.Publish(EventTurnChanged, nil, now)
	ev = <-fast.C
	require.Equal(t, uint64(2), ev.Seq)

	select {
	case <-slow.Dropped():
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not dropped")
	}
	require.Equal(t, 1, bus.SubscriberCount())

	// The producer never blocked and the fast subscriber saw every event.
	bus.Publish(EventGameEnded, nil, now)
	ev = <-fast.C
	require.Equal(t, uint64(3), ev.Seq)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := newTestBus(4)
	sub := bus.Subscribe()
	bus.Unsubscribe(sub.ID)

	_, open := <-sub.C
	require.False(t, open, "channel closes on unsubscribe")

	select {
	case <-sub.Dropped():
		t.Fatal("unsubscribe must not signal a drop")
	default:
	}

	require.Equal(t, 0, bus.SubscriberCount())
}

func TestBusCloseDisconnectsAll(t *testing.T) {
	bus := newTestBus(4)
	a := bus.Subscribe()
	b := bus.Subscribe()
	bus.Close()

	_, open := <-a.C
	require.False(t, open)
	_, open = <-b.C
	require.False(t, open)
	require.Equal(t, 0, bus.SubscriberCount())
}
