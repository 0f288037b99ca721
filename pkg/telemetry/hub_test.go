package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubSubscribeReceives(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	defer cancel()

	s := Sample{Timestamp: time.Now(), Values: map[string]float64{"p1": 1}}
	hub.Broadcast(s)

	select {
	case got := <-ch:
		assert.Equal(t, 1.0, got.Values["p1"])
	case <-time.After(time.Second):
		t.Fatal("no sample received")
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	require.Equal(t, 1, hub.SubscriberCount())

	cancel()
	assert.Equal(t, 0, hub.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)

	// Cancelling twice is safe.
	cancel()
}

func TestHubSlowSubscriberDropsOldest(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	defer cancel()

	// Never read until the queue has overflowed. The oldest samples must be
	// the ones shed, so the queue holds the most recent window in order.
	total := subscriberQueueSize + 10
	base := time.Now()
	for i := 0; i < total; i++ {
		hub.Broadcast(Sample{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Values:    map[string]float64{"seq": float64(i)},
		})
	}

	got := make([]float64, 0, subscriberQueueSize)
drain:
	for {
		select {
		case s := <-ch:
			got = append(got, s.Values["seq"])
		default:
			break drain
		}
	}

	require.Len(t, got, subscriberQueueSize)
	assert.Equal(t, float64(total-subscriberQueueSize), got[0])
	assert.Equal(t, float64(total-1), got[len(got)-1])
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1]+1, got[i])
	}
}

func TestHubBroadcastAfterCloseIsNoop(t *testing.T) {
	hub := NewHub()
	ch, _ := hub.Subscribe()
	hub.Close()

	hub.Broadcast(Sample{Timestamp: time.Now()})

	_, open := <-ch
	assert.False(t, open)
}

func TestHubSubscribeAfterClose(t *testing.T) {
	hub := NewHub()
	hub.Close()

	ch, cancel := hub.Subscribe()
	defer cancel()

	_, open := <-ch
	assert.False(t, open)
}
