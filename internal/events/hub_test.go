package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversOnlyToOwner(t *testing.T) {
	h := NewHub()
	a, unsubA := h.Subscribe("alice", 4)
	defer unsubA()
	b, unsubB := h.Subscribe("bob", 4)
	defer unsubB()

	h.Publish("alice", OrderUpdate, map[string]string{"id": "o1"})

	select {
	case msg := <-a:
		assert.Equal(t, OrderUpdate, msg.Type)
		assert.False(t, msg.Timestamp.IsZero())
	default:
		t.Fatal("alice got nothing")
	}
	assert.Empty(t, b)
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("u", 1)
	defer unsub()

	h.Publish("u", TradeUpdate, 1)
	h.Publish("u", TradeUpdate, 2)

	assert.Len(t, ch, 1)
	assert.EqualValues(t, 1, h.Dropped())
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("u", 1)
	require.Equal(t, 1, h.Subscribers("u"))

	unsub()
	unsub()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers("u"))

	// Publishing with nobody listening is a no-op.
	h.Publish("u", OrderUpdate, nil)
}
