package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	a, unsubA := b.Subscribe(EventPriceTick, 1)
	defer unsubA()
	c, unsubC := b.Subscribe(EventPriceTick, 1)
	defer unsubC()
	other, unsubO := b.Subscribe(EventRiskExit, 1)
	defer unsubO()

	b.Publish(EventPriceTick, "tick")
	assert.Equal(t, "tick", <-a)
	assert.Equal(t, "tick", <-c)
	assert.Empty(t, other)
}

func TestBusPriceTicksKeepNewest(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventPriceTick, 2)
	defer unsub()

	for _, px := range []float64{100, 101, 102, 103} {
		b.Publish(EventPriceTick, px)
	}
	assert.Equal(t, 102.0, <-ch)
	assert.Equal(t, 103.0, <-ch)
	assert.EqualValues(t, 2, b.Dropped(EventPriceTick))
	assert.Zero(t, b.Dropped(EventRiskExit))
}

func TestBusNoticesDropNewest(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventRiskExit, 1)
	defer unsub()

	b.Publish(EventRiskExit, RiskExitNotice{PositionID: "p1"})
	b.Publish(EventRiskExit, RiskExitNotice{PositionID: "p2"})
	got := <-ch
	assert.Equal(t, "p1", got.(RiskExitNotice).PositionID)
	assert.EqualValues(t, 1, b.Dropped(EventRiskExit))
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventPriceTick, 1)
	unsub()
	unsub()

	_, open := <-ch
	require.False(t, open)
	b.Publish(EventPriceTick, 1.0)
	assert.Zero(t, b.Dropped(EventPriceTick))
}
