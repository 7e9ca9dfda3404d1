package jitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSimpleBufferSchedulesFixedLatency(t *testing.T) {
	clock := time.Unix(5000, 0)
	now := func() time.Time { return clock }
	b := NewSimpleBuffer(40*time.Millisecond, now)

	accepted, _ := b.AddPacket(mustPacket(t, 1, 160))
	require.True(t, accepted)

	g, ok := b.NextPlayoutGroup()
	require.True(t, ok)
	require.Equal(t, clock.Add(40*time.Millisecond), g.PlayoutTime)
}

func TestSimpleBufferRejectsDuplicateTimestamp(t *testing.T) {
	clock := time.Unix(6000, 0)
	now := func() time.Time { return clock }
	b := NewSimpleBuffer(10*time.Millisecond, now)

	_, _ = b.AddPacket(mustPacket(t, 1, 500))
	accepted, dup := b.AddPacket(mustPacket(t, 2, 500))
	require.False(t, accepted)
	require.True(t, dup)
}

func TestSimpleBufferOrdersByArrival(t *testing.T) {
	clock := time.Unix(7000, 0)
	now := func() time.Time { return clock }
	b := NewSimpleBuffer(5*time.Millisecond, now)

	_, _ = b.AddPacket(mustPacket(t, 1, 10))
	_, _ = b.AddPacket(mustPacket(t, 2, 20))

	g1, _ := b.NextPlayoutGroup()
	g2, _ := b.NextPlayoutGroup()
	require.EqualValues(t, 10, g1.RTPTimestamp)
	require.EqualValues(t, 20, g2.RTPTimestamp)
}
