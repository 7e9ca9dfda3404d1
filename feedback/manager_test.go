package feedback

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"
)

func TestOnFeedbackGenerationEmitsNACKForPendingLosses(t *testing.T) {
	m := NewManager(0xAAAA, 0xBBBB, 100*time.Millisecond, nil)
	m.RecordLoss(5)
	m.RecordLoss(6)

	var compound CompoundBuilder
	fir := m.OnFeedbackGeneration(&compound)
	require.False(t, fir)
	require.Len(t, compound.standard, 1)

	nack, ok := compound.standard[0].(*rtcp.TransportLayerNack)
	require.True(t, ok)
	require.Len(t, nack.Nacks, 1)
	require.EqualValues(t, 5, nack.Nacks[0].PacketID)
}

func TestOnFeedbackGenerationRequestsFIRBeyondCap(t *testing.T) {
	m := NewManager(1, 2, time.Second, nil)
	for sn := uint16(0); sn < maxGenericNACKSNs+5; sn++ {
		m.RecordLoss(sn * 100) // spread out so they don't pack into one NackPair
	}

	var compound CompoundBuilder
	fir := m.OnFeedbackGeneration(&compound)
	require.True(t, fir)
	require.Empty(t, compound.standard)
}

func TestOnFeedbackGenerationEmitsACKOnlyWhenNewestChanged(t *testing.T) {
	m := NewManager(1, 2, time.Second, nil)
	m.RecordReceived(10)

	var c1 CompoundBuilder
	m.OnFeedbackGeneration(&c1)
	require.Len(t, c1.opaque, 1)

	var c2 CompoundBuilder
	m.OnFeedbackGeneration(&c2)
	require.Empty(t, c2.opaque) // no new arrivals since last report

	m.RecordReceived(11)
	var c3 CompoundBuilder
	m.OnFeedbackGeneration(&c3)
	require.Len(t, c3.opaque, 1)
}

func TestTryScheduleEarlyFeedbackGatedByTRRInterval(t *testing.T) {
	m := NewManager(1, 2, 50*time.Millisecond, nil)
	base := time.Unix(0, 0)

	require.True(t, m.TryScheduleEarlyFeedback(base))
	require.False(t, m.TryScheduleEarlyFeedback(base.Add(10*time.Millisecond)))
	require.True(t, m.TryScheduleEarlyFeedback(base.Add(60*time.Millisecond)))
}

func TestExtendedNACKGroupsByFlow(t *testing.T) {
	m := NewManager(1, 2, time.Second, nil)
	m.RecordExtendedLoss(0, 5)
	m.RecordExtendedLoss(0, 6)
	m.RecordExtendedLoss(1, 9)

	var compound CompoundBuilder
	m.OnFeedbackGeneration(&compound)
	require.Len(t, compound.opaque, 1)

	losses := DecodeExtendedNACK(compound.opaque[0][12:])
	require.Len(t, losses, 2)
	require.EqualValues(t, 0, losses[0].FlowID)
	require.Equal(t, []uint16{5, 6}, losses[0].FSSNs)
	require.EqualValues(t, 1, losses[1].FlowID)
	require.Equal(t, []uint16{9}, losses[1].FSSNs)
}

func TestGenericACKRoundTrip(t *testing.T) {
	raw := EncodeGenericACK(1, 2, []uint16{10, 20, 30})
	decoded := DecodeGenericACK(raw[12:])
	require.Equal(t, []uint16{10, 20, 30}, decoded)
}

type fakeScheduler struct{ pkts []rtcp.Packet }

func (f *fakeScheduler) RetrieveFeedback() []rtcp.Packet { return f.pkts }

func TestSchedulerFeedbackIsAppended(t *testing.T) {
	sched := &fakeScheduler{pkts: []rtcp.Packet{&rtcp.Goodbye{Sources: []uint32{1}}}}
	m := NewManager(1, 2, time.Second, sched)

	var compound CompoundBuilder
	m.OnFeedbackGeneration(&compound)
	require.Len(t, compound.standard, 1)
}
