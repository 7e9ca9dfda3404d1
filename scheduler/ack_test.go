package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtpcore/packet"
)

// encodeGenericACKForTest mirrors feedback.EncodeGenericACK's wire layout
// (type 205, FMT 99, 12-byte RFC 4585 header, 2-byte count, then one
// uint16 per acknowledged SN) without importing the feedback package, to
// keep this test independent of its internals.
func encodeGenericACKForTest(sns []uint16) []byte {
	payload := make([]byte, 2+len(sns)*2)
	payload[0] = byte(len(sns) >> 8)
	payload[1] = byte(len(sns))
	for i, sn := range sns {
		payload[2+i*2] = byte(sn >> 8)
		payload[2+i*2+1] = byte(sn)
	}
	if len(payload)%4 != 0 {
		payload = append(payload, make([]byte, 4-len(payload)%4)...)
	}
	total := 12 + len(payload)
	lengthWords := (total / 4) - 1
	buf := make([]byte, 12, total)
	buf[0] = (2 << 6) | ackFeedbackFMT
	buf[1] = ackFeedbackPacketType
	buf[2] = byte(lengthWords >> 8)
	buf[3] = byte(lengthWords)
	return append(buf, payload...)
}

func TestAckPacerStartsWithInitialCredits(t *testing.T) {
	sender := &fakeSender{}
	a := NewAckPacer(sender)
	a.ScheduleRtpPackets([]*packet.RtpPacket{samplePacket(1), samplePacket(2)}, 0)
	require.Equal(t, 2, a.pacer.queueLen())
}

func TestAckPacerQueuesBeyondCredits(t *testing.T) {
	sender := &fakeSender{}
	a := NewAckPacer(sender)

	var pkts []*packet.RtpPacket
	for i := 0; i < ackInitialCredits+3; i++ {
		pkts = append(pkts, samplePacket(uint16(i)))
	}
	a.ScheduleRtpPackets(pkts, 0)
	require.Equal(t, ackInitialCredits, a.pacer.queueLen())
	require.Len(t, a.pending, 3)
}

func TestAckPacerGrantsCreditsOnGenericACK(t *testing.T) {
	sender := &fakeSender{}
	a := NewAckPacer(sender)

	var pkts []*packet.RtpPacket
	for i := 0; i < ackInitialCredits+3; i++ {
		pkts = append(pkts, samplePacket(uint16(i)))
	}
	a.ScheduleRtpPackets(pkts, 0)
	require.Len(t, a.pending, 3)

	compound := encodeGenericACKForTest([]uint16{1, 2, 3})
	a.OnIncomingRtcp(compound, nil)

	require.Empty(t, a.pending)
	require.Equal(t, ackInitialCredits+3, a.pacer.queueLen())
}

func TestCountAckedSNsIgnoresUnrelatedBlocks(t *testing.T) {
	require.Equal(t, 0, countAckedSNs([]byte{0x80, 200, 0x00, 0x01, 0, 0, 0, 0}))
}

func TestCountAckedSNsHandlesTruncatedInput(t *testing.T) {
	require.Equal(t, 0, countAckedSNs([]byte{0x01, 0x02}))
}
