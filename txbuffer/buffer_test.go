package txbuffer

import (
	"testing"
	"time"

	"github.com/arzzra/rtpcore/packet"
	"github.com/arzzra/rtpcore/rtperrors"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

// TestRTXWrapAndRecover is the literal scenario: orig {PT=96, SN=7000,
// TS=3600, payload=[0xDE,0xAD]}; RTX PT=97 starting at RTX SN=500; the RTX
// payload must begin with 0x1B,0x58 (7000 big-endian) followed by the
// original payload, and ProcessRetransmission must recover SN=7000, PT=96,
// payload=[0xDE,0xAD].
func TestRTXWrapAndRecover(t *testing.T) {
	tm := New(Config{Mode: EvictionCircular, Capacity: 16, RtxPT: 97})
	tm.nextRtxSN = 500

	orig := packet.NewOutgoing(&rtp.Header{PayloadType: 96, SequenceNumber: 7000, Timestamp: 3600}, []byte{0xDE, 0xAD})
	tm.RecordSent(7000, orig, 0, 0, false)

	rtxPkt, err := tm.GenerateRetransmissionPacket(7000)
	require.NoError(t, err)
	require.Equal(t, uint8(97), rtxPkt.Header.PayloadType)
	require.EqualValues(t, 500, rtxPkt.Header.SequenceNumber)
	require.Equal(t, []byte{0x1B, 0x58, 0xDE, 0xAD}, rtxPkt.Payload)

	recovered, err := tm.ProcessRetransmission(rtxPkt, 96)
	require.NoError(t, err)
	require.EqualValues(t, 7000, recovered.Header.SequenceNumber)
	require.Equal(t, uint8(96), recovered.Header.PayloadType)
	require.Equal(t, []byte{0xDE, 0xAD}, recovered.Payload)
}

func TestAtMostOnceConcurrentRTXPerSN(t *testing.T) {
	tm := New(Config{Mode: EvictionCircular, Capacity: 16, RtxPT: 97})
	orig := packet.NewOutgoing(&rtp.Header{PayloadType: 96, SequenceNumber: 1}, []byte{0x01})
	tm.RecordSent(1, orig, 0, 0, false)

	_, err := tm.GenerateRetransmissionPacket(1)
	require.NoError(t, err)

	_, err = tm.GenerateRetransmissionPacket(1)
	require.Error(t, err)
	require.True(t, rtperrors.Is(err, rtperrors.KindExhausted))
}

func TestCircularEvictionDropsOldest(t *testing.T) {
	tm := New(Config{Mode: EvictionCircular, Capacity: 2, RtxPT: 97})
	for sn := uint16(1); sn <= 3; sn++ {
		tm.RecordSent(sn, packet.NewOutgoing(&rtp.Header{SequenceNumber: sn}, []byte{0x00}), 0, 0, false)
	}
	require.Equal(t, 2, tm.Len())
	_, ok := tm.Lookup(1)
	require.False(t, ok)
	_, ok = tm.Lookup(3)
	require.True(t, ok)
}

func TestACKEvictionRemovesOnAck(t *testing.T) {
	tm := New(Config{Mode: EvictionACK, RtxPT: 97})
	tm.RecordSent(1, packet.NewOutgoing(&rtp.Header{SequenceNumber: 1}, []byte{0x00}), 0, 0, false)
	require.Equal(t, 1, tm.Len())
	tm.AckSN(1)
	require.Equal(t, 0, tm.Len())
}

func TestNACKTimedEvictionExpiresAfterRtxTime(t *testing.T) {
	clock := time.Unix(0, 0)
	tm := New(Config{Mode: EvictionNACKTimed, RtxTime: 100 * time.Millisecond, RtxPT: 97, Now: func() time.Time { return clock }})
	tm.RecordSent(1, packet.NewOutgoing(&rtp.Header{SequenceNumber: 1}, []byte{0x00}), 0, 0, false)

	clock = clock.Add(50 * time.Millisecond)
	tm.EvictExpired()
	require.Equal(t, 1, tm.Len())

	clock = clock.Add(60 * time.Millisecond)
	tm.EvictExpired()
	require.Equal(t, 0, tm.Len())
}

func TestLookupSequenceNumberReverseIndex(t *testing.T) {
	tm := New(Config{Mode: EvictionCircular, Capacity: 16, RtxPT: 97})
	tm.RecordSent(42, packet.NewOutgoing(&rtp.Header{SequenceNumber: 42}, []byte{0x00}), 3, 9, true)

	sn, ok := tm.LookupSequenceNumber(3, 9)
	require.True(t, ok)
	require.EqualValues(t, 42, sn)
}

func TestGetLastNReceivedSNsReturnsMostRecent(t *testing.T) {
	tm := New(Config{})
	for sn := uint16(1); sn <= 5; sn++ {
		tm.RecordReceived(sn)
	}
	got := tm.GetLastNReceivedSNs(3)
	require.Equal(t, []uint16{3, 4, 5}, got)
}
