package codecrtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBasicSendPathFragmentCount is the literal scenario: a 3000-byte
// sample with MTU=1400 produces exactly 3 fragments, marker set only on
// the last.
func TestBasicSendPathFragmentCount(t *testing.T) {
	sample := make([]byte, 3000)
	sample[0] = 0x65 // IDR NALU header byte (nri=3, type=5)

	frags, err := H264Packetizer{}.Packetize(sample, 1400)
	require.NoError(t, err)
	require.Len(t, frags, 3)

	for i, f := range frags {
		require.Equal(t, i == len(frags)-1, f.Marker)
	}
}

func TestFUARoundTrip(t *testing.T) {
	sample := make([]byte, 4000)
	for i := range sample {
		sample[i] = byte(i)
	}
	sample[0] = 0x65

	frags, err := H264Packetizer{}.Packetize(sample, 1400)
	require.NoError(t, err)
	require.Greater(t, len(frags), 1)

	payloads := make([][]byte, len(frags))
	for i, f := range frags {
		payloads[i] = f.Payload
	}

	recovered, err := H264Depacketizer{}.Depacketize(payloads)
	require.NoError(t, err)
	require.Equal(t, sample, recovered)
}

func TestSmallNALUPassesThroughUnfragmented(t *testing.T) {
	sample := []byte{0x67, 0x01, 0x02, 0x03}
	frags, err := H264Packetizer{}.Packetize(sample, 1400)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	require.True(t, frags[0].Marker)
	require.Equal(t, sample, frags[0].Payload)

	recovered, err := H264Depacketizer{}.Depacketize([][]byte{frags[0].Payload})
	require.NoError(t, err)
	require.Equal(t, sample, recovered)
}

func TestPacketizeAggregatedBuildsSTAPA(t *testing.T) {
	nalus := [][]byte{{0x67, 0x01}, {0x68, 0x02, 0x03}}
	frag, err := H264Packetizer{}.PacketizeAggregated(nalus)
	require.NoError(t, err)
	require.Equal(t, uint8(24), frag.Payload[0])
}
