package lossdetect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMultipathEstimatorReportsLossPerFlow(t *testing.T) {
	type loss struct {
		flow uint16
		fssn uint16
	}
	var losses []loss

	e := NewMultipathEstimator(KindSimple, func(flowID, fssn uint16) {
		losses = append(losses, loss{flowID, fssn})
	}, nil)

	base := time.Unix(0, 0)
	e.OnPacketArrival(base, 1, 1)
	e.OnPacketArrival(base.Add(time.Millisecond), 1, 4) // gap of 2,3 on flow 1
	e.OnPacketArrival(base, 2, 1)                        // independent flow 2, no loss yet

	require.Equal(t, []loss{{1, 2}, {1, 3}}, losses)
}

func TestMultipathEstimatorKeepsFlowsIndependent(t *testing.T) {
	var flowsSeen []uint16
	e := NewMultipathEstimator(KindSimple, func(flowID, fssn uint16) {
		flowsSeen = append(flowsSeen, flowID)
	}, nil)

	base := time.Unix(0, 0)
	e.OnPacketArrival(base, 1, 1)
	e.OnPacketArrival(base, 2, 1)
	e.OnPacketArrival(base.Add(time.Millisecond), 1, 2)
	e.OnPacketArrival(base.Add(time.Millisecond), 2, 2)

	require.Empty(t, flowsSeen)
}
