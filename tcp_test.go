package pktsim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func resends(acts []TCPAction) []int {
	ids := []int{}
	for _, act := range acts {
		if act.Resend {
			ids = append(ids, act.SegID)
		}
	}
	return ids
}

func TestTCPStart(t *testing.T) {
	st, acts := InitialTCPState().Start()
	require.Equal(t, []TCPAction{{SegID: 0}}, acts)
	require.Equal(t, []int{0}, st.Outstanding)
	require.Equal(t, 1, st.RightEdge)
	require.Equal(t, CongestionAvoidance, st.Mode)
}

func TestTCPAdditiveIncrease(t *testing.T) {
	st, _ := InitialTCPState().Start()

	// window 1 -> 2 after the first ack; two new segments fill it
	st, acts := st.OnAck(0)
	require.Equal(t, 2.0, st.Window)
	require.Equal(t, []TCPAction{{SegID: 1}, {SegID: 2}}, acts)

	// window 2 -> 2.5 -> 2.9
	st, _ = st.OnAck(1)
	require.Equal(t, 2.5, st.Window)
	st, _ = st.OnAck(2)
	require.InDelta(t, 2.9, st.Window, 1e-12)
	require.Equal(t, 0, st.DupAcks)
	require.Equal(t, -3, st.Safe)
}

func TestTCPFastRetransmit(t *testing.T) {
	st := TCPState{
		Window:      8.0,
		SSThresh:    0.0,
		Outstanding: []int{5, 6, 7, 8, 9, 10, 11, 12},
		RightEdge:   13,
		Mode:        CongestionAvoidance,
		Safe:        0,
	}
	before := st

	// the first two duplicates each send one segment beyond the window
	st, acts := st.OnAck(4)
	require.Equal(t, []TCPAction{{SegID: 13}}, acts)
	require.Equal(t, 1, st.DupAcks)
	st, acts = st.OnAck(4)
	require.Equal(t, []TCPAction{{SegID: 14}}, acts)
	require.Equal(t, CongestionAvoidance, st.Mode)

	// the third enters fast recovery with one retransmission of the segment after the ack
	st, acts = st.OnAck(4)
	require.Equal(t, []int{5}, resends(acts))
	require.Len(t, acts, 1)
	require.Equal(t, FastRecovery, st.Mode)
	require.Equal(t, 4.0, st.SSThresh)
	require.Equal(t, 7.0, st.Window)

	// OnAck leaves its receiver alone
	require.Equal(t, []int{5, 6, 7, 8, 9, 10, 11, 12}, before.Outstanding)

	// further duplicates inflate the window without retransmitting
	st, acts = st.OnAck(4)
	require.Empty(t, resends(acts))
	require.Equal(t, 8.0, st.Window)
	require.Equal(t, FastRecovery, st.Mode)

	// new data ends recovery with the window at the threshold
	st, acts = st.OnAck(12)
	require.Equal(t, CongestionAvoidance, st.Mode)
	require.Equal(t, 4.0, st.Window)
	require.Equal(t, 0, st.DupAcks)
	require.Equal(t, 4, st.Safe)
	require.Equal(t, []int{13, 14, 15, 16}, st.Outstanding)
	require.Equal(t, []TCPAction{{SegID: 15}, {SegID: 16}}, acts)
}

func TestTCPSafeCounterSuppressesHalving(t *testing.T) {
	st := TCPState{
		Window:      6.0,
		SSThresh:    5.0,
		Outstanding: []int{20, 21, 22, 23, 24, 25},
		RightEdge:   26,
		Mode:        CongestionAvoidance,
		Safe:        3,
	}
	for idx := 0; idx < 3; idx++ {
		st, _ = st.OnAck(19)
	}
	// still within the credit of the last recovery: the threshold is kept
	require.Equal(t, FastRecovery, st.Mode)
	require.Equal(t, 5.0, st.SSThresh)
	require.Equal(t, 8.0, st.Window)
}

func TestTCPLimit(t *testing.T) {
	st := InitialTCPState()
	st.Limit = 3
	st, _ = st.Start()
	for ack := 0; ack < 3; ack++ {
		st, _ = st.OnAck(ack)
	}
	require.Equal(t, 3, st.RightEdge)
	require.Empty(t, st.Outstanding)
}

func TestTCPAckerCumulative(t *testing.T) {
	acker := createTCPAcker(nil)
	acks := []int{}
	for _, segID := range []int{0, 1, 3, 2} {
		acks = append(acks, acker.receive(segID))
	}
	require.Equal(t, []int{0, 1, 1, 3}, acks)
	require.Equal(t, 4, acker.LeftEdge())
	require.Empty(t, acker.Buffered())
}

func TestTCPAckerDuplicatesAndGaps(t *testing.T) {
	acker := createTCPAcker(nil)
	require.Equal(t, -1, acker.receive(1))
	require.Equal(t, []int{1}, acker.Buffered())
	require.Equal(t, -1, acker.receive(3))
	require.Equal(t, 1, acker.receive(0))
	require.Equal(t, []int{3}, acker.Buffered())

	// an old segment again
	require.Equal(t, 1, acker.receive(0))
	require.Equal(t, []int{3}, acker.Buffered())
	require.Equal(t, 4, acker.Received())
}

// lineNetwork builds a - r - b with every link at the given capacity
func lineNetwork(t *testing.T, capacity int, bandwidth, delay float64) *Network {
	net := CreateNetwork("line", nil)
	_, err := net.AddRouter("r")
	require.NoError(t, err)
	_, err = net.AddEndHost("a", "r", capacity, bandwidth, delay)
	require.NoError(t, err)
	_, err = net.AddEndHost("b", "r", capacity, bandwidth, delay)
	require.NoError(t, err)
	require.NoError(t, net.AddFIB("r", "a", "a"))
	require.NoError(t, net.AddFIB("r", "b", "b"))
	return net
}

func TestTCPAckerOverNetwork(t *testing.T) {
	net := lineNetwork(t, 10, 1.0e6, 0.001)
	a, _ := net.EndHost("a")
	b, _ := net.EndHost("b")

	acker := b.AttachTCPAcker(80)
	acks := []int{}
	a.ListenOn(1000, func(from Node, pkt *IPPacket) {
		segID, _ := pkt.SegID()
		acks = append(acks, segID)
	})

	for idx, segID := range []int{0, 1, 3, 2} {
		seg := segID
		net.EventManager().ScheduleFunc(float64(idx)*0.1, func(*EventManager) {
			acker.HandlePacket(nil, segmentPacket("a", 1000, "b", 80, seg, DataPayloadBits))
		})
	}
	net.Run()
	require.Equal(t, []int{0, 1, 1, 3}, acks)
}

func TestTCPEndToEnd(t *testing.T) {
	net := lineNetwork(t, 100, 1.0e6, 0.005)
	flow, err := net.StartTCPFlow(0.0, "a", 1000, "b", 80, 200)
	require.NoError(t, err)

	windows := []float64{}
	flow.TCPSender.OnWindow(func(now float64, st TCPState) { windows = append(windows, st.Window) })
	net.Run()

	require.Equal(t, 200, flow.Sent())
	require.Equal(t, 200, flow.Delivered())
	require.Equal(t, 0, flow.TCPSender.Resends())
	require.Empty(t, flow.TCPSender.State().Outstanding)
	require.Len(t, windows, 200)

	// no losses: the window only grows
	for idx := 1; idx < len(windows); idx++ {
		require.Greater(t, windows[idx], windows[idx-1])
	}
}

func TestTCPRecoversFromBottleneckLoss(t *testing.T) {
	net := CreateNetwork("bottleneck", nil)
	_, err := net.AddRouter("r1")
	require.NoError(t, err)
	_, err = net.AddRouter("r2")
	require.NoError(t, err)
	_, err = net.AddEndHost("a", "r1", 100, 1.0e7, 0.001)
	require.NoError(t, err)
	_, err = net.AddEndHost("b", "r2", 100, 1.0e7, 0.001)
	require.NoError(t, err)
	require.NoError(t, net.Link("r1", "r2", 1.0e6, 0.01, 4))
	require.NoError(t, net.ComputeRoutes())

	flow, err := net.StartTCPFlow(0.0, "a", 1000, "b", 80, 300)
	require.NoError(t, err)
	modes := map[TCPMode]int{}
	flow.TCPSender.OnWindow(func(now float64, st TCPState) { modes[st.Mode] += 1 })

	// the flow keeps going past every loss it recovers from; stop well after it would finish
	net.RunUntil(60.0)

	link, _ := net.nodes["r1"].LinkTo(net.nodes["r2"])
	require.Greater(t, link.Stats().Dropped, 0)
	require.Greater(t, flow.TCPSender.Resends(), 0)
	require.Greater(t, modes[FastRecovery], 0)
	require.LessOrEqual(t, flow.Delivered(), flow.Sent())
}
