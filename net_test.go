package pktsim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// arrival is a packet seen by a recorderNode, with the time it arrived
type arrival struct {
	at   float64
	from string
	pkt  Serializable
}

// recorderNode is a Node that keeps everything delivered to it
type recorderNode struct {
	nodeBase
	arrivals []arrival
}

func createRecorderNode(evtMgr *EventManager, name string) *recorderNode {
	return &recorderNode{nodeBase: createNodeBase(evtMgr, name)}
}

func (rn *recorderNode) DevType() string {
	return "Recorder"
}

func (rn *recorderNode) HandlePacket(from Node, pkt Serializable) {
	rn.arrivals = append(rn.arrivals, arrival{at: rn.evtMgr.CurrentSeconds(), from: from.Name(), pkt: pkt})
}

func TestLinkTiming(t *testing.T) {
	evtMgr := CreateEventManager()
	a := createRecorderNode(evtMgr, "a")
	b := createRecorderNode(evtMgr, "b")
	bandwidth, delay := 1.0e6, 0.01
	LinkNodes(evtMgr, a, b, FIFOQueueFactory, 10, bandwidth, delay)

	t0 := 1.0
	pkt1 := segmentPacket("a", 1, "b", 2, 0, DataPayloadBits)
	pkt2 := segmentPacket("a", 1, "b", 2, 1, DataPayloadBits)
	serial := float64(pkt1.Length()) / bandwidth
	require.Equal(t, 12000, pkt1.Length())

	evtMgr.ScheduleFunc(t0, func(*EventManager) {
		a.SendPacket(b, pkt1, false)
		a.SendPacket(b, pkt2, false)
	})

	// while the first packet propagates, the second is being serialized
	link, present := a.LinkTo(b)
	require.True(t, present)
	var onWire []WirePacket
	evtMgr.ScheduleFunc(t0+1.5*serial, func(*EventManager) { onWire = link.PacketsOnWire() })

	evtMgr.Run()

	require.Len(t, b.arrivals, 2)
	require.InDelta(t, t0+serial+delay, b.arrivals[0].at, 1e-9)
	require.InDelta(t, t0+2*serial+delay, b.arrivals[1].at, 1e-9)
	require.Equal(t, "a", b.arrivals[0].from)
	require.Same(t, pkt1, b.arrivals[0].pkt)

	require.Len(t, onWire, 2)
	require.InDelta(t, t0, onWire[0].Start, 1e-9)
	require.InDelta(t, t0+serial, onWire[1].Start, 1e-9)

	require.False(t, link.Busy())
	require.Empty(t, link.PacketsOnWire())
	stats := link.Stats()
	require.Equal(t, LinkStats{Enqueued: 2, Sent: 2, Delivered: 2, BitsSent: 24000}, stats)
}

func TestLinkDropsOverCapacity(t *testing.T) {
	evtMgr := CreateEventManager()
	a := createRecorderNode(evtMgr, "a")
	b := createRecorderNode(evtMgr, "b")
	LinkNodes(evtMgr, a, b, FIFOQueueFactory, 2, 1.0e6, 0.0)
	tm := CreateTraceManager("drops", true)
	a.setTrace(tm)

	// the link starts serializing only when its drain event fires, so all
	// five packets meet the queue together
	evtMgr.ScheduleFunc(0.0, func(*EventManager) {
		for idx := 0; idx < 5; idx++ {
			a.SendPacket(b, segmentPacket("a", 1, "b", 2, idx, DataPayloadBits), false)
		}
	})
	evtMgr.Run()

	link, _ := a.LinkTo(b)
	require.Equal(t, 3, link.Stats().Dropped)
	require.Len(t, b.arrivals, 2)
	require.Equal(t, 3, tm.CountOp(OpDrop))
	require.Equal(t, 5, tm.CountOp(OpEnqueue))
}

func TestLinkNodesTwicePanics(t *testing.T) {
	evtMgr := CreateEventManager()
	a := createRecorderNode(evtMgr, "a")
	b := createRecorderNode(evtMgr, "b")
	LinkNodes(evtMgr, a, b, FIFOQueueFactory, 2, 1.0e6, 0.0)
	require.Panics(t, func() { LinkNodes(evtMgr, b, a, FIFOQueueFactory, 2, 1.0e6, 0.0) })
	require.Panics(t, func() { LinkNodes(evtMgr, a, a, FIFOQueueFactory, 2, 1.0e6, 0.0) })
}

func TestLinksSortedByPeer(t *testing.T) {
	evtMgr := CreateEventManager()
	hub := createRecorderNode(evtMgr, "hub")
	for _, name := range []string{"delta", "alpha", "charlie", "bravo"} {
		LinkNodes(evtMgr, hub, createRecorderNode(evtMgr, name), FIFOQueueFactory, 1, 1.0e6, 0.0)
	}
	names := []string{}
	for _, link := range hub.Links() {
		names = append(names, link.To().Name())
		require.Equal(t, "hub->"+link.To().Name(), link.Name())
		require.Equal(t, "hub->"+link.To().Name(), link.Queue().Name())
	}
	require.Equal(t, []string{"alpha", "bravo", "charlie", "delta"}, names)
}

func TestDetachNodes(t *testing.T) {
	evtMgr := CreateEventManager()
	a := createRecorderNode(evtMgr, "a")
	b := createRecorderNode(evtMgr, "b")
	LinkNodes(evtMgr, a, b, FIFOQueueFactory, 2, 1.0e6, 0.5)

	// a packet already on the wire is still delivered after the nodes are detached
	evtMgr.ScheduleFunc(0.0, func(*EventManager) { a.SendPacket(b, segmentPacket("a", 1, "b", 2, 0, 100), false) })
	evtMgr.ScheduleFunc(0.1, func(*EventManager) { require.True(t, DetachNodes(a, b)) })
	evtMgr.ScheduleFunc(0.2, func(*EventManager) { a.SendPacket(b, segmentPacket("a", 1, "b", 2, 1, 100), false) })
	evtMgr.Run()

	require.False(t, a.IsLinkedTo(b))
	require.False(t, b.IsLinkedTo(a))
	require.False(t, DetachNodes(a, b))
	require.Len(t, b.arrivals, 1)
}

func TestSendWithoutLinkIsLost(t *testing.T) {
	evtMgr := CreateEventManager()
	a := createRecorderNode(evtMgr, "a")
	b := createRecorderNode(evtMgr, "b")
	tm := CreateTraceManager("nolink", true)
	a.setTrace(tm)

	require.NotPanics(t, func() { a.SendPacket(b, segmentPacket("a", 1, "b", 2, 0, 100), false) })
	require.Equal(t, 1, tm.CountOp(OpNoLink))
	require.Equal(t, 0, evtMgr.Pending())
}

func TestPacketLengthAndClone(t *testing.T) {
	pkt := segmentPacket("a", 1, "b", 2, 7, AckPayloadBits)
	require.Equal(t, AckPayloadBits+SeqFieldBits+IPHeaderBits, pkt.Length())

	cpy := pkt.Clone().(*IPPacket)
	require.Equal(t, pkt, cpy)
	cpy.Payload.(*Payload).SegID = 8
	segID, ok := pkt.SegID()
	require.True(t, ok)
	require.Equal(t, 7, segID)

	_, ok = CreateIPPacket("a", 1, "b", 2, segmentPacket("x", 0, "y", 0, 0, 0)).SegID()
	require.False(t, ok)
}
