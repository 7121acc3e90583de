package pktsim

// tcp.go holds the TCP-like transport: a sender running additive-increase
// multiplicative-decrease congestion control with duplicate-ack detection,
// fast retransmit and fast recovery, and an acker returning cumulative
// acknowledgments.
//
// The sender's congestion control is a value, TCPState, advanced by a pure
// transition (OnAck) that returns the new state and the segments to transmit.
// TCPSender owns one TCPState and carries out the transmissions.

import (
	"fmt"
	"sort"

	"golang.org/x/exp/slices"
)

// dupAckThreshold is the number of duplicate acknowledgments that triggers fast retransmit
const dupAckThreshold = 3

// TCPMode is the state of the sender's congestion control
type TCPMode int

const (
	CongestionAvoidance TCPMode = iota
	FastRecovery
)

func (mode TCPMode) String() string {
	switch mode {
	case CongestionAvoidance:
		return "CongestionAvoidance"
	case FastRecovery:
		return "FastRecovery"
	}
	return "Unknown"
}

// TCPAction is one transmission requested by a transition of TCPState
type TCPAction struct {
	SegID  int
	Resend bool // true for a retransmission of a segment still outstanding
}

// TCPState is the congestion control state of a TCPSender
type TCPState struct {
	Window      float64 // congestion window, in segments
	SSThresh    float64 // slow-start threshold, in segments
	Outstanding []int   // ids of unacknowledged segments, in order of first transmission
	DupAcks     int     // consecutive duplicate acknowledgments
	RightEdge   int     // id of the next new segment
	Mode        TCPMode
	Safe        int // acknowledged-segment credit that suppresses repeated halving of SSThresh
	Limit       int // total new segments to send, 0 for no limit
}

// InitialTCPState returns the state of a sender that has sent nothing:
// a window of one segment, in congestion avoidance
func InitialTCPState() TCPState {
	return TCPState{Window: 1.0, Outstanding: []int{}, Mode: CongestionAvoidance}
}

// Start fills the initial window
func (st TCPState) Start() (TCPState, []TCPAction) {
	st.Outstanding = slices.Clone(st.Outstanding)
	return st, st.fill(nil)
}

// OnAck is the transition taken when a cumulative acknowledgment for segment
// ack arrives.  It returns the new state and the transmissions to make, in order.
// The receiver is not modified.
func (st TCPState) OnAck(ack int) (TCPState, []TCPAction) {
	st.Outstanding = slices.Clone(st.Outstanding)
	if st.Mode == FastRecovery {
		return st.onAckFastRecovery(ack)
	}
	return st.onAckCongestionAvoidance(ack)
}

func (st *TCPState) onAckCongestionAvoidance(ack int) (TCPState, []TCPAction) {
	var acts []TCPAction
	removed := st.removeThrough(ack)
	st.Safe -= removed

	if removed == 0 {
		// duplicate acknowledgment
		st.DupAcks += 1
		if st.DupAcks == dupAckThreshold {
			if st.Safe <= 0 {
				st.SSThresh = st.Window / 2.0
			}
			st.Window = st.SSThresh + dupAckThreshold
			acts = append(acts, TCPAction{SegID: ack + 1, Resend: true})
			st.Mode = FastRecovery
		} else {
			// each other duplicate means a segment has left the network;
			// send one new segment beyond the window in its place
			acts = st.sendNew(acts)
		}
	} else {
		st.DupAcks = 0
		for i := 0; i < removed; i++ {
			st.Window += 1.0 / st.Window
		}
	}
	return *st, st.fill(acts)
}

func (st *TCPState) onAckFastRecovery(ack int) (TCPState, []TCPAction) {
	var acts []TCPAction
	removed := st.removeThrough(ack)

	if removed > 0 {
		// new data acknowledged, recovery is over
		st.Mode = CongestionAvoidance
		st.Window = st.SSThresh
		acts = st.fill(acts)
		st.DupAcks = 0
		st.Safe = int(st.Window)
		return *st, acts
	}

	// window inflation, one segment per duplicate
	st.Window += 1.0
	return *st, st.fill(acts)
}

// removeThrough removes every outstanding id no greater than ack, returning how many were removed
func (st *TCPState) removeThrough(ack int) int {
	before := len(st.Outstanding)
	st.Outstanding = slices.DeleteFunc(st.Outstanding, func(segID int) bool { return segID <= ack })
	return before - len(st.Outstanding)
}

// sendNew marks the next new segment outstanding and appends its transmission,
// unless the sender's limit has been reached
func (st *TCPState) sendNew(acts []TCPAction) []TCPAction {
	if st.Limit > 0 && st.RightEdge >= st.Limit {
		return acts
	}
	st.Outstanding = append(st.Outstanding, st.RightEdge)
	acts = append(acts, TCPAction{SegID: st.RightEdge})
	st.RightEdge += 1
	return acts
}

// fill sends new segments while fewer than Window are outstanding
func (st *TCPState) fill(acts []TCPAction) []TCPAction {
	for float64(len(st.Outstanding)) < st.Window {
		if st.Limit > 0 && st.RightEdge >= st.Limit {
			break
		}
		acts = st.sendNew(acts)
	}
	return acts
}

// WindowFunc observes the congestion window of a TCPSender after each acknowledgment
type WindowFunc func(now float64, st TCPState)

// TCPSender sends an unbounded (or limited) sequence of segments under TCPState's congestion control
type TCPSender struct {
	host     *EndHost
	port     int
	dst      string
	dstPort  int
	state    TCPState
	resends  int
	observed []WindowFunc
}

func createTCPSender(host *EndHost, port int, dst string, dstPort int) *TCPSender {
	return &TCPSender{host: host, port: port, dst: dst, dstPort: dstPort, state: InitialTCPState()}
}

// SetLimit stops the sender after n new segments (n = 0 for no limit)
func (ts *TCPSender) SetLimit(n int) {
	ts.state.Limit = n
}

// OnWindow registers an observer of the window
func (ts *TCPSender) OnWindow(fn WindowFunc) {
	ts.observed = append(ts.observed, fn)
}

// Start fills the initial window
func (ts *TCPSender) Start() {
	var acts []TCPAction
	ts.state, acts = ts.state.Start()
	ts.transmit(acts)
}

// HandlePacket advances the congestion control with the acknowledgment the packet carries
func (ts *TCPSender) HandlePacket(from Node, pkt *IPPacket) {
	ack, ok := pkt.SegID()
	if !ok {
		panic(fmt.Errorf("%w: TCP sender %s got payload %s", ErrNotIPPacket, ts.Flow(), pkt.Payload))
	}
	now := ts.host.evtMgr.CurrentSeconds()
	vrt := ts.host.evtMgr.CurrentTime()
	ts.host.trace.AddTrace(vrt, TraceRecord{Op: OpAck, ObjID: ts.host.id, Flow: ts.Flow(), SegID: ack,
		Window: ts.state.Window, Outstanding: len(ts.state.Outstanding)})

	prevMode := ts.state.Mode
	var acts []TCPAction
	ts.state, acts = ts.state.OnAck(ack)

	if prevMode == FastRecovery && ts.state.Mode == FastRecovery {
		logger.Debug("tcp fast recovery", "time", now, "flow", ts.Flow(), "window", ts.state.Window,
			"outstanding", len(ts.state.Outstanding))
		ts.host.trace.AddTrace(vrt, TraceRecord{Op: OpFastRecovery, ObjID: ts.host.id, Flow: ts.Flow(), SegID: ack,
			Window: ts.state.Window, Outstanding: len(ts.state.Outstanding)})
	}
	ts.transmit(acts)

	if prevMode == CongestionAvoidance {
		ts.host.trace.AddTrace(vrt, TraceRecord{Op: OpWindow, ObjID: ts.host.id, Flow: ts.Flow(), SegID: ack,
			Window: ts.state.Window, Outstanding: len(ts.state.Outstanding)})
	}
	for _, fn := range ts.observed {
		fn(now, ts.State())
	}
}

// transmit sends the segments named by acts
func (ts *TCPSender) transmit(acts []TCPAction) {
	vrt := ts.host.evtMgr.CurrentTime()
	for _, act := range acts {
		op := OpSend
		if act.Resend {
			op = OpResend
			ts.resends += 1
			logger.Debug("tcp resend", "time", ts.host.evtMgr.CurrentSeconds(), "flow", ts.Flow(), "segment", act.SegID)
		}
		ts.host.trace.AddTrace(vrt, TraceRecord{Op: op, ObjID: ts.host.id, Flow: ts.Flow(), SegID: act.SegID,
			Window: ts.state.Window, Outstanding: len(ts.state.Outstanding)})
		ts.host.Send(segmentPacket(ts.host.name, ts.port, ts.dst, ts.dstPort, act.SegID, DataPayloadBits))
	}
}

// State returns a copy of the sender's congestion control state
func (ts *TCPSender) State() TCPState {
	st := ts.state
	st.Outstanding = slices.Clone(st.Outstanding)
	return st
}

// Window returns the congestion window
func (ts *TCPSender) Window() float64 {
	return ts.state.Window
}

// Mode returns the congestion control state
func (ts *TCPSender) Mode() TCPMode {
	return ts.state.Mode
}

// Sent returns the number of new segments sent
func (ts *TCPSender) Sent() int {
	return ts.state.RightEdge
}

// Resends returns the number of retransmissions
func (ts *TCPSender) Resends() int {
	return ts.resends
}

// Flow returns the "src:port->dst:port" label of the sender
func (ts *TCPSender) Flow() string {
	return flowName(ts.host.name, ts.port, ts.dst, ts.dstPort)
}

// TCPAcker answers every segment with a cumulative acknowledgment of the
// highest segment received in order
type TCPAcker struct {
	host     *EndHost
	leftEdge int              // next segment expected in order
	buffered map[int]struct{} // segments received beyond a gap
	received int
}

func createTCPAcker(host *EndHost) *TCPAcker {
	return &TCPAcker{host: host, buffered: make(map[int]struct{})}
}

// receive records an arriving segment and returns the cumulative acknowledgment to send
func (ta *TCPAcker) receive(segID int) int {
	ta.received += 1
	ta.buffered[segID] = struct{}{}
	for {
		_, present := ta.buffered[ta.leftEdge]
		if !present {
			break
		}
		delete(ta.buffered, ta.leftEdge)
		ta.leftEdge += 1
	}

	// stale duplicates
	for id := range ta.buffered {
		if id <= ta.leftEdge {
			delete(ta.buffered, id)
		}
	}
	return ta.leftEdge - 1
}

// HandlePacket acknowledges the arrival, whether in order, out of order, or duplicated
func (ta *TCPAcker) HandlePacket(from Node, pkt *IPPacket) {
	segID, ok := pkt.SegID()
	if !ok {
		panic(fmt.Errorf("%w: TCP acker at %s got payload %s", ErrNotIPPacket, ta.host.name, pkt.Payload))
	}
	ack := ta.receive(segID)
	ta.host.trace.AddTrace(ta.host.evtMgr.CurrentTime(), TraceRecord{Op: OpSendAck, ObjID: ta.host.id,
		Flow: flowName(pkt.Dst, pkt.DstPort, pkt.Src, pkt.SrcPort), SegID: ack})
	ta.host.Send(segmentPacket(pkt.Dst, pkt.DstPort, pkt.Src, pkt.SrcPort, ack, AckPayloadBits))
}

// LeftEdge returns the id of the next segment expected in order
func (ta *TCPAcker) LeftEdge() int {
	return ta.leftEdge
}

// Buffered returns, in increasing order, the segments held beyond a gap
func (ta *TCPAcker) Buffered() []int {
	ids := make([]int, 0, len(ta.buffered))
	for id := range ta.buffered {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Received returns the number of segments that arrived, duplicates included
func (ta *TCPAcker) Received() int {
	return ta.received
}
