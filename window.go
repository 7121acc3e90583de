package pktsim

// window.go holds the fixed-window transport.  The sender keeps at most
// 'window' segments unacknowledged.  It does not look at which segment an
// acknowledgment names: every acknowledgment frees one slot, so the sender
// is a counting semaphore over slots in flight, not a sliding window.

import (
	"fmt"
)

// WindowSender sends segments with increasing ids, never more than window unacknowledged
type WindowSender struct {
	host        *EndHost
	port        int
	dst         string
	dstPort     int
	window      int
	rightEdge   int // id of the next segment to send
	outstanding int // transmissions not yet acknowledged
	limit       int // total segments to send, 0 for no limit
	acks        int // acknowledgments received
}

func createWindowSender(host *EndHost, port int, dst string, dstPort int, window int) *WindowSender {
	return &WindowSender{host: host, port: port, dst: dst, dstPort: dstPort, window: window}
}

// SetLimit stops the sender after it has sent n segments (n = 0 for no limit)
func (ws *WindowSender) SetLimit(n int) {
	ws.limit = n
}

// Start fills the window
func (ws *WindowSender) Start() {
	ws.fillWindow()
}

// HandlePacket frees one slot for each acknowledgment, then refills
func (ws *WindowSender) HandlePacket(from Node, pkt *IPPacket) {
	ws.acks += 1
	ws.outstanding -= 1
	segID, _ := pkt.SegID()
	ws.host.trace.AddTrace(ws.host.evtMgr.CurrentTime(), TraceRecord{Op: OpAck, ObjID: ws.host.id,
		Flow: ws.Flow(), SegID: segID, Outstanding: ws.outstanding})
	ws.fillWindow()
}

func (ws *WindowSender) fillWindow() {
	for ws.outstanding < ws.window {
		if ws.limit > 0 && ws.rightEdge >= ws.limit {
			return
		}
		segID := ws.rightEdge
		ws.rightEdge += 1
		ws.host.trace.AddTrace(ws.host.evtMgr.CurrentTime(), TraceRecord{Op: OpSend, ObjID: ws.host.id,
			Flow: ws.Flow(), SegID: segID, Outstanding: ws.outstanding + 1})
		ws.host.Send(segmentPacket(ws.host.name, ws.port, ws.dst, ws.dstPort, segID, DataPayloadBits))
		ws.outstanding += 1
	}
}

// Window returns the fixed window size
func (ws *WindowSender) Window() int {
	return ws.window
}

// Outstanding returns the number of transmissions not yet acknowledged
func (ws *WindowSender) Outstanding() int {
	return ws.outstanding
}

// Sent returns the number of segments sent
func (ws *WindowSender) Sent() int {
	return ws.rightEdge
}

// Acks returns the number of acknowledgments received
func (ws *WindowSender) Acks() int {
	return ws.acks
}

// Flow returns the "src:port->dst:port" label of the sender
func (ws *WindowSender) Flow() string {
	return flowName(ws.host.name, ws.port, ws.dst, ws.dstPort)
}

// WindowAcker answers each segment with an acknowledgment naming the same segment
type WindowAcker struct {
	host     *EndHost
	received int
}

func createWindowAcker(host *EndHost) *WindowAcker {
	return &WindowAcker{host: host}
}

// HandlePacket acknowledges the arriving segment
func (wa *WindowAcker) HandlePacket(from Node, pkt *IPPacket) {
	segID, ok := pkt.SegID()
	if !ok {
		panic(fmt.Errorf("%w: acker at %s got payload %s", ErrNotIPPacket, wa.host.name, pkt.Payload))
	}
	wa.received += 1
	wa.host.trace.AddTrace(wa.host.evtMgr.CurrentTime(), TraceRecord{Op: OpSendAck, ObjID: wa.host.id,
		Flow: flowName(pkt.Dst, pkt.DstPort, pkt.Src, pkt.SrcPort), SegID: segID})
	wa.host.Send(segmentPacket(pkt.Dst, pkt.DstPort, pkt.Src, pkt.SrcPort, segID, AckPayloadBits))
}

// Received returns the number of segments received
func (wa *WindowAcker) Received() int {
	return wa.received
}
