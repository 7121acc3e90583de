package pktsim

// net.go contains the topology of the model: nodes, and the directed links
// between them.  A link serializes one packet at a time out of its queue onto
// the wire, and any number of packets may be propagating on the wire at once.

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

var (
	// ErrDuplicateLink is the panic value (wrapped) for linking two nodes twice
	ErrDuplicateLink = errors.New("nodes already linked")

	// ErrNotIPPacket is the panic value (wrapped) for a node given a packet it cannot interpret
	ErrNotIPPacket = errors.New("packet is not an IP packet")
)

// devCode is the base type for an enumerated type of network devices
type devCode int

const (
	endHostCode devCode = iota
	routerCode
)

// devCodeToStr returns a string corresponding to an input devCode for it
func devCodeToStr(code devCode) string {
	switch code {
	case endHostCode:
		return "EndHost"
	case routerCode:
		return "Router"
	}
	return "Unknown"
}

// Node is what every forwarding entity provides.  The set of node types is
// closed: Router and EndHost.
type Node interface {
	Name() string
	ID() int
	DevType() string
	HandlePacket(from Node, pkt Serializable) // entry point for packets arriving over a link
	Links() []*Link                           // outbound links, sorted by the name of the far end
	LinkTo(peer Node) (*Link, bool)
	IsLinkedTo(peer Node) bool
	SendPacket(target Node, pkt Serializable, urgent bool)
	base() *nodeBase
}

// nodeBase holds what Router and EndHost share: identity, the event manager,
// and the outbound link to every neighbor
type nodeBase struct {
	name   string
	id     int
	evtMgr *EventManager
	trace  *TraceManager
	links  map[Node]*Link
}

func createNodeBase(evtMgr *EventManager, name string) nodeBase {
	return nodeBase{name: name, id: evtMgr.NextID(), evtMgr: evtMgr, links: make(map[Node]*Link)}
}

func (nb *nodeBase) base() *nodeBase {
	return nb
}

// Name returns the node's unique name
func (nb *nodeBase) Name() string {
	return nb.name
}

// ID returns the node's unique integer id
func (nb *nodeBase) ID() int {
	return nb.id
}

func (nb *nodeBase) String() string {
	return nb.name
}

// Links returns the node's outbound links, ordered by the name of the far end
func (nb *nodeBase) Links() []*Link {
	links := make([]*Link, 0, len(nb.links))
	for _, link := range nb.links {
		links = append(links, link)
	}
	slices.SortFunc(links, func(a, b *Link) int {
		return strings.Compare(a.to.Name(), b.to.Name())
	})
	return links
}

// LinkTo returns the outbound link toward peer, if there is one
func (nb *nodeBase) LinkTo(peer Node) (*Link, bool) {
	link, present := nb.links[peer]
	return link, present
}

// IsLinkedTo is true when the node has a link toward peer
func (nb *nodeBase) IsLinkedTo(peer Node) bool {
	_, present := nb.links[peer]
	return present
}

// SendPacket puts the packet on the link toward target.  Without such a link
// the packet is lost, and the loss logged.
func (nb *nodeBase) SendPacket(target Node, pkt Serializable, urgent bool) {
	link, present := nb.links[target]
	if !present {
		targetName := "<nil>"
		if target != nil {
			targetName = target.Name()
		}
		logger.Warn("no link", "time", nb.evtMgr.CurrentSeconds(), "node", nb.name, "target", targetName, "packet", pkt.String())
		nb.trace.AddTrace(nb.evtMgr.CurrentTime(), TraceRecord{Op: OpNoLink, ObjID: nb.id, Flow: flowOf(pkt), SegID: segOf(pkt)})
		return
	}
	link.SendPacket(pkt, urgent)
}

// setTrace points the node and its current links at a trace manager
func (nb *nodeBase) setTrace(tm *TraceManager) {
	nb.trace = tm
	for _, link := range nb.links {
		link.trace = tm
	}
}

// WirePacket is a packet propagating on a link, and the time its transmission started
type WirePacket struct {
	Packet Serializable
	Start  float64
}

// LinkStats counts what has passed through a link
type LinkStats struct {
	Enqueued  int `json:"enqueued" yaml:"enqueued"`   // packets offered to the queue
	Dropped   int `json:"dropped" yaml:"dropped"`     // packets the queue threw away
	Sent      int `json:"sent" yaml:"sent"`           // packets whose serialization started
	Delivered int `json:"delivered" yaml:"delivered"` // packets handed to the far end
	BitsSent  int `json:"bitssent" yaml:"bitssent"`
}

// Link is one direction of a connection between two nodes.  It owns the
// queue on the sending side.
type Link struct {
	id        int
	from      Node
	to        Node
	queue     Queue
	bandwidth float64 // bits per second
	delay     float64 // propagation delay, seconds
	busy      bool    // true while the queue is being drained
	onWire    []WirePacket
	stats     LinkStats
	evtMgr    *EventManager
	trace     *TraceManager
}

// createLink is a constructor.  The queue is renamed for the direction it serves.
func createLink(evtMgr *EventManager, from, to Node, queue Queue, bandwidth, delay float64) *Link {
	link := new(Link)
	link.id = evtMgr.NextID()
	link.from = from
	link.to = to
	link.queue = queue
	link.bandwidth = bandwidth
	link.delay = delay
	link.evtMgr = evtMgr
	link.onWire = make([]WirePacket, 0)
	link.trace = from.base().trace

	queue.SetName(link.Name())
	queue.OnDrop(link.dropped)
	return link
}

// LinkNodes joins two nodes with a pair of links, one per direction, each
// with its own queue from the factory.  Joining nodes already joined is fatal.
func LinkNodes(evtMgr *EventManager, n1, n2 Node, factory QueueFactory, capacity int, bandwidth, delay float64) {
	if n1 == n2 || n1.IsLinkedTo(n2) || n2.IsLinkedTo(n1) {
		panic(fmt.Errorf("%w: %s and %s", ErrDuplicateLink, n1.Name(), n2.Name()))
	}
	q1, q2 := factory(evtMgr, capacity)
	n1.base().links[n2] = createLink(evtMgr, n1, n2, q1, bandwidth, delay)
	n2.base().links[n1] = createLink(evtMgr, n2, n1, q2, bandwidth, delay)
}

// DetachNodes removes both directions of the connection between n1 and n2.
// Packets already propagating are still delivered.
func DetachNodes(n1, n2 Node) bool {
	if !n1.IsLinkedTo(n2) {
		return false
	}
	delete(n1.base().links, n2)
	delete(n2.base().links, n1)
	return true
}

// ID returns the link's unique integer id
func (link *Link) ID() int {
	return link.id
}

// Name is "from->to"
func (link *Link) Name() string {
	return fmt.Sprintf("%s->%s", link.from.Name(), link.to.Name())
}

// From returns the sending node
func (link *Link) From() Node {
	return link.from
}

// To returns the receiving node
func (link *Link) To() Node {
	return link.to
}

// Bandwidth returns the link bandwidth in bits per second
func (link *Link) Bandwidth() float64 {
	return link.bandwidth
}

// Delay returns the propagation delay in seconds
func (link *Link) Delay() float64 {
	return link.delay
}

// Busy is true while the link is draining its queue
func (link *Link) Busy() bool {
	return link.busy
}

// Queue returns the link's outbound queue
func (link *Link) Queue() Queue {
	return link.queue
}

// PacketsInQueue returns the queued packets, front to back
func (link *Link) PacketsInQueue() []Serializable {
	return link.queue.Content()
}

// PacketsOnWire returns the packets propagating on the link, oldest first
func (link *Link) PacketsOnWire() []WirePacket {
	return slices.Clone(link.onWire)
}

// Stats returns the link's counters
func (link *Link) Stats() LinkStats {
	return link.stats
}

// serializationTime is the time needed to put the packet's bits onto the wire
func (link *Link) serializationTime(pkt Serializable) float64 {
	return float64(pkt.Length()) / link.bandwidth
}

// SendPacket places the packet in the link's queue, and starts draining the
// queue if the link is idle
func (link *Link) SendPacket(pkt Serializable, urgent bool) {
	link.stats.Enqueued += 1
	link.trace.AddTrace(link.evtMgr.CurrentTime(), TraceRecord{Op: OpEnqueue, ObjID: link.id, Flow: flowOf(pkt), SegID: segOf(pkt)})
	link.queue.AddData(pkt, urgent)
	if !link.busy {
		link.busy = true
		link.evtMgr.Schedule(link.evtMgr.CurrentSeconds(), linkDrain{link: link})
	}
}

// linkDrain is the event that serializes the next queued packet
type linkDrain struct {
	link *Link
}

func (ld linkDrain) Fire(evtMgr *EventManager) {
	ld.link.drain(evtMgr)
}

// linkDeliver is the event that hands a packet to the far end of a link
type linkDeliver struct {
	link *Link
	pkt  Serializable
}

func (ld linkDeliver) Fire(evtMgr *EventManager) {
	ld.link.deliver(evtMgr, ld.pkt)
}

// drain takes one packet from the queue and puts it on the wire.  The next
// packet may start as soon as this one is serialized; it does not wait for
// this one to propagate.
func (link *Link) drain(evtMgr *EventManager) {
	if link.queue.Size() == 0 {
		link.busy = false
		return
	}
	pkt := link.queue.GetData()
	now := evtMgr.CurrentSeconds()
	sendTime := link.serializationTime(pkt)

	link.stats.Sent += 1
	link.stats.BitsSent += pkt.Length()
	link.onWire = append(link.onWire, WirePacket{Packet: pkt, Start: now})

	evtMgr.Schedule(now+sendTime, linkDrain{link: link})
	evtMgr.Schedule(now+sendTime+link.delay, linkDeliver{link: link, pkt: pkt})
}

// deliver removes the packet from the wire and gives it to the receiving node
func (link *Link) deliver(evtMgr *EventManager, pkt Serializable) {
	idx := slices.IndexFunc(link.onWire, func(wp WirePacket) bool { return wp.Packet == pkt })
	if idx >= 0 {
		link.onWire = slices.Delete(link.onWire, idx, idx+1)
	}
	link.stats.Delivered += 1
	link.trace.AddTrace(evtMgr.CurrentTime(), TraceRecord{Op: OpDeliver, ObjID: link.id, Flow: flowOf(pkt), SegID: segOf(pkt)})
	link.to.HandlePacket(link.from, pkt)
}

// dropped observes the link's queue
func (link *Link) dropped(q Queue, pkt Serializable) {
	link.stats.Dropped += 1
	logger.Debug("queue drop", "time", link.evtMgr.CurrentSeconds(), "queue", q.Name(), "packet", pkt.String())
	link.trace.AddTrace(link.evtMgr.CurrentTime(), TraceRecord{Op: OpDrop, ObjID: link.id, Flow: flowOf(pkt), SegID: segOf(pkt)})
}

// flowOf labels the flow a packet belongs to, for traces
func flowOf(pkt Serializable) string {
	ipPkt, ok := pkt.(*IPPacket)
	if !ok {
		return ""
	}
	return flowName(ipPkt.Src, ipPkt.SrcPort, ipPkt.Dst, ipPkt.DstPort)
}

// segOf returns the segment id a packet carries, or -1
func segOf(pkt Serializable) int {
	ipPkt, ok := pkt.(*IPPacket)
	if !ok {
		return -1
	}
	segID, ok := ipPkt.SegID()
	if !ok {
		return -1
	}
	return segID
}

// flowName is "src:port->dst:port"
func flowName(src string, srcPort int, dst string, dstPort int) string {
	return fmt.Sprintf("%s:%d->%s:%d", src, srcPort, dst, dstPort)
}
