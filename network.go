package pktsim

// network.go holds the Network, the typed construction interface through
// which a scenario (read from a description, or built by code) creates
// nodes and links, fills FIBs, and schedules flows.  Mistakes a scenario
// can make are returned as errors here, before the simulation runs.

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownNode is returned when a scenario names a node that was not created
	ErrUnknownNode = errors.New("unknown node")

	// ErrDuplicateNode is returned when a scenario creates two nodes with one name
	ErrDuplicateNode = errors.New("duplicate node name")

	// ErrWrongNodeType is returned when a router is named where an end host is needed, or vice versa
	ErrWrongNodeType = errors.New("wrong node type")
)

// Network is one simulated topology, with the EventManager that runs it
type Network struct {
	Name     string
	evtMgr   *EventManager
	trace    *TraceManager
	factory  QueueFactory
	nodes    map[string]Node
	order    []Node // nodes in order of creation
	flows    []*Flow
	named    map[int]bool // ids already given to the trace manager
	speedFn  SpeedFunc
	speed    float64
	routes   *routeCache
	numFlows int
}

// CreateNetwork is a constructor.  A nil evtMgr is replaced by a new one.
func CreateNetwork(name string, evtMgr *EventManager) *Network {
	if evtMgr == nil {
		evtMgr = CreateEventManager()
	}
	net := new(Network)
	net.Name = name
	net.evtMgr = evtMgr
	net.factory = FIFOQueueFactory
	net.nodes = make(map[string]Node)
	net.order = make([]Node, 0)
	net.flows = make([]*Flow, 0)
	net.named = make(map[int]bool)
	net.speed = 1.0
	return net
}

// SetQueueFactory selects the queue policy of links created afterwards
func (net *Network) SetQueueFactory(factory QueueFactory) {
	net.factory = factory
}

// SetTraceManager points every node and link, present and future, at tm
func (net *Network) SetTraceManager(tm *TraceManager) {
	net.trace = tm
	for _, node := range net.order {
		net.traceNode(node)
	}
}

// TraceManager returns the trace manager, possibly nil
func (net *Network) TraceManager() *TraceManager {
	return net.trace
}

// traceNode gives the node and its links the trace manager, and their names to it
func (net *Network) traceNode(node Node) {
	node.base().setTrace(net.trace)
	if !net.trace.Active() {
		return
	}
	if !net.named[node.ID()] {
		net.trace.AddName(node.ID(), node.Name(), node.DevType())
		net.named[node.ID()] = true
	}
	for _, link := range node.Links() {
		if !net.named[link.ID()] {
			net.trace.AddName(link.ID(), link.Name(), "Link")
			net.named[link.ID()] = true
		}
	}
}

// EventManager returns the event manager running the network
func (net *Network) EventManager() *EventManager {
	return net.evtMgr
}

// addNode records a new node under its name
func (net *Network) addNode(node Node) {
	net.nodes[node.Name()] = node
	net.order = append(net.order, node)
	net.routes = nil
	net.traceNode(node)
}

// AddRouter creates a router
func (net *Network) AddRouter(name string) (*Router, error) {
	if _, present := net.nodes[name]; present {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, name)
	}
	router := CreateRouter(net.evtMgr, name)
	net.addNode(router)
	return router, nil
}

// AddEndHost creates an end host attached to the node named firstHop by a link
// with the given capacity (packets per direction), bandwidth (bits/sec) and delay (sec)
func (net *Network) AddEndHost(name, firstHop string, capacity int, bandwidth, delay float64) (*EndHost, error) {
	if _, present := net.nodes[name]; present {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, name)
	}
	hop, present := net.nodes[firstHop]
	if !present {
		return nil, fmt.Errorf("%w: first hop %s of %s", ErrUnknownNode, firstHop, name)
	}
	if _, isRouter := hop.(*Router); !isRouter {
		return nil, fmt.Errorf("%w: first hop %s of %s is not a router", ErrWrongNodeType, firstHop, name)
	}
	if err := checkLinkParams(capacity, bandwidth, delay); err != nil {
		return nil, fmt.Errorf("end host %s: %w", name, err)
	}
	host := CreateEndHost(net.evtMgr, name, hop, net.factory, capacity, bandwidth, delay)
	net.addNode(host)
	net.traceNode(hop)
	return host, nil
}

// Link joins two existing routers.  An end host has the one link to its first hop.
func (net *Network) Link(name1, name2 string, bandwidth, delay float64, capacity int) error {
	n1, present := net.nodes[name1]
	if !present {
		return fmt.Errorf("%w: %s", ErrUnknownNode, name1)
	}
	n2, present := net.nodes[name2]
	if !present {
		return fmt.Errorf("%w: %s", ErrUnknownNode, name2)
	}
	if n1 == n2 || n1.IsLinkedTo(n2) {
		return fmt.Errorf("%w: %s and %s", ErrDuplicateLink, name1, name2)
	}
	for _, node := range []Node{n1, n2} {
		if _, isRouter := node.(*Router); !isRouter {
			return fmt.Errorf("%w: link %s-%s touches end host %s", ErrWrongNodeType, name1, name2, node.Name())
		}
	}
	if err := checkLinkParams(capacity, bandwidth, delay); err != nil {
		return fmt.Errorf("link %s-%s: %w", name1, name2, err)
	}
	LinkNodes(net.evtMgr, n1, n2, net.factory, capacity, bandwidth, delay)
	net.routes = nil
	net.traceNode(n1)
	net.traceNode(n2)
	return nil
}

// Detach removes both directions of the connection between two nodes.
// Packets already propagating are still delivered; FIB entries are left alone.
func (net *Network) Detach(name1, name2 string) error {
	n1, present := net.nodes[name1]
	if !present {
		return fmt.Errorf("%w: %s", ErrUnknownNode, name1)
	}
	n2, present := net.nodes[name2]
	if !present {
		return fmt.Errorf("%w: %s", ErrUnknownNode, name2)
	}
	if !DetachNodes(n1, n2) {
		return fmt.Errorf("%s and %s are not linked", name1, name2)
	}
	net.routes = nil
	return nil
}

// checkLinkParams rejects parameters a link cannot work with
func checkLinkParams(capacity int, bandwidth, delay float64) error {
	errs := []error{}
	if capacity < 0 {
		errs = append(errs, fmt.Errorf("negative capacity %d", capacity))
	}
	if !(bandwidth > 0.0) {
		errs = append(errs, fmt.Errorf("bandwidth %v not positive", bandwidth))
	}
	if delay < 0.0 {
		errs = append(errs, fmt.Errorf("negative delay %v", delay))
	}
	return ReportErrs(errs)
}

// AddFIB routes packets for dst at the named router through nextHop
func (net *Network) AddFIB(routerName, dst, nextHop string) error {
	router, err := net.Router(routerName)
	if err != nil {
		return err
	}
	hop, present := net.nodes[nextHop]
	if !present {
		return fmt.Errorf("%w: next hop %s", ErrUnknownNode, nextHop)
	}
	if _, present := router.NextHop(dst); present {
		return fmt.Errorf("%w: %s at %s", ErrDuplicateFIB, dst, routerName)
	}
	router.AddFIB(dst, hop)
	return nil
}

// Node returns the node with the given name
func (net *Network) Node(name string) (Node, bool) {
	node, present := net.nodes[name]
	return node, present
}

// Router returns the router with the given name
func (net *Network) Router(name string) (*Router, error) {
	node, present := net.nodes[name]
	if !present {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	router, ok := node.(*Router)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a router", ErrWrongNodeType, name)
	}
	return router, nil
}

// EndHost returns the end host with the given name
func (net *Network) EndHost(name string) (*EndHost, error) {
	node, present := net.nodes[name]
	if !present {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	host, ok := node.(*EndHost)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an end host", ErrWrongNodeType, name)
	}
	return host, nil
}

// Nodes returns every node, in order of creation
func (net *Network) Nodes() []Node {
	nodes := make([]Node, len(net.order))
	copy(nodes, net.order)
	return nodes
}

// Links returns every link, grouped by sending node in order of creation
func (net *Network) Links() []*Link {
	links := []*Link{}
	for _, node := range net.order {
		links = append(links, node.Links()...)
	}
	return links
}

// Flows returns the flows, in order of creation
func (net *Network) Flows() []*Flow {
	flows := make([]*Flow, len(net.flows))
	copy(flows, net.flows)
	return flows
}

// addFlow builds the protocol objects of the flow and schedules its start
func (net *Network) addFlow(flow *Flow) (*Flow, error) {
	src, err := net.EndHost(flow.Src)
	if err != nil {
		return nil, fmt.Errorf("flow source: %w", err)
	}
	dst, err := net.EndHost(flow.Dst)
	if err != nil {
		return nil, fmt.Errorf("flow destination: %w", err)
	}
	if src.Listening(flow.SrcPort) {
		return nil, fmt.Errorf("%w: %s:%d", ErrPortInUse, flow.Src, flow.SrcPort)
	}
	if dst.Listening(flow.DstPort) || (src == dst && flow.SrcPort == flow.DstPort) {
		return nil, fmt.Errorf("%w: %s:%d", ErrPortInUse, flow.Dst, flow.DstPort)
	}
	if flow.Start < net.evtMgr.CurrentSeconds() {
		return nil, fmt.Errorf("%w: flow %s at %v, now %v", ErrPastEvent, flow.Name(), flow.Start, net.evtMgr.CurrentSeconds())
	}

	if err := flow.attach(src, dst); err != nil {
		return nil, err
	}
	net.numFlows += 1
	flow.FlowID = net.numFlows
	net.flows = append(net.flows, flow)
	net.evtMgr.Schedule(flow.Start, flowStart{flow: flow})
	return flow, nil
}

// StartWindowFlow attaches a fixed-window sender at src:srcPort and its acker at
// dst:dstPort, and starts the sender at time 'at'.  limit bounds the segments sent (0 for none).
func (net *Network) StartWindowFlow(at float64, src string, srcPort int, dst string, dstPort int,
	window int, limit int) (*Flow, error) {
	if window < 1 {
		return nil, fmt.Errorf("window %d of flow %s must be positive", window, flowName(src, srcPort, dst, dstPort))
	}
	flow := &Flow{Kind: WindowFlow, Src: src, SrcPort: srcPort, Dst: dst, DstPort: dstPort,
		Window: window, Limit: limit, Start: at}
	return net.addFlow(flow)
}

// StartTCPFlow attaches a TCP sender at src:srcPort and its acker at
// dst:dstPort, and starts the sender at time 'at'.  limit bounds the segments sent (0 for none).
func (net *Network) StartTCPFlow(at float64, src string, srcPort int, dst string, dstPort int,
	limit int) (*Flow, error) {
	flow := &Flow{Kind: TCPFlow, Src: src, SrcPort: srcPort, Dst: dst, DstPort: dstPort,
		Limit: limit, Start: at}
	return net.addFlow(flow)
}

// StartTrafficFlow attaches a background TrafficSource at src:srcPort and a
// TrafficSink at dst:dstPort, and starts the source at time 'at'.  rate is in
// packets per second, bits is the payload length, dist names the inter-arrival
// distribution, and limit bounds the packets sent (0 for none).
func (net *Network) StartTrafficFlow(at float64, src string, srcPort int, dst string, dstPort int,
	rate float64, bits int, dist string, limit int) (*Flow, error) {
	flow := &Flow{Kind: TrafficFlow, Src: src, SrcPort: srcPort, Dst: dst, DstPort: dstPort,
		Limit: limit, Start: at, Rate: rate, Bits: bits, Dist: dist}
	return net.addFlow(flow)
}

// OnSpeed registers the function that receives playback speed changes
func (net *Network) OnSpeed(fn SpeedFunc) {
	net.speedFn = fn
}

// SetSpeed schedules a change of playback speed at time 'at'
func (net *Network) SetSpeed(at float64, speed float64) error {
	if at < net.evtMgr.CurrentSeconds() {
		return fmt.Errorf("%w: speed change at %v, now %v", ErrPastEvent, at, net.evtMgr.CurrentSeconds())
	}
	if !(speed > 0.0) {
		return fmt.Errorf("speed %v not positive", speed)
	}
	net.evtMgr.Schedule(at, speedChange{network: net, speed: speed})
	return nil
}

// Speed returns the playback speed most recently set
func (net *Network) Speed() float64 {
	return net.speed
}

// Now returns the current simulation time
func (net *Network) Now() float64 {
	return net.evtMgr.CurrentSeconds()
}

// Run runs the simulation until no events remain.  A flow without a limit
// keeps sending forever; use RunUntil for those.
func (net *Network) Run() {
	net.evtMgr.Run()
}

// RunUntil runs the simulation through time limit, returning true if no events remain
func (net *Network) RunUntil(limit float64) bool {
	return net.evtMgr.RunUntil(limit)
}

// Reset returns the clock to zero.  It panics if events are still pending.
func (net *Network) Reset() {
	net.evtMgr.Reset()
	net.speed = 1.0
}
