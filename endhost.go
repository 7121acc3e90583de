package pktsim

import (
	"errors"
	"fmt"
)

// ErrPortInUse is the panic value (wrapped) for a second listener on one port
var ErrPortInUse = errors.New("port already has a listener")

// Listener receives the IP packets addressed to one port of an EndHost
type Listener func(from Node, pkt *IPPacket)

// EndHost is a node with a single link, to its first hop.  Everything it sends
// goes over that link, and arriving packets are handed to the listener of their
// destination port.
type EndHost struct {
	nodeBase
	firstHop  Node
	listeners map[int]Listener
}

// CreateEndHost is a constructor.  The host is linked to firstHop as part of its creation.
func CreateEndHost(evtMgr *EventManager, name string, firstHop Node, factory QueueFactory,
	capacity int, bandwidth, delay float64) *EndHost {
	host := new(EndHost)
	host.nodeBase = createNodeBase(evtMgr, name)
	host.firstHop = firstHop
	host.listeners = make(map[int]Listener)
	LinkNodes(evtMgr, host, firstHop, factory, capacity, bandwidth, delay)
	return host
}

// DevType returns "EndHost"
func (host *EndHost) DevType() string {
	return devCodeToStr(endHostCode)
}

// FirstHop returns the node the host is attached to
func (host *EndHost) FirstHop() Node {
	return host.firstHop
}

// Send transmits a locally originated packet toward the first hop
func (host *EndHost) Send(pkt Serializable) {
	host.SendPacket(host.firstHop, pkt, false)
}

// ListenOn registers the listener for packets addressed to port
func (host *EndHost) ListenOn(port int, listener Listener) {
	_, present := host.listeners[port]
	if present {
		panic(fmt.Errorf("%w: %s:%d", ErrPortInUse, host.name, port))
	}
	host.listeners[port] = listener
}

// Listening is true if a listener is registered on the port
func (host *EndHost) Listening(port int) bool {
	_, present := host.listeners[port]
	return present
}

// HandlePacket passes the packet to the listener on its destination port.
// A packet for a port nobody listens on is discarded.
func (host *EndHost) HandlePacket(from Node, pkt Serializable) {
	ipPkt, ok := pkt.(*IPPacket)
	if !ok {
		panic(fmt.Errorf("%w: host %s got %s", ErrNotIPPacket, host.name, pkt))
	}
	listener, present := host.listeners[ipPkt.DstPort]
	if !present {
		logger.Debug("no listener", "time", host.evtMgr.CurrentSeconds(), "host", host.name, "port", ipPkt.DstPort)
		return
	}
	listener(from, ipPkt)
}

// AttachWindowAcker creates a WindowAcker listening on port
func (host *EndHost) AttachWindowAcker(port int) *WindowAcker {
	acker := createWindowAcker(host)
	host.ListenOn(port, acker.HandlePacket)
	return acker
}

// AttachWindowSender creates a WindowSender on port, sending to dst:dstPort with a fixed window
func (host *EndHost) AttachWindowSender(port int, dst string, dstPort int, window int) *WindowSender {
	sender := createWindowSender(host, port, dst, dstPort, window)
	host.ListenOn(port, sender.HandlePacket)
	return sender
}

// AttachTCPAcker creates a TCPAcker listening on port
func (host *EndHost) AttachTCPAcker(port int) *TCPAcker {
	acker := createTCPAcker(host)
	host.ListenOn(port, acker.HandlePacket)
	return acker
}

// AttachTrafficSink creates a TrafficSink listening on port
func (host *EndHost) AttachTrafficSink(port int) *TrafficSink {
	sink := new(TrafficSink)
	host.ListenOn(port, sink.HandlePacket)
	return sink
}

// AttachTrafficSource creates a TrafficSource on port, sending packets with
// the given payload length to dst:dstPort at rate packets per second, with
// inter-arrival times drawn from dist (ExpArrivals or ConstArrivals)
func (host *EndHost) AttachTrafficSource(port int, dst string, dstPort int, rate float64, bits int,
	dist string) (*TrafficSource, error) {
	source, err := createTrafficSource(host, port, dst, dstPort, rate, bits, dist)
	if err != nil {
		return nil, err
	}
	host.ListenOn(port, source.HandlePacket)
	return source, nil
}

// AttachTCPSender creates a TCPSender on port, sending to dst:dstPort
func (host *EndHost) AttachTCPSender(port int, dst string, dstPort int) *TCPSender {
	sender := createTCPSender(host, port, dst, dstPort)
	host.ListenOn(port, sender.HandlePacket)
	return sender
}
