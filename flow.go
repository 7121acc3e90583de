package pktsim

// flow.go holds the Flow, a transport sender/acker pair between two end hosts
// together with the time the sender starts.

import (
	"fmt"
)

// FlowKind selects the transport protocol of a flow
type FlowKind int

const (
	WindowFlow FlowKind = iota
	TCPFlow
	TrafficFlow
)

func (kind FlowKind) String() string {
	switch kind {
	case WindowFlow:
		return "window"
	case TCPFlow:
		return "tcp"
	case TrafficFlow:
		return "traffic"
	}
	return "unknown"
}

// Flow describes one sender/acker pair and holds the protocol objects built for it
type Flow struct {
	FlowID  int
	Kind    FlowKind
	Src     string
	SrcPort int
	Dst     string
	DstPort int
	Window  int     // fixed window, for WindowFlow
	Limit   int     // segments to send, 0 for no limit
	Start   float64 // time the sender starts

	// for TrafficFlow
	Rate float64 // packets per second
	Bits int     // payload length
	Dist string  // inter-arrival distribution

	WindowSender  *WindowSender
	WindowAcker   *WindowAcker
	TCPSender     *TCPSender
	TCPAcker      *TCPAcker
	TrafficSource *TrafficSource
	TrafficSink   *TrafficSink
}

// Name returns the "src:port->dst:port" label of the flow
func (flow *Flow) Name() string {
	return flowName(flow.Src, flow.SrcPort, flow.Dst, flow.DstPort)
}

// Sent returns the number of new segments the sender has sent
func (flow *Flow) Sent() int {
	switch flow.Kind {
	case TCPFlow:
		return flow.TCPSender.Sent()
	case TrafficFlow:
		return flow.TrafficSource.Sent()
	}
	return flow.WindowSender.Sent()
}

// Delivered returns the number of segments the acker received in order (for TCP)
// or at all (for the fixed window and background traffic)
func (flow *Flow) Delivered() int {
	switch flow.Kind {
	case TCPFlow:
		return flow.TCPAcker.LeftEdge()
	case TrafficFlow:
		return flow.TrafficSink.Received()
	}
	return flow.WindowAcker.Received()
}

// attach creates the acker at dst and the sender at src
func (flow *Flow) attach(src, dst *EndHost) error {
	if flow.Kind == TrafficFlow {
		source, err := createTrafficSource(src, flow.SrcPort, flow.Dst, flow.DstPort, flow.Rate, flow.Bits, flow.Dist)
		if err != nil {
			return fmt.Errorf("flow %s: %w", flow.Name(), err)
		}
		source.SetLimit(flow.Limit)
		flow.TrafficSink = dst.AttachTrafficSink(flow.DstPort)
		src.ListenOn(flow.SrcPort, source.HandlePacket)
		flow.TrafficSource = source
		return nil
	}

	switch flow.Kind {
	case WindowFlow:
		flow.WindowAcker = dst.AttachWindowAcker(flow.DstPort)
		flow.WindowSender = src.AttachWindowSender(flow.SrcPort, flow.Dst, flow.DstPort, flow.Window)
		flow.WindowSender.SetLimit(flow.Limit)
	case TCPFlow:
		flow.TCPAcker = dst.AttachTCPAcker(flow.DstPort)
		flow.TCPSender = src.AttachTCPSender(flow.SrcPort, flow.Dst, flow.DstPort)
		flow.TCPSender.SetLimit(flow.Limit)
	}
	return nil
}

// flowStart is the event that starts a flow's sender
type flowStart struct {
	flow *Flow
}

func (fs flowStart) Fire(evtMgr *EventManager) {
	logger.Info("flow start", "time", evtMgr.CurrentSeconds(), "flow", fs.flow.Name(), "kind", fs.flow.Kind.String())
	switch fs.flow.Kind {
	case WindowFlow:
		fs.flow.WindowSender.Start()
	case TCPFlow:
		fs.flow.TCPSender.Start()
	case TrafficFlow:
		fs.flow.TrafficSource.Start()
	}
}

// SpeedFunc receives playback speed changes.  The speed has no effect on the simulation.
type SpeedFunc func(now float64, speed float64)

// speedChange is the event that passes a playback speed to the network's SpeedFunc
type speedChange struct {
	network *Network
	speed   float64
}

func (sc speedChange) Fire(evtMgr *EventManager) {
	sc.network.speed = sc.speed
	if sc.network.speedFn != nil {
		sc.network.speedFn(evtMgr.CurrentSeconds(), sc.speed)
	}
}
