package pktsim

// flow-sim.go holds background traffic: a source that sends unacknowledged
// packets of fixed length with sampled inter-arrival times, and a sink that
// counts them.  Background traffic loads links and queues without taking part
// in any transport protocol.

import (
	"fmt"
	"math"

	"github.com/iti/rngstream"
)

// inter-arrival distributions a TrafficSource may draw from
const (
	ExpArrivals   = "exp"   // Poisson arrivals at the rate
	ConstArrivals = "const" // one arrival every 1/rate seconds
)

// expRV returns a sample of a exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// sampleExpRV returns an exponential interarrival time, params[0] being the rate
func sampleExpRV(u01 float64, params []float64) float64 {
	return expRV(u01, params[0])
}

// sampleConst returns a constant interarrival time, params[0] being the rate
func sampleConst(u01 float64, params []float64) float64 {
	return 1.0 / params[0]
}

// arrivalSampler returns the sampling function for a named distribution
func arrivalSampler(dist string) (func(float64, []float64) float64, error) {
	switch dist {
	case "exponential", ExpArrivals, "expon", "":
		return sampleExpRV, nil
	case "constant", ConstArrivals:
		return sampleConst, nil
	}
	return nil, fmt.Errorf("unknown inter-arrival distribution %q", dist)
}

// TrafficSource sends packets of a fixed payload length to dst:dstPort at a
// mean rate (packets per second), never waiting for acknowledgments
type TrafficSource struct {
	host       *EndHost
	port       int
	dst        string
	dstPort    int
	rate       float64
	bits       int // payload length of each packet
	limit      int // packets to send, 0 for no limit
	sent       int
	sampleNext func(float64, []float64) float64
	rngstrm    *rngstream.RngStream
}

func createTrafficSource(host *EndHost, port int, dst string, dstPort int, rate float64, bits int,
	dist string) (*TrafficSource, error) {
	if !(rate > 0.0) {
		return nil, fmt.Errorf("traffic rate %v not positive", rate)
	}
	if bits < 0 {
		return nil, fmt.Errorf("negative traffic payload length %d", bits)
	}
	sample, err := arrivalSampler(dist)
	if err != nil {
		return nil, err
	}
	ts := &TrafficSource{host: host, port: port, dst: dst, dstPort: dstPort, rate: rate, bits: bits,
		sampleNext: sample}
	ts.rngstrm = rngstream.New(ts.Flow())
	return ts, nil
}

// SetLimit stops the source after n packets (n = 0 for no limit)
func (ts *TrafficSource) SetLimit(n int) {
	ts.limit = n
}

// Start schedules the first arrival
func (ts *TrafficSource) Start() {
	ts.scheduleNext()
}

// HandlePacket discards anything addressed to the source's port
func (ts *TrafficSource) HandlePacket(from Node, pkt *IPPacket) {}

func (ts *TrafficSource) scheduleNext() {
	if ts.limit > 0 && ts.sent >= ts.limit {
		return
	}
	evtMgr := ts.host.evtMgr
	gap := ts.sampleNext(ts.rngstrm.RandU01(), []float64{ts.rate})
	evtMgr.Schedule(evtMgr.CurrentSeconds()+gap, trafficArrival{source: ts})
}

// trafficArrival is the event that sends the source's next packet
type trafficArrival struct {
	source *TrafficSource
}

func (ta trafficArrival) Fire(evtMgr *EventManager) {
	ts := ta.source
	ts.host.trace.AddTrace(evtMgr.CurrentTime(), TraceRecord{Op: OpSend, ObjID: ts.host.id, Flow: ts.Flow(), SegID: ts.sent})
	ts.host.Send(segmentPacket(ts.host.name, ts.port, ts.dst, ts.dstPort, ts.sent, ts.bits))
	ts.sent += 1
	ts.scheduleNext()
}

// Sent returns the number of packets sent
func (ts *TrafficSource) Sent() int {
	return ts.sent
}

// Rate returns the mean rate in packets per second
func (ts *TrafficSource) Rate() float64 {
	return ts.rate
}

// Flow returns the "src:port->dst:port" label of the source
func (ts *TrafficSource) Flow() string {
	return flowName(ts.host.name, ts.port, ts.dst, ts.dstPort)
}

// TrafficSink counts the packets and payload bits that reach its port
type TrafficSink struct {
	received int
	bits     int
}

// HandlePacket counts the arrival
func (tk *TrafficSink) HandlePacket(from Node, pkt *IPPacket) {
	tk.received += 1
	if pkt.Payload != nil {
		tk.bits += pkt.Payload.Length()
	}
}

// Received returns the number of packets that arrived
func (tk *TrafficSink) Received() int {
	return tk.received
}

// Bits returns the payload bits that arrived, sequence fields included
func (tk *TrafficSink) Bits() int {
	return tk.bits
}
