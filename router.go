package pktsim

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

var (
	// ErrNoRoute is the panic value (wrapped) for a router without a FIB entry for a packet's destination
	ErrNoRoute = errors.New("no FIB entry for destination")

	// ErrDuplicateFIB is the panic value (wrapped) for adding a second FIB entry for one destination
	ErrDuplicateFIB = errors.New("FIB entry already present")
)

// Router forwards IP packets by looking the destination name up in a static FIB.
// Packets are forwarded without any TTL, so a FIB that loops makes a packet
// circulate for as long as the simulation runs.
type Router struct {
	nodeBase
	fib map[string]Node // destination name -> next hop
}

// CreateRouter is a constructor
func CreateRouter(evtMgr *EventManager, name string) *Router {
	router := new(Router)
	router.nodeBase = createNodeBase(evtMgr, name)
	router.fib = make(map[string]Node)
	return router
}

// DevType returns "Router"
func (router *Router) DevType() string {
	return devCodeToStr(routerCode)
}

// AddFIB routes packets for dst through nextHop
func (router *Router) AddFIB(dst string, nextHop Node) {
	_, present := router.fib[dst]
	if present {
		panic(fmt.Errorf("%w: %s at %s", ErrDuplicateFIB, dst, router.name))
	}
	router.fib[dst] = nextHop
}

// NextHop returns the next hop toward dst, if the FIB has one
func (router *Router) NextHop(dst string) (Node, bool) {
	nextHop, present := router.fib[dst]
	return nextHop, present
}

// FIB returns a copy of the FIB, as destination name -> next hop name
func (router *Router) FIB() map[string]string {
	fib := make(map[string]string, len(router.fib))
	for dst, nextHop := range router.fib {
		fib[dst] = nextHop.Name()
	}
	return fib
}

// Destinations returns the destinations the FIB names, sorted
func (router *Router) Destinations() []string {
	dsts := make([]string, 0, len(router.fib))
	for dst := range router.fib {
		dsts = append(dsts, dst)
	}
	slices.Sort(dsts)
	return dsts
}

// HandlePacket forwards the packet to the next hop for its destination.
// A missing FIB entry is a configuration error, and fatal.
func (router *Router) HandlePacket(from Node, pkt Serializable) {
	ipPkt, ok := pkt.(*IPPacket)
	if !ok {
		panic(fmt.Errorf("%w: router %s got %s", ErrNotIPPacket, router.name, pkt))
	}
	nextHop, present := router.fib[ipPkt.Dst]
	if !present {
		panic(fmt.Errorf("%w: router %s, destination %s", ErrNoRoute, router.name, ipPkt.Dst))
	}
	router.SendPacket(nextHop, ipPkt, false)
}
