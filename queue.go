package pktsim

// queue.go holds the buffer policies used on the outbound side of a link.
// A Queue is bounded: after every insertion it holds no more items than its
// capacity, and each item it throws away is reported to its drop observers.

import (
	"errors"
	"fmt"

	"github.com/iti/rngstream"
	"golang.org/x/exp/slices"
)

// ErrEmptyQueue is the panic value (wrapped) for GetData on an empty queue
var ErrEmptyQueue = errors.New("get from empty queue")

// DropFunc observes an item thrown away by a queue
type DropFunc func(q Queue, item Serializable)

// Queue is the capability every buffer policy provides
type Queue interface {
	AddData(item Serializable, urgent bool) // urgent items go to the front
	GetData() Serializable                  // remove and return the front item
	Size() int
	Capacity() int
	Content() []Serializable // front to back
	Name() string
	SetName(string)
	OnDrop(DropFunc)
}

// QueueFactory returns the two queues, one per direction, of a new link
// in the simulation run by evtMgr
type QueueFactory func(evtMgr *EventManager, capacity int) (Queue, Queue)

// queueBase holds what the queue policies share: a name, a capacity,
// the items in order, and the drop observers
type queueBase struct {
	name     string
	capacity int
	items    []Serializable
	dropped  []DropFunc
}

func (qb *queueBase) Size() int {
	return len(qb.items)
}

func (qb *queueBase) Capacity() int {
	return qb.capacity
}

func (qb *queueBase) Content() []Serializable {
	return slices.Clone(qb.items)
}

func (qb *queueBase) Name() string {
	return qb.name
}

func (qb *queueBase) SetName(name string) {
	qb.name = name
}

func (qb *queueBase) OnDrop(fn DropFunc) {
	qb.dropped = append(qb.dropped, fn)
}

// insert places the item at the front or the back
func (qb *queueBase) insert(item Serializable, urgent bool) {
	if urgent {
		qb.items = slices.Insert(qb.items, 0, item)
	} else {
		qb.items = append(qb.items, item)
	}
}

// dropTail removes items from the back until the capacity is respected,
// reporting each one
func (qb *queueBase) dropTail(q Queue) {
	for len(qb.items) > qb.capacity {
		last := qb.items[len(qb.items)-1]
		qb.items[len(qb.items)-1] = nil
		qb.items = qb.items[:len(qb.items)-1]
		qb.fireDrop(q, last)
	}
}

func (qb *queueBase) fireDrop(q Queue, item Serializable) {
	for _, fn := range qb.dropped {
		fn(q, item)
	}
}

func (qb *queueBase) getData() Serializable {
	if len(qb.items) == 0 {
		panic(fmt.Errorf("%w: %s", ErrEmptyQueue, qb.name))
	}
	first := qb.items[0]
	qb.items[0] = nil
	qb.items = qb.items[1:]
	return first
}

// FIFOQueue is first-in first-out with drop-tail on overflow
type FIFOQueue struct {
	queueBase
}

// CreateFIFOQueue is a constructor
func CreateFIFOQueue(capacity int) *FIFOQueue {
	q := new(FIFOQueue)
	q.capacity = capacity
	q.items = make([]Serializable, 0, capacity+1)
	return q
}

// AddData inserts the item then drops from the back while over capacity.
// An urgent item put into a full queue therefore pushes out the last item.
func (q *FIFOQueue) AddData(item Serializable, urgent bool) {
	q.insert(item, urgent)
	q.dropTail(q)
}

// GetData removes and returns the front item
func (q *FIFOQueue) GetData() Serializable {
	return q.getData()
}

// FIFOQueueFactory gives each direction of a link its own FIFOQueue
func FIFOQueueFactory(evtMgr *EventManager, capacity int) (Queue, Queue) {
	return CreateFIFOQueue(capacity), CreateFIFOQueue(capacity)
}

// REDParams holds the parameters of random early detection
type REDParams struct {
	MinTh  float64 `json:"minth" yaml:"minth"`   // average occupancy below which nothing is dropped early
	MaxTh  float64 `json:"maxth" yaml:"maxth"`   // average occupancy at and above which every arrival is dropped
	MaxP   float64 `json:"maxp" yaml:"maxp"`     // drop probability as the average reaches MaxTh
	Weight float64 `json:"weight" yaml:"weight"` // weight of the newest sample in the moving average
}

// DefaultREDParams returns parameters scaled to a queue of the given capacity
func DefaultREDParams(capacity int) REDParams {
	return REDParams{MinTh: float64(capacity) / 4.0, MaxTh: float64(capacity) * 3.0 / 4.0, MaxP: 0.1, Weight: 0.2}
}

// REDQueue is a FIFOQueue that drops arriving (non-urgent) items at random
// as the moving average of its occupancy grows.  Overflow is still
// handled by drop-tail.
type REDQueue struct {
	queueBase
	params  REDParams
	avg     float64
	early   int // number of early drops
	rngstrm *rngstream.RngStream
}

// CreateREDQueue is a constructor.  The name labels the random number stream.
// rngstream seeds each new stream from the next state of a package-wide
// generator, so the drop sequence of a queue depends on how many streams
// the process created before it.  A replay of a simulation gets the same drops
// only when it is built in a fresh process.
func CreateREDQueue(name string, capacity int, params REDParams) *REDQueue {
	q := new(REDQueue)
	q.name = name
	q.capacity = capacity
	q.items = make([]Serializable, 0, capacity+1)
	q.params = params
	q.rngstrm = rngstream.New(name)
	return q
}

// AddData updates the average occupancy and decides whether the arrival is
// dropped early.  Urgent items are never dropped early.
func (q *REDQueue) AddData(item Serializable, urgent bool) {
	w := q.params.Weight
	q.avg = (1.0-w)*q.avg + w*float64(len(q.items))

	if !urgent && q.dropEarly() {
		q.early += 1
		q.fireDrop(q, item)
		return
	}
	q.insert(item, urgent)
	q.dropTail(q)
}

// dropEarly samples the drop decision for the current average occupancy
func (q *REDQueue) dropEarly() bool {
	switch {
	case q.avg < q.params.MinTh:
		return false
	case q.avg >= q.params.MaxTh:
		return true
	}
	prDrop := q.params.MaxP * (q.avg - q.params.MinTh) / (q.params.MaxTh - q.params.MinTh)
	return q.rngstrm.RandU01() < prDrop
}

// GetData removes and returns the front item
func (q *REDQueue) GetData() Serializable {
	return q.getData()
}

// AvgOccupancy returns the moving average of the occupancy
func (q *REDQueue) AvgOccupancy() float64 {
	return q.avg
}

// EarlyDrops returns the number of arrivals dropped before reaching the queue
func (q *REDQueue) EarlyDrops() int {
	return q.early
}

// REDQueueFactory returns a QueueFactory building REDQueues with the given parameters.
// A zero-valued params argument selects DefaultREDParams for the capacity.
func REDQueueFactory(params REDParams) QueueFactory {
	return func(evtMgr *EventManager, capacity int) (Queue, Queue) {
		p := params
		if p == (REDParams{}) {
			p = DefaultREDParams(capacity)
		}
		// stream names count the RED queues of this simulation
		evtMgr.nxtStream += 2
		q1 := CreateREDQueue(fmt.Sprintf("red-%d", evtMgr.nxtStream-1), capacity, p)
		q2 := CreateREDQueue(fmt.Sprintf("red-%d", evtMgr.nxtStream), capacity, p)
		return q1, q2
	}
}

// QueueFactoryByName returns the factory for a queue policy named in a description
func QueueFactoryByName(policy string, params REDParams) (QueueFactory, error) {
	switch policy {
	case "", "fifo", "FIFO", "droptail", "drop-tail":
		return FIFOQueueFactory, nil
	case "red", "RED":
		return REDQueueFactory(params), nil
	}
	return nil, fmt.Errorf("unknown queue policy %q", policy)
}
