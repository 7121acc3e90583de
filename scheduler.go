package pktsim

// scheduler.go holds the event manager that drives a simulation.
// Every change of model state happens inside the Fire method of an event
// the manager pops from its queue.   The queue and clock belong to an
// evtm.EventManager.  Events are ordered by time, and events that share a
// time fire in the order they were scheduled, because evtm gives each event
// scheduled at priority zero the next of an increasing run of priorities.
// Protocol behavior (e.g. which of two simultaneous acks is seen first) depends on that rule.

import (
	"errors"
	"fmt"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

var (
	// ErrPastEvent is the panic value (wrapped) for scheduling before the current time
	ErrPastEvent = errors.New("event scheduled before current time")

	// ErrResetPending is the panic value (wrapped) for resetting a manager with queued events
	ErrResetPending = errors.New("reset with events pending")

	// ErrReentrantRun is the panic value (wrapped) for calling Run from inside an event
	ErrReentrantRun = errors.New("run called from inside an event")
)

// horizon bounds the limit handed to evtm by Run.  Its tick count fits an int64.
var horizon float64 = vrtime.TicksToSeconds(math.MaxInt64 / 2)

// Event is an action the EventManager fires at its scheduled time.
// Each component of the model defines its own event types.
type Event interface {
	Fire(evtMgr *EventManager)
}

// FuncEvent adapts a function to the Event interface.  It is the
// way a driver (or a test) injects timed actions into a simulation
type FuncEvent func(*EventManager)

// Fire calls the function
func (fe FuncEvent) Fire(evtMgr *EventManager) {
	fe(evtMgr)
}

// EventManager is the simulation context: one logical clock and the
// queue of pending events, both held by an evtm.EventManager.  Every component
// that schedules events holds a pointer to the EventManager it belongs to, so
// independent simulations can coexist in one process.
type EventManager struct {
	evtMgr    *evtm.EventManager
	lastFired vrtime.Time // time of the most recently fired event
	fired     int         // number of events fired since creation or the last reset
	running   bool        // true while Run or RunUntil is draining the queue
	nxtID     int         // next identity handed out by NextID
	nxtStream int         // RED queues created so far, selects their random stream
}

// CreateEventManager is a constructor
func CreateEventManager() *EventManager {
	evtMgr := new(EventManager)
	evtMgr.evtMgr = evtm.New()
	evtMgr.lastFired = vrtime.ZeroTime()
	return evtMgr
}

// fireEvent is the evtm handler behind every Schedule call.  The context
// is the owning EventManager, the data the Event to fire.
func fireEvent(em *evtm.EventManager, context any, data any) any {
	evtMgr := context.(*EventManager)
	evtMgr.lastFired = em.CurrentTime()
	evtMgr.fired += 1
	data.(Event).Fire(evtMgr)
	return nil
}

// Schedule puts evt in the queue to be fired at time 'at', in seconds.  Times are
// kept as vrtime ticks.  Scheduling at a time earlier than the current time is a
// fatal error of the model.
func (evtMgr *EventManager) Schedule(at float64, evt Event) {
	atTicks := vrtime.SecondsToTicks(at)
	nowTicks := evtMgr.evtMgr.CurrentTicks()
	if atTicks < nowTicks {
		panic(fmt.Errorf("%w: at %v, now %v", ErrPastEvent, at, evtMgr.CurrentSeconds()))
	}

	// evtm takes an offset from its clock, priority 0 asks for the next in scheduling order
	evtMgr.evtMgr.Schedule(evtMgr, evt, fireEvent, vrtime.CreateTime(atTicks-nowTicks, 0))
}

// ScheduleFunc is Schedule for a function
func (evtMgr *EventManager) ScheduleFunc(at float64, fn func(*EventManager)) {
	evtMgr.Schedule(at, FuncEvent(fn))
}

// Run fires events in time order until none remain.  Events may
// schedule further events, including at the current time.
func (evtMgr *EventManager) Run() {
	evtMgr.drain(horizon)
}

// RunUntil fires the events whose time is no later than limit, leaving later
// ones queued.  The clock stays at the time of the last event fired.
// The return is true if the queue is empty afterwards.
func (evtMgr *EventManager) RunUntil(limit float64) bool {
	evtMgr.drain(math.Min(limit, horizon))
	return evtMgr.Pending() == 0
}

// drain is the event loop shared by Run and RunUntil.  evtm.Run stops once
// its clock reaches the limit, so it is called again while events at the limit
// remain.  evtm moves its clock up to the limit on return, and drain puts it back
// to the time of the last event fired.
func (evtMgr *EventManager) drain(limit float64) {
	if evtMgr.running {
		panic(fmt.Errorf("%w: at %v", ErrReentrantRun, evtMgr.CurrentSeconds()))
	}
	evtMgr.running = true
	defer func() { evtMgr.running = false }()

	limitTicks := vrtime.SecondsToTicks(limit)
	eventList := evtMgr.evtMgr.EventList
	for eventList.Len() > 0 && eventList.MinTime().Ticks() <= limitTicks {
		evtMgr.evtMgr.Run(limit)
		evtMgr.evtMgr.SetTime(evtMgr.lastFired)
	}
}

// Reset returns the clock to zero so that a new, independent run can start.
// Resetting while events are still queued is a fatal error.
func (evtMgr *EventManager) Reset() {
	if evtMgr.Pending() > 0 {
		panic(fmt.Errorf("%w: %d events", ErrResetPending, evtMgr.Pending()))
	}
	evtMgr.evtMgr.SetTime(vrtime.ZeroTime())
	evtMgr.lastFired = vrtime.ZeroTime()
	evtMgr.fired = 0
}

// CurrentSeconds returns the current simulation time
func (evtMgr *EventManager) CurrentSeconds() float64 {
	return evtMgr.evtMgr.CurrentSeconds()
}

// CurrentTime returns the current simulation time as a vrtime.Time
func (evtMgr *EventManager) CurrentTime() vrtime.Time {
	return evtMgr.evtMgr.CurrentTime()
}

// Pending returns the number of events waiting to fire
func (evtMgr *EventManager) Pending() int {
	return evtMgr.evtMgr.EventList.Len()
}

// Fired returns the number of events fired since creation or the last Reset
func (evtMgr *EventManager) Fired() int {
	return evtMgr.fired
}

// NextID hands out the identities of the nodes and links of one simulation.
// Identities start at 1 and survive Reset.
func (evtMgr *EventManager) NextID() int {
	evtMgr.nxtID += 1
	return evtMgr.nxtID
}
