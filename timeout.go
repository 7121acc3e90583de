package pktsim

import (
	"errors"
	"fmt"

	"github.com/iti/evt/vrtime"
)

// ErrTimeoutNotLater is the panic value (wrapped) for a Delay that does not move the deadline forward
var ErrTimeoutNotLater = errors.New("timeout delay must be later than current deadline")

// Timeout is a one-shot deadline on an EventManager.  The deadline may be
// pushed later, or the timeout cancelled, after it is created.  A check is
// scheduled at the original deadline; when the check finds the deadline has
// moved it reschedules itself, so no queued event is ever removed.
type Timeout struct {
	evtMgr   *EventManager
	deadline float64
	active   bool
	fn       func(*EventManager)
}

// timeoutCheck is the event a Timeout schedules for itself
type timeoutCheck struct {
	to *Timeout
}

func (tc timeoutCheck) Fire(evtMgr *EventManager) {
	tc.to.check(evtMgr)
}

// CreateTimeout is a constructor.  fn is called once, at the deadline,
// unless the timeout is cancelled first.
func CreateTimeout(evtMgr *EventManager, deadline float64, fn func(*EventManager)) *Timeout {
	to := &Timeout{evtMgr: evtMgr, deadline: deadline, active: true, fn: fn}
	evtMgr.Schedule(deadline, timeoutCheck{to: to})
	return to
}

// Delay moves the deadline to newDeadline, which must be strictly later
// than the present one.  The pending check is not rescheduled here.
func (to *Timeout) Delay(newDeadline float64) {
	if !(newDeadline > to.deadline) {
		panic(fmt.Errorf("%w: %v is not after %v", ErrTimeoutNotLater, newDeadline, to.deadline))
	}
	to.deadline = newDeadline
}

// Cancel makes any pending check a no-op
func (to *Timeout) Cancel() {
	to.active = false
}

// Deadline returns the current deadline
func (to *Timeout) Deadline() float64 {
	return to.deadline
}

// Active is true until the timeout fires or is cancelled
func (to *Timeout) Active() bool {
	return to.active
}

func (to *Timeout) check(evtMgr *EventManager) {
	if !to.active {
		return
	}
	// the clock counts whole ticks, so the deadline is compared in ticks
	if vrtime.SecondsToTicks(to.deadline) <= evtMgr.CurrentTime().Ticks() {
		to.fn(evtMgr)
		to.active = false
		return
	}

	// the deadline was pushed forward after this check was scheduled
	evtMgr.Schedule(to.deadline, timeoutCheck{to: to})
}
