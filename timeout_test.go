package pktsim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimeoutFires(t *testing.T) {
	evtMgr := CreateEventManager()
	firedAt := []float64{}
	to := CreateTimeout(evtMgr, 2.0, func(em *EventManager) { firedAt = append(firedAt, em.CurrentSeconds()) })
	require.True(t, to.Active())

	evtMgr.Run()
	require.Equal(t, []float64{2.0}, firedAt)
	require.False(t, to.Active())
}

func TestTimeoutDelay(t *testing.T) {
	evtMgr := CreateEventManager()
	firedAt := []float64{}
	to := CreateTimeout(evtMgr, 2.0, func(em *EventManager) { firedAt = append(firedAt, em.CurrentSeconds()) })

	evtMgr.ScheduleFunc(1.0, func(*EventManager) { to.Delay(3.0) })
	evtMgr.ScheduleFunc(2.5, func(*EventManager) { to.Delay(4.5) })
	evtMgr.Run()

	// the function runs once, at the final deadline
	require.Equal(t, []float64{4.5}, firedAt)
	require.Equal(t, 4.5, to.Deadline())
}

func TestTimeoutDelayNotLaterPanics(t *testing.T) {
	evtMgr := CreateEventManager()
	to := CreateTimeout(evtMgr, 2.0, func(*EventManager) {})
	require.Panics(t, func() { to.Delay(2.0) })
	require.Panics(t, func() { to.Delay(1.0) })
	require.Equal(t, 2.0, to.Deadline())
}

func TestTimeoutCancel(t *testing.T) {
	evtMgr := CreateEventManager()
	fired := false
	to := CreateTimeout(evtMgr, 2.0, func(*EventManager) { fired = true })
	evtMgr.ScheduleFunc(1.0, func(*EventManager) { to.Cancel() })

	evtMgr.Run()
	require.False(t, fired)
	require.False(t, to.Active())
	require.Equal(t, 0, evtMgr.Pending())
}

func TestTimeoutCancelAfterDelay(t *testing.T) {
	evtMgr := CreateEventManager()
	fired := false
	to := CreateTimeout(evtMgr, 1.0, func(*EventManager) { fired = true })
	to.Delay(5.0)
	evtMgr.ScheduleFunc(3.0, func(*EventManager) { to.Cancel() })

	evtMgr.Run()
	require.False(t, fired)
	// the check at 1.0 rescheduled itself at 5.0, where it found the timeout cancelled
	require.Equal(t, 5.0, evtMgr.CurrentSeconds())
}

func TestTimeoutDeadlineBetweenTicks(t *testing.T) {
	evtMgr := CreateEventManager()
	deadline := 0.1 + 0.2
	require.NotEqual(t, 0.3, deadline)

	fired := 0
	to := CreateTimeout(evtMgr, deadline, func(*EventManager) { fired += 1 })
	evtMgr.ScheduleFunc(0.1, func(*EventManager) { to.Delay(deadline + 0.1) })
	evtMgr.Run()
	require.Equal(t, 1, fired)
	require.InDelta(t, 0.4, evtMgr.CurrentSeconds(), 1e-9)
	require.Equal(t, 0, evtMgr.Pending())
}
