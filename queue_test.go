package pktsim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func segIDs(items []Serializable) []int {
	ids := []int{}
	for _, item := range items {
		ids = append(ids, item.(*Payload).SegID)
	}
	return ids
}

func TestFIFODropTail(t *testing.T) {
	q := CreateFIFOQueue(3)
	dropped := []Serializable{}
	q.OnDrop(func(dq Queue, item Serializable) {
		require.Equal(t, Queue(q), dq)
		dropped = append(dropped, item)
	})

	for idx := 0; idx < 5; idx++ {
		q.AddData(CreatePayload(idx, 100), false)
		require.LessOrEqual(t, q.Size(), q.Capacity())
	}
	require.Equal(t, []int{0, 1, 2}, segIDs(q.Content()))
	require.Equal(t, []int{3, 4}, segIDs(dropped))

	require.Equal(t, 0, q.GetData().(*Payload).SegID)
	require.Equal(t, 2, q.Size())
}

func TestFIFOUrgent(t *testing.T) {
	q := CreateFIFOQueue(4)
	q.AddData(CreatePayload(0, 100), false)
	q.AddData(CreatePayload(1, 100), false)
	q.AddData(CreatePayload(99, 100), true)
	q.AddData(CreatePayload(2, 100), false)

	require.Equal(t, []int{99, 0, 1, 2}, segIDs(q.Content()))
	require.Equal(t, 99, q.GetData().(*Payload).SegID)
}

func TestFIFOUrgentIntoFullQueue(t *testing.T) {
	q := CreateFIFOQueue(2)
	dropped := []Serializable{}
	q.OnDrop(func(_ Queue, item Serializable) { dropped = append(dropped, item) })

	q.AddData(CreatePayload(0, 100), false)
	q.AddData(CreatePayload(1, 100), false)
	q.AddData(CreatePayload(99, 100), true)

	require.Equal(t, []int{99, 0}, segIDs(q.Content()))
	require.Equal(t, []int{1}, segIDs(dropped))
}

func TestQueueObserversEachCalledOnce(t *testing.T) {
	q := CreateFIFOQueue(0)
	calls := []string{}
	q.OnDrop(func(Queue, Serializable) { calls = append(calls, "first") })
	q.OnDrop(func(Queue, Serializable) { calls = append(calls, "second") })

	q.AddData(CreatePayload(0, 100), false)
	require.Equal(t, []string{"first", "second"}, calls)
	require.Equal(t, 0, q.Size())
}

func TestGetFromEmptyQueuePanics(t *testing.T) {
	q := CreateFIFOQueue(2)
	q.SetName("a->b")
	require.PanicsWithError(t, "get from empty queue: a->b", func() { q.GetData() })
}

func TestREDDropsEverythingAboveMaxTh(t *testing.T) {
	q := CreateREDQueue("red-test-max", 10, REDParams{MinTh: 0, MaxTh: 0, MaxP: 0.1, Weight: 0.5})
	dropped := 0
	q.OnDrop(func(Queue, Serializable) { dropped += 1 })

	for idx := 0; idx < 4; idx++ {
		q.AddData(CreatePayload(idx, 100), false)
	}
	require.Equal(t, 0, q.Size())
	require.Equal(t, 4, dropped)
	require.Equal(t, 4, q.EarlyDrops())

	// urgent items are never dropped early
	q.AddData(CreatePayload(99, 100), true)
	require.Equal(t, 1, q.Size())
	require.Equal(t, 4, q.EarlyDrops())
}

func TestREDBelowMinThIsDropTail(t *testing.T) {
	q := CreateREDQueue("red-test-min", 5, REDParams{MinTh: 100, MaxTh: 200, MaxP: 0.5, Weight: 0.2})
	dropped := []Serializable{}
	q.OnDrop(func(_ Queue, item Serializable) { dropped = append(dropped, item) })

	for idx := 0; idx < 8; idx++ {
		q.AddData(CreatePayload(idx, 100), false)
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, segIDs(q.Content()))
	require.Equal(t, []int{5, 6, 7}, segIDs(dropped))
	require.Equal(t, 0, q.EarlyDrops())
	require.Greater(t, q.AvgOccupancy(), 0.0)
}

func TestREDRespectsCapacity(t *testing.T) {
	factory := REDQueueFactory(REDParams{})
	evtMgr := CreateEventManager()
	q1, q2 := factory(evtMgr, 8)
	require.NotEqual(t, q1.Name(), q2.Name())
	require.Equal(t, "red-1", q1.Name())

	// a second simulation numbers its streams from the start again
	q3, _ := factory(CreateEventManager(), 8)
	require.Equal(t, "red-1", q3.Name())
	q4, _ := factory(evtMgr, 8)
	require.Equal(t, "red-3", q4.Name())

	red := q1.(*REDQueue)
	require.Equal(t, DefaultREDParams(8), red.params)

	drops := 0
	red.OnDrop(func(Queue, Serializable) { drops += 1 })
	added, removed := 0, 0
	for round := 0; round < 50; round++ {
		for idx := 0; idx < 3; idx++ {
			red.AddData(CreatePayload(added, 100), false)
			added += 1
			require.LessOrEqual(t, red.Size(), red.Capacity())
		}
		if red.Size() > 0 {
			red.GetData()
			removed += 1
		}
	}
	// every arrival is either still queued, already removed, or reported dropped
	require.Equal(t, added, red.Size()+removed+drops)
}

func TestQueueFactoryByName(t *testing.T) {
	for _, policy := range []string{"", "fifo", "droptail"} {
		factory, err := QueueFactoryByName(policy, REDParams{})
		require.NoError(t, err)
		q, _ := factory(CreateEventManager(), 3)
		_, isFIFO := q.(*FIFOQueue)
		require.True(t, isFIFO)
	}

	factory, err := QueueFactoryByName("red", REDParams{})
	require.NoError(t, err)
	q, _ := factory(CreateEventManager(), 3)
	_, isRED := q.(*REDQueue)
	require.True(t, isRED)

	_, err = QueueFactoryByName("codel", REDParams{})
	require.Error(t, err)
}
