package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ripd-project/ripd/internal/hostadapter"
	"github.com/ripd-project/ripd/internal/rib"
)

type countingEmitter struct {
	fullCalls      int
	triggeredCalls int
}

func (c *countingEmitter) EmitAll(triggered bool) {
	if triggered {
		c.triggeredCalls++
	} else {
		c.fullCalls++
	}
}

func newTestEngine(table *rib.Table, clock *time.Time) (*Engine, *hostadapter.Fake, *countingEmitter) {
	sched := NewScheduler()
	sched.NowFunc = func() time.Time { return *clock }
	fake := hostadapter.NewFake(nil)
	emitter := &countingEmitter{}
	return NewEngine(sched, table, fake, emitter, time.Second), fake, emitter
}

// TestTimeoutToGarbageCollection: a route learned at t=0 enters garbage
// collection once its timer exceeds 6T, and is removed and uninstalled
// once the GC timer exceeds a further 4T.
func TestTimeoutToGarbageCollection(t *testing.T) {
	base := time.Unix(0, 0)
	clock := base
	table := rib.NewTable()
	entry := &rib.Entry{Network: 0xC0A80100, Mask: 0xFFFFFF00, NextHop: 0x0A000002, Metric: 2}
	entry.ResetTimeout(clock)
	table.Insert(entry)

	engine, _, _ := newTestEngine(table, &clock)

	// Before 6T: nothing happens.
	clock = base.Add(5 * time.Second)
	engine.fireTimeoutScan()
	got, _ := table.Lookup(entry.Network, entry.Mask)
	require.False(t, got.Garbage)

	// At 6T: route enters GC, metric forced to 16.
	clock = base.Add(6 * time.Second)
	engine.fireTimeoutScan()
	got, _ = table.Lookup(entry.Network, entry.Mask)
	require.True(t, got.Garbage)
	require.Equal(t, rib.InfinityMetric, got.Metric)

	// At 6T+4T: GC sweep removes and uninstalls the route.
	clock = base.Add(10 * time.Second)
	engine.fireGCSweep()
	_, ok := table.Lookup(entry.Network, entry.Mask)
	require.False(t, ok)
}

// TestEnterGarbageIdempotent: entering GC twice is a no-op after the
// first transition.
func TestEnterGarbageIdempotent(t *testing.T) {
	clock := time.Unix(0, 0)
	table := rib.NewTable()
	entry := &rib.Entry{Network: 1, Mask: 0xFFFFFFFF, Metric: 5}
	table.Insert(entry)
	engine, _, emitter := newTestEngine(table, &clock)

	engine.enterGarbage(entry)
	firstTimeout := entry.Timeout
	clock = clock.Add(time.Second)
	engine.enterGarbage(entry)

	require.Equal(t, firstTimeout, entry.Timeout, "second enterGarbage must be a no-op")
	require.Equal(t, 1, emitter.triggeredCalls, "only the first transition should trigger an update")
}

// TestTriggeredUpdateSuppression: of two route changes close together,
// only the first is emitted at once; the second is held back by the
// suppression window instead of being emitted immediately.
func TestTriggeredUpdateSuppression(t *testing.T) {
	clock := time.Unix(100, 0) // far from zero so lastUpdate comparisons are meaningful
	table := rib.NewTable()
	engine, _, emitter := newTestEngine(table, &clock)

	engine.RequestTriggeredUpdate()
	require.Equal(t, 1, emitter.triggeredCalls, "first change with no recent update emits immediately")

	clock = clock.Add(50 * time.Millisecond)
	engine.RequestTriggeredUpdate()
	require.Equal(t, 1, emitter.triggeredCalls, "second change arrives too soon after the first and is suppressed, not emitted immediately")
}

// TestAdaptiveTimeoutRescan: the next scan fires one second after the
// latest qualifying route's timestamp plus the timeout interval, not
// after the oldest one's.
func TestAdaptiveTimeoutRescan(t *testing.T) {
	base := time.Unix(0, 0)
	clock := base
	table := rib.NewTable()
	e1 := &rib.Entry{Network: 1, Mask: 0xFFFFFFFF, Metric: 1}
	e1.ResetTimeout(base)
	table.Insert(e1)
	e2 := &rib.Entry{Network: 2, Mask: 0xFFFFFFFF, Metric: 1}
	e2.ResetTimeout(base.Add(3 * time.Second))
	table.Insert(e2)
	engine, _, _ := newTestEngine(table, &clock)

	clock = base.Add(5 * time.Second)
	engine.fireTimeoutScan()
	require.True(t, engine.sched.heap.Len() >= 1)

	// latest qualifying timeout is e2's (base+3s); interval is 6T=6s;
	// now is base+5s, so next = (3+6) - 5 + 1 = 5s, firing at base+10s.
	// Using the oldest timestamp (e1's, base+0s) instead would give
	// next = (0+6) - 5 + 1 = 2s, firing at base+7s, which this assertion
	// would catch.
	require.Equal(t, base.Add(10*time.Second), engine.sched.heap[0].fireAt)
}
