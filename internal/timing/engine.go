package timing

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/ripd-project/ripd/internal/hostadapter"
	"github.com/ripd-project/ripd/internal/rib"
)

// jitterWindow is the +/- J in the "T + U[-J, J]" periodic update jitter
// that keeps neighboring routers from synchronizing their broadcasts.
const jitterWindow = 2 * time.Second

// suppressionMin and suppressionMax bound the triggered-update
// suppression delay (RFC 2453 §3.10.1): a random value in [1, 5) seconds.
const (
	suppressionMin = 1 * time.Second
	suppressionMax = 5 * time.Second
)

// gcSweepFloor is the minimum delay between GC sweep passes.
const gcSweepFloor = 1 * time.Second

// Emitter is implemented by the update emitter; the Timing Engine calls it
// for both periodic (non-triggered) and triggered updates.
type Emitter interface {
	EmitAll(triggered bool)
}

// Engine drives the RIP time-driven lifecycle: periodic update jitter,
// per-route timeout scans, the garbage-collection sweep, and
// triggered-update suppression. It runs entirely on the Scheduler's
// single goroutine, so it touches the Route Table without locking.
type Engine struct {
	sched   *Scheduler
	table   *rib.Table
	adapter hostadapter.Adapter
	emitter Emitter

	baseT time.Duration

	rng *rand.Rand

	// Triggered-update suppression state.
	suppressed    bool
	lastUpdate    time.Time
	routeChanged  bool
	gcSweepActive bool
}

// NewEngine constructs the Timing Engine. baseT is the configurable base
// duration T (default 30s); update interval is T, timeout interval 6T,
// garbage interval 4T.
func NewEngine(sched *Scheduler, table *rib.Table, adapter hostadapter.Adapter, emitter Emitter, baseT time.Duration) *Engine {
	return &Engine{
		sched:   sched,
		table:   table,
		adapter: adapter,
		emitter: emitter,
		baseT:   baseT,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) now() time.Time { return e.sched.now() }

func (e *Engine) timeoutInterval() time.Duration { return 6 * e.baseT }

func (e *Engine) garbageInterval() time.Duration { return 4 * e.baseT }

// Start schedules the first periodic update and the first timeout scan.
func (e *Engine) Start() {
	e.scheduleNextPeriodicUpdate()
	e.scheduleTimeoutScan(e.timeoutInterval())
}

// jitteredUpdateInterval returns T + U[-J, J].
func (e *Engine) jitteredUpdateInterval() time.Duration {
	offset := time.Duration((e.rng.Float64()*2 - 1) * float64(jitterWindow))
	d := e.baseT + offset
	if d < 0 {
		d = 0
	}
	return d
}

func (e *Engine) scheduleNextPeriodicUpdate() {
	e.sched.CallLater(e.jitteredUpdateInterval(), e.firePeriodicUpdate)
}

// firePeriodicUpdate emits a full, non-triggered update on all interfaces
// and reschedules itself.
func (e *Engine) firePeriodicUpdate() {
	e.emitter.EmitAll(false)
	e.lastUpdate = e.now()
	e.clearChangedFlags()
	e.scheduleNextPeriodicUpdate()
}

func (e *Engine) clearChangedFlags() {
	for _, entry := range e.table.All() {
		entry.Changed = false
	}
	e.routeChanged = false
	e.suppressed = false
}

// scheduleTimeoutScan arms the next timeout scan after d.
func (e *Engine) scheduleTimeoutScan(d time.Duration) {
	e.sched.CallLater(d, e.fireTimeoutScan)
}

// fireTimeoutScan walks non-garbage, non-imported routes and transitions
// any whose timer has exceeded 6T into garbage collection, then
// reschedules adaptively from the latest qualifying timestamp rather
// than waking on a fixed tick.
func (e *Engine) fireTimeoutScan() {
	now := e.now()
	interval := e.timeoutInterval()
	var latestQualifying time.Time
	have := false

	for _, entry := range e.table.All() {
		if entry.Garbage || entry.Imported || entry.Timeout.IsZero() {
			continue
		}
		age := now.Sub(entry.Timeout)
		if age >= interval {
			e.enterGarbage(entry)
			continue
		}
		if !have || entry.Timeout.After(latestQualifying) {
			latestQualifying = entry.Timeout
			have = true
		}
	}

	next := interval
	if have {
		next = latestQualifying.Add(interval).Sub(now) + time.Second
	}
	e.scheduleTimeoutScan(next)
}

// enterGarbage transitions entry to GC state, flags a route change so a
// triggered update advertises the poisoned route, and ensures exactly
// one GC sweep is scheduled.
func (e *Engine) enterGarbage(entry *rib.Entry) {
	if entry.Garbage {
		return // already in GC
	}
	entry.EnterGarbage(e.now())
	if err := e.adapter.ModifyRoute(entry.Network, entry.Mask, entry.Metric, entry.NextHop); err != nil {
		slog.Warn("timing: kernel route modify failed entering garbage collection", "route", entry, "error", err)
	}
	e.RequestTriggeredUpdate()
	e.ScheduleGarbageSweep()
}

// ScheduleGarbageSweep arms the GC sweep unless it is already armed. The
// protocol engine calls it after poisoning a route from a received
// infinity metric; the timeout scan calls it through enterGarbage.
func (e *Engine) ScheduleGarbageSweep() {
	if e.gcSweepActive {
		return
	}
	e.gcSweepActive = true
	e.sched.CallLater(e.garbageInterval(), e.fireGCSweep)
}

// fireGCSweep marks and removes routes whose GC timer has exceeded 4T,
// uninstalling them via the Host Adapter, then reschedules itself until
// no garbage routes remain.
func (e *Engine) fireGCSweep() {
	now := e.now()
	interval := e.garbageInterval()
	remaining := false

	for _, entry := range e.table.All() {
		if !entry.Garbage {
			continue
		}
		if now.Sub(entry.Timeout) >= interval {
			entry.MarkedForDeletion = true
			e.table.Remove(entry.Key())
			if err := e.adapter.UninstallRoute(entry.Network, entry.Mask); err != nil {
				slog.Warn("timing: kernel route uninstall failed during gc sweep", "route", entry, "error", err)
			}
			continue
		}
		remaining = true
	}

	if !remaining {
		e.gcSweepActive = false
		return
	}
	// TODO: coalesce grouped deletions into one exact-time callback
	// instead of polling on the 1s floor.
	e.sched.CallLater(gcSweepFloor, e.fireGCSweep)
}

// RequestTriggeredUpdate flags that the Route Table changed and arms (or
// defers to an already-armed) triggered update per the suppression rule
// of RFC 2453 §3.10.1.
func (e *Engine) RequestTriggeredUpdate() {
	e.routeChanged = true
	if e.suppressed {
		return // the pending fire will cover this change
	}
	delay := suppressionMin + time.Duration(e.rng.Float64()*float64(suppressionMax-suppressionMin))
	sinceLast := e.now().Sub(e.lastUpdate)
	if e.lastUpdate.IsZero() || sinceLast > delay {
		e.fireTriggeredUpdate()
		return
	}
	e.suppressed = true
	e.sched.CallLater(delay, e.fireTriggeredUpdate)
}

func (e *Engine) fireTriggeredUpdate() {
	if !e.routeChanged {
		// A periodic update already cleared the flag before this callback
		// ran; nothing left to advertise.
		e.suppressed = false
		return
	}
	e.emitter.EmitAll(true)
	e.lastUpdate = e.now()
	e.clearChangedFlags()
}
