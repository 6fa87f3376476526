// Package engine implements the sync controller: the state machine that
// keeps the snapshot consistent with the external calendar and decides
// when to recommend re-optimization.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quantumlife/cadence/internal/analyze"
	"github.com/quantumlife/cadence/internal/config"
	"github.com/quantumlife/cadence/internal/core"
	"github.com/quantumlife/cadence/internal/diff"
	"github.com/quantumlife/cadence/internal/drift"
	"github.com/quantumlife/cadence/internal/logging"
	"github.com/quantumlife/cadence/internal/plan"
	"github.com/quantumlife/cadence/internal/provider"
	"github.com/quantumlife/cadence/internal/snapshot"
)

// backoffCap bounds the polling delay at this multiple of the base
// interval. The curve is monotonically non-decreasing: interval doubles
// per consecutive failure until the cap.
const backoffCap = 4

// Controller owns the connection state, the authoritative snapshot, and
// the drift score. All mutation goes through its mutex; at most one sync
// is in flight at a time, with concurrent requests coalesced into the
// in-flight result.
type Controller struct {
	provider provider.CalendarProvider
	store    snapshot.Store
	syncCfg  config.SyncConfig
	planCfg  config.PlannerConfig
	log      *logging.Logger

	mu      sync.Mutex
	state   core.ConnectionState
	lastErr string
	snap    *core.Snapshot
	changes core.ChangeSet
	// accum is the union of change sets since the last optimize; drift is
	// scored against it, so change accumulates across quiet polls instead
	// of resetting every sync.
	accum           core.ChangeSet
	drift           core.DriftScore
	recommended     bool
	lastSyncAt      *time.Time
	lastOptimizedAt time.Time
	failures        int

	// generation invalidates in-flight work across disconnects: a sync
	// started before Disconnect discards its result.
	generation int

	inflight *inflightSync

	// runMu serializes the sync and optimize bodies. Without it a sync
	// fetched before a plan was applied could land after it and hide the
	// freshly created events until the next poll.
	runMu sync.Mutex
	// storeMu makes the generation check and the store write one atomic
	// step against Disconnect's clear, so a stale in-flight result can
	// never be persisted after the store was forgotten.
	storeMu sync.Mutex

	onRecommend func()

	pollCancel context.CancelFunc
	wg         sync.WaitGroup

	now func() time.Time
}

type inflightSync struct {
	done    chan struct{}
	changes core.ChangeSet
	err     error
}

// OptimizeResult pairs the generated plan with its application summary.
type OptimizeResult struct {
	Plan      core.OptimizationPlan  `json:"plan"`
	Intensity core.ScheduleIntensity `json:"intensity"`
	Gaps      []core.Gap             `json:"gaps"`
	Applied   core.ApplyResult       `json:"applied"`
}

// New creates a controller. The store may already hold a baseline from a
// previous run; Connect picks it up.
func New(p provider.CalendarProvider, store snapshot.Store, syncCfg config.SyncConfig, planCfg config.PlannerConfig) *Controller {
	return &Controller{
		provider: p,
		store:    store,
		syncCfg:  syncCfg,
		planCfg:  planCfg,
		state:    core.StateDisconnected,
		log:      logging.WithField("component", "engine"),
		now:      time.Now,
	}
}

// OnReoptimizeRecommended registers the callback fired exactly once each
// time drift newly becomes significant. The flag stays set (and the
// callback silent) until a plan is applied or the flag is cleared.
func (c *Controller) OnReoptimizeRecommended(fn func()) {
	c.mu.Lock()
	c.onRecommend = fn
	c.mu.Unlock()
}

// Connect verifies the provider credential, performs the initial full
// sync, and starts automatic polling when configured. Auth failure leaves
// the controller Disconnected; the caller re-authenticates externally.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case core.StateConnected, core.StateSyncing:
		c.mu.Unlock()
		return nil
	case core.StateConnecting:
		c.mu.Unlock()
		return core.ErrAlreadyStarted
	}
	c.state = core.StateConnecting
	c.lastErr = ""
	c.mu.Unlock()

	verifyCtx, cancel := context.WithTimeout(ctx, c.syncCfg.RequestTimeout())
	err := c.provider.Verify(verifyCtx)
	cancel()
	if err != nil {
		c.mu.Lock()
		c.state = core.StateDisconnected
		c.lastErr = err.Error()
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.state = core.StateConnected
	c.mu.Unlock()

	if _, err := c.Sync(ctx); err != nil {
		// Sync already classified the failure and set the state.
		return err
	}

	c.mu.Lock()
	if c.syncCfg.AutoSync && c.state == core.StateConnected {
		c.startPollingLocked()
	}
	c.mu.Unlock()

	c.log.Info("connected")
	return nil
}

// Disconnect cancels polling and any in-flight sync, clears the stored
// snapshot, and returns to Disconnected. Idempotent; always succeeds.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.generation++
	c.stopPollingLocked()
	c.state = core.StateDisconnected
	c.snap = nil
	c.changes = core.ChangeSet{}
	c.accum = core.ChangeSet{}
	c.drift = core.DriftScore{}
	c.recommended = false
	c.lastSyncAt = nil
	c.lastErr = ""
	c.failures = 0
	c.mu.Unlock()

	c.wg.Wait()

	// storeMu: an in-flight sync that already passed its generation check
	// finishes its Replace first, and the Clear below erases it.
	c.storeMu.Lock()
	err := c.store.Clear(context.Background())
	c.storeMu.Unlock()
	if err != nil {
		c.log.Warn("clear snapshot store: %v", err)
	}
	c.log.Info("disconnected")
}

// Close stops polling and discards in-flight work without clearing the
// stored snapshot. Process shutdown path; Disconnect is the user-facing
// forget-everything path.
func (c *Controller) Close() {
	c.mu.Lock()
	c.generation++
	c.stopPollingLocked()
	c.state = core.StateDisconnected
	c.mu.Unlock()
	c.wg.Wait()
}

// Sync fetches the current timeline, diffs it against the baseline, and
// atomically replaces the snapshot. Valid from Connected or Error. A call
// arriving while another sync is in flight waits for and returns the
// in-flight result instead of issuing a second provider fetch.
func (c *Controller) Sync(ctx context.Context) (core.ChangeSet, error) {
	c.mu.Lock()

	switch c.state {
	case core.StateDisconnected, core.StateConnecting:
		c.mu.Unlock()
		return core.ChangeSet{}, core.ErrNotConnected
	}

	if c.inflight != nil {
		flight := c.inflight
		c.mu.Unlock()
		select {
		case <-flight.done:
			return flight.changes, flight.err
		case <-ctx.Done():
			return core.ChangeSet{}, ctx.Err()
		}
	}

	flight := &inflightSync{done: make(chan struct{})}
	c.inflight = flight
	c.state = core.StateSyncing
	gen := c.generation
	c.mu.Unlock()

	c.runMu.Lock()
	changes, err := c.doSync(ctx, gen)
	c.runMu.Unlock()
	flight.changes, flight.err = changes, err

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
	close(flight.done)

	return changes, err
}

// doSync performs the provider fetch and applies the result. The stored
// snapshot is left untouched on any failure (stale-but-valid).
func (c *Controller) doSync(ctx context.Context, gen int) (core.ChangeSet, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.syncCfg.RequestTimeout())
	defer cancel()

	timeMin := c.now().UTC()
	timeMax := timeMin.AddDate(0, 0, c.syncCfg.LookaheadDays)

	events, err := c.provider.ListEvents(fetchCtx, timeMin, timeMax)
	if err != nil {
		return core.ChangeSet{}, c.applyFailure(gen, err)
	}

	busy, err := c.provider.FetchBusyFree(fetchCtx, timeMin, timeMax)
	if err != nil {
		return core.ChangeSet{}, c.applyFailure(gen, err)
	}

	newSnap := core.NewSnapshot(events, busy, c.now().UTC())

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return core.ChangeSet{}, core.ErrNotConnected
	}
	prev := c.snap
	accum := c.accum
	c.mu.Unlock()

	if prev == nil {
		// No in-memory baseline yet; a previous run may have persisted one.
		if stored, loadErr := c.store.Load(ctx); loadErr == nil {
			prev = stored
		} else if !errors.Is(loadErr, core.ErrSnapshotNotFound) {
			c.log.Warn("load stored snapshot: %v", loadErr)
		}
	}

	var changes core.ChangeSet
	var score core.DriftScore
	if prev != nil {
		changes = diff.Diff(prev, newSnap)
		accum = accum.Merge(changes)
		score = drift.Score(drift.Input{
			Changes:   accum,
			Previous:  prev,
			Current:   newSnap,
			Threshold: c.syncCfg.SignificanceThreshold,
			Elapsed:   c.elapsedSinceOptimize(),
		})
	}

	// The generation re-check and the write form one step: a Disconnect
	// arriving before it finds a stale generation here, a Disconnect
	// arriving after it clears what was just written.
	c.storeMu.Lock()
	c.mu.Lock()
	stale := gen != c.generation
	c.mu.Unlock()
	if stale {
		c.storeMu.Unlock()
		return core.ChangeSet{}, core.ErrNotConnected
	}
	err = c.store.Replace(ctx, newSnap)
	c.storeMu.Unlock()
	if err != nil {
		return core.ChangeSet{}, c.applyFailure(gen, err)
	}

	return changes, c.applySuccess(gen, newSnap, changes, accum, score)
}

// applySuccess installs the sync result. Discards it if the controller
// was disconnected while the fetch was in flight.
func (c *Controller) applySuccess(gen int, snap *core.Snapshot, changes, accum core.ChangeSet, score core.DriftScore) error {
	var notify func()

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return core.ErrNotConnected
	}

	now := c.now()
	c.state = core.StateConnected
	c.snap = snap
	c.changes = changes
	c.accum = accum
	c.drift = score
	c.lastSyncAt = &now
	c.lastErr = ""
	c.failures = 0

	if score.SignificantChange && !c.recommended {
		c.recommended = true
		notify = c.onRecommend
	}

	// A manual sync success after suppression resumes polling.
	if c.syncCfg.AutoSync && c.pollCancel == nil {
		c.startPollingLocked()
	}
	c.mu.Unlock()

	c.log.Debug("sync complete: %d added, %d modified, %d deleted",
		len(changes.Added), len(changes.Modified), len(changes.Deleted))

	if notify != nil {
		notify()
	}
	return nil
}

// applyFailure classifies the error and transitions accordingly: auth or
// permanent provider failure forces Disconnected; transient failure moves
// to Error, eligible for retry on the next tick.
func (c *Controller) applyFailure(gen int, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return core.ErrNotConnected
	}

	c.lastErr = err.Error()

	if errors.Is(err, core.ErrAuth) || errors.Is(err, core.ErrProviderPermanent) {
		c.stopPollingLocked()
		c.state = core.StateDisconnected
		c.log.Error("sync failed permanently: %v", err)
		return err
	}

	c.failures++
	c.state = core.StateError
	if c.failures >= c.syncCfg.MaxConsecutiveFailures {
		// Suppress automatic polling until a manual sync succeeds.
		c.stopPollingLocked()
		c.log.Error("sync failed %d times, suspending automatic polling: %v", c.failures, err)
	} else {
		c.log.Warn("sync failed (attempt %d): %v", c.failures, err)
	}
	return err
}

// Optimize analyzes today's waking window on the current snapshot, builds
// a plan, applies it, and folds the created events back into the
// snapshot. Resets the drift score and the recommendation flag.
func (c *Controller) Optimize(ctx context.Context) (*OptimizeResult, error) {
	// Wait out any in-flight sync and hold the gate for the duration, so
	// the snapshot read below is current and no sync fetched before the
	// plan lands can commit after it.
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.Lock()
	if c.snap == nil {
		c.mu.Unlock()
		return nil, core.ErrNotConnected
	}
	snap := c.snap
	gen := c.generation
	c.mu.Unlock()

	day := c.now()
	window, err := c.planCfg.WakingHours.On(day)
	if err != nil {
		return nil, err
	}

	energy, err := materialize(c.planCfg.EnergyWindows, day)
	if err != nil {
		return nil, err
	}
	meals, err := materialize(c.planCfg.MealWindows, day)
	if err != nil {
		return nil, err
	}

	// Engine-generated events do not count as busy for planning: they are
	// re-derived every run and suppressed by the tolerance match, which is
	// what keeps repeated optimization a no-op on an unchanged schedule.
	existing := snap.EngineEvents()
	holes := make([]core.Interval, 0, len(existing))
	for _, e := range existing {
		holes = append(holes, core.Interval{Start: e.Start, End: e.End})
	}
	busy := analyze.Subtract(snap.Busy, holes)

	intensity, gaps := analyze.Analyze(window, busy, energy,
		time.Duration(c.planCfg.MinGapMinutes)*time.Minute)

	opts := plan.Options{
		MealWindows:  meals,
		BufferBefore: time.Duration(c.planCfg.Buffer.BeforeMinutes) * time.Minute,
		BufferAfter:  time.Duration(c.planCfg.Buffer.AfterMinutes) * time.Minute,
		Tolerance:    time.Duration(c.planCfg.ToleranceMinutes) * time.Minute,
	}
	optPlan := plan.Build(gaps, intensity, opts, existing)

	applyCtx, cancel := context.WithTimeout(ctx, c.syncCfg.RequestTimeout())
	applied, err := plan.Apply(applyCtx, c.provider, optPlan)
	cancel()
	if err != nil {
		return nil, err
	}

	// Fold created events into a fresh snapshot so the next planning pass
	// sees them without waiting for a sync.
	merged := snap.Clone()
	for _, e := range applied.Created {
		merged.Events[e.ID] = e
		merged.Busy = append(merged.Busy, core.Interval{Start: e.Start, End: e.End})
	}

	c.storeMu.Lock()
	c.mu.Lock()
	stale := gen != c.generation
	c.mu.Unlock()
	if !stale {
		if err := c.store.Replace(ctx, merged); err != nil {
			c.log.Warn("persist optimized snapshot: %v", err)
		}
	}
	c.storeMu.Unlock()

	c.mu.Lock()
	if gen == c.generation {
		c.snap = merged
		c.lastOptimizedAt = c.now()
		c.recommended = false
		c.drift = core.DriftScore{}
		c.changes = core.ChangeSet{}
		c.accum = core.ChangeSet{}
	}
	c.mu.Unlock()

	return &OptimizeResult{
		Plan:      optPlan,
		Intensity: intensity,
		Gaps:      gaps,
		Applied:   applied,
	}, nil
}

// ClearRecommendation resets the sticky recommendation flag without
// applying a plan. The accumulated change set resets with it; otherwise
// the very next poll would re-raise the flag the user just dismissed.
func (c *Controller) ClearRecommendation() {
	c.mu.Lock()
	c.recommended = false
	c.accum = core.ChangeSet{}
	c.drift = core.DriftScore{}
	c.mu.Unlock()
}

// Status returns the read-only display snapshot.
func (c *Controller) Status() core.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := core.Status{
		State:            c.state,
		Changes:          c.changes,
		ShouldReoptimize: c.recommended,
		Error:            c.lastErr,
	}
	if c.lastSyncAt != nil {
		t := *c.lastSyncAt
		status.LastSyncAt = &t
	}
	return status
}

// Snapshot returns a copy of the current snapshot, or nil before the
// first sync.
func (c *Controller) Snapshot() *core.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// Drift returns the current drift score.
func (c *Controller) Drift() core.DriftScore {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drift
}

// startPollingLocked launches the polling loop. Caller holds the mutex.
func (c *Controller) startPollingLocked() {
	if c.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pollCancel = cancel
	c.wg.Add(1)
	go c.pollLoop(ctx)
}

// stopPollingLocked cancels the polling loop. Caller holds the mutex.
func (c *Controller) stopPollingLocked() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

// pollLoop drives periodic syncs. The delay doubles per consecutive
// failure up to backoffCap times the base interval, so a flapping
// provider is not hammered on every tick.
func (c *Controller) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.nextDelay()):
		}

		if ctx.Err() != nil {
			return
		}

		if _, err := c.Sync(ctx); err != nil {
			if errors.Is(err, core.ErrNotConnected) {
				return
			}
			// Retried on the next tick; no immediate retry storm.
		}
	}
}

// nextDelay returns the current polling delay with backoff applied.
func (c *Controller) nextDelay() time.Duration {
	c.mu.Lock()
	failures := c.failures
	c.mu.Unlock()

	delay := c.syncCfg.Interval()
	for i := 0; i < failures && delay < time.Duration(backoffCap)*c.syncCfg.Interval(); i++ {
		delay *= 2
	}
	if max := time.Duration(backoffCap) * c.syncCfg.Interval(); delay > max {
		delay = max
	}
	return delay
}

func (c *Controller) elapsedSinceOptimize() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastOptimizedAt.IsZero() {
		return 0
	}
	return c.now().Sub(c.lastOptimizedAt)
}

// materialize projects clock ranges onto a concrete day.
func materialize(ranges []core.ClockRange, day time.Time) ([]core.Interval, error) {
	var out []core.Interval
	for _, r := range ranges {
		iv, err := r.On(day)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}
