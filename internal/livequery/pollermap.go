package livequery

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/pscheid92/livequeryd/internal/domain"
)

// PollerMap is the process-wide PollerKey -> Poller registry. Exactly one
// Poller instance ever exists per key: concurrent GetOrCreate calls racing
// on the same key all observe the same *Poller, and only the winner
// publishes its I/O state (spec.md §4.1).
type PollerMap struct {
	m *xsync.Map[domain.PollerKey, *Poller]
}

// NewPollerMap returns an empty PollerMap.
func NewPollerMap() *PollerMap {
	return &PollerMap{m: xsync.NewMap[domain.PollerKey, *Poller]()}
}

// GetOrCreate atomically looks up key; if absent, calls newPoller and
// inserts its result. Returns the poller and whether it was newly created
// by this call (the caller that gets created=true is responsible for
// calling Poller.Publish).
func (pm *PollerMap) GetOrCreate(key domain.PollerKey, newPoller func() *Poller) (poller *Poller, created bool) {
	actual, loaded := pm.m.LoadOrCompute(key, func() (*Poller, bool) {
		return newPoller(), false
	})
	return actual, !loaded
}

// AddSubscriber atomically resolves the poller at key — creating it via
// newPoller if absent — and adds sub to the cohort at cohortKey within it,
// all within one xsync.Map.Compute call on this PollerMap. xsync.Map
// serialises Compute calls on the same key, so this runs exclusive of any
// concurrent StopIfEmpty(key): a poller a caller is actively populating can
// never be observed as empty and pruned out from under it, the same class
// of race CohortMap.GetOrCreateAndAddSubscriber closes one level down.
// pollerCreated reports whether this call created the poller; cohortCreated
// reports whether it created the cohort within it.
func (pm *PollerMap) AddSubscriber(
	key domain.PollerKey,
	newPoller func() *Poller,
	cohortKey domain.CohortKey,
	newCohort func() *Cohort,
	sub domain.Subscriber,
) (poller *Poller, pollerCreated bool, cohort *Cohort, cohortCreated bool) {
	pm.m.Compute(key, func(p *Poller, loaded bool) (*Poller, xsync.ComputeOp) {
		if !loaded {
			pollerCreated = true
			p = newPoller()
		}
		cohort, cohortCreated = p.Cohorts.GetOrCreateAndAddSubscriber(cohortKey, newCohort, sub)
		poller = p
		return p, xsync.UpdateOp
	})
	return poller, pollerCreated, cohort, cohortCreated
}

// StopIfEmpty atomically checks whether the poller at key has zero
// cohorts and, if so, removes it from the map and stops its worker. This
// fuses the emptiness check and the removal into one step so a concurrent
// add_subscription can never race a stop-and-remove into re-adding to a
// poller instance that is already gone from the map (spec.md §4.6, §9).
// Reports whether this call was the one that removed the poller.
func (pm *PollerMap) StopIfEmpty(key domain.PollerKey) (stopped bool) {
	var toStop *Poller
	pm.m.Compute(key, func(p *Poller, loaded bool) (*Poller, xsync.ComputeOp) {
		if !loaded {
			return nil, xsync.CancelOp
		}
		if !p.Cohorts.Empty() {
			return p, xsync.CancelOp
		}
		toStop = p
		return nil, xsync.DeleteOp
	})
	if toStop != nil {
		toStop.Stop()
		return true
	}
	return false
}

// Get looks up the poller registered for key, if any.
func (pm *PollerMap) Get(key domain.PollerKey) (*Poller, bool) {
	return pm.m.Load(key)
}

// Range visits every (key, poller) pair currently registered. Used by
// dump_poller_map for read-only introspection.
func (pm *PollerMap) Range(f func(key domain.PollerKey, p *Poller) bool) {
	pm.m.Range(f)
}

// Len returns the number of pollers currently registered.
func (pm *PollerMap) Len() int {
	n := 0
	pm.m.Range(func(domain.PollerKey, *Poller) bool {
		n++
		return true
	})
	return n
}
