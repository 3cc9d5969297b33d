package livequery

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/pscheid92/livequeryd/internal/domain"
)

// CohortMap is the atomic, iterable CohortKey -> Cohort mapping owned by one
// Poller. Backed by xsync.Map, a sharded concurrent hash map: reads,
// inserts and deletes on distinct keys never block each other, and
// mutations on the same key are serialised so insert-if-absent and
// delete-if-empty can be expressed without a separate map-wide lock.
type CohortMap struct {
	m *xsync.Map[domain.CohortKey, *Cohort]
}

// NewCohortMap returns an empty CohortMap.
func NewCohortMap() *CohortMap {
	return &CohortMap{m: xsync.NewMap[domain.CohortKey, *Cohort]()}
}

// GetOrCreate atomically looks up key; if absent, creates a new Cohort via
// newCohort and inserts it. Returns the cohort and whether it was newly
// created.
func (cm *CohortMap) GetOrCreate(key domain.CohortKey, newCohort func() *Cohort) (*Cohort, bool) {
	actual, loaded := cm.m.LoadOrCompute(key, func() (*Cohort, bool) {
		return newCohort(), false
	})
	return actual, !loaded
}

// GetOrCreateAndAddSubscriber atomically resolves the cohort at key —
// creating it via newCohort if absent — and adds sub to it, all within one
// xsync.Map.Compute call. Fusing creation and the first AddSubscriber into
// one step closes the window a separate GetOrCreate-then-AddSubscriber pair
// would otherwise leave open: a concurrent RemoveSubscriber observing the
// freshly inserted, still-empty cohort and pruning it before sub ever lands
// (spec.md §4.2, §9). Returns the cohort and whether it was newly created.
func (cm *CohortMap) GetOrCreateAndAddSubscriber(key domain.CohortKey, newCohort func() *Cohort, sub domain.Subscriber) (cohort *Cohort, created bool) {
	cm.m.Compute(key, func(c *Cohort, loaded bool) (*Cohort, xsync.ComputeOp) {
		if !loaded {
			created = true
			c = newCohort()
		}
		c.AddSubscriber(sub)
		cohort = c
		return c, xsync.UpdateOp
	})
	return cohort, created
}

// RemoveSubscriber removes subscriberID from the cohort at key and, if that
// leaves the cohort empty, atomically deletes the cohort from the map in
// the same step — fusing the two actions so no reader ever observes an
// empty cohort still present in the map (spec.md §4.2, §9). found reports
// whether the cohort was present at all; pruned reports whether this call
// was the one that deleted it.
func (cm *CohortMap) RemoveSubscriber(key domain.CohortKey, subscriberID domain.SubscriberId) (found, pruned bool) {
	// Compute's own "ok" return reflects whether the entry is present
	// *after* the op, which is false on DeleteOp even though the cohort
	// plainly existed beforehand — so both outcomes are tracked separately
	// here rather than trusted to that return value.
	cm.m.Compute(key, func(c *Cohort, loaded bool) (*Cohort, xsync.ComputeOp) {
		if !loaded {
			return nil, xsync.CancelOp
		}
		found = true
		if c.RemoveSubscriber(subscriberID); c.Count() == 0 {
			pruned = true
			return nil, xsync.DeleteOp
		}
		return c, xsync.UpdateOp
	})
	return found, pruned
}

// Snapshot returns a consistent list of (CohortKey, *Cohort) pairs live in
// the map at some logical instant. Entries concurrently inserted or
// removed during the call may or may not appear, but no partially-mutated
// cohort is ever observed — Cohort's own locking guarantees that.
func (cm *CohortMap) Snapshot() []cohortEntry {
	entries := make([]cohortEntry, 0)
	cm.m.Range(func(key domain.CohortKey, c *Cohort) bool {
		entries = append(entries, cohortEntry{Key: key, Cohort: c})
		return true
	})
	return entries
}

type cohortEntry struct {
	Key    domain.CohortKey
	Cohort *Cohort
}

// Empty reports whether the map currently holds zero cohorts.
func (cm *CohortMap) Empty() bool {
	empty := true
	cm.m.Range(func(domain.CohortKey, *Cohort) bool {
		empty = false
		return false
	})
	return empty
}

// Len returns the number of cohorts currently in the map. For
// introspection only; not used on any hot path.
func (cm *CohortMap) Len() int {
	n := 0
	cm.m.Range(func(domain.CohortKey, *Cohort) bool {
		n++
		return true
	})
	return n
}
