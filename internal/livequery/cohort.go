package livequery

import (
	"sync"

	"github.com/pscheid92/livequeryd/internal/domain"
	"github.com/pscheid92/livequeryd/internal/hash"
)

// Cohort groups subscribers that share identical resolved variables within
// one Poller. Its existing/new subscriber sets and previous-response hash
// are all guarded by a single mutex so that the invariants in spec.md §3
// (I1: never zero-and-present, I2: existing/new disjoint) hold across any
// sequence of AddSubscriber/RemoveSubscriber/SnapshotAndPromote calls,
// regardless of which goroutine issues them.
type Cohort struct {
	id        CohortID
	key       domain.CohortKey
	variables domain.CohortVariables // immutable after creation

	mu           sync.Mutex
	previousHash *hash.ResponseHash // nil before the first successful non-error push
	existing     map[domain.SubscriberId]domain.Subscriber
	new          map[domain.SubscriberId]domain.Subscriber
}

// CohortID is re-exported for readability at call sites; identical to
// domain.CohortId.
type CohortID = domain.CohortId

// NewCohort creates an empty cohort with the given id, key and resolved
// variables. The caller is responsible for immediately adding at least one
// subscriber (spec.md I1: a cohort with zero subscribers must never be
// observable in its CohortMap).
func NewCohort(id CohortID, key domain.CohortKey, variables domain.CohortVariables) *Cohort {
	return &Cohort{
		id:        id,
		key:       key,
		variables: variables,
		existing:  make(map[domain.SubscriberId]domain.Subscriber),
		new:       make(map[domain.SubscriberId]domain.Subscriber),
	}
}

// ID returns the cohort's stable identifier.
func (c *Cohort) ID() CohortID { return c.id }

// Key returns the cohort's structural-equality key.
func (c *Cohort) Key() domain.CohortKey { return c.key }

// AddSubscriber inserts sub into the new-subscriber set. Atomic with
// respect to concurrent snapshotting: a caller either lands entirely
// before or entirely after any given SnapshotAndPromote call.
func (c *Cohort) AddSubscriber(sub domain.Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.existing, sub.ID) // re-subscribing moves a subscriber back to "new"
	c.new[sub.ID] = sub
}

// RemoveSubscriber deletes id from whichever set contains it and reports
// whether the cohort is now empty (existing_count + new_count == 0). The
// caller is responsible for removing an empty cohort from its CohortMap in
// the same atomic action as this call (spec.md §4.2, §9 open question).
func (c *Cohort) RemoveSubscriber(id domain.SubscriberId) (empty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.existing, id)
	delete(c.new, id)
	return len(c.existing) == 0 && len(c.new) == 0
}

// Count returns existing_count + new_count.
func (c *Cohort) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.existing) + len(c.new)
}

// Snapshot is the result of SnapshotAndPromote: a consistent, independent
// view of one cohort used for exactly one poll tick.
type Snapshot struct {
	CohortID     CohortID
	CohortKey    domain.CohortKey
	Variables    domain.CohortVariables
	PreviousHash *hash.ResponseHash

	Existing []domain.Subscriber
	New      []domain.Subscriber

	cohort *Cohort // the write-back handle for the tick's push phase
}

// SnapshotAndPromote atomically (a) reads previous_response_hash, (b)
// copies existing_subscribers, (c) copies new_subscribers, (d) moves each
// new subscriber into existing_subscribers, and (e) clears new_subscribers.
// The returned Snapshot's subscriber lists are independent copies: later
// AddSubscriber/RemoveSubscriber calls on this cohort do not mutate them.
func (c *Cohort) SnapshotAndPromote() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := make([]domain.Subscriber, 0, len(c.existing)+len(c.new))
	for _, s := range c.existing {
		existing = append(existing, s)
	}
	newList := make([]domain.Subscriber, 0, len(c.new))
	for id, s := range c.new {
		newList = append(newList, s)
		c.existing[id] = s
	}
	clear(c.new)

	var prev *hash.ResponseHash
	if c.previousHash != nil {
		h := *c.previousHash
		prev = &h
	}

	return Snapshot{
		CohortID:     c.id,
		CohortKey:    c.key,
		Variables:    c.variables,
		PreviousHash: prev,
		Existing:     existing,
		New:          newList,
		cohort:       c,
	}
}

// WriteHash publishes the tick's resulting hash back to the cohort. A nil
// newHash resets the cell to None, matching the error-forwarding rule of
// spec.md §4.4 step 3 (an error result always resets the hash).
func (s Snapshot) WriteHash(newHash *hash.ResponseHash) {
	s.cohort.mu.Lock()
	defer s.cohort.mu.Unlock()
	s.cohort.previousHash = newHash
}
