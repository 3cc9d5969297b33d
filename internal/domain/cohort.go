package domain

import (
	"fmt"
	"sort"
	"time"
)

// CohortVariables is the fully-resolved variable bundle (session variables
// merged with query variables) that a subscription was registered with.
// Kept as a map for interop with the transport layer; CohortKey below
// derives a comparable, order-independent representation from it for use
// as a map key.
type CohortVariables map[string]any

// CohortKey is the structural-equality key that defines cohort membership:
// two subscribers with the same resolved variables land in the same
// cohort. Derived once from CohortVariables via NewCohortKey so it can be
// used directly as a Go map key.
type CohortKey string

// NewCohortKey canonicalises variables into a stable, sorted-key string so
// that structurally-equal variable bundles always produce the same
// CohortKey regardless of map iteration order.
func NewCohortKey(vars CohortVariables) CohortKey {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)

	key := make([]byte, 0, 64)
	for _, name := range names {
		key = append(key, []byte(fmt.Sprintf("%s=%v;", name, vars[name]))...)
	}
	return CohortKey(key)
}

// SourceConfig is an opaque handle to the database connection/pool a
// poller executes its multiplexed query against. The core never
// interprets it; it is passed straight through to run_multiplexed_query.
type SourceConfig any

// LiveQueryOptions configures a single Poller's tick behaviour.
type LiveQueryOptions struct {
	// BatchSize bounds how many cohorts are sent to the database in one
	// multiplexed query. Must be positive; defaults to 100.
	BatchSize int
	// RefetchInterval is the sleep between the end of one tick and the
	// start of the next. Defaults to 1s.
	RefetchInterval time.Duration
}

// DefaultLiveQueryOptions returns the spec-mandated defaults.
func DefaultLiveQueryOptions() LiveQueryOptions {
	return LiveQueryOptions{BatchSize: 100, RefetchInterval: time.Second}
}
