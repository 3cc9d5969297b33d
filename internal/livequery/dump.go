package livequery

import "github.com/pscheid92/livequeryd/internal/domain"

// PollerDump is one entry of dump_poller_map's read-only report (spec.md
// §6). The basic dump carries only poller_key (source, role, query_text)
// plus cohort_count and subscriber_count. Extended dumps additionally
// carry the live-query options, the parameterized query hash, the
// assigned poller id, and per-cohort variables, existing/new subscriber
// counts and hash presence. Subscriber ids and metadata are not included
// in either mode.
type PollerDump struct {
	Source          domain.SourceName `json:"source"`
	Role            domain.RoleName   `json:"role"`
	QueryText       string            `json:"query_text"`
	CohortCount     int               `json:"cohort_count"`
	SubscriberCount int               `json:"subscriber_count"`

	PollerID               *domain.PollerId              `json:"poller_id,omitempty"`
	ParameterizedQueryHash domain.ParameterizedQueryHash `json:"parameterized_query_hash,omitempty"`
	LiveQueryOptions       *domain.LiveQueryOptions      `json:"live_query_options,omitempty"`
	Cohorts                []CohortDump                  `json:"cohorts,omitempty"`
}

// CohortDump is one cohort's entry in an extended dump.
type CohortDump struct {
	CohortID        domain.CohortId        `json:"cohort_id"`
	Variables       domain.CohortVariables `json:"variables,omitempty"`
	ExistingCount   int                    `json:"existing_count"`
	NewCount        int                    `json:"new_count"`
	HasPreviousHash bool                   `json:"has_previous_hash"`
}

// dumpPollerMap walks the PollerMap and every Poller's CohortMap. It never
// mutates anything: reads are all made through the same atomic snapshot
// paths the poll tick uses, so this is safe to call concurrently with
// live ticks and subscription changes.
func dumpPollerMap(pollers *PollerMap, extended bool) []PollerDump {
	dumps := make([]PollerDump, 0, pollers.Len())

	pollers.Range(func(key domain.PollerKey, p *Poller) bool {
		entries := p.Cohorts.Snapshot()

		dump := PollerDump{
			Source:      key.SourceName,
			Role:        key.RoleName,
			QueryText:   key.QueryText,
			CohortCount: len(entries),
		}
		if extended {
			opts := p.Options
			dump.ParameterizedQueryHash = p.ParameterizedQueryHash
			dump.LiveQueryOptions = &opts
			pollerID := p.pollerIDOrZero()
			dump.PollerID = &pollerID
			dump.Cohorts = make([]CohortDump, 0, len(entries))
		}
		for _, e := range entries {
			existing, new_, hasHash := e.Cohort.counts()
			dump.SubscriberCount += existing + new_
			if extended {
				dump.Cohorts = append(dump.Cohorts, CohortDump{
					CohortID:        e.Cohort.ID(),
					Variables:       e.Cohort.variables,
					ExistingCount:   existing,
					NewCount:        new_,
					HasPreviousHash: hasHash,
				})
			}
		}

		dumps = append(dumps, dump)
		return true
	})

	return dumps
}

// counts returns the current existing/new subscriber counts and whether a
// previous hash has been recorded, for introspection.
func (c *Cohort) counts() (existing, new_ int, hasHash bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.existing), len(c.new), c.previousHash != nil
}
