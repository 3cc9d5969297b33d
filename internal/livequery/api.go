// Package livequery implements the multiplexed live-query poller core: it
// owns the Poller/Cohort/Subscriber data structures, the change-suppressing
// poll tick, and the add_subscription/remove_subscription entry points the
// transport layer calls to register and unregister client subscriptions.
package livequery

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/livequeryd/internal/domain"
	"github.com/pscheid92/livequeryd/internal/metrics"
	"github.com/pscheid92/livequeryd/internal/platform/retry"
)

// sourceSetupPolicy governs retries of a Poller's one-time source
// resolution (e.g. borrowing a connection pool). Transient failures are
// far more likely here than programmer errors, so a few attempts with
// short backoff is worth it before giving up and failing add_subscription.
var sourceSetupPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: 50 * time.Millisecond,
}

// SourceResolver resolves a SourceName to the concrete Source and
// SourceConfig a new Poller should execute its multiplexed query against.
// Expensive to call (typically opens or borrows a connection pool), so the
// Registry collapses concurrent resolutions of the same SourceName via
// singleflight.
type SourceResolver func(ctx context.Context, name domain.SourceName) (domain.Source, domain.SourceConfig, error)

// Registry is the process-wide entry point: one Registry owns the
// PollerMap and every collaborator a Poller needs at spawn time (spec.md
// §6 inbound interface).
type Registry struct {
	pollers              *PollerMap
	clock                clockwork.Clock
	resolveSource        SourceResolver
	hook                 domain.PostPollHook
	maxConcurrentBatches int
	sourceSetup          singleflight.Group
}

// NewRegistry constructs a Registry. clock defaults to the real wall clock
// when nil (tests inject a clockwork.FakeClock instead).
func NewRegistry(resolveSource SourceResolver, hook domain.PostPollHook, maxConcurrentBatches int, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxConcurrentBatches <= 0 {
		maxConcurrentBatches = 10
	}
	return &Registry{
		pollers:              NewPollerMap(),
		clock:                clock,
		resolveSource:        resolveSource,
		hook:                 hook,
		maxConcurrentBatches: maxConcurrentBatches,
	}
}

// AddSubscription implements spec.md §6's add_subscription: idempotently
// constructs the Poller and Cohort as needed and inserts subscriber into
// the cohort's new_subscribers. Concurrent calls sharing key race on
// exactly one PollerMap.AddSubscriber call (itself one xsync.Map.Compute);
// the caller that creates the poller is the only one to resolve the source
// and start the worker.
func (r *Registry) AddSubscription(
	ctx context.Context,
	key domain.PollerKey,
	cohortKey domain.CohortKey,
	variables domain.CohortVariables,
	sub domain.Subscriber,
	opts domain.LiveQueryOptions,
	queryHash domain.ParameterizedQueryHash,
) (domain.PollerId, domain.CohortId, domain.SubscriberId, error) {
	// Poller creation, cohort creation and the subscriber insertion are all
	// fused into one PollerMap-level atomic step (PollerMap.AddSubscriber),
	// so a concurrent RemoveSubscription can never observe this poller or
	// cohort empty and prune it before sub is actually attached. The
	// CohortMap lives on the Poller from construction, independent of
	// io_state, so the subscriber can be registered before the worker
	// exists at all — a brand new poller's very first tick is guaranteed to
	// observe this cohort.
	poller, created, cohort, cohortCreated := r.pollers.AddSubscriber(
		key,
		func() *Poller { return NewPoller(key, opts, queryHash) },
		cohortKey,
		func() *Cohort { return NewCohort(domain.NewCohortId(), cohortKey, variables) },
		sub,
	)

	if created {
		source, cfg, err := r.resolveOnce(ctx, key.SourceName)
		if err != nil {
			// Undo the cohort/subscriber insertion above so this brand
			// new, never-published poller doesn't linger in the map
			// forever with no worker to ever wait for.
			poller.Cohorts.RemoveSubscriber(cohortKey, sub.ID)
			r.pollers.StopIfEmpty(key)
			return domain.PollerId{}, domain.CohortId{}, sub.ID, err
		}
		poller.Publish(source, cfg, func(workerCtx context.Context) {
			runWorker(workerCtx, r.clock, poller, r.hook, r.maxConcurrentBatches)
		})
	} else if err := poller.WaitReady(ctx); err != nil {
		return domain.PollerId{}, domain.CohortId{}, sub.ID, err
	}

	if cohortCreated {
		metrics.CohortActive.Inc()
	}
	metrics.SubscriberActive.Inc()
	if created {
		metrics.PollerActive.Inc()
	}

	return poller.pollerID(), cohort.ID(), sub.ID, nil
}

// resolveOnce collapses concurrent SourceResolver calls for the same
// SourceName into one, mirroring the singleflight pattern used elsewhere
// in this codebase to dedupe expensive concurrent setup work.
func (r *Registry) resolveOnce(ctx context.Context, name domain.SourceName) (domain.Source, domain.SourceConfig, error) {
	type result struct {
		source domain.Source
		config domain.SourceConfig
	}
	v, err, _ := r.sourceSetup.Do(string(name), func() (any, error) {
		return retry.Do(ctx, sourceSetupPolicy, func(error) retry.Action { return retry.Retry }, func() (any, error) {
			source, cfg, err := r.resolveSource(ctx, name)
			if err != nil {
				return nil, err
			}
			return result{source: source, config: cfg}, nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	res := v.(result)
	return res.source, res.config, nil
}

// RemoveSubscription implements spec.md §6's remove_subscription: removes
// the subscriber, removes the cohort if it is now empty, and stops the
// poller if its CohortMap is now empty. Each of those two emptiness checks
// is fused with its corresponding removal into a single atomic map
// operation so no concurrent add_subscription can observe a torn state
// (spec.md §4.2, §4.3, §9).
func (r *Registry) RemoveSubscription(key domain.PollerKey, cohortKey domain.CohortKey, subscriberID domain.SubscriberId) {
	poller, ok := r.pollers.Get(key)
	if !ok {
		return
	}

	found, cohortPruned := poller.Cohorts.RemoveSubscriber(cohortKey, subscriberID)
	if found {
		metrics.SubscriberActive.Dec()
	}
	if cohortPruned {
		metrics.CohortActive.Dec()
	}
	if r.pollers.StopIfEmpty(key) {
		metrics.PollerActive.Dec()
	}
}

// DumpPollerMap implements spec.md §6's dump_poller_map: read-only
// introspection of every registered poller. When extended is false, per-
// cohort details (variables, subscriber counts) are omitted to keep the
// dump cheap and free of potentially sensitive data. Subscriber metadata
// is never included.
func (r *Registry) DumpPollerMap(extended bool) []PollerDump {
	return dumpPollerMap(r.pollers, extended)
}

// Shutdown stops every registered poller's worker. Intended for graceful
// process shutdown; does not wait for in-flight ticks to finish beyond
// their own context-cancellation checks.
func (r *Registry) Shutdown() {
	r.pollers.Range(func(_ domain.PollerKey, p *Poller) bool {
		p.Stop()
		return true
	})
	slog.Info("livequery registry stopped", "pollers", r.pollers.Len())
}
