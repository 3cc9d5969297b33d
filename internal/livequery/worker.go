package livequery

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/livequeryd/internal/domain"
	"github.com/pscheid92/livequeryd/internal/metrics"
	"github.com/pscheid92/livequeryd/internal/platform/logging"
)

// runWorker is the immortal tick loop for one Poller (spec.md §4.6): run a
// tick, sleep for RefetchInterval, repeat, until ctx is cancelled. Any
// panic or error escaping a tick is recovered, logged, and followed by the
// usual sleep before the next attempt — the worker never exits except on
// explicit stop.
func runWorker(ctx context.Context, clock clockwork.Clock, p *Poller, hook domain.PostPollHook, maxConcurrentBatches int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		runTickSafely(ctx, p, hook, maxConcurrentBatches)

		select {
		case <-ctx.Done():
			return
		case <-clock.After(p.Options.RefetchInterval):
		}
	}
}

// runTickSafely recovers panics from pollQuery so a single bad tick can
// never take down the worker goroutine.
func runTickSafely(ctx context.Context, p *Poller, hook domain.PostPollHook, maxConcurrentBatches int) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WorkerPanicsTotal.Inc()
			logging.WithPoller(string(p.Key.SourceName), string(p.Key.RoleName), p.Key.QueryText).
				ErrorContext(ctx, "poller tick panicked, resuming on next tick", "panic", r)
		}
	}()

	st := p.io()
	if st == nil {
		return
	}
	pollQuery(ctx, p, st.source, st.sourceConfig, hook, maxConcurrentBatches)
}
