package livequery

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pscheid92/livequeryd/internal/domain"
)

// Poller multiplexes every cohort sharing one (source, role, query) triple
// onto a single tick loop. It is created synchronously (so concurrent
// first-subscribers all observe the same instance) but its I/O-bearing
// state — the concrete Source, its config, and the goroutine actually
// running the tick loop — is published exactly once, asynchronously, by
// whichever goroutine wins the creation race. Every other caller blocks on
// WaitReady instead of touching a half-built Source (spec.md §4.1, §9).
type Poller struct {
	Key                    domain.PollerKey
	Options                domain.LiveQueryOptions
	ParameterizedQueryHash domain.ParameterizedQueryHash

	Cohorts *CohortMap

	ioOnce  sync.Once
	ioState atomic.Pointer[pollerIOState]
	ioReady chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

// pollerIOState holds the collaborators a poller needs to actually run a
// tick: the resolved Source and its config, plus the running loop's
// cancellation function. Never touched before ioReady is closed.
type pollerIOState struct {
	pollerID     domain.PollerId
	source       domain.Source
	sourceConfig domain.SourceConfig
	cancel       context.CancelFunc
}

// NewPoller allocates a Poller in the "not yet ready" state. Callers must
// call Publish exactly once (the winner of the creation race) or
// WaitReady (everyone else) before using Cohorts in a tick.
func NewPoller(key domain.PollerKey, opts domain.LiveQueryOptions, queryHash domain.ParameterizedQueryHash) *Poller {
	return &Poller{
		Key:                    key,
		Options:                opts,
		ParameterizedQueryHash: queryHash,
		Cohorts:                NewCohortMap(),
		ioReady:                make(chan struct{}),
		stopCh:                 make(chan struct{}),
	}
}

// Publish installs the poller's I/O state and starts its worker loop by
// calling spawn with a context that is cancelled when Stop is called. Only
// the first call has any effect; later calls are no-ops so that a losing
// goroutine in a creation race can call Publish unconditionally without
// double-starting the worker.
func (p *Poller) Publish(source domain.Source, sourceConfig domain.SourceConfig, spawn func(ctx context.Context)) domain.PollerId {
	var id domain.PollerId
	p.ioOnce.Do(func() {
		id = domain.NewPollerId()
		ctx, cancel := context.WithCancel(context.Background())
		p.ioState.Store(&pollerIOState{pollerID: id, source: source, sourceConfig: sourceConfig, cancel: cancel})
		close(p.ioReady)
		// Stop may have already run and found no io() to cancel (it raced
		// ahead of this Do call); catch that here so the worker we're about
		// to spawn doesn't outlive a poller already marked stopped.
		if p.Stopped() {
			cancel()
		}
		go spawn(ctx)
	})
	if st := p.io(); st != nil {
		return st.pollerID
	}
	return id
}

// WaitReady blocks until Publish has installed the poller's I/O state, or
// ctx is cancelled first.
func (p *Poller) WaitReady(ctx context.Context) error {
	select {
	case <-p.ioReady:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// io returns the published I/O state. Must only be called after WaitReady
// has returned nil.
func (p *Poller) io() *pollerIOState {
	return p.ioState.Load()
}

// pollerID returns the assigned PollerId. Must only be called after
// WaitReady has returned nil.
func (p *Poller) pollerID() domain.PollerId {
	return p.io().pollerID
}

// pollerIDOrZero returns the assigned PollerId, or the zero value if the
// poller's I/O state has not been published yet. Used by introspection
// paths that must never block on WaitReady.
func (p *Poller) pollerIDOrZero() domain.PollerId {
	if st := p.io(); st != nil {
		return st.pollerID
	}
	return domain.PollerId{}
}

// Stop signals the poller's worker loop to exit and cancels its context.
// Idempotent.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if st := p.io(); st != nil {
			st.cancel()
		}
	})
}

// Stopped reports whether Stop has been called.
func (p *Poller) Stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}
