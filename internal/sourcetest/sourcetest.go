// Package sourcetest provides fixtures for exercising the livequery poll
// tick without a real database: a scriptable domain.Source and a recording
// subscriber, used by internal/livequery's own tests and available to any
// future integration test needing the same collaborators.
package sourcetest

import (
	"context"
	"sync"
	"time"

	"github.com/pscheid92/livequeryd/internal/domain"
)

// TickResponse is one canned answer for one call to RunMultiplexedQuery.
type TickResponse struct {
	// Payloads maps cohort id to the raw bytes the database would return
	// for that cohort on this tick. A cohort id present in the batch but
	// absent from Payloads gets no update this tick.
	Payloads map[domain.CohortId][]byte
	// Err, if set, makes the whole batch fail.
	Err error
}

// ScriptedSource replays a fixed sequence of TickResponse values, one per
// simulated tick (the cursor moves only on AdvanceTick), then repeats the
// last entry indefinitely.
// Safe for concurrent batches within a single tick to call, since each
// batch within a tick shares the same script entry.
type ScriptedSource struct {
	mu       sync.Mutex
	script   []TickResponse
	tickNum  int
	callLog  []CallRecord
	tickSeen map[int]bool
}

// CallRecord captures one RunMultiplexedQuery invocation for assertions.
type CallRecord struct {
	Query  string
	Inputs []domain.CohortInput
}

// NewScriptedSource builds a source that returns script[0] to every batch
// of the first tick, script[1] to every batch of the second tick, and so
// on, holding on the last entry once the script is exhausted.
func NewScriptedSource(script ...TickResponse) *ScriptedSource {
	return &ScriptedSource{script: script, tickSeen: make(map[int]bool)}
}

// RunMultiplexedQuery implements domain.Source. Every call answers from the
// current script entry; the caller marks tick boundaries with AdvanceTick,
// and ScriptedSource itself has no notion of tick boundaries beyond that.
func (s *ScriptedSource) RunMultiplexedQuery(_ context.Context, _ domain.SourceConfig, query string, inputs []domain.CohortInput) (time.Duration, []domain.CohortPayload, error) {
	s.mu.Lock()
	idx := s.tickNum
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	resp := s.script[idx]
	s.callLog = append(s.callLog, CallRecord{Query: query, Inputs: inputs})
	s.mu.Unlock()

	if resp.Err != nil {
		return time.Millisecond, nil, resp.Err
	}

	payloads := make([]domain.CohortPayload, 0, len(inputs))
	for _, in := range inputs {
		if bytes, ok := resp.Payloads[in.CohortID]; ok {
			payloads = append(payloads, domain.CohortPayload{CohortID: in.CohortID, Bytes: bytes})
		}
	}
	return time.Millisecond, payloads, nil
}

// AdvanceTick moves the script cursor forward. Call once per simulated
// tick, between calls to a driver that runs a single poll tick directly.
func (s *ScriptedSource) AdvanceTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickNum++
}

// Calls returns a copy of every recorded RunMultiplexedQuery invocation.
func (s *ScriptedSource) Calls() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, len(s.callLog))
	copy(out, s.callLog)
	return out
}

// RecordingSubscriber captures every LiveQueryResponse delivered to it.
type RecordingSubscriber struct {
	mu        sync.Mutex
	responses []domain.LiveQueryResponse
}

// NewSubscriber builds a domain.Subscriber backed by a RecordingSubscriber,
// returning both so tests can inspect deliveries after driving ticks.
func NewSubscriber(metadata domain.SubscriberMetadata) (domain.Subscriber, *RecordingSubscriber) {
	rec := &RecordingSubscriber{}
	sub := domain.Subscriber{
		ID:       domain.NewSubscriberId(),
		Metadata: metadata,
		OnChange: rec.record,
	}
	return sub, rec
}

func (r *RecordingSubscriber) record(resp domain.LiveQueryResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
}

// Responses returns a copy of every response delivered so far.
func (r *RecordingSubscriber) Responses() []domain.LiveQueryResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.LiveQueryResponse, len(r.responses))
	copy(out, r.responses)
	return out
}

// Count returns how many responses have been delivered so far.
func (r *RecordingSubscriber) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.responses)
}

// Last returns the most recently delivered response and true, or a zero
// value and false if none has been delivered yet.
func (r *RecordingSubscriber) Last() (domain.LiveQueryResponse, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.responses) == 0 {
		return domain.LiveQueryResponse{}, false
	}
	return r.responses[len(r.responses)-1], true
}
