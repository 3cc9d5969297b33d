package livequery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/livequeryd/internal/domain"
	"github.com/pscheid92/livequeryd/internal/sourcetest"
)

func newTestPoller(batchSize int) *Poller {
	key := testPollerKey("query { x }")
	opts := domain.LiveQueryOptions{BatchSize: batchSize, RefetchInterval: 0}
	return NewPoller(key, opts, "queryhash")
}

func addCohort(p *Poller, vars domain.CohortVariables) *Cohort {
	key := domain.NewCohortKey(vars)
	c, _ := p.Cohorts.GetOrCreate(key, func() *Cohort {
		return NewCohort(domain.NewCohortId(), key, vars)
	})
	return c
}

func driveTick(t *testing.T, p *Poller, source *sourcetest.ScriptedSource) {
	t.Helper()
	pollQuery(context.Background(), p, source, nil, nil, 4)
}

// Scenario 1: single subscriber, unchanged result across 3 ticks.
func TestScenario_SingleSubscriberUnchangedResult(t *testing.T) {
	p := newTestPoller(10)
	c := addCohort(p, domain.CohortVariables{"id": "1"})
	sub, rec := sourcetest.NewSubscriber(nil)
	c.AddSubscriber(sub)

	source := sourcetest.NewScriptedSource(
		sourcetest.TickResponse{Payloads: map[domain.CohortId][]byte{c.ID(): []byte("X")}},
	)

	for i := 0; i < 3; i++ {
		driveTick(t, p, source)
	}

	assert.Equal(t, 1, rec.Count())
	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, []byte("X"), last.Data)
}

// Scenario 2: changed result across ticks X, Y, Y.
func TestScenario_ChangedResult(t *testing.T) {
	p := newTestPoller(10)
	c := addCohort(p, domain.CohortVariables{"id": "1"})
	sub, rec := sourcetest.NewSubscriber(nil)
	c.AddSubscriber(sub)

	source := sourcetest.NewScriptedSource(
		sourcetest.TickResponse{Payloads: map[domain.CohortId][]byte{c.ID(): []byte("X")}},
		sourcetest.TickResponse{Payloads: map[domain.CohortId][]byte{c.ID(): []byte("Y")}},
		sourcetest.TickResponse{Payloads: map[domain.CohortId][]byte{c.ID(): []byte("Y")}},
	)

	driveTick(t, p, source)
	source.AdvanceTick()
	driveTick(t, p, source)
	source.AdvanceTick()
	driveTick(t, p, source)

	assert.Equal(t, 2, rec.Count())
}

// Scenario 3: a second subscriber joins after the first push and still
// gets exactly one delivery on the next tick, unconditionally.
func TestScenario_NewSubscriberJoinsAfterFirstPush(t *testing.T) {
	p := newTestPoller(10)
	c := addCohort(p, domain.CohortVariables{"id": "1"})
	a, recA := sourcetest.NewSubscriber(nil)
	c.AddSubscriber(a)

	source := sourcetest.NewScriptedSource(
		sourcetest.TickResponse{Payloads: map[domain.CohortId][]byte{c.ID(): []byte("X")}},
	)
	driveTick(t, p, source)
	assert.Equal(t, 1, recA.Count())

	b, recB := sourcetest.NewSubscriber(nil)
	c.AddSubscriber(b)

	driveTick(t, p, source) // same script entry, unchanged payload "X"

	assert.Equal(t, 1, recB.Count())
	assert.Equal(t, 1, recA.Count())
	last, ok := recB.Last()
	require.True(t, ok)
	assert.Equal(t, []byte("X"), last.Data)
}

// Scenario 4: batch error after a success resets the hash, so the next
// success re-delivers even though the bytes are identical to before the
// error.
func TestScenario_BatchErrorAfterSuccessResetsHash(t *testing.T) {
	p := newTestPoller(10)
	c := addCohort(p, domain.CohortVariables{"id": "1"})
	sub, rec := sourcetest.NewSubscriber(nil)
	c.AddSubscriber(sub)

	boom := errors.New("boom")
	source := sourcetest.NewScriptedSource(
		sourcetest.TickResponse{Payloads: map[domain.CohortId][]byte{c.ID(): []byte("X")}},
		sourcetest.TickResponse{Err: boom},
		sourcetest.TickResponse{Payloads: map[domain.CohortId][]byte{c.ID(): []byte("X")}},
	)

	driveTick(t, p, source)
	source.AdvanceTick()
	driveTick(t, p, source)
	source.AdvanceTick()
	driveTick(t, p, source)

	assert.Equal(t, 3, rec.Count())
	responses := rec.Responses()
	assert.False(t, responses[0].IsError)
	assert.True(t, responses[1].IsError)
	assert.False(t, responses[2].IsError)
}

// Scenario 5: two cohorts in one batch, each subscriber gets exactly its
// own cohort's payload.
func TestScenario_TwoCohortsOneBatch(t *testing.T) {
	p := newTestPoller(10)
	c1 := addCohort(p, domain.CohortVariables{"id": "1"})
	c2 := addCohort(p, domain.CohortVariables{"id": "2"})
	s1, rec1 := sourcetest.NewSubscriber(nil)
	s2, rec2 := sourcetest.NewSubscriber(nil)
	c1.AddSubscriber(s1)
	c2.AddSubscriber(s2)

	source := sourcetest.NewScriptedSource(sourcetest.TickResponse{
		Payloads: map[domain.CohortId][]byte{
			c1.ID(): []byte("A"),
			c2.ID(): []byte("B"),
		},
	})

	driveTick(t, p, source)

	assert.Equal(t, 1, rec1.Count())
	assert.Equal(t, 1, rec2.Count())
	last1, _ := rec1.Last()
	last2, _ := rec2.Last()
	assert.Equal(t, []byte("A"), last1.Data)
	assert.Equal(t, []byte("B"), last2.Data)
}

// Cohorts included in a batch but absent from the database response
// simply receive no update this tick (spec §4.5, §7): not an error.
func TestPollTick_MissingCohortInResponseIsNotAnError(t *testing.T) {
	p := newTestPoller(10)
	present := addCohort(p, domain.CohortVariables{"id": "1"})
	missing := addCohort(p, domain.CohortVariables{"id": "2"})
	sPresent, recPresent := sourcetest.NewSubscriber(nil)
	sMissing, recMissing := sourcetest.NewSubscriber(nil)
	present.AddSubscriber(sPresent)
	missing.AddSubscriber(sMissing)

	source := sourcetest.NewScriptedSource(sourcetest.TickResponse{
		Payloads: map[domain.CohortId][]byte{present.ID(): []byte("A")},
	})

	driveTick(t, p, source)

	assert.Equal(t, 1, recPresent.Count())
	assert.Equal(t, 0, recMissing.Count())
}

func TestPollTick_BatchesAcrossMultipleBatchIDs(t *testing.T) {
	p := newTestPoller(1) // force one cohort per batch
	c1 := addCohort(p, domain.CohortVariables{"id": "1"})
	c2 := addCohort(p, domain.CohortVariables{"id": "2"})
	s1, rec1 := sourcetest.NewSubscriber(nil)
	s2, rec2 := sourcetest.NewSubscriber(nil)
	c1.AddSubscriber(s1)
	c2.AddSubscriber(s2)

	source := sourcetest.NewScriptedSource(sourcetest.TickResponse{
		Payloads: map[domain.CohortId][]byte{
			c1.ID(): []byte("A"),
			c2.ID(): []byte("B"),
		},
	})

	var captured domain.PollDetails
	pollQuery(context.Background(), p, source, nil, func(d domain.PollDetails) { captured = d }, 4)

	require.Len(t, captured.Batches, 2)
	assert.Equal(t, 1, captured.Batches[0].BatchID)
	assert.Equal(t, 2, captured.Batches[1].BatchID)
	assert.Equal(t, 1, rec1.Count())
	assert.Equal(t, 1, rec2.Count())
}
