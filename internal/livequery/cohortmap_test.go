package livequery

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/livequeryd/internal/domain"
	"github.com/pscheid92/livequeryd/internal/sourcetest"
)

func TestCohortMap_GetOrCreate(t *testing.T) {
	cm := NewCohortMap()
	vars := domain.CohortVariables{"id": "1"}
	key := domain.NewCohortKey(vars)

	c1, created1 := cm.GetOrCreate(key, func() *Cohort { return NewCohort(domain.NewCohortId(), key, vars) })
	assert.True(t, created1)

	c2, created2 := cm.GetOrCreate(key, func() *Cohort { return NewCohort(domain.NewCohortId(), key, vars) })
	assert.False(t, created2)
	assert.Same(t, c1, c2)
}

func TestCohortMap_GetOrCreate_ConcurrentRaceYieldsOneCohort(t *testing.T) {
	cm := NewCohortMap()
	vars := domain.CohortVariables{"id": "1"}
	key := domain.NewCohortKey(vars)

	const n = 50
	results := make([]*Cohort, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], _ = cm.GetOrCreate(key, func() *Cohort { return NewCohort(domain.NewCohortId(), key, vars) })
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestCohortMap_RemoveSubscriber_PrunesWhenEmpty(t *testing.T) {
	cm := NewCohortMap()
	vars := domain.CohortVariables{"id": "1"}
	key := domain.NewCohortKey(vars)
	sub, _ := sourcetest.NewSubscriber(nil)

	c, _ := cm.GetOrCreate(key, func() *Cohort { return NewCohort(domain.NewCohortId(), key, vars) })
	c.AddSubscriber(sub)

	found, pruned := cm.RemoveSubscriber(key, sub.ID)
	assert.True(t, found)
	assert.True(t, pruned)
	assert.True(t, cm.Empty())

	_, stillThere := cm.m.Load(key)
	assert.False(t, stillThere)
}

func TestCohortMap_RemoveSubscriber_KeepsCohortWhenOthersRemain(t *testing.T) {
	cm := NewCohortMap()
	vars := domain.CohortVariables{"id": "1"}
	key := domain.NewCohortKey(vars)
	a, _ := sourcetest.NewSubscriber(nil)
	b, _ := sourcetest.NewSubscriber(nil)

	c, _ := cm.GetOrCreate(key, func() *Cohort { return NewCohort(domain.NewCohortId(), key, vars) })
	c.AddSubscriber(a)
	c.AddSubscriber(b)

	found, pruned := cm.RemoveSubscriber(key, a.ID)
	assert.True(t, found)
	assert.False(t, pruned)
	assert.False(t, cm.Empty())
	assert.Equal(t, 1, c.Count())
}

func TestCohortMap_RemoveSubscriber_UnknownKeyIsNotFound(t *testing.T) {
	cm := NewCohortMap()
	found, pruned := cm.RemoveSubscriber(domain.CohortKey("nope"), domain.NewSubscriberId())
	assert.False(t, found)
	assert.False(t, pruned)
}

func TestCohortMap_SnapshotSeesAllEntries(t *testing.T) {
	cm := NewCohortMap()
	for i := 0; i < 3; i++ {
		vars := domain.CohortVariables{"id": i}
		key := domain.NewCohortKey(vars)
		_, created := cm.GetOrCreate(key, func() *Cohort { return NewCohort(domain.NewCohortId(), key, vars) })
		require.True(t, created)
	}
	assert.Equal(t, 3, cm.Len())
	assert.Len(t, cm.Snapshot(), 3)
}
