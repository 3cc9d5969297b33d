package livequery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pscheid92/livequeryd/internal/domain"
	"github.com/pscheid92/livequeryd/internal/hash"
	"github.com/pscheid92/livequeryd/internal/metrics"
	"github.com/pscheid92/livequeryd/internal/platform/correlation"
	"github.com/pscheid92/livequeryd/internal/platform/logging"
)

// cohortSnapshotEntry pairs a cohort id with its per-tick snapshot, the
// flat unit that batches are built from (spec.md §4.5 step 2).
type cohortSnapshotEntry struct {
	CohortID domain.CohortId
	Snapshot Snapshot
}

// pollQuery runs exactly one tick of a Poller: snapshot every cohort,
// batch them, execute each batch against source, diff and push results,
// then hand a PollDetails report to hook. This is the algorithmic core
// described in spec.md §4.5.
func pollQuery(ctx context.Context, p *Poller, source domain.Source, sourceConfig domain.SourceConfig, hook domain.PostPollHook, maxConcurrentBatches int) {
	ctx = correlation.WithID(ctx, correlation.NewID())
	tickStart := time.Now()

	snapshotStart := time.Now()
	entries := snapshotAllCohorts(p.Cohorts)
	snapshotTime := time.Since(snapshotStart)
	metrics.SnapshotDuration.Observe(snapshotTime.Seconds())

	batches := partitionBatches(entries, p.Options.BatchSize)

	batchDetails := make([]domain.BatchExecutionDetails, len(batches))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentBatches)

	for i, batch := range batches {
		i, batch := i, batch
		group.Go(func() error {
			// This goroutine is not the worker's, so runTickSafely cannot
			// recover a panic raised here (e.g. by the Source); do it here.
			defer func() {
				if r := recover(); r != nil {
					metrics.WorkerPanicsTotal.Inc()
					logging.WithBatch(i+1).ErrorContext(gctx, "poll batch panicked", "panic", r)
					batchDetails[i] = domain.BatchExecutionDetails{BatchID: i + 1}
				}
			}()
			batchDetails[i] = executeBatch(gctx, p.Key, i+1, batch, source, sourceConfig, p.ParameterizedQueryHash)
			return nil
		})
	}
	_ = group.Wait() // executeBatch never returns an error; failures are captured per-batch

	totalTime := time.Since(tickStart)
	metrics.TickDuration.Observe(totalTime.Seconds())

	if hook != nil {
		hook(domain.PollDetails{
			PollerID:               p.pollerIDOrZero(),
			SnapshotTime:           snapshotTime,
			Batches:                batchDetails,
			TotalTime:              totalTime,
			Source:                 p.Key.SourceName,
			Role:                   p.Key.RoleName,
			LiveQueryOptions:       &p.Options,
			ParameterizedQueryHash: p.ParameterizedQueryHash,
		})
	}
}

// snapshotAllCohorts atomically lists every (CohortKey, Cohort) pair and
// promotes each one independently. Promotions across distinct cohorts are
// not jointly atomic, which spec.md §4.5 step 2 explicitly allows.
func snapshotAllCohorts(cohorts *CohortMap) []cohortSnapshotEntry {
	entries := cohorts.Snapshot()
	result := make([]cohortSnapshotEntry, 0, len(entries))
	for _, e := range entries {
		snap := e.Cohort.SnapshotAndPromote()
		result = append(result, cohortSnapshotEntry{CohortID: e.Cohort.ID(), Snapshot: snap})
	}
	return result
}

// partitionBatches splits entries into chunks of at most size, assigning
// no BatchId here — the caller numbers batches 1..N by slice position.
func partitionBatches(entries []cohortSnapshotEntry, size int) [][]cohortSnapshotEntry {
	if size <= 0 {
		size = domain.DefaultLiveQueryOptions().BatchSize
	}
	batches := make([][]cohortSnapshotEntry, 0, (len(entries)+size-1)/size)
	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		batches = append(batches, entries[start:end])
	}
	return batches
}

// executeBatch runs one multiplexed query round trip for batch, then
// diffs and pushes every cohort's result. push_to_cohort calls fan out one
// goroutine per cohort (spec.md §4.5 step 4: "concurrently invoke
// push_to_cohort for each operation") so one cohort's slow or numerous
// subscriber callbacks can never head-of-line-block another cohort's push
// within the same batch.
func executeBatch(ctx context.Context, key domain.PollerKey, batchID int, batch []cohortSnapshotEntry, source domain.Source, sourceConfig domain.SourceConfig, query domain.ParameterizedQueryHash) domain.BatchExecutionDetails {
	labels := []string{string(key.SourceName), string(key.RoleName)}

	inputs := make([]domain.CohortInput, len(batch))
	byID := make(map[domain.CohortId]cohortSnapshotEntry, len(batch))
	for i, e := range batch {
		inputs[i] = domain.CohortInput{CohortID: e.CohortID, Variables: e.Snapshot.Variables}
		byID[e.CohortID] = e
	}

	execStart := time.Now()
	execTime, payloads, err := source.RunMultiplexedQuery(ctx, sourceConfig, key.QueryText, inputs)
	if execTime == 0 {
		execTime = time.Since(execStart)
	}
	metrics.BatchExecutionDuration.WithLabelValues(labels...).Observe(execTime.Seconds())

	pushStart := time.Now()
	var cohortResults []domain.CohortExecutionDetails
	var totalBytes int
	var haveBytes bool

	if err != nil {
		metrics.BatchErrorsTotal.WithLabelValues(labels...).Inc()
		cohortResults = make([]domain.CohortExecutionDetails, len(batch))
		var group errgroup.Group
		for i, e := range batch {
			i, e := i, e
			group.Go(func() error {
				res := pushToCohort(ctx, pushInput{
					Snapshot:      e.Snapshot,
					Err:           err,
					ExecutionTime: execTime,
				})
				cohortResults[i] = toCohortExecutionDetails(res, batchID)
				return nil
			})
		}
		_ = group.Wait() // pushToCohort never returns an error; per-cohort failures are captured per-result
	} else {
		cohortResults = make([]domain.CohortExecutionDetails, 0, len(payloads))
		var mu sync.Mutex
		var group errgroup.Group
		for _, payload := range payloads {
			payload := payload
			e, ok := byID[payload.CohortID]
			if !ok {
				metrics.InconsistentCohortsTotal.Inc()
				logging.WithBatch(batchID).WarnContext(ctx,
					"multiplexed query returned unknown cohort id",
					"cohort_id", payload.CohortID.String(),
					"source", key.SourceName,
					"role", key.RoleName,
					"query_text", key.QueryText,
				)
				continue
			}
			group.Go(func() error {
				h := hash.Hash(payload.Bytes)
				res := pushToCohort(ctx, pushInput{
					Snapshot:      e.Snapshot,
					Bytes:         payload.Bytes,
					NewHash:       &h,
					ExecutionTime: execTime,
				})

				mu.Lock()
				cohortResults = append(cohortResults, toCohortExecutionDetails(res, batchID))
				totalBytes += len(payload.Bytes)
				haveBytes = true
				mu.Unlock()
				return nil
			})
		}
		_ = group.Wait() // pushToCohort never returns an error; per-cohort failures are captured per-result
		// Cohorts in the batch with no matching response row receive no
		// update this tick; this is normal (spec.md §4.5, §7).
	}

	pushTime := time.Since(pushStart)
	metrics.PushDuration.WithLabelValues(labels...).Observe(pushTime.Seconds())

	details := domain.BatchExecutionDetails{
		PgExecutionTime: execTime,
		PushTime:        pushTime,
		BatchID:         batchID,
		Cohorts:         cohortResults,
	}
	if err == nil && haveBytes {
		details.BatchResponseSizeBytes = &totalBytes
	}
	return details
}

func toCohortExecutionDetails(res pushResult, batchID int) domain.CohortExecutionDetails {
	return domain.CohortExecutionDetails{
		CohortID:     res.CohortID,
		Variables:    res.Variables,
		ResponseSize: res.ResponseLen,
		PushedTo:     res.PushedTo,
		Ignored:      res.Ignored,
		BatchID:      batchID,
	}
}
