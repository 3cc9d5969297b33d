package livequery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pscheid92/livequeryd/internal/domain"
	"github.com/pscheid92/livequeryd/internal/errors"
	"github.com/pscheid92/livequeryd/internal/hash"
	"github.com/pscheid92/livequeryd/internal/metrics"
	"github.com/pscheid92/livequeryd/internal/platform/logging"
)

// pushInput bundles one cohort's per-tick execution outcome, ready to be
// pushed to its subscribers.
type pushInput struct {
	Snapshot      Snapshot
	Bytes         []byte // nil on error
	Err           error  // nil on success
	NewHash       *hash.ResponseHash
	ExecutionTime time.Duration
}

// pushResult is what push_to_cohort reports back for assembly into
// CohortExecutionDetails.
type pushResult struct {
	CohortID    domain.CohortId
	Variables   domain.CohortVariables
	ResponseLen *int
	PushedTo    []domain.SubscriberExecutionDetails
	Ignored     []domain.SubscriberExecutionDetails
}

// pushToCohort implements spec.md §4.4: decide whether the cohort's
// existing subscribers need this tick's payload, always deliver to new
// subscribers, and invoke every notified subscriber's callback
// concurrently and independently. Callback panics and errors are isolated
// per subscriber and never propagate.
func pushToCohort(ctx context.Context, in pushInput) pushResult {
	snap := in.Snapshot

	shouldPushExisting := in.Err != nil || !hashesEqual(in.NewHash, snap.PreviousHash)

	var notify, ignored []domain.Subscriber
	if shouldPushExisting {
		snap.WriteHash(in.NewHash)
		notify = make([]domain.Subscriber, 0, len(snap.Existing)+len(snap.New))
		notify = append(notify, snap.Existing...)
		notify = append(notify, snap.New...)
	} else {
		notify = snap.New
		ignored = snap.Existing
	}

	data := in.Bytes
	if in.Err != nil {
		// Error results carry a GraphQL-level error body so subscribers
		// learn what failed, not only that something did.
		data, _ = json.Marshal(map[string]any{
			"errors": []map[string]string{{"message": errors.ExecutionError("multiplexed query failed", in.Err).Error()}},
		})
	}

	response := domain.LiveQueryResponse{
		Data:          data,
		IsError:       in.Err != nil,
		ExecutionTime: in.ExecutionTime,
	}

	deliver(ctx, snap.CohortID, notify, response)
	if len(ignored) > 0 {
		metrics.IgnoredTotal.Add(float64(len(ignored)))
	}

	result := pushResult{
		CohortID:  snap.CohortID,
		Variables: snap.Variables,
		PushedTo:  toSubscriberDetails(notify),
		Ignored:   toSubscriberDetails(ignored),
	}
	if in.Err == nil {
		n := len(in.Bytes)
		result.ResponseLen = &n
	}
	return result
}

// deliver invokes each subscriber's OnChange callback concurrently.
// Callback panics and errors are recovered and logged; they never abort
// sibling deliveries or the tick.
func deliver(ctx context.Context, cohortID domain.CohortId, subs []domain.Subscriber, response domain.LiveQueryResponse) {
	if len(subs) == 0 {
		return
	}

	metricResult := "pushed"
	if response.IsError {
		metricResult = "pushed_error"
	}

	done := make(chan struct{}, len(subs))
	for _, sub := range subs {
		go func(sub domain.Subscriber) {
			defer func() { done <- struct{}{} }()
			defer func() {
				if r := recover(); r != nil {
					metrics.CallbackErrorsTotal.Inc()
					cbErr := callbackFailure(sub.ID, r)
					logging.WithCohort(cohortID.String()).
						ErrorContext(ctx, cbErr.Error(), "subscriber_id", sub.ID.String())
				}
			}()
			sub.OnChange(response)
			metrics.PushesTotal.WithLabelValues(metricResult).Inc()
		}(sub)
	}
	for range subs {
		<-done
	}
}

func toSubscriberDetails(subs []domain.Subscriber) []domain.SubscriberExecutionDetails {
	details := make([]domain.SubscriberExecutionDetails, 0, len(subs))
	for _, s := range subs {
		details = append(details, domain.SubscriberExecutionDetails{
			SubscriberID: s.ID,
			Metadata:     s.Metadata,
		})
	}
	return details
}

func hashesEqual(a, b *hash.ResponseHash) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// callbackFailure wraps a recovered subscriber callback failure into the
// structured error taxonomy, for callers that want to fold it into a
// broader error report rather than just logging it.
func callbackFailure(subscriberID domain.SubscriberId, r any) *errors.Error {
	return errors.CallbackError("subscriber callback failed", nil).
		WithContext("subscriber_id", subscriberID.String()).
		WithContext("panic", r)
}
