package domain

import "time"

// SubscriberExecutionDetails names one subscriber in a per-tick report.
type SubscriberExecutionDetails struct {
	SubscriberID SubscriberId       `json:"subscriber_id"`
	Metadata     SubscriberMetadata `json:"subscriber_metadata"`
}

// CohortExecutionDetails reports what happened to one cohort within one
// batch of one tick.
type CohortExecutionDetails struct {
	CohortID     CohortId                     `json:"cohort_id"`
	Variables    CohortVariables              `json:"variables"`
	ResponseSize *int                         `json:"response_size,omitempty"`
	PushedTo     []SubscriberExecutionDetails `json:"pushed_to"`
	Ignored      []SubscriberExecutionDetails `json:"ignored"`
	BatchID      int                          `json:"batch_id"`
}

// BatchExecutionDetails reports one batch's execution within a tick.
type BatchExecutionDetails struct {
	PgExecutionTime        time.Duration            `json:"pg_execution_time"`
	PushTime               time.Duration            `json:"push_time"`
	BatchID                int                      `json:"batch_id"`
	Cohorts                []CohortExecutionDetails `json:"cohorts"`
	BatchResponseSizeBytes *int                     `json:"batch_response_size_bytes,omitempty"`
}

// PollDetails is the stable, serialisable per-tick report handed to the
// post_poll_hook collaborator.
type PollDetails struct {
	PollerID     PollerId                `json:"poller_id"`
	SnapshotTime time.Duration           `json:"snapshot_time"`
	Batches      []BatchExecutionDetails `json:"batches"`
	TotalTime    time.Duration           `json:"total_time"`
	Source       SourceName              `json:"source"`
	Role         RoleName                `json:"role"`

	// Extended fields. The poll tick always sets LiveQueryOptions and
	// ParameterizedQueryHash; it never sets GeneratedSQL, which therefore
	// stays empty and is omitted from JSON.
	GeneratedSQL           string                 `json:"generated_sql,omitempty"`
	LiveQueryOptions       *LiveQueryOptions      `json:"live_query_options,omitempty"`
	ParameterizedQueryHash ParameterizedQueryHash `json:"parameterized_query_hash,omitempty"`
}

// PostPollHook consumes the per-tick telemetry. Provided by the transport
// layer (logging, metrics); must not block the poller for long.
type PostPollHook func(PollDetails)
