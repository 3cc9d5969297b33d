package domain

import (
	"context"
	"time"
)

// CohortPayload pairs a cohort with the raw bytes the database returned for
// it.
type CohortPayload struct {
	CohortID CohortId
	Bytes    []byte
}

// CohortInput pairs a cohort with the resolved variables to inject into the
// multiplexed query for that cohort.
type CohortInput struct {
	CohortID  CohortId
	Variables CohortVariables
}

// Source runs one multiplexed query against a database for a batch of
// cohorts in a single round trip. This is the database-integration
// boundary the core treats as a black box (spec.md §1, §6): SQL
// generation, dialects and connection management all live on the other
// side of this interface.
type Source interface {
	RunMultiplexedQuery(ctx context.Context, config SourceConfig, query string, inputs []CohortInput) (time.Duration, []CohortPayload, error)
}

// SourceFunc adapts a plain function to a Source, mirroring the
// collaborator-as-function style the spec describes.
type SourceFunc func(ctx context.Context, config SourceConfig, query string, inputs []CohortInput) (time.Duration, []CohortPayload, error)

func (f SourceFunc) RunMultiplexedQuery(ctx context.Context, config SourceConfig, query string, inputs []CohortInput) (time.Duration, []CohortPayload, error) {
	return f(ctx, config, query, inputs)
}
