package domain

import "github.com/google/uuid"

// SubscriberId opaquely identifies a subscriber for the life of its
// subscription. Immutable once assigned.
type SubscriberId uuid.UUID

// NewSubscriberId returns a fresh 128-bit random subscriber id.
func NewSubscriberId() SubscriberId { return SubscriberId(uuid.New()) }

func (id SubscriberId) String() string { return uuid.UUID(id).String() }

// CohortId is embedded into the multiplexed SQL text so the database can
// tag each returned row with the cohort it belongs to.
type CohortId uuid.UUID

// NewCohortId returns a fresh 128-bit random cohort id.
func NewCohortId() CohortId { return CohortId(uuid.New()) }

func (id CohortId) String() string { return uuid.UUID(id).String() }

// PollerId identifies a running poller worker for diagnostics; assigned by
// spawn_worker when a Poller is created.
type PollerId uuid.UUID

// NewPollerId returns a fresh 128-bit random poller id.
func NewPollerId() PollerId { return PollerId(uuid.New()) }

func (id PollerId) String() string { return uuid.UUID(id).String() }

// SourceName identifies the configured data source (database) a poller
// executes queries against.
type SourceName string

// RoleName identifies the permission role a subscription was authorized
// under; part of what defines Poller sharing.
type RoleName string

// ParameterizedQueryHash is an opaque fingerprint of the query text, carried
// through diagnostics so operators can correlate pollers with GraphQL
// documents without embedding the full text everywhere.
type ParameterizedQueryHash string

// PollerKey identifies the (source, role, query) triple that a Poller is
// dedicated to. Two subscriptions share a Poller iff their PollerKeys are
// structurally equal, so this must remain a plain comparable struct usable
// as a map key.
type PollerKey struct {
	SourceName SourceName
	RoleName   RoleName
	QueryText  string
}
