package domain

import "context"

// EventKind tags a change-feed event.
type EventKind string

// Change-feed event kinds.
const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// ChangeEvent is one change-feed notification. INSERT events carry a full
// record in Patch; UPDATE events may carry only the changed fields; DELETE
// events carry no patch. The transport does not guarantee at-most-once
// delivery, so consumers must apply events idempotently.
type ChangeEvent struct {
	Kind  EventKind     `json:"kind"`
	ID    string        `json:"id"`
	Patch *ServicePatch `json:"patch,omitempty"`
}

// RemoteDataSource fetches record pages and single records from the
// coordination backend. Both operations are idempotent and safe to retry.
type RemoteDataSource interface {
	// FetchPage returns one window of the collection matching q, plus the
	// total number of matching records. Failures carry CodeFetch.
	FetchPage(ctx context.Context, q RemoteQuery) (*Page, error)
	// FetchOne returns the full record for id. A vanished id yields an
	// error with CodeNotFound.
	FetchOne(ctx context.Context, id string) (*Service, error)
}

// ChangeFeedSource delivers live change events for the record collection
// visible to the given session token. The returned function tears the
// subscription down; it is safe to call more than once. The source owns
// reconnection; after a reconnect it may redeliver events the consumer has
// already seen.
type ChangeFeedSource interface {
	Subscribe(token string, onEvent func(ChangeEvent)) (unsubscribe func(), err error)
}

// SnapshotStore persists the last-seen record set so the mirror can show
// stale data before the first fetch completes. Best-effort only: it is never
// authoritative and its failures must not break synchronization.
type SnapshotStore interface {
	Save(ctx context.Context, items []Service) error
	Load(ctx context.Context) ([]Service, error)
}
