// Package presence defines the contract the gateway core uses to persist who is online, and ships a
// PostgreSQL-backed reference implementation of it. The interface is the in-scope deliverable; a concrete
// backing store is a pluggable collaborator and callers are free to supply their own.
package presence

import "context"

// Record is a presence row as returned by the store, owned externally (the gateway never mutates it
// in-place — every update goes back through the Client interface).
type Record struct {
	UUID        string
	Name        string
	AccountType string
	Roles       []string
	Online      bool
	LastJoin    *int64
	LastSeen    *int64
	LastLeave   *int64
	IP          *string
}

// MarkOnlineParams carries the fields mark_online needs to upsert a record.
type MarkOnlineParams struct {
	UUID        string
	Name        string
	AccountType string
	IP          *string
	// RolesToPersist, when non-nil, overwrites the store's roles for this uuid. When nil, the store's
	// existing roles (if any) are preserved rather than clobbered by a client-supplied hint.
	RolesToPersist []string
}

// Client is the abstract contract over the external presence store. Every operation may suspend and may
// fail; failures are the caller's responsibility to log, never the client's to raise — no method here
// returns anything but a transport/store error, which callers are expected to swallow after logging.
type Client interface {
	// MarkOnline upserts the user record, sets online=true, stamps last_join on first insert and
	// last_seen on every call. Existing stored roles are preserved unless RolesToPersist is set.
	MarkOnline(ctx context.Context, params MarkOnlineParams) error

	// MarkOffline sets online=false and stamps last_leave=now. If no record exists for uuid, a stub
	// record with a default identity is created so the write never fails for an unknown uuid.
	MarkOffline(ctx context.Context, uuid string) error

	// UpdateLastSeen stamps last_seen=now and sets online=true.
	UpdateLastSeen(ctx context.Context, uuid string) error

	// UpdateRoles replaces the stored roles field for uuid.
	UpdateRoles(ctx context.Context, uuid string, roles []string) error

	// FetchRoles returns the canonical stored role set, or nil if the uuid is absent or has no roles.
	FetchRoles(ctx context.Context, uuid string) ([]string, error)

	// FetchOnlineUsers returns up to limit records with online=true, most-recently-seen first.
	FetchOnlineUsers(ctx context.Context, limit int) ([]Record, error)

	// CountOnlineUsers returns the number of records with online=true.
	CountOnlineUsers(ctx context.Context) (int, error)
}

// DefaultFetchLimit is the fallback limit applied by callers of FetchOnlineUsers that do not specify one.
const DefaultFetchLimit = 500
