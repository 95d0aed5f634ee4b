package store

import (
	"context"
	"errors"

	"github.com/rankgate/rankgate/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store persists the IP approval workflow and the blocked-IP set.
//
// Approvals and blocks only grow; only pending records are removed (on
// reject) or flipped (on approve). A blocked IP is never unblocked by any
// in-process operation. The store assumes a single writer process; it is
// not designed for concurrent writers across processes.
type Store interface {
	// Propose inserts an unresolved pending record for ip unless one
	// already exists. Idempotent while a record is unresolved.
	Propose(ctx context.Context, ip string) error

	// Approve resolves the newest unresolved record for ip and adds ip to
	// the approved set. Returns ErrNotFound when no unresolved record
	// exists.
	Approve(ctx context.Context, ip string) error

	// Reject removes all pending records for ip, resolved or not. It
	// succeeds even when nothing matched.
	Reject(ctx context.Context, ip string) error

	// ListPending returns unresolved records only, newest first.
	ListPending(ctx context.Context) ([]model.PendingApproval, error)

	IsApproved(ctx context.Context, ip string) (bool, error)

	// Block adds ip to the blocked set. Idempotent.
	Block(ctx context.Context, ip string) error

	IsBlocked(ctx context.Context, ip string) (bool, error)

	Close() error
}
