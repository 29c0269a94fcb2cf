package bloodrequest

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Request, int, error)
	Apply(ctx context.Context, id uuid.UUID, u Update) error
	// Assign hands an OPEN request to a. It returns ErrNotOpen when the
	// request is in any other status.
	Assign(ctx context.Context, id uuid.UUID, a Assignment) error
	// Cancel moves an OPEN or ASSIGNED request to CANCELLED.
	Cancel(ctx context.Context, id uuid.UUID, notes *string) error
	// ReopenIfAssigned moves an ASSIGNED request back to OPEN and clears
	// the assignee in a single conditional write. A request assigned to a
	// donor other than donorID is left alone.
	ReopenIfAssigned(ctx context.Context, id, donorID uuid.UUID, notes string) (bool, error)
}
