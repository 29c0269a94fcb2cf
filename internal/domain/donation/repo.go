package donation

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists donation documents. Save is a compare-and-swap on
// VersionID: it fails with ErrVersionConflict when the stored version no
// longer matches, and on success bumps d.VersionID and d.UpdatedAt.
type Repository interface {
	Create(ctx context.Context, d *Donation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Donation, error)
	Save(ctx context.Context, d *Donation) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Donation, int, error)
}
