package donor

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *Donor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Donor, error)
	List(ctx context.Context, bloodGroup string, limit, offset int) ([]*Donor, int, error)
	SetEligibility(ctx context.Context, id uuid.UUID, e Eligibility) error
}
