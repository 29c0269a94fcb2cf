package organization

import (
	"context"

	"github.com/google/uuid"

	"github.com/bloodnet/bloodnet/internal/domain/donation"
)

// Lookup resolves organization types for the donation engine.
type Lookup struct {
	orgs Repository
}

func NewLookup(orgs Repository) *Lookup {
	return &Lookup{orgs: orgs}
}

func (l *Lookup) GetOrganizationType(ctx context.Context, orgID uuid.UUID) (donation.OrgType, error) {
	o, err := l.orgs.GetByID(ctx, orgID)
	if err != nil {
		return donation.OrgTypeUnknown, err
	}
	switch o.Type {
	case TypeBank:
		return donation.OrgTypeBank, nil
	case TypeHospital:
		return donation.OrgTypeHospital, nil
	default:
		return donation.OrgTypeUnknown, nil
	}
}
