package organization

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	orgs Repository
}

func NewService(orgs Repository) *Service {
	return &Service{orgs: orgs}
}

func (s *Service) CreateOrganization(ctx context.Context, o *Organization) error {
	o.Name = strings.TrimSpace(o.Name)
	if o.Name == "" {
		return fmt.Errorf("%w: organization name is required", ErrValidation)
	}
	o.Type = Type(strings.ToUpper(string(o.Type)))
	if !validTypes[o.Type] {
		return fmt.Errorf("%w: invalid organization type %q", ErrValidation, o.Type)
	}
	o.Active = true
	return s.orgs.Create(ctx, o)
}

func (s *Service) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return s.orgs.GetByID(ctx, id)
}

func (s *Service) ListOrganizations(ctx context.Context, typ Type, limit, offset int) ([]*Organization, int, error) {
	if typ != "" && !validTypes[typ] {
		return nil, 0, fmt.Errorf("%w: invalid organization type %q", ErrValidation, typ)
	}
	return s.orgs.List(ctx, typ, limit, offset)
}
