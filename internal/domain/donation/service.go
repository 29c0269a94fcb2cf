package donation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LabResult is returned from a lab-test update so callers can tell a stored
// pending result from one that moved the donation.
type LabResult struct {
	Donation     *Donation  `json:"donation"`
	Outcome      LabOutcome `json:"outcome"`
	FailedPanels []string   `json:"failed_panels,omitempty"`
}

type Service struct {
	repo   Repository
	engine *Engine
	now    func() time.Time
}

func NewService(repo Repository, engine *Engine) *Service {
	return &Service{repo: repo, engine: engine, now: engine.now}
}

// Create registers a new donation at the start of the pipeline. Any stage,
// status or history sent by the caller is discarded.
func (s *Service) Create(ctx context.Context, d *Donation) error {
	d.DonorName = strings.TrimSpace(d.DonorName)
	if d.DonorName == "" {
		return fmt.Errorf("%w: donor_name is required", ErrValidation)
	}
	if !ValidBloodGroup(d.BloodGroup) {
		return fmt.Errorf("%w: invalid blood_group %q", ErrValidation, d.BloodGroup)
	}
	if d.OrganizationID == uuid.Nil {
		return fmt.Errorf("%w: organization_id is required", ErrValidation)
	}
	if d.CreatedBy == "" {
		return fmt.Errorf("%w: created_by is required", ErrValidation)
	}

	now := s.now()
	d.ID = uuid.New()
	d.Stage = StageNewDonors
	d.Status = StatusActive
	d.Screening, d.Collection, d.LabTests = nil, nil, nil
	d.StartedAt, d.CompletedAt, d.CompletionDate, d.ExpiryDate = nil, nil, nil, nil
	d.History = nil
	d.appendHistory("Donation registered", d.CreatedBy, "", now)
	d.VersionID = 1
	d.CreatedAt = now
	d.UpdatedAt = now
	return s.repo.Create(ctx, d)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Donation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Donation, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// UpdateDetails edits descriptive fields. Pipeline state is out of reach.
func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, performedBy string, det Details) (*Donation, error) {
	if det.BloodGroup != nil && !ValidBloodGroup(*det.BloodGroup) {
		return nil, fmt.Errorf("%w: invalid blood_group %q", ErrValidation, *det.BloodGroup)
	}
	if det.DonorName != nil && strings.TrimSpace(*det.DonorName) == "" {
		return nil, fmt.Errorf("%w: donor_name cannot be empty", ErrValidation)
	}
	return s.engine.Apply(ctx, id, performedBy, "Details updated", "", func(d *Donation, _ time.Time) error {
		if det.DonorName != nil {
			d.DonorName = strings.TrimSpace(*det.DonorName)
		}
		if det.BloodGroup != nil {
			d.BloodGroup = *det.BloodGroup
		}
		if det.Phone != nil {
			d.Phone = det.Phone
		}
		if det.Email != nil {
			d.Email = det.Email
		}
		if det.DonorID != nil {
			d.DonorID = det.DonorID
		}
		if det.StorageLocation != nil {
			d.StorageLocation = det.StorageLocation
		}
		if det.Notes != nil {
			d.Notes = det.Notes
		}
		return nil
	})
}

// UpdateScreening records the vitals check. Passing or failing screening
// does not move the stage; the operator does that explicitly.
func (s *Service) UpdateScreening(ctx context.Context, id uuid.UUID, performedBy string, sc Screening) (*Donation, error) {
	if sc.Hemoglobin != nil && *sc.Hemoglobin <= 0 {
		return nil, fmt.Errorf("%w: hemoglobin must be positive", ErrValidation)
	}
	if sc.Weight != nil && *sc.Weight <= 0 {
		return nil, fmt.Errorf("%w: weight must be positive", ErrValidation)
	}
	return s.engine.Apply(ctx, id, performedBy, "Screening recorded", strVal(sc.Notes), func(d *Donation, now time.Time) error {
		if sc.ScreenedBy == "" {
			sc.ScreenedBy = performedBy
		}
		if sc.ScreenedAt == nil {
			sc.ScreenedAt = timePtr(now)
		}
		d.Screening = &sc
		return nil
	})
}

// UpdateCollection records the physical draw.
func (s *Service) UpdateCollection(ctx context.Context, id uuid.UUID, performedBy string, col Collection) (*Donation, error) {
	if col.ComponentType != "" && !validComponentTypes[col.ComponentType] {
		return nil, fmt.Errorf("%w: invalid component_type %q", ErrValidation, col.ComponentType)
	}
	if col.VolumeML != nil && *col.VolumeML <= 0 {
		return nil, fmt.Errorf("%w: volume_ml must be positive", ErrValidation)
	}
	if col.StartTime != nil && col.EndTime != nil && col.EndTime.Before(*col.StartTime) {
		return nil, fmt.Errorf("%w: end_time is before start_time", ErrValidation)
	}
	return s.engine.Apply(ctx, id, performedBy, "Collection recorded", "", func(d *Donation, _ time.Time) error {
		if col.CollectedBy == "" {
			col.CollectedBy = performedBy
		}
		d.Collection = &col
		return nil
	})
}

// UpdateLabTests stores the lab payload and acts on its outcome: a pass
// moves the donation to ready-storage, a failure rejects it, and a pending
// result is only stored.
func (s *Service) UpdateLabTests(ctx context.Context, id uuid.UUID, performedBy string, lt LabTests) (*LabResult, error) {
	if err := lt.Validate(); err != nil {
		return nil, err
	}
	d, outcome, failed, err := s.engine.RecordLabTests(ctx, id, performedBy, lt)
	if err != nil {
		return nil, err
	}
	return &LabResult{Donation: d, Outcome: outcome, FailedPanels: failed}, nil
}

// SetStage is the manual stage move exposed to operators.
func (s *Service) SetStage(ctx context.Context, id uuid.UUID, stage, performedBy, notes string) (*Donation, error) {
	target, err := ParseStage(stage)
	if err != nil {
		return nil, err
	}
	return s.engine.MoveToStage(ctx, id, target, performedBy, notes)
}

func (s *Service) AddHistoryEntry(ctx context.Context, id uuid.UUID, action, performedBy, notes string) (*Donation, error) {
	return s.engine.AddHistoryEntry(ctx, id, action, performedBy, notes)
}

func (s *Service) Abort(ctx context.Context, id uuid.UUID, performedBy, reason string) (*Donation, error) {
	return s.engine.Abort(ctx, id, performedBy, reason)
}
