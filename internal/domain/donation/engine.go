package donation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/bloodnet/bloodnet/internal/platform/lock"
	"github.com/bloodnet/bloodnet/internal/platform/metrics"
)

const tracerName = "github.com/bloodnet/bloodnet/internal/domain/donation"

// OrgType is the kind of organization that owns a donation.
type OrgType string

const (
	OrgTypeHospital OrgType = "HOSPITAL"
	OrgTypeBank     OrgType = "BANK"
	OrgTypeUnknown  OrgType = ""
)

// OrganizationLookup resolves the type of the owning organization.
type OrganizationLookup interface {
	GetOrganizationType(ctx context.Context, orgID uuid.UUID) (OrgType, error)
}

// Fulfiller propagates terminal lab outcomes to the linked appointment,
// request and donor. Both calls are best-effort from the engine's view.
type Fulfiller interface {
	AutoFulfillRequest(ctx context.Context, donationID uuid.UUID, appointmentID *uuid.UUID, completedAt time.Time) error
	ReleaseAssignment(ctx context.Context, donationID uuid.UUID, appointmentID *uuid.UUID, failedPanels []string) error
}

// Mutation edits a freshly loaded copy of the donation. Returning an error
// aborts the write.
type Mutation func(d *Donation, now time.Time) error

// Engine owns every write to a donation. Each operation runs under a
// per-donation lock and persists state and history in a single versioned
// save.
type Engine struct {
	repo       Repository
	orgs       OrganizationLookup
	fulfiller  Fulfiller
	locker     lock.Locker
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	maxRetries int
}

// Option configures an Engine.
type Option func(*Engine)

func WithFulfiller(f Fulfiller) Option {
	return func(e *Engine) { e.fulfiller = f }
}

func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxRetries bounds how often a save is retried after a version conflict.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// NewEngine builds an Engine. orgs may be nil, in which case every unit
// reaching storage is treated as used.
func NewEngine(repo Repository, orgs OrganizationLookup, opts ...Option) *Engine {
	e := &Engine{
		repo:       repo,
		orgs:       orgs,
		locker:     lock.NewLocal(),
		logger:     zerolog.Nop(),
		tracer:     nooptrace.NewTracerProvider().Tracer(tracerName),
		now:        func() time.Time { return time.Now().UTC() },
		maxRetries: 3,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// MoveToStage moves the donation to target, applying first-entry effects
// and appending one history entry. Reaching ready-storage for the first
// time triggers request fulfillment once the write has committed.
func (e *Engine) MoveToStage(ctx context.Context, id uuid.UUID, target Stage, performedBy, notes string) (*Donation, error) {
	ctx, span := e.startSpan(ctx, "Engine.MoveToStage", id, attribute.String("donation.target_stage", string(target)))
	defer span.End()

	d, eff, err := e.move(ctx, id, target, performedBy, notes)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	if eff.fulfill {
		e.autoFulfill(ctx, d)
	}
	return d, nil
}

// RejectForLabFailure moves the donation to rejected with the failing panels
// in the notes, then releases its appointment and request. The release only
// runs on the first rejection so a repeated call cannot reopen a request
// that has since been reassigned.
func (e *Engine) RejectForLabFailure(ctx context.Context, id uuid.UUID, performedBy string, failedPanels []string) (*Donation, error) {
	ctx, span := e.startSpan(ctx, "Engine.RejectForLabFailure", id,
		attribute.StringSlice("donation.failed_panels", failedPanels))
	defer span.End()

	d, eff, err := e.move(ctx, id, StageRejected, performedBy, LabFailureNotes(failedPanels))
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	if eff.firstEntry {
		e.releaseAssignment(ctx, d, failedPanels)
	}
	return d, nil
}

// RecordLabTests stores lt and acts on its outcome in a single write: a pass
// moves the donation to ready-storage, a failure rejects it, a pending
// result only stores the payload. Only a completed collection accepts
// results, so once one outcome has moved the donation on, later submissions
// are refused instead of overwriting the payload the stage was decided on.
func (e *Engine) RecordLabTests(ctx context.Context, id uuid.UUID, performedBy string, lt LabTests) (*Donation, LabOutcome, []string, error) {
	ctx, span := e.startSpan(ctx, "Engine.RecordLabTests", id)
	defer span.End()

	if performedBy == "" {
		return nil, "", nil, fmt.Errorf("%w: performed_by is required", ErrValidation)
	}
	if lt.TestedBy == "" {
		lt.TestedBy = performedBy
	}
	outcome, failed := lt.Outcome()

	var (
		eff    entryEffects
		target Stage
	)
	switch outcome {
	case LabPassed:
		target = StageReadyStorage
	case LabFailed:
		target = StageRejected
	}

	d, err := e.update(ctx, id, func(d *Donation, now time.Time) error {
		if d.Closed() {
			return fmt.Errorf("%w: status is %s", ErrDonationClosed, d.Status)
		}
		if d.Stage != StageCompleted {
			return fmt.Errorf("%w: stage is %s", ErrLabTestsNotAllowed, d.Stage)
		}
		stored := lt
		if stored.TestedAt == nil {
			stored.TestedAt = timePtr(now)
		}
		d.LabTests = &stored
		d.appendHistory("Lab tests recorded", performedBy, "", now)

		switch target {
		case StageReadyStorage:
			eff = applyTransition(d, target, e.organizationType(ctx, d.OrganizationID), performedBy, "Lab tests passed", now)
		case StageRejected:
			eff = applyTransition(d, target, OrgTypeUnknown, performedBy, LabFailureNotes(failed), now)
		}
		return nil
	})
	if err != nil {
		e.metrics.IncTransitionError(errorReason(err))
		recordSpanError(span, err)
		return nil, "", nil, err
	}

	log := e.logger.Info().Str("donation_id", id.String()).Str("outcome", string(outcome)).Str("performed_by", performedBy)
	if target != "" {
		e.metrics.ObserveTransition(string(StageCompleted), string(target))
		log = log.Str("to", string(target)).Str("status", string(d.Status))
	}
	log.Msg("lab tests recorded")

	switch {
	case eff.fulfill:
		e.autoFulfill(ctx, d)
	case target == StageRejected && eff.firstEntry:
		e.releaseAssignment(ctx, d, failed)
	}
	return d, outcome, failed, nil
}

// AddHistoryEntry appends a free-form entry without touching anything else.
func (e *Engine) AddHistoryEntry(ctx context.Context, id uuid.UUID, action, performedBy, notes string) (*Donation, error) {
	ctx, span := e.startSpan(ctx, "Engine.AddHistoryEntry", id)
	defer span.End()

	if strings.TrimSpace(action) == "" {
		return nil, fmt.Errorf("%w: action is required", ErrValidation)
	}
	if performedBy == "" {
		return nil, fmt.Errorf("%w: performed_by is required", ErrValidation)
	}

	d, err := e.update(ctx, id, func(d *Donation, now time.Time) error {
		d.appendHistory(action, performedBy, notes, now)
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return d, nil
}

// Apply runs mutate and appends a history entry in the same write. It is
// used for payload updates that do not change the stage.
func (e *Engine) Apply(ctx context.Context, id uuid.UUID, performedBy, action, notes string, mutate Mutation) (*Donation, error) {
	ctx, span := e.startSpan(ctx, "Engine.Apply", id, attribute.String("donation.action", action))
	defer span.End()

	if performedBy == "" {
		return nil, fmt.Errorf("%w: performed_by is required", ErrValidation)
	}

	d, err := e.update(ctx, id, func(d *Donation, now time.Time) error {
		if d.Closed() {
			return fmt.Errorf("%w: status is %s", ErrDonationClosed, d.Status)
		}
		if err := mutate(d, now); err != nil {
			return err
		}
		d.appendHistory(action, performedBy, notes, now)
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return d, nil
}

// Abort closes an active donation. The stage is left as is.
func (e *Engine) Abort(ctx context.Context, id uuid.UUID, performedBy, reason string) (*Donation, error) {
	ctx, span := e.startSpan(ctx, "Engine.Abort", id)
	defer span.End()

	if performedBy == "" {
		return nil, fmt.Errorf("%w: performed_by is required", ErrValidation)
	}

	d, err := e.update(ctx, id, func(d *Donation, now time.Time) error {
		if d.Status != StatusActive {
			return fmt.Errorf("%w: status is %s", ErrDonationClosed, d.Status)
		}
		d.Status = StatusAborted
		d.appendHistory("Donation aborted", performedBy, reason, now)
		return nil
	})
	if err != nil {
		e.metrics.IncTransitionError(errorReason(err))
		recordSpanError(span, err)
		return nil, err
	}
	e.logger.Info().Str("donation_id", id.String()).Str("performed_by", performedBy).Msg("donation aborted")
	return d, nil
}

func (e *Engine) move(ctx context.Context, id uuid.UUID, target Stage, performedBy, notes string) (*Donation, entryEffects, error) {
	var eff entryEffects
	if _, err := ParseStage(string(target)); err != nil {
		return nil, eff, err
	}
	if performedBy == "" {
		return nil, eff, fmt.Errorf("%w: performed_by is required", ErrValidation)
	}

	var from Stage
	d, err := e.update(ctx, id, func(d *Donation, now time.Time) error {
		if err := checkTransition(d, target); err != nil {
			return err
		}
		from = d.Stage
		orgType := OrgTypeUnknown
		if target == StageReadyStorage && d.Stage != target {
			orgType = e.organizationType(ctx, d.OrganizationID)
		}
		eff = applyTransition(d, target, orgType, performedBy, notes, now)
		return nil
	})
	if err != nil {
		e.metrics.IncTransitionError(errorReason(err))
		return nil, entryEffects{}, err
	}

	e.metrics.ObserveTransition(string(from), string(target))
	e.logger.Info().
		Str("donation_id", id.String()).
		Str("from", string(from)).
		Str("to", string(target)).
		Str("status", string(d.Status)).
		Str("performed_by", performedBy).
		Msg("donation stage changed")
	return d, eff, nil
}

// update is the locked read-modify-write cycle every operation goes through.
// The mutation always runs against a fresh copy, so a retry after a version
// conflict re-evaluates it on the latest state.
func (e *Engine) update(ctx context.Context, id uuid.UUID, fn Mutation) (*Donation, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveMutation(time.Since(start)) }()

	release, err := e.locker.Acquire(ctx, "donation:"+id.String())
	if err != nil {
		return nil, fmt.Errorf("lock donation %s: %w", id, err)
	}
	defer release()

	for attempt := 0; ; attempt++ {
		current, err := e.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		if err := fn(next, e.now()); err != nil {
			return nil, err
		}

		err = e.repo.Save(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= e.maxRetries {
			return nil, err
		}
		e.metrics.IncVersionConflict()
		e.logger.Debug().Str("donation_id", id.String()).Int("attempt", attempt+1).Msg("version conflict, retrying")
	}
}

func (e *Engine) organizationType(ctx context.Context, orgID uuid.UUID) OrgType {
	if e.orgs == nil {
		return OrgTypeUnknown
	}
	t, err := e.orgs.GetOrganizationType(ctx, orgID)
	if err != nil {
		e.logger.Warn().Err(err).Str("organization_id", orgID.String()).Msg("organization type lookup failed, treating unit as used")
		return OrgTypeUnknown
	}
	return t
}

func (e *Engine) autoFulfill(ctx context.Context, d *Donation) {
	if e.fulfiller == nil {
		return
	}
	var completedAt time.Time
	if d.CompletionDate != nil {
		completedAt = *d.CompletionDate
	}
	if err := e.fulfiller.AutoFulfillRequest(ctx, d.ID, d.AppointmentID, completedAt); err != nil {
		e.logger.Warn().Err(err).Str("donation_id", d.ID.String()).Msg("auto-fulfill failed")
	}
}

func (e *Engine) releaseAssignment(ctx context.Context, d *Donation, failedPanels []string) {
	if e.fulfiller == nil {
		return
	}
	if err := e.fulfiller.ReleaseAssignment(ctx, d.ID, d.AppointmentID, failedPanels); err != nil {
		e.logger.Warn().Err(err).Str("donation_id", d.ID.String()).Msg("release assignment failed")
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, id uuid.UUID, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("donation.id", id.String()))
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// LabFailureNotes renders the history note for a failed lab result.
func LabFailureNotes(failedPanels []string) string {
	return "Lab tests failed: " + strings.Join(failedPanels, ", ")
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrDonationClosed):
		return "closed"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrLabTestsNotAllowed):
		return "lab_tests_not_allowed"
	case errors.Is(err, ErrInvalidStage), errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
