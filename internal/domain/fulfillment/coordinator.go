package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/bloodnet/bloodnet/internal/domain/eligibility"
	"github.com/bloodnet/bloodnet/internal/platform/metrics"
)

const tracerName = "github.com/bloodnet/bloodnet/internal/domain/fulfillment"

const (
	pathSuccess = "success"
	pathFailure = "failure"
)

// Coordinator propagates a donation's terminal lab outcome to the linked
// appointment, request and donor. Every step is best-effort: a failed step
// does not stop the ones after it, because the donation itself has already
// been committed.
type Coordinator struct {
	appointments AppointmentGateway
	requests     RequestGateway
	donors       DonorGateway
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	now          func() time.Time
}

type Option func(*Coordinator)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(appts AppointmentGateway, reqs RequestGateway, donors DonorGateway, opts ...Option) *Coordinator {
	c := &Coordinator{
		appointments: appts,
		requests:     reqs,
		donors:       donors,
		logger:       zerolog.Nop(),
		tracer:       nooptrace.NewTracerProvider().Tracer(tracerName),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// AutoFulfillRequest runs the success path for a donation that reached
// storage at completedAt. A zero completedAt means now. Re-running it is
// harmless: every step checks its target state first, so a replay only
// redoes the writes an earlier run lost. Step failures are logged and
// counted, then returned joined so callers can tell a clean pass from a
// partial one.
func (c *Coordinator) AutoFulfillRequest(ctx context.Context, donationID uuid.UUID, appointmentID *uuid.UUID, completedAt time.Time) error {
	_, err := c.autoFulfill(ctx, donationID, appointmentID, completedAt)
	return err
}

func (c *Coordinator) autoFulfill(ctx context.Context, donationID uuid.UUID, appointmentID *uuid.UUID, completedAt time.Time) (int, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.AutoFulfillRequest",
		trace.WithAttributes(attribute.String("donation.id", donationID.String())))
	defer span.End()

	log := c.logger.With().Str("donation_id", donationID.String()).Str("path", pathSuccess).Logger()
	if appointmentID == nil {
		log.Debug().Msg("donation has no appointment, nothing to fulfill")
		c.metrics.IncFulfillmentStep(pathSuccess, "appointment", "skipped")
		return 0, nil
	}
	log = log.With().Str("appointment_id", appointmentID.String()).Logger()
	if completedAt.IsZero() {
		completedAt = c.now()
	}

	appt, err := c.loadAppointment(ctx, *appointmentID, pathSuccess, log)
	if appt == nil {
		return 0, err
	}

	var run stepRun
	if appt.Status == AppointmentCollected {
		c.metrics.IncFulfillmentStep(pathSuccess, "appointment", "skipped")
	} else {
		status := AppointmentCollected
		err := c.appointments.Update(ctx, appt.ID, AppointmentUpdate{Status: &status, CompletedAt: &completedAt})
		run.add(c.record(log, pathSuccess, "appointment", err, "appointment marked collected"))
	}

	if appt.RequestID == nil {
		log.Debug().Msg("appointment has no request")
		return run.result()
	}
	log = log.With().Str("request_id", appt.RequestID.String()).Logger()

	req, err := c.requests.GetByID(ctx, *appt.RequestID)
	if err != nil {
		run.add(c.record(log, pathSuccess, "request", err, ""))
		return run.result()
	}
	if req.Status == RequestFulfilled {
		c.metrics.IncFulfillmentStep(pathSuccess, "request", "skipped")
		log.Debug().Msg("request already fulfilled")
	} else {
		status := RequestFulfilled
		err := c.requests.Update(ctx, req.ID, RequestUpdate{Status: &status, FulfilledAt: &completedAt})
		run.add(c.record(log, pathSuccess, "request", err, "request fulfilled"))
	}

	a := req.AssignedTo
	if a == nil || a.Type != AssigneeDonor || a.DonorID == nil {
		c.metrics.IncFulfillmentStep(pathSuccess, "donor", "skipped")
		return run.result()
	}
	run.add(c.recordDonation(ctx, log.With().Str("donor_id", a.DonorID.String()).Logger(), *a.DonorID, completedAt))
	return run.result()
}

// recordDonation moves the donor's eligibility dates to completedAt unless
// the stored last donation is already at or after it.
func (c *Coordinator) recordDonation(ctx context.Context, log zerolog.Logger, donorID uuid.UUID, completedAt time.Time) stepResult {
	last, err := c.donors.LastDonationDate(ctx, donorID)
	if err != nil {
		return c.record(log, pathSuccess, "donor", err, "")
	}
	// stores keep microseconds
	if last != nil && !last.Before(completedAt.Truncate(time.Microsecond)) {
		c.metrics.IncFulfillmentStep(pathSuccess, "donor", "skipped")
		return stepResult{}
	}
	next := eligibility.NextEligibleDate(&completedAt)
	err = c.donors.UpdateEligibility(ctx, donorID, EligibilityUpdate{
		LastDonationDate: completedAt,
		NextEligibleDate: *next,
		Eligible:         eligibility.IsEligible(&completedAt, c.now()),
	})
	return c.record(log, pathSuccess, "donor", err, "donor eligibility updated")
}

// ReleaseAssignment runs the failure path: the appointment is marked
// rejected and the request goes back to the open pool while it is still
// assigned to the appointment's donor. A request handed to someone else in
// the meantime is left alone, so replays are safe.
func (c *Coordinator) ReleaseAssignment(ctx context.Context, donationID uuid.UUID, appointmentID *uuid.UUID, failedPanels []string) error {
	_, err := c.release(ctx, donationID, appointmentID, failedPanels)
	return err
}

func (c *Coordinator) release(ctx context.Context, donationID uuid.UUID, appointmentID *uuid.UUID, failedPanels []string) (int, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.ReleaseAssignment",
		trace.WithAttributes(
			attribute.String("donation.id", donationID.String()),
			attribute.StringSlice("donation.failed_panels", failedPanels),
		))
	defer span.End()

	log := c.logger.With().Str("donation_id", donationID.String()).Str("path", pathFailure).Logger()
	if appointmentID == nil {
		c.metrics.IncFulfillmentStep(pathFailure, "appointment", "skipped")
		return 0, nil
	}
	log = log.With().Str("appointment_id", appointmentID.String()).Logger()

	appt, err := c.loadAppointment(ctx, *appointmentID, pathFailure, log)
	if appt == nil {
		return 0, err
	}

	var run stepRun
	if appt.Status == AppointmentRejected {
		c.metrics.IncFulfillmentStep(pathFailure, "appointment", "skipped")
		log.Debug().Msg("appointment already rejected")
	} else {
		now := c.now()
		status := AppointmentRejected
		notes := "Lab tests failed: " + strings.Join(failedPanels, ", ")
		err := c.appointments.Update(ctx, appt.ID, AppointmentUpdate{Status: &status, CompletedAt: &now, Notes: &notes})
		run.add(c.record(log, pathFailure, "appointment", err, "appointment rejected"))
	}

	if appt.RequestID == nil {
		return run.result()
	}
	log = log.With().Str("request_id", appt.RequestID.String()).Logger()

	reopenNotes := fmt.Sprintf("Reopened: donation %s failed lab tests (%s)", donationID, strings.Join(failedPanels, ", "))
	reopened, err := c.requests.ReopenIfAssigned(ctx, *appt.RequestID, appt.DonorID, reopenNotes)
	switch {
	case err != nil:
		run.add(c.record(log, pathFailure, "request", err, ""))
	case !reopened:
		c.metrics.IncFulfillmentStep(pathFailure, "request", "skipped")
		log.Debug().Msg("request no longer assigned to this donor, left as is")
	default:
		run.add(c.record(log, pathFailure, "request", nil, "request reopened"))
	}
	return run.result()
}

// stepResult is the outcome of one write: wrote is false for skipped steps.
type stepResult struct {
	wrote bool
	err   error
}

type stepRun struct {
	writes int
	errs   []error
}

func (r *stepRun) add(s stepResult) {
	if s.err != nil {
		r.errs = append(r.errs, s.err)
		return
	}
	if s.wrote {
		r.writes++
	}
}

func (r *stepRun) result() (int, error) {
	return r.writes, errors.Join(r.errs...)
}

func (c *Coordinator) loadAppointment(ctx context.Context, id uuid.UUID, path string, log zerolog.Logger) (*Appointment, error) {
	appt, err := c.appointments.GetByID(ctx, id)
	if err == nil {
		return appt, nil
	}
	if errors.Is(err, ErrNotFound) {
		log.Warn().Msg("linked appointment not found")
		c.metrics.IncFulfillmentStep(path, "appointment", "skipped")
		return nil, nil
	}
	return nil, c.record(log, path, "appointment", err, "").err
}

func (c *Coordinator) record(log zerolog.Logger, path, step string, err error, msg string) stepResult {
	if err != nil {
		log.Error().Err(err).Str("step", step).Msg("fulfillment step failed")
		c.metrics.IncFulfillmentStep(path, step, "error")
		return stepResult{err: fmt.Errorf("%s %s: %w", path, step, err)}
	}
	log.Info().Msg(msg)
	c.metrics.IncFulfillmentStep(path, step, "ok")
	return stepResult{wrote: true}
}
