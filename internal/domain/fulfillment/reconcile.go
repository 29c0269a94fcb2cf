package fulfillment

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bloodnet/bloodnet/internal/domain/donation"
	"github.com/bloodnet/bloodnet/internal/platform/metrics"
	"github.com/bloodnet/bloodnet/pkg/pagination"
)

// DonationSource lists donations page by page.
type DonationSource interface {
	List(ctx context.Context, f donation.Filter, limit, offset int) ([]*donation.Donation, int, error)
}

// ReconcileReport summarises one reconciliation pass. Success and Failure
// count donations whose path completed without a step error; Repaired counts
// the donations among them that needed at least one write.
type ReconcileReport struct {
	Scanned  int64 `json:"scanned"`
	Success  int64 `json:"success_path"`
	Failure  int64 `json:"failure_path"`
	Repaired int64 `json:"repaired"`
	Skipped  int64 `json:"skipped"`
	Failures int64 `json:"failures"`
}

// Reconciler re-drives the fulfillment protocol for donations whose
// secondary updates may have been lost. Both paths are idempotent, so a
// pass over already consistent data changes nothing.
type Reconciler struct {
	source      DonationSource
	coord       *Coordinator
	concurrency int
	pageSize    int
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	scope       Scope
}

// Scope runs fn with whatever per-unit resources the caller needs, such as
// a dedicated tenant connection. Workers run concurrently, so each call must
// hand fn its own connection.
type Scope func(ctx context.Context, fn func(ctx context.Context) error) error

func unscoped(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

func NewReconciler(source DonationSource, coord *Coordinator, concurrency int, logger zerolog.Logger, m *metrics.Metrics) *Reconciler {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Reconciler{
		source:      source,
		coord:       coord,
		concurrency: concurrency,
		pageSize:    100,
		logger:      logger,
		metrics:     m,
		scope:       unscoped,
	}
}

// WithScope wraps the handling of every donation in scope.
func (r *Reconciler) WithScope(scope Scope) *Reconciler {
	if scope != nil {
		r.scope = scope
	}
	return r
}

// Run walks ready-storage and rejected donations that are linked to an
// appointment and replays the matching path for each.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, stage := range []donation.Stage{donation.StageReadyStorage, donation.StageRejected} {
		for p := pagination.First(r.pageSize); ; p = p.Next() {
			page, total, err := r.source.List(gctx, donation.Filter{Stage: stage}, p.Limit, p.Offset)
			if err != nil {
				_ = g.Wait()
				return rep, err
			}
			for _, d := range page {
				d := d
				atomic.AddInt64(&rep.Scanned, 1)
				g.Go(func() error {
					err := r.scope(gctx, func(ctx context.Context) error {
						r.reconcile(ctx, d, &rep)
						return nil
					})
					if err != nil {
						r.fail(d, err, &rep)
					}
					return gctx.Err()
				})
			}
			if len(page) == 0 || !p.HasNext(total) {
				break
			}
		}
	}

	err := g.Wait()
	r.logger.Info().
		Int64("scanned", rep.Scanned).
		Int64("success_path", rep.Success).
		Int64("failure_path", rep.Failure).
		Int64("repaired", rep.Repaired).
		Int64("skipped", rep.Skipped).
		Int64("failures", rep.Failures).
		Msg("reconciliation finished")
	return rep, err
}

func (r *Reconciler) reconcile(ctx context.Context, d *donation.Donation, rep *ReconcileReport) {
	if d.AppointmentID == nil {
		atomic.AddInt64(&rep.Skipped, 1)
		r.metrics.IncReconciled("skipped")
		return
	}

	var writes int
	switch d.Stage {
	case donation.StageReadyStorage:
		var completedAt time.Time
		if d.CompletionDate != nil {
			completedAt = *d.CompletionDate
		}
		n, err := r.coord.autoFulfill(ctx, d.ID, d.AppointmentID, completedAt)
		if err != nil {
			r.fail(d, err, rep)
			return
		}
		writes = n
		atomic.AddInt64(&rep.Success, 1)
	case donation.StageRejected:
		if d.LabTests == nil {
			atomic.AddInt64(&rep.Skipped, 1)
			r.metrics.IncReconciled("skipped")
			return
		}
		outcome, failed := d.LabTests.Outcome()
		if outcome != donation.LabFailed {
			atomic.AddInt64(&rep.Skipped, 1)
			r.metrics.IncReconciled("skipped")
			return
		}
		n, err := r.coord.release(ctx, d.ID, d.AppointmentID, failed)
		if err != nil {
			r.fail(d, err, rep)
			return
		}
		writes = n
		atomic.AddInt64(&rep.Failure, 1)
	default:
		atomic.AddInt64(&rep.Skipped, 1)
		r.metrics.IncReconciled("skipped")
		return
	}
	if writes > 0 {
		atomic.AddInt64(&rep.Repaired, 1)
		r.metrics.IncReconciled("repaired")
		r.logger.Info().Str("donation_id", d.ID.String()).Int("writes", writes).Msg("donation repaired")
		return
	}
	r.metrics.IncReconciled("ok")
}

func (r *Reconciler) fail(d *donation.Donation, err error, rep *ReconcileReport) {
	atomic.AddInt64(&rep.Failures, 1)
	r.metrics.IncReconciled("error")
	r.logger.Error().Err(err).Str("donation_id", d.ID.String()).Msg("reconcile donation failed")
}
