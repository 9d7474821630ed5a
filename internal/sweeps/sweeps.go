// Package sweeps holds the periodic expiry workers: offer windows that
// elapsed and payment links that lapsed. Both sweeps are idempotent, so an
// overlapping or retried run is harmless.
package sweeps

import (
	"context"
	"time"

	"github.com/riverqueue/river"
)

const sweepBatchSize = 200

// OfferWindowSweepArgs triggers one pass over jobs whose offer window has
// elapsed and over pending offers past their expiry.
type OfferWindowSweepArgs struct{}

func (OfferWindowSweepArgs) Kind() string { return "sweep_offer_windows" }

func (OfferWindowSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByPeriod: 30 * time.Second}}
}

// JobExpirer is the job-side expiry surface.
type JobExpirer interface {
	ExpireDueOfferWindows(ctx context.Context, limit int) error
}

// OfferExpirer marks pending offers past expiry as expired.
type OfferExpirer interface {
	ExpireSweep(ctx context.Context) error
}

type OfferWindowSweepWorker struct {
	river.WorkerDefaults[OfferWindowSweepArgs]
	jobs   JobExpirer
	offers OfferExpirer
}

func NewOfferWindowSweepWorker(jobs JobExpirer, offers OfferExpirer) *OfferWindowSweepWorker {
	return &OfferWindowSweepWorker{jobs: jobs, offers: offers}
}

func (w *OfferWindowSweepWorker) Work(ctx context.Context, _ *river.Job[OfferWindowSweepArgs]) error {
	if err := w.offers.ExpireSweep(ctx); err != nil {
		return err
	}
	return w.jobs.ExpireDueOfferWindows(ctx, sweepBatchSize)
}

// PaymentWindowSweepArgs triggers one pass over pending payment links whose
// window has lapsed, reverting their jobs and freeing the technicians.
type PaymentWindowSweepArgs struct{}

func (PaymentWindowSweepArgs) Kind() string { return "sweep_payment_windows" }

func (PaymentWindowSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByPeriod: 30 * time.Second}}
}

// PaymentExpirer expires lapsed pending payment links.
type PaymentExpirer interface {
	ExpireSweep(ctx context.Context, limit int) error
}

type PaymentWindowSweepWorker struct {
	river.WorkerDefaults[PaymentWindowSweepArgs]
	payments PaymentExpirer
}

func NewPaymentWindowSweepWorker(payments PaymentExpirer) *PaymentWindowSweepWorker {
	return &PaymentWindowSweepWorker{payments: payments}
}

func (w *PaymentWindowSweepWorker) Work(ctx context.Context, _ *river.Job[PaymentWindowSweepArgs]) error {
	return w.payments.ExpireSweep(ctx, sweepBatchSize)
}
