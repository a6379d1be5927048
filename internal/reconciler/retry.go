package reconciler

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/meterline/billing-engine/pkg/db/models"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
)

// SweepReport summarizes one pass over unprocessed events.
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ProcessFailedEvents replays journaled events whose handlers failed, in
// receipt order so related events for the same object stay sequenced.
// Events that keep failing accumulate attempts until the configured cap
// drops them out of the sweep.
func (s *service) ProcessFailedEvents(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start)) }()

	rows, err := s.repo.ListUnprocessedBillingEvents(ctx, s.cfg.RetryBatchSize, s.cfg.MaxRetryAttempts)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unprocessed events")
	}

	report := &SweepReport{Scanned: len(rows)}
	var errs error
	for i := range rows {
		row := rows[i]
		if err := s.retryEvent(ctx, &row, report); err != nil {
			errs = multierr.Append(errs, err)
		}
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
	}
	return report, errs
}

func (s *service) retryEvent(ctx context.Context, row *models.BillingEvent, report *SweepReport) error {
	ctx = s.logg.WithEventID(ctx, row.ExternalEventID)

	kind, handled := ParseEventKind(row.Type)
	if !handled {
		// Journaled before the handled set shrank; drain it.
		report.Skipped++
		s.metrics.IncSkipped()
		return s.repo.MarkBillingEventProcessed(ctx, row.ID, time.Now().UTC())
	}

	if err := s.applyEvent(ctx, kind, row); err != nil {
		report.Failed++
		s.metrics.IncFailed(row.Type)
		if recordErr := s.repo.RecordBillingEventFailure(ctx, row.ID, err.Error()); recordErr != nil {
			s.logg.Error(ctx, "record billing event failure", recordErr)
		}
		return err
	}

	if err := s.repo.MarkBillingEventProcessed(ctx, row.ID, time.Now().UTC()); err != nil {
		report.Failed++
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark billing event processed")
	}
	report.Succeeded++
	s.metrics.IncProcessed(row.Type)
	return nil
}
