// Package worker runs the background jobs: the payout reconciliation sweep and the
// notification consumer.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/livesession/internal/apperrors"
	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/Domenick1991/livesession/internal/repository"
	"github.com/Domenick1991/livesession/internal/service/payment"
	"github.com/rs/zerolog"
)

type Reconciler interface {
	Reconcile(ctx context.Context, reservationID string, recapture bool) (*payment.Outcome, error)
}

type SweepReport struct {
	Checked int
	Skipped int
	Failed  int
}

// Sweeper mirrors processor state onto terminal sessions whose payout is FAILED or has
// been PENDING for too long. It never captures; recapture stays an operator decision.
type Sweeper struct {
	store      repository.SessionStore
	payments   Reconciler
	staleAfter time.Duration
	batchSize  int
	logger     zerolog.Logger
	now        func() time.Time
}

func NewSweeper(store repository.SessionStore, payments Reconciler, staleAfter time.Duration, batchSize int, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:      store,
		payments:   payments,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	candidates, err := s.store.ListSessions(ctx, repository.SessionFilter{
		Statuses:      []domain.SessionStatus{domain.SessionStatusCompleted, domain.SessionStatusCancelled},
		PayoutStatus:  []domain.PayoutStatus{domain.PayoutStatusFailed, domain.PayoutStatusPending},
		UpdatedBefore: s.now().Add(-s.staleAfter),
		Limit:         s.batchSize,
	})
	if err != nil {
		return report, err
	}

	for _, session := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !session.HasReservation() {
			report.Skipped++
			continue
		}
		outcome, err := s.payments.Reconcile(ctx, *session.ReservationID, false)
		switch {
		case errors.Is(err, apperrors.ErrInvalidArgument):
			report.Skipped++
		case err != nil:
			report.Failed++
			s.logger.Error().Err(err).
				Str("session_id", session.ID).
				Str("reservation_id", *session.ReservationID).
				Msg("reconcile failed")
		default:
			report.Checked++
			s.logger.Debug().
				Str("session_id", session.ID).
				Str("reason", outcome.Reason).
				Msg("reconciled")
		}
	}
	return report, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			report, err := s.Sweep(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("reconciliation sweep error")
				continue
			}
			if report.Checked+report.Failed > 0 {
				s.logger.Info().
					Int("checked", report.Checked).
					Int("failed", report.Failed).
					Int("skipped", report.Skipped).
					Msg("reconciliation sweep done")
			}
		case <-ctx.Done():
			return nil
		}
	}
}
