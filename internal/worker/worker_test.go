package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Domenick1991/livesession/internal/apperrors"
	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/Domenick1991/livesession/internal/repository"
	"github.com/Domenick1991/livesession/internal/service/payment"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Reconcile(ctx context.Context, reservationID string, recapture bool) (*payment.Outcome, error) {
	args := m.Called(ctx, reservationID, recapture)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Outcome), args.Error(1)
}

type MockSubscriber struct {
	mock.Mock
}

func (m *MockSubscriber) Subscribe(ctx context.Context, subject, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	args := m.Called(ctx, subject, durable, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.Closer), args.Error(1)
}

type nopCloser struct{ closed bool }

func (c *nopCloser) Close() error {
	c.closed = true
	return nil
}

func seedSession(t *testing.T, store *repository.MemoryStore, id string, status domain.SessionStatus, payout domain.PayoutStatus, withReservation bool) {
	t.Helper()
	session := &domain.LiveSession{ID: id, Status: status, InstructorID: "inst-1", PayoutStatus: payout}
	var res *domain.SessionReservation
	if withReservation {
		resID := "res-" + id
		session.ReservationID = &resID
		res = &domain.SessionReservation{ID: resID, SessionID: id, StudentID: "stud-1"}
		res.SetAuthorizationStatus(domain.AuthorizationAuthorized)
	}
	require.NoError(t, store.CreateSession(context.Background(), session, res))
}

func TestSweeper_ReconcilesStaleFailures(t *testing.T) {
	store := repository.NewMemoryStore()
	seedSession(t, store, "failed", domain.SessionStatusCompleted, domain.PayoutStatusFailed, true)
	seedSession(t, store, "pending", domain.SessionStatusCancelled, domain.PayoutStatusPending, true)
	seedSession(t, store, "captured", domain.SessionStatusCompleted, domain.PayoutStatusCaptured, true)
	seedSession(t, store, "live", domain.SessionStatusInProgress, domain.PayoutStatusNone, true)
	seedSession(t, store, "nohandle", domain.SessionStatusCompleted, domain.PayoutStatusFailed, true)

	payments := &MockReconciler{}
	payments.On("Reconcile", mock.Anything, "res-failed", false).Return(&payment.Outcome{Reason: "AUTHORIZED"}, nil)
	payments.On("Reconcile", mock.Anything, "res-pending", false).Return(nil, errors.New("processor down"))
	payments.On("Reconcile", mock.Anything, "res-nohandle", false).
		Return(nil, apperrors.New(apperrors.CodeInvalidArgument, "no handle"))

	sweeper := NewSweeper(store, payments, time.Minute, 10, zerolog.Nop())
	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }

	report, err := sweeper.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 1, Skipped: 1, Failed: 1}, report)
	payments.AssertExpectations(t)
	payments.AssertNotCalled(t, "Reconcile", mock.Anything, "res-captured", mock.Anything)
	payments.AssertNotCalled(t, "Reconcile", mock.Anything, "res-live", mock.Anything)
}

func TestSweeper_IgnoresFreshRecords(t *testing.T) {
	store := repository.NewMemoryStore()
	seedSession(t, store, "failed", domain.SessionStatusCompleted, domain.PayoutStatusFailed, true)
	payments := &MockReconciler{}

	report, err := NewSweeper(store, payments, time.Hour, 10, zerolog.Nop()).Sweep(context.Background())

	require.NoError(t, err)
	assert.Zero(t, report.Checked)
	payments.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewSweeper(repository.NewMemoryStore(), &MockReconciler{}, time.Minute, 10, zerolog.Nop()).Run(ctx, time.Hour)

	assert.NoError(t, err)
}

func TestTolerant(t *testing.T) {
	h := Tolerant(func(context.Context, []byte) error { return errors.New("smtp down") }, zerolog.Nop())
	assert.NoError(t, h(context.Background(), nil))
}

func TestConsumeSubscription(t *testing.T) {
	sub := &MockSubscriber{}
	closer := &nopCloser{}
	sub.On("Subscribe", mock.Anything, "sessions.notifications", "notifier", mock.Anything).Return(closer, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ConsumeSubscription(ctx, sub, "sessions.notifications", "notifier", func(context.Context, []byte) error { return nil })

	require.NoError(t, err)
	assert.True(t, closer.closed)
	sub.AssertExpectations(t)
}
