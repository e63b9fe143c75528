package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/livesession/internal/apperrors"
	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/Domenick1991/livesession/internal/gateway"
	"github.com/Domenick1991/livesession/internal/repository"
	"github.com/Domenick1991/livesession/internal/service/guard"
	"github.com/Domenick1991/livesession/internal/service/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProtocol struct {
	mock.Mock
}

func (m *MockProtocol) CaptureIfPending(ctx context.Context, session *domain.LiveSession) (*payment.Outcome, error) {
	args := m.Called(ctx, session)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Outcome), args.Error(1)
}

func (m *MockProtocol) ReleaseIfPending(ctx context.Context, session *domain.LiveSession) (*payment.Outcome, error) {
	args := m.Called(ctx, session)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Outcome), args.Error(1)
}

func (m *MockProtocol) ConfirmAuthorization(ctx context.Context, actor domain.Actor, reservationID, handle string) (*domain.SessionReservation, error) {
	args := m.Called(ctx, actor, reservationID, handle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionReservation), args.Error(1)
}

func (m *MockProtocol) Reconcile(ctx context.Context, reservationID string, recapture bool) (*payment.Outcome, error) {
	args := m.Called(ctx, reservationID, recapture)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Outcome), args.Error(1)
}

// conflictingStore fails the first n session writes as if another request got there first.
type conflictingStore struct {
	*repository.MemoryStore
	mu sync.Mutex
	n  int
}

func (s *conflictingStore) UpdateSession(ctx context.Context, session *domain.LiveSession, expectedVersion int64) error {
	s.mu.Lock()
	if s.n > 0 {
		s.n--
		s.mu.Unlock()
		return repository.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.MemoryStore.UpdateSession(ctx, session, expectedVersion)
}

var (
	instructor = domain.Actor{ID: "inst-1", Role: domain.RoleInstructor}
	student    = domain.Actor{ID: "stud-1", Role: domain.RoleStudent}
	admin      = domain.Actor{ID: "ops", Role: domain.RoleAdmin}
)

func completion() domain.CompletionPayload {
	return domain.CompletionPayload{Summary: "covered recursion", ActualDuration: 55}
}

type fixture struct {
	store   repository.SessionStore
	sandbox *gateway.Sandbox
	svc     *Service
}

func newFixture(store repository.SessionStore, opts ...payment.Option) *fixture {
	sandbox := gateway.NewSandbox(false)
	g := guard.New()
	return &fixture{
		store:   store,
		sandbox: sandbox,
		svc:     NewService(store, g, payment.NewProtocol(store, sandbox, g, opts...)),
	}
}

// seed creates a session; a non-empty auth status also creates its reservation.
func (f *fixture) seed(t *testing.T, id string, status domain.SessionStatus, auth domain.AuthorizationStatus) *domain.LiveSession {
	t.Helper()
	session := &domain.LiveSession{
		ID:             id,
		Status:         status,
		InstructorID:   instructor.ID,
		ScheduledStart: time.Now().Add(time.Hour),
		ScheduledEnd:   time.Now().Add(2 * time.Hour),
		PayoutStatus:   domain.PayoutStatusNone,
	}
	var res *domain.SessionReservation
	if auth != "" {
		resID := "res-" + id
		session.ReservationID = &resID
		res = &domain.SessionReservation{
			ID:           resID,
			SessionID:    id,
			StudentID:    student.ID,
			AgreedAmount: decimal.NewFromInt(60),
			Currency:     "usd",
		}
		res.SetAuthorizationStatus(auth)
		if auth.Confirmed() {
			handle := "auth_" + id
			res.AuthorizationHandle = &handle
			f.sandbox.SetStatus(handle, auth)
		}
	}
	require.NoError(t, f.store.CreateSession(context.Background(), session, res))
	return session
}

func (f *fixture) session(t *testing.T, id string) *domain.LiveSession {
	t.Helper()
	s, err := f.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (f *fixture) reservation(t *testing.T, id string) *domain.SessionReservation {
	t.Helper()
	r, err := f.store.GetReservation(context.Background(), "res-"+id)
	require.NoError(t, err)
	return r
}

func TestEnd_FreeSession(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	f.seed(t, "s1", domain.SessionStatusScheduled, "")

	res, err := f.svc.End(context.Background(), "s1", instructor, completion())

	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, res.Session.Status)
	assert.False(t, res.PaymentCaptured())
	assert.Equal(t, payment.ReasonNoReservation, res.PaymentReason())
	assert.Nil(t, res.Session.ActualStart)
	require.NotNil(t, res.Session.ActualEnd)
	assert.Equal(t, 55, *res.Session.ActualDuration)
	assert.Equal(t, "covered recursion", *res.Session.Summary)
}

func TestEnd_CapturesAuthorizedReservation(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	f.seed(t, "s2", domain.SessionStatusInProgress, domain.AuthorizationAuthorized)

	res, err := f.svc.End(context.Background(), "s2", instructor, completion())

	require.NoError(t, err)
	assert.True(t, res.PaymentCaptured())
	assert.Equal(t, domain.SessionStatusCompleted, res.Session.Status)
	assert.Equal(t, domain.PayoutStatusCaptured, res.Session.PayoutStatus)

	assert.Equal(t, domain.PayoutStatusCaptured, f.session(t, "s2").PayoutStatus)
	r := f.reservation(t, "s2")
	assert.Equal(t, domain.PaymentStatusPaid, r.PaymentStatus)
	assert.Equal(t, domain.AuthorizationCaptured, r.AuthorizationStatus)
}

func TestEnd_CaptureTimeoutStillCompletes(t *testing.T) {
	f := newFixture(repository.NewMemoryStore(), payment.WithGatewayTimeout(20*time.Millisecond))
	f.seed(t, "s3", domain.SessionStatusInProgress, domain.AuthorizationAuthorized)
	f.sandbox.FailNext("capture", context.DeadlineExceeded)

	res, err := f.svc.End(context.Background(), "s3", instructor, completion())

	require.NoError(t, err)
	assert.False(t, res.PaymentCaptured())
	assert.True(t, res.Payment.Failed)
	stored := f.session(t, "s3")
	assert.Equal(t, domain.SessionStatusCompleted, stored.Status)
	assert.Equal(t, domain.PayoutStatusFailed, stored.PayoutStatus)
}

func TestEnd_RepeatAfterFailedCaptureReconcilesFirst(t *testing.T) {
	f := newFixture(repository.NewMemoryStore(), payment.WithGatewayTimeout(20*time.Millisecond))
	f.seed(t, "s3", domain.SessionStatusInProgress, domain.AuthorizationAuthorized)
	f.sandbox.FailNext("capture", context.DeadlineExceeded)
	_, err := f.svc.End(context.Background(), "s3", instructor, completion())
	require.NoError(t, err)
	f.sandbox.FailNext("capture", nil)

	res, err := f.svc.End(context.Background(), "s3", instructor, completion())

	require.NoError(t, err)
	assert.True(t, res.Repeated)
	assert.True(t, res.PaymentCaptured())
	assert.Equal(t, 1, f.sandbox.Calls("get_status"))
	assert.Equal(t, 2, f.sandbox.Calls("capture"))
	assert.Equal(t, domain.PayoutStatusCaptured, f.session(t, "s3").PayoutStatus)
}

func TestEnd_RepeatAfterCaptureUpstreamDoesNotRecapture(t *testing.T) {
	f := newFixture(repository.NewMemoryStore(), payment.WithGatewayTimeout(20*time.Millisecond))
	f.seed(t, "s3", domain.SessionStatusInProgress, domain.AuthorizationAuthorized)
	f.sandbox.FailNext("capture", context.DeadlineExceeded)
	_, err := f.svc.End(context.Background(), "s3", instructor, completion())
	require.NoError(t, err)
	// the processor went through after all
	f.sandbox.SetStatus("auth_s3", domain.AuthorizationCaptured)

	res, err := f.svc.End(context.Background(), "s3", instructor, completion())

	require.NoError(t, err)
	assert.False(t, res.PaymentCaptured())
	assert.Equal(t, 1, f.sandbox.Calls("capture"))
	assert.Equal(t, domain.PayoutStatusCaptured, f.session(t, "s3").PayoutStatus)
	assert.Equal(t, domain.PaymentStatusPaid, f.reservation(t, "s3").PaymentStatus)
}

func TestStart_ForbiddenForNonInstructor(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	f.seed(t, "s1", domain.SessionStatusScheduled, "")

	_, err := f.svc.Start(context.Background(), "s1", student, domain.StartPayload{})

	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	stored := f.session(t, "s1")
	assert.Equal(t, domain.SessionStatusScheduled, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestStart_AdminMayAct(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	f.seed(t, "s1", domain.SessionStatusScheduled, "")
	notes := "warm-up first"

	res, err := f.svc.Start(context.Background(), "s1", admin, domain.StartPayload{InstructorNotes: &notes})

	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusInProgress, res.Session.Status)
	assert.NotNil(t, res.Session.ActualStart)
	assert.Equal(t, notes, *res.Session.InstructorNotes)
	assert.Nil(t, res.Payment)
}

func TestCancel_ReleasesAuthorizedHold(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	f.seed(t, "s5", domain.SessionStatusScheduled, domain.AuthorizationAuthorized)
	reason := "instructor unavailable"

	res, err := f.svc.Cancel(context.Background(), "s5", instructor, domain.CancellationPayload{Reason: &reason})

	require.NoError(t, err)
	assert.True(t, res.Payment.Released)
	assert.Equal(t, domain.SessionStatusCancelled, res.Session.Status)
	assert.Equal(t, reason, *res.Session.CancellationReason)
	assert.Equal(t, 1, f.sandbox.Calls("cancel"))
	assert.Equal(t, domain.AuthorizationReleased, f.reservation(t, "s5").AuthorizationStatus)
}

func TestTransition_IllegalMoves(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	f.seed(t, "started", domain.SessionStatusInProgress, "")
	f.seed(t, "done", domain.SessionStatusCompleted, "")
	f.seed(t, "gone", domain.SessionStatusCancelled, "")

	_, err := f.svc.Start(context.Background(), "started", instructor, domain.StartPayload{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = f.svc.Start(context.Background(), "done", instructor, domain.StartPayload{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = f.svc.Cancel(context.Background(), "done", instructor, domain.CancellationPayload{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = f.svc.End(context.Background(), "gone", instructor, completion())
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestTransition_RepeatedTerminalIsIdempotent(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	f.seed(t, "s2", domain.SessionStatusInProgress, domain.AuthorizationAuthorized)

	first, err := f.svc.End(context.Background(), "s2", instructor, completion())
	require.NoError(t, err)
	second, err := f.svc.End(context.Background(), "s2", instructor, completion())
	require.NoError(t, err)

	assert.True(t, first.PaymentCaptured())
	assert.True(t, second.Repeated)
	assert.False(t, second.PaymentCaptured())
	assert.Equal(t, payment.ReasonAlreadyCaptured, second.PaymentReason())
	assert.Equal(t, first.Session.Version, second.Session.Version)
	assert.Equal(t, 1, f.sandbox.Calls("capture"))
}

func TestTransition_RepeatWhileCaptureInFlightReportsInProgress(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	session := f.seed(t, "s9", domain.SessionStatusInProgress, domain.AuthorizationAuthorized)
	completed := session.Clone()
	completed.Status = domain.SessionStatusCompleted
	completed.PayoutStatus = domain.PayoutStatusPending
	require.NoError(t, f.store.UpdateSession(context.Background(), completed, session.Version))

	res, err := f.svc.End(context.Background(), "s9", instructor, completion())

	require.NoError(t, err)
	assert.True(t, res.Repeated)
	assert.Equal(t, payment.ReasonInProgress, res.PaymentReason())
	assert.Zero(t, f.sandbox.Calls("capture"))
	assert.Equal(t, domain.PayoutStatusPending, f.session(t, "s9").PayoutStatus)
}

func TestTransition_RepeatedCancelIsIdempotent(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	f.seed(t, "s5", domain.SessionStatusScheduled, "")

	_, err := f.svc.Cancel(context.Background(), "s5", instructor, domain.CancellationPayload{})
	require.NoError(t, err)
	res, err := f.svc.Cancel(context.Background(), "s5", instructor, domain.CancellationPayload{})

	require.NoError(t, err)
	assert.True(t, res.Repeated)
	assert.Equal(t, domain.SessionStatusCancelled, res.Session.Status)
}

func TestTransition_RepeatStillChecksPermission(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	f.seed(t, "done", domain.SessionStatusCompleted, "")

	_, err := f.svc.End(context.Background(), "done", student, completion())

	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestEnd_RejectsUnconfirmedAuthorization(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	f.seed(t, "s6", domain.SessionStatusInProgress, domain.AuthorizationPendingMethod)

	_, err := f.svc.End(context.Background(), "s6", instructor, completion())

	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, domain.SessionStatusInProgress, f.session(t, "s6").Status)
}

func TestEnd_SettledReservationIsNotRecaptured(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	f.seed(t, "s7", domain.SessionStatusInProgress, domain.AuthorizationFailed)

	res, err := f.svc.End(context.Background(), "s7", instructor, completion())

	require.NoError(t, err)
	assert.False(t, res.PaymentCaptured())
	assert.Equal(t, string(domain.AuthorizationFailed), res.PaymentReason())
	assert.Equal(t, domain.PayoutStatusFailed, f.session(t, "s7").PayoutStatus)
	assert.Zero(t, f.sandbox.Calls("capture"))
}

func TestTransition_PayloadChecks(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	f.seed(t, "s1", domain.SessionStatusScheduled, "")

	_, err := f.svc.Transition(context.Background(), TransitionRequest{
		SessionID: "s1",
		Actor:     instructor,
		Target:    domain.SessionStatusCancelled,
		Payload:   domain.StartPayload{},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = f.svc.Transition(context.Background(), TransitionRequest{SessionID: "s1", Actor: instructor})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = f.svc.End(context.Background(), "s1", instructor, domain.CompletionPayload{Summary: " ", ActualDuration: 10})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	assert.Equal(t, domain.SessionStatusScheduled, f.session(t, "s1").Status)
}

func TestTransition_NotFound(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())

	_, err := f.svc.Start(context.Background(), "missing", instructor, domain.StartPayload{})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTransition_RetriesOnceOnConflict(t *testing.T) {
	store := &conflictingStore{MemoryStore: repository.NewMemoryStore(), n: 1}
	f := newFixture(store)
	f.seed(t, "s1", domain.SessionStatusScheduled, "")

	res, err := f.svc.Start(context.Background(), "s1", instructor, domain.StartPayload{})

	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusInProgress, res.Session.Status)
}

func TestTransition_SurfacesSecondConflict(t *testing.T) {
	store := &conflictingStore{MemoryStore: repository.NewMemoryStore(), n: 2}
	f := newFixture(store)
	f.seed(t, "s1", domain.SessionStatusScheduled, "")

	_, err := f.svc.Start(context.Background(), "s1", instructor, domain.StartPayload{})

	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, domain.SessionStatusScheduled, f.session(t, "s1").Status)
}

func TestEnd_ConcurrentCallsCaptureOnce(t *testing.T) {
	f := newFixture(repository.NewMemoryStore())
	f.seed(t, "s2", domain.SessionStatusInProgress, domain.AuthorizationAuthorized)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		results []*Result
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.End(context.Background(), "s2", instructor, completion())
			if err != nil {
				assert.ErrorIs(t, err, apperrors.ErrConflict)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			if !res.Repeated {
				winners++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, f.sandbox.Calls("capture"))
	for _, res := range results {
		assert.Equal(t, domain.SessionStatusCompleted, res.Session.Status)
		if res.Repeated {
			assert.Contains(t, []string{payment.ReasonAlreadyCaptured, payment.ReasonInProgress}, res.PaymentReason())
		}
	}
	assert.Equal(t, domain.PayoutStatusCaptured, f.session(t, "s2").PayoutStatus)
}

func TestEnd_FollowUpErrorMarksPayoutFailed(t *testing.T) {
	store := repository.NewMemoryStore()
	payments := &MockProtocol{}
	svc := NewService(store, guard.New(), payments)
	resID := "res-s8"
	session := &domain.LiveSession{
		ID:            "s8",
		Status:        domain.SessionStatusInProgress,
		InstructorID:  instructor.ID,
		ReservationID: &resID,
		PayoutStatus:  domain.PayoutStatusNone,
	}
	handle := "auth_s8"
	res := &domain.SessionReservation{ID: resID, SessionID: "s8", StudentID: student.ID, AuthorizationHandle: &handle}
	res.SetAuthorizationStatus(domain.AuthorizationAuthorized)
	require.NoError(t, store.CreateSession(context.Background(), session, res))
	payments.On("CaptureIfPending", mock.Anything, mock.Anything).Return(nil, errors.New("store unavailable"))

	out, err := svc.End(context.Background(), "s8", instructor, completion())

	require.NoError(t, err)
	assert.True(t, out.Payment.Failed)
	assert.Equal(t, domain.SessionStatusCompleted, out.Session.Status)
	assert.Equal(t, domain.PayoutStatusFailed, out.Session.PayoutStatus)
	payments.AssertExpectations(t)
}
