// Package payment coordinates the authorize, confirm and capture/release steps
// against the payment processor and mirrors its state onto reservations.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/livesession/internal/apperrors"
	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/Domenick1991/livesession/internal/events"
	"github.com/Domenick1991/livesession/internal/gateway"
	"github.com/Domenick1991/livesession/internal/metrics"
	"github.com/Domenick1991/livesession/internal/repository"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	ReasonNoReservation   = "no_reservation"
	ReasonAlreadyCaptured = "already_captured"
	ReasonInProgress      = "payment_in_progress"
	ReasonMissingHandle   = "authorization_handle_missing"
)

type CaptureProtocol interface {
	CaptureIfPending(ctx context.Context, session *domain.LiveSession) (*Outcome, error)
	ReleaseIfPending(ctx context.Context, session *domain.LiveSession) (*Outcome, error)
	ConfirmAuthorization(ctx context.Context, actor domain.Actor, reservationID, handle string) (*domain.SessionReservation, error)
	Reconcile(ctx context.Context, reservationID string, recapture bool) (*Outcome, error)
}

type Locker interface {
	AcquirePaymentLock(ctx context.Context, reservationID string, ttl time.Duration) (string, bool, error)
	ReleasePaymentLock(ctx context.Context, reservationID, token string) error
}

type Guard interface {
	CanPay(actor domain.Actor, reservation *domain.SessionReservation) bool
}

// Outcome reports what a payment follow-up did. Failed is set when the processor
// rejected the call and payoutStatus was recorded as FAILED.
type Outcome struct {
	Captured    bool
	Released    bool
	Failed      bool
	Reason      string
	Session     *domain.LiveSession
	Reservation *domain.SessionReservation
}

type Protocol struct {
	store          repository.SessionStore
	gateway        gateway.PaymentGateway
	guard          Guard
	locker         Locker
	publisher      *events.Publisher
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	tracer         trace.Tracer
	gatewayTimeout time.Duration
	lockTTL        time.Duration
	staleAfter     time.Duration
	now            func() time.Time
}

type Option func(*Protocol)

func WithLocker(l Locker) Option {
	return func(p *Protocol) {
		p.locker = l
	}
}

func WithPublisher(pub *events.Publisher) Option {
	return func(p *Protocol) {
		p.publisher = pub
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Protocol) {
		p.metrics = m
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Protocol) {
		p.logger = l
	}
}

func WithGatewayTimeout(d time.Duration) Option {
	return func(p *Protocol) {
		p.gatewayTimeout = d
	}
}

func WithLockTTL(d time.Duration) Option {
	return func(p *Protocol) {
		p.lockTTL = d
	}
}

// WithStaleAfter sets how long a PENDING payout may sit before reconciliation treats
// the follow-up as interrupted.
func WithStaleAfter(d time.Duration) Option {
	return func(p *Protocol) {
		p.staleAfter = d
	}
}

func NewProtocol(store repository.SessionStore, gw gateway.PaymentGateway, guard Guard, opts ...Option) *Protocol {
	p := &Protocol{
		store:          store,
		gateway:        gw,
		guard:          guard,
		tracer:         otel.Tracer("github.com/Domenick1991/livesession/internal/service/payment"),
		gatewayTimeout: 10 * time.Second,
		lockTTL:        30 * time.Second,
		staleAfter:     10 * time.Minute,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Protocol) CaptureIfPending(ctx context.Context, session *domain.LiveSession) (*Outcome, error) {
	ctx, span := p.startSpan(ctx, "Payment.CaptureIfPending", session)
	defer span.End()

	if !session.HasReservation() {
		return &Outcome{Reason: ReasonNoReservation, Session: session}, nil
	}
	res, err := p.store.GetReservation(ctx, *session.ReservationID)
	if err != nil {
		return nil, fmt.Errorf("load reservation %s: %w", *session.ReservationID, err)
	}

	switch res.AuthorizationStatus {
	case domain.AuthorizationCaptured:
		session = p.syncPayout(ctx, session, res)
		return &Outcome{Reason: ReasonAlreadyCaptured, Session: session, Reservation: res}, nil
	case domain.AuthorizationAuthorized:
	default:
		p.logger.Info().
			Str("session_id", session.ID).
			Str("reservation_id", res.ID).
			Str("authorization_status", string(res.AuthorizationStatus)).
			Msg("capture skipped")
		session = p.syncPayout(ctx, session, res)
		return &Outcome{Reason: string(res.AuthorizationStatus), Session: session, Reservation: res}, nil
	}

	unlock, held, err := p.lock(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	if held {
		return &Outcome{Reason: ReasonInProgress, Session: session, Reservation: res}, nil
	}
	defer unlock()

	return p.capture(ctx, session, res)
}

func (p *Protocol) ReleaseIfPending(ctx context.Context, session *domain.LiveSession) (*Outcome, error) {
	ctx, span := p.startSpan(ctx, "Payment.ReleaseIfPending", session)
	defer span.End()

	if !session.HasReservation() {
		return &Outcome{Reason: ReasonNoReservation, Session: session}, nil
	}
	res, err := p.store.GetReservation(ctx, *session.ReservationID)
	if err != nil {
		return nil, fmt.Errorf("load reservation %s: %w", *session.ReservationID, err)
	}
	if res.AuthorizationStatus != domain.AuthorizationAuthorized {
		session = p.syncPayout(ctx, session, res)
		return &Outcome{Reason: string(res.AuthorizationStatus), Session: session, Reservation: res}, nil
	}

	unlock, held, err := p.lock(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	if held {
		return &Outcome{Reason: ReasonInProgress, Session: session, Reservation: res}, nil
	}
	defer unlock()

	return p.release(ctx, session, res)
}

func (p *Protocol) ConfirmAuthorization(ctx context.Context, actor domain.Actor, reservationID, handle string) (*domain.SessionReservation, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "authorization handle is required")
	}

	res, err := p.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, storeError(err, "reservation", reservationID)
	}
	if p.guard == nil || !p.guard.CanPay(actor, res) {
		return nil, apperrors.New(apperrors.CodeForbidden, "actor may not confirm this reservation")
	}

	if res.HasHandle() {
		if res.Handle() != handle {
			p.metrics.Payment("confirm", "already_confirmed")
			return nil, apperrors.WithMetadata(apperrors.CodeAlreadyConfirmed,
				"reservation is already bound to a different authorization",
				map[string]string{"reservation_id": res.ID})
		}
		if res.AuthorizationStatus.Confirmed() {
			p.metrics.Payment("confirm", "idempotent")
			return res, nil
		}
	}
	if !res.IssuedFor(handle) {
		p.metrics.Payment("confirm", "foreign_handle")
		p.logger.Warn().
			Str("reservation_id", res.ID).
			Str("actor_id", actor.ID).
			Msg("confirmation with an authorization not issued for the reservation")
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"authorization was not issued for this reservation",
			map[string]string{"reservation_id": res.ID})
	}

	status, err := p.getStatus(ctx, handle)
	if err != nil {
		p.metrics.Payment("confirm", "gateway_error")
		return nil, apperrors.Wrap(apperrors.CodePaymentGateway, "could not verify authorization: "+err.Error(), err)
	}

	next := res.Clone()
	next.AuthorizationHandle = &handle
	next.SetAuthorizationStatus(status)
	if err := p.store.UpdateReservation(ctx, next, res.Version); err != nil {
		return nil, storeError(err, "reservation", reservationID)
	}
	p.metrics.Payment("confirm", "ok")
	p.publisher.Emit(ctx, events.NewSessionEvent(events.AuthorizationConfirmed, nil, next, ""))

	if status == domain.AuthorizationAuthorized {
		p.releaseIfSessionCancelled(context.WithoutCancel(ctx), next)
	}
	return next, nil
}

// Reconcile re-reads the processor state of a reservation and mirrors it locally.
// With recapture it then captures (completed session) or releases (cancelled session)
// a hold that is still open remotely.
func (p *Protocol) Reconcile(ctx context.Context, reservationID string, recapture bool) (*Outcome, error) {
	res, err := p.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, storeError(err, "reservation", reservationID)
	}
	if !res.HasHandle() {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "reservation has no authorization handle to reconcile")
	}
	session, err := p.store.GetSession(ctx, res.SessionID)
	if err != nil {
		return nil, storeError(err, "session", res.SessionID)
	}

	ctx, span := p.startSpan(ctx, "Payment.Reconcile", session)
	defer span.End()

	stale := session.PayoutStatus == domain.PayoutStatusPending &&
		session.Status.Terminal() &&
		session.UpdatedAt.Before(p.now().Add(-p.staleAfter))

	// A PENDING payout that is not stale yet belongs to a follow-up that may still be
	// waiting on the processor.
	if recapture && session.PayoutStatus == domain.PayoutStatusPending && !stale {
		p.metrics.Payment("reconcile", "in_progress")
		return &Outcome{Reason: ReasonInProgress, Session: session, Reservation: res}, nil
	}

	unlock, held, err := p.lock(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	if held {
		return &Outcome{Reason: ReasonInProgress, Session: session, Reservation: res}, nil
	}
	defer unlock()

	remote, err := p.getStatus(ctx, res.Handle())
	if err != nil {
		p.metrics.Payment("reconcile", "gateway_error")
		return nil, apperrors.Wrap(apperrors.CodePaymentGateway, "could not read authorization status: "+err.Error(), err)
	}

	session, res, err = p.persist(ctx, session, res, func(s *domain.LiveSession, r *domain.SessionReservation) {
		r.SetAuthorizationStatus(remote)
		if payout, settled := domain.PayoutStatusFor(remote); settled {
			s.PayoutStatus = payout
		} else if stale {
			s.PayoutStatus = domain.PayoutStatusFailed
		}
	})
	if errors.Is(err, errSettled) {
		return p.settledOutcome(ctx, session, res), nil
	}
	if err != nil {
		return nil, storeError(err, "reservation", reservationID)
	}
	p.metrics.Payment("reconcile", "ok")
	p.logger.Info().
		Str("session_id", session.ID).
		Str("reservation_id", res.ID).
		Str("remote_status", string(remote)).
		Str("payout_status", string(session.PayoutStatus)).
		Msg("reservation reconciled")
	p.publisher.Emit(ctx, events.NewSessionEvent(events.PaymentReconciled, session, res, string(remote)))

	if recapture && remote == domain.AuthorizationAuthorized {
		switch session.Status {
		case domain.SessionStatusCompleted:
			return p.capture(ctx, session, res)
		case domain.SessionStatusCancelled:
			return p.release(ctx, session, res)
		}
	}
	return &Outcome{Reason: string(remote), Session: session, Reservation: res}, nil
}

// capture runs with the reservation lock held and res known to be AUTHORIZED.
func (p *Protocol) capture(ctx context.Context, session *domain.LiveSession, res *domain.SessionReservation) (*Outcome, error) {
	if !res.HasHandle() {
		return p.recordFailure(ctx, session, res, "capture", events.PaymentCaptureFailed, errors.New(ReasonMissingHandle))
	}

	callCtx, cancel := context.WithTimeout(ctx, p.gatewayTimeout)
	started := p.now()
	_, err := p.gateway.Capture(callCtx, res.Handle())
	cancel()
	p.metrics.ObserveGateway("capture", started)
	if err != nil {
		return p.recordFailure(ctx, session, res, "capture", events.PaymentCaptureFailed, err)
	}

	reservationID := res.ID
	session, res, err = p.persist(ctx, session, res, func(s *domain.LiveSession, r *domain.SessionReservation) {
		r.SetAuthorizationStatus(domain.AuthorizationCaptured)
		s.PayoutStatus = domain.PayoutStatusCaptured
	})
	if errors.Is(err, errSettled) {
		return p.settledOutcome(ctx, session, res), nil
	}
	if err != nil {
		// The processor holds the funds; reconciliation will mirror CAPTURED later.
		p.logger.Error().Err(err).Str("reservation_id", reservationID).Msg("capture succeeded but could not be recorded")
		return nil, fmt.Errorf("record capture of reservation %s: %w", reservationID, err)
	}

	p.metrics.Payment("capture", "ok")
	p.logger.Info().Str("session_id", session.ID).Str("reservation_id", res.ID).Msg("payment captured")
	p.publisher.Emit(ctx, events.NewSessionEvent(events.PaymentCaptured, session, res, ""))
	return &Outcome{Captured: true, Session: session, Reservation: res}, nil
}

func (p *Protocol) release(ctx context.Context, session *domain.LiveSession, res *domain.SessionReservation) (*Outcome, error) {
	if !res.HasHandle() {
		return p.recordFailure(ctx, session, res, "release", events.PaymentReleaseFailed, errors.New(ReasonMissingHandle))
	}

	callCtx, cancel := context.WithTimeout(ctx, p.gatewayTimeout)
	started := p.now()
	err := p.gateway.CancelAuthorization(callCtx, res.Handle())
	cancel()
	p.metrics.ObserveGateway("cancel", started)
	if err != nil {
		return p.recordFailure(ctx, session, res, "release", events.PaymentReleaseFailed, err)
	}

	reservationID := res.ID
	session, res, err = p.persist(ctx, session, res, func(s *domain.LiveSession, r *domain.SessionReservation) {
		r.SetAuthorizationStatus(domain.AuthorizationReleased)
		s.PayoutStatus = domain.PayoutStatusReleased
	})
	if errors.Is(err, errSettled) {
		return p.settledOutcome(ctx, session, res), nil
	}
	if err != nil {
		return nil, fmt.Errorf("record release of reservation %s: %w", reservationID, err)
	}

	p.metrics.Payment("release", "ok")
	p.logger.Info().Str("session_id", session.ID).Str("reservation_id", res.ID).Msg("payment released")
	p.publisher.Emit(ctx, events.NewSessionEvent(events.PaymentReleased, session, res, ""))
	return &Outcome{Released: true, Session: session, Reservation: res}, nil
}

// recordFailure marks the authorization and payout FAILED. A processor call that
// timed out is treated the same way: only reconciliation may conclude otherwise.
func (p *Protocol) recordFailure(ctx context.Context, session *domain.LiveSession, res *domain.SessionReservation, op string, evType events.Type, cause error) (*Outcome, error) {
	reason := cause.Error()
	p.metrics.Payment(op, "failed")
	p.logger.Error().Err(cause).
		Str("session_id", session.ID).
		Str("reservation_id", res.ID).
		Str("operation", op).
		Msg("payment processor call failed")

	reservationID := res.ID
	session, res, err := p.persist(ctx, session, res, func(s *domain.LiveSession, r *domain.SessionReservation) {
		r.SetAuthorizationStatus(domain.AuthorizationFailed)
		s.PayoutStatus = domain.PayoutStatusFailed
	})
	if errors.Is(err, errSettled) {
		p.logger.Warn().Str("reservation_id", reservationID).
			Str("authorization_status", string(res.AuthorizationStatus)).
			Msg("processor failure ignored for settled reservation")
		return p.settledOutcome(ctx, session, res), nil
	}
	if err != nil {
		return nil, fmt.Errorf("record %s failure of reservation %s: %w", op, reservationID, err)
	}

	p.publisher.Emit(ctx, events.NewSessionEvent(evType, session, res, reason))
	return &Outcome{Failed: true, Reason: reason, Session: session, Reservation: res}, nil
}

// errSettled is returned by persist together with the current records when the
// mutation would move a CAPTURED or RELEASED reservation to another status.
var errSettled = errors.New("reservation already settled")

// persist applies mutate to copies of both records and writes them in one conditional
// step. On a version race it reloads once and re-applies. A settled reservation
// never changes status.
func (p *Protocol) persist(ctx context.Context, session *domain.LiveSession, res *domain.SessionReservation, mutate func(*domain.LiveSession, *domain.SessionReservation)) (*domain.LiveSession, *domain.SessionReservation, error) {
	ctx = context.WithoutCancel(ctx)
	for attempt := 0; ; attempt++ {
		nextS, nextR := session.Clone(), res.Clone()
		mutate(nextS, nextR)
		if res.AuthorizationStatus.Settled() && nextR.AuthorizationStatus != res.AuthorizationStatus {
			return session, res, errSettled
		}
		err := p.store.UpdatePayment(ctx, nextS, session.Version, nextR, res.Version)
		if err == nil {
			return nextS, nextR, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt > 0 {
			return nil, nil, err
		}

		if session, err = p.store.GetSession(ctx, session.ID); err != nil {
			return nil, nil, err
		}
		if res, err = p.store.GetReservation(ctx, res.ID); err != nil {
			return nil, nil, err
		}
	}
}

func (p *Protocol) settledOutcome(ctx context.Context, session *domain.LiveSession, res *domain.SessionReservation) *Outcome {
	session = p.syncPayout(ctx, session, res)
	reason := string(res.AuthorizationStatus)
	if res.AuthorizationStatus == domain.AuthorizationCaptured {
		reason = ReasonAlreadyCaptured
	}
	return &Outcome{Reason: reason, Session: session, Reservation: res}
}

// syncPayout aligns the session payout with an already settled reservation. It repairs
// state left behind by an earlier interrupted follow-up; failures are only logged.
func (p *Protocol) syncPayout(ctx context.Context, session *domain.LiveSession, res *domain.SessionReservation) *domain.LiveSession {
	payout, settled := domain.PayoutStatusFor(res.AuthorizationStatus)
	if !settled || session.PayoutStatus == payout || !session.Status.Terminal() {
		return session
	}
	next := session.Clone()
	next.PayoutStatus = payout
	if err := p.store.UpdateSession(context.WithoutCancel(ctx), next, session.Version); err != nil {
		p.logger.Warn().Err(err).Str("session_id", session.ID).Msg("could not align payout status")
		return session
	}
	return next
}

func (p *Protocol) releaseIfSessionCancelled(ctx context.Context, res *domain.SessionReservation) {
	session, err := p.store.GetSession(ctx, res.SessionID)
	if err != nil || session.Status != domain.SessionStatusCancelled {
		return
	}
	if _, err := p.ReleaseIfPending(ctx, session); err != nil {
		p.logger.Error().Err(err).Str("reservation_id", res.ID).Msg("release after late confirmation failed")
	}
}

func (p *Protocol) getStatus(ctx context.Context, handle string) (domain.AuthorizationStatus, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.gatewayTimeout)
	defer cancel()
	started := p.now()
	status, err := p.gateway.GetStatus(callCtx, handle)
	p.metrics.ObserveGateway("get_status", started)
	return status, err
}

// lock returns held=true when another caller is already talking to the processor
// about this reservation. Without a locker the version guard alone applies.
func (p *Protocol) lock(ctx context.Context, reservationID string) (unlock func(), held bool, err error) {
	if p.locker == nil {
		return func() {}, false, nil
	}
	token, ok, err := p.locker.AcquirePaymentLock(ctx, reservationID, p.lockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("acquire payment lock: %w", err)
	}
	if !ok {
		return nil, true, nil
	}
	return func() {
		if err := p.locker.ReleasePaymentLock(context.WithoutCancel(ctx), reservationID, token); err != nil {
			p.logger.Warn().Err(err).Str("reservation_id", reservationID).Msg("failed to release payment lock")
		}
	}, false, nil
}

func (p *Protocol) startSpan(ctx context.Context, name string, session *domain.LiveSession) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{}
	if session != nil {
		attrs = append(attrs, attribute.String("session.id", session.ID))
	}
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func storeError(err error, kind, id string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, fmt.Sprintf("%s %s not found", kind, id), err)
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.Wrap(apperrors.CodeConflict, fmt.Sprintf("%s %s was modified concurrently", kind, id), err)
	default:
		return fmt.Errorf("%s %s: %w", kind, id, err)
	}
}

var _ CaptureProtocol = (*Protocol)(nil)
