// Package lifecycle is the only writer of LiveSession.status. Canonical and legacy
// routes both end up in Service.Transition.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/livesession/internal/apperrors"
	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/Domenick1991/livesession/internal/events"
	"github.com/Domenick1991/livesession/internal/metrics"
	"github.com/Domenick1991/livesession/internal/repository"
	"github.com/Domenick1991/livesession/internal/service/payment"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ReasonAlreadyCompleted = "already_completed"
	ReasonAlreadyCancelled = "already_cancelled"
)

type UseCase interface {
	Transition(ctx context.Context, req TransitionRequest) (*Result, error)
	Start(ctx context.Context, sessionID string, actor domain.Actor, payload domain.StartPayload) (*Result, error)
	End(ctx context.Context, sessionID string, actor domain.Actor, payload domain.CompletionPayload) (*Result, error)
	Cancel(ctx context.Context, sessionID string, actor domain.Actor, payload domain.CancellationPayload) (*Result, error)
}

type Guard interface {
	CanMutate(actor domain.Actor, session *domain.LiveSession) bool
}

// TransitionRequest asks to move a session into Target. Target may be left empty, in
// which case the payload decides; a mismatch between the two is rejected.
type TransitionRequest struct {
	SessionID string
	Actor     domain.Actor
	Target    domain.SessionStatus
	Payload   domain.TransitionPayload
}

// Result is the session as written plus, for terminal targets, what the payment
// follow-up did. A failed follow-up never turns a committed transition into an error.
type Result struct {
	Session  *domain.LiveSession
	Payment  *payment.Outcome
	Repeated bool
}

func (r *Result) PaymentCaptured() bool {
	return r != nil && r.Payment != nil && r.Payment.Captured
}

func (r *Result) PaymentReason() string {
	if r == nil || r.Payment == nil {
		return ""
	}
	return r.Payment.Reason
}

type Service struct {
	store     repository.SessionStore
	guard     Guard
	payments  payment.CaptureProtocol
	publisher *events.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Service)

func WithPublisher(p *events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store repository.SessionStore, guard Guard, payments payment.CaptureProtocol, opts ...Option) *Service {
	s := &Service{
		store:    store,
		guard:    guard,
		payments: payments,
		tracer:   otel.Tracer("github.com/Domenick1991/livesession/internal/service/lifecycle"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Start(ctx context.Context, sessionID string, actor domain.Actor, payload domain.StartPayload) (*Result, error) {
	return s.Transition(ctx, TransitionRequest{SessionID: sessionID, Actor: actor, Payload: payload})
}

func (s *Service) End(ctx context.Context, sessionID string, actor domain.Actor, payload domain.CompletionPayload) (*Result, error) {
	return s.Transition(ctx, TransitionRequest{SessionID: sessionID, Actor: actor, Payload: payload})
}

func (s *Service) Cancel(ctx context.Context, sessionID string, actor domain.Actor, payload domain.CancellationPayload) (*Result, error) {
	return s.Transition(ctx, TransitionRequest{SessionID: sessionID, Actor: actor, Payload: payload})
}

func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "Lifecycle.Transition", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("session.target", string(req.Target)),
	))
	defer span.End()

	res, err := s.transition(ctx, req)
	target := string(req.Target)
	if req.Payload != nil {
		target = string(req.Payload.Target())
	}
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.Transition(target, string(apperrors.CodeOf(err)))
	case res.Repeated:
		s.metrics.Transition(target, "repeated")
	default:
		s.metrics.Transition(target, "ok")
	}
	return res, err
}

func (s *Service) transition(ctx context.Context, req TransitionRequest) (*Result, error) {
	if req.Payload == nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "transition payload is required")
	}
	target := req.Payload.Target()
	if req.Target != "" && req.Target != target {
		return nil, apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("payload is for %s, not %s", target, req.Target))
	}

	for attempt := 0; ; attempt++ {
		session, err := s.store.GetSession(ctx, req.SessionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.Wrap(apperrors.CodeNotFound, "session not found", err)
			}
			return nil, fmt.Errorf("load session %s: %w", req.SessionID, err)
		}
		if s.guard == nil || !s.guard.CanMutate(req.Actor, session) {
			return nil, apperrors.New(apperrors.CodeForbidden, "actor may not change this session")
		}

		if session.Status == target && target.Terminal() {
			return s.repeat(ctx, session)
		}
		if !domain.CanTransition(session.Status, target) {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidTransition,
				fmt.Sprintf("cannot move session from %s to %s", session.Status, target),
				map[string]string{"from": string(session.Status), "to": string(target)})
		}
		if err := req.Payload.Validate(); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
		}

		var reservation *domain.SessionReservation
		if session.HasReservation() {
			if reservation, err = s.store.GetReservation(ctx, *session.ReservationID); err != nil {
				return nil, fmt.Errorf("load reservation %s: %w", *session.ReservationID, err)
			}
		}
		if target == domain.SessionStatusCompleted && reservation != nil && !reservation.AuthorizationStatus.Confirmed() {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidTransition,
				"session cannot complete before its payment authorization is confirmed",
				map[string]string{"authorization_status": string(reservation.AuthorizationStatus)})
		}

		next := s.apply(session, reservation, req.Payload)
		err = s.store.UpdateSession(ctx, next, session.Version)
		if errors.Is(err, repository.ErrVersionConflict) {
			if attempt == 0 {
				s.logger.Debug().Str("session_id", session.ID).Msg("version conflict, re-reading session")
				continue
			}
			return nil, apperrors.Wrap(apperrors.CodeConflict, "session was modified concurrently, retry the request", err)
		}
		if err != nil {
			return nil, fmt.Errorf("write session %s: %w", session.ID, err)
		}

		s.logger.Info().
			Str("session_id", next.ID).
			Str("from", string(session.Status)).
			Str("to", string(next.Status)).
			Str("actor_id", req.Actor.ID).
			Msg("session transitioned")
		s.publisher.Emit(ctx, events.NewSessionEvent(transitionEvent(target), next, reservation, reasonOf(next)))

		return s.followUp(ctx, next)
	}
}

// apply builds the record to write. Status and the transition's fields change together
// in one conditional write.
func (s *Service) apply(session *domain.LiveSession, reservation *domain.SessionReservation, payload domain.TransitionPayload) *domain.LiveSession {
	next := session.Clone()
	now := s.now().UTC()
	next.Status = payload.Target()

	switch p := payload.(type) {
	case domain.StartPayload:
		next.ActualStart = &now
		if p.InstructorNotes != nil {
			next.InstructorNotes = p.InstructorNotes
		}
	case domain.CompletionPayload:
		summary, duration := p.Summary, p.ActualDuration
		next.ActualEnd = &now
		next.ActualDuration = &duration
		next.Summary = &summary
		if p.InstructorNotes != nil {
			next.InstructorNotes = p.InstructorNotes
		}
		if len(p.SessionArtifacts) > 0 {
			next.SessionArtifacts = append([]string(nil), p.SessionArtifacts...)
		}
	case domain.CancellationPayload:
		next.CancellationReason = p.Reason
	}

	if next.Status.Terminal() && reservation != nil {
		if reservation.AuthorizationStatus == domain.AuthorizationAuthorized {
			next.PayoutStatus = domain.PayoutStatusPending
		} else if payout, settled := domain.PayoutStatusFor(reservation.AuthorizationStatus); settled {
			next.PayoutStatus = payout
		}
	}
	return next
}

// followUp runs capture or release for a freshly written terminal state. Only the
// caller that won the write gets here.
func (s *Service) followUp(ctx context.Context, session *domain.LiveSession) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	var (
		outcome *payment.Outcome
		err     error
	)
	switch session.Status {
	case domain.SessionStatusCompleted:
		outcome, err = s.payments.CaptureIfPending(ctx, session)
	case domain.SessionStatusCancelled:
		outcome, err = s.payments.ReleaseIfPending(ctx, session)
	default:
		return &Result{Session: session}, nil
	}
	if err != nil {
		return s.followUpFailed(ctx, session, err), nil
	}
	if outcome.Session != nil {
		session = outcome.Session
	}
	return &Result{Session: session, Payment: outcome}, nil
}

// followUpFailed records an unexpected follow-up error as a failed payout so the
// session shows up for reconciliation. The transition itself stays committed.
func (s *Service) followUpFailed(ctx context.Context, session *domain.LiveSession, cause error) *Result {
	s.logger.Error().Err(cause).
		Str("session_id", session.ID).
		Str("status", string(session.Status)).
		Msg("payment follow-up failed")

	outcome := &payment.Outcome{Failed: true, Reason: cause.Error()}
	if !session.HasReservation() {
		return &Result{Session: session, Payment: outcome}
	}

	cur, err := s.store.GetSession(ctx, session.ID)
	if err != nil {
		return &Result{Session: session, Payment: outcome}
	}
	if cur.PayoutStatus == domain.PayoutStatusPending {
		next := cur.Clone()
		next.PayoutStatus = domain.PayoutStatusFailed
		if err := s.store.UpdateSession(ctx, next, cur.Version); err != nil {
			s.logger.Error().Err(err).Str("session_id", session.ID).Msg("could not mark payout failed")
			return &Result{Session: cur, Payment: outcome}
		}
		cur = next
	}
	return &Result{Session: cur, Payment: outcome}
}

// repeat answers a request for the terminal state the session is already in. It never
// writes the session; a failed capture is retried only through reconciliation, which
// reads the processor state first.
func (s *Service) repeat(ctx context.Context, session *domain.LiveSession) (*Result, error) {
	result := &Result{Session: session, Repeated: true}

	switch {
	case !session.HasReservation():
		result.Payment = &payment.Outcome{Reason: payment.ReasonNoReservation, Session: session}
		return result, nil
	case session.Status == domain.SessionStatusCompleted && session.PayoutStatus == domain.PayoutStatusFailed:
		outcome, err := s.payments.Reconcile(context.WithoutCancel(ctx), *session.ReservationID, true)
		if err != nil {
			s.logger.Error().Err(err).Str("session_id", session.ID).Msg("reconcile on repeated completion failed")
			result.Payment = &payment.Outcome{Failed: true, Reason: err.Error(), Session: session}
			return result, nil
		}
		if outcome.Session != nil {
			result.Session = outcome.Session
		}
		result.Payment = outcome
		return result, nil
	case session.PayoutStatus == domain.PayoutStatusCaptured:
		result.Payment = &payment.Outcome{Reason: payment.ReasonAlreadyCaptured, Session: session}
	case session.PayoutStatus == domain.PayoutStatusPending:
		result.Payment = &payment.Outcome{Reason: payment.ReasonInProgress, Session: session}
	case session.Status == domain.SessionStatusCancelled:
		result.Payment = &payment.Outcome{Reason: ReasonAlreadyCancelled, Session: session}
	default:
		result.Payment = &payment.Outcome{Reason: ReasonAlreadyCompleted, Session: session}
	}
	return result, nil
}

func transitionEvent(target domain.SessionStatus) events.Type {
	switch target {
	case domain.SessionStatusInProgress:
		return events.SessionStarted
	case domain.SessionStatusCompleted:
		return events.SessionCompleted
	default:
		return events.SessionCancelled
	}
}

func reasonOf(s *domain.LiveSession) string {
	if s.CancellationReason != nil {
		return *s.CancellationReason
	}
	return ""
}

var _ UseCase = (*Service)(nil)
