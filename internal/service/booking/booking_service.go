package booking

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
	"github.com/Domenick1991/livesession/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type BookingUseCase interface {
	BookSession(ctx context.Context, actor domain.Actor, input BookSessionInput) (*Booking, error)
}

type BookSessionInput struct {
	InstructorID   string          `json:"instructorId"`
	ScheduledStart time.Time       `json:"scheduledStart"`
	ScheduledEnd   time.Time       `json:"scheduledEnd"`
	AgreedAmount   decimal.Decimal `json:"agreedAmount"`
	Currency       string          `json:"currency"`
}

// Booking is what the student gets back. PaymentHandle and ClientSecret drive the
// external payment step; the handle is bound to the reservation only on confirmation.
type Booking struct {
	Session       *domain.LiveSession
	Reservation   *domain.SessionReservation
	PaymentHandle string
	ClientSecret  string
}

type BookingService struct {
	store          repository.SessionStore
	gateway        gateway.PaymentGateway
	publisher      *events.Publisher
	logger         zerolog.Logger
	gatewayTimeout time.Duration
	newID          func() string
}

type BookingServiceOption func(*BookingService)

func WithPublisher(p *events.Publisher) BookingServiceOption {
	return func(s *BookingService) {
		s.publisher = p
	}
}

func WithLogger(l zerolog.Logger) BookingServiceOption {
	return func(s *BookingService) {
		s.logger = l
	}
}

func WithGatewayTimeout(d time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		s.gatewayTimeout = d
	}
}

func NewBookingService(store repository.SessionStore, gw gateway.PaymentGateway, opts ...BookingServiceOption) *BookingService {
	service := &BookingService{
		store:          store,
		gateway:        gw,
		gatewayTimeout: 10 * time.Second,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

func (s *BookingService) BookSession(ctx context.Context, actor domain.Actor, input BookSessionInput) (*Booking, error) {
	if actor.Role != domain.RoleStudent {
		return nil, apperrors.New(apperrors.CodeForbidden, "only students can book sessions")
	}
	if err := validate(actor, &input); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
	}

	session := &domain.LiveSession{
		ID:             s.newID(),
		Status:         domain.SessionStatusScheduled,
		InstructorID:   input.InstructorID,
		ScheduledStart: input.ScheduledStart.UTC(),
		ScheduledEnd:   input.ScheduledEnd.UTC(),
		PayoutStatus:   domain.PayoutStatusNone,
	}

	if input.AgreedAmount.IsZero() {
		if err := s.store.CreateSession(ctx, session, nil); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		s.publisher.Emit(ctx, events.NewSessionEvent(events.SessionBooked, session, nil, ""))
		return &Booking{Session: session}, nil
	}

	reservation := &domain.SessionReservation{
		ID:           s.newID(),
		SessionID:    session.ID,
		StudentID:    actor.ID,
		AgreedAmount: input.AgreedAmount,
		Currency:     input.Currency,
	}
	session.ReservationID = &reservation.ID

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	auth, err := s.gateway.Authorize(callCtx, gateway.AuthorizeRequest{
		Amount:        input.AgreedAmount,
		Currency:      input.Currency,
		CaptureMethod: gateway.CaptureManual,
		Reference:     reservation.ID,
	})
	cancel()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePaymentGateway, "could not authorize payment: "+err.Error(), err)
	}

	// Only confirmAuthorization may mark the hold usable.
	status := domain.AuthorizationPendingMethod
	if auth.Status == domain.AuthorizationPendingConfirmation {
		status = domain.AuthorizationPendingConfirmation
	}
	reservation.SetAuthorizationStatus(status)
	reservation.IssuedHandle = &auth.Handle

	if err := s.store.CreateSession(ctx, session, reservation); err != nil {
		if cerr := s.gateway.CancelAuthorization(context.WithoutCancel(ctx), auth.Handle); cerr != nil {
			s.logger.Error().Err(cerr).
				Str("reservation_id", reservation.ID).
				Msg("could not void authorization after failed booking")
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("reservation_id", reservation.ID).
		Str("amount", input.AgreedAmount.StringFixed(2)).
		Str("currency", input.Currency).
		Msg("session booked")
	s.publisher.Emit(ctx, events.NewSessionEvent(events.SessionBooked, session, reservation, ""))

	return &Booking{
		Session:       session,
		Reservation:   reservation,
		PaymentHandle: auth.Handle,
		ClientSecret:  auth.ClientSecret,
	}, nil
}

func validate(actor domain.Actor, input *BookSessionInput) error {
	input.InstructorID = strings.TrimSpace(input.InstructorID)
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))

	switch {
	case input.InstructorID == "":
		return errors.New("instructorId is required")
	case input.InstructorID == actor.ID:
		return errors.New("cannot book a session with yourself")
	case input.ScheduledStart.IsZero() || input.ScheduledEnd.IsZero():
		return errors.New("scheduledStart and scheduledEnd are required")
	case !input.ScheduledEnd.After(input.ScheduledStart):
		return errors.New("scheduledEnd must be after scheduledStart")
	case input.AgreedAmount.IsNegative():
		return errors.New("agreedAmount must not be negative")
	case !input.AgreedAmount.Equal(input.AgreedAmount.Round(2)):
		return errors.New("agreedAmount has more than two decimal places")
	case !validCurrency(input.Currency):
		return errors.New("currency must be a three-letter ISO 4217 code")
	}
	return nil
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

var _ BookingUseCase = (*BookingService)(nil)
