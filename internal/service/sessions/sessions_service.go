package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/livesession/internal/apperrors"
	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/Domenick1991/livesession/internal/repository"
)

type SessionUseCase interface {
	Get(ctx context.Context, actor domain.Actor, id string) (*View, error)
	List(ctx context.Context, actor domain.Actor, input ListInput) ([]domain.LiveSession, error)
}

type Guard interface {
	CanView(actor domain.Actor, session *domain.LiveSession, reservation *domain.SessionReservation) bool
}

type View struct {
	Session     *domain.LiveSession
	Reservation *domain.SessionReservation
}

// ListInput selects the actor's sessions. As picks the side of the booking to list;
// it defaults to the actor's own role.
type ListInput struct {
	As       domain.Role
	Statuses []domain.SessionStatus
	Limit    int
}

type SessionService struct {
	store repository.SessionStore
	guard Guard
}

func NewSessionService(store repository.SessionStore, guard Guard) *SessionService {
	return &SessionService{store: store, guard: guard}
}

// Get hides sessions the actor may not see behind NotFound.
func (s *SessionService) Get(ctx context.Context, actor domain.Actor, id string) (*View, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.CodeNotFound, "session not found", err)
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var reservation *domain.SessionReservation
	if session.HasReservation() {
		reservation, err = s.store.GetReservation(ctx, *session.ReservationID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load reservation %s: %w", *session.ReservationID, err)
		}
	}

	if !s.guard.CanView(actor, session, reservation) {
		return nil, apperrors.New(apperrors.CodeNotFound, "session not found")
	}
	return &View{Session: session, Reservation: reservation}, nil
}

func (s *SessionService) List(ctx context.Context, actor domain.Actor, input ListInput) ([]domain.LiveSession, error) {
	for _, st := range input.Statuses {
		if !st.Valid() {
			return nil, apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("unknown status %q", st))
		}
	}

	filter := repository.SessionFilter{Statuses: input.Statuses, Limit: input.Limit}
	as := input.As
	if as == "" {
		as = actor.Role
	}
	switch as {
	case domain.RoleInstructor:
		filter.InstructorID = actor.ID
	case domain.RoleStudent:
		filter.StudentID = actor.ID
	case domain.RoleAdmin:
		if !actor.IsAdmin() {
			return nil, apperrors.New(apperrors.CodeForbidden, "only administrators can list all sessions")
		}
	default:
		return nil, apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("unknown role %q", as))
	}

	list, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return list, nil
}

var _ SessionUseCase = (*SessionService)(nil)
