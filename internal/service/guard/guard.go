// Package guard decides which actors may act on sessions and reservations.
// Every entry point goes through these predicates; handlers never compare ids themselves.
package guard

import "github.com/Domenick1991/livesession/internal/domain"

type Guard struct{}

func New() *Guard {
	return &Guard{}
}

// CanMutate reports whether actor may change the session's lifecycle state:
// the instructor of record or an administrator.
func (g *Guard) CanMutate(actor domain.Actor, session *domain.LiveSession) bool {
	if session == nil || actor.ID == "" {
		return false
	}
	return actor.IsAdmin() || actor.ID == session.InstructorID
}

// CanView additionally admits the student holding the session's reservation.
func (g *Guard) CanView(actor domain.Actor, session *domain.LiveSession, reservation *domain.SessionReservation) bool {
	if g.CanMutate(actor, session) {
		return true
	}
	return reservation != nil && actor.ID != "" && actor.ID == reservation.StudentID
}

// CanPay reports whether actor may complete the payment step of a reservation.
func (g *Guard) CanPay(actor domain.Actor, reservation *domain.SessionReservation) bool {
	if reservation == nil || actor.ID == "" {
		return false
	}
	return actor.IsAdmin() || actor.ID == reservation.StudentID
}

// CanOperate covers operator-only tooling such as reconciliation.
func (g *Guard) CanOperate(actor domain.Actor) bool {
	return actor.IsAdmin()
}
