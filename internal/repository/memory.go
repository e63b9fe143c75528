package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/livesession/internal/domain"
)

// MemoryStore keeps records in maps guarded by a single mutex. Each operation is
// short and does no I/O, so per-entity versioning still decides the races.
type MemoryStore struct {
	mu           sync.Mutex
	sessions     map[string]*domain.LiveSession
	reservations map[string]*domain.SessionReservation
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]*domain.LiveSession),
		reservations: make(map[string]*domain.SessionReservation),
		now:          time.Now,
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, session *domain.LiveSession, reservation *domain.SessionReservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; ok {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	now := m.now().UTC()
	session.Version = 1
	session.CreatedAt, session.UpdatedAt = now, now
	m.sessions[session.ID] = session.Clone()

	if reservation != nil {
		reservation.Version = 1
		reservation.CreatedAt, reservation.UpdatedAt = now, now
		m.reservations[reservation.ID] = reservation.Clone()
	}
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*domain.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) GetReservation(_ context.Context, id string) (*domain.SessionReservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListSessions(_ context.Context, filter SessionFilter) ([]domain.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.LiveSession, 0)
	for _, s := range m.sessions {
		if filter.InstructorID != "" && s.InstructorID != filter.InstructorID {
			continue
		}
		if filter.StudentID != "" {
			if !s.HasReservation() {
				continue
			}
			r, ok := m.reservations[*s.ReservationID]
			if !ok || r.StudentID != filter.StudentID {
				continue
			}
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, s.Status) {
			continue
		}
		if len(filter.PayoutStatus) > 0 && !slices.Contains(filter.PayoutStatus, s.PayoutStatus) {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !s.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		out = append(out, *s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledStart.Before(out[j].ScheduledStart)
	})
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session *domain.LiveSession, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkSession(session.ID, expectedVersion); err != nil {
		return err
	}
	m.putSession(session, expectedVersion)
	return nil
}

func (m *MemoryStore) UpdateReservation(_ context.Context, reservation *domain.SessionReservation, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkReservation(reservation.ID, expectedVersion); err != nil {
		return err
	}
	m.putReservation(reservation, expectedVersion)
	return nil
}

func (m *MemoryStore) UpdatePayment(_ context.Context, session *domain.LiveSession, sessionVersion int64, reservation *domain.SessionReservation, reservationVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkSession(session.ID, sessionVersion); err != nil {
		return err
	}
	if err := m.checkReservation(reservation.ID, reservationVersion); err != nil {
		return err
	}
	m.putSession(session, sessionVersion)
	m.putReservation(reservation, reservationVersion)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) checkSession(id string, expected int64) error {
	cur, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expected {
		return ErrVersionConflict
	}
	return nil
}

func (m *MemoryStore) checkReservation(id string, expected int64) error {
	cur, ok := m.reservations[id]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expected {
		return ErrVersionConflict
	}
	return nil
}

// putSession keeps write-once fields from the stored record, as the SQL stores do with COALESCE.
func (m *MemoryStore) putSession(session *domain.LiveSession, expected int64) {
	if cur := m.sessions[session.ID]; cur != nil {
		session.ActualStart = firstSet(cur.ActualStart, session.ActualStart)
		session.ActualEnd = firstSet(cur.ActualEnd, session.ActualEnd)
		session.ActualDuration = firstSet(cur.ActualDuration, session.ActualDuration)
	}
	session.Version = expected + 1
	session.UpdatedAt = m.now().UTC()
	m.sessions[session.ID] = session.Clone()
}

func (m *MemoryStore) putReservation(reservation *domain.SessionReservation, expected int64) {
	if cur := m.reservations[reservation.ID]; cur != nil {
		reservation.IssuedHandle = firstSet(cur.IssuedHandle, reservation.IssuedHandle)
		reservation.AuthorizationHandle = firstSet(cur.AuthorizationHandle, reservation.AuthorizationHandle)
	}
	reservation.Version = expected + 1
	reservation.UpdatedAt = m.now().UTC()
	m.reservations[reservation.ID] = reservation.Clone()
}

func firstSet[T any](stored, next *T) *T {
	if stored != nil {
		v := *stored
		return &v
	}
	return next
}

var _ SessionStore = (*MemoryStore)(nil)
