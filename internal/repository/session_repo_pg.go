package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/Domenick1991/livesession/internal/repository/migrations"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
)

const pgQueryTimeout = 5 * time.Second

type PGSessionStore struct {
	db *pgxpool.Pool
}

func NewSessionStore(db *pgxpool.Pool) *PGSessionStore {
	return &PGSessionStore{db: db}
}

// OpenPostgres creates a pool and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// MigratePostgres applies the embedded goose migrations.
func MigratePostgres(ctx context.Context, dsn string) error {
	goose.SetBaseFS(migrations.Postgres)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	sqlDB, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()

	return goose.UpContext(ctx, sqlDB, "postgres")
}

type pgSessionRow struct {
	ID                 string     `db:"id"`
	Status             string     `db:"status"`
	InstructorID       string     `db:"instructor_id"`
	ScheduledStart     time.Time  `db:"scheduled_start"`
	ScheduledEnd       time.Time  `db:"scheduled_end"`
	ActualStart        *time.Time `db:"actual_start"`
	ActualEnd          *time.Time `db:"actual_end"`
	ActualDuration     *int32     `db:"actual_duration"`
	Summary            *string    `db:"summary"`
	InstructorNotes    *string    `db:"instructor_notes"`
	SessionArtifacts   []string   `db:"session_artifacts"`
	CancellationReason *string    `db:"cancellation_reason"`
	ReservationID      *string    `db:"reservation_id"`
	PayoutStatus       string     `db:"payout_status"`
	Version            int64      `db:"version"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

func (r pgSessionRow) toDomain() domain.LiveSession {
	s := domain.LiveSession{
		ID:                 r.ID,
		Status:             domain.SessionStatus(r.Status),
		InstructorID:       r.InstructorID,
		ScheduledStart:     r.ScheduledStart.UTC(),
		ScheduledEnd:       r.ScheduledEnd.UTC(),
		ActualStart:        r.ActualStart,
		ActualEnd:          r.ActualEnd,
		Summary:            r.Summary,
		InstructorNotes:    r.InstructorNotes,
		SessionArtifacts:   r.SessionArtifacts,
		CancellationReason: r.CancellationReason,
		ReservationID:      r.ReservationID,
		PayoutStatus:       domain.PayoutStatus(r.PayoutStatus),
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.ActualDuration != nil {
		d := int(*r.ActualDuration)
		s.ActualDuration = &d
	}
	return s
}

type pgReservationRow struct {
	ID                  string    `db:"id"`
	SessionID           string    `db:"session_id"`
	StudentID           string    `db:"student_id"`
	AgreedAmount        string    `db:"agreed_amount"`
	Currency            string    `db:"currency"`
	IssuedHandle        *string   `db:"issued_handle"`
	AuthorizationHandle *string   `db:"authorization_handle"`
	AuthorizationStatus string    `db:"authorization_status"`
	PaymentStatus       string    `db:"payment_status"`
	Version             int64     `db:"version"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r pgReservationRow) toDomain() (*domain.SessionReservation, error) {
	amount, err := decimal.NewFromString(r.AgreedAmount)
	if err != nil {
		return nil, fmt.Errorf("parse agreed amount of reservation %s: %w", r.ID, err)
	}
	return &domain.SessionReservation{
		ID:                  r.ID,
		SessionID:           r.SessionID,
		StudentID:           r.StudentID,
		AgreedAmount:        amount,
		Currency:            r.Currency,
		IssuedHandle:        r.IssuedHandle,
		AuthorizationHandle: r.AuthorizationHandle,
		AuthorizationStatus: domain.AuthorizationStatus(r.AuthorizationStatus),
		PaymentStatus:       domain.PaymentStatus(r.PaymentStatus),
		Version:             r.Version,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}, nil
}

const pgSessionColumns = `s.id, s.status, s.instructor_id, s.scheduled_start, s.scheduled_end,
	s.actual_start, s.actual_end, s.actual_duration, s.summary, s.instructor_notes,
	s.session_artifacts, s.cancellation_reason, s.reservation_id, s.payout_status,
	s.version, s.created_at, s.updated_at`

const pgReservationColumns = `id, session_id, student_id, agreed_amount::text AS agreed_amount, currency,
	issued_handle, authorization_handle, authorization_status, payment_status, version, created_at, updated_at`

func (r *PGSessionStore) CreateSession(ctx context.Context, session *domain.LiveSession, reservation *domain.SessionReservation) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	artifacts := session.SessionArtifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	if err := tx.QueryRow(ctx, `INSERT INTO live_sessions
		(id, status, instructor_id, scheduled_start, scheduled_end, session_artifacts, reservation_id, payout_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING version, created_at, updated_at`,
		session.ID, session.Status, session.InstructorID, session.ScheduledStart, session.ScheduledEnd,
		artifacts, session.ReservationID, session.PayoutStatus).
		Scan(&session.Version, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if reservation != nil {
		if err := tx.QueryRow(ctx, `INSERT INTO session_reservations
			(id, session_id, student_id, agreed_amount, currency, issued_handle, authorization_handle, authorization_status, payment_status)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)
			RETURNING version, created_at, updated_at`,
			reservation.ID, reservation.SessionID, reservation.StudentID, reservation.AgreedAmount.StringFixed(2),
			reservation.Currency, reservation.IssuedHandle, reservation.AuthorizationHandle, reservation.AuthorizationStatus, reservation.PaymentStatus).
			Scan(&reservation.Version, &reservation.CreatedAt, &reservation.UpdatedAt); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PGSessionStore) GetSession(ctx context.Context, id string) (*domain.LiveSession, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	var row pgSessionRow
	if err := pgxscan.Get(ctx, r.db, &row, `SELECT `+pgSessionColumns+` FROM live_sessions s WHERE s.id = $1`, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s := row.toDomain()
	return &s, nil
}

func (r *PGSessionStore) GetReservation(ctx context.Context, id string) (*domain.SessionReservation, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	var row pgReservationRow
	if err := pgxscan.Get(ctx, r.db, &row, `SELECT `+pgReservationColumns+` FROM session_reservations WHERE id = $1`, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

func (r *PGSessionStore) ListSessions(ctx context.Context, filter SessionFilter) ([]domain.LiveSession, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	query := `SELECT ` + pgSessionColumns + ` FROM live_sessions s
		LEFT JOIN session_reservations r ON r.id = s.reservation_id
		WHERE ($1 = '' OR s.instructor_id = $1)
		  AND ($2 = '' OR r.student_id = $2)
		  AND (cardinality($3::text[]) = 0 OR s.status = ANY($3))
		  AND (cardinality($4::text[]) = 0 OR s.payout_status = ANY($4))
		  AND ($5::timestamptz IS NULL OR s.updated_at < $5)
		ORDER BY s.scheduled_start
		LIMIT $6`

	var updatedBefore *time.Time
	if !filter.UpdatedBefore.IsZero() {
		updatedBefore = &filter.UpdatedBefore
	}

	var rows []pgSessionRow
	if err := pgxscan.Select(ctx, r.db, &rows, query,
		filter.InstructorID, filter.StudentID, statusStrings(filter.Statuses), payoutStrings(filter.PayoutStatus),
		updatedBefore, filter.limit()); err != nil {
		return nil, err
	}

	out := make([]domain.LiveSession, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *PGSessionStore) UpdateSession(ctx context.Context, session *domain.LiveSession, expectedVersion int64) error {
	return updateSessionPG(ctx, r.db, session, expectedVersion)
}

func (r *PGSessionStore) UpdateReservation(ctx context.Context, reservation *domain.SessionReservation, expectedVersion int64) error {
	return updateReservationPG(ctx, r.db, reservation, expectedVersion)
}

func (r *PGSessionStore) UpdatePayment(ctx context.Context, session *domain.LiveSession, sessionVersion int64, reservation *domain.SessionReservation, reservationVersion int64) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updateReservationPG(ctx, tx, reservation, reservationVersion); err != nil {
		return err
	}
	if err := updateSessionPG(ctx, tx, session, sessionVersion); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGSessionStore) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Write-once columns are guarded with COALESCE so a stale caller can never overwrite them.
func updateSessionPG(ctx context.Context, q pgQuerier, s *domain.LiveSession, expected int64) error {
	artifacts := s.SessionArtifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	err := q.QueryRow(ctx, `UPDATE live_sessions SET
			status = $3,
			actual_start = COALESCE(actual_start, $4),
			actual_end = COALESCE(actual_end, $5),
			actual_duration = COALESCE(actual_duration, $6),
			summary = $7,
			instructor_notes = $8,
			session_artifacts = $9,
			cancellation_reason = $10,
			payout_status = $11,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		s.ID, expected, s.Status, s.ActualStart, s.ActualEnd, s.ActualDuration, s.Summary, s.InstructorNotes,
		artifacts, s.CancellationReason, s.PayoutStatus).Scan(&s.Version, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return missingOrConflict(ctx, q, "live_sessions", s.ID)
	}
	return err
}

func updateReservationPG(ctx context.Context, q pgQuerier, r *domain.SessionReservation, expected int64) error {
	err := q.QueryRow(ctx, `UPDATE session_reservations SET
			authorization_handle = COALESCE(authorization_handle, $3),
			authorization_status = $4,
			payment_status = $5,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at, authorization_handle`,
		r.ID, expected, r.AuthorizationHandle, r.AuthorizationStatus, r.PaymentStatus).
		Scan(&r.Version, &r.UpdatedAt, &r.AuthorizationHandle)
	if errors.Is(err, pgx.ErrNoRows) {
		return missingOrConflict(ctx, q, "session_reservations", r.ID)
	}
	return err
}

// missingOrConflict distinguishes an absent row from a version mismatch after a conditional write matched nothing.
func missingOrConflict(ctx context.Context, q pgQuerier, table, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func statusStrings(in []domain.SessionStatus) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

func payoutStrings(in []domain.PayoutStatus) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

var _ SessionStore = (*PGSessionStore)(nil)
