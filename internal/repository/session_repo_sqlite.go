package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/Domenick1991/livesession/internal/repository/migrations"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteSessionStore is the single-file store used for local runs and the operator CLI.
// Timestamps are stored as unix milliseconds.
type SQLiteSessionStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteSessionStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps conditional updates and transactions from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &SQLiteSessionStore{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

func (s *SQLiteSessionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteSessionStore) migrate() error {
	entries, err := fs.Glob(migrations.SQLite, "sqlite/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(entries)
	for _, name := range entries {
		content, err := fs.ReadFile(migrations.SQLite, name)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLiteSessionStore) CreateSession(ctx context.Context, session *domain.LiveSession, reservation *domain.SessionReservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	artifacts, err := encodeArtifacts(session.SessionArtifacts)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO live_sessions
		(id, status, instructor_id, scheduled_start, scheduled_end, session_artifacts, reservation_id, payout_status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		session.ID, string(session.Status), session.InstructorID, toMillis(session.ScheduledStart), toMillis(session.ScheduledEnd),
		artifacts, session.ReservationID, string(session.PayoutStatus), toMillis(now), toMillis(now)); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if reservation != nil {
		if _, err := tx.ExecContext(ctx, `INSERT INTO session_reservations
			(id, session_id, student_id, agreed_amount, currency, issued_handle, authorization_handle, authorization_status, payment_status, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			reservation.ID, reservation.SessionID, reservation.StudentID, reservation.AgreedAmount.StringFixed(2), reservation.Currency,
			reservation.IssuedHandle, reservation.AuthorizationHandle, string(reservation.AuthorizationStatus), string(reservation.PaymentStatus),
			toMillis(now), toMillis(now)); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	session.Version, session.CreatedAt, session.UpdatedAt = 1, now, now
	if reservation != nil {
		reservation.Version, reservation.CreatedAt, reservation.UpdatedAt = 1, now, now
	}
	return nil
}

const sqliteSessionColumns = `s.id, s.status, s.instructor_id, s.scheduled_start, s.scheduled_end, s.actual_start, s.actual_end,
	s.actual_duration, s.summary, s.instructor_notes, s.session_artifacts, s.cancellation_reason, s.reservation_id,
	s.payout_status, s.version, s.created_at, s.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (*domain.LiveSession, error) {
	var (
		out                          domain.LiveSession
		status, payout, artifacts    string
		scheduledStart, scheduledEnd int64
		createdAt, updatedAt         int64
		actualStart, actualEnd       sql.NullInt64
		actualDuration               sql.NullInt64
		summary, notes, reason, rid  sql.NullString
	)
	if err := row.Scan(&out.ID, &status, &out.InstructorID, &scheduledStart, &scheduledEnd, &actualStart, &actualEnd,
		&actualDuration, &summary, &notes, &artifacts, &reason, &rid, &payout, &out.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	out.Status = domain.SessionStatus(status)
	out.PayoutStatus = domain.PayoutStatus(payout)
	out.ScheduledStart = fromMillis(scheduledStart)
	out.ScheduledEnd = fromMillis(scheduledEnd)
	out.CreatedAt = fromMillis(createdAt)
	out.UpdatedAt = fromMillis(updatedAt)
	out.ActualStart = nullTime(actualStart)
	out.ActualEnd = nullTime(actualEnd)
	if actualDuration.Valid {
		d := int(actualDuration.Int64)
		out.ActualDuration = &d
	}
	out.Summary = nullString(summary)
	out.InstructorNotes = nullString(notes)
	out.CancellationReason = nullString(reason)
	out.ReservationID = nullString(rid)
	if err := json.Unmarshal([]byte(artifacts), &out.SessionArtifacts); err != nil {
		return nil, fmt.Errorf("decode session artifacts: %w", err)
	}
	if len(out.SessionArtifacts) == 0 {
		out.SessionArtifacts = nil
	}
	return &out, nil
}

func (s *SQLiteSessionStore) GetSession(ctx context.Context, id string) (*domain.LiveSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteSessionColumns+` FROM live_sessions s WHERE s.id = ?`, id)
	session, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

func (s *SQLiteSessionStore) GetReservation(ctx context.Context, id string) (*domain.SessionReservation, error) {
	var (
		out           domain.SessionReservation
		amount        string
		authStatus    string
		paymentStatus string
		issued        sql.NullString
		handle        sql.NullString
		created, upd  int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, session_id, student_id, agreed_amount, currency, issued_handle,
		authorization_handle, authorization_status, payment_status, version, created_at, updated_at
		FROM session_reservations WHERE id = ?`, id).
		Scan(&out.ID, &out.SessionID, &out.StudentID, &amount, &out.Currency, &issued, &handle, &authStatus, &paymentStatus,
			&out.Version, &created, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	out.AgreedAmount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse agreed amount of reservation %s: %w", out.ID, err)
	}
	out.IssuedHandle = nullString(issued)
	out.AuthorizationHandle = nullString(handle)
	out.AuthorizationStatus = domain.AuthorizationStatus(authStatus)
	out.PaymentStatus = domain.PaymentStatus(paymentStatus)
	out.CreatedAt = fromMillis(created)
	out.UpdatedAt = fromMillis(upd)
	return &out, nil
}

func (s *SQLiteSessionStore) ListSessions(ctx context.Context, filter SessionFilter) ([]domain.LiveSession, error) {
	var (
		where []string
		args  []any
	)
	if filter.InstructorID != "" {
		where = append(where, "s.instructor_id = ?")
		args = append(args, filter.InstructorID)
	}
	if filter.StudentID != "" {
		where = append(where, "r.student_id = ?")
		args = append(args, filter.StudentID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "s.status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if len(filter.PayoutStatus) > 0 {
		where = append(where, "s.payout_status IN ("+placeholders(len(filter.PayoutStatus))+")")
		for _, st := range filter.PayoutStatus {
			args = append(args, string(st))
		}
	}
	if !filter.UpdatedBefore.IsZero() {
		where = append(where, "s.updated_at < ?")
		args = append(args, toMillis(filter.UpdatedBefore))
	}

	query := `SELECT ` + sqliteSessionColumns + ` FROM live_sessions s
		LEFT JOIN session_reservations r ON r.id = s.reservation_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.scheduled_start LIMIT ?"
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LiveSession, 0)
	for rows.Next() {
		session, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *session)
	}
	return out, rows.Err()
}

type sqliteExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteSessionStore) UpdateSession(ctx context.Context, session *domain.LiveSession, expectedVersion int64) error {
	return s.updateSession(ctx, s.db, session, expectedVersion)
}

func (s *SQLiteSessionStore) UpdateReservation(ctx context.Context, reservation *domain.SessionReservation, expectedVersion int64) error {
	return s.updateReservation(ctx, s.db, reservation, expectedVersion)
}

func (s *SQLiteSessionStore) UpdatePayment(ctx context.Context, session *domain.LiveSession, sessionVersion int64, reservation *domain.SessionReservation, reservationVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.updateReservation(ctx, tx, reservation, reservationVersion); err != nil {
		return err
	}
	if err := s.updateSession(ctx, tx, session, sessionVersion); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteSessionStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteSessionStore) updateSession(ctx context.Context, q sqliteExecer, session *domain.LiveSession, expected int64) error {
	artifacts, err := encodeArtifacts(session.SessionArtifacts)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	res, err := q.ExecContext(ctx, `UPDATE live_sessions SET
			status = ?,
			actual_start = COALESCE(actual_start, ?),
			actual_end = COALESCE(actual_end, ?),
			actual_duration = COALESCE(actual_duration, ?),
			summary = ?,
			instructor_notes = ?,
			session_artifacts = ?,
			cancellation_reason = ?,
			payout_status = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?`,
		string(session.Status), millisPtr(session.ActualStart), millisPtr(session.ActualEnd), session.ActualDuration,
		session.Summary, session.InstructorNotes, artifacts, session.CancellationReason, string(session.PayoutStatus),
		toMillis(now), session.ID, expected)
	if err != nil {
		return err
	}
	if err := s.checkAffected(ctx, q, res, "live_sessions", session.ID); err != nil {
		return err
	}
	session.Version = expected + 1
	session.UpdatedAt = now
	return nil
}

func (s *SQLiteSessionStore) updateReservation(ctx context.Context, q sqliteExecer, r *domain.SessionReservation, expected int64) error {
	now := s.now().UTC()
	res, err := q.ExecContext(ctx, `UPDATE session_reservations SET
			authorization_handle = COALESCE(authorization_handle, ?),
			authorization_status = ?,
			payment_status = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?`,
		r.AuthorizationHandle, string(r.AuthorizationStatus), string(r.PaymentStatus), toMillis(now), r.ID, expected)
	if err != nil {
		return err
	}
	if err := s.checkAffected(ctx, q, res, "session_reservations", r.ID); err != nil {
		return err
	}
	r.Version = expected + 1
	r.UpdatedAt = now
	return nil
}

func (s *SQLiteSessionStore) checkAffected(ctx context.Context, q sqliteExecer, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+table+` WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func encodeArtifacts(refs []string) (string, error) {
	if refs == nil {
		refs = []string{}
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("encode session artifacts: %w", err)
	}
	return string(b), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := toMillis(*t)
	return &ms
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

var _ SessionStore = (*SQLiteSessionStore)(nil)
