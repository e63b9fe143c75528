package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuthorizationStatus mirrors the processor-side state of a payment hold.
type AuthorizationStatus string

const (
	AuthorizationPendingMethod       AuthorizationStatus = "PENDING_METHOD"
	AuthorizationPendingConfirmation AuthorizationStatus = "PENDING_CONFIRMATION"
	AuthorizationAuthorized          AuthorizationStatus = "AUTHORIZED"
	AuthorizationCaptured            AuthorizationStatus = "CAPTURED"
	AuthorizationReleased            AuthorizationStatus = "RELEASED"
	AuthorizationFailed              AuthorizationStatus = "FAILED"
)

func (s AuthorizationStatus) Valid() bool {
	switch s {
	case AuthorizationPendingMethod, AuthorizationPendingConfirmation, AuthorizationAuthorized,
		AuthorizationCaptured, AuthorizationReleased, AuthorizationFailed:
		return true
	}
	return false
}

// Confirmed reports whether the student finished the external authorization step.
func (s AuthorizationStatus) Confirmed() bool {
	return s != AuthorizationPendingMethod && s != AuthorizationPendingConfirmation
}

// Settled reports whether the processor has moved the funds for good. A settled
// authorization does not change status again.
func (s AuthorizationStatus) Settled() bool {
	return s == AuthorizationCaptured || s == AuthorizationReleased
}

type PaymentStatus string

const (
	PaymentStatusUnpaid     PaymentStatus = "UNPAID"
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusPaid       PaymentStatus = "PAID"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
	PaymentStatusReleased   PaymentStatus = "RELEASED"
)

// PaymentStatusFor derives the caller-facing payment summary from the mirrored authorization status.
func PaymentStatusFor(s AuthorizationStatus) PaymentStatus {
	switch s {
	case AuthorizationAuthorized:
		return PaymentStatusAuthorized
	case AuthorizationCaptured:
		return PaymentStatusPaid
	case AuthorizationReleased:
		return PaymentStatusReleased
	default:
		return PaymentStatusUnpaid
	}
}

// PayoutStatusFor derives the session payout state implied by a settled authorization.
// ok is false while the authorization has not reached a settled state.
func PayoutStatusFor(s AuthorizationStatus) (PayoutStatus, bool) {
	switch s {
	case AuthorizationCaptured:
		return PayoutStatusCaptured, true
	case AuthorizationReleased:
		return PayoutStatusReleased, true
	case AuthorizationFailed:
		return PayoutStatusFailed, true
	}
	return "", false
}

type SessionReservation struct {
	ID                  string
	SessionID           string
	StudentID           string
	AgreedAmount        decimal.Decimal
	Currency            string
	// IssuedHandle is the hold the processor created for this reservation at booking.
	IssuedHandle        *string
	AuthorizationHandle *string
	AuthorizationStatus AuthorizationStatus
	PaymentStatus       PaymentStatus
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (r *SessionReservation) HasHandle() bool {
	return r.AuthorizationHandle != nil && *r.AuthorizationHandle != ""
}

// IssuedFor reports whether handle is the hold created for this reservation at booking.
func (r *SessionReservation) IssuedFor(handle string) bool {
	return r.IssuedHandle != nil && *r.IssuedHandle != "" && *r.IssuedHandle == handle
}

func (r *SessionReservation) Handle() string {
	if r.AuthorizationHandle == nil {
		return ""
	}
	return *r.AuthorizationHandle
}

// SetAuthorizationStatus updates the mirrored status and keeps PaymentStatus derived from it.
func (r *SessionReservation) SetAuthorizationStatus(s AuthorizationStatus) {
	r.AuthorizationStatus = s
	r.PaymentStatus = PaymentStatusFor(s)
}

func (r *SessionReservation) Clone() *SessionReservation {
	if r == nil {
		return nil
	}
	c := *r
	c.IssuedHandle = clonePtr(r.IssuedHandle)
	c.AuthorizationHandle = clonePtr(r.AuthorizationHandle)
	return &c
}
