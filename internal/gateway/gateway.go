// Package gateway holds the payment processor contract and its adapters.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/shopspring/decimal"
)

type CaptureMethod string

const (
	CaptureManual    CaptureMethod = "manual"
	CaptureAutomatic CaptureMethod = "automatic"
)

type AuthorizeRequest struct {
	Amount        decimal.Decimal
	Currency      string
	CaptureMethod CaptureMethod
	// Reference is passed to the processor as the idempotency key.
	Reference string
}

// Authorization is the processor's answer to an authorize call. ClientSecret is
// handed to the student client to finish the payment step.
type Authorization struct {
	Handle       string
	ClientSecret string
	Status       domain.AuthorizationStatus
}

type CaptureResult struct {
	Handle         string
	CapturedAmount decimal.Decimal
	Status         domain.AuthorizationStatus
}

type PaymentGateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error)
	Capture(ctx context.Context, handle string) (*CaptureResult, error)
	CancelAuthorization(ctx context.Context, handle string) error
	GetStatus(ctx context.Context, handle string) (domain.AuthorizationStatus, error)
}

var (
	ErrUnknownHandle = errors.New("unknown authorization handle")
	ErrNotCapturable = errors.New("authorization is not capturable")
	ErrNotCancelable = errors.New("authorization is not cancelable")
)

// Error describes a processor-side rejection.
type Error struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}
