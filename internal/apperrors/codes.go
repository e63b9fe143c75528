// Package apperrors defines the error taxonomy shared by services and transports.
package apperrors

import (
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeForbidden         Code = "FORBIDDEN"
	CodeUnauthenticated   Code = "UNAUTHENTICATED"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeConflict          Code = "CONFLICT"
	CodeAlreadyConfirmed  Code = "ALREADY_CONFIRMED"
	CodePaymentGateway    Code = "PAYMENT_GATEWAY"
	CodeInternal          Code = "INTERNAL"
)

// GRPCCode maps the code to the canonical gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeNotFound:
		return codes.NotFound
	case CodeForbidden:
		return codes.PermissionDenied
	case CodeUnauthenticated:
		return codes.Unauthenticated
	case CodeInvalidArgument:
		return codes.InvalidArgument
	case CodeInvalidTransition:
		return codes.FailedPrecondition
	case CodeConflict:
		return codes.Aborted
	case CodeAlreadyConfirmed:
		return codes.AlreadyExists
	case CodePaymentGateway:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// HTTPStatus follows the grpc-gateway mapping, except that an illegal
// state change is reported as 409 like a version conflict.
func (c Code) HTTPStatus() int {
	if c == CodeInvalidTransition {
		return http.StatusConflict
	}
	return runtime.HTTPStatusFromCode(c.GRPCCode())
}
