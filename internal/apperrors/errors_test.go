package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("load session: %w", New(CodeNotFound, "session s1 not found"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(CodePaymentGateway, "capture failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "capture failed", err.Error())
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeForbidden, http.StatusForbidden},
		{CodeUnauthenticated, http.StatusUnauthorized},
		{CodeInvalidArgument, http.StatusBadRequest},
		{CodeInvalidTransition, http.StatusConflict},
		{CodeConflict, http.StatusConflict},
		{CodeAlreadyConfirmed, http.StatusConflict},
		{CodePaymentGateway, http.StatusServiceUnavailable},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestCode_GRPCCode(t *testing.T) {
	assert.Equal(t, codes.FailedPrecondition, CodeInvalidTransition.GRPCCode())
	assert.Equal(t, codes.Aborted, CodeConflict.GRPCCode())
	assert.Equal(t, codes.Internal, Code("SOMETHING_ELSE").GRPCCode())
}
