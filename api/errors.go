package api

import (
	"github.com/Domenick1991/livesession/internal/apperrors"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps err onto its HTTP status. Internal errors keep their detail out of
// the response and are attached to the gin context for the access log.
func writeError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	msg := err.Error()
	if code == apperrors.CodeInternal {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(code.HTTPStatus(), errorResponse{Error: msg, Code: string(code)})
}

func badRequest(c *gin.Context, err error) {
	writeError(c, apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err))
}
