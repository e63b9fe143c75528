package api

import (
	"context"
	"net/http"

	"github.com/Domenick1991/livesession/internal/apperrors"
	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/Domenick1991/livesession/internal/service/payment"
	"github.com/gin-gonic/gin"
)

type PaymentUseCase interface {
	ConfirmAuthorization(ctx context.Context, actor domain.Actor, reservationID, handle string) (*domain.SessionReservation, error)
	Reconcile(ctx context.Context, reservationID string, recapture bool) (*payment.Outcome, error)
}

type OperatorGuard interface {
	CanOperate(actor domain.Actor) bool
}

type ReservationHandler struct {
	payments PaymentUseCase
	guard    OperatorGuard
}

type confirmRequest struct {
	Handle string `json:"handle" binding:"required"`
}

type reconcileRequest struct {
	Recapture bool `json:"recapture"`
}

func NewReservationHandler(payments PaymentUseCase, guard OperatorGuard) *ReservationHandler {
	return &ReservationHandler{payments: payments, guard: guard}
}

func (h *ReservationHandler) Register(router *gin.RouterGroup) {
	router.POST("/:id/confirm", h.confirm)
}

func (h *ReservationHandler) RegisterAdmin(router *gin.RouterGroup) {
	router.POST("/reservations/:id/reconcile", h.reconcile)
}

// confirm godoc
// @Summary  Bind the processor authorization to a reservation
// @Tags     reservations
// @Accept   json
// @Param    id path string true "Reservation ID"
// @Param    request body confirmRequest true "Authorization handle"
// @Success  200 {object} reservationResponse
// @Failure  409 {object} errorResponse
// @Failure  503 {object} errorResponse
// @Router   /reservations/{id}/confirm [post]
func (h *ReservationHandler) confirm(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.payments.ConfirmAuthorization(c.Request.Context(), actor, c.Param("id"), req.Handle)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReservationResponse(res))
}

// reconcile godoc
// @Summary  Re-read processor state for a reservation (operators only)
// @Tags     admin
// @Param    id path string true "Reservation ID"
// @Param    request body reconcileRequest false "Options"
// @Success  200 {object} outcomeResponse
// @Router   /admin/reservations/{id}/reconcile [post]
func (h *ReservationHandler) reconcile(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if !h.guard.CanOperate(actor) {
		writeError(c, apperrors.New(apperrors.CodeForbidden, "operator access required"))
		return
	}
	var req reconcileRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}

	out, err := h.payments.Reconcile(c.Request.Context(), c.Param("id"), req.Recapture)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOutcomeResponse(out))
}
