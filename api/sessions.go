package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/Domenick1991/livesession/internal/service/booking"
	"github.com/Domenick1991/livesession/internal/service/lifecycle"
	"github.com/Domenick1991/livesession/internal/service/sessions"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type SessionHandler struct {
	lifecycle lifecycle.UseCase
	sessions  sessions.SessionUseCase
	booking   booking.BookingUseCase
}

type bookSessionRequest struct {
	InstructorID   string          `json:"instructorId"`
	ScheduledStart time.Time       `json:"scheduledStart"`
	ScheduledEnd   time.Time       `json:"scheduledEnd"`
	AgreedAmount   decimal.Decimal `json:"agreedAmount"`
	Currency       string          `json:"currency"`
}

type paymentStep struct {
	Handle       string `json:"handle"`
	ClientSecret string `json:"clientSecret"`
}

type bookingResponse struct {
	Session     sessionResponse      `json:"session"`
	Reservation *reservationResponse `json:"reservation,omitempty"`
	Payment     *paymentStep         `json:"payment,omitempty"`
}

type sessionDetailResponse struct {
	Session     sessionResponse      `json:"session"`
	Reservation *reservationResponse `json:"reservation,omitempty"`
}

type startRequest struct {
	InstructorNotes *string `json:"instructorNotes"`
}

type endRequest struct {
	Summary          string   `json:"summary"`
	InstructorNotes  *string  `json:"instructorNotes"`
	ActualDuration   int      `json:"actualDuration"`
	SessionArtifacts []string `json:"sessionArtifacts"`
}

type cancelRequest struct {
	Reason *string `json:"reason"`
}

func NewSessionHandler(lc lifecycle.UseCase, ss sessions.SessionUseCase, bs booking.BookingUseCase) *SessionHandler {
	return &SessionHandler{lifecycle: lc, sessions: ss, booking: bs}
}

func (h *SessionHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.book)
	router.GET("", h.list)
	router.GET("/:id", h.get)
	router.PATCH("/:id/start", h.start)
	router.PATCH("/:id/end", h.end)
	router.PATCH("/:id/cancel", h.cancel)
}

// RegisterLegacy mounts the deprecated aliases kept for old clients.
func (h *SessionHandler) RegisterLegacy(router *gin.RouterGroup) {
	router.PATCH("/sessions/:id/complete", h.legacyComplete)
}

// book godoc
// @Summary  Book a live session
// @Tags     sessions
// @Accept   json
// @Produce  json
// @Param    request body bookSessionRequest true "Booking"
// @Success  201 {object} bookingResponse
// @Failure  400 {object} errorResponse
// @Failure  503 {object} errorResponse
// @Router   /sessions [post]
func (h *SessionHandler) book(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req bookSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	b, err := h.booking.BookSession(c.Request.Context(), actor, booking.BookSessionInput{
		InstructorID:   req.InstructorID,
		ScheduledStart: req.ScheduledStart,
		ScheduledEnd:   req.ScheduledEnd,
		AgreedAmount:   req.AgreedAmount,
		Currency:       req.Currency,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := bookingResponse{
		Session:     toSessionResponse(b.Session),
		Reservation: toReservationResponse(b.Reservation),
	}
	if b.PaymentHandle != "" {
		resp.Payment = &paymentStep{Handle: b.PaymentHandle, ClientSecret: b.ClientSecret}
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *SessionHandler) list(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	input := sessions.ListInput{As: domain.Role(c.Query("role"))}
	for _, raw := range c.QueryArray("status") {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				input.Statuses = append(input.Statuses, domain.SessionStatus(strings.ToUpper(st)))
			}
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, fmt.Errorf("invalid limit: %w", err))
			return
		}
		input.Limit = limit
	}

	list, err := h.sessions.List(c.Request.Context(), actor, input)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for i := range list {
		out = append(out, toSessionResponse(&list[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *SessionHandler) get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	view, err := h.sessions.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionDetailResponse{
		Session:     toSessionResponse(view.Session),
		Reservation: toReservationResponse(view.Reservation),
	})
}

// start godoc
// @Summary  Start a session
// @Tags     sessions
// @Param    id path string true "Session ID"
// @Success  200 {object} transitionResponse
// @Failure  403 {object} errorResponse
// @Failure  409 {object} errorResponse
// @Router   /sessions/{id}/start [patch]
func (h *SessionHandler) start(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req startRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.lifecycle.Start(c.Request.Context(), c.Param("id"), actor, domain.StartPayload{
		InstructorNotes: req.InstructorNotes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransitionResponse(res))
}

// end godoc
// @Summary  Complete a session and capture its payment
// @Tags     sessions
// @Accept   json
// @Param    id path string true "Session ID"
// @Param    request body endRequest true "Completion"
// @Success  200 {object} transitionResponse
// @Failure  403 {object} errorResponse
// @Failure  409 {object} errorResponse
// @Router   /sessions/{id}/end [patch]
func (h *SessionHandler) end(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req endRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	payload := domain.CompletionPayload{
		Summary:          req.Summary,
		InstructorNotes:  req.InstructorNotes,
		ActualDuration:   req.ActualDuration,
		SessionArtifacts: req.SessionArtifacts,
	}
	if err := payload.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.lifecycle.End(c.Request.Context(), c.Param("id"), actor, payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransitionResponse(res))
}

// legacyComplete godoc
// @Summary     Complete a session (deprecated, use /sessions/{id}/end)
// @Tags        legacy
// @Deprecated
// @Param       id path string true "Session ID"
// @Param       request body endRequest true "Completion"
// @Success     200 {object} transitionResponse
// @Router      /legacy/sessions/{id}/complete [patch]
func (h *SessionHandler) legacyComplete(c *gin.Context) {
	c.Header("Deprecation", "true")
	c.Header("Link", fmt.Sprintf(`</sessions/%s/end>; rel="successor-version"`, c.Param("id")))
	h.end(c)
}

// cancel godoc
// @Summary  Cancel a session and release its payment hold
// @Tags     sessions
// @Param    id path string true "Session ID"
// @Success  200 {object} transitionResponse
// @Failure  409 {object} errorResponse
// @Router   /sessions/{id}/cancel [patch]
func (h *SessionHandler) cancel(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req cancelRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.lifecycle.Cancel(c.Request.Context(), c.Param("id"), actor, domain.CancellationPayload{Reason: req.Reason})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransitionResponse(res))
}

// bindOptionalJSON accepts an empty body for transitions whose fields are all optional.
func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
