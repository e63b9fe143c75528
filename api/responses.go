package api

import (
	"time"

	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/Domenick1991/livesession/internal/service/lifecycle"
	"github.com/Domenick1991/livesession/internal/service/payment"
)

type sessionResponse struct {
	ID                 string     `json:"id"`
	Status             string     `json:"status"`
	InstructorID       string     `json:"instructorId"`
	ScheduledStart     time.Time  `json:"scheduledStart"`
	ScheduledEnd       time.Time  `json:"scheduledEnd"`
	ActualStart        *time.Time `json:"actualStart,omitempty"`
	ActualEnd          *time.Time `json:"actualEnd,omitempty"`
	ActualDuration     *int       `json:"actualDuration,omitempty"`
	Summary            *string    `json:"summary,omitempty"`
	InstructorNotes    *string    `json:"instructorNotes,omitempty"`
	SessionArtifacts   []string   `json:"sessionArtifacts,omitempty"`
	CancellationReason *string    `json:"cancellationReason,omitempty"`
	ReservationID      *string    `json:"reservationId,omitempty"`
	PayoutStatus       string     `json:"payoutStatus"`
	Version            int64      `json:"version"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type reservationResponse struct {
	ID                  string `json:"id"`
	SessionID           string `json:"sessionId"`
	StudentID           string `json:"studentId"`
	AgreedAmount        string `json:"agreedAmount"`
	Currency            string `json:"currency"`
	AuthorizationStatus string `json:"authorizationStatus"`
	PaymentStatus       string `json:"paymentStatus"`
	Confirmed           bool   `json:"confirmed"`
}

type transitionResponse struct {
	Success         bool            `json:"success"`
	Session         sessionResponse `json:"session"`
	PaymentCaptured bool            `json:"paymentCaptured"`
	PaymentReleased bool            `json:"paymentReleased,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Repeated        bool            `json:"repeated,omitempty"`
}

type outcomeResponse struct {
	Captured    bool                 `json:"captured"`
	Released    bool                 `json:"released"`
	Failed      bool                 `json:"failed"`
	Reason      string               `json:"reason,omitempty"`
	Session     *sessionResponse     `json:"session,omitempty"`
	Reservation *reservationResponse `json:"reservation,omitempty"`
}

func toSessionResponse(s *domain.LiveSession) sessionResponse {
	return sessionResponse{
		ID:                 s.ID,
		Status:             string(s.Status),
		InstructorID:       s.InstructorID,
		ScheduledStart:     s.ScheduledStart,
		ScheduledEnd:       s.ScheduledEnd,
		ActualStart:        s.ActualStart,
		ActualEnd:          s.ActualEnd,
		ActualDuration:     s.ActualDuration,
		Summary:            s.Summary,
		InstructorNotes:    s.InstructorNotes,
		SessionArtifacts:   s.SessionArtifacts,
		CancellationReason: s.CancellationReason,
		ReservationID:      s.ReservationID,
		PayoutStatus:       string(s.PayoutStatus),
		Version:            s.Version,
		UpdatedAt:          s.UpdatedAt,
	}
}

func toReservationResponse(r *domain.SessionReservation) *reservationResponse {
	if r == nil {
		return nil
	}
	return &reservationResponse{
		ID:                  r.ID,
		SessionID:           r.SessionID,
		StudentID:           r.StudentID,
		AgreedAmount:        r.AgreedAmount.StringFixed(2),
		Currency:            r.Currency,
		AuthorizationStatus: string(r.AuthorizationStatus),
		PaymentStatus:       string(r.PaymentStatus),
		Confirmed:           r.HasHandle(),
	}
}

func toTransitionResponse(res *lifecycle.Result) transitionResponse {
	out := transitionResponse{
		Success:         true,
		Session:         toSessionResponse(res.Session),
		PaymentCaptured: res.PaymentCaptured(),
		Reason:          res.PaymentReason(),
		Repeated:        res.Repeated,
	}
	if res.Payment != nil {
		out.PaymentReleased = res.Payment.Released
	}
	return out
}

func toOutcomeResponse(o *payment.Outcome) outcomeResponse {
	out := outcomeResponse{
		Captured:    o.Captured,
		Released:    o.Released,
		Failed:      o.Failed,
		Reason:      o.Reason,
		Reservation: toReservationResponse(o.Reservation),
	}
	if o.Session != nil {
		s := toSessionResponse(o.Session)
		out.Session = &s
	}
	return out
}
