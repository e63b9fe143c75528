package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionStatusScheduled, SessionStatusInProgress, true},
		{SessionStatusScheduled, SessionStatusCompleted, true},
		{SessionStatusScheduled, SessionStatusCancelled, true},
		{SessionStatusInProgress, SessionStatusCompleted, true},
		{SessionStatusInProgress, SessionStatusCancelled, true},
		{SessionStatusInProgress, SessionStatusInProgress, false},
		{SessionStatusInProgress, SessionStatusScheduled, false},
		{SessionStatusCompleted, SessionStatusCancelled, false},
		{SessionStatusCompleted, SessionStatusCompleted, false},
		{SessionStatusCancelled, SessionStatusInProgress, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCompletionPayload_Validate(t *testing.T) {
	assert.NoError(t, CompletionPayload{Summary: "covered joins", ActualDuration: 45}.Validate())
	assert.ErrorIs(t, CompletionPayload{ActualDuration: 45}.Validate(), ErrInvalidPayload)
	assert.ErrorIs(t, CompletionPayload{Summary: "x"}.Validate(), ErrInvalidPayload)
	assert.ErrorIs(t, CompletionPayload{Summary: "x", ActualDuration: 10, SessionArtifacts: []string{" "}}.Validate(), ErrInvalidPayload)
}

func TestPaymentStatusFor(t *testing.T) {
	assert.Equal(t, PaymentStatusPaid, PaymentStatusFor(AuthorizationCaptured))
	assert.Equal(t, PaymentStatusAuthorized, PaymentStatusFor(AuthorizationAuthorized))
	assert.Equal(t, PaymentStatusReleased, PaymentStatusFor(AuthorizationReleased))
	assert.Equal(t, PaymentStatusUnpaid, PaymentStatusFor(AuthorizationFailed))
	assert.Equal(t, PaymentStatusUnpaid, PaymentStatusFor(AuthorizationPendingMethod))
}

func TestLiveSession_CloneIsDeep(t *testing.T) {
	notes := "bring laptop"
	s := &LiveSession{ID: "s1", InstructorNotes: &notes, SessionArtifacts: []string{"a"}}
	c := s.Clone()
	*c.InstructorNotes = "changed"
	c.SessionArtifacts[0] = "b"

	assert.Equal(t, "bring laptop", *s.InstructorNotes)
	assert.Equal(t, "a", s.SessionArtifacts[0])
}

func TestAuthorizationStatus_Settled(t *testing.T) {
	assert.True(t, AuthorizationCaptured.Settled())
	assert.True(t, AuthorizationReleased.Settled())
	assert.False(t, AuthorizationFailed.Settled())
	assert.False(t, AuthorizationAuthorized.Settled())
}

func TestSessionReservation_IssuedFor(t *testing.T) {
	issued := "auth_1"
	r := &SessionReservation{ID: "r1", IssuedHandle: &issued}

	assert.True(t, r.IssuedFor("auth_1"))
	assert.False(t, r.IssuedFor("auth_2"))
	assert.False(t, (&SessionReservation{ID: "r2"}).IssuedFor(""))
	assert.Equal(t, "auth_1", *r.Clone().IssuedHandle)
}
