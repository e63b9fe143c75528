package gateway

import (
	"context"
	"sync"

	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type sandboxAuth struct {
	amount   decimal.Decimal
	currency string
	status   domain.AuthorizationStatus
}

// Sandbox is an in-process processor for local runs and tests. With autoApprove every
// authorization is immediately capturable, as if the student finished the payment step.
type Sandbox struct {
	mu          sync.Mutex
	auths       map[string]*sandboxAuth
	autoApprove bool
	failures    map[string]error
	calls       map[string]int
}

func NewSandbox(autoApprove bool) *Sandbox {
	return &Sandbox{
		auths:       make(map[string]*sandboxAuth),
		autoApprove: autoApprove,
		failures:    make(map[string]error),
		calls:       make(map[string]int),
	}
}

func (s *Sandbox) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["authorize"]++
	if err := s.failure("authorize"); err != nil {
		return nil, err
	}

	handle := "auth_" + uuid.NewString()
	status := domain.AuthorizationPendingMethod
	if s.autoApprove {
		status = domain.AuthorizationAuthorized
	}
	s.auths[handle] = &sandboxAuth{amount: req.Amount, currency: req.Currency, status: status}
	return &Authorization{Handle: handle, ClientSecret: handle + "_secret", Status: status}, nil
}

func (s *Sandbox) Capture(ctx context.Context, handle string) (*CaptureResult, error) {
	if err := s.wait(ctx, "capture"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auths[handle]
	if !ok {
		return nil, &Error{Op: "capture", Err: ErrUnknownHandle}
	}
	if a.status != domain.AuthorizationAuthorized {
		return nil, &Error{Op: "capture", Code: string(a.status), Err: ErrNotCapturable}
	}
	a.status = domain.AuthorizationCaptured
	return &CaptureResult{Handle: handle, CapturedAmount: a.amount, Status: a.status}, nil
}

func (s *Sandbox) CancelAuthorization(ctx context.Context, handle string) error {
	if err := s.wait(ctx, "cancel"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auths[handle]
	if !ok {
		return &Error{Op: "cancel", Err: ErrUnknownHandle}
	}
	if a.status == domain.AuthorizationCaptured {
		return &Error{Op: "cancel", Code: string(a.status), Err: ErrNotCancelable}
	}
	a.status = domain.AuthorizationReleased
	return nil
}

func (s *Sandbox) GetStatus(ctx context.Context, handle string) (domain.AuthorizationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["get_status"]++
	if err := s.failure("get_status"); err != nil {
		return "", err
	}

	a, ok := s.auths[handle]
	if !ok {
		return "", &Error{Op: "get_status", Err: ErrUnknownHandle}
	}
	return a.status, nil
}

// Approve simulates the student completing the external payment step.
func (s *Sandbox) Approve(handle string) bool {
	return s.SetStatus(handle, domain.AuthorizationAuthorized)
}

// SetStatus forces the processor-side state of a handle, registering it if unknown.
func (s *Sandbox) SetStatus(handle string, status domain.AuthorizationStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auths[handle]
	if !ok {
		s.auths[handle] = &sandboxAuth{status: status}
		return false
	}
	a.status = status
	return true
}

// FailNext makes every following call of op return err until cleared with a nil err.
func (s *Sandbox) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Sandbox) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Sandbox) failure(op string) error {
	if err, ok := s.failures[op]; ok {
		return err
	}
	return nil
}

// wait counts the call and returns the injected failure. A context.DeadlineExceeded
// failure blocks until ctx is done to mimic a hung processor.
func (s *Sandbox) wait(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	err := s.failure(op)
	s.mu.Unlock()

	if err == context.DeadlineExceeded {
		if done := ctx.Done(); done != nil {
			<-done
		}
		return &Error{Op: op, Message: "processor timeout", Err: context.DeadlineExceeded}
	}
	return err
}

var _ PaymentGateway = (*Sandbox)(nil)
