package psp

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// alphanumericChars for generating Stripe-compatible IDs
const alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomAlphanumeric generates a random alphanumeric string of given length
func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumericChars[rand.Intn(len(alphanumericChars))]
	}
	return string(b)
}

// MockAdapter implements Adapter in memory for tests and local development.
// Default behavior succeeds every call; individual operations can be
// scripted through the func fields. Calls with a previously seen idempotency
// key replay the original result.
type MockAdapter struct {
	mu        sync.Mutex
	intents   map[string]*Intent
	seenKeys  map[string]any
	transfers []TransferRequest
	refunds   []RefundRequest
	schedules map[string]PayoutSchedule

	Now func() time.Time

	// Scriptable failure hooks. A nil hook means the call succeeds.
	AuthFunc     func(req AuthRequest) error
	CaptureFunc  func(req CaptureRequest) error
	CancelFunc   func(intentID string) error
	RefundFunc   func(req RefundRequest) error
	TransferFunc func(req TransferRequest) error
}

// NewMockAdapter creates a mock adapter with empty state
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		intents:   make(map[string]*Intent),
		seenKeys:  make(map[string]any),
		schedules: make(map[string]PayoutSchedule),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MockAdapter) CreateOrRetryAuth(ctx context.Context, req AuthRequest) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.seenKeys[req.IdempotencyKey]; ok {
		return prior.(*Intent), nil
	}
	if m.AuthFunc != nil {
		if err := m.AuthFunc(req); err != nil {
			return nil, err
		}
	}

	intent := &Intent{
		ID:           "pi_" + randomAlphanumeric(24),
		Status:       IntentRequiresCapture,
		AmountCents:  req.AmountCents,
		AuthorizedAt: m.Now(),
	}
	m.intents[intent.ID] = intent
	m.seenKeys[req.IdempotencyKey] = intent
	return intent, nil
}

func (m *MockAdapter) ConfirmAuth(ctx context.Context, intentID, idempotencyKey string) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[intentID]
	if !ok {
		return nil, NewError(ClassInvalidState, "resource_missing", fmt.Errorf("no such intent: %s", intentID))
	}
	if intent.Status == IntentRequiresConfirmation || intent.Status == IntentRequiresPaymentMethod {
		intent.Status = IntentRequiresCapture
		intent.AuthorizedAt = m.Now()
	}
	return intent, nil
}

func (m *MockAdapter) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[intentID]
	if !ok {
		return nil, NewError(ClassInvalidState, "resource_missing", fmt.Errorf("no such intent: %s", intentID))
	}
	cp := *intent
	return &cp, nil
}

func (m *MockAdapter) CaptureAuth(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.seenKeys[req.IdempotencyKey]; ok {
		return prior.(*CaptureResult), nil
	}
	if m.CaptureFunc != nil {
		if err := m.CaptureFunc(req); err != nil {
			return nil, err
		}
	}

	intent, ok := m.intents[req.IntentID]
	if !ok {
		return nil, NewError(ClassInvalidState, "resource_missing", fmt.Errorf("no such intent: %s", req.IntentID))
	}
	switch intent.Status {
	case IntentSucceeded:
		return nil, NewError(ClassAlreadyCaptured, "payment_intent_unexpected_state", fmt.Errorf("intent %s already captured", req.IntentID))
	case IntentCanceled:
		return nil, NewError(ClassInvalidState, "payment_intent_unexpected_state", fmt.Errorf("intent %s canceled", req.IntentID))
	case IntentRequiresCapture:
		// proceed
	default:
		return nil, NewError(ClassInvalidState, "payment_intent_unexpected_state", fmt.Errorf("intent %s in %s", req.IntentID, intent.Status))
	}

	amount := req.AmountCents
	if amount == 0 || amount > intent.AmountCents {
		amount = intent.AmountCents
	}
	intent.Status = IntentSucceeded

	result := &CaptureResult{IntentID: intent.ID, CapturedCents: amount}
	m.seenKeys[req.IdempotencyKey] = result
	return result, nil
}

func (m *MockAdapter) CancelAuth(ctx context.Context, intentID, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seenKeys[idempotencyKey]; ok {
		return nil
	}
	if m.CancelFunc != nil {
		if err := m.CancelFunc(intentID); err != nil {
			return err
		}
	}

	intent, ok := m.intents[intentID]
	if !ok {
		return NewError(ClassInvalidState, "resource_missing", fmt.Errorf("no such intent: %s", intentID))
	}
	if intent.Status == IntentSucceeded {
		return NewError(ClassAlreadyCaptured, "payment_intent_unexpected_state", fmt.Errorf("intent %s already captured", intentID))
	}
	intent.Status = IntentCanceled
	m.seenKeys[idempotencyKey] = struct{}{}
	return nil
}

func (m *MockAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.seenKeys[req.IdempotencyKey]; ok {
		return prior.(*RefundResult), nil
	}
	if m.RefundFunc != nil {
		if err := m.RefundFunc(req); err != nil {
			return nil, err
		}
	}

	intent, ok := m.intents[req.IntentID]
	if !ok {
		return nil, NewError(ClassInvalidState, "resource_missing", fmt.Errorf("no such intent: %s", req.IntentID))
	}
	if intent.Status != IntentSucceeded {
		return nil, NewError(ClassInvalidState, "charge_not_captured", fmt.Errorf("intent %s not captured", req.IntentID))
	}

	amount := req.AmountCents
	if amount == 0 {
		amount = intent.AmountCents
	}
	m.refunds = append(m.refunds, req)

	result := &RefundResult{RefundID: "re_" + randomAlphanumeric(24), RefundedCents: amount}
	m.seenKeys[req.IdempotencyKey] = result
	return result, nil
}

func (m *MockAdapter) ManualTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.seenKeys[req.IdempotencyKey]; ok {
		return prior.(*TransferResult), nil
	}
	if m.TransferFunc != nil {
		if err := m.TransferFunc(req); err != nil {
			return nil, err
		}
	}

	m.transfers = append(m.transfers, req)
	result := &TransferResult{TransferID: "tr_" + randomAlphanumeric(24)}
	m.seenKeys[req.IdempotencyKey] = result
	return result, nil
}

func (m *MockAdapter) SetPayoutSchedule(ctx context.Context, accountID string, schedule PayoutSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[accountID] = schedule
	return nil
}

// ExpireAuth forces an intent back to requiring a payment method, simulating
// a hold that lapsed before capture
func (m *MockAdapter) ExpireAuth(intentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intent, ok := m.intents[intentID]; ok {
		intent.Status = IntentRequiresPaymentMethod
	}
}

// Transfers returns every manual transfer performed, in order
func (m *MockAdapter) Transfers() []TransferRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransferRequest, len(m.transfers))
	copy(out, m.transfers)
	return out
}

// Refunds returns every refund performed, in order
func (m *MockAdapter) Refunds() []RefundRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RefundRequest, len(m.refunds))
	copy(out, m.refunds)
	return out
}

// Schedule returns the payout schedule configured for an account
func (m *MockAdapter) Schedule(accountID string) (PayoutSchedule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[accountID]
	return s, ok
}
