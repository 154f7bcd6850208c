package psp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/account"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/transfer"

	"github.com/msaedi/instructly-sub006/pkg/retry"
)

// StripeAdapter implements Adapter against Stripe using manual-capture
// payment intents for holds and connected-account transfers for payouts.
// Transient transport failures are retried in-call; idempotency keys make
// the replays safe. Declines and state errors surface immediately so the
// engine's own schedules take over.
type StripeAdapter struct {
	config   *StripeConfig
	retryCfg *retry.Config
}

// StripeConfig holds configuration for the Stripe adapter
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Environment   string // "test" or "live"
}

// NewStripeAdapter creates a new Stripe adapter
func NewStripeAdapter(config *StripeConfig) (*StripeAdapter, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	// Set Stripe API key globally
	stripe.Key = config.SecretKey

	return &StripeAdapter{
		config: config,
		retryCfg: &retry.Config{
			MaxRetries:      2,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.2,
		},
	}, nil
}

// call runs one classified Stripe operation, retrying only system errors
func (a *StripeAdapter) call(ctx context.Context, op func() error) error {
	return retry.Do(ctx, a.retryCfg, func(ctx context.Context) error {
		err := op()
		if err == nil || IsRetryable(err) {
			return err
		}
		return retry.Permanent(err)
	})
}

// CreateOrRetryAuth places a manual-capture hold on the student's card
func (a *StripeAdapter) CreateOrRetryAuth(ctx context.Context, req AuthRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerID),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Metadata: map[string]string{
			"booking_id": req.BookingID,
		},
	}
	if req.DestinationAccountID != "" {
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.DestinationAccountID),
		}
		params.ApplicationFeeAmount = stripe.Int64(req.ApplicationFeeCents)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	var pi *stripe.PaymentIntent
	err := a.call(ctx, func() error {
		created, err := paymentintent.New(params)
		if err != nil {
			return classifyStripeError(err)
		}
		pi = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return intentFromStripe(pi), nil
}

// ConfirmAuth confirms an intent that required customer action
func (a *StripeAdapter) ConfirmAuth(ctx context.Context, intentID, idempotencyKey string) (*Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	var pi *stripe.PaymentIntent
	err := a.call(ctx, func() error {
		confirmed, err := paymentintent.Confirm(intentID, params)
		if err != nil {
			return classifyStripeError(err)
		}
		pi = confirmed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return intentFromStripe(pi), nil
}

// GetIntent reads the current state of an intent
func (a *StripeAdapter) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	var pi *stripe.PaymentIntent
	err := a.call(ctx, func() error {
		got, err := paymentintent.Get(intentID, params)
		if err != nil {
			return classifyStripeError(err)
		}
		pi = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return intentFromStripe(pi), nil
}

// CaptureAuth settles the hold, in full or in part
func (a *StripeAdapter) CaptureAuth(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	if req.AmountCents > 0 {
		params.AmountToCapture = stripe.Int64(req.AmountCents)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	var pi *stripe.PaymentIntent
	err := a.call(ctx, func() error {
		captured, err := paymentintent.Capture(req.IntentID, params)
		if err != nil {
			return classifyStripeError(err)
		}
		pi = captured
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &CaptureResult{
		IntentID:      pi.ID,
		CapturedCents: pi.AmountReceived,
	}, nil
}

// CancelAuth releases the hold without charging
func (a *StripeAdapter) CancelAuth(ctx context.Context, intentID, idempotencyKey string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	err := a.call(ctx, func() error {
		if _, err := paymentintent.Cancel(intentID, params); err != nil {
			return classifyStripeError(err)
		}
		return nil
	})
	// cancelling an already-cancelled intent is a no-op for the engine
	if IsClass(err, ClassInvalidState) {
		return nil
	}
	return err
}

// Refund returns captured funds to the student's card
func (a *StripeAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
	}
	if req.AmountCents > 0 {
		params.Amount = stripe.Int64(req.AmountCents)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	var r *stripe.Refund
	err := a.call(ctx, func() error {
		created, err := refund.New(params)
		if err != nil {
			return classifyStripeError(err)
		}
		r = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &RefundResult{
		RefundID:      r.ID,
		RefundedCents: r.Amount,
	}, nil
}

// ManualTransfer pays an instructor from the platform balance
func (a *StripeAdapter) ManualTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.DestinationAccountID),
		Metadata: map[string]string{
			"booking_id": req.BookingID,
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	var tr *stripe.Transfer
	err := a.call(ctx, func() error {
		created, err := transfer.New(params)
		if err != nil {
			return classifyStripeError(err)
		}
		tr = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &TransferResult{TransferID: tr.ID}, nil
}

// SetPayoutSchedule configures a connected account's payout cadence
func (a *StripeAdapter) SetPayoutSchedule(ctx context.Context, accountID string, schedule PayoutSchedule) error {
	params := &stripe.AccountParams{
		Settings: &stripe.AccountSettingsParams{
			Payouts: &stripe.AccountSettingsPayoutsParams{
				Schedule: &stripe.AccountSettingsPayoutsScheduleParams{
					Interval: stripe.String(schedule.Interval),
				},
			},
		},
	}
	if schedule.Interval == "weekly" && schedule.WeeklyDay != "" {
		params.Settings.Payouts.Schedule.WeeklyAnchor = stripe.String(schedule.WeeklyDay)
	}
	params.Context = ctx

	return a.call(ctx, func() error {
		if _, err := account.Update(accountID, params); err != nil {
			return classifyStripeError(err)
		}
		return nil
	})
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:          pi.ID,
		Status:      IntentStatus(pi.Status),
		AmountCents: pi.Amount,
	}
	if pi.Status == stripe.PaymentIntentStatusRequiresCapture {
		intent.AuthorizedAt = time.Unix(pi.Created, 0).UTC()
	}
	return intent
}

// classifyStripeError maps Stripe's error taxonomy onto ErrorClass
func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return NewError(ClassSystemError, "transport", err)
	}

	code := string(stripeErr.Code)
	switch {
	case stripeErr.Type == stripe.ErrorTypeCard,
		stripeErr.Code == stripe.ErrorCodeCardDeclined,
		stripeErr.Code == stripe.ErrorCodeExpiredCard,
		stripeErr.Code == stripe.ErrorCodeIncorrectCVC,
		stripeErr.DeclineCode != "":
		return NewError(ClassCardDeclined, code, err)

	case stripeErr.Code == stripe.ErrorCodePaymentIntentPaymentAttemptExpired,
		code == "payment_intent_authorization_expired",
		code == "charge_expired_for_capture":
		return NewError(ClassAuthExpired, code, err)

	case code == "payment_intent_unexpected_state" && stripeErr.PaymentIntent != nil &&
		stripeErr.PaymentIntent.Status == stripe.PaymentIntentStatusSucceeded:
		return NewError(ClassAlreadyCaptured, code, err)

	case stripeErr.Type == stripe.ErrorTypeInvalidRequest:
		return NewError(ClassInvalidState, code, err)

	default:
		return NewError(ClassSystemError, code, err)
	}
}
