// Package gateway wraps the external payment gateway. Everything here is a
// remote call: never inside a store transaction, always fallible, and every
// failure surfaces as a GATEWAY_ERROR fault the saga layer compensates for.
package gateway

import (
	"context"
	"errors"
)

// PaymentIntent mirrors the gateway's payment intent object.
type PaymentIntent struct {
	ID       string
	ChargeID string
	Amount   int64 // minor units
	Currency string
	Status   string // requires_confirmation, requires_capture, succeeded, canceled
}

// Transfer is a completed transfer to a worker's connected account.
type Transfer struct {
	ID                 string
	Amount             int64
	DestinationAccount string
}

// Reversal is a transfer reversal. Partial reversals carry the amount the
// gateway actually clawed back.
type Reversal struct {
	ID         string
	TransferID string
	Amount     int64
}

// Refund is a charge refund back to the poster.
type Refund struct {
	ID       string
	ChargeID string
	Amount   int64
	Status   string
}

// Balance is a destination account's available balance at observation time.
type Balance struct {
	AccountID string
	Available int64
}

// CreateIntentParams parameterizes CreatePaymentIntent.
type CreateIntentParams struct {
	Amount   int64
	Currency string
	PosterID string
	TaskID   string
	// Manual capture keeps funds authorized but not captured until release.
	ManualCapture bool
}

// TransferParams parameterizes CreateTransfer.
type TransferParams struct {
	Amount             int64
	Currency           string
	DestinationAccount string
	TaskID             string
	// Instant routes through the instant payout rail for an extra fee.
	Instant bool
}

// ErrInsufficientFunds is returned by ReverseTransfer when the destination
// account no longer holds the transferred amount. The force-refund saga
// downgrades to partial_refund and freezes the account when it sees this.
var ErrInsufficientFunds = errors.New("gateway: insufficient funds for reversal")

// IsInsufficientFunds reports whether err is the reversal shortfall case,
// however deeply wrapped.
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

// Client is the payment gateway surface the money engine drives. Implementors
// must be safe for concurrent use.
type Client interface {
	CreatePaymentIntent(ctx context.Context, p CreateIntentParams) (*PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error)

	CreateTransfer(ctx context.Context, p TransferParams) (*Transfer, error)
	ReverseTransfer(ctx context.Context, transferID string, amount int64) (*Reversal, error)

	RefundCharge(ctx context.Context, chargeID string, amount int64) (*Refund, error)

	GetBalance(ctx context.Context, accountID string) (*Balance, error)
}
