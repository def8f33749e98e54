package services

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is an automated payment provider.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	Capture(ctx context.Context, gatewayPaymentID, payerID string) (*CaptureResult, error)
	CheckStatus(ctx context.Context, gatewayPaymentID string) (*CaptureResult, error)
}

type ChargeRequest struct {
	Ref         string
	Amount      decimal.Decimal
	Currency    string
	Description string
	ReturnURL   string
	CancelURL   string
}

// Charge is a created, not yet approved, gateway payment.
type Charge struct {
	GatewayPaymentID string
	ApprovalURL      string
}

// Gateway states a capture can report.
const (
	CaptureCreated   = "created"
	CaptureApproved  = "approved"
	CaptureCompleted = "completed"
	CaptureFailed    = "failed"
)

type CaptureResult struct {
	GatewayPaymentID string
	PayerID          string
	Amount           decimal.Decimal
	Currency         string
	State            string
}

// Settled reports whether the gateway considers the money collected.
func (r CaptureResult) Settled() bool {
	return r.State == CaptureApproved || r.State == CaptureCompleted
}
