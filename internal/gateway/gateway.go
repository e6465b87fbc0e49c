// Package gateway creates PIX charges and reads their status from the payment
// provider.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"raffle-pix-app/internal/models"
)

// ChargeRequest describes one PIX charge.
type ChargeRequest struct {
	Amount      decimal.Decimal
	Description string
	PayerEmail  string
	PayerName   string
	Reference   string // our participant id, echoed back by the provider
}

// Charge is what the provider returns for a new PIX charge.
type Charge struct {
	ExternalID   string
	Status       models.PaymentStatus
	QRCode       string
	QRCodeBase64 string
}

type Gateway interface {
	CreatePixCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetChargeStatus(ctx context.Context, externalID string) (models.PaymentStatus, error)
}
