package gateway

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"raffle-pix-app/internal/apperr"
	"raffle-pix-app/internal/models"
)

const (
	StubIDPrefix     = "test_"
	stubQRCode       = "https://api.qrserver.com/v1/create-qr-code/?size=200x200&data=PIX_SIMULADO"
	stubQRCodeBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="
)

// Stub stands in for the provider when no access token is configured. Charges
// are always pending; a status poll reports approved about half of the time.
type Stub struct {
	mu     sync.Mutex
	rng    *rand.Rand
	logger *zap.Logger
}

func NewStub(logger *zap.Logger) *Stub {
	return NewStubWithRand(rand.New(rand.NewSource(time.Now().UnixNano())), logger)
}

// NewStubWithRand lets tests pin the poll outcome.
func NewStubWithRand(rng *rand.Rand, logger *zap.Logger) *Stub {
	return &Stub{rng: rng, logger: logger}
}

func (s *Stub) CreatePixCharge(_ context.Context, req ChargeRequest) (*Charge, error) {
	id := StubIDPrefix + uuid.NewString()
	s.logger.Info("simulated pix charge created",
		zap.String("external_id", id),
		zap.String("amount", req.Amount.StringFixed(2)),
	)
	return &Charge{
		ExternalID:   id,
		Status:       models.PaymentPending,
		QRCode:       stubQRCode,
		QRCodeBase64: stubQRCodeBase64,
	}, nil
}

func (s *Stub) GetChargeStatus(_ context.Context, externalID string) (models.PaymentStatus, error) {
	if !strings.HasPrefix(externalID, StubIDPrefix) {
		return "", apperr.InvalidInput("invalid payment id %q", externalID)
	}

	s.mu.Lock()
	approved := s.rng.Float64() > 0.5
	s.mu.Unlock()

	if approved {
		return models.PaymentApproved, nil
	}
	return models.PaymentPending, nil
}
