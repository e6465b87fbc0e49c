package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	mpconfig "github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"go.uber.org/zap"

	"raffle-pix-app/internal/apperr"
	"raffle-pix-app/internal/config"
	"raffle-pix-app/internal/models"
)

// MercadoPago creates and reads PIX payments through the official SDK.
type MercadoPago struct {
	payments        payment.Client
	notificationURL string
	timeout         time.Duration
	logger          *zap.Logger
}

func NewMercadoPago(cfg config.GatewayConfig, logger *zap.Logger) (*MercadoPago, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
		if err != nil {
			return nil, fmt.Errorf("parse MERCADOPAGO_BASE_URL: %w", err)
		}
		httpClient.Transport = baseURLTransport{base: base, next: http.DefaultTransport}
	}

	mpCfg, err := mpconfig.New(cfg.AccessToken, mpconfig.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("mercado pago config: %w", err)
	}
	return &MercadoPago{
		payments:        payment.NewClient(mpCfg),
		notificationURL: cfg.NotificationURL,
		timeout:         cfg.Timeout,
		logger:          logger,
	}, nil
}

// baseURLTransport sends the SDK's requests to another scheme and host, for
// sandboxes and proxies in front of api.mercadopago.com.
type baseURLTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t baseURLTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.base.Scheme
	out.URL.Host = t.base.Host
	out.URL.Path = t.base.Path + req.URL.Path
	out.Host = t.base.Host
	return t.next.RoundTrip(out)
}

func (m *MercadoPago) CreatePixCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	first, last := splitName(req.PayerName)
	res, err := m.payments.Create(ctx, payment.Request{
		TransactionAmount: req.Amount.Round(2).InexactFloat64(),
		Description:       req.Description,
		PaymentMethodID:   "pix",
		Payer: &payment.PayerRequest{
			Email:     req.PayerEmail,
			FirstName: first,
			LastName:  last,
		},
		ExternalReference: req.Reference,
		NotificationURL:   m.notificationURL,
	})
	if err != nil {
		m.logger.Error("failed to create pix charge", zap.String("reference", req.Reference), zap.Error(err))
		return nil, apperr.Gateway("create pix charge", err)
	}
	if res.ID == 0 {
		return nil, apperr.Gateway("create pix charge", fmt.Errorf("response without payment id"))
	}

	externalID := strconv.Itoa(res.ID)
	m.logger.Info("pix charge created", zap.String("external_id", externalID), zap.String("status", res.Status))
	return &Charge{
		ExternalID:   externalID,
		Status:       models.PaymentStatus(res.Status),
		QRCode:       res.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64: res.PointOfInteraction.TransactionData.QRCodeBase64,
	}, nil
}

func (m *MercadoPago) GetChargeStatus(ctx context.Context, externalID string) (models.PaymentStatus, error) {
	id, err := strconv.Atoi(externalID)
	if err != nil || id <= 0 {
		return "", apperr.InvalidInput("invalid payment id %q", externalID)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res, err := m.payments.Get(ctx, id)
	if err != nil {
		m.logger.Error("failed to fetch payment status", zap.String("external_id", externalID), zap.Error(err))
		return "", apperr.Gateway("get payment status", err)
	}
	if res.Status == "" {
		return "", apperr.Gateway("get payment status", fmt.Errorf("response without status"))
	}
	return models.PaymentStatus(res.Status), nil
}

func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
