package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"raffle-pix-app/internal/apperr"
	"raffle-pix-app/internal/db"
	"raffle-pix-app/internal/gateway"
	"raffle-pix-app/internal/models"
)

// Notifier is told about payments that just became approved, and about late
// payments that have to be refunded by hand.
type Notifier interface {
	PaymentApproved(ctx context.Context, n ApprovalNotice)
	RefundRequired(ctx context.Context, n ApprovalNotice)
}

// ApprovalNotice carries what an admin wants to read about a new sale.
type ApprovalNotice struct {
	RaffleTitle string
	Number      int
	BuyerName   string
	BuyerEmail  string
	Amount      string
	ExternalID  string
}

// ReconcileResult reports the outcome of applying a gateway status.
type ReconcileResult struct {
	ExternalID string               `json:"external_payment_id"`
	Status     models.PaymentStatus `json:"status"`
	Approved   bool                 `json:"approved"`
	Changed    bool                 `json:"changed"`
}

// Reconciler drives a payment from pending to approved, exactly once, from
// whichever source reports it first: a status poll, a webhook or an admin
// simulation.
type Reconciler struct {
	store    db.Store
	gateway  gateway.Gateway
	notifier Notifier
	logger   *zap.Logger
}

func NewReconciler(store db.Store, gw gateway.Gateway, notifier Notifier, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, gateway: gw, notifier: notifier, logger: logger}
}

// OpenPayment creates the PIX charge for a reserved participant. A participant
// keeps a single payment: when one exists and is not approved it is returned
// as is, without a new charge.
func (rc *Reconciler) OpenPayment(ctx context.Context, participantID int64) (*models.Payment, error) {
	p, err := rc.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case models.ParticipantPaid:
		return nil, apperr.ErrAlreadyPaid
	case models.ParticipantExpired:
		return nil, apperr.ErrReservationExpired
	}

	existing, err := rc.store.GetPaymentByParticipant(ctx, participantID)
	switch {
	case err == nil:
		if existing.Status == models.PaymentApproved {
			return nil, apperr.ErrAlreadyPaid
		}
		rc.logger.Info("reusing open payment",
			zap.Int64("participant_id", participantID),
			zap.String("external_id", existing.ExternalID),
		)
		return existing, nil
	case !errors.Is(err, apperr.ErrPaymentNotFound):
		return nil, err
	}

	r, err := rc.store.GetRaffle(ctx, p.RaffleID)
	if err != nil {
		return nil, err
	}
	if !r.IsActive() {
		return nil, apperr.ErrRaffleClosed
	}

	charge, err := rc.gateway.CreatePixCharge(ctx, gateway.ChargeRequest{
		Amount:      r.PricePerNumber,
		Description: fmt.Sprintf("Raffle: %s - Number %d", r.Title, p.Number),
		PayerEmail:  p.Email,
		PayerName:   p.Name,
		Reference:   strconv.FormatInt(p.ID, 10),
	})
	if err != nil {
		return nil, apperr.Gateway("create pix charge", err)
	}

	payment := &models.Payment{
		ParticipantID: p.ID,
		ExternalID:    charge.ExternalID,
		Amount:        r.PricePerNumber,
		Status:        models.PaymentPending,
		QRCode:        charge.QRCode,
		QRCodeBase64:  charge.QRCodeBase64,
	}
	if err := rc.store.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, apperr.ErrPaymentExists) {
			// A concurrent request won; hand back its payment.
			return rc.store.GetPaymentByParticipant(ctx, participantID)
		}
		return nil, err
	}

	rc.logger.Info("payment opened",
		zap.Int64("participant_id", p.ID),
		zap.String("external_id", payment.ExternalID),
		zap.String("amount", payment.Amount.StringFixed(2)),
	)
	return payment, nil
}

// Reconcile applies a status reported for externalID. Approval is a
// compare-and-swap: only the first approval marks the participant paid and
// notifies; later ones report Changed=false. An approval for an expired
// reservation takes the number back when it is still free and fails with
// apperr.ErrRefundRequired when it is not.
func (rc *Reconciler) Reconcile(ctx context.Context, externalID string, status models.PaymentStatus) (*ReconcileResult, error) {
	if externalID == "" {
		return nil, apperr.InvalidInput("payment id is required")
	}
	if status == "" {
		return nil, apperr.InvalidInput("payment status is required")
	}

	if status != models.PaymentApproved {
		changed, err := rc.store.UpdatePaymentStatus(ctx, externalID, status)
		if err != nil {
			return nil, err
		}
		current := status
		if !changed {
			pay, err := rc.store.GetPaymentByExternalID(ctx, externalID)
			if err != nil {
				return nil, err
			}
			current = pay.Status
		}
		return &ReconcileResult{
			ExternalID: externalID,
			Status:     current,
			Approved:   current == models.PaymentApproved,
			Changed:    changed,
		}, nil
	}

	pay, changed, err := rc.store.ApprovePayment(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if pay.Status == models.PaymentRefundRequired {
		if changed {
			rc.logger.Error("approved payment arrived after its number was given away, refund required",
				zap.String("external_id", externalID),
				zap.Int64("participant_id", pay.ParticipantID),
				zap.String("amount", pay.Amount.StringFixed(2)),
			)
			if n, ok := rc.notice(ctx, pay); ok {
				rc.notifier.RefundRequired(ctx, n)
			}
		}
		return nil, apperr.ErrRefundRequired
	}
	if changed {
		rc.logger.Info("payment approved",
			zap.String("external_id", externalID),
			zap.Int64("participant_id", pay.ParticipantID),
		)
		if n, ok := rc.notice(ctx, pay); ok {
			rc.notifier.PaymentApproved(ctx, n)
		}
	}
	return &ReconcileResult{
		ExternalID: externalID,
		Status:     pay.Status,
		Approved:   true,
		Changed:    changed,
	}, nil
}

func (rc *Reconciler) notice(ctx context.Context, pay *models.Payment) (ApprovalNotice, bool) {
	if rc.notifier == nil {
		return ApprovalNotice{}, false
	}
	p, err := rc.store.GetParticipant(ctx, pay.ParticipantID)
	if err != nil {
		rc.logger.Warn("payment notice skipped", zap.String("external_id", pay.ExternalID), zap.Error(err))
		return ApprovalNotice{}, false
	}
	r, err := rc.store.GetRaffle(ctx, p.RaffleID)
	if err != nil {
		rc.logger.Warn("payment notice skipped", zap.String("external_id", pay.ExternalID), zap.Error(err))
		return ApprovalNotice{}, false
	}
	return ApprovalNotice{
		RaffleTitle: r.Title,
		Number:      p.Number,
		BuyerName:   p.Name,
		BuyerEmail:  p.Email,
		Amount:      pay.Amount.StringFixed(2),
		ExternalID:  pay.ExternalID,
	}, true
}

// CheckStatus asks the gateway for the current status of externalID and
// reconciles it.
func (rc *Reconciler) CheckStatus(ctx context.Context, externalID string) (*ReconcileResult, error) {
	pay, err := rc.store.GetPaymentByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	switch pay.Status {
	case models.PaymentApproved:
		return &ReconcileResult{ExternalID: externalID, Status: pay.Status, Approved: true}, nil
	case models.PaymentRefundRequired:
		return nil, apperr.ErrRefundRequired
	}

	status, err := rc.gateway.GetChargeStatus(ctx, externalID)
	if err != nil {
		if apperr.KindOf(err) == nil {
			err = apperr.Gateway("get payment status", err)
		}
		return nil, err
	}
	return rc.Reconcile(ctx, externalID, status)
}

// PaymentID accepts the provider's id as a JSON number or string.
type PaymentID string

func (id *PaymentID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = PaymentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = PaymentID(n.String())
	return nil
}

// Notification is the body of a provider webhook.
type Notification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID PaymentID `json:"id"`
	} `json:"data"`
}

// HandleWebhook validates a provider notification and, for payment creations
// and updates, pulls the current status. Other actions are acknowledged and
// ignored; the returned result is nil for them.
func (rc *Reconciler) HandleWebhook(ctx context.Context, n Notification) (*ReconcileResult, error) {
	if n.Type != "payment" || n.Data.ID == "" {
		return nil, apperr.InvalidInput("invalid webhook payload")
	}
	externalID := string(n.Data.ID)
	rc.logger.Info("webhook received", zap.String("action", n.Action), zap.String("external_id", externalID))

	switch n.Action {
	case "payment.created", "payment.updated":
	default:
		return nil, nil
	}

	res, err := rc.CheckStatus(ctx, externalID)
	switch {
	case errors.Is(err, apperr.ErrPaymentNotFound):
		// Not one of ours; acknowledging stops the provider from retrying.
		rc.logger.Warn("webhook for unknown payment", zap.String("external_id", externalID))
		return nil, nil
	case errors.Is(err, apperr.ErrRefundRequired):
		// Already flagged for the admin; a retry cannot change the outcome.
		return nil, nil
	}
	return res, err
}

// SimulateApproval approves a payment without asking the gateway.
func (rc *Reconciler) SimulateApproval(ctx context.Context, externalID string) (*ReconcileResult, error) {
	rc.logger.Warn("simulating payment approval", zap.String("external_id", externalID))
	return rc.Reconcile(ctx, externalID, models.PaymentApproved)
}
