package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"raffle-pix-app/internal/apperr"
	"raffle-pix-app/internal/db"
	"raffle-pix-app/internal/models"
)

// Ledger is the authoritative view of which numbers of a raffle are free,
// reserved or paid.
type Ledger struct {
	store  db.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewLedger(store db.Store, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger, now: time.Now}
}

// release frees the abandoned reservations of r, if it expires any.
func (l *Ledger) release(ctx context.Context, r *models.Raffle) error {
	cutoff, ok := r.ReservationCutoff(l.now().UTC())
	if !ok || !r.IsActive() {
		return nil
	}
	n, err := l.store.ReleaseExpired(ctx, r.ID, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		l.logger.Info("released expired reservations",
			zap.Int64("raffle_id", r.ID),
			zap.Int64("released", n),
			zap.Int("reserve_hours", r.ReserveHours),
		)
	}
	return nil
}

func (l *Ledger) raffle(ctx context.Context, raffleID int64) (*models.Raffle, error) {
	r, err := l.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if err := l.release(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func checkRange(r *models.Raffle, number int) error {
	if number < 1 || number > r.TotalNumbers {
		return &apperr.Error{Kind: apperr.ErrNumberOutOfRange, Msg: fmt.Sprintf("number must be between 1 and %d", r.TotalNumbers)}
	}
	return nil
}

// IsAvailable reports whether no participant holds number.
func (l *Ledger) IsAvailable(ctx context.Context, raffleID int64, number int) (bool, error) {
	r, err := l.raffle(ctx, raffleID)
	if err != nil {
		return false, err
	}
	if err := checkRange(r, number); err != nil {
		return false, err
	}
	_, err = l.store.GetParticipantByNumber(ctx, raffleID, number)
	if errors.Is(err, apperr.ErrParticipantNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// Reserve claims number for buyer and returns the new participant id. Two
// concurrent calls for the same number yield exactly one success; the other
// fails with apperr.ErrNumberTaken.
func (l *Ledger) Reserve(ctx context.Context, raffleID int64, number int, buyer models.Buyer) (int64, error) {
	buyer, err := normalizeBuyer(buyer)
	if err != nil {
		return 0, err
	}

	r, err := l.raffle(ctx, raffleID)
	if err != nil {
		return 0, err
	}
	if !r.IsActive() {
		return 0, apperr.ErrRaffleClosed
	}
	if err := checkRange(r, number); err != nil {
		return 0, err
	}

	p := &models.Participant{
		RaffleID:   raffleID,
		Number:     number,
		Name:       buyer.Name,
		Email:      buyer.Email,
		Phone:      buyer.Phone,
		City:       buyer.City,
		ReservedAt: l.now().UTC(),
	}
	if err := l.store.CreateParticipant(ctx, p); err != nil {
		if errors.Is(err, apperr.ErrNumberTaken) {
			l.logger.Info("number already taken", zap.Int64("raffle_id", raffleID), zap.Int("number", number))
		}
		return 0, err
	}

	l.logger.Info("number reserved",
		zap.Int64("raffle_id", raffleID),
		zap.Int("number", number),
		zap.Int64("participant_id", p.ID),
	)
	return p.ID, nil
}

// MarkPaid moves a participant from reserved to paid. Calling it again is a
// no-op.
func (l *Ledger) MarkPaid(ctx context.Context, participantID int64) error {
	changed, err := l.store.MarkParticipantPaid(ctx, participantID)
	if err != nil {
		return err
	}
	if changed {
		l.logger.Info("participant marked paid", zap.Int64("participant_id", participantID))
	}
	return nil
}

// SoldNumbers lists the reserved and paid numbers in ascending order.
func (l *Ledger) SoldNumbers(ctx context.Context, raffleID int64) ([]int, error) {
	if _, err := l.raffle(ctx, raffleID); err != nil {
		return nil, err
	}
	return l.store.SoldNumbers(ctx, raffleID)
}

func (l *Ledger) Stats(ctx context.Context, raffleID int64) (*models.RaffleStats, error) {
	r, err := l.raffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	c, err := l.store.CountParticipants(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	return &models.RaffleStats{
		RaffleID:         r.ID,
		TotalNumbers:     r.TotalNumbers,
		SoldNumbers:      c.Sold,
		PaidNumbers:      c.Paid,
		ReservedNumbers:  c.Sold - c.Paid,
		AvailableNumbers: r.TotalNumbers - c.Sold,
		PricePerNumber:   r.PricePerNumber,
		TotalRevenue:     r.PricePerNumber.Mul(decimal.NewFromInt(int64(c.Paid))),
	}, nil
}

// Participants is the public list of taken numbers with the holder's name.
func (l *Ledger) Participants(ctx context.Context, raffleID int64) ([]models.ParticipantEntry, error) {
	if _, err := l.raffle(ctx, raffleID); err != nil {
		return nil, err
	}
	list, err := l.store.ListParticipants(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	out := make([]models.ParticipantEntry, 0, len(list))
	for _, p := range list {
		if p.Status == models.ParticipantExpired {
			continue
		}
		out = append(out, models.ParticipantEntry{Number: p.Number, Name: p.Name, Status: p.Status})
	}
	return out, nil
}

// ParticipantDetails is the admin list, joined with payment status. Expired
// reservations are included.
func (l *Ledger) ParticipantDetails(ctx context.Context, raffleID int64) ([]models.ParticipantDetail, error) {
	if _, err := l.raffle(ctx, raffleID); err != nil {
		return nil, err
	}
	list, err := l.store.ListParticipants(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.ParticipantDetail{}
	}
	return list, nil
}
