package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"raffle-pix-app/internal/apperr"
	"raffle-pix-app/internal/config"
	"raffle-pix-app/internal/models"
)

// Store is the persistent state of raffles, participants and payments.
//
// Writes that guard an invariant are single conditional statements (or one
// transaction): a participant insert fails on the live (raffle_id, number)
// unique index, a payment approval only applies when the row is not final yet.
// Expired participants and payments are kept; they no longer hold a number.
type Store interface {
	CreateRaffle(ctx context.Context, r *models.Raffle) error
	GetRaffle(ctx context.Context, id int64) (*models.Raffle, error)
	ListRaffles(ctx context.Context, activeOnly bool) ([]models.RaffleSummary, error)
	// UpdateRaffle rewrites the editable fields of an active raffle. The write
	// is refused with apperr.ErrTotalBelowTaken when a live participant holds
	// a number above the new total.
	UpdateRaffle(ctx context.Context, r *models.Raffle) error
	// DeleteRaffle refuses with apperr.ErrRaffleHasParticipants, expired rows
	// included.
	DeleteRaffle(ctx context.Context, id int64) error
	// CompleteRaffle moves an active raffle to completed, storing the draw.
	CompleteRaffle(ctx context.Context, id int64, winnerNumber int, lotteryNumber string) error

	// CreateParticipant inserts a reserved participant. The insert only lands
	// when the raffle is active and the number is in range; a duplicate
	// (raffle_id, number) returns apperr.ErrNumberTaken.
	CreateParticipant(ctx context.Context, p *models.Participant) error
	GetParticipant(ctx context.Context, id int64) (*models.Participant, error)
	// GetParticipantByNumber only sees live (reserved or paid) participants.
	GetParticipantByNumber(ctx context.Context, raffleID int64, number int) (*models.Participant, error)
	ListParticipants(ctx context.Context, raffleID int64) ([]models.ParticipantDetail, error)
	// MarkParticipantPaid reports whether the row moved from reserved to paid.
	// An expired participant returns apperr.ErrReservationExpired.
	MarkParticipantPaid(ctx context.Context, id int64) (bool, error)
	SoldNumbers(ctx context.Context, raffleID int64) ([]int, error)
	CountParticipants(ctx context.Context, raffleID int64) (models.ParticipantCounts, error)
	MaxTakenNumber(ctx context.Context, raffleID int64) (int, error)
	// ReleaseExpired marks reserved participants older than cutoff whose
	// payment, if any, is not approved as expired, together with their
	// pending payments. The numbers become free again.
	ReleaseExpired(ctx context.Context, raffleID int64, cutoff time.Time) (int64, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	GetPaymentByParticipant(ctx context.Context, participantID int64) (*models.Payment, error)
	// UpdatePaymentStatus never moves a payment away from a final status
	// (approved, expired, refund_required); it reports whether the row was
	// written.
	UpdatePaymentStatus(ctx context.Context, externalID string, status models.PaymentStatus) (bool, error)
	// ApprovePayment sets the payment approved and its participant paid in one
	// transaction. An expired payment takes its number back when the raffle is
	// active and the number is still free; otherwise it ends refund_required.
	// changed is false when the payment was already approved or flagged.
	ApprovePayment(ctx context.Context, externalID string) (p *models.Payment, changed bool, err error)

	Close() error
}

// Open builds the store selected by cfg.Driver and prepares its schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverLibSQL:
		dsn, err := libsqlDSN(cfg.URL, cfg.AuthToken)
		if err != nil {
			return nil, err
		}
		return openSQL(ctx, "libsql", dsn, logger)
	case config.DriverSQLite:
		return openSQL(ctx, "sqlite3", cfg.URL, logger)
	case config.DriverPostgres:
		return openPostgres(ctx, cfg.URL, logger)
	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func libsqlDSN(rawURL, authToken string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse TURSO_DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("authToken", authToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// participantMiss explains why a guarded participant insert wrote nothing.
func participantMiss(r *models.Raffle, err error, number int) error {
	if err != nil {
		return err
	}
	if !r.IsActive() {
		return apperr.ErrRaffleClosed
	}
	if number < 1 || number > r.TotalNumbers {
		return apperr.ErrNumberOutOfRange
	}
	return apperr.Persistence("insert participant", fmt.Errorf("no row inserted for raffle %d number %d", r.ID, number))
}

// raffleMiss explains why a write guarded by status = 'active' wrote nothing.
func raffleMiss(r *models.Raffle, err error) error {
	if err != nil {
		return err
	}
	if !r.IsActive() {
		return apperr.ErrRaffleClosed
	}
	return apperr.Persistence("update raffle", fmt.Errorf("raffle %d not written", r.ID))
}

// updateMiss explains why a guarded raffle update wrote nothing.
func updateMiss(ctx context.Context, s Store, r *models.Raffle) error {
	cur, err := s.GetRaffle(ctx, r.ID)
	if err != nil {
		return err
	}
	if !cur.IsActive() {
		return apperr.ErrRaffleClosed
	}
	highest, err := s.MaxTakenNumber(ctx, r.ID)
	if err != nil {
		return err
	}
	if r.TotalNumbers < highest {
		return totalBelowTaken(highest)
	}
	return apperr.Persistence("update raffle", fmt.Errorf("raffle %d not written", r.ID))
}

func totalBelowTaken(highest int) error {
	return &apperr.Error{
		Kind: apperr.ErrTotalBelowTaken,
		Msg:  fmt.Sprintf("total_numbers cannot be below %d, that number is already taken", highest),
	}
}

// paidMiss explains why a reserved to paid transition wrote nothing.
func paidMiss(p *models.Participant, err error) error {
	if err != nil {
		return err
	}
	if p.Status == models.ParticipantExpired {
		return apperr.ErrReservationExpired
	}
	return nil
}

// finalPaymentStatuses is the SQL list of statuses a gateway update may not
// overwrite.
const finalPaymentStatuses = `'approved', 'expired', 'refund_required'`

// isUniqueViolation recognises constraint errors of both SQLite drivers. The
// libsql client only surfaces the message text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLITE_CONSTRAINT_UNIQUE")
}

func summarize(r *models.Raffle, sold, paid int) models.RaffleSummary {
	return models.RaffleSummary{
		Raffle:       *r,
		SoldNumbers:  sold,
		PaidNumbers:  paid,
		TotalRevenue: r.PricePerNumber.Mul(decimal.NewFromInt(int64(paid))),
	}
}
