package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"go.uber.org/zap"

	"raffle-pix-app/internal/apperr"
	"raffle-pix-app/internal/models"
)

// sqlStore serves both SQLite dialect drivers: libsql (Turso) and sqlite3.
type sqlStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func openSQL(ctx context.Context, driver, dsn string, logger *zap.Logger) (*sqlStore, error) {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// One writer at a time; it also keeps a :memory: database alive.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &sqlStore{db: conn, logger: logger}
	if err := s.createTables(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info("database initialized", zap.String("driver", driver))
	return s, nil
}

func (s *sqlStore) createTables(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Error("error creating tables", zap.Error(err))
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const raffleColumns = `r.id, r.title, r.description, r.total_numbers, r.price_per_number, r.draw_date,
	r.status, r.winner_number, r.lottery_number, r.reserve_hours, r.created_at, r.updated_at`

func scanRaffle(row rowScanner, extra ...any) (*models.Raffle, error) {
	var (
		r                         models.Raffle
		drawDate, created, update int64
		winner                    sql.NullInt64
		lottery                   sql.NullString
	)
	dest := append([]any{
		&r.ID, &r.Title, &r.Description, &r.TotalNumbers, &r.PricePerNumber, &drawDate,
		&r.Status, &winner, &lottery, &r.ReserveHours, &created, &update,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	r.DrawDate = fromMillis(drawDate)
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(update)
	if winner.Valid {
		n := int(winner.Int64)
		r.WinnerNumber = &n
	}
	if lottery.Valid {
		r.LotteryNumber = &lottery.String
	}
	return &r, nil
}

func (s *sqlStore) CreateRaffle(ctx context.Context, r *models.Raffle) error {
	now := time.Now().UTC()
	if r.Status == "" {
		r.Status = models.RaffleActive
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO raffles (title, description, total_numbers, price_per_number, draw_date, status, reserve_hours, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		r.Title, r.Description, r.TotalNumbers, r.PricePerNumber, millis(r.DrawDate), r.Status, r.ReserveHours, millis(now), millis(now),
	).Scan(&r.ID)
	if err != nil {
		return apperr.Persistence("insert raffle", err)
	}
	r.CreatedAt, r.UpdatedAt = now, now
	return nil
}

func (s *sqlStore) GetRaffle(ctx context.Context, id int64) (*models.Raffle, error) {
	r, err := scanRaffle(s.db.QueryRowContext(ctx, `SELECT `+raffleColumns+` FROM raffles r WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrRaffleNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get raffle", err)
	}
	return r, nil
}

func (s *sqlStore) ListRaffles(ctx context.Context, activeOnly bool) ([]models.RaffleSummary, error) {
	query := `
		SELECT ` + raffleColumns + `,
			COUNT(p.id),
			COALESCE(SUM(CASE WHEN p.status = 'paid' THEN 1 ELSE 0 END), 0)
		FROM raffles r
		LEFT JOIN participants p ON p.raffle_id = r.id AND p.status <> 'expired'`
	if activeOnly {
		query += ` WHERE r.status = 'active'`
	}
	query += ` GROUP BY r.id ORDER BY r.created_at DESC, r.id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.Persistence("list raffles", err)
	}
	defer rows.Close()

	var out []models.RaffleSummary
	for rows.Next() {
		var sold, paid int
		r, err := scanRaffle(rows, &sold, &paid)
		if err != nil {
			return nil, apperr.Persistence("scan raffle", err)
		}
		out = append(out, summarize(r, sold, paid))
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list raffles", err)
	}
	return out, nil
}

func (s *sqlStore) UpdateRaffle(ctx context.Context, r *models.Raffle) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE raffles
		SET title = ?, description = ?, total_numbers = ?, price_per_number = ?, draw_date = ?, reserve_hours = ?, updated_at = ?
		WHERE id = ? AND status = 'active'
		AND NOT EXISTS (SELECT 1 FROM participants WHERE raffle_id = ? AND number > ? AND status <> 'expired')`,
		r.Title, r.Description, r.TotalNumbers, r.PricePerNumber, millis(r.DrawDate), r.ReserveHours, millis(now), r.ID,
		r.ID, r.TotalNumbers,
	)
	if err != nil {
		return apperr.Persistence("update raffle", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return updateMiss(ctx, s, r)
	}
	r.UpdatedAt = now
	return nil
}

func (s *sqlStore) DeleteRaffle(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM raffles
		WHERE id = ? AND NOT EXISTS (SELECT 1 FROM participants WHERE raffle_id = ?)`, id, id)
	if err != nil {
		return apperr.Persistence("delete raffle", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetRaffle(ctx, id); err != nil {
			return err
		}
		return apperr.ErrRaffleHasParticipants
	}
	return nil
}

func (s *sqlStore) CompleteRaffle(ctx context.Context, id int64, winnerNumber int, lotteryNumber string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE raffles
		SET status = 'completed', winner_number = ?, lottery_number = ?, updated_at = ?
		WHERE id = ? AND status = 'active'`,
		winnerNumber, lotteryNumber, millis(time.Now().UTC()), id,
	)
	if err != nil {
		return apperr.Persistence("complete raffle", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return raffleMiss(s.GetRaffle(ctx, id))
	}
	return nil
}

const participantColumns = `p.id, p.raffle_id, p.number, p.name, p.email, p.phone, p.city, p.status, p.reserved_at, p.created_at, p.updated_at`

func scanParticipant(row rowScanner, extra ...any) (*models.Participant, error) {
	var (
		p                          models.Participant
		reserved, created, updated int64
	)
	dest := append([]any{
		&p.ID, &p.RaffleID, &p.Number, &p.Name, &p.Email, &p.Phone, &p.City, &p.Status, &reserved, &created, &updated,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.ReservedAt = fromMillis(reserved)
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

func (s *sqlStore) CreateParticipant(ctx context.Context, p *models.Participant) error {
	now := time.Now().UTC()
	if p.ReservedAt.IsZero() {
		p.ReservedAt = now
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO participants (raffle_id, number, name, email, phone, city, status, reserved_at, created_at, updated_at)
		SELECT id, ?, ?, ?, ?, ?, 'reserved', ?, ?, ?
		FROM raffles
		WHERE id = ? AND status = 'active' AND ? BETWEEN 1 AND total_numbers
		RETURNING id`,
		p.Number, p.Name, p.Email, p.Phone, p.City, millis(p.ReservedAt), millis(now), millis(now),
		p.RaffleID, p.Number,
	).Scan(&p.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		r, gerr := s.GetRaffle(ctx, p.RaffleID)
		return participantMiss(r, gerr, p.Number)
	case isUniqueViolation(err):
		return apperr.ErrNumberTaken
	case err != nil:
		return apperr.Persistence("insert participant", err)
	}
	p.Status = models.ParticipantReserved
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (s *sqlStore) GetParticipant(ctx context.Context, id int64) (*models.Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants p WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrParticipantNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get participant", err)
	}
	return p, nil
}

func (s *sqlStore) GetParticipantByNumber(ctx context.Context, raffleID int64, number int) (*models.Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants p WHERE p.raffle_id = ? AND p.number = ? AND p.status <> 'expired'`,
		raffleID, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrParticipantNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get participant by number", err)
	}
	return p, nil
}

func (s *sqlStore) ListParticipants(ctx context.Context, raffleID int64) ([]models.ParticipantDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+participantColumns+`, pay.status, pay.external_id
		FROM participants p
		LEFT JOIN payments pay ON pay.participant_id = p.id
		WHERE p.raffle_id = ?
		ORDER BY p.number`, raffleID)
	if err != nil {
		return nil, apperr.Persistence("list participants", err)
	}
	defer rows.Close()

	var out []models.ParticipantDetail
	for rows.Next() {
		var status, external sql.NullString
		p, err := scanParticipant(rows, &status, &external)
		if err != nil {
			return nil, apperr.Persistence("scan participant", err)
		}
		d := models.ParticipantDetail{Participant: *p}
		if status.Valid {
			ps := models.PaymentStatus(status.String)
			d.PaymentStatus = &ps
		}
		if external.Valid {
			d.ExternalID = &external.String
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list participants", err)
	}
	return out, nil
}

func (s *sqlStore) MarkParticipantPaid(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET status = 'paid', updated_at = ? WHERE id = ? AND status = 'reserved'`,
		millis(time.Now().UTC()), id)
	if err != nil {
		return false, apperr.Persistence("mark participant paid", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	return false, paidMiss(s.GetParticipant(ctx, id))
}

func (s *sqlStore) SoldNumbers(ctx context.Context, raffleID int64) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number FROM participants
		WHERE raffle_id = ? AND status IN ('reserved', 'paid')
		ORDER BY number`, raffleID)
	if err != nil {
		return nil, apperr.Persistence("sold numbers", err)
	}
	defer rows.Close()

	numbers := []int{}
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, apperr.Persistence("scan number", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("sold numbers", err)
	}
	return numbers, nil
}

func (s *sqlStore) CountParticipants(ctx context.Context, raffleID int64) (models.ParticipantCounts, error) {
	var c models.ParticipantCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'paid' THEN 1 ELSE 0 END), 0)
		FROM participants
		WHERE raffle_id = ? AND status <> 'expired'`, raffleID).Scan(&c.Sold, &c.Paid)
	if err != nil {
		return c, apperr.Persistence("count participants", err)
	}
	return c, nil
}

func (s *sqlStore) MaxTakenNumber(ctx context.Context, raffleID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(number), 0) FROM participants WHERE raffle_id = ? AND status <> 'expired'`, raffleID).Scan(&n)
	if err != nil {
		return 0, apperr.Persistence("max taken number", err)
	}
	return n, nil
}

const expiredParticipants = `
	SELECT p.id FROM participants p
	WHERE p.raffle_id = ? AND p.status = 'reserved' AND p.reserved_at < ?
	AND NOT EXISTS (SELECT 1 FROM payments a WHERE a.participant_id = p.id AND a.status = 'approved')`

func (s *sqlStore) ReleaseExpired(ctx context.Context, raffleID int64, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Persistence("begin release", err)
	}
	defer tx.Rollback()

	now := millis(time.Now().UTC())
	if _, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = 'expired', updated_at = ?
		WHERE status <> 'approved' AND participant_id IN (`+expiredParticipants+`)`,
		now, raffleID, millis(cutoff)); err != nil {
		return 0, apperr.Persistence("release expired payments", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE participants SET status = 'expired', updated_at = ? WHERE id IN (`+expiredParticipants+`)`,
		now, raffleID, millis(cutoff))
	if err != nil {
		return 0, apperr.Persistence("release expired participants", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Persistence("commit release", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const paymentColumns = `id, participant_id, external_id, amount, status, qr_code, qr_code_base64, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p                models.Payment
		created, updated int64
	)
	if err := row.Scan(&p.ID, &p.ParticipantID, &p.ExternalID, &p.Amount, &p.Status,
		&p.QRCode, &p.QRCodeBase64, &created, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

func (s *sqlStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	now := time.Now().UTC()
	if p.Status == "" {
		p.Status = models.PaymentPending
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO payments (participant_id, external_id, amount, status, qr_code, qr_code_base64, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		p.ParticipantID, p.ExternalID, p.Amount, p.Status, p.QRCode, p.QRCodeBase64, millis(now), millis(now),
	).Scan(&p.ID)
	if isUniqueViolation(err) {
		return apperr.ErrPaymentExists
	}
	if err != nil {
		return apperr.Persistence("insert payment", err)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (s *sqlStore) getPayment(ctx context.Context, where string, arg any) (*models.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrPaymentNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get payment", err)
	}
	return p, nil
}

func (s *sqlStore) GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	return s.getPayment(ctx, `external_id = ?`, externalID)
}

func (s *sqlStore) GetPaymentByParticipant(ctx context.Context, participantID int64) (*models.Payment, error) {
	return s.getPayment(ctx, `participant_id = ?`, participantID)
}

func (s *sqlStore) UpdatePaymentStatus(ctx context.Context, externalID string, status models.PaymentStatus) (bool, error) {
	if status == models.PaymentApproved {
		_, changed, err := s.ApprovePayment(ctx, externalID)
		return changed, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = ?, updated_at = ? WHERE external_id = ? AND status NOT IN (`+finalPaymentStatuses+`)`,
		status, millis(time.Now().UTC()), externalID)
	if err != nil {
		return false, apperr.Persistence("update payment status", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := s.GetPaymentByExternalID(ctx, externalID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *sqlStore) ApprovePayment(ctx context.Context, externalID string) (*models.Payment, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, apperr.Persistence("begin approval", err)
	}
	defer tx.Rollback()

	now := millis(time.Now().UTC())
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = 'approved', updated_at = ? WHERE external_id = ? AND status NOT IN (`+finalPaymentStatuses+`)`,
		now, externalID)
	if err != nil {
		return nil, false, apperr.Persistence("approve payment", err)
	}
	changed := false
	if n, _ := res.RowsAffected(); n > 0 {
		changed = true
		if _, err := tx.ExecContext(ctx, `
			UPDATE participants SET status = 'paid', updated_at = ?
			WHERE id = (SELECT participant_id FROM payments WHERE external_id = ?) AND status = 'reserved'`,
			now, externalID); err != nil {
			return nil, false, apperr.Persistence("mark participant paid", err)
		}
	} else if changed, err = settleExpired(ctx, tx, externalID, now); err != nil {
		return nil, false, apperr.Persistence("settle expired payment", err)
	}

	p, err := scanPayment(tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, apperr.ErrPaymentNotFound
	}
	if err != nil {
		return nil, false, apperr.Persistence("get payment", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, apperr.Persistence("commit approval", err)
	}
	return p, changed, nil
}

// reclaimNumber hands an expired participant its number back, as paid, when
// the raffle is still open and nobody else holds the number.
const reclaimNumber = `
	UPDATE participants SET status = 'paid', reserved_at = ?, updated_at = ?
	WHERE id = ? AND status = 'expired'
	AND EXISTS (
		SELECT 1 FROM raffles r
		WHERE r.id = participants.raffle_id AND r.status = 'active' AND participants.number <= r.total_numbers)
	AND NOT EXISTS (
		SELECT 1 FROM participants o
		WHERE o.raffle_id = participants.raffle_id AND o.number = participants.number AND o.status <> 'expired')`

// settleExpired applies an approval that reached an expired payment. The
// payment ends approved when its number could be reclaimed, refund_required
// otherwise. It reports whether this call moved the payment.
func settleExpired(ctx context.Context, tx *sql.Tx, externalID string, now int64) (bool, error) {
	var participantID int64
	err := tx.QueryRowContext(ctx,
		`SELECT participant_id FROM payments WHERE external_id = ? AND status = 'expired'`, externalID).Scan(&participantID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	status := models.PaymentRefundRequired
	res, err := tx.ExecContext(ctx, reclaimNumber, now, now, participantID)
	switch {
	case isUniqueViolation(err):
	case err != nil:
		return false, err
	default:
		if n, _ := res.RowsAffected(); n > 0 {
			status = models.PaymentApproved
		}
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE payments SET status = ?, updated_at = ? WHERE external_id = ? AND status = 'expired'`,
		string(status), now, externalID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
