package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"raffle-pix-app/internal/apperr"
	"raffle-pix-app/internal/models"
)

const pgUniqueViolation = "23505"

type pgStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func openPostgres(ctx context.Context, connString string, logger *zap.Logger) (*pgStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &pgStore{pool: pool, logger: logger}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			logger.Error("error creating tables", zap.Error(err))
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	logger.Info("database initialized", zap.String("driver", "postgres"))
	return s, nil
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func scanPgRaffle(row pgx.Row, extra ...any) (*models.Raffle, error) {
	var (
		r       models.Raffle
		winner  *int32
		lottery *string
	)
	dest := append([]any{
		&r.ID, &r.Title, &r.Description, &r.TotalNumbers, &r.PricePerNumber, &r.DrawDate,
		&r.Status, &winner, &lottery, &r.ReserveHours, &r.CreatedAt, &r.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if winner != nil {
		n := int(*winner)
		r.WinnerNumber = &n
	}
	r.LotteryNumber = lottery
	return &r, nil
}

func (s *pgStore) CreateRaffle(ctx context.Context, r *models.Raffle) error {
	if r.Status == "" {
		r.Status = models.RaffleActive
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO raffles (title, description, total_numbers, price_per_number, draw_date, status, reserve_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		r.Title, r.Description, r.TotalNumbers, r.PricePerNumber, r.DrawDate, string(r.Status), r.ReserveHours,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return apperr.Persistence("insert raffle", err)
	}
	return nil
}

func (s *pgStore) GetRaffle(ctx context.Context, id int64) (*models.Raffle, error) {
	r, err := scanPgRaffle(s.pool.QueryRow(ctx, `SELECT `+raffleColumns+` FROM raffles r WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrRaffleNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get raffle", err)
	}
	return r, nil
}

func (s *pgStore) ListRaffles(ctx context.Context, activeOnly bool) ([]models.RaffleSummary, error) {
	query := `
		SELECT ` + raffleColumns + `,
			COUNT(p.id)::int,
			COALESCE(SUM(CASE WHEN p.status = 'paid' THEN 1 ELSE 0 END), 0)::int
		FROM raffles r
		LEFT JOIN participants p ON p.raffle_id = r.id AND p.status <> 'expired'`
	if activeOnly {
		query += ` WHERE r.status = 'active'`
	}
	query += ` GROUP BY r.id ORDER BY r.created_at DESC, r.id DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, apperr.Persistence("list raffles", err)
	}
	defer rows.Close()

	var out []models.RaffleSummary
	for rows.Next() {
		var sold, paid int
		r, err := scanPgRaffle(rows, &sold, &paid)
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

// UpdateRaffle locks the raffle row first: reservations take a share lock on
// it, so the guarded UPDATE runs on a snapshot that includes every committed
// participant.
func (s *pgStore) UpdateRaffle(ctx context.Context, r *models.Raffle) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT 1 FROM raffles WHERE id = $1 FOR UPDATE`, r.ID); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `
			UPDATE raffles
			SET title = $1, description = $2, total_numbers = $3, price_per_number = $4, draw_date = $5, reserve_hours = $6, updated_at = NOW()
			WHERE id = $7 AND status = 'active'
			AND NOT EXISTS (SELECT 1 FROM participants WHERE raffle_id = $7 AND number > $3 AND status <> 'expired')
			RETURNING updated_at`,
			r.Title, r.Description, r.TotalNumbers, r.PricePerNumber, r.DrawDate, r.ReserveHours, r.ID,
		).Scan(&r.UpdatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return updateMiss(ctx, s, r)
	}
	if err != nil {
		return apperr.Persistence("update raffle", err)
	}
	return nil
}

func (s *pgStore) DeleteRaffle(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM raffles
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM participants WHERE raffle_id = $1)`, id)
	if err != nil {
		return apperr.Persistence("delete raffle", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRaffle(ctx, id); err != nil {
			return err
		}
		return apperr.ErrRaffleHasParticipants
	}
	return nil
}

func (s *pgStore) CompleteRaffle(ctx context.Context, id int64, winnerNumber int, lotteryNumber string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE raffles
		SET status = 'completed', winner_number = $1, lottery_number = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'active'`,
		winnerNumber, lotteryNumber, id,
	)
	if err != nil {
		return apperr.Persistence("complete raffle", err)
	}
	if tag.RowsAffected() == 0 {
		return raffleMiss(s.GetRaffle(ctx, id))
	}
	return nil
}

func scanPgParticipant(row pgx.Row, extra ...any) (*models.Participant, error) {
	var p models.Participant
	dest := append([]any{
		&p.ID, &p.RaffleID, &p.Number, &p.Name, &p.Email, &p.Phone, &p.City, &p.Status,
		&p.ReservedAt, &p.CreatedAt, &p.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *pgStore) CreateParticipant(ctx context.Context, p *models.Participant) error {
	if p.ReservedAt.IsZero() {
		p.ReservedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO participants (raffle_id, number, name, email, phone, city, status, reserved_at)
		SELECT id, $2::int, $3::text, $4::text, $5::text, $6::text, 'reserved', $7::timestamptz
		FROM raffles
		WHERE id = $1 AND status = 'active' AND $2::int BETWEEN 1 AND total_numbers
		FOR SHARE
		RETURNING id, created_at, updated_at`,
		p.RaffleID, p.Number, p.Name, p.Email, p.Phone, p.City, p.ReservedAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		r, gerr := s.GetRaffle(ctx, p.RaffleID)
		return participantMiss(r, gerr, p.Number)
	case isPgUniqueViolation(err):
		return apperr.ErrNumberTaken
	case err != nil:
		return apperr.Persistence("insert participant", err)
	}
	p.Status = models.ParticipantReserved
	return nil
}

func (s *pgStore) GetParticipant(ctx context.Context, id int64) (*models.Participant, error) {
	p, err := scanPgParticipant(s.pool.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants p WHERE p.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrParticipantNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get participant", err)
	}
	return p, nil
}

func (s *pgStore) GetParticipantByNumber(ctx context.Context, raffleID int64, number int) (*models.Participant, error) {
	p, err := scanPgParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants p WHERE p.raffle_id = $1 AND p.number = $2 AND p.status <> 'expired'`,
		raffleID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrParticipantNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get participant by number", err)
	}
	return p, nil
}

func (s *pgStore) ListParticipants(ctx context.Context, raffleID int64) ([]models.ParticipantDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+participantColumns+`, pay.status, pay.external_id
		FROM participants p
		LEFT JOIN payments pay ON pay.participant_id = p.id
		WHERE p.raffle_id = $1
		ORDER BY p.number`, raffleID)
	if err != nil {
		return nil, apperr.Persistence("list participants", err)
	}
	defer rows.Close()

	var out []models.ParticipantDetail
	for rows.Next() {
		var status, external *string
		p, err := scanPgParticipant(rows, &status, &external)
		if err != nil {
			return nil, apperr.Persistence("scan participant", err)
		}
		d := models.ParticipantDetail{Participant: *p, ExternalID: external}
		if status != nil {
			ps := models.PaymentStatus(*status)
			d.PaymentStatus = &ps
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list participants", err)
	}
	return out, nil
}

func (s *pgStore) MarkParticipantPaid(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participants SET status = 'paid', updated_at = NOW() WHERE id = $1 AND status = 'reserved'`, id)
	if err != nil {
		return false, apperr.Persistence("mark participant paid", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	return false, paidMiss(s.GetParticipant(ctx, id))
}

func (s *pgStore) SoldNumbers(ctx context.Context, raffleID int64) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT number FROM participants
		WHERE raffle_id = $1 AND status IN ('reserved', 'paid')
		ORDER BY number`, raffleID)
	if err != nil {
		return nil, apperr.Persistence("sold numbers", err)
	}
	numbers, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, apperr.Persistence("sold numbers", err)
	}
	if numbers == nil {
		numbers = []int{}
	}
	return numbers, nil
}

func (s *pgStore) CountParticipants(ctx context.Context, raffleID int64) (models.ParticipantCounts, error) {
	var c models.ParticipantCounts
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)::int, COALESCE(SUM(CASE WHEN status = 'paid' THEN 1 ELSE 0 END), 0)::int
		FROM participants
		WHERE raffle_id = $1 AND status <> 'expired'`, raffleID).Scan(&c.Sold, &c.Paid)
	if err != nil {
		return c, apperr.Persistence("count participants", err)
	}
	return c, nil
}

func (s *pgStore) MaxTakenNumber(ctx context.Context, raffleID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(number), 0) FROM participants WHERE raffle_id = $1 AND status <> 'expired'`, raffleID).Scan(&n)
	if err != nil {
		return 0, apperr.Persistence("max taken number", err)
	}
	return n, nil
}

const pgExpiredParticipants = `
	SELECT p.id FROM participants p
	WHERE p.raffle_id = $1 AND p.status = 'reserved' AND p.reserved_at < $2
	AND NOT EXISTS (SELECT 1 FROM payments a WHERE a.participant_id = p.id AND a.status = 'approved')`

func (s *pgStore) ReleaseExpired(ctx context.Context, raffleID int64, cutoff time.Time) (int64, error) {
	var released int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE payments SET status = 'expired', updated_at = NOW()
			WHERE status <> 'approved' AND participant_id IN (`+pgExpiredParticipants+`)`,
			raffleID, cutoff); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE participants SET status = 'expired', updated_at = NOW() WHERE id IN (`+pgExpiredParticipants+`)`,
			raffleID, cutoff)
		if err != nil {
			return err
		}
		released = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, apperr.Persistence("release expired reservations", err)
	}
	return released, nil
}

func scanPgPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	if err := row.Scan(&p.ID, &p.ParticipantID, &p.ExternalID, &p.Amount, &p.Status,
		&p.QRCode, &p.QRCodeBase64, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *pgStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	if p.Status == "" {
		p.Status = models.PaymentPending
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO payments (participant_id, external_id, amount, status, qr_code, qr_code_base64)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		p.ParticipantID, p.ExternalID, p.Amount, string(p.Status), p.QRCode, p.QRCodeBase64,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if isPgUniqueViolation(err) {
		return apperr.ErrPaymentExists
	}
	if err != nil {
		return apperr.Persistence("insert payment", err)
	}
	return nil
}

func (s *pgStore) getPayment(ctx context.Context, q pgx.Row) (*models.Payment, error) {
	p, err := scanPgPayment(q)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrPaymentNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get payment", err)
	}
	return p, nil
}

func (s *pgStore) GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	return s.getPayment(ctx, s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_id = $1`, externalID))
}

func (s *pgStore) GetPaymentByParticipant(ctx context.Context, participantID int64) (*models.Payment, error) {
	return s.getPayment(ctx, s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE participant_id = $1`, participantID))
}

func (s *pgStore) UpdatePaymentStatus(ctx context.Context, externalID string, status models.PaymentStatus) (bool, error) {
	if status == models.PaymentApproved {
		_, changed, err := s.ApprovePayment(ctx, externalID)
		return changed, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE payments SET status = $1, updated_at = NOW() WHERE external_id = $2 AND status NOT IN (`+finalPaymentStatuses+`)`,
		string(status), externalID)
	if err != nil {
		return false, apperr.Persistence("update payment status", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := s.GetPaymentByExternalID(ctx, externalID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *pgStore) ApprovePayment(ctx context.Context, externalID string) (*models.Payment, bool, error) {
	var (
		payment *models.Payment
		changed bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE payments SET status = 'approved', updated_at = NOW() WHERE external_id = $1 AND status NOT IN (`+finalPaymentStatuses+`)`,
			externalID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			changed = true
			if _, err := tx.Exec(ctx, `
				UPDATE participants SET status = 'paid', updated_at = NOW()
				WHERE id = (SELECT participant_id FROM payments WHERE external_id = $1) AND status = 'reserved'`,
				externalID); err != nil {
				return err
			}
		} else if changed, err = settlePgExpired(ctx, tx, externalID); err != nil {
			return err
		}
		payment, err = scanPgPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_id = $1`, externalID))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, apperr.ErrPaymentNotFound
	}
	if err != nil {
		return nil, false, apperr.Persistence("approve payment", err)
	}
	return payment, changed, nil
}

const pgReclaimNumber = `
	UPDATE participants SET status = 'paid', reserved_at = NOW(), updated_at = NOW()
	WHERE id = $1 AND status = 'expired'
	AND EXISTS (
		SELECT 1 FROM raffles r
		WHERE r.id = participants.raffle_id AND r.status = 'active' AND participants.number <= r.total_numbers)
	AND NOT EXISTS (
		SELECT 1 FROM participants o
		WHERE o.raffle_id = participants.raffle_id AND o.number = participants.number AND o.status <> 'expired')`

// settlePgExpired is the Postgres form of settleExpired. The reclaim runs in
// a savepoint so a unique violation from a racing reservation leaves the
// outer transaction usable.
func settlePgExpired(ctx context.Context, tx pgx.Tx, externalID string) (bool, error) {
	var participantID int64
	err := tx.QueryRow(ctx,
		`SELECT participant_id FROM payments WHERE external_id = $1 AND status = 'expired' FOR UPDATE`,
		externalID).Scan(&participantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `
		SELECT 1 FROM raffles WHERE id = (SELECT raffle_id FROM participants WHERE id = $1) FOR SHARE`,
		participantID); err != nil {
		return false, err
	}

	status := models.PaymentRefundRequired
	err = pgx.BeginFunc(ctx, tx, func(sp pgx.Tx) error {
		tag, err := sp.Exec(ctx, pgReclaimNumber, participantID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			status = models.PaymentApproved
		}
		return nil
	})
	if err != nil && !isPgUniqueViolation(err) {
		return false, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE payments SET status = $1, updated_at = NOW() WHERE external_id = $2 AND status = 'expired'`,
		string(status), externalID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
