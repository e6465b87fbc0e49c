package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"raffle-pix-app/internal/apperr"
	"raffle-pix-app/internal/db"
	"raffle-pix-app/internal/lottery"
	"raffle-pix-app/internal/models"
)

// RaffleService administers raffles and runs their draw.
type RaffleService struct {
	store               db.Store
	logger              *zap.Logger
	defaultReserveHours int
	now                 func() time.Time
}

func NewRaffleService(store db.Store, defaultReserveHours int, logger *zap.Logger) *RaffleService {
	return &RaffleService{
		store:               store,
		logger:              logger,
		defaultReserveHours: defaultReserveHours,
		now:                 time.Now,
	}
}

// DrawResult is the outcome of a draw. Winner is nil when nobody held the
// winning number.
type DrawResult struct {
	Raffle        *models.Raffle      `json:"raffle"`
	LotteryNumber string              `json:"lottery_number"`
	WinnerNumber  int                 `json:"winner_number"`
	Winner        *models.Participant `json:"winner"`
	Explanation   string              `json:"explanation"`
}

func (s *RaffleService) Create(ctx context.Context, in RaffleInput) (*models.Raffle, error) {
	if err := validateRaffle(&in); err != nil {
		return nil, err
	}
	if in.DrawDate.IsZero() {
		in.DrawDate = lottery.NextDrawDate(s.now())
	}
	hours := s.defaultReserveHours
	if in.ReserveHours != nil {
		hours = *in.ReserveHours
	}

	r := &models.Raffle{
		Title:          in.Title,
		Description:    in.Description,
		TotalNumbers:   in.TotalNumbers,
		PricePerNumber: in.PricePerNumber,
		DrawDate:       in.DrawDate,
		Status:         models.RaffleActive,
		ReserveHours:   hours,
	}
	if err := s.store.CreateRaffle(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("raffle created",
		zap.Int64("raffle_id", r.ID),
		zap.String("title", r.Title),
		zap.Int("total_numbers", r.TotalNumbers),
	)
	return r, nil
}

// Update rewrites an active raffle. total_numbers may not drop below the
// highest number already taken; the store checks it in the same write.
func (s *RaffleService) Update(ctx context.Context, id int64, in RaffleInput) (*models.Raffle, error) {
	if err := validateRaffle(&in); err != nil {
		return nil, err
	}
	r, err := s.store.GetRaffle(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsActive() {
		return nil, apperr.ErrRaffleClosed
	}

	r.Title = in.Title
	r.Description = in.Description
	r.TotalNumbers = in.TotalNumbers
	r.PricePerNumber = in.PricePerNumber
	if !in.DrawDate.IsZero() {
		r.DrawDate = in.DrawDate
	}
	if in.ReserveHours != nil {
		r.ReserveHours = *in.ReserveHours
	}
	if err := s.store.UpdateRaffle(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("raffle updated", zap.Int64("raffle_id", id))
	return r, nil
}

func (s *RaffleService) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteRaffle(ctx, id); err != nil {
		return err
	}
	s.logger.Info("raffle deleted", zap.Int64("raffle_id", id))
	return nil
}

func (s *RaffleService) Get(ctx context.Context, id int64) (*models.Raffle, error) {
	return s.store.GetRaffle(ctx, id)
}

// List returns raffles newest first, each with its sold and paid counts.
func (s *RaffleService) List(ctx context.Context, activeOnly bool) ([]models.RaffleSummary, error) {
	list, err := s.store.ListRaffles(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.RaffleSummary{}
	}
	return list, nil
}

// Draw picks the winner of an active raffle from an official lottery result
// and closes the raffle. A raffle is drawn once; a second draw is a conflict.
func (s *RaffleService) Draw(ctx context.Context, id int64, lotteryResult string) (*DrawResult, error) {
	r, err := s.store.GetRaffle(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsActive() {
		return nil, apperr.ErrRaffleClosed
	}

	winner, err := lottery.SelectWinner(lotteryResult, r.TotalNumbers)
	if err != nil {
		return nil, err
	}
	explanation, err := lottery.Explain(lotteryResult, r.TotalNumbers)
	if err != nil {
		return nil, err
	}
	digits := lottery.Clean(lotteryResult)
	if !lottery.Validate(digits) {
		s.logger.Warn("unusual lottery result length", zap.Int64("raffle_id", id), zap.String("lottery_number", digits))
	}

	if err := s.store.CompleteRaffle(ctx, id, winner, digits); err != nil {
		return nil, err
	}

	res := &DrawResult{LotteryNumber: digits, WinnerNumber: winner, Explanation: explanation}
	p, err := s.store.GetParticipantByNumber(ctx, id, winner)
	switch {
	case err == nil:
		res.Winner = p
	case !errors.Is(err, apperr.ErrParticipantNotFound):
		return nil, err
	}
	if res.Raffle, err = s.store.GetRaffle(ctx, id); err != nil {
		return nil, err
	}

	s.logger.Info("raffle drawn",
		zap.Int64("raffle_id", id),
		zap.String("lottery_number", lottery.Format(digits)),
		zap.Int("winner_number", winner),
		zap.Bool("has_winner", res.Winner != nil),
	)
	return res, nil
}
