package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"raffle-pix-app/internal/apperr"
	"raffle-pix-app/internal/middleware"
	"raffle-pix-app/internal/models"
	"raffle-pix-app/internal/services"
)

type raffleRequest struct {
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	TotalNumbers   int             `json:"total_numbers"`
	PricePerNumber decimal.Decimal `json:"price_per_number"`
	DrawDate       string          `json:"draw_date"` // 2006-01-02 or RFC 3339, empty for the next draw
	ReserveHours   *int            `json:"reserve_hours"`
}

func (req raffleRequest) input() (services.RaffleInput, error) {
	in := services.RaffleInput{
		Title:          req.Title,
		Description:    req.Description,
		TotalNumbers:   req.TotalNumbers,
		PricePerNumber: req.PricePerNumber,
		ReserveHours:   req.ReserveHours,
	}
	date, err := parseDrawDate(req.DrawDate)
	if err != nil {
		return in, err
	}
	in.DrawDate = date
	return in, nil
}

func parseDrawDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.InvalidInput("draw_date must be YYYY-MM-DD or RFC 3339")
}

// AdminListRaffles returns every raffle, completed ones included.
func (h *Handler) AdminListRaffles(w http.ResponseWriter, r *http.Request) {
	list, err := h.raffles.List(r.Context(), false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CreateRaffle(w http.ResponseWriter, r *http.Request) {
	var req raffleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	raffle, err := h.raffles.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "raffle created", raffle.ID)
	writeJSON(w, http.StatusCreated, raffle)
}

func (h *Handler) UpdateRaffle(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req raffleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	raffle, err := h.raffles.Update(r.Context(), id, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "raffle updated", id)
	writeJSON(w, http.StatusOK, raffle)
}

func (h *Handler) DeleteRaffle(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.raffles.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "raffle deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

// AdminParticipants lists participants with their contact data and payment.
func (h *Handler) AdminParticipants(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.ledger.ParticipantDetails(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.ParticipantDetail{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) RaffleStats(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats, err := h.ledger.Stats(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type drawRequest struct {
	LotteryNumber string `json:"lottery_number"`
}

func (h *Handler) Draw(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req drawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.raffles.Draw(r.Context(), id, req.LotteryNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "raffle drawn", id)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SimulateApproval(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	res, err := h.reconciler.SimulateApproval(r.Context(), externalID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Warn("payment approved by hand",
		zap.String("external_id", externalID),
		zap.String("admin", adminName(r)))
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) audit(r *http.Request, msg string, raffleID int64) {
	h.logger.Info(msg, zap.Int64("raffle_id", raffleID), zap.String("admin", adminName(r)))
}

func adminName(r *http.Request) string {
	if a, ok := middleware.AdminFromContext(r.Context()); ok {
		return a.Method + ":" + a.Name
	}
	return "unknown"
}
