package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"raffle-pix-app/internal/apperr"
	"raffle-pix-app/internal/models"
	"raffle-pix-app/internal/services"
)

const maxBodyBytes = 1 << 20

// Handler serves the JSON API on top of the ledger, the raffle service and
// the payment reconciler.
type Handler struct {
	ledger     *services.Ledger
	raffles    *services.RaffleService
	reconciler *services.Reconciler
	logger     *zap.Logger
}

func New(ledger *services.Ledger, raffles *services.RaffleService, reconciler *services.Reconciler, logger *zap.Logger) *Handler {
	return &Handler{
		ledger:     ledger,
		raffles:    raffles,
		reconciler: reconciler,
		logger:     logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListRaffles returns the active raffles.
func (h *Handler) ListRaffles(w http.ResponseWriter, r *http.Request) {
	list, err := h.raffles.List(r.Context(), true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type raffleView struct {
	Raffle      *models.Raffle      `json:"raffle"`
	SoldNumbers []int               `json:"sold_numbers"`
	Stats       *models.RaffleStats `json:"stats"`
}

func (h *Handler) GetRaffle(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()

	raffle, err := h.raffles.Get(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sold, err := h.ledger.SoldNumbers(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats, err := h.ledger.Stats(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if sold == nil {
		sold = []int{}
	}
	writeJSON(w, http.StatusOK, raffleView{Raffle: raffle, SoldNumbers: sold, Stats: stats})
}

func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.ledger.Participants(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.ParticipantEntry{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CheckNumber(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	number, err := numberParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ok, err := h.ledger.IsAvailable(r.Context(), id, number)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"number": number, "available": ok})
}

type reserveRequest struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	City   string `json:"city"`
}

type reserveResponse struct {
	ParticipantID int64 `json:"participant_id"`
	RaffleID      int64 `json:"raffle_id"`
	Number        int   `json:"number"`
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req reserveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	participantID, err := h.ledger.Reserve(r.Context(), id, req.Number, models.Buyer{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
		City:  req.City,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reserveResponse{ParticipantID: participantID, RaffleID: id, Number: req.Number})
}

type paymentRequest struct {
	ParticipantID int64 `json:"participant_id"`
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.ParticipantID <= 0 {
		h.writeError(w, r, apperr.InvalidInput("participant_id is required"))
		return
	}

	payment, err := h.reconciler.OpenPayment(r.Context(), req.ParticipantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.reconciler.CheckStatus(r.Context(), chi.URLParam(r, "externalID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Webhook receives provider notifications. Anything the reconciler accepts,
// including notifications it chooses to ignore, is answered with 200.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("received payment webhook",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()))

	var n services.Notification
	if err := decodeJSON(w, r, &n); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.reconciler.HandleWebhook(r.Context(), n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput("invalid %s", name)
	}
	return id, nil
}

func numberParam(r *http.Request) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		return 0, apperr.InvalidInput("invalid number")
	}
	return n, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.InvalidInput("request body is empty")
		}
		return apperr.InvalidInput("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error kind to its status. Messages of gateway and
// storage failures stay in the log.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch apperr.KindOf(err) {
	case apperr.ErrInvalidInput:
		status, msg = http.StatusBadRequest, err.Error()
	case apperr.ErrConflict:
		status, msg = http.StatusConflict, err.Error()
	case apperr.ErrNotFound:
		status, msg = http.StatusNotFound, err.Error()
	case apperr.ErrGateway:
		status, msg = http.StatusBadGateway, "payment provider unavailable"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
