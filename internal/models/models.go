package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RaffleStatus string

const (
	RaffleActive    RaffleStatus = "active"
	RaffleCompleted RaffleStatus = "completed"
)

type ParticipantStatus string

const (
	ParticipantReserved ParticipantStatus = "reserved"
	ParticipantPaid     ParticipantStatus = "paid"
	// ParticipantExpired is a reservation released unpaid. The row stays so a
	// late payment can still be traced; the number is free again.
	ParticipantExpired ParticipantStatus = "expired"
)

// PaymentStatus mirrors the gateway vocabulary. Approved, expired and
// refund_required are interpreted by the core; every other value is stored as
// received.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentApproved  PaymentStatus = "approved"
	PaymentInProcess PaymentStatus = "in_process"
	PaymentRejected  PaymentStatus = "rejected"
	PaymentCancelled PaymentStatus = "cancelled"

	// Local states. An expired payment belongs to a released reservation; it
	// turns refund_required when approved after its number went to someone else.
	PaymentExpired        PaymentStatus = "expired"
	PaymentRefundRequired PaymentStatus = "refund_required"
)

// Final reports whether s can no longer be overwritten by a non-approved
// gateway status.
func (s PaymentStatus) Final() bool {
	return s == PaymentApproved || s == PaymentExpired || s == PaymentRefundRequired
}

// Raffle represents a numbered draw
type Raffle struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	TotalNumbers   int             `json:"total_numbers"`
	PricePerNumber decimal.Decimal `json:"price_per_number"`
	DrawDate       time.Time       `json:"draw_date"`
	Status         RaffleStatus    `json:"status"`
	WinnerNumber   *int            `json:"winner_number"`  // Set only once completed
	LotteryNumber  *string         `json:"lottery_number"` // Set only once completed
	ReserveHours   int             `json:"reserve_hours"`  // 0 keeps reservations forever
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (r *Raffle) IsActive() bool {
	return r.Status == RaffleActive
}

// ReservationCutoff returns the instant before which an unpaid reservation is
// considered abandoned. ok is false when the raffle never expires reservations.
func (r *Raffle) ReservationCutoff(now time.Time) (cutoff time.Time, ok bool) {
	if r.ReserveHours <= 0 {
		return time.Time{}, false
	}
	return now.Add(-time.Duration(r.ReserveHours) * time.Hour), true
}

// Buyer is the contact data captured when a number is reserved.
type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	City  string `json:"city"`
}

// Participant holds one number of one raffle
type Participant struct {
	ID         int64             `json:"id"`
	RaffleID   int64             `json:"raffle_id"`
	Number     int               `json:"number"`
	Name       string            `json:"name"`
	Email      string            `json:"email"`
	Phone      string            `json:"phone"`
	City       string            `json:"city"`
	Status     ParticipantStatus `json:"status"`
	ReservedAt time.Time         `json:"reserved_at"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ParticipantDetail is a participant joined with its payment, if any.
type ParticipantDetail struct {
	Participant
	PaymentStatus *PaymentStatus `json:"payment_status"`
	ExternalID    *string        `json:"external_payment_id"`
}

// ParticipantEntry is the public view of a taken number.
type ParticipantEntry struct {
	Number int               `json:"number"`
	Name   string            `json:"name"`
	Status ParticipantStatus `json:"status"`
}

// Payment represents a PIX charge for a participant
type Payment struct {
	ID            int64           `json:"id"`
	ParticipantID int64           `json:"participant_id"`
	ExternalID    string          `json:"external_payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PaymentStatus   `json:"status"`
	QRCode        string          `json:"qr_code"`
	QRCodeBase64  string          `json:"qr_code_base64"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ParticipantCounts is the raw aggregate returned by the store.
type ParticipantCounts struct {
	Sold int // reserved + paid
	Paid int
}

// RaffleStats is what the ledger reports for a raffle.
type RaffleStats struct {
	RaffleID         int64           `json:"raffle_id"`
	TotalNumbers     int             `json:"total_numbers"`
	SoldNumbers      int             `json:"sold_numbers"`
	PaidNumbers      int             `json:"paid_numbers"`
	ReservedNumbers  int             `json:"reserved_numbers"`
	AvailableNumbers int             `json:"available_numbers"`
	PricePerNumber   decimal.Decimal `json:"price_per_number"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
}

// RaffleSummary is a raffle with its headline counts, used by listings.
type RaffleSummary struct {
	Raffle
	SoldNumbers  int             `json:"sold_numbers"`
	PaidNumbers  int             `json:"paid_numbers"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}
