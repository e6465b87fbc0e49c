package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"raffle-pix-app/internal/apperr"
	"raffle-pix-app/internal/models"
)

type slotKey struct {
	raffleID int64
	number   int
}

// MemoryStore keeps everything in maps behind one mutex. It backs tests and
// DB_DRIVER=memory. slots only indexes live participants; expired rows stay in
// participants.
type MemoryStore struct {
	mu sync.Mutex

	nextID       int64
	raffles      map[int64]*models.Raffle
	participants map[int64]*models.Participant
	slots        map[slotKey]int64
	payments     map[int64]*models.Payment
	byExternal   map[string]int64
	byHolder     map[int64]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		raffles:      make(map[int64]*models.Raffle),
		participants: make(map[int64]*models.Participant),
		slots:        make(map[slotKey]int64),
		payments:     make(map[int64]*models.Payment),
		byExternal:   make(map[string]int64),
		byHolder:     make(map[int64]int64),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateRaffle(_ context.Context, r *models.Raffle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if r.Status == "" {
		r.Status = models.RaffleActive
	}
	r.ID = m.id()
	r.CreatedAt, r.UpdatedAt = now, now
	cp := *r
	m.raffles[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRaffle(_ context.Context, id int64) (*models.Raffle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raffle(id)
}

func (m *MemoryStore) raffle(id int64) (*models.Raffle, error) {
	r, ok := m.raffles[id]
	if !ok {
		return nil, apperr.ErrRaffleNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) counts(raffleID int64) models.ParticipantCounts {
	var c models.ParticipantCounts
	for _, p := range m.participants {
		if p.RaffleID != raffleID || p.Status == models.ParticipantExpired {
			continue
		}
		c.Sold++
		if p.Status == models.ParticipantPaid {
			c.Paid++
		}
	}
	return c
}

func (m *MemoryStore) ListRaffles(_ context.Context, activeOnly bool) ([]models.RaffleSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.RaffleSummary
	for _, r := range m.raffles {
		if activeOnly && !r.IsActive() {
			continue
		}
		c := m.counts(r.ID)
		out = append(out, summarize(r, c.Sold, c.Paid))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpdateRaffle(_ context.Context, r *models.Raffle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.raffles[r.ID]
	if !ok {
		return apperr.ErrRaffleNotFound
	}
	if !cur.IsActive() {
		return apperr.ErrRaffleClosed
	}
	if highest := m.highest(r.ID); r.TotalNumbers < highest {
		return totalBelowTaken(highest)
	}
	cur.Title = r.Title
	cur.Description = r.Description
	cur.TotalNumbers = r.TotalNumbers
	cur.PricePerNumber = r.PricePerNumber
	cur.DrawDate = r.DrawDate
	cur.ReserveHours = r.ReserveHours
	cur.UpdatedAt = time.Now().UTC()
	r.UpdatedAt = cur.UpdatedAt
	return nil
}

func (m *MemoryStore) DeleteRaffle(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.raffles[id]; !ok {
		return apperr.ErrRaffleNotFound
	}
	for _, p := range m.participants {
		if p.RaffleID == id {
			return apperr.ErrRaffleHasParticipants
		}
	}
	delete(m.raffles, id)
	return nil
}

func (m *MemoryStore) CompleteRaffle(_ context.Context, id int64, winnerNumber int, lotteryNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.raffles[id]
	if !ok {
		return apperr.ErrRaffleNotFound
	}
	if !r.IsActive() {
		return apperr.ErrRaffleClosed
	}
	r.Status = models.RaffleCompleted
	r.WinnerNumber = &winnerNumber
	r.LotteryNumber = &lotteryNumber
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CreateParticipant(_ context.Context, p *models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.raffles[p.RaffleID]
	if !ok {
		return apperr.ErrRaffleNotFound
	}
	if !r.IsActive() {
		return apperr.ErrRaffleClosed
	}
	if p.Number < 1 || p.Number > r.TotalNumbers {
		return apperr.ErrNumberOutOfRange
	}
	key := slotKey{p.RaffleID, p.Number}
	if _, taken := m.slots[key]; taken {
		return apperr.ErrNumberTaken
	}

	now := time.Now().UTC()
	if p.ReservedAt.IsZero() {
		p.ReservedAt = now
	}
	p.ID = m.id()
	p.Status = models.ParticipantReserved
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	m.participants[p.ID] = &cp
	m.slots[key] = p.ID
	return nil
}

func (m *MemoryStore) GetParticipant(_ context.Context, id int64) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[id]
	if !ok {
		return nil, apperr.ErrParticipantNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetParticipantByNumber(_ context.Context, raffleID int64, number int) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.slots[slotKey{raffleID, number}]
	if !ok {
		return nil, apperr.ErrParticipantNotFound
	}
	cp := *m.participants[id]
	return &cp, nil
}

func (m *MemoryStore) ListParticipants(_ context.Context, raffleID int64) ([]models.ParticipantDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ParticipantDetail
	for _, p := range m.participants {
		if p.RaffleID != raffleID {
			continue
		}
		d := models.ParticipantDetail{Participant: *p}
		if payID, ok := m.byHolder[p.ID]; ok {
			pay := m.payments[payID]
			status, ext := pay.Status, pay.ExternalID
			d.PaymentStatus, d.ExternalID = &status, &ext
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *MemoryStore) MarkParticipantPaid(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[id]
	if !ok {
		return false, apperr.ErrParticipantNotFound
	}
	if p.Status == models.ParticipantExpired {
		return false, apperr.ErrReservationExpired
	}
	return m.markPaid(p), nil
}

func (m *MemoryStore) markPaid(p *models.Participant) bool {
	if p.Status != models.ParticipantReserved {
		return false
	}
	p.Status = models.ParticipantPaid
	p.UpdatedAt = time.Now().UTC()
	return true
}

func (m *MemoryStore) SoldNumbers(_ context.Context, raffleID int64) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	numbers := []int{}
	for key := range m.slots {
		if key.raffleID == raffleID {
			numbers = append(numbers, key.number)
		}
	}
	sort.Ints(numbers)
	return numbers, nil
}

func (m *MemoryStore) CountParticipants(_ context.Context, raffleID int64) (models.ParticipantCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts(raffleID), nil
}

func (m *MemoryStore) MaxTakenNumber(_ context.Context, raffleID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highest(raffleID), nil
}

func (m *MemoryStore) highest(raffleID int64) int {
	n := 0
	for key := range m.slots {
		if key.raffleID == raffleID && key.number > n {
			n = key.number
		}
	}
	return n
}

func (m *MemoryStore) ReleaseExpired(_ context.Context, raffleID int64, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var released int64
	for id, p := range m.participants {
		if p.RaffleID != raffleID || p.Status != models.ParticipantReserved || !p.ReservedAt.Before(cutoff) {
			continue
		}
		if payID, ok := m.byHolder[id]; ok {
			pay := m.payments[payID]
			if pay.Status == models.PaymentApproved {
				continue
			}
			pay.Status = models.PaymentExpired
			pay.UpdatedAt = now
		}
		delete(m.slots, slotKey{p.RaffleID, p.Number})
		p.Status = models.ParticipantExpired
		p.UpdatedAt = now
		released++
	}
	return released, nil
}

func (m *MemoryStore) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.participants[p.ParticipantID]; !ok {
		return apperr.ErrParticipantNotFound
	}
	if _, ok := m.byHolder[p.ParticipantID]; ok {
		return apperr.ErrPaymentExists
	}
	if _, ok := m.byExternal[p.ExternalID]; ok {
		return apperr.ErrPaymentExists
	}

	now := time.Now().UTC()
	if p.Status == "" {
		p.Status = models.PaymentPending
	}
	p.ID = m.id()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	m.payments[p.ID] = &cp
	m.byExternal[p.ExternalID] = p.ID
	m.byHolder[p.ParticipantID] = p.ID
	return nil
}

func (m *MemoryStore) payment(id int64, ok bool) (*models.Payment, error) {
	if !ok {
		return nil, apperr.ErrPaymentNotFound
	}
	cp := *m.payments[id]
	return &cp, nil
}

func (m *MemoryStore) GetPaymentByExternalID(_ context.Context, externalID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payment(lookup(m.byExternal, externalID))
}

func (m *MemoryStore) GetPaymentByParticipant(_ context.Context, participantID int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payment(lookup(m.byHolder, participantID))
}

func lookup[K comparable](idx map[K]int64, key K) (int64, bool) {
	id, ok := idx[key]
	return id, ok
}

func (m *MemoryStore) UpdatePaymentStatus(ctx context.Context, externalID string, status models.PaymentStatus) (bool, error) {
	if status == models.PaymentApproved {
		_, changed, err := m.ApprovePayment(ctx, externalID)
		return changed, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byExternal[externalID]
	if !ok {
		return false, apperr.ErrPaymentNotFound
	}
	pay := m.payments[id]
	if pay.Status.Final() {
		return false, nil
	}
	pay.Status = status
	pay.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) ApprovePayment(_ context.Context, externalID string) (*models.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byExternal[externalID]
	if !ok {
		return nil, false, apperr.ErrPaymentNotFound
	}
	pay := m.payments[id]
	changed := false
	switch pay.Status {
	case models.PaymentApproved, models.PaymentRefundRequired:
	case models.PaymentExpired:
		pay.Status = m.reclaim(m.participants[pay.ParticipantID])
		pay.UpdatedAt = time.Now().UTC()
		changed = true
	default:
		pay.Status = models.PaymentApproved
		pay.UpdatedAt = time.Now().UTC()
		changed = true
		if holder, ok := m.participants[pay.ParticipantID]; ok {
			m.markPaid(holder)
		}
	}
	cp := *pay
	return &cp, changed, nil
}

// reclaim gives an expired participant its number back, as paid, when the
// raffle is active and the number is free. It returns the status the late
// payment ends in.
func (m *MemoryStore) reclaim(p *models.Participant) models.PaymentStatus {
	if p == nil || p.Status != models.ParticipantExpired {
		return models.PaymentRefundRequired
	}
	r, ok := m.raffles[p.RaffleID]
	if !ok || !r.IsActive() || p.Number > r.TotalNumbers {
		return models.PaymentRefundRequired
	}
	key := slotKey{p.RaffleID, p.Number}
	if _, taken := m.slots[key]; taken {
		return models.PaymentRefundRequired
	}
	now := time.Now().UTC()
	p.Status = models.ParticipantPaid
	p.ReservedAt, p.UpdatedAt = now, now
	m.slots[key] = p.ID
	return models.PaymentApproved
}
