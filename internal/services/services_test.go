package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"raffle-pix-app/internal/apperr"
	"raffle-pix-app/internal/db"
	"raffle-pix-app/internal/gateway"
	"raffle-pix-app/internal/models"
)

type fakeGateway struct {
	mu        sync.Mutex
	charges   int
	status    models.PaymentStatus
	createErr error
	statusErr error
}

func (g *fakeGateway) CreatePixCharge(_ context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.charges++
	return &gateway.Charge{
		ExternalID: fmt.Sprintf("mp-%d", g.charges),
		Status:     models.PaymentPending,
		QRCode:     "00020126" + req.Reference,
	}, nil
}

func (g *fakeGateway) GetChargeStatus(context.Context, string) (models.PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, g.statusErr
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []ApprovalNotice
	refunds []ApprovalNotice
}

func (n *fakeNotifier) PaymentApproved(_ context.Context, notice ApprovalNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *fakeNotifier) RefundRequired(_ context.Context, notice ApprovalNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refunds = append(n.refunds, notice)
}

func (n *fakeNotifier) refundCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.refunds)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type fixture struct {
	store    *db.MemoryStore
	ledger   *Ledger
	raffles  *RaffleService
	rec      *Reconciler
	gw       *fakeGateway
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.NewMemoryStore()
	gw := &fakeGateway{status: models.PaymentPending}
	notifier := &fakeNotifier{}
	logger := zap.NewNop()
	return &fixture{
		store:    store,
		ledger:   NewLedger(store, logger),
		raffles:  NewRaffleService(store, 0, logger),
		rec:      NewReconciler(store, gw, notifier, logger),
		gw:       gw,
		notifier: notifier,
	}
}

func (f *fixture) raffle(t *testing.T, total int) *models.Raffle {
	t.Helper()
	r, err := f.raffles.Create(context.Background(), RaffleInput{
		Title:          "Rifa Moto",
		TotalNumbers:   total,
		PricePerNumber: decimal.RequireFromString("25.00"),
		DrawDate:       time.Date(2026, 10, 24, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return r
}

var ana = models.Buyer{Name: "Ana Souza", Email: "Ana@Example.com", Phone: "(11) 98765-4321", City: "São Paulo"}

func TestReserve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 100)

	id, err := f.ledger.Reserve(ctx, r.ID, 42, ana)
	require.NoError(t, err)

	p, err := f.store.GetParticipant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 42, p.Number)
	assert.Equal(t, models.ParticipantReserved, p.Status)
	assert.Equal(t, "ana@example.com", p.Email)
	assert.Equal(t, "11987654321", p.Phone)

	free, err := f.ledger.IsAvailable(ctx, r.ID, 42)
	require.NoError(t, err)
	assert.False(t, free)
	free, err = f.ledger.IsAvailable(ctx, r.ID, 43)
	require.NoError(t, err)
	assert.True(t, free)

	_, err = f.ledger.Reserve(ctx, r.ID, 42, ana)
	assert.ErrorIs(t, err, apperr.ErrNumberTaken)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestReserveRejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 100)

	for _, n := range []int{0, 101} {
		_, err := f.ledger.Reserve(ctx, r.ID, n, ana)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput, "number %d", n)
		assert.ErrorIs(t, err, apperr.ErrNumberOutOfRange, "number %d", n)
	}

	_, err := f.ledger.IsAvailable(ctx, r.ID, 101)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	sold, err := f.ledger.SoldNumbers(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, sold)
}

func TestReserveErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 10)

	_, err := f.ledger.Reserve(ctx, 999, 1, ana)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	invalid := []models.Buyer{
		{Name: "A", Email: "a@example.com"},
		{Name: "Ana", Email: "not-an-email"},
		{Name: "Ana", Email: "ana@example.com", Phone: "12345"},
		{Name: "Ana", Email: "ana@example.com", City: "X"},
		{Name: "R2D2", Email: "r2@example.com"},
	}
	for _, b := range invalid {
		_, err := f.ledger.Reserve(ctx, r.ID, 1, b)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput, "buyer %+v", b)
	}

	_, err = f.raffles.Draw(ctx, r.ID, "12345")
	require.NoError(t, err)
	_, err = f.ledger.Reserve(ctx, r.ID, 1, ana)
	assert.ErrorIs(t, err, apperr.ErrRaffleClosed)
}

func TestConcurrentReserveOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 10)

	const buyers = 10
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		other []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Reserve(ctx, r.ID, 7, ana)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			other = append(other, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	require.Len(t, other, buyers-1)
	for _, err := range other {
		assert.ErrorIs(t, err, apperr.ErrNumberTaken)
	}
	sold, err := f.ledger.SoldNumbers(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, sold)
}

func TestStatsAfterApprovals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 50)

	var externals []string
	for _, n := range []int{3, 1, 2} {
		id, err := f.ledger.Reserve(ctx, r.ID, n, ana)
		require.NoError(t, err)
		pay, err := f.rec.OpenPayment(ctx, id)
		require.NoError(t, err)
		externals = append(externals, pay.ExternalID)
	}
	for _, ext := range externals[:2] {
		_, err := f.rec.Reconcile(ctx, ext, models.PaymentApproved)
		require.NoError(t, err)
	}

	stats, err := f.ledger.Stats(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, stats.TotalNumbers)
	assert.Equal(t, 3, stats.SoldNumbers)
	assert.Equal(t, 2, stats.PaidNumbers)
	assert.Equal(t, 1, stats.ReservedNumbers)
	assert.Equal(t, 47, stats.AvailableNumbers)
	assert.True(t, stats.TotalRevenue.Equal(decimal.RequireFromString("50")), stats.TotalRevenue.String())

	sold, err := f.ledger.SoldNumbers(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, sold)
}

func TestMarkPaidIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 10)
	id, err := f.ledger.Reserve(ctx, r.ID, 5, ana)
	require.NoError(t, err)

	require.NoError(t, f.ledger.MarkPaid(ctx, id))
	require.NoError(t, f.ledger.MarkPaid(ctx, id))

	p, err := f.store.GetParticipant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantPaid, p.Status)
	assert.ErrorIs(t, f.ledger.MarkPaid(ctx, 999), apperr.ErrParticipantNotFound)
}

func TestExpiredReservationsAreReleased(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hours := 2
	r, err := f.raffles.Create(ctx, RaffleInput{
		Title:          "Rifa Expira",
		TotalNumbers:   10,
		PricePerNumber: decimal.NewFromInt(5),
		ReserveHours:   &hours,
	})
	require.NoError(t, err)

	stale, err := f.ledger.Reserve(ctx, r.ID, 1, ana)
	require.NoError(t, err)
	paid, err := f.ledger.Reserve(ctx, r.ID, 2, ana)
	require.NoError(t, err)
	pay, err := f.rec.OpenPayment(ctx, paid)
	require.NoError(t, err)
	_, err = f.rec.Reconcile(ctx, pay.ExternalID, models.PaymentApproved)
	require.NoError(t, err)

	f.ledger.now = func() time.Time { return time.Now().Add(3 * time.Hour) }

	free, err := f.ledger.IsAvailable(ctx, r.ID, 1)
	require.NoError(t, err)
	assert.True(t, free)
	p, err := f.store.GetParticipant(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantExpired, p.Status)

	sold, err := f.ledger.SoldNumbers(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, sold)

	public, err := f.ledger.Participants(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, 2, public[0].Number)

	_, err = f.rec.OpenPayment(ctx, stale)
	assert.ErrorIs(t, err, apperr.ErrReservationExpired)
	assert.ErrorIs(t, f.ledger.MarkPaid(ctx, stale), apperr.ErrReservationExpired)
}

// lateApproval reserves number 3 on a raffle with a one hour reservation
// window, opens its payment, lets the reservation lapse and switches the
// gateway to approved.
func lateApproval(t *testing.T, f *fixture) (raffleID, participantID int64, externalID string) {
	t.Helper()
	ctx := context.Background()
	hours := 1
	r, err := f.raffles.Create(ctx, RaffleInput{
		Title:          "Rifa Tarde",
		TotalNumbers:   10,
		PricePerNumber: decimal.NewFromInt(10),
		ReserveHours:   &hours,
	})
	require.NoError(t, err)
	id, err := f.ledger.Reserve(ctx, r.ID, 3, ana)
	require.NoError(t, err)
	pay, err := f.rec.OpenPayment(ctx, id)
	require.NoError(t, err)

	f.ledger.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	stats, err := f.ledger.Stats(ctx, r.ID)
	require.NoError(t, err)
	require.Zero(t, stats.SoldNumbers)

	expired, err := f.store.GetPaymentByExternalID(ctx, pay.ExternalID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentExpired, expired.Status)

	f.gw.status = models.PaymentApproved
	return r.ID, id, pay.ExternalID
}

func paymentUpdated(t *testing.T, externalID string) Notification {
	t.Helper()
	var n Notification
	require.NoError(t, json.Unmarshal([]byte(`{"type":"payment","action":"payment.updated","data":{"id":"`+externalID+`"}}`), &n))
	return n
}

func TestLatePaymentReclaimsFreeNumber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	raffleID, participantID, externalID := lateApproval(t, f)

	res, err := f.rec.HandleWebhook(ctx, paymentUpdated(t, externalID))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Approved)
	assert.True(t, res.Changed)
	assert.Equal(t, models.PaymentApproved, res.Status)

	p, err := f.store.GetParticipant(ctx, participantID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantPaid, p.Status)

	sold, err := f.ledger.SoldNumbers(ctx, raffleID)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, sold)
	assert.Equal(t, 1, f.notifier.count())
	assert.Zero(t, f.notifier.refundCount())

	_, err = f.ledger.Reserve(ctx, raffleID, 3, ana)
	assert.ErrorIs(t, err, apperr.ErrNumberTaken)
}

func TestLatePaymentForRetakenNumberRequiresRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	raffleID, participantID, externalID := lateApproval(t, f)

	bia := models.Buyer{Name: "Bia Lima", Email: "bia@example.com", Phone: "11912345678", City: "Campinas"}
	newHolder, err := f.ledger.Reserve(ctx, raffleID, 3, bia)
	require.NoError(t, err)

	res, err := f.rec.HandleWebhook(ctx, paymentUpdated(t, externalID))
	require.NoError(t, err)
	assert.Nil(t, res)

	pay, err := f.store.GetPaymentByExternalID(ctx, externalID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefundRequired, pay.Status)
	require.Equal(t, 1, f.notifier.refundCount())
	assert.Equal(t, externalID, f.notifier.refunds[0].ExternalID)
	assert.Zero(t, f.notifier.count())

	_, err = f.rec.CheckStatus(ctx, externalID)
	assert.ErrorIs(t, err, apperr.ErrRefundRequired)
	_, err = f.rec.Reconcile(ctx, externalID, models.PaymentApproved)
	assert.ErrorIs(t, err, apperr.ErrRefundRequired)
	_, err = f.rec.Reconcile(ctx, externalID, models.PaymentRejected)
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifier.refundCount())

	old, err := f.store.GetParticipant(ctx, participantID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantExpired, old.Status)
	holder, err := f.store.GetParticipantByNumber(ctx, raffleID, 3)
	require.NoError(t, err)
	assert.Equal(t, newHolder, holder.ID)
	assert.Equal(t, models.ParticipantReserved, holder.Status)
}

func TestReservationsNeverExpireByDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 10)
	_, err := f.ledger.Reserve(ctx, r.ID, 1, ana)
	require.NoError(t, err)

	f.ledger.now = func() time.Time { return time.Now().Add(24 * 365 * time.Hour) }
	free, err := f.ledger.IsAvailable(ctx, r.ID, 1)
	require.NoError(t, err)
	assert.False(t, free)
}

func TestOpenPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 10)
	id, err := f.ledger.Reserve(ctx, r.ID, 7, ana)
	require.NoError(t, err)

	pay, err := f.rec.OpenPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "mp-1", pay.ExternalID)
	assert.Equal(t, models.PaymentPending, pay.Status)
	assert.True(t, pay.Amount.Equal(r.PricePerNumber))

	again, err := f.rec.OpenPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, pay.ExternalID, again.ExternalID)
	assert.Equal(t, 1, f.gw.charges)

	_, err = f.rec.Reconcile(ctx, pay.ExternalID, models.PaymentApproved)
	require.NoError(t, err)
	_, err = f.rec.OpenPayment(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrAlreadyPaid)

	_, err = f.rec.OpenPayment(ctx, 999)
	assert.ErrorIs(t, err, apperr.ErrParticipantNotFound)
}

func TestOpenPaymentGatewayFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 10)
	id, err := f.ledger.Reserve(ctx, r.ID, 7, ana)
	require.NoError(t, err)

	f.gw.createErr = errors.New("connection refused")
	_, err = f.rec.OpenPayment(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrGateway)

	_, err = f.store.GetPaymentByParticipant(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrPaymentNotFound)
}

func TestReconcileApprovesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 10)
	id, err := f.ledger.Reserve(ctx, r.ID, 7, ana)
	require.NoError(t, err)
	pay, err := f.rec.OpenPayment(ctx, id)
	require.NoError(t, err)

	first, err := f.rec.Reconcile(ctx, pay.ExternalID, models.PaymentApproved)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.True(t, first.Approved)

	second, err := f.rec.Reconcile(ctx, pay.ExternalID, models.PaymentApproved)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.True(t, second.Approved)

	late, err := f.rec.Reconcile(ctx, pay.ExternalID, models.PaymentRejected)
	require.NoError(t, err)
	assert.False(t, late.Changed)
	assert.Equal(t, models.PaymentApproved, late.Status)

	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, 7, f.notifier.notices[0].Number)
	assert.Equal(t, "25.00", f.notifier.notices[0].Amount)

	stats, err := f.ledger.Stats(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PaidNumbers)
	assert.True(t, stats.TotalRevenue.Equal(decimal.NewFromInt(25)))
}

func TestConcurrentApprovalsNotifyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 10)
	id, err := f.ledger.Reserve(ctx, r.ID, 3, ana)
	require.NoError(t, err)
	pay, err := f.rec.OpenPayment(ctx, id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				f.rec.SimulateApproval(ctx, pay.ExternalID)
				return
			}
			f.rec.Reconcile(ctx, pay.ExternalID, models.PaymentApproved)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, f.notifier.count())
}

func TestReconcileNonApprovedStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 10)
	id, err := f.ledger.Reserve(ctx, r.ID, 7, ana)
	require.NoError(t, err)
	pay, err := f.rec.OpenPayment(ctx, id)
	require.NoError(t, err)

	res, err := f.rec.Reconcile(ctx, pay.ExternalID, models.PaymentInProcess)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.Approved)

	p, err := f.store.GetParticipant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantReserved, p.Status)

	_, err = f.rec.Reconcile(ctx, "missing", models.PaymentRejected)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.rec.Reconcile(ctx, "", models.PaymentRejected)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Zero(t, f.notifier.count())
}

func TestCheckStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 10)
	id, err := f.ledger.Reserve(ctx, r.ID, 7, ana)
	require.NoError(t, err)
	pay, err := f.rec.OpenPayment(ctx, id)
	require.NoError(t, err)

	res, err := f.rec.CheckStatus(ctx, pay.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, res.Status)
	assert.False(t, res.Approved)

	f.gw.statusErr = apperr.Gateway("get payment status", context.DeadlineExceeded)
	_, err = f.rec.CheckStatus(ctx, pay.ExternalID)
	assert.ErrorIs(t, err, apperr.ErrGateway)

	f.gw.statusErr = nil
	f.gw.status = models.PaymentApproved
	res, err = f.rec.CheckStatus(ctx, pay.ExternalID)
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.True(t, res.Changed)

	p, err := f.store.GetParticipant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantPaid, p.Status)
}

func TestHandleWebhook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 10)
	id, err := f.ledger.Reserve(ctx, r.ID, 7, ana)
	require.NoError(t, err)
	_, err = f.rec.OpenPayment(ctx, id)
	require.NoError(t, err)
	f.gw.status = models.PaymentApproved

	var bad Notification
	require.NoError(t, json.Unmarshal([]byte(`{"type":"merchant_order","action":"payment.updated","data":{"id":"mp-1"}}`), &bad))
	_, err = f.rec.HandleWebhook(ctx, bad)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	var ignored Notification
	require.NoError(t, json.Unmarshal([]byte(`{"type":"payment","action":"payment.refunded","data":{"id":"mp-1"}}`), &ignored))
	res, err := f.rec.HandleWebhook(ctx, ignored)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, f.notifier.count())

	var unknown Notification
	require.NoError(t, json.Unmarshal([]byte(`{"type":"payment","action":"payment.updated","data":{"id":123456}}`), &unknown))
	assert.Equal(t, PaymentID("123456"), unknown.Data.ID)
	res, err = f.rec.HandleWebhook(ctx, unknown)
	require.NoError(t, err)
	assert.Nil(t, res)

	var ok Notification
	require.NoError(t, json.Unmarshal([]byte(`{"type":"payment","action":"payment.updated","data":{"id":"mp-1"}}`), &ok))
	res, err = f.rec.HandleWebhook(ctx, ok)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, f.notifier.count())
}

// reservingStore lets a reservation land between the service reading a
// raffle and writing its update.
type reservingStore struct {
	db.Store
	once       sync.Once
	beforeSave func()
}

func (s *reservingStore) UpdateRaffle(ctx context.Context, r *models.Raffle) error {
	s.once.Do(s.beforeSave)
	return s.Store.UpdateRaffle(ctx, r)
}

func TestRaffleShrinkLosesToConcurrentReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 100)

	store := &reservingStore{Store: f.store}
	store.beforeSave = func() {
		_, err := f.ledger.Reserve(ctx, r.ID, 90, ana)
		require.NoError(t, err)
	}
	raffles := NewRaffleService(store, 0, zap.NewNop())

	_, err := raffles.Update(ctx, r.ID, RaffleInput{Title: "Rifa Menor", TotalNumbers: 80, PricePerNumber: decimal.NewFromInt(25)})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.ErrorIs(t, err, apperr.ErrTotalBelowTaken)
	assert.Contains(t, err.Error(), "90")

	current, err := f.store.GetRaffle(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, current.TotalNumbers)
	assert.Equal(t, "Rifa Moto", current.Title)
	holder, err := f.store.GetParticipantByNumber(ctx, r.ID, 90)
	require.NoError(t, err)
	assert.Equal(t, 90, holder.Number)
}

func TestRaffleCreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := map[string]RaffleInput{
		"missing title":  {TotalNumbers: 10, PricePerNumber: decimal.NewFromInt(1)},
		"zero numbers":   {Title: "X", TotalNumbers: 0, PricePerNumber: decimal.NewFromInt(1)},
		"too many":       {Title: "X", TotalNumbers: 10001, PricePerNumber: decimal.NewFromInt(1)},
		"price too low":  {Title: "X", TotalNumbers: 10, PricePerNumber: decimal.RequireFromString("0.009")},
		"negative hours": {Title: "X", TotalNumbers: 10, PricePerNumber: decimal.NewFromInt(1), ReserveHours: new(int)},
	}
	*cases["negative hours"].ReserveHours = -1

	for name, in := range cases {
		_, err := f.raffles.Create(ctx, in)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput, name)
	}

	r, err := f.raffles.Create(ctx, RaffleInput{Title: " Rifa ", TotalNumbers: 10, PricePerNumber: decimal.RequireFromString("0.01")})
	require.NoError(t, err)
	assert.Equal(t, "Rifa", r.Title)
	assert.False(t, r.DrawDate.IsZero())
	assert.Contains(t, []time.Weekday{time.Wednesday, time.Saturday}, r.DrawDate.Weekday())
}

func TestRaffleUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 100)
	_, err := f.ledger.Reserve(ctx, r.ID, 80, ana)
	require.NoError(t, err)

	in := RaffleInput{Title: "Rifa Carro", TotalNumbers: 50, PricePerNumber: decimal.NewFromInt(30)}
	_, err = f.raffles.Update(ctx, r.ID, in)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	in.TotalNumbers = 80
	updated, err := f.raffles.Update(ctx, r.ID, in)
	require.NoError(t, err)
	assert.Equal(t, 80, updated.TotalNumbers)
	assert.Equal(t, r.DrawDate, updated.DrawDate)

	assert.ErrorIs(t, f.raffles.Delete(ctx, r.ID), apperr.ErrRaffleHasParticipants)

	empty := f.raffle(t, 10)
	require.NoError(t, f.raffles.Delete(ctx, empty.ID))
	_, err = f.raffles.Get(ctx, empty.ID)
	assert.ErrorIs(t, err, apperr.ErrRaffleNotFound)

	list, err := f.raffles.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].SoldNumbers)
}

func TestDraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 50)
	id, err := f.ledger.Reserve(ctx, r.ID, 17, ana)
	require.NoError(t, err)

	res, err := f.raffles.Draw(ctx, r.ID, "1.234.567")
	require.NoError(t, err)
	assert.Equal(t, 17, res.WinnerNumber)
	assert.Equal(t, "1234567", res.LotteryNumber)
	require.NotNil(t, res.Winner)
	assert.Equal(t, id, res.Winner.ID)
	assert.Contains(t, res.Explanation, "Winning number: 17")
	assert.Equal(t, models.RaffleCompleted, res.Raffle.Status)
	require.NotNil(t, res.Raffle.WinnerNumber)
	assert.Equal(t, 17, *res.Raffle.WinnerNumber)

	_, err = f.raffles.Draw(ctx, r.ID, "1234567")
	assert.ErrorIs(t, err, apperr.ErrRaffleClosed)

	_, err = f.raffles.Update(ctx, r.ID, RaffleInput{Title: "X", TotalNumbers: 50, PricePerNumber: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, apperr.ErrRaffleClosed)
}

func TestDrawWithoutHolder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.raffle(t, 1000)

	res, err := f.raffles.Draw(ctx, r.ID, "1234500")
	require.NoError(t, err)
	assert.Equal(t, 500, res.WinnerNumber)
	assert.Nil(t, res.Winner)

	other := f.raffle(t, 10)
	_, err = f.raffles.Draw(ctx, other.ID, "abc")
	assert.ErrorIs(t, err, apperr.ErrInvalidLotteryNumber)
	still, err := f.raffles.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, still.IsActive())
}
