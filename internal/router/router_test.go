package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"raffle-pix-app/internal/config"
	"raffle-pix-app/internal/db"
	"raffle-pix-app/internal/gateway"
	"raffle-pix-app/internal/handlers"
	appmw "raffle-pix-app/internal/middleware"
	"raffle-pix-app/internal/services"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return newTestRouterWith(t, false, appmw.NewRateLimiter(100, 100, zap.NewNop()))
}

func newTestRouterWith(t *testing.T, trustProxy bool, adminLimiter *appmw.RateLimiter) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	store := db.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	auth, err := appmw.NewAdminAuth(config.AdminConfig{Username: "admin", Password: "s3cret"}, config.TelegramConfig{}, logger)
	require.NoError(t, err)

	h := handlers.New(
		services.NewLedger(store, logger),
		services.NewRaffleService(store, 0, logger),
		services.NewReconciler(store, gateway.NewStub(logger), services.LogNotifier{Logger: logger}, logger),
		logger,
	)
	return New(Deps{
		Handler:        h,
		AdminAuth:      auth,
		PaymentLimiter: appmw.NewRateLimiter(0.01, 1, logger),
		WebhookLimiter: appmw.NewRateLimiter(100, 100, logger),
		AdminLimiter:   adminLimiter,
		CORSOrigins:    []string{"https://rifa.example.com"},
		TrustProxy:     trustProxy,
		Logger:         logger,
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthAndPublicRoutes(t *testing.T) {
	h := newTestRouter(t)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/raffles", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/payments/test_missing/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	h := newTestRouter(t)
	body := `{"title":"Rifa Moto","total_numbers":10,"price_per_number":5}`

	w := serve(h, httptest.NewRequest(http.MethodPost, "/api/admin/raffles", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/raffles", strings.NewReader(body))
	req.SetBasicAuth("admin", "s3cret")
	w = serve(h, req)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/raffles", nil))
	assert.Contains(t, w.Body.String(), "Rifa Moto")
}

func TestPaymentCreationIsRateLimited(t *testing.T) {
	h := newTestRouter(t)

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/payments", strings.NewReader(`{"participant_id":1}`))
		req.RemoteAddr = "203.0.113.9:4000"
		return serve(h, req)
	}
	assert.Equal(t, http.StatusNotFound, post().Code)
	assert.Equal(t, http.StatusTooManyRequests, post().Code)
}

func TestForwardedForDoesNotBypassLimiter(t *testing.T) {
	h := newTestRouter(t)

	post := func(forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/payments", strings.NewReader(`{"participant_id":1}`))
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-Forwarded-For", forwarded)
		req.Header.Set("X-Real-IP", forwarded)
		return serve(h, req)
	}
	assert.Equal(t, http.StatusNotFound, post("198.51.100.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, post("198.51.100.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, post("198.51.100.3").Code)
}

func TestTrustedProxyKeysOnForwardedAddress(t *testing.T) {
	h := newTestRouterWith(t, true, appmw.NewRateLimiter(100, 100, zap.NewNop()))

	post := func(forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/payments", strings.NewReader(`{"participant_id":1}`))
		req.RemoteAddr = "10.0.0.2:4000"
		req.Header.Set("X-Forwarded-For", forwarded)
		return serve(h, req)
	}
	assert.Equal(t, http.StatusNotFound, post("198.51.100.1").Code)
	assert.Equal(t, http.StatusNotFound, post("198.51.100.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, post("198.51.100.1").Code)
}

func TestAdminRoutesAreRateLimited(t *testing.T) {
	h := newTestRouterWith(t, false, appmw.NewRateLimiter(0.01, 2, zap.NewNop()))

	login := func(password string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/raffles", nil)
		req.RemoteAddr = "203.0.113.50:5000"
		req.SetBasicAuth("admin", password)
		return serve(h, req)
	}
	assert.Equal(t, http.StatusUnauthorized, login("guess1").Code)
	assert.Equal(t, http.StatusUnauthorized, login("guess2").Code)
	assert.Equal(t, http.StatusTooManyRequests, login("s3cret").Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/raffles", nil)
	req.Header.Set("Origin", "https://rifa.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := serve(h, req)
	assert.Equal(t, "https://rifa.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/raffles", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w = serve(h, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
