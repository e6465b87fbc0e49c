package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"raffle-pix-app/internal/handlers"
	appmw "raffle-pix-app/internal/middleware"
)

// Deps is everything the router wires onto routes.
type Deps struct {
	Handler        *handlers.Handler
	AdminAuth      *appmw.AdminAuth
	PaymentLimiter *appmw.RateLimiter
	WebhookLimiter *appmw.RateLimiter
	AdminLimiter   *appmw.RateLimiter
	CORSOrigins    []string
	// TrustProxy rewrites RemoteAddr from X-Forwarded-For / X-Real-IP. The
	// rate limiters key on RemoteAddr, so leave it off unless a proxy owns
	// those headers.
	TrustProxy bool
	Logger     *zap.Logger
}

func New(d Deps) http.Handler {
	h := d.Handler
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if d.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(LoggerMiddleware(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Telegram-Init-Data"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/raffles", func(r chi.Router) {
			r.Get("/", h.ListRaffles)
			r.Get("/{id}", h.GetRaffle)
			r.Get("/{id}/participants", h.ListParticipants)
			r.Get("/{id}/numbers/{number}/available", h.CheckNumber)
			r.Post("/{id}/reserve", h.Reserve)
		})

		r.Route("/payments", func(r chi.Router) {
			r.With(d.PaymentLimiter.Limit).Post("/", h.CreatePayment)
			r.With(d.WebhookLimiter.Limit).Post("/webhook", h.Webhook)
			r.Get("/{externalID}/status", h.PaymentStatus)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(d.AdminLimiter.Limit)
			r.Use(d.AdminAuth.Guard)

			r.Get("/raffles", h.AdminListRaffles)
			r.Post("/raffles", h.CreateRaffle)
			r.Put("/raffles/{id}", h.UpdateRaffle)
			r.Delete("/raffles/{id}", h.DeleteRaffle)
			r.Get("/raffles/{id}/participants", h.AdminParticipants)
			r.Get("/raffles/{id}/stats", h.RaffleStats)
			r.Post("/raffles/{id}/draw", h.Draw)
			r.Post("/payments/{externalID}/simulate-approval", h.SimulateApproval)
		})
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()))
		})
	}
}
