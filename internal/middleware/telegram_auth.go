package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"raffle-pix-app/internal/config"
)

type TelegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type adminKey struct{}

// Admin identifies who passed the admin guard.
type Admin struct {
	Method string // "basic" or "telegram"
	Name   string
	ID     int64
}

// AdminFromContext returns the admin set by AdminAuth.Guard.
func AdminFromContext(ctx context.Context) (Admin, bool) {
	a, ok := ctx.Value(adminKey{}).(Admin)
	return a, ok
}

// AdminAuth lets a request through with HTTP basic credentials or with
// Telegram Mini App initData signed by our bot for a listed admin.
type AdminAuth struct {
	username     string
	passwordHash []byte
	botToken     string
	adminIDs     map[int64]bool
	maxAge       time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewAdminAuth(admin config.AdminConfig, tg config.TelegramConfig, logger *zap.Logger) (*AdminAuth, error) {
	a := &AdminAuth{
		username: admin.Username,
		botToken: tg.Token,
		adminIDs: make(map[int64]bool),
		maxAge:   24 * time.Hour,
		logger:   logger,
		now:      time.Now,
	}
	if admin.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		a.passwordHash = hash
	} else {
		logger.Warn("ADMIN_PASSWORD not set, basic auth disabled for admin routes")
	}
	for _, id := range tg.AdminIDs {
		a.adminIDs[id] = true
	}
	return a, nil
}

func (a *AdminAuth) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if admin, ok := a.checkBasicAuth(r); ok {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminKey{}, admin)))
			return
		}

		if initData := telegramInitData(r); initData != "" {
			user, err := a.validateTelegramInitData(initData)
			switch {
			case err != nil:
				a.logger.Warn("invalid telegram init data", zap.Error(err))
			case !a.adminIDs[user.ID]:
				a.logger.Warn("telegram user is not an admin", zap.Int64("user_id", user.ID))
			default:
				a.logger.Info("telegram admin authenticated", zap.String("first_name", user.FirstName), zap.Int64("user_id", user.ID))
				admin := Admin{Method: "telegram", Name: user.FirstName, ID: user.ID}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminKey{}, admin)))
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="Raffle Admin"`)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	})
}

func (a *AdminAuth) checkBasicAuth(r *http.Request) (Admin, bool) {
	if a.passwordHash == nil {
		return Admin{}, false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return Admin{}, false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(pass)) == nil
	if !userOK || !passOK {
		return Admin{}, false
	}
	return Admin{Method: "basic", Name: user}, true
}

// telegramInitData looks in the header, then the query, then the cookie.
func telegramInitData(r *http.Request) string {
	if v := r.Header.Get("X-Telegram-Init-Data"); v != "" {
		return v
	}
	if v := r.URL.Query().Get("tg_init_data"); v != "" {
		return v
	}
	if cookie, err := r.Cookie("tg_init_data"); err == nil {
		if decoded, err := url.QueryUnescape(cookie.Value); err == nil {
			return decoded
		}
	}
	return ""
}

func (a *AdminAuth) validateTelegramInitData(initData string) (*TelegramUser, error) {
	if a.botToken == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}

	params, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("parse init data: %w", err)
	}
	hash := params.Get("hash")
	if hash == "" {
		return nil, fmt.Errorf("missing hash")
	}

	// data-check-string: sorted key=value pairs without hash, newline separated
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params.Get(k))
	}

	expected, err := hex.DecodeString(hash)
	if err != nil {
		return nil, fmt.Errorf("malformed hash")
	}
	if !hmac.Equal(signInitData(a.botToken, strings.Join(parts, "\n")), expected) {
		return nil, fmt.Errorf("hash mismatch")
	}

	if authDate, err := strconv.ParseInt(params.Get("auth_date"), 10, 64); err == nil && a.maxAge > 0 {
		if a.now().Sub(time.Unix(authDate, 0)) > a.maxAge {
			return nil, fmt.Errorf("init data expired")
		}
	}

	userJSON := params.Get("user")
	if userJSON == "" {
		return nil, fmt.Errorf("missing user")
	}
	var user TelegramUser
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

// signInitData computes HMAC-SHA256(dataCheckString, HMAC-SHA256(botToken, "WebAppData")).
func signInitData(botToken, dataCheckString string) []byte {
	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(dataCheckString))
	return h.Sum(nil)
}
