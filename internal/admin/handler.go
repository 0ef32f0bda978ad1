package admin

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"lv-margincore/internal/httputil"
	"lv-margincore/internal/logging"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const roleAdmin = "admin"

// Handler handles admin authentication. There is a single operator account
// configured through the environment.
type Handler struct {
	username     string
	passwordHash []byte
	jwtSecret    []byte
	ttl          time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewHandler(username, passwordHash, jwtSecret string, ttl time.Duration, logger *zap.Logger) *Handler {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Handler{
		username:     strings.TrimSpace(username),
		passwordHash: []byte(strings.TrimSpace(passwordHash)),
		jwtSecret:    []byte(jwtSecret),
		ttl:          ttl,
		logger:       logging.OrNop(logger).Named("admin"),
		now:          time.Now,
	}
}

// Login checks the operator password and issues a signed token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid request"})
		return
	}
	if len(h.passwordHash) == 0 {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: "admin login is not configured"})
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(req.Username)), []byte(h.username)) == 1
	if err := bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password)); err != nil || !userOK {
		h.logger.Warn("admin login rejected", zap.String("username", req.Username))
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid credentials"})
		return
	}

	expires := h.now().Add(h.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      h.username,
		"username": h.username,
		"role":     roleAdmin,
		"exp":      expires.Unix(),
	})
	tokenStr, err := token.SignedString(h.jwtSecret)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "token generation failed"})
		return
	}
	h.logger.Info("admin logged in", zap.String("username", h.username))
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"token":      tokenStr,
		"username":   h.username,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

// Me returns the authenticated admin.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	username, _ := Username(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"username": username,
		"role":     roleAdmin,
	})
}

// AdminAuthMiddleware validates the admin bearer token.
func AdminAuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "missing authorization"})
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid authorization format"})
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "invalid token"})
				return
			}
			if role, _ := claims["role"].(string); role != roleAdmin {
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "admin access required"})
				return
			}
			username, _ := claims["username"].(string)
			ctx := context.WithValue(r.Context(), adminUsernameKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type contextKey string

const adminUsernameKey contextKey = "admin_username"

// Username returns the admin attached by AdminAuthMiddleware.
func Username(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(adminUsernameKey).(string)
	return v, ok && v != ""
}
