package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/taxdesk/portal/internal/backend"
	"github.com/taxdesk/portal/internal/logging"
	"github.com/taxdesk/portal/internal/session"
	"github.com/taxdesk/portal/types"
)

// SessionCookie holds the signed session token.
const SessionCookie = "taxdesk_session"

// AuthHandler signs users in against the processing service and keeps
// the resulting session behind a JWT.
type AuthHandler struct {
	backend       *backend.Client
	sessions      *session.Manager
	secret        []byte
	secureCookies bool
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(client *backend.Client, sessions *session.Manager, jwtSecret string, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		backend:       client,
		sessions:      sessions,
		secret:        []byte(jwtSecret),
		secureCookies: secureCookies,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/login", handler.Login)
	r.With(handler.RequireSession).Post("/logout", handler.Logout)
	r.With(handler.RequireSession).Get("/me", handler.Me)
}

// RequireSession resolves the session token and injects the session
// into the request context.
func (h *AuthHandler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := sessionToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		subject, err := parseTokenSubject(tokenString, h.secret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		s, err := h.sessions.Get(r.Context(), subject)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "session expired")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to load session")
			return
		}

		entry := logging.FromContext(r.Context()).WithField("user", s.User().Username)
		ctx := logging.WithLogger(withSession(r.Context(), s), entry)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects sessions of non-admin users. It must run after
// RequireSession.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !s.User().IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Login verifies credentials with the processing service and opens a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.backend.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		var aerr *backend.APIError
		if !errors.As(err, &aerr) {
			writeBackendError(w, err)
			return
		}
		resp := LoginFailure{Success: false, Error: aerr.Message}
		status := http.StatusUnauthorized
		if strings.Contains(aerr.Message, string(types.StatusRestricted)) {
			resp.Restricted = true
			status = http.StatusForbidden
		}
		writeJSON(w, status, resp)
		return
	}

	s, err := h.sessions.Create(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	ttl := h.sessions.TTL()
	token, err := issueToken(s.ID(), h.secret, ttl)
	if err != nil {
		_ = h.sessions.Destroy(r.Context(), s.ID())
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, AuthResponse{Success: true, Token: token, User: user.Redacted()})
}

// Logout ends the session and stops its background work.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.sessions.Destroy(r.Context(), s.ID()); err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("failed to delete session")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me returns the signed-in user and the open module.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{User: s.User().Redacted(), ActiveModule: s.ActiveModule()})
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Success bool       `json:"success"`
	Token   string     `json:"token"`
	User    types.User `json:"user"`
}

type LoginFailure struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Restricted bool   `json:"restricted,omitempty"`
}

type MeResponse struct {
	User         types.User `json:"user"`
	ActiveModule string     `json:"active_module,omitempty"`
}

func issueToken(sessionID string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  sessionID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseTokenSubject(tokenString string, secret []byte) (string, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

// sessionToken reads the token from the session cookie, falling back to
// a bearer Authorization header.
func sessionToken(r *http.Request) (string, error) {
	if c, err := r.Cookie(SessionCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), nil
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
