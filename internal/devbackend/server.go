// Package devbackend is a local stand-in for the civic backend and its
// identity provider. It issues OTPs (logged, never texted), signs HS256
// sessions, keeps users in memory, and revokes tokens on logout.
package devbackend

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"civicreport/internal/logging"
	"civicreport/internal/phone"
)

// Config tunes token lifetimes and the signing secret.
type Config struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	OTPTTL          time.Duration
}

type user struct {
	ID       string
	Phone    string
	FullName *string
	Language string
	City     string
	State    string
}

// Server serves the dev API.
type Server struct {
	cfg     Config
	otps    OTPStore
	revoked RevocationStore
	tokens  *tokenIssuer
	logger  *slog.Logger
	newCode func() (string, error)

	mu    sync.RWMutex
	users map[string]*user // by E.164 phone
}

// Option configures a Server.
type Option func(*Server)

// WithCodeGenerator replaces the random six-digit generator.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(s *Server) { s.newCode = fn }
}

// WithClock sets the time source for tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.tokens.now = now }
}

// NewServer wires the dev API over the given code and revocation stores.
func NewServer(cfg Config, otps OTPStore, revoked RevocationStore, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		otps:    otps,
		revoked: revoked,
		tokens: &tokenIssuer{
			secret:     []byte(cfg.JWTSecret),
			accessTTL:  cfg.AccessTokenTTL,
			refreshTTL: cfg.RefreshTokenTTL,
			now:        time.Now,
		},
		logger:  logging.Component(logger, "devbackend"),
		newCode: randomCode,
		users:   make(map[string]*user),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/send-otp", s.handleSendOTP).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/verify-otp", s.handleVerifyOTP).Methods(http.MethodPost)
	r.Handle("/api/auth/onboarding", s.requireBearer(http.HandlerFunc(s.handleOnboarding))).Methods(http.MethodPost)
	r.Handle("/auth/v1/logout", s.requireBearer(http.HandlerFunc(s.handleLogout))).Methods(http.MethodPost)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "apikey", "X-Request-ID"},
	})
	return c.Handler(r)
}

// ===== Handlers =====

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sendOTPBody struct {
	Phone string `json:"phone"`
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var body sendOTPBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	e164, ok := phone.E164(body.Phone)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}
	code, err := s.newCode()
	if err != nil {
		s.logger.ErrorContext(r.Context(), "generate otp failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "could not issue code")
		return
	}
	if err := s.otps.Put(r.Context(), e164, code, s.cfg.OTPTTL); err != nil {
		s.logger.ErrorContext(r.Context(), "store otp failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "could not issue code")
		return
	}
	s.logger.InfoContext(r.Context(), "otp issued", "phone", logging.MaskPhone(e164), "code", code, "request_id", r.Header.Get("X-Request-ID"))
	writeJSON(w, http.StatusOK, map[string]string{"message": "otp sent"})
}

type verifyOTPBody struct {
	Phone    string `json:"phone"`
	Token    string `json:"token"`
	FullName string `json:"full_name"`
	New      bool   `json:"new"`
}

type sessionUser struct {
	ID       string  `json:"id"`
	Phone    string  `json:"phone"`
	FullName *string `json:"full_name"`
}

type sessionBody struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresAt    int64       `json:"expires_at"`
	User         sessionUser `json:"user"`
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body verifyOTPBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	e164, ok := phone.E164(body.Phone)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}
	code, found, err := s.otps.Take(ctx, e164)
	if err != nil {
		s.logger.ErrorContext(ctx, "read otp failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "could not verify code")
		return
	}
	if !found || code != body.Token {
		writeError(w, http.StatusBadRequest, "invalid or expired code")
		return
	}

	u, status, msg := s.resolveUser(e164, body)
	if u == nil {
		writeError(w, status, msg)
		return
	}

	issued, err := s.tokens.issue(u.ID, u.Phone)
	if err != nil {
		s.logger.ErrorContext(ctx, "issue tokens failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	s.logger.InfoContext(ctx, "session issued", "user_id", u.ID, "new", body.New)
	writeJSON(w, http.StatusOK, map[string]any{"session": sessionBody{
		AccessToken:  issued.Access,
		RefreshToken: issued.Refresh,
		ExpiresAt:    issued.ExpiresAt.Unix(),
		User:         sessionUser{ID: u.ID, Phone: u.Phone, FullName: u.FullName},
	}})
}

// resolveUser creates the account on sign-up and looks it up on sign-in.
func (s *Server) resolveUser(e164 string, body verifyOTPBody) (*user, int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.users[e164]
	if !body.New {
		if existing == nil {
			return nil, http.StatusNotFound, "no account for this phone, sign up first"
		}
		return existing.copy(), 0, ""
	}
	if existing != nil {
		return nil, http.StatusConflict, "account already exists, sign in instead"
	}
	u := &user{ID: uuid.NewString(), Phone: e164}
	if name := strings.TrimSpace(body.FullName); name != "" {
		u.FullName = &name
	}
	s.users[e164] = u
	return u.copy(), 0, ""
}

type onboardingBody struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Language string `json:"language"`
	City     string `json:"city"`
	State    string `json:"state"`
}

type profileBody struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Language string `json:"language"`
	City     string `json:"city"`
	State    string `json:"state"`
}

func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	c := claimsFrom(r.Context())
	var body onboardingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	name := strings.TrimSpace(body.FullName)
	if name == "" {
		writeError(w, http.StatusBadRequest, "full_name is required")
		return
	}

	s.mu.Lock()
	u := s.users[c.Phone]
	if u == nil || u.ID != c.Subject {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	u.FullName = &name
	u.Language, u.City, u.State = body.Language, body.City, body.State
	out := profileBody{ID: u.ID, FullName: name, Phone: u.Phone, Language: u.Language, City: u.City, State: u.State}
	s.mu.Unlock()

	s.logger.InfoContext(r.Context(), "onboarding complete", "user_id", out.ID)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	c := claimsFrom(r.Context())
	ttl := s.cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = time.Until(c.ExpiresAt.Time)
	}
	if err := s.revoked.Revoke(r.Context(), c.ID, ttl); err != nil {
		s.logger.ErrorContext(r.Context(), "revoke failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "could not sign out")
		return
	}
	s.logger.InfoContext(r.Context(), "session revoked", "user_id", c.Subject)
	w.WriteHeader(http.StatusNoContent)
}

// ===== Middleware =====

type claimsKey struct{}

func claimsFrom(ctx context.Context) *claims {
	c, _ := ctx.Value(claimsKey{}).(*claims)
	return c
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		c, err := s.tokens.parseAccess(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		revoked, err := s.revoked.IsRevoked(r.Context(), c.ID)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "revocation lookup failed", "error", err.Error())
			writeError(w, http.StatusInternalServerError, "could not check token")
			return
		}
		if revoked {
			writeError(w, http.StatusUnauthorized, "token revoked")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, c)))
	})
}

// ===== Helpers =====

func (u *user) copy() *user {
	c := *u
	if u.FullName != nil {
		name := *u.FullName
		c.FullName = &name
	}
	return &c
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
