package rpc

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pointsledger/core/redemption"
	"pointsledger/observability/metrics"
	"pointsledger/state"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine             *redemption.Engine
	State              *state.Manager
	Owner              [20]byte
	AdminToken         string
	Logger             *slog.Logger
	ClaimRatePerMinute float64
	ClaimBurst         int
}

// Server exposes the ledger over HTTP: a public claim/read surface and a
// bearer-token protected administrative surface.
type Server struct {
	engine     *redemption.Engine
	st         *state.Manager
	owner      [20]byte
	adminToken string
	logger     *slog.Logger
	metrics    *metrics.RedemptionMetrics

	router http.Handler
}

// New constructs a configured router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:     cfg.Engine,
		st:         cfg.State,
		owner:      cfg.Owner,
		adminToken: strings.TrimSpace(cfg.AdminToken),
		logger:     logger,
		metrics:    metrics.Redemption(),
	}

	limiter := NewRateLimiter(cfg.ClaimRatePerMinute, cfg.ClaimBurst)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(limiter.Middleware).Post("/claim", srv.handleClaim)
		r.Get("/events", srv.handleListEvents)
		r.Get("/events/{eventID}", srv.handleEventInfo)
		r.Get("/events/{eventID}/tokens", srv.handleListTokens)
		r.Get("/events/{eventID}/tokens/{tokenKey}", srv.handleTokenInfo)
		r.Get("/events/{eventID}/totals/{address}", srv.handleUserTotal)
		r.Get("/fingerprints/{fingerprint}", srv.handleUsedFingerprint)
		r.Get("/log", srv.handleLog)

		r.Route("/admin", func(r chi.Router) {
			r.Use(srv.requireAdmin)
			r.Get("/signer", srv.handleSignerInfo)
			r.Put("/signer", srv.handleSetSigner)
			r.Post("/events", srv.handleCreateEvent)
			r.Post("/events/{eventID}/activate", srv.handleActivateEvent)
			r.Post("/events/{eventID}/deactivate", srv.handleDeactivateEvent)
			r.Post("/events/{eventID}/tokens", srv.handleAddToken)
			r.Post("/withdrawals", srv.handleWithdraw)
		})
	})

	srv.router = r
	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		if s.adminToken == "" || !ok ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// reasonFor maps engine sentinels onto stable machine-readable reason codes
// and HTTP statuses.
func reasonFor(err error) (int, string) {
	switch {
	case errors.Is(err, redemption.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, redemption.ErrInvalidSigner):
		return http.StatusBadRequest, "invalid_signer"
	case errors.Is(err, redemption.ErrMalformedSignature):
		return http.StatusBadRequest, "malformed_signature"
	case errors.Is(err, redemption.ErrInvalidSignature):
		return http.StatusForbidden, "invalid_signature"
	case errors.Is(err, redemption.ErrEventExists):
		return http.StatusConflict, "event_exists"
	case errors.Is(err, redemption.ErrEventNotFound):
		return http.StatusNotFound, "event_not_found"
	case errors.Is(err, redemption.ErrEventNotActive):
		return http.StatusConflict, "event_not_active"
	case errors.Is(err, redemption.ErrEventAlreadyActive):
		return http.StatusConflict, "event_already_active"
	case errors.Is(err, redemption.ErrEventStillActive):
		return http.StatusConflict, "event_still_active"
	case errors.Is(err, redemption.ErrEventNotStarted):
		return http.StatusConflict, "event_not_started"
	case errors.Is(err, redemption.ErrInvalidSchedule):
		return http.StatusBadRequest, "invalid_schedule"
	case errors.Is(err, redemption.ErrInvalidLimits):
		return http.StatusBadRequest, "invalid_limits"
	case errors.Is(err, redemption.ErrTokenExists):
		return http.StatusConflict, "token_exists"
	case errors.Is(err, redemption.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found"
	case errors.Is(err, redemption.ErrFingerprintUsed):
		return http.StatusConflict, "fingerprint_used"
	case errors.Is(err, redemption.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, redemption.ErrInvalidRate):
		return http.StatusBadRequest, "invalid_rate"
	case errors.Is(err, redemption.ErrRateMismatch):
		return http.StatusBadRequest, "rate_mismatch"
	case errors.Is(err, redemption.ErrInsufficientRemaining):
		return http.StatusConflict, "insufficient_remaining"
	case errors.Is(err, redemption.ErrBelowMinimum):
		return http.StatusConflict, "below_minimum"
	case errors.Is(err, redemption.ErrExceedsMaximum):
		return http.StatusConflict, "exceeds_maximum"
	case errors.Is(err, redemption.ErrEscrowMismatch):
		return http.StatusBadRequest, "escrow_mismatch"
	case errors.Is(err, redemption.ErrNothingToWithdraw):
		return http.StatusConflict, "nothing_to_withdraw"
	case errors.Is(err, redemption.ErrInvalidRange):
		return http.StatusBadRequest, "invalid_range"
	case errors.Is(err, redemption.ErrTransferFailed):
		return http.StatusConflict, "transfer_failed"
	case errors.Is(err, redemption.ErrReentrantCall):
		return http.StatusConflict, "reentrant_call"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
