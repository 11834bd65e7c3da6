package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"rotasave.org/internal/auth"
	"rotasave.org/internal/ledger"
	"rotasave.org/internal/obs"
	"rotasave.org/internal/rosca"
	"rotasave.org/internal/stream"
)

const serviceName = "rotasave-api"

// Pinger is satisfied by every store backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyCheck is a simple readiness check (for example a database ping).
type ReadyCheck struct {
	Store Pinger
}

func (rp ReadyCheck) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// API is the HTTP layer over the rotation engine.
type API struct {
	mux        *http.ServeMux
	readyCheck ReadyCheck
	version    string

	engine   *rosca.Engine
	ledger   ledger.Service
	stream   *stream.Stream
	issuer   *auth.Issuer
	tokenTTL time.Duration
	currency string
	now      func() time.Time

	ratePerSec  float64
	rateBurst   int
	corsOrigins []string
}

// Option configures the API.
type Option func(*API)

// WithLedger exposes ledger accounts under /v1/accounts.
func WithLedger(l ledger.Service) Option { return func(a *API) { a.ledger = l } }

// WithStream enables the /v1/events SSE endpoint.
func WithStream(s *stream.Stream) Option { return func(a *API) { a.stream = s } }

// WithIssuer turns on bearer authentication and the token endpoint.
func WithIssuer(iss *auth.Issuer, ttl time.Duration) Option {
	return func(a *API) {
		a.issuer = iss
		if ttl > 0 {
			a.tokenTTL = ttl
		}
	}
}

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(perSec float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSec
		a.rateBurst = burst
	}
}

// WithCORSOrigins adds allowed origins on top of localhost.
func WithCORSOrigins(origins []string) Option { return func(a *API) { a.corsOrigins = origins } }

// WithCurrency sets the currency used for ledger balances.
func WithCurrency(c string) Option {
	return func(a *API) {
		if c != "" {
			a.currency = c
		}
	}
}

// WithClock overrides the source of default timestamps.
func WithClock(now func() time.Time) Option { return func(a *API) { a.now = now } }

func New(rp ReadyCheck, version string, engine *rosca.Engine, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyCheck: rp,
		version:    version,
		engine:     engine,
		tokenTTL:   time.Hour,
		currency:   rosca.DefaultCurrency,
		now:        time.Now,
		ratePerSec: 20,
		rateBurst:  40,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/token", a.handleAuthToken)

	a.registerGroupRoutes()
	if a.ledger != nil {
		a.registerLedgerRoutes()
	}
	a.mux.HandleFunc("GET /v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigins...)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyCheck.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     serviceName,
		"time":     a.now().UTC().Format(time.RFC3339),
		"version":  a.version,
		"currency": a.currency,
		"auth":     a.issuer != nil,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
