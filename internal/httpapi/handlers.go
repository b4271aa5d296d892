package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

const serviceName = "warden"

// Pinger is satisfied by the Postgres store and *sql.DB wrappers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports readiness from a storage ping. A nil DB is always ready,
// which is the case for the in-memory store.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

// Options tunes the HTTP surface. Zero values fall back to defaults.
type Options struct {
	Version       string
	Logger        *zap.Logger
	MaxBodyBytes  int64
	CORSOrigins   []string
	RateLimit     float64
	RateBurst     int
	TrustProxy    bool
	RefreshCookie bool
	CookieSecure  bool
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 5
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 10
	}
	return o
}

// API is the HTTP layer over the session core and the admin service.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	admin      *auth.AdminService
	readyProbe ReadyProbe
	opts       Options
	log        *zap.Logger
}

func New(svc *auth.Service, admin *auth.AdminService, rp ReadyProbe, opts Options) *API {
	opts = opts.withDefaults()
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		admin:      admin,
		readyProbe: rp,
		opts:       opts,
		log:        obs.Component(opts.Logger, "http"),
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.Handle("/v1/auth/", RateLimit(a.authRoutes(), opts.RateLimit, opts.RateBurst, opts.TrustProxy))
	a.adminRoutes()

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(h, a.opts.CORSOrigins)
	h = SecurityHeaders(h)
	h = Logging(a.log)(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		a.log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
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
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errEmptyBody
		case errors.As(err, &tooLarge):
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// page reads limit/offset query parameters.
func page(r *http.Request) (auth.Page, error) {
	limit, err := parseBoundedInt(r.URL.Query().Get("limit"), 50, 1, 500)
	if err != nil {
		return auth.Page{}, errors.New("limit must be an integer between 1 and 500")
	}
	offset, err := parseBoundedInt(r.URL.Query().Get("offset"), 0, 0, 1<<30)
	if err != nil {
		return auth.Page{}, errors.New("offset must be a non-negative integer")
	}
	return auth.Page{Limit: limit, Offset: offset}, nil
}

func parseBoundedInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if val < min || val > max {
		return 0, errors.New("out of range")
	}
	return val, nil
}

func optionalBool(raw string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
