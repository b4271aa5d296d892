package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by principal kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	authRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh-token presentations by outcome.",
		},
		[]string{"outcome"},
	)

	authRevocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_revocations_total",
			Help: "Refresh-token rows revoked, by reason.",
		},
		[]string{"reason"},
	)

	authRehashTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_password_rehash_total",
			Help: "Stored digests upgraded on login, by previous algorithm.",
		},
		[]string{"from"},
	)

	authPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_purged_total",
		Help: "Expired or revoked refresh-token rows deleted by housekeeping.",
	})

	grpcRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total number of gRPC calls by method and status code.",
		},
		[]string{"method", "code"},
	)

	grpcRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_request_duration_seconds",
			Help:    "gRPC call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	grpcPanicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_panics_total",
		Help: "Panics recovered in gRPC handlers.",
	})

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness check passed.",
	})

	initOnce sync.Once
)

// Init registers every collector of this package in the default registry.
// It is safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authLoginsTotal, authRefreshTotal, authRevocationsTotal, authRehashTotal, authPurgedTotal,
			grpcRequestsTotal, grpcRequestDuration, grpcPanicsTotal,
			readyGauge,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the last readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

func RecordLogin(kind, outcome string) {
	authLoginsTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordRefresh(outcome string) {
	authRefreshTotal.WithLabelValues(outcome).Inc()
}

func RecordRevocations(reason string, n int64) {
	if n > 0 {
		authRevocationsTotal.WithLabelValues(reason).Add(float64(n))
	}
}

func RecordRehash(from string) {
	authRehashTotal.WithLabelValues(from).Inc()
}

func RecordPurged(n int64) {
	if n > 0 {
		authPurgedTotal.Add(float64(n))
	}
}

// RecordGRPC records one finished gRPC call.
func RecordGRPC(method, code string, d time.Duration) {
	grpcRequestsTotal.WithLabelValues(method, code).Inc()
	grpcRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func RecordGRPCPanic() { grpcPanicsTotal.Inc() }

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

var collections = map[string]struct{}{
	"users":       {},
	"roles":       {},
	"permissions": {},
	"clients":     {},
	"sessions":    {},
}

// CanonicalPath replaces identifiers that follow a collection segment with
// ":id" so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i := 1; i < len(segs); i++ {
		if _, ok := collections[segs[i-1]]; ok && segs[i] != "" {
			if _, nested := collections[segs[i]]; !nested {
				segs[i] = ":id"
			}
		}
	}
	return "/" + strings.Join(segs, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
