package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"fundme/internal/config"
	"fundme/internal/escrow"
	"fundme/internal/hmacauth"
	"fundme/internal/idempotency"
	"fundme/internal/journal"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Server struct {
	cfg         *config.AppConfig
	escrow      escrow.Client
	store       idempotency.Store
	journal     journal.Store
	callers     *hmacauth.Verifier
	integration *hmacauth.Verifier
	logger      *slog.Logger
	router      chi.Router
	httpServer  *http.Server
	metrics     *metricsRegistry
	keys        *keyLocks
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, esc escrow.Client, store idempotency.Store, jrnl journal.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		escrow:  esc,
		store:   store,
		journal: jrnl,
		callers: &hmacauth.Verifier{
			Secret:        cfg.Service.HMACSecret,
			MaxSkew:       cfg.Service.HMACClockSkew,
			Logger:        logger,
			AllowUnsigned: cfg.Service.InsecureDev,
		},
		integration: &hmacauth.Verifier{
			Secret:        cfg.Service.IntegrationSecret,
			MaxSkew:       cfg.Service.HMACClockSkew,
			Logger:        logger,
			AllowUnsigned: cfg.Service.InsecureDev,
		},
		logger:  logger,
		metrics: newMetricsRegistry(),
		keys:    newKeyLocks(),
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := esc.(escrow.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware, s.logRequests)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", s.metrics.handler())
		r.Get("/campaign", s.handleCampaign)
		r.Get("/contributions/{address}", s.handleContribution)
		r.Get("/usd-value", s.handleUSDValue)
		r.Get("/journal", s.handleJournal)

		r.Group(func(r chi.Router) {
			r.Use(s.callers.Middleware)
			r.Post("/fund", s.idempotent(journal.KindFund, s.fund))
			r.Post("/get-fund", s.idempotent(journal.KindGetFund, s.getFund))
			r.Post("/refund", s.idempotent(journal.KindRefund, s.refund))
			r.Post("/admin/owner", s.idempotent(journal.KindTransferOwner, s.transferOwner))
			r.Post("/admin/integration", s.idempotent(journal.KindSetIntegrationAddress, s.setIntegrationAddress))
		})
		r.Group(func(r chi.Router) {
			r.Use(s.integration.Middleware)
			r.Post("/integration/funder-amount", s.idempotent(journal.KindSetFunderAmount, s.setFunderAmount))
		})
	})
	s.router = r

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.updateDLQDepth()
	return s
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("API listening", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	queueDepth := s.updateDLQDepth()

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status     string      `json:"status"`
		RPC        interface{} `json:"rpc"`
		Database   interface{} `json:"database"`
		QueueDepth int         `json:"queue_depth"`
	}{
		Status:     status,
		RPC:        rpcInfo,
		Database:   dbInfo,
		QueueDepth: queueDepth,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type requestIDKey struct{}

const headerRequestID = "X-Request-Id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", requestID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// keyLocks serializes requests that share an idempotency key so the second
// one replays the first instead of racing it.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
