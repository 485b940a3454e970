package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/cache"
	"github.com/Nzyazin/cashbook/internal/core/handler"
	"github.com/Nzyazin/cashbook/internal/core/logger"
	middlWre "github.com/Nzyazin/cashbook/internal/core/middleware"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/repository"
	"github.com/Nzyazin/cashbook/internal/core/repository/memory"
	"github.com/Nzyazin/cashbook/internal/core/repository/postgres"
	"github.com/Nzyazin/cashbook/internal/core/usecase"
	"github.com/Nzyazin/cashbook/pkg/config"
	"github.com/Nzyazin/cashbook/pkg/postgresdb"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
)

const apiPrefix = "/api/v1"

// the recorder registers its collectors globally, so it is built once per process
var httpMetrics = sync.OnceValue(func() middleware.Middleware {
	return middleware.New(middleware.Config{
		Recorder: prometheus.NewRecorder(prometheus.Config{}),
	})
})

type Server struct {
	router     *mux.Router
	log        logger.Logger
	cfg        *config.Config
	mu         sync.Mutex
	httpServer *http.Server
	db         *postgresdb.Database
	redis      *redis.Client
	handlers   []routeRegistrar
}

type routeRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// NewServer opens storage and the optional balance cache and wires the
// usecases behind the HTTP handlers.
func NewServer(cfg *config.Config, log logger.Logger) (*Server, error) {
	s := &Server{
		log:    log,
		cfg:    cfg,
		router: mux.NewRouter(),
	}

	store, err := s.openStore()
	if err != nil {
		return nil, err
	}

	balances, err := s.openCache()
	if err != nil {
		_ = s.closeResources()
		return nil, err
	}

	s.wire(store, balances)
	return s, nil
}

// NewServerWithStore wires the handlers over an already opened store.
func NewServerWithStore(cfg *config.Config, store repository.Store, balances cache.BalanceCache, log logger.Logger) *Server {
	s := &Server{
		log:    log,
		cfg:    cfg,
		router: mux.NewRouter(),
	}
	s.wire(store, balances)
	return s
}

func (s *Server) openStore() (repository.Store, error) {
	if s.cfg.Storage == config.StorageMemory {
		s.log.Warn("Using in-memory storage; data is lost on restart")
		store := memory.New()
		seedCategories(store, s.log)
		return store, nil
	}

	if err := postgresdb.Migrate(postgresdb.DSN(s.cfg.DB), s.log); err != nil {
		return nil, err
	}
	db, err := postgresdb.NewPostgresDB(s.cfg.DB, s.log)
	if err != nil {
		return nil, err
	}
	s.db = db
	return postgres.NewPostgresStore(db.DB, s.log, s.cfg.DB.MaxRetries), nil
}

func (s *Server) openCache() (cache.BalanceCache, error) {
	if !s.cfg.Redis.Enabled() {
		return cache.NewNoop(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", s.cfg.Redis.Addr, err)
	}
	s.redis = client
	s.log.Info("Balance cache enabled",
		logger.StringField("addr", s.cfg.Redis.Addr),
		logger.DurationField("ttl", s.cfg.Redis.TTL))
	return cache.NewRedis(client, s.cfg.Redis.TTL), nil
}

func (s *Server) wire(store repository.Store, balances cache.BalanceCache) {
	ledger := s.cfg.Ledger

	audit := usecase.NewAuditRecorder(store, s.log)
	balanceEngine := usecase.NewBalanceEngine(store, balances, s.log)
	walletUsecase := usecase.NewWalletUsecase(store, balanceEngine, audit, s.log)
	entryUsecase := usecase.NewEntryUsecase(store, audit, s.log)
	reporter := usecase.NewCashflowReporter(store, usecase.ReportOptions{
		Location:   ledger.Location,
		MinorUnits: ledger.MinorUnits,
		Timeout:    ledger.ReportTimeout,
	}, s.log)

	s.handlers = []routeRegistrar{
		handler.NewWalletHandler(walletUsecase, balanceEngine, ledger.MinorUnits, ledger.Location, s.log),
		handler.NewEntryHandler(entryUsecase, ledger.MinorUnits, ledger.Location, s.log),
		handler.NewReportHandler(reporter, ledger.Location, s.log),
		handler.NewAuditHandler(audit, ledger.Location, s.log),
	}

	s.router.Use(
		middlWre.Actor,
		middlWre.AccessLog(s.log),
		middlWre.Recovery(s.log),
	)

	mw := httpMetrics()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// label by route template so ids do not explode cardinality
			handlerID := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					handlerID = tpl
				}
			}
			std.Handler(handlerID, mw, next).ServeHTTP(w, r)
		})
	})

	s.RegisterRoutes()
}

func (s *Server) RegisterRoutes() {
	api := s.router.PathPrefix(apiPrefix).Subrouter()
	for _, h := range s.handlers {
		h.RegisterRoutes(api)
	}
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "storage": s.cfg.Storage}
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			s.log.Error("Health check: database unreachable", logger.ErrorField("error", err))
			status["status"], status["database"] = "unavailable", err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			// balances fall back to folding, so this is not fatal
			s.log.Warn("Health check: redis unreachable", logger.ErrorField("error", err))
			status["cache"] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      s.writeTimeout(12 * time.Second),
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 6 * time.Second,
	}

	s.setHTTPServer(srv)
	return srv.ListenAndServe()
}

func (s *Server) RunTLS(addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      s.writeTimeout(9 * time.Second),
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 6 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	s.setHTTPServer(srv)
	return srv.ListenAndServeTLS(certFile, keyFile)
}

func (s *Server) setHTTPServer(srv *http.Server) {
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()
}

// writeTimeout leaves room for a report that runs up to its own timeout.
func (s *Server) writeTimeout(floor time.Duration) time.Duration {
	if t := s.cfg.Ledger.ReportTimeout + 5*time.Second; t > floor {
		return t
	}
	return floor
}

func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	var shutdownErr error

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	go func() {
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				s.log.Error("failed to shutdown HTTP server", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
			}
		}

		if err := s.closeResources(); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}

		close(done)
	}()

	select {
	case <-done:
		return shutdownErr
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (s *Server) closeResources() error {
	var errs []error
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Error("failed to close redis client", logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("redis shutdown error: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Error("failed to close database connection", logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("database shutdown error: %w", err))
		}
	}
	return errors.Join(errs...)
}

// seedCategories gives in-memory runs a usable category set. IDs are derived
// from the names so they are stable across restarts.
func seedCategories(store *memory.Store, log logger.Logger) {
	defaults := []struct {
		name string
		kind models.EntryKind
	}{
		{"Sales", models.KindIncome},
		{"Other income", models.KindIncome},
		{"Materials", models.KindExpense},
		{"Wages", models.KindExpense},
		{"Overhead", models.KindExpense},
	}
	for _, d := range defaults {
		c := models.Category{
			ID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte("cashbook:category:"+d.name)),
			Name: d.name,
			Kind: d.kind,
		}
		store.SeedCategory(c)
		log.Info("Seeded category",
			logger.StringField("id", c.ID.String()),
			logger.StringField("name", c.Name),
			logger.StringField("kind", string(c.Kind)))
	}
}
