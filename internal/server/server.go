// Package server exposes investigations over HTTP: REST endpoints to start,
// pause and resume batches, an approval endpoint for gated tool calls, and
// a websocket stream of progress events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/research-agent/internal/events"
	"github.com/sells-group/research-agent/internal/investigate"
	"github.com/sells-group/research-agent/internal/metrics"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/store"
)

// Runner is the batch runner the API drives. *investigate.Runner
// satisfies it.
type Runner interface {
	Catalog() *investigate.Catalog
	Running() string
	Pause()
	Create(ctx context.Context, plan investigate.Plan) (*model.InvestigationState, error)
	Resume(ctx context.Context, id string) (*model.InvestigationState, error)
}

// Approvals resolves parked tool calls. *investigate.Gate satisfies it.
type Approvals interface {
	Resolve(investigationID string, d investigate.Decision) error
	Pending() []investigate.ApprovalRequest
}

// Store is the read side of persistence the API needs.
type Store interface {
	GetState(ctx context.Context, id string) (*model.InvestigationState, error)
	ListStates(ctx context.Context, status model.RunStatus) ([]model.InvestigationState, error)
	ListResults(ctx context.Context, filter store.ResultFilter) ([]model.Result, error)
	Ping(ctx context.Context) error
}

// Config holds server settings.
type Config struct {
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// Server hosts the HTTP API. Batches started through the API run on
// background goroutines bound to the context passed to Run.
type Server struct {
	cfg    Config
	runner Runner
	store  Store
	gate   Approvals
	bus    *events.Bus

	mu      sync.Mutex
	baseCtx context.Context
	runs    sync.WaitGroup
}

// New creates a server. gate may be nil when tool calls are auto-approved.
func New(cfg Config, runner Runner, st Store, gate Approvals, bus *events.Bus) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if bus == nil {
		bus = events.NewBus(0)
	}
	return &Server{
		cfg:     cfg,
		runner:  runner,
		store:   st,
		gate:    gate,
		bus:     bus,
		baseCtx: context.Background(),
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/criteria", s.handleCriteria)
		r.Get("/entities", s.handleEntities)
		r.Get("/results", s.handleResults)

		r.Route("/investigations", func(r chi.Router) {
			r.Get("/", s.handleListInvestigations)
			r.Post("/", s.handleCreateInvestigation)
			r.Get("/{id}", s.handleGetInvestigation)
			r.Post("/{id}/pause", s.handlePause)
			r.Post("/{id}/resume", s.handleResume)
		})

		r.Get("/approvals", s.handleListApprovals)
		r.Post("/approvals", s.handleApproval)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Run serves until ctx is done, then pauses the running batch, shuts the
// listener down and waits for background runs to checkpoint.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("starting server", zap.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		if s.runner.Running() != "" {
			s.runner.Pause()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.runs.Wait()
		return eris.Wrap(err, "server: shutdown")
	})
	return g.Wait()
}

// runBackground resumes a batch on its own goroutine.
func (s *Server) runBackground(id string) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		st, err := s.runner.Resume(ctx, id)
		if err != nil {
			zap.L().Error("server: investigation stopped",
				zap.String("investigation_id", id),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("server: investigation returned",
			zap.String("investigation_id", id),
			zap.String("status", string(st.Status)),
			zap.Int("completed", st.Completed()),
			zap.Int("total", st.Total()),
		)
	}()
}

// Wait blocks until background runs have returned.
func (s *Server) Wait() {
	s.runs.Wait()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
