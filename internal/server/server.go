// Package server exposes the bot's operational state over HTTP: health,
// status, current spreads, and the persisted opportunity and trade history.
// It is read-only; trading is driven entirely by the detection pipeline.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/elcapitan88/polybot/internal/domain"
	"github.com/elcapitan88/polybot/internal/ledger"
	"github.com/elcapitan88/polybot/internal/snapshot"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port int
}

// LedgerView is the slice of the ledger the status endpoint reads. Nil in
// monitor mode, where no ledger exists.
type LedgerView interface {
	Snapshot() ledger.Stats
	RiskState() domain.RiskState
	CurrentOpenExposure() float64
	OpenExposedPositions() []domain.Position
}

// Deps bundles the read-side collaborators the handlers serve from.
type Deps struct {
	Mode          string
	Snapshot      *snapshot.Store
	Ledger        LedgerView // nil in monitor mode
	Quotes        domain.QuoteCache
	Windows       domain.WindowStore
	Opportunities domain.OpportunityStore
	Trades        domain.TradeRecordStore
	StartedAt     time.Time
}

// Server is the operational HTTP API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	h := &handlers{deps: deps, logger: logger, now: func() time.Time { return time.Now().UTC() }}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/spreads", h.spreads)
	mux.HandleFunc("GET /api/spreads/{asset}", h.spreads)
	mux.HandleFunc("GET /api/quotes/{window}/{side}", h.quote)
	mux.HandleFunc("GET /api/windows", h.windows)
	mux.HandleFunc("GET /api/windows/{id}", h.window)
	mux.HandleFunc("GET /api/opportunities", h.opportunities)
	mux.HandleFunc("GET /api/trades", h.trades)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      logging(logger)(mux),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Run listens until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return ctx.Err()
}

// Handler exposes the route table for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
