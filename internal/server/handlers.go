package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elcapitan88/polybot/internal/domain"
)

// handlers serves the API routes from the wired read-side collaborators.
type handlers struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// GET /health
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": h.now().Format(time.RFC3339),
	})
}

// GET /api/status
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	resp := map[string]any{
		"mode":            h.deps.Mode,
		"uptime_seconds":  int64(now.Sub(h.deps.StartedAt).Seconds()),
		"tracked_windows": len(h.deps.Snapshot.Windows()),
		"fresh_pairs":     len(h.deps.Snapshot.FreshPairs(now)),
		"timestamp":       now.Format(time.RFC3339),
	}

	if led := h.deps.Ledger; led != nil {
		stats := led.Snapshot()
		state := led.RiskState()
		exposed := make([]exposedPositionResponse, 0)
		for _, pos := range led.OpenExposedPositions() {
			exposed = append(exposed, exposedPositionResponse{
				WindowID:    pos.WindowID,
				Asset:       pos.Asset,
				UnpairedQty: pos.NetExposureQty(),
				CostBasis:   pos.CostBasis,
				OpenedAt:    pos.OpenedAt,
			})
		}
		resp["trading"] = map[string]any{
			"hedged":                stats.Hedged,
			"closed":                stats.Closed,
			"failed":                stats.Failed,
			"failed_exposed":        stats.FailedExposed,
			"realized_pnl":          stats.RealizedPnL,
			"daily_pnl":             state.DailyRealizedPnL,
			"daily_loss_budget":     state.RemainingDailyLossBudget(),
			"open_exposure_usd":     led.CurrentOpenExposure(),
			"open_exposed_windows":  exposed,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// spreadResponse is one tracked window's current pricing.
type spreadResponse struct {
	WindowID           string  `json:"window_id"`
	Asset              string  `json:"asset"`
	Slug               string  `json:"slug,omitempty"`
	YesAsk             float64 `json:"yes_ask"`
	NoAsk              float64 `json:"no_ask"`
	Combined           float64 `json:"combined"`
	Spread             float64 `json:"spread"`
	TimeToCloseSeconds float64 `json:"time_to_close_seconds"`
}

// GET /api/spreads and GET /api/spreads/{asset}
func (h *handlers) spreads(w http.ResponseWriter, r *http.Request) {
	asset := strings.ToUpper(r.PathValue("asset"))
	now := h.now()

	spreads := make([]spreadResponse, 0)
	for _, pair := range h.deps.Snapshot.FreshPairs(now) {
		if asset != "" && pair.Window.Asset != asset {
			continue
		}
		combined := pair.Yes.BestAsk + pair.No.BestAsk
		spreads = append(spreads, spreadResponse{
			WindowID:           pair.Window.ID,
			Asset:              pair.Window.Asset,
			Slug:               pair.Window.Slug,
			YesAsk:             pair.Yes.BestAsk,
			NoAsk:              pair.No.BestAsk,
			Combined:           combined,
			Spread:             1.0 - combined,
			TimeToCloseSeconds: pair.Window.CloseTime.Sub(now).Seconds(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": now.Format(time.RFC3339),
		"spreads":   spreads,
	})
}

// quoteResponse mirrors one cached (window, side) top-of-book.
type quoteResponse struct {
	WindowID   string    `json:"window_id"`
	Side       string    `json:"side"`
	BestBid    float64   `json:"best_bid"`
	BestAsk    float64   `json:"best_ask"`
	BidSize    float64   `json:"bid_size"`
	AskSize    float64   `json:"ask_size"`
	ObservedAt time.Time `json:"observed_at"`
}

// GET /api/quotes/{window}/{side}
func (h *handlers) quote(w http.ResponseWriter, r *http.Request) {
	windowID := r.PathValue("window")
	var side domain.Side
	switch strings.ToLower(r.PathValue("side")) {
	case "yes":
		side = domain.SideYes
	case "no":
		side = domain.SideNo
	default:
		writeError(w, http.StatusBadRequest, "side must be yes or no")
		return
	}

	q, err := h.deps.Quotes.Get(r.Context(), windowID, side)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no quote cached for window")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "quote lookup failed",
			slog.String("window", windowID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "quote lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, quoteResponse{
		WindowID:   q.WindowID,
		Side:       string(q.Side),
		BestBid:    q.BestBid,
		BestAsk:    q.BestAsk,
		BidSize:    q.BidSize,
		AskSize:    q.AskSize,
		ObservedAt: q.ObservedAt,
	})
}

// windowResponse is one persisted market window.
type windowResponse struct {
	ID        string    `json:"id"`
	Asset     string    `json:"asset"`
	Slug      string    `json:"slug,omitempty"`
	Question  string    `json:"question,omitempty"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Status    string    `json:"status"`
}

func toWindowResponse(mw domain.MarketWindow) windowResponse {
	return windowResponse{
		ID:        mw.ID,
		Asset:     mw.Asset,
		Slug:      mw.Slug,
		Question:  mw.Question,
		OpenTime:  mw.OpenTime,
		CloseTime: mw.CloseTime,
		Status:    string(mw.Status),
	}
}

// GET /api/windows
func (h *handlers) windows(w http.ResponseWriter, r *http.Request) {
	active, err := h.deps.Windows.ListActive(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list windows failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list windows")
		return
	}
	out := make([]windowResponse, 0, len(active))
	for _, mw := range active {
		out = append(out, toWindowResponse(mw))
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": out})
}

// GET /api/windows/{id}
func (h *handlers) window(w http.ResponseWriter, r *http.Request) {
	mw, err := h.deps.Windows.GetByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "window not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "window lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "window lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, toWindowResponse(mw))
}

// opportunityResponse is one persisted opportunity episode.
type opportunityResponse struct {
	ID         int64      `json:"id"`
	WindowID   string     `json:"window_id"`
	Asset      string     `json:"asset"`
	YesAsk     float64    `json:"yes_ask"`
	NoAsk      float64    `json:"no_ask"`
	Combined   float64    `json:"combined"`
	Spread     float64    `json:"spread"`
	BestSpread float64    `json:"best_spread"`
	DetectedAt time.Time  `json:"detected_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// GET /api/opportunities?limit=50
func (h *handlers) opportunities(w http.ResponseWriter, r *http.Request) {
	eps, err := h.deps.Opportunities.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list opportunities failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	out := make([]opportunityResponse, 0, len(eps))
	for _, ep := range eps {
		out = append(out, opportunityResponse{
			ID:         ep.ID,
			WindowID:   ep.WindowID,
			Asset:      ep.Asset,
			YesAsk:     ep.YesAsk,
			NoAsk:      ep.NoAsk,
			Combined:   ep.Combined,
			Spread:     ep.Spread,
			BestSpread: ep.BestSpread,
			DetectedAt: ep.DetectedAt,
			ResolvedAt: ep.ResolvedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": out})
}

// tradeResponse is one terminal execution outcome.
type tradeResponse struct {
	ID          string    `json:"id"`
	WindowID    string    `json:"window_id"`
	Asset       string    `json:"asset"`
	Outcome     string    `json:"outcome"`
	YesQty      float64   `json:"yes_qty"`
	NoQty       float64   `json:"no_qty"`
	YesPrice    float64   `json:"yes_price"`
	NoPrice     float64   `json:"no_price"`
	CostBasis   float64   `json:"cost_basis"`
	UnwindPrice *float64  `json:"unwind_price,omitempty"`
	RealizedPnL float64   `json:"realized_pnl"`
	ExposureUSD float64   `json:"exposure_usd,omitempty"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GET /api/trades?limit=50
func (h *handlers) trades(w http.ResponseWriter, r *http.Request) {
	recs, err := h.deps.Trades.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	out := make([]tradeResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, tradeResponse{
			ID:          rec.ID,
			WindowID:    rec.WindowID,
			Asset:       rec.Asset,
			Outcome:     string(rec.Outcome),
			YesQty:      rec.YesQty,
			NoQty:       rec.NoQty,
			YesPrice:    rec.YesPrice,
			NoPrice:     rec.NoPrice,
			CostBasis:   rec.CostBasis,
			UnwindPrice: rec.UnwindPrice,
			RealizedPnL: rec.RealizedPnL,
			ExposureUSD: rec.ExposureUSD,
			Note:        rec.Note,
			CreatedAt:   rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

// exposedPositionResponse is one stranded leg awaiting remediation.
type exposedPositionResponse struct {
	WindowID    string    `json:"window_id"`
	Asset       string    `json:"asset"`
	UnpairedQty float64   `json:"unpaired_qty"`
	CostBasis   float64   `json:"cost_basis"`
	OpenedAt    time.Time `json:"opened_at"`
}

// writeJSON marshals v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseLimit reads ?limit= with a default of 50 and a cap of 500.
func parseLimit(r *http.Request) int {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}
