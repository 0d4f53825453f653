package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elcapitan88/polybot/internal/domain"
	"github.com/elcapitan88/polybot/internal/ledger"
	"github.com/elcapitan88/polybot/internal/snapshot"
)

type fakeQuoteCache struct {
	quotes map[string]domain.Quote // keyed by windowID:side
}

func (f *fakeQuoteCache) Set(_ context.Context, q domain.Quote) error {
	f.quotes[q.WindowID+":"+string(q.Side)] = q
	return nil
}

func (f *fakeQuoteCache) Get(_ context.Context, windowID string, side domain.Side) (domain.Quote, error) {
	q, ok := f.quotes[windowID+":"+string(side)]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

type fakeWindowStore struct {
	windows map[string]domain.MarketWindow
}

func (f *fakeWindowStore) Upsert(_ context.Context, w domain.MarketWindow) error {
	f.windows[w.ID] = w
	return nil
}

func (f *fakeWindowStore) UpdateStatus(_ context.Context, id string, status domain.WindowStatus) error {
	w, ok := f.windows[id]
	if !ok {
		return domain.ErrNotFound
	}
	w.Status = status
	f.windows[id] = w
	return nil
}

func (f *fakeWindowStore) GetByID(_ context.Context, id string) (domain.MarketWindow, error) {
	w, ok := f.windows[id]
	if !ok {
		return domain.MarketWindow{}, domain.ErrNotFound
	}
	return w, nil
}

func (f *fakeWindowStore) ListActive(_ context.Context) ([]domain.MarketWindow, error) {
	var out []domain.MarketWindow
	for _, w := range f.windows {
		if w.Status != domain.WindowStatusSettled {
			out = append(out, w)
		}
	}
	return out, nil
}

type fakeOpportunityStore struct {
	episodes []domain.OpportunityEpisode
}

func (f *fakeOpportunityStore) Open(_ context.Context, ep domain.OpportunityEpisode) (int64, error) {
	ep.ID = int64(len(f.episodes) + 1)
	f.episodes = append(f.episodes, ep)
	return ep.ID, nil
}

func (f *fakeOpportunityStore) Resolve(_ context.Context, id int64, resolvedAt time.Time, bestSpread float64) error {
	return nil
}

func (f *fakeOpportunityStore) ListRecent(_ context.Context, limit int) ([]domain.OpportunityEpisode, error) {
	if limit > len(f.episodes) {
		limit = len(f.episodes)
	}
	return f.episodes[:limit], nil
}

type fakeTradeStore struct {
	records []domain.TradeRecord
}

func (f *fakeTradeStore) Insert(_ context.Context, rec domain.TradeRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeTradeStore) ListRecent(_ context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit > len(f.records) {
		limit = len(f.records)
	}
	return f.records[:limit], nil
}

func (f *fakeTradeStore) SumRealizedPnL(_ context.Context, since time.Time) (float64, error) {
	return 0, nil
}

func testWindow(id, asset string, closeIn time.Duration) domain.MarketWindow {
	now := time.Now().UTC()
	return domain.MarketWindow{
		ID:         id,
		Asset:      asset,
		Slug:       asset + "-up-or-down-15m",
		YesTokenID: id + ":yes",
		NoTokenID:  id + ":no",
		OpenTime:   now.Add(-5 * time.Minute),
		CloseTime:  now.Add(closeIn),
		Status:     domain.WindowStatusOpen,
	}
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if deps.Mode == "" {
		deps.Mode = "monitor"
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now().UTC().Add(-time.Minute)
	}
	return New(Config{Port: 0}, deps, logger)
}

func getJSON(t *testing.T, h http.Handler, path string, wantStatus int) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, wantStatus, rec.Code, "GET %s body: %s", path, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, Deps{Snapshot: snapshot.New(5 * time.Second)})
	body := getJSON(t, srv.Handler(), "/health", http.StatusOK)
	assert.Equal(t, "ok", body["status"])
}

func TestStatusReportsTrackedWindowsAndTrading(t *testing.T) {
	store := snapshot.New(5 * time.Second)
	store.Track(testWindow("w1", "BTC", 10*time.Minute))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	led := ledger.New(ledger.Config{MaxDailyLossUSD: 100}, nil, logger)
	led.Record(context.Background(), domain.TradeRecord{
		ID: "rec-1", WindowID: "w1", Outcome: domain.AttemptHedged, RealizedPnL: 2.5,
	})

	srv := newTestServer(t, Deps{Mode: "paper", Snapshot: store, Ledger: led})
	body := getJSON(t, srv.Handler(), "/api/status", http.StatusOK)

	assert.Equal(t, "paper", body["mode"])
	assert.EqualValues(t, 1, body["tracked_windows"])

	trading, ok := body["trading"].(map[string]any)
	require.True(t, ok, "status must include the trading block when a ledger is wired")
	assert.EqualValues(t, 1, trading["hedged"])
	assert.InDelta(t, 2.5, trading["daily_pnl"].(float64), 1e-9)
}

func TestStatusOmitsTradingInMonitorMode(t *testing.T) {
	srv := newTestServer(t, Deps{Snapshot: snapshot.New(5 * time.Second)})
	body := getJSON(t, srv.Handler(), "/api/status", http.StatusOK)
	_, present := body["trading"]
	assert.False(t, present)
}

func TestSpreadsFiltersByAsset(t *testing.T) {
	store := snapshot.New(time.Minute)
	now := time.Now().UTC()
	for _, w := range []domain.MarketWindow{
		testWindow("w-btc", "BTC", 10*time.Minute),
		testWindow("w-eth", "ETH", 10*time.Minute),
	} {
		store.Track(w)
		store.Update(domain.Quote{WindowID: w.ID, Side: domain.SideYes, BestAsk: 0.48, BestBid: 0.46, ObservedAt: now})
		store.Update(domain.Quote{WindowID: w.ID, Side: domain.SideNo, BestAsk: 0.49, BestBid: 0.47, ObservedAt: now})
	}

	srv := newTestServer(t, Deps{Snapshot: store})

	body := getJSON(t, srv.Handler(), "/api/spreads", http.StatusOK)
	assert.Len(t, body["spreads"], 2)

	body = getJSON(t, srv.Handler(), "/api/spreads/btc", http.StatusOK)
	spreads := body["spreads"].([]any)
	require.Len(t, spreads, 1)
	first := spreads[0].(map[string]any)
	assert.Equal(t, "w-btc", first["window_id"])
	assert.InDelta(t, 0.97, first["combined"].(float64), 1e-9)
	assert.InDelta(t, 0.03, first["spread"].(float64), 1e-9)
}

func TestQuoteEndpoint(t *testing.T) {
	cache := &fakeQuoteCache{quotes: map[string]domain.Quote{}}
	require.NoError(t, cache.Set(context.Background(), domain.Quote{
		WindowID: "w1", Side: domain.SideYes, BestBid: 0.45, BestAsk: 0.47,
		ObservedAt: time.Now().UTC(),
	}))

	srv := newTestServer(t, Deps{Snapshot: snapshot.New(time.Minute), Quotes: cache})

	body := getJSON(t, srv.Handler(), "/api/quotes/w1/yes", http.StatusOK)
	assert.InDelta(t, 0.47, body["best_ask"].(float64), 1e-9)

	getJSON(t, srv.Handler(), "/api/quotes/w1/no", http.StatusNotFound)
	getJSON(t, srv.Handler(), "/api/quotes/w1/maybe", http.StatusBadRequest)
}

func TestWindowEndpoints(t *testing.T) {
	ws := &fakeWindowStore{windows: map[string]domain.MarketWindow{}}
	require.NoError(t, ws.Upsert(context.Background(), testWindow("w1", "BTC", 10*time.Minute)))

	srv := newTestServer(t, Deps{Snapshot: snapshot.New(time.Minute), Windows: ws})

	body := getJSON(t, srv.Handler(), "/api/windows", http.StatusOK)
	assert.Len(t, body["windows"], 1)

	body = getJSON(t, srv.Handler(), "/api/windows/w1", http.StatusOK)
	assert.Equal(t, "BTC", body["asset"])

	getJSON(t, srv.Handler(), "/api/windows/nope", http.StatusNotFound)
}

func TestHistoryEndpoints(t *testing.T) {
	ops := &fakeOpportunityStore{}
	_, err := ops.Open(context.Background(), domain.OpportunityEpisode{
		WindowID: "w1", Asset: "BTC", Combined: 0.97, Spread: 0.03,
		DetectedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	trades := &fakeTradeStore{}
	require.NoError(t, trades.Insert(context.Background(), domain.TradeRecord{
		ID: "rec-1", WindowID: "w1", Outcome: domain.AttemptHedged,
		RealizedPnL: 1.2, CreatedAt: time.Now().UTC(),
	}))

	srv := newTestServer(t, Deps{
		Snapshot:      snapshot.New(time.Minute),
		Opportunities: ops,
		Trades:        trades,
	})

	body := getJSON(t, srv.Handler(), "/api/opportunities?limit=10", http.StatusOK)
	eps := body["opportunities"].([]any)
	require.Len(t, eps, 1)
	assert.Equal(t, "w1", eps[0].(map[string]any)["window_id"])

	body = getJSON(t, srv.Handler(), "/api/trades", http.StatusOK)
	recs := body["trades"].([]any)
	require.Len(t, recs, 1)
	assert.Equal(t, "hedged", recs[0].(map[string]any)["outcome"])
}
