package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elcapitan88/polybot/internal/domain"
	"github.com/elcapitan88/polybot/internal/ledger"
	"github.com/elcapitan88/polybot/internal/risk"
)

// fillOutcome scripts the result of one accepted order submission.
type fillOutcome struct {
	fraction float64 // of requested size
	price    float64 // 0 means fill at the requested price
}

type orderScript struct {
	errs     []error // consumed before any fill outcome
	outcomes []fillOutcome
}

// fakeOrders is a scriptable OrderClient keyed by token ID and order side.
type fakeOrders struct {
	mu      sync.Mutex
	seq     int
	scripts map[string]*orderScript
	orders  map[string]domain.OrderStatus
	submits map[string]int
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		scripts: make(map[string]*orderScript),
		orders:  make(map[string]domain.OrderStatus),
		submits: make(map[string]int),
	}
}

func legKey(tokenID string, side domain.OrderSide) string {
	return tokenID + "/" + string(side)
}

func (f *fakeOrders) script(tokenID string, side domain.OrderSide, s *orderScript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[legKey(tokenID, side)] = s
}

func (f *fakeOrders) SubmitOrder(_ context.Context, req domain.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := legKey(req.TokenID, req.Side)
	f.submits[key]++

	out := fillOutcome{fraction: 1} // default: full fill at requested price
	if s, ok := f.scripts[key]; ok {
		if len(s.errs) > 0 {
			err := s.errs[0]
			s.errs = s.errs[1:]
			return "", err
		}
		if len(s.outcomes) > 0 {
			out = s.outcomes[0]
			s.outcomes = s.outcomes[1:]
		}
	}

	f.seq++
	id := fmt.Sprintf("ord-%d", f.seq)
	filled := out.fraction * req.Size
	price := out.price
	if price == 0 {
		price = req.Price
	}
	state := domain.OrderFilled
	if out.fraction < 1 {
		state = domain.OrderCancelled // partial then no more liquidity
	}
	f.orders[id] = domain.OrderStatus{
		OrderID:       id,
		FilledSize:    filled,
		RemainingSize: req.Size - filled,
		AvgFillPrice:  price,
		State:         state,
	}
	return id, nil
}

func (f *fakeOrders) OrderStatus(_ context.Context, orderID string) (domain.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.orders[orderID]
	if !ok {
		return domain.OrderStatus{}, domain.ErrNotFound
	}
	return st, nil
}

func (f *fakeOrders) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	if st.State == domain.OrderOpen {
		st.State = domain.OrderCancelled
		f.orders[orderID] = st
	}
	return nil
}

func (f *fakeOrders) submitCount(tokenID string, side domain.OrderSide) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits[legKey(tokenID, side)]
}

type fakeLocks struct {
	mu       sync.Mutex
	held     bool
	acquired []string
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.acquired = append(f.acquired, key)
	return func() {}, nil
}

type fakeQuotes struct {
	pair domain.QuotePair
	err  error
}

func (f *fakeQuotes) Pair(string, time.Time) (domain.QuotePair, error) {
	return f.pair, f.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func testWindow() domain.MarketWindow {
	now := time.Now().UTC()
	return domain.MarketWindow{
		ID:         "w1",
		Asset:      "BTC",
		YesTokenID: "ytok",
		NoTokenID:  "ntok",
		OpenTime:   now.Add(-5 * time.Minute),
		CloseTime:  now.Add(10 * time.Minute),
		Status:     domain.WindowStatusOpen,
	}
}

func testCandidate() domain.OpportunityCandidate {
	return domain.OpportunityCandidate{
		WindowID:      "w1",
		Asset:         "BTC",
		YesAsk:        0.48,
		NoAsk:         0.49,
		CombinedCost:  0.97,
		ImpliedProfit: 0.03,
		Size:          100,
		TimeToClose:   10 * time.Minute,
		DetectedAt:    time.Now().UTC(),
	}
}

func freshPair(yesAsk, yesBid, noAsk, noBid float64) domain.QuotePair {
	now := time.Now().UTC()
	return domain.QuotePair{
		Window: testWindow(),
		Yes: domain.Quote{
			WindowID: "w1", Side: domain.SideYes,
			BestAsk: yesAsk, BestBid: yesBid, AskSize: 500, BidSize: 500,
			ObservedAt: now,
		},
		No: domain.Quote{
			WindowID: "w1", Side: domain.SideNo,
			BestAsk: noAsk, BestBid: noBid, AskSize: 500, BidSize: 500,
			ObservedAt: now,
		},
	}
}

type engineHarness struct {
	engine   *Engine
	orders   *fakeOrders
	quotes   *fakeQuotes
	locks    *fakeLocks
	notifier *fakeNotifier
	ledger   *ledger.Ledger
	gate     *risk.Gate
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	led := ledger.New(ledger.Config{MaxDailyLossUSD: 100}, nil, logger)
	gate := risk.NewGate(risk.Config{
		MaxTradeUSD:         100,
		MaxTotalExposureUSD: 250,
		MinProfit:           0.025,
		CostBuffer:          0.005,
	}, led, logger)

	h := &engineHarness{
		orders:   newFakeOrders(),
		quotes:   &fakeQuotes{pair: freshPair(0.48, 0.47, 0.49, 0.48)},
		locks:    &fakeLocks{},
		notifier: &fakeNotifier{},
		ledger:   led,
		gate:     gate,
	}
	h.engine = NewEngine(h.orders, h.quotes, h.locks, led, gate, h.notifier, nil, Config{
		FillWait:       20 * time.Millisecond,
		PollInterval:   time.Millisecond,
		SubmitRetries:  4,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  4 * time.Millisecond,
		UnwindRetries:  3,
		MinProfit:      0.025,
		CostBuffer:     0.005,
		LockTTL:        5 * time.Second,
	}, logger)
	return h
}

func (h *engineHarness) admit(t *testing.T) risk.Admission {
	t.Helper()
	adm, rej := h.gate.Admit(testCandidate())
	require.Nil(t, rej)
	return adm
}

func TestExecuteBothLegsFillHedged(t *testing.T) {
	h := newEngineHarness(t)
	adm := h.admit(t)

	rec, err := h.engine.Execute(context.Background(), adm)
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptHedged, rec.Outcome)
	assert.InDelta(t, 100.0, rec.YesQty, 1e-9)
	assert.InDelta(t, 100.0, rec.NoQty, 1e-9)
	assert.InDelta(t, 0.48, rec.YesPrice, 1e-9)
	assert.InDelta(t, 0.49, rec.NoPrice, 1e-9)
	assert.InDelta(t, 3.0, rec.RealizedPnL, 1e-9)
	assert.Zero(t, rec.ExposureUSD)

	// Reservation released and outcome booked.
	assert.False(t, h.gate.InFlight("w1"))
	require.Len(t, h.ledger.Records(), 1)
	assert.InDelta(t, 3.0, h.ledger.RiskState().DailyRealizedPnL, 1e-9)
	assert.Equal(t, []string{"exec:window:w1"}, h.locks.acquired)
	assert.Equal(t, []string{"attempt_hedged"}, h.notifier.sent())
}

func TestExecutePartialCompletesSecondLeg(t *testing.T) {
	h := newEngineHarness(t)
	// NO ask has moved to 0.485: 1 - (0.48 + 0.485) - buffer = 0.030, still
	// above threshold, so the engine should finish the pair.
	h.quotes.pair = freshPair(0.48, 0.47, 0.485, 0.475)
	h.orders.script("ntok", domain.OrderSideBuy, &orderScript{
		outcomes: []fillOutcome{{fraction: 0}, {fraction: 1}},
	})
	adm := h.admit(t)

	rec, err := h.engine.Execute(context.Background(), adm)
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptHedged, rec.Outcome)
	assert.InDelta(t, 100.0, rec.YesQty, 1e-9)
	assert.InDelta(t, 100.0, rec.NoQty, 1e-9)
	assert.InDelta(t, 0.485, rec.NoPrice, 1e-9)
	assert.InDelta(t, 3.5, rec.RealizedPnL, 1e-9)
	assert.Equal(t, 2, h.orders.submitCount("ntok", domain.OrderSideBuy))
}

func TestExecutePartialUnwindsBoundedLoss(t *testing.T) {
	h := newEngineHarness(t)
	// NO ask at 0.995 makes completion a guaranteed loss; the filled YES leg
	// must be sold at the current bid instead.
	h.quotes.pair = freshPair(0.48, 0.47, 0.995, 0.005)
	h.orders.script("ntok", domain.OrderSideBuy, &orderScript{
		outcomes: []fillOutcome{{fraction: 0}},
	})
	adm := h.admit(t)

	rec, err := h.engine.Execute(context.Background(), adm)
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptClosed, rec.Outcome)
	require.NotNil(t, rec.UnwindPrice)
	assert.InDelta(t, 0.47, *rec.UnwindPrice, 1e-9)
	// Bought 100 YES at 0.48, sold at 0.47: a one-dollar loss, nothing open.
	assert.InDelta(t, -1.0, rec.RealizedPnL, 1e-9)
	assert.Zero(t, rec.ExposureUSD)
	assert.Equal(t, 1, h.orders.submitCount("ytok", domain.OrderSideSell))
	assert.Equal(t, []string{"attempt_unwound"}, h.notifier.sent())
}

func TestExecuteUnwindExhaustedEscalates(t *testing.T) {
	h := newEngineHarness(t)
	h.quotes.pair = freshPair(0.48, 0.47, 0.995, 0.005)
	h.orders.script("ntok", domain.OrderSideBuy, &orderScript{
		outcomes: []fillOutcome{{fraction: 0}},
	})
	h.orders.script("ytok", domain.OrderSideSell, &orderScript{
		errs: []error{domain.ErrOrderRejected, domain.ErrOrderRejected, domain.ErrOrderRejected},
	})
	adm := h.admit(t)

	rec, err := h.engine.Execute(context.Background(), adm)
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptFailed, rec.Outcome)
	assert.InDelta(t, 48.0, rec.ExposureUSD, 1e-9)
	assert.Equal(t, 3, h.orders.submitCount("ytok", domain.OrderSideSell))

	// The failure must be booked as open exposure and alerted.
	assert.InDelta(t, 48.0, h.ledger.RiskState().OpenExposureUSD, 1e-9)
	assert.Equal(t, []string{"attempt_failed_exposed"}, h.notifier.sent())
}

func TestExecuteNothingFilledQuietFailure(t *testing.T) {
	h := newEngineHarness(t)
	h.orders.script("ytok", domain.OrderSideBuy, &orderScript{
		outcomes: []fillOutcome{{fraction: 0}},
	})
	h.orders.script("ntok", domain.OrderSideBuy, &orderScript{
		outcomes: []fillOutcome{{fraction: 0}},
	})
	adm := h.admit(t)

	rec, err := h.engine.Execute(context.Background(), adm)
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptFailed, rec.Outcome)
	assert.Zero(t, rec.ExposureUSD)
	assert.Zero(t, rec.RealizedPnL)
	assert.Empty(t, h.notifier.sent())
	assert.False(t, h.gate.InFlight("w1"))
}

func TestExecuteRetriesTransientSubmission(t *testing.T) {
	h := newEngineHarness(t)
	h.orders.script("ytok", domain.OrderSideBuy, &orderScript{
		errs:     []error{domain.ErrTransient, domain.ErrRateLimited},
		outcomes: []fillOutcome{{fraction: 1}},
	})
	adm := h.admit(t)

	rec, err := h.engine.Execute(context.Background(), adm)
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptHedged, rec.Outcome)
	assert.Equal(t, 3, h.orders.submitCount("ytok", domain.OrderSideBuy))
}

func TestExecuteCancelledWhilePlanned(t *testing.T) {
	h := newEngineHarness(t)
	adm := h.admit(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine.Execute(ctx, adm)
	require.ErrorIs(t, err, context.Canceled)

	// No orders left the process and the reservation is returned.
	assert.Equal(t, 0, h.orders.submitCount("ytok", domain.OrderSideBuy))
	assert.Equal(t, 0, h.orders.submitCount("ntok", domain.OrderSideBuy))
	assert.Empty(t, h.locks.acquired)
	assert.Empty(t, h.ledger.Records())
	assert.False(t, h.gate.InFlight("w1"))
}

func TestExecuteWindowLeaseHeld(t *testing.T) {
	h := newEngineHarness(t)
	h.locks.held = true
	adm := h.admit(t)

	_, err := h.engine.Execute(context.Background(), adm)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))
	assert.Equal(t, 0, h.orders.submitCount("ytok", domain.OrderSideBuy))
	assert.False(t, h.gate.InFlight("w1"))
}
