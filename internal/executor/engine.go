// Package executor turns admitted candidates into paired orders and drives
// each attempt through its state machine:
//
//	Planned -> Submitting -> PartiallyFilled -> Hedged | Unwinding -> Closed | Failed
//
// Once an attempt leaves Planned it always runs to a terminal state; a
// half-submitted pair is exactly the situation the machine exists to resolve.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elcapitan88/polybot/internal/domain"
	"github.com/elcapitan88/polybot/internal/ledger"
	"github.com/elcapitan88/polybot/internal/notify"
	"github.com/elcapitan88/polybot/internal/risk"
)

// fillEpsilon absorbs float rounding when comparing filled quantities.
const fillEpsilon = 1e-9

// Config holds execution timing and policy parameters.
type Config struct {
	// FillWait bounds how long a dispatched leg may wait for fills.
	FillWait time.Duration
	// PollInterval is the order status polling cadence.
	PollInterval time.Duration
	// SubmitRetries caps submission attempts per order (transient faults only).
	SubmitRetries int
	// RetryBaseDelay seeds the exponential backoff between attempts.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff.
	RetryMaxDelay time.Duration
	// UnwindRetries caps attempts to close out a stranded leg.
	UnwindRetries int
	// MinProfit and CostBuffer reproduce the risk gate's edge test when a
	// partial fill forces re-evaluation at current prices.
	MinProfit  float64
	CostBuffer float64
	// LockTTL bounds the per-window execution lease and, with it, the whole
	// attempt.
	LockTTL time.Duration
}

// QuoteSource supplies current quotes for partial-fill re-evaluation and
// unwind pricing. Implemented by the snapshot store.
type QuoteSource interface {
	Pair(windowID string, now time.Time) (domain.QuotePair, error)
}

// Notifier delivers operator alerts. Implemented by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Engine executes one attempt at a time per window. The per-window lease from
// the lock manager is what enforces that across goroutines and processes.
type Engine struct {
	orders   domain.OrderClient
	quotes   QuoteSource
	locks    domain.LockManager
	ledger   *ledger.Ledger
	gate     *risk.Gate
	notifier Notifier         // optional
	bus      domain.SignalBus // optional, fill event broadcast
	cfg      Config
	logger   *slog.Logger

	now func() time.Time
}

// NewEngine creates an Engine. notifier and bus may be nil.
func NewEngine(
	orders domain.OrderClient,
	quotes QuoteSource,
	locks domain.LockManager,
	led *ledger.Ledger,
	gate *risk.Gate,
	notifier Notifier,
	bus domain.SignalBus,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		orders:   orders,
		quotes:   quotes,
		locks:    locks,
		ledger:   led,
		gate:     gate,
		notifier: notifier,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "executor")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// attempt carries the mutable state of one execution.
type attempt struct {
	id    string
	cand  domain.OpportunityCandidate
	state domain.AttemptState
	log   *slog.Logger
}

func (a *attempt) transition(state domain.AttemptState) {
	a.log.Info("attempt state change",
		slog.String("from", string(a.state)),
		slog.String("to", string(state)),
	)
	a.state = state
}

// legResult is the outcome of dispatching one leg.
type legResult struct {
	side     domain.Side
	req      domain.OrderRequest
	orderID  string
	filled   float64
	avgPrice float64
	err      error
}

// Execute runs one admitted candidate to a terminal state and records the
// outcome. The gate reservation is released on return regardless of outcome.
// Cancellation via ctx is honoured only while the attempt is still Planned.
func (e *Engine) Execute(ctx context.Context, adm risk.Admission) (domain.TradeRecord, error) {
	cand := adm.Candidate
	id := uuid.New().String()
	a := &attempt{
		id:    id,
		cand:  cand,
		state: domain.AttemptPlanned,
		log: e.logger.With(
			slog.String("attempt_id", id),
			slog.String("window", cand.WindowID),
			slog.String("asset", cand.Asset),
		),
	}
	defer e.gate.Release(cand.WindowID)

	// Last point at which the attempt may be abandoned.
	if err := ctx.Err(); err != nil {
		a.log.Info("attempt cancelled while planned")
		return domain.TradeRecord{}, err
	}

	unlock, err := e.locks.Acquire(ctx, "exec:window:"+cand.WindowID, e.cfg.LockTTL)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("executor: window lease: %w", err)
	}
	defer unlock()

	// From Submitting on, the attempt must reach a terminal state even if
	// the caller goes away; only the lease TTL bounds it.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.LockTTL)
	defer cancel()

	a.transition(domain.AttemptSubmitting)
	yesRes, noRes := e.dispatchLegs(execCtx, a)

	rec := e.resolve(execCtx, a, yesRes, noRes)
	rec.ID = a.id
	rec.WindowID = cand.WindowID
	rec.Asset = cand.Asset
	rec.CreatedAt = e.now()

	e.ledger.Record(execCtx, rec)
	e.publish(execCtx, rec)
	return rec, nil
}

// dispatchLegs sends both buy orders concurrently. Sequential dispatch would
// let price drift between the legs erode the edge.
func (e *Engine) dispatchLegs(ctx context.Context, a *attempt) (yes, no legResult) {
	cand := a.cand
	yesTok, noTok := e.resolveTokens(cand.WindowID)
	yesReq := domain.OrderRequest{
		WindowID: cand.WindowID, TokenID: yesTok, Side: domain.OrderSideBuy,
		Price: cand.YesAsk, Size: cand.Size,
	}
	noReq := domain.OrderRequest{
		WindowID: cand.WindowID, TokenID: noTok, Side: domain.OrderSideBuy,
		Price: cand.NoAsk, Size: cand.Size,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		yes = e.runLeg(ctx, a, domain.SideYes, yesReq)
	}()
	go func() {
		defer wg.Done()
		no = e.runLeg(ctx, a, domain.SideNo, noReq)
	}()
	wg.Wait()
	return yes, no
}

// runLeg submits one order with bounded backoff and waits for fills until
// FillWait elapses, cancelling any remainder.
func (e *Engine) runLeg(ctx context.Context, a *attempt, side domain.Side, req domain.OrderRequest) legResult {
	res := legResult{side: side, req: req}

	orderID, err := e.submitWithRetry(ctx, a, req)
	if err != nil {
		res.err = err
		return res
	}
	res.orderID = orderID

	res.filled, res.avgPrice = e.awaitFill(ctx, a, orderID, req)
	return res
}

// submitWithRetry retries transient submission faults with exponential
// backoff up to the configured cap.
func (e *Engine) submitWithRetry(ctx context.Context, a *attempt, req domain.OrderRequest) (string, error) {
	var lastErr error
	for i := 0; i < e.cfg.SubmitRetries; i++ {
		if i > 0 {
			if err := sleep(ctx, backoffDelay(i-1, e.cfg.RetryBaseDelay, e.cfg.RetryMaxDelay)); err != nil {
				return "", err
			}
		}
		orderID, err := e.orders.SubmitOrder(ctx, req)
		if err == nil {
			return orderID, nil
		}
		lastErr = err
		if !domain.RetryableOrderError(err) {
			break
		}
		a.log.Warn("order submission retrying",
			slog.String("side", string(req.Side)),
			slog.Int("submission", i+1),
			slog.String("error", err.Error()),
		)
	}
	return "", fmt.Errorf("executor: submit order: %w", lastErr)
}

// awaitFill polls the order until it is done or FillWait elapses, then
// cancels any open remainder and returns the filled quantity and average
// price seen so far.
func (e *Engine) awaitFill(ctx context.Context, a *attempt, orderID string, req domain.OrderRequest) (filled, avgPrice float64) {
	deadline := e.now().Add(e.cfg.FillWait)
	avgPrice = req.Price

	for {
		st, err := e.orders.OrderStatus(ctx, orderID)
		if err == nil {
			filled = st.FilledSize
			if st.AvgFillPrice > 0 {
				avgPrice = st.AvgFillPrice
			}
			if st.Done() {
				return filled, avgPrice
			}
		} else {
			a.log.Warn("order status poll failed",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}

		if e.now().After(deadline) {
			break
		}
		if err := sleep(ctx, e.cfg.PollInterval); err != nil {
			break
		}
	}

	// Deadline hit with the order still open: cancel the remainder, then
	// re-read once in case a fill raced the cancel.
	if err := e.orders.CancelOrder(ctx, orderID); err != nil {
		a.log.Warn("order cancel failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
	if st, err := e.orders.OrderStatus(ctx, orderID); err == nil {
		filled = st.FilledSize
		if st.AvgFillPrice > 0 {
			avgPrice = st.AvgFillPrice
		}
	}
	return filled, avgPrice
}

// resolve inspects both leg outcomes and drives the attempt to a terminal
// state, returning the trade record to append to the ledger.
func (e *Engine) resolve(ctx context.Context, a *attempt, yes, no legResult) domain.TradeRecord {
	pos := domain.Position{
		WindowID:  a.cand.WindowID,
		Asset:     a.cand.Asset,
		YesQty:    yes.filled,
		NoQty:     no.filled,
		CostBasis: yes.avgPrice*yes.filled + no.avgPrice*no.filled,
		Status:    domain.PositionBuilding,
		OpenedAt:  e.now(),
	}

	switch {
	case pos.Balanced() && pos.HedgedQty() > fillEpsilon:
		return e.settleHedged(ctx, a, yes, no, pos.HedgedQty())

	case pos.Balanced():
		// Nothing filled on either side: a quiet failure with no exposure.
		a.transition(domain.AttemptFailed)
		note := "no fills within wait window"
		if yes.err != nil || no.err != nil {
			note = fmt.Sprintf("submission failed: yes=%v no=%v", yes.err, no.err)
		}
		a.log.Warn("attempt failed without fills", slog.String("note", note))
		return domain.TradeRecord{Outcome: domain.AttemptFailed, Note: note}

	default:
		return e.reconcilePartial(ctx, a, yes, no, pos.HedgedQty())
	}
}

// settleHedged books a fully paired fill. The spread is locked: the pair
// settles to $1 regardless of outcome.
func (e *Engine) settleHedged(ctx context.Context, a *attempt, yes, no legResult, matched float64) domain.TradeRecord {
	a.transition(domain.AttemptHedged)
	cost := (yes.avgPrice + no.avgPrice) * matched
	pnl := matched - cost
	a.log.Info("attempt hedged",
		slog.Float64("size", matched),
		slog.Float64("cost", cost),
		slog.Float64("locked_pnl", pnl),
	)
	if e.notifier != nil {
		msg := fmt.Sprintf("window %s (%s): %.2f paired at $%.4f + $%.4f, locked pnl $%.2f",
			a.cand.WindowID, a.cand.Asset, matched, yes.avgPrice, no.avgPrice, pnl)
		if err := e.notifier.Notify(ctx, notify.EventAttemptHedged, "Spread locked", msg); err != nil {
			a.log.Warn("hedge alert delivery failed", slog.String("error", err.Error()))
		}
	}
	return domain.TradeRecord{
		Outcome:     domain.AttemptHedged,
		YesQty:      matched,
		NoQty:       matched,
		YesPrice:    yes.avgPrice,
		NoPrice:     no.avgPrice,
		CostBasis:   cost,
		RealizedPnL: pnl,
	}
}

// reconcilePartial handles the one-leg-filled case: re-price the missing leg
// at the current market; complete it if the edge survives, otherwise unwind
// the filled leg and accept a bounded loss over unbounded directional risk.
func (e *Engine) reconcilePartial(ctx context.Context, a *attempt, yes, no legResult, matched float64) domain.TradeRecord {
	a.transition(domain.AttemptPartiallyFilled)

	long, short := yes, no // long = overfilled leg, short = deficient leg
	if no.filled > yes.filled {
		long, short = no, yes
	}
	deficit := long.filled - short.filled

	curAsk, curBid, haveQuote := e.currentPrices(a.cand.WindowID, short.side)
	if haveQuote {
		net := 1.0 - (long.avgPrice + curAsk) - e.cfg.CostBuffer
		if net >= e.cfg.MinProfit {
			a.log.Info("completing second leg at current price",
				slog.String("side", string(short.side)),
				slog.Float64("price", curAsk),
				slog.Float64("net_profit", net),
			)
			got, avg := e.completeLeg(ctx, a, short, curAsk, deficit)
			if got > 0 {
				short.avgPrice = (short.avgPrice*short.filled + avg*got) / (short.filled + got)
				short.filled += got
			}
			matched = math.Min(long.filled, short.filled)
			deficit = long.filled - short.filled
			if deficit <= fillEpsilon {
				y, n := orient(long, short)
				return e.settleHedged(ctx, a, y, n, matched)
			}
		} else {
			a.log.Info("second leg no longer profitable, unwinding",
				slog.Float64("current_ask", curAsk),
				slog.Float64("net_profit", net),
			)
		}
	} else {
		a.log.Warn("no fresh quote for re-evaluation, unwinding")
	}

	return e.unwind(ctx, a, long, short, matched, deficit, curBid)
}

// completeLeg submits the remainder of the deficient leg at the given price.
func (e *Engine) completeLeg(ctx context.Context, a *attempt, short legResult, price, size float64) (filled, avgPrice float64) {
	req := short.req
	req.Price = price
	req.Size = size
	orderID, err := e.submitWithRetry(ctx, a, req)
	if err != nil {
		a.log.Warn("completion order submission failed", slog.String("error", err.Error()))
		return 0, 0
	}
	return e.awaitFill(ctx, a, orderID, req)
}

// unwind sells the surplus quantity of the overfilled leg at the best
// available bid, retrying with backoff up to the unwind budget. Exhausting
// the budget is the one fatal condition and is always escalated.
func (e *Engine) unwind(ctx context.Context, a *attempt, long, short legResult, matched, qty, lastBid float64) domain.TradeRecord {
	a.transition(domain.AttemptUnwinding)

	remaining := qty
	proceeds := 0.0
	for i := 0; i < e.cfg.UnwindRetries && remaining > fillEpsilon; i++ {
		if i > 0 {
			if err := sleep(ctx, backoffDelay(i-1, e.cfg.RetryBaseDelay, e.cfg.RetryMaxDelay)); err != nil {
				break
			}
		}

		bid := lastBid
		if _, curBid, ok := e.currentPrices(a.cand.WindowID, long.side); ok && curBid > 0 {
			bid = curBid
		}
		if bid <= 0 {
			bid = 0.01 // venue price floor; any exit beats open exposure
		}

		req := domain.OrderRequest{
			WindowID: a.cand.WindowID,
			TokenID:  long.req.TokenID,
			Side:     domain.OrderSideSell,
			Price:    bid,
			Size:     remaining,
		}
		orderID, err := e.submitWithRetry(ctx, a, req)
		if err != nil {
			a.log.Warn("unwind submission failed",
				slog.Int("unwind_try", i+1),
				slog.String("error", err.Error()),
			)
			continue
		}
		got, avg := e.awaitFill(ctx, a, orderID, req)
		proceeds += got * avg
		remaining -= got
	}

	yesQty, noQty := orientQty(long, short, matched, remaining)

	if remaining > fillEpsilon {
		a.transition(domain.AttemptFailed)
		exposure := remaining * long.avgPrice
		rec := domain.TradeRecord{
			Outcome:     domain.AttemptFailed,
			YesQty:      yesQty,
			NoQty:       noQty,
			YesPrice:    priceFor(long, short, domain.SideYes),
			NoPrice:     priceFor(long, short, domain.SideNo),
			CostBasis:   long.avgPrice*long.filled + short.avgPrice*short.filled,
			RealizedPnL: hedgedPnL(long, short, matched) + proceeds - (qty-remaining)*long.avgPrice,
			ExposureUSD: exposure,
			Note:        fmt.Sprintf("unwind budget exhausted, %.2f %s exposed", remaining, long.side),
		}
		e.escalate(ctx, a, rec)
		return rec
	}

	a.transition(domain.AttemptClosed)
	unwindAvg := 0.0
	if qty > 0 {
		unwindAvg = proceeds / qty
	}
	pnl := hedgedPnL(long, short, matched) + proceeds - qty*long.avgPrice
	a.log.Info("attempt closed after unwind",
		slog.Float64("unwound", qty),
		slog.Float64("avg_exit", unwindAvg),
		slog.Float64("pnl", pnl),
	)
	if e.notifier != nil {
		msg := fmt.Sprintf("window %s (%s): unwound %.2f %s at avg $%.4f, pnl $%.2f",
			a.cand.WindowID, a.cand.Asset, qty, long.side, unwindAvg, pnl)
		if err := e.notifier.Notify(ctx, notify.EventAttemptUnwound, "Position unwound", msg); err != nil {
			a.log.Warn("unwind alert delivery failed", slog.String("error", err.Error()))
		}
	}
	return domain.TradeRecord{
		Outcome:     domain.AttemptClosed,
		YesQty:      yesQty,
		NoQty:       noQty,
		YesPrice:    priceFor(long, short, domain.SideYes),
		NoPrice:     priceFor(long, short, domain.SideNo),
		CostBasis:   long.avgPrice*long.filled + short.avgPrice*short.filled,
		UnwindPrice: &unwindAvg,
		RealizedPnL: pnl,
	}
}

// escalate surfaces a Failed-with-exposure record. This must never be silent:
// unresolved directional exposure is the worst outcome the bot can produce.
func (e *Engine) escalate(ctx context.Context, a *attempt, rec domain.TradeRecord) {
	a.log.Error("UNRESOLVED EXPOSURE: manual remediation required",
		slog.String("window", a.cand.WindowID),
		slog.Float64("exposure_usd", rec.ExposureUSD),
		slog.String("note", rec.Note),
	)
	if e.notifier == nil {
		return
	}
	msg := fmt.Sprintf("window %s (%s): %s\nexposure: $%.2f",
		a.cand.WindowID, a.cand.Asset, rec.Note, rec.ExposureUSD)
	if err := e.notifier.Notify(ctx, notify.EventAttemptFailedExposed, "Unresolved exposure", msg); err != nil {
		a.log.Error("exposure alert delivery failed", slog.String("error", err.Error()))
	}
}

// currentPrices reads the latest ask/bid for the given side; ok is false
// when the snapshot is stale or missing.
func (e *Engine) currentPrices(windowID string, side domain.Side) (ask, bid float64, ok bool) {
	pair, err := e.quotes.Pair(windowID, e.now())
	if err != nil {
		return 0, 0, false
	}
	q := pair.Yes
	if side == domain.SideNo {
		q = pair.No
	}
	return q.BestAsk, q.BestBid, true
}

// publish broadcasts the terminal record on the signal bus if configured.
func (e *Engine) publish(ctx context.Context, rec domain.TradeRecord) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, "fills", payload); err != nil {
		e.logger.Debug("fill event publish failed", slog.String("error", err.Error()))
	}
}

// resolveTokens looks up the outcome token IDs for a window. When the snapshot
// has already dropped the window the order client still gets a window-scoped
// identity it can resolve itself.
func (e *Engine) resolveTokens(windowID string) (yesTok, noTok string) {
	// A stale pair still carries window metadata, so only a missing window or
	// empty token IDs force the fallback.
	pair, _ := e.quotes.Pair(windowID, e.now())
	if pair.Window.YesTokenID == "" {
		return windowID + ":yes", windowID + ":no"
	}
	return pair.Window.TokenFor(domain.SideYes), pair.Window.TokenFor(domain.SideNo)
}

// hedgedPnL is the locked spread on the paired part of the position.
func hedgedPnL(long, short legResult, matched float64) float64 {
	if matched <= fillEpsilon {
		return 0
	}
	return matched * (1.0 - long.avgPrice - short.avgPrice)
}

// orient maps (long, short) back to (yes, no) order.
func orient(long, short legResult) (yes, no legResult) {
	if long.side == domain.SideYes {
		return long, short
	}
	return short, long
}

func orientQty(long, short legResult, matched, remaining float64) (yesQty, noQty float64) {
	longQty := matched + remaining
	if long.side == domain.SideYes {
		return longQty, short.filled
	}
	return short.filled, longQty
}

func priceFor(long, short legResult, side domain.Side) float64 {
	if long.side == side {
		return long.avgPrice
	}
	return short.avgPrice
}
