package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elcapitan88/polybot/internal/domain"
)

func newTestLedger(maxDailyLoss float64) *Ledger {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{MaxDailyLossUSD: maxDailyLoss}, nil, logger)
}

func hedgedRecord(windowID string, pnl float64) domain.TradeRecord {
	return domain.TradeRecord{
		ID:       windowID + "-rec",
		WindowID: windowID,
		Asset:    "BTC",
		Outcome:  domain.AttemptHedged,
		YesQty:   100, NoQty: 100,
		YesPrice: 0.48, NoPrice: 0.49,
		CostBasis:   97,
		RealizedPnL: pnl,
	}
}

func TestRecordAccumulatesDailyPnL(t *testing.T) {
	l := newTestLedger(100)
	ctx := context.Background()

	l.Record(ctx, hedgedRecord("w1", 3))
	assert.InDelta(t, 100.0, l.RemainingDailyLossBudget(), 1e-9)

	loss := domain.TradeRecord{
		WindowID: "w2", Outcome: domain.AttemptClosed, RealizedPnL: -40,
	}
	l.Record(ctx, loss)
	// Profit does not extend the allowance beyond the cap; net pnl is -37.
	assert.InDelta(t, 63.0, l.RemainingDailyLossBudget(), 1e-9)
}

func TestRecordFailedTracksExposure(t *testing.T) {
	l := newTestLedger(100)
	ctx := context.Background()

	l.Record(ctx, domain.TradeRecord{
		WindowID:    "w1",
		Outcome:     domain.AttemptFailed,
		YesQty:      100,
		YesPrice:    0.48,
		ExposureUSD: 48,
	})
	assert.InDelta(t, 48.0, l.CurrentOpenExposure(), 1e-9)
	assert.Equal(t, 1, l.RiskState().OpenPositions)

	l.ResolveExposure("w1", -5)
	assert.InDelta(t, 0.0, l.CurrentOpenExposure(), 1e-9)
	assert.Equal(t, 0, l.RiskState().OpenPositions)
	assert.InDelta(t, 95.0, l.RemainingDailyLossBudget(), 1e-9)
}

func TestRecordRejectsNonTerminal(t *testing.T) {
	l := newTestLedger(100)
	l.Record(context.Background(), domain.TradeRecord{
		WindowID: "w1", Outcome: domain.AttemptSubmitting,
	})
	assert.Empty(t, l.Records())
}

func TestRecordsAreAppendOnlyCopies(t *testing.T) {
	l := newTestLedger(100)
	ctx := context.Background()
	l.Record(ctx, hedgedRecord("w1", 3))

	recs := l.Records()
	require.Len(t, recs, 1)
	recs[0].RealizedPnL = -999 // mutating the copy must not touch the ledger

	again := l.Records()
	assert.InDelta(t, 3.0, again[0].RealizedPnL, 1e-9)
}

func TestResetDaily(t *testing.T) {
	l := newTestLedger(100)
	ctx := context.Background()
	l.Record(ctx, domain.TradeRecord{
		WindowID: "w1", Outcome: domain.AttemptClosed, RealizedPnL: -100,
	})
	assert.LessOrEqual(t, l.RemainingDailyLossBudget(), 0.0)

	l.ResetDaily(time.Now().UTC())
	assert.InDelta(t, 100.0, l.RemainingDailyLossBudget(), 1e-9)
	// History survives the reset.
	assert.Len(t, l.Records(), 1)
}

func TestOpenExposedPositions(t *testing.T) {
	l := newTestLedger(100)
	ctx := context.Background()
	l.Record(ctx, hedgedRecord("w1", 3))
	l.Record(ctx, domain.TradeRecord{
		ID:          "rec-w2",
		WindowID:    "w2",
		Asset:       "ETH",
		Outcome:     domain.AttemptFailed,
		YesQty:      50,
		YesPrice:    0.48,
		ExposureUSD: 24,
	})

	exposed := l.OpenExposedPositions()
	require.Len(t, exposed, 1)
	assert.Equal(t, "w2", exposed[0].WindowID)
	assert.Equal(t, domain.PositionBuilding, exposed[0].Status)
	assert.InDelta(t, 50.0, exposed[0].NetExposureQty(), 1e-9)

	// Remediation clears the listing and resolving twice has no extra effect.
	l.ResolveExposure("w2", -2)
	assert.Empty(t, l.OpenExposedPositions())
	budget := l.RemainingDailyLossBudget()
	l.ResolveExposure("w2", -2)
	assert.InDelta(t, budget, l.RemainingDailyLossBudget(), 1e-9)
}

func TestRestoreDailyPnL(t *testing.T) {
	l := newTestLedger(100)
	l.RestoreDailyPnL(-30)
	assert.InDelta(t, 70.0, l.RemainingDailyLossBudget(), 1e-9)
}

func TestSnapshotCounters(t *testing.T) {
	l := newTestLedger(100)
	ctx := context.Background()
	l.Record(ctx, hedgedRecord("w1", 3))
	l.Record(ctx, domain.TradeRecord{WindowID: "w2", Outcome: domain.AttemptClosed, RealizedPnL: -1})
	l.Record(ctx, domain.TradeRecord{WindowID: "w3", Outcome: domain.AttemptFailed, ExposureUSD: 10})

	s := l.Snapshot()
	assert.Equal(t, 1, s.Hedged)
	assert.Equal(t, 1, s.Closed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.FailedExposed)
	assert.InDelta(t, 2.0, s.RealizedPnL, 1e-9)
}

func TestDailyLossHaltFiresOnce(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fired := make(chan float64, 4)
	l := New(Config{
		MaxDailyLossUSD: 100,
		OnDailyLossHalt: func(pnl float64) { fired <- pnl },
	}, nil, logger)
	ctx := context.Background()

	l.Record(ctx, domain.TradeRecord{WindowID: "w1", Outcome: domain.AttemptClosed, RealizedPnL: -60})
	select {
	case <-fired:
		t.Fatal("halt fired before the budget was spent")
	case <-time.After(50 * time.Millisecond):
	}

	l.Record(ctx, domain.TradeRecord{WindowID: "w2", Outcome: domain.AttemptClosed, RealizedPnL: -50})
	select {
	case pnl := <-fired:
		assert.InDelta(t, -110.0, pnl, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("halt did not fire when the budget was spent")
	}

	// Further losses on the same day stay quiet.
	l.Record(ctx, domain.TradeRecord{WindowID: "w3", Outcome: domain.AttemptClosed, RealizedPnL: -10})
	select {
	case <-fired:
		t.Fatal("halt fired twice in one day")
	case <-time.After(50 * time.Millisecond):
	}

	// The daily reset re-arms the latch.
	l.ResetDaily(time.Now().UTC())
	l.Record(ctx, domain.TradeRecord{WindowID: "w4", Outcome: domain.AttemptClosed, RealizedPnL: -120})
	select {
	case pnl := <-fired:
		assert.InDelta(t, -120.0, pnl, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("halt did not re-arm after the daily reset")
	}
}

func TestRestoreDailyPnLTripsHalt(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fired := make(chan float64, 1)
	l := New(Config{
		MaxDailyLossUSD: 100,
		OnDailyLossHalt: func(pnl float64) { fired <- pnl },
	}, nil, logger)

	l.RestoreDailyPnL(-150)
	select {
	case pnl := <-fired:
		assert.InDelta(t, -150.0, pnl, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("restored pnl past the limit did not trip the halt")
	}
}
