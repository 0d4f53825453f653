package snapshot

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elcapitan88/polybot/internal/domain"
)

func testWindow(id string) domain.MarketWindow {
	open := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	return domain.MarketWindow{
		ID:         id,
		Asset:      "BTC",
		YesTokenID: id + "-yes",
		NoTokenID:  id + "-no",
		OpenTime:   open,
		CloseTime:  open.Add(15 * time.Minute),
		Status:     domain.WindowStatusOpen,
	}
}

func quote(windowID string, side domain.Side, ask float64, at time.Time) domain.Quote {
	return domain.Quote{
		WindowID:   windowID,
		Side:       side,
		BestAsk:    ask,
		BestBid:    ask - 0.01,
		AskSize:    100,
		BidSize:    100,
		ObservedAt: at,
	}
}

func TestUpdateKeepsNewestObservation(t *testing.T) {
	s := New(5 * time.Second)
	s.Track(testWindow("w1"))
	now := time.Now().UTC()

	assert.True(t, s.Update(quote("w1", domain.SideYes, 0.48, now)))

	// An older observation arriving later must not win.
	assert.False(t, s.Update(quote("w1", domain.SideYes, 0.55, now.Add(-time.Second))))

	// Equal timestamps do not replace either.
	assert.False(t, s.Update(quote("w1", domain.SideYes, 0.55, now)))

	s.Update(quote("w1", domain.SideNo, 0.49, now))
	pair, err := s.Pair("w1", now)
	require.NoError(t, err)
	assert.Equal(t, 0.48, pair.Yes.BestAsk)
}

func TestUpdateIgnoresUntrackedWindow(t *testing.T) {
	s := New(5 * time.Second)
	assert.False(t, s.Update(quote("ghost", domain.SideYes, 0.5, time.Now())))
}

func TestPairStaleAndMissing(t *testing.T) {
	s := New(5 * time.Second)
	s.Track(testWindow("w1"))
	now := time.Now().UTC()

	_, err := s.Pair("missing", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Only one side quoted: stale.
	s.Update(quote("w1", domain.SideYes, 0.48, now))
	_, err = s.Pair("w1", now)
	assert.ErrorIs(t, err, domain.ErrStaleQuote)

	// Both quoted but one beyond the freshness threshold.
	s.Update(quote("w1", domain.SideNo, 0.49, now.Add(-10*time.Second)))
	_, err = s.Pair("w1", now)
	assert.ErrorIs(t, err, domain.ErrStaleQuote)

	s.Update(quote("w1", domain.SideNo, 0.49, now))
	_, err = s.Pair("w1", now)
	assert.NoError(t, err)
}

func TestPairRejectsExtremePrices(t *testing.T) {
	s := New(5 * time.Second)
	s.Track(testWindow("w1"))
	now := time.Now().UTC()

	s.Update(quote("w1", domain.SideYes, 0.995, now))
	s.Update(quote("w1", domain.SideNo, 0.005, now))

	_, err := s.Pair("w1", now)
	assert.True(t, errors.Is(err, domain.ErrStaleQuote))
}

func TestResolveAndDrop(t *testing.T) {
	s := New(5 * time.Second)
	s.Track(testWindow("w1"))

	winID, side, ok := s.Resolve("w1-no")
	require.True(t, ok)
	assert.Equal(t, "w1", winID)
	assert.Equal(t, domain.SideNo, side)

	s.Drop("w1")
	_, _, ok = s.Resolve("w1-no")
	assert.False(t, ok)
	_, err := s.Pair("w1", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFreshPairsFiltersStale(t *testing.T) {
	s := New(5 * time.Second)
	now := time.Now().UTC()

	s.Track(testWindow("fresh"))
	s.Update(quote("fresh", domain.SideYes, 0.48, now))
	s.Update(quote("fresh", domain.SideNo, 0.49, now))

	s.Track(testWindow("stale"))
	s.Update(quote("stale", domain.SideYes, 0.40, now.Add(-time.Minute)))
	s.Update(quote("stale", domain.SideNo, 0.40, now.Add(-time.Minute)))

	pairs := s.FreshPairs(now)
	require.Len(t, pairs, 1)
	assert.Equal(t, "fresh", pairs[0].Window.ID)
}

func TestConcurrentUpdatesDifferentWindows(t *testing.T) {
	s := New(time.Minute)
	const n = 8
	for i := 0; i < n; i++ {
		s.Track(testWindow(string(rune('a' + i))))
	}

	var wg sync.WaitGroup
	base := time.Now().UTC()
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				ts := base.Add(time.Duration(j) * time.Millisecond)
				s.Update(quote(id, domain.SideYes, 0.48, ts))
				s.Update(quote(id, domain.SideNo, 0.49, ts))
			}
		}()
	}
	wg.Wait()

	pairs := s.FreshPairs(base.Add(499 * time.Millisecond))
	assert.Len(t, pairs, n)
	for _, p := range pairs {
		assert.Equal(t, base.Add(499*time.Millisecond), p.Yes.ObservedAt)
	}
}
