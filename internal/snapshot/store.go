// Package snapshot holds the latest known top-of-book per active market
// window. It is pure state: the feed ingestor writes into it, the detector
// reads from it, and nothing else happens here.
package snapshot

import (
	"sync"
	"time"

	"github.com/elcapitan88/polybot/internal/domain"
)

type entry struct {
	window domain.MarketWindow
	yes    domain.Quote
	no     domain.Quote
}

// Store keeps one entry per tracked window. Quote updates are resolved by
// observation timestamp, not arrival order, so network reordering cannot
// revert an entry to a stale quote. Updates for different windows never
// contend beyond the map lock.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	maxAge   time.Duration
	tokenIdx map[string]tokenRef // venue token ID -> (window, side)
}

type tokenRef struct {
	windowID string
	side     domain.Side
}

// New creates a Store. maxAge is the freshness threshold beyond which a
// quote is reported stale.
func New(maxAge time.Duration) *Store {
	return &Store{
		entries:  make(map[string]*entry),
		maxAge:   maxAge,
		tokenIdx: make(map[string]tokenRef),
	}
}

// MaxAge returns the configured freshness threshold.
func (s *Store) MaxAge() time.Duration { return s.maxAge }

// Track registers a window. Existing quotes are preserved if the window is
// already tracked; only the window metadata (including status) is replaced.
func (s *Store) Track(w domain.MarketWindow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[w.ID]; ok {
		e.window = w
	} else {
		s.entries[w.ID] = &entry{window: w}
	}
	s.tokenIdx[w.YesTokenID] = tokenRef{windowID: w.ID, side: domain.SideYes}
	s.tokenIdx[w.NoTokenID] = tokenRef{windowID: w.ID, side: domain.SideNo}
}

// Drop removes a window and its token mappings.
func (s *Store) Drop(windowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[windowID]
	if !ok {
		return
	}
	delete(s.tokenIdx, e.window.YesTokenID)
	delete(s.tokenIdx, e.window.NoTokenID)
	delete(s.entries, windowID)
}

// SetStatus updates a tracked window's lifecycle status.
func (s *Store) SetStatus(windowID string, status domain.WindowStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[windowID]; ok {
		e.window.Status = status
	}
}

// Resolve maps a venue token ID to its window and side.
func (s *Store) Resolve(tokenID string) (windowID string, side domain.Side, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.tokenIdx[tokenID]
	return ref.windowID, ref.side, ok
}

// Update stores the quote if it is newer than the one held for the same
// (window, side). It returns true when applied, false when the window is
// untracked or the held quote has an equal or later observation timestamp.
func (s *Store) Update(q domain.Quote) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[q.WindowID]
	if !ok {
		return false
	}
	slot := &e.yes
	if q.Side == domain.SideNo {
		slot = &e.no
	}
	if !slot.ObservedAt.IsZero() && !q.ObservedAt.After(slot.ObservedAt) {
		return false
	}
	*slot = q
	return true
}

// Pair returns the window with its latest YES and NO quotes. It returns
// domain.ErrNotFound for untracked windows and domain.ErrStaleQuote when
// either side is missing, unpriced, or older than the freshness threshold.
func (s *Store) Pair(windowID string, now time.Time) (domain.QuotePair, error) {
	s.mu.RLock()
	e, ok := s.entries[windowID]
	if !ok {
		s.mu.RUnlock()
		return domain.QuotePair{}, domain.ErrNotFound
	}
	pair := domain.QuotePair{Window: e.window, Yes: e.yes, No: e.no}
	s.mu.RUnlock()

	if !pair.FreshAt(now, s.maxAge) {
		return pair, domain.ErrStaleQuote
	}
	return pair, nil
}

// FreshPairs returns all windows whose both sides are priced and fresh.
func (s *Store) FreshPairs(now time.Time) []domain.QuotePair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.QuotePair, 0, len(s.entries))
	for _, e := range s.entries {
		pair := domain.QuotePair{Window: e.window, Yes: e.yes, No: e.no}
		if pair.FreshAt(now, s.maxAge) {
			out = append(out, pair)
		}
	}
	return out
}

// Windows returns a copy of all tracked windows.
func (s *Store) Windows() []domain.MarketWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MarketWindow, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.window)
	}
	return out
}
