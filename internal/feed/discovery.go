package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/elcapitan88/polybot/internal/domain"
	"github.com/elcapitan88/polybot/internal/platform/polymarket"
	"github.com/elcapitan88/polybot/internal/snapshot"
)

// DiscoveryConfig holds market discovery parameters.
type DiscoveryConfig struct {
	Assets          []string
	RefreshInterval time.Duration
}

// Discovery keeps the tracked window set aligned with the venue. Every
// refresh it re-reads the 15-minute series, subscribes new windows, updates
// statuses, and drops settled windows.
type Discovery struct {
	gamma   *polymarket.GammaClient
	ws      *polymarket.WSClient
	store   *snapshot.Store
	windows domain.WindowStore // optional persistence
	cfg     DiscoveryConfig
	logger  *slog.Logger

	tracked map[string][2]string // windowID -> [yesToken, noToken]
}

// NewDiscovery creates a Discovery. windows may be nil when persistence is
// not wired (monitor mode without a database, tests).
func NewDiscovery(
	gamma *polymarket.GammaClient,
	ws *polymarket.WSClient,
	store *snapshot.Store,
	windows domain.WindowStore,
	cfg DiscoveryConfig,
	logger *slog.Logger,
) *Discovery {
	return &Discovery{
		gamma:   gamma,
		ws:      ws,
		store:   store,
		windows: windows,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "discovery")),
		tracked: make(map[string][2]string),
	}
}

// Run refreshes immediately, then on the configured interval until the
// context is cancelled. Refresh failures are logged and retried on the next
// tick; the already-tracked windows keep streaming meanwhile.
func (d *Discovery) Run(ctx context.Context) error {
	if err := d.refresh(ctx); err != nil {
		d.logger.Error("initial discovery failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(d.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.refresh(ctx); err != nil {
				d.logger.Warn("discovery refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// refresh reconciles the tracked set against the venue's current listing.
func (d *Discovery) refresh(ctx context.Context) error {
	found, err := d.gamma.DiscoverWindows(ctx, d.cfg.Assets)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(found))
	var subscribe []string

	for _, w := range found {
		seen[w.ID] = struct{}{}

		if w.Status == domain.WindowStatusSettled {
			d.drop(w.ID, domain.WindowStatusSettled)
			continue
		}

		if _, known := d.tracked[w.ID]; known {
			// Known window: refresh metadata and status only.
			d.store.Track(w)
		} else {
			d.tracked[w.ID] = [2]string{w.YesTokenID, w.NoTokenID}
			d.store.Track(w)
			subscribe = append(subscribe, w.YesTokenID, w.NoTokenID)
			d.logger.Info("tracking window",
				slog.String("window", w.ID),
				slog.String("asset", w.Asset),
				slog.String("slug", w.Slug),
				slog.Time("close_time", w.CloseTime),
			)
		}

		d.persist(ctx, w)
	}

	// Windows the venue no longer lists have settled.
	for id := range d.tracked {
		if _, ok := seen[id]; !ok {
			d.drop(id, domain.WindowStatusSettled)
			d.persistStatus(ctx, id, domain.WindowStatusSettled)
		}
	}

	if len(subscribe) > 0 {
		if err := d.ws.Subscribe(subscribe); err != nil {
			d.logger.Warn("book subscription failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

// drop stops tracking a window and unsubscribes its tokens.
func (d *Discovery) drop(windowID string, status domain.WindowStatus) {
	tokens, ok := d.tracked[windowID]
	if !ok {
		return
	}
	delete(d.tracked, windowID)
	d.store.Drop(windowID)

	if err := d.ws.Unsubscribe(tokens[:]); err != nil {
		d.logger.Debug("book unsubscribe failed",
			slog.String("window", windowID),
			slog.String("error", err.Error()),
		)
	}
	d.logger.Info("window dropped",
		slog.String("window", windowID),
		slog.String("status", string(status)),
	)
}

func (d *Discovery) persist(ctx context.Context, w domain.MarketWindow) {
	if d.windows == nil {
		return
	}
	if err := d.windows.Upsert(ctx, w); err != nil {
		d.logger.Warn("window persistence failed",
			slog.String("window", w.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Discovery) persistStatus(ctx context.Context, id string, status domain.WindowStatus) {
	if d.windows == nil {
		return
	}
	if err := d.windows.UpdateStatus(ctx, id, status); err != nil {
		d.logger.Debug("window status persistence failed",
			slog.String("window", id),
			slog.String("error", err.Error()),
		)
	}
}
