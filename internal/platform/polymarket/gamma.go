package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/elcapitan88/polybot/internal/domain"
)

// windowSlugMarker tags the recurring 15-minute up-or-down market series in
// Gamma slugs, e.g. "btc-up-or-down-15m-2025-08-26-1430".
const windowSlugMarker = "-15m-"

// gammaPageSize is the page size used when walking the events listing.
const gammaPageSize = 100

// GammaClient is the REST client for the Polymarket Gamma API, which provides
// market discovery and metadata.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// DiscoverWindows walks the open events listing and returns the 15-minute
// binary windows for the requested assets. Markets that are not plain Yes/No
// binaries, or whose token IDs are missing, are skipped.
func (g *GammaClient) DiscoverWindows(ctx context.Context, assets []string) ([]domain.MarketWindow, error) {
	assetSet := make(map[string]string, len(assets))
	for _, a := range assets {
		assetSet[strings.ToLower(a)] = strings.ToUpper(a)
	}

	now := time.Now().UTC()
	var windows []domain.MarketWindow

	for offset := 0; ; offset += gammaPageSize {
		events, err := g.getEvents(ctx, gammaPageSize, offset)
		if err != nil {
			return nil, err
		}

		for i := range events {
			ev := &events[i]
			if ev.Closed {
				continue
			}
			for j := range ev.Markets {
				if w, ok := marketToWindow(&ev.Markets[j], assetSet, now); ok {
					windows = append(windows, w)
				}
			}
		}

		if len(events) < gammaPageSize {
			break
		}
	}

	return windows, nil
}

// marketToWindow maps one Gamma market to a MarketWindow when it belongs to
// the 15-minute series for a tracked asset.
func marketToWindow(m *APIMarket, assetSet map[string]string, now time.Time) (domain.MarketWindow, bool) {
	slug := strings.ToLower(m.Slug)
	if !strings.Contains(slug, windowSlugMarker) {
		return domain.MarketWindow{}, false
	}

	asset := ""
	for prefix, symbol := range assetSet {
		if strings.HasPrefix(slug, prefix+"-") {
			asset = symbol
			break
		}
	}
	if asset == "" {
		return domain.MarketWindow{}, false
	}

	yesTok, noTok, ok := m.OutcomeTokens()
	if !ok {
		return domain.MarketWindow{}, false
	}

	openTime, err := time.Parse(time.RFC3339, m.StartDateISO)
	if err != nil {
		return domain.MarketWindow{}, false
	}
	closeTime, err := time.Parse(time.RFC3339, m.EndDateISO)
	if err != nil {
		return domain.MarketWindow{}, false
	}

	id := m.ConditionID
	if id == "" {
		id = m.ID
	}

	return domain.MarketWindow{
		ID:         id,
		Asset:      asset,
		Slug:       m.Slug,
		Question:   m.Question,
		YesTokenID: yesTok,
		NoTokenID:  noTok,
		OpenTime:   openTime.UTC(),
		CloseTime:  closeTime.UTC(),
		Status:     windowStatus(m, openTime, closeTime, now),
	}, true
}

func windowStatus(m *APIMarket, openTime, closeTime, now time.Time) domain.WindowStatus {
	switch {
	case m.Closed || !now.Before(closeTime):
		return domain.WindowStatusSettled
	case now.Before(openTime):
		return domain.WindowStatusPending
	case !bool(m.AcceptingOrds):
		return domain.WindowStatusClosing
	default:
		return domain.WindowStatusOpen
	}
}

// getEvents returns one page of events from the Gamma API.
func (g *GammaClient) getEvents(ctx context.Context, limit, offset int) ([]APIEvent, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("closed", "false")

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}

	return events, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}
