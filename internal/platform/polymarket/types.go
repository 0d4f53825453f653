package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets; the 15-minute crypto series
// publishes one event per window.
type APIEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Active  flexBool    `json:"active"`
	Closed  bool        `json:"closed"`
	Markets []APIMarket `json:"markets"`
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"conditionId"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	ClobTokenIDs  string   `json:"clobTokenIds"`  // JSON-encoded: e.g. "[\"123\",\"456\"]"
	StartDateISO  string   `json:"startDate"`
	EndDateISO    string   `json:"endDate"`
	AcceptingOrds flexBool `json:"acceptingOrders"`
}

// OutcomeTokens decodes the JSON-encoded outcome and token ID arrays and
// returns the YES and NO token IDs. ok is false when the market is not a
// plain Yes/No binary or the arrays are malformed.
func (m *APIMarket) OutcomeTokens() (yesToken, noToken string, ok bool) {
	var outcomes []string
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil {
		return "", "", false
	}
	var tokens []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokens); err != nil {
		return "", "", false
	}
	if len(outcomes) != 2 || len(tokens) != 2 {
		return "", "", false
	}

	for i, outcome := range outcomes {
		switch strings.ToLower(outcome) {
		case "yes":
			yesToken = tokens[i]
		case "no":
			noToken = tokens[i]
		}
	}
	if yesToken == "" || noToken == "" {
		return "", "", false
	}
	return yesToken, noToken, true
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// apiOrderPayload is the request body for placing an order on the CLOB.
type apiOrderPayload struct {
	TokenID string `json:"tokenID"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`      // "BUY" or "SELL"
	Type    string `json:"orderType"` // "GTC"
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	OrderID  string `json:"orderID,omitempty"`
	Status   string `json:"status,omitempty"`
}

// APIOrderStatus is an order as returned by the CLOB order query endpoint.
type APIOrderStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // "live", "matched", "cancelled", "rejected"
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to the WebSocket to subscribe or
// unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// BookMessage is a full orderbook snapshot delivered over the WebSocket.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookTop is the extracted top-of-book for one outcome token. The feed layer
// maps the token back to its (window, side) before writing the snapshot.
type BookTop struct {
	TokenID    string
	BestBid    float64
	BestAsk    float64
	BidSize    float64
	AskSize    float64
	ObservedAt time.Time
}

// TopOfBook reduces a full book snapshot to its best levels. ObservedAt comes
// from the venue timestamp so quote recency survives network reordering; it
// falls back to local time when the venue timestamp is unparseable.
func TopOfBook(b *BookMessage) BookTop {
	top := BookTop{TokenID: b.AssetID}

	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		if p > top.BestBid {
			top.BestBid = p
			top.BidSize = s
		}
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		if top.BestAsk == 0 || p < top.BestAsk {
			top.BestAsk = p
			top.AskSize = s
		}
	}

	if ms, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		top.ObservedAt = time.UnixMilli(ms).UTC()
	} else if t, err := time.Parse(time.RFC3339, b.Timestamp); err == nil {
		top.ObservedAt = t.UTC()
	} else {
		top.ObservedAt = time.Now().UTC()
	}

	return top
}
