package polymarket

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/elcapitan88/polybot/internal/domain"
)

// Credentials holds the CLOB API key set used for L2 (HMAC) authentication.
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
}

// ClobClient is the REST client for the Polymarket CLOB (Central Limit Order
// Book) API. It implements domain.OrderClient. All requests share one local
// token-bucket limiter so a burst of concurrent legs cannot trip the venue's
// rate limit.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
	limiter    *rate.Limiter
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// requestsPerWindow and window configure the outbound rate limit.
func NewClobClient(baseURL string, creds Credentials, requestsPerWindow int, window time.Duration) *ClobClient {
	if requestsPerWindow < 1 {
		requestsPerWindow = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		creds:   creds,
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(requestsPerWindow)), requestsPerWindow),
	}
}

// SubmitOrder places a GTC limit order and returns the venue order ID.
func (c *ClobClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	side := "BUY"
	if req.Side == domain.OrderSideSell {
		side = "SELL"
	}
	payload := apiOrderPayload{
		TokenID: req.TokenID,
		Price:   strconv.FormatFloat(req.Price, 'f', -1, 64),
		Size:    strconv.FormatFloat(req.Size, 'f', -1, 64),
		Side:    side,
		Type:    "GTC",
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/order", payload)
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("polymarket/clob: %w: %s", domain.ErrOrderRejected, result.ErrorMsg)
	}

	return result.OrderID, nil
}

// OrderStatus queries the current state of a submitted order.
func (c *ClobClient) OrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/order/"+orderID, nil)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, err)
	}

	var apiStatus APIOrderStatus
	if err := json.Unmarshal(respBody, &apiStatus); err != nil {
		return domain.OrderStatus{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}

	return toDomainStatus(&apiStatus), nil
}

// CancelOrder cancels a single order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]string{"orderID": orderID}

	respBody, err := c.doRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}

	return nil
}

func toDomainStatus(a *APIOrderStatus) domain.OrderStatus {
	st := domain.OrderStatus{OrderID: a.ID}

	st.FilledSize, _ = strconv.ParseFloat(a.SizeMatched, 64)
	if orig, err := strconv.ParseFloat(a.OriginalSize, 64); err == nil {
		st.RemainingSize = orig - st.FilledSize
	}
	st.AvgFillPrice, _ = strconv.ParseFloat(a.Price, 64)

	switch a.Status {
	case "matched", "filled":
		st.State = domain.OrderFilled
	case "cancelled":
		st.State = domain.OrderCancelled
	case "rejected":
		st.State = domain.OrderRejected
	default:
		st.State = domain.OrderOpen
	}

	return st
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest builds, signs, sends, and reads an HTTP request against the CLOB
// API. It blocks on the local rate limiter first.
func (c *ClobClient) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.creds.Key != "" {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("POLY-API-KEY", c.creds.Key)
		req.Header.Set("POLY-PASSPHRASE", c.creds.Passphrase)
		req.Header.Set("POLY-TIMESTAMP", ts)
		req.Header.Set("POLY-SIGNATURE", c.sign(ts, method, path, bodyStr))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// sign computes the HMAC-SHA256 L2 signature over timestamp+method+path+body.
func (c *ClobClient) sign(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.Secret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors. 5xx
// responses are transient (the order may be retried); other 4xx responses are
// terminal rejections.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, statusCode, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrOrderRejected, statusCode, bodyStr)
	}
}

// Compile-time interface check.
var _ domain.OrderClient = (*ClobClient)(nil)
