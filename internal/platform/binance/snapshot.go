package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/venuelabs/microroute/internal/book"
	"github.com/venuelabs/microroute/internal/domain"
)

// defaultSnapshotDepth is the number of levels requested per snapshot.
const defaultSnapshotDepth = 1000

// RESTClient fetches full depth snapshots over the REST API. It serves as
// the book store's snapshot fetcher during startup and resync, and doubles
// as a latency probe for the venue scorer.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	depth      int
}

// NewRESTClient creates a REST client.
//
// baseURL is the API root, e.g. "https://api.binance.com".
func NewRESTClient(baseURL string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		depth: defaultSnapshotDepth,
	}
}

// FetchSnapshot retrieves the full depth snapshot for a key. The response's
// lastUpdateId becomes the book sequence the store reconciles diffs against.
func (c *RESTClient) FetchSnapshot(ctx context.Context, key domain.BookKey) (domain.BookSnapshot, error) {
	q := url.Values{}
	q.Set("symbol", exchangeSymbol(key.Symbol))
	q.Set("limit", strconv.Itoa(c.depth))

	reqURL := c.baseURL + "/api/v3/depth?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("binance/rest: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("binance/rest: depth %s: %w", key.Symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.BookSnapshot{}, fmt.Errorf("binance/rest: depth %s: %w", key.Symbol, domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.BookSnapshot{}, fmt.Errorf("binance/rest: depth %s: status %d: %s", key.Symbol, resp.StatusCode, body)
	}

	var depthResp depthSnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&depthResp); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("binance/rest: decode depth %s: %w", key.Symbol, err)
	}

	return domain.BookSnapshot{
		Venue:     Venue,
		Symbol:    key.Symbol,
		Bids:      parseLevels(depthResp.Bids),
		Asks:      parseLevels(depthResp.Asks),
		Sequence:  depthResp.LastUpdateID,
		Timestamp: time.Now(),
	}, nil
}

// ProbeLatency measures the round trip of the ping endpoint in milliseconds.
func (c *RESTClient) ProbeLatency(ctx context.Context, venue string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/ping", nil)
	if err != nil {
		return 0, fmt.Errorf("binance/rest: build ping: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("binance/rest: ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("binance/rest: ping: status %d", resp.StatusCode)
	}
	return float64(time.Since(start)) / float64(time.Millisecond), nil
}

// Compile-time interface check.
var _ book.SnapshotFetcher = (*RESTClient)(nil)
