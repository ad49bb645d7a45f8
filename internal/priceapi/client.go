// Package priceapi implements the price-history query contract: a single
// GetPriceHistory call, chunked client-side across 7-day boundaries, against
// an upstream price API reached over a TLS-fingerprint-impersonating HTTP
// client.
package priceapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	http_client "github.com/bogdanfinn/fhttp"
	"github.com/bogdanfinn/fhttp/cookiejar"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/skarlow/confluence-oracle/pkg/models"
)

const (
	chunkSpan       = 7 * 24 * time.Hour
	interChunkDelay = 200 * time.Millisecond
	retryBackoff    = 1 * time.Second
)

// Client is the price-history query contract's seam.
type Client interface {
	GetPriceHistory(tokenAddress string, timeFrom, timeTo time.Time, resolution string) ([]models.PricePoint, error)
}

// Config configures the HTTP-level client.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

// httpPricePoint mirrors the upstream API's raw JSON sample shape.
type httpPricePoint struct {
	UnixTime int64   `json:"unix_time"`
	Value    float64 `json:"value"`
}

type priceHistoryResponse struct {
	Code int              `json:"code"`
	Msg  string           `json:"msg"`
	Data []httpPricePoint `json:"data"`
}

// httpDoer is the narrow seam clientImpl depends on instead of the full
// tls_client.HttpClient interface, so tests can substitute a fake transport
// without standing up a real TLS-fingerprinted client.
type httpDoer interface {
	Do(req *http_client.Request) (*http_client.Response, error)
}

type clientImpl struct {
	cfg       Config
	tlsClient httpDoer
	logger    *logrus.Logger
}

// NewClient creates a price-history Client.
func NewClient(cfg Config, logger *logrus.Logger) Client {
	jar, _ := cookiejar.New(nil)

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(cfg.RequestTimeout.Seconds())),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithCookieJar(jar),
		tls_client.WithNotFollowRedirects(),
		tls_client.WithRandomTLSExtensionOrder(),
	}

	tlsClient, _ := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)

	return &clientImpl{cfg: cfg, tlsClient: tlsClient, logger: logger}
}

// GetPriceHistory implements the price-history query contract, rejecting
// simulation addresses without a network call and chunking ranges wider
// than 7 days client-side.
func (c *clientImpl) GetPriceHistory(tokenAddress string, timeFrom, timeTo time.Time, resolution string) ([]models.PricePoint, error) {
	if models.IsSimulationAddress(tokenAddress) {
		return nil, fmt.Errorf("token address %q is a reserved simulation address", tokenAddress)
	}

	var all []models.PricePoint

	chunkStart := timeFrom
	first := true
	for chunkStart.Before(timeTo) {
		if !first {
			time.Sleep(interChunkDelay)
		}
		first = false

		chunkEnd := chunkStart.Add(chunkSpan)
		if chunkEnd.After(timeTo) {
			chunkEnd = timeTo
		}

		points, err := c.fetchChunk(tokenAddress, chunkStart, chunkEnd, resolution)
		if err != nil {
			return all, err
		}
		all = append(all, points...)

		chunkStart = chunkEnd
	}

	return all, nil
}

// fetchChunk issues one sub-range request, retrying once on 5xx/timeout
// with a fixed backoff. 4xx responses are never retried.
func (c *clientImpl) fetchChunk(tokenAddress string, from, to time.Time, resolution string) ([]models.PricePoint, error) {
	url := fmt.Sprintf("%s/api/v1/price_history/sol/%s?time_from=%d&time_to=%d&resolution=%s&api_key=%s",
		c.cfg.BaseURL, tokenAddress, from.Unix(), to.Unix(), resolution, c.cfg.APIKey)

	points, status, err := c.doRequest(url)
	if err == nil {
		return points, nil
	}

	if status >= 400 && status < 500 {
		return nil, fmt.Errorf("price history request rejected (status %d): %w", status, err)
	}

	c.logger.WithFields(logrus.Fields{
		"token_address": tokenAddress,
		"status":        status,
	}).Warn("price history request failed, retrying once")

	time.Sleep(retryBackoff)

	points, _, err = c.doRequest(url)
	return points, err
}

func (c *clientImpl) doRequest(url string) ([]models.PricePoint, int, error) {
	req, err := http_client.NewRequest(http_client.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header = http_client.Header{
		"accept":     []string{"application/json"},
		"user-agent": []string{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"},
	}

	resp, err := c.tlsClient.Do(req)
	if err != nil {
		return nil, http.StatusServiceUnavailable, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var parsed priceHistoryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode price history response: %w", err)
	}
	if parsed.Code != 0 {
		return nil, resp.StatusCode, fmt.Errorf("price API error %d: %s", parsed.Code, parsed.Msg)
	}

	points := make([]models.PricePoint, 0, len(parsed.Data))
	for _, p := range parsed.Data {
		points = append(points, models.PricePoint{
			UnixTime: p.UnixTime,
			Value:    decimal.NewFromFloat(p.Value),
		})
	}

	return points, resp.StatusCode, nil
}
