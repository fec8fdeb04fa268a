// Package pinata pins JSON documents to IPFS through the Pinata API and
// fetches them back through an IPFS HTTP gateway.
package pinata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

const (
	DefaultEndpoint = "https://api.pinata.cloud/pinning/pinJSONToIPFS"
	DefaultGateway  = "https://gateway.pinata.cloud/ipfs/"

	rateLimitKey = "pinata"
	maxBodyBytes = 1 << 20
)

// ClientConfig holds the Pinata connection parameters. APIKey and APISecret
// are optional; when empty the headers are not sent.
type ClientConfig struct {
	Endpoint   string
	GatewayURL string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
}

// Client talks to the Pinata pinning API.
type Client struct {
	endpoint   string
	gateway    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    domain.RateLimiter
	now        func() time.Time
}

// NewClient creates a Pinata client. limiter may be nil.
func NewClient(cfg ClientConfig, limiter domain.RateLimiter) *Client {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	gateway := strings.TrimSpace(cfg.GatewayURL)
	if gateway == "" {
		gateway = DefaultGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		gateway:    gateway,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiSecret:  strings.TrimSpace(cfg.APISecret),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		now:        time.Now,
	}
}

type pinRequest struct {
	PinataContent  any            `json:"pinataContent"`
	PinataMetadata pinRequestMeta `json:"pinataMetadata"`
}

type pinRequestMeta struct {
	Name string `json:"name"`
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// PinJSON uploads doc and returns its content identifier.
func (c *Client) PinJSON(ctx context.Context, doc any) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			return "", fmt.Errorf("pinata: rate limit: %w", err)
		}
	}

	body, err := json.Marshal(pinRequest{
		PinataContent:  doc,
		PinataMetadata: pinRequestMeta{Name: fmt.Sprintf("bet-metadata-%d", c.now().UnixMilli())},
	})
	if err != nil {
		return "", fmt.Errorf("pinata: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("pinata: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("pinata_api_key", c.apiKey)
	}
	if c.apiSecret != "" {
		req.Header.Set("pinata_secret_api_key", c.apiSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pinata: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("pinata: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pinata: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out pinResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("pinata: decode response: %w", err)
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("pinata: response has no IpfsHash")
	}
	return out.IpfsHash, nil
}

// Fetch downloads a pinned document from the gateway.
func (c *Client) Fetch(ctx context.Context, cid string) ([]byte, error) {
	cid = strings.TrimPrefix(strings.TrimSpace(cid), "ipfs://")
	if cid == "" {
		return nil, fmt.Errorf("pinata: fetch: empty cid")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gateway+cid, nil)
	if err != nil {
		return nil, fmt.Errorf("pinata: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pinata: fetch %s: %w", cid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("pinata: fetch %s: %w", cid, domain.ErrNotFound)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("pinata: read %s: %w", cid, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pinata: fetch %s: HTTP %d", cid, resp.StatusCode)
	}
	return body, nil
}
