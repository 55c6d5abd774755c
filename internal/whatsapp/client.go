package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"neonetworker/internal/config"
	"neonetworker/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v18.0"
	maxMediaBytes     = 16 << 20
)

var ErrNotConfigured = errors.New("whatsapp is not configured")

// APIError is a non-2xx Graph API reply.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api: status %d: %s", e.Status, e.Message)
}

// Client talks to the WhatsApp Cloud API.
type Client struct {
	cfg        config.WhatsAppConfig
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zerolog.Logger

	mu    sync.RWMutex
	token string
}

func NewClient(cfg config.WhatsAppConfig, logger *zerolog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 20
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base + "/" + version,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		logger:     logger,
		token:      cfg.AccessToken,
	}
}

func (c *Client) Configured() bool {
	return c.accessToken() != "" && c.cfg.PhoneNumberID != ""
}

func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SendText sends a plain text message to phone.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                phone,
		"type":              "text",
		"text":              map[string]any{"preview_url": false, "body": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, c.cfg.PhoneNumberID)
	resp, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		metrics.IncIntegrationFailure("whatsapp")
		return err
	}
	resp.Body.Close()
	return nil
}

// DownloadMedia resolves a media id to its URL and fetches the bytes.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	if !c.Configured() {
		return nil, "", ErrNotConfigured
	}
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(mediaID)), nil)
	if err != nil {
		return nil, "", err
	}
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	err = json.NewDecoder(resp.Body).Decode(&meta)
	resp.Body.Close()
	if err != nil {
		return nil, "", fmt.Errorf("decode media info: %w", err)
	}
	if meta.URL == "" {
		return nil, "", fmt.Errorf("media %s has no url", mediaID)
	}

	resp, err = c.do(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	return data, meta.MimeType, nil
}

// RefreshToken exchanges the configured token for a fresh long-lived one.
func (c *Client) RefreshToken(ctx context.Context) error {
	if c.cfg.AppID == "" || c.cfg.AppSecret == "" {
		return ErrNotConfigured
	}
	current := c.cfg.RefreshToken
	if current == "" {
		current = c.accessToken()
	}

	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", c.cfg.AppID)
	q.Set("client_secret", c.cfg.AppSecret)
	q.Set("fb_exchange_token", current)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/oauth/access_token?"+q.Encode(), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	if out.AccessToken == "" {
		return errors.New("refresh token: empty access token")
	}

	c.mu.Lock()
	c.token = out.AccessToken
	c.mu.Unlock()
	c.logger.Info().Int64("expires_in", out.ExpiresIn).Msg("whatsapp access token refreshed")
	return nil
}

// do sends an authorized request. A 401 triggers one token refresh and retry.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if rerr := c.RefreshToken(ctx); rerr != nil {
			return nil, fmt.Errorf("whatsapp unauthorized, refresh failed: %w", rerr)
		}
		if resp, err = c.send(ctx, method, endpoint, body); err != nil {
			return nil, err
		}
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp request: %w", err)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil && payload.Error.Message != "" {
		msg = payload.Error.Message
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
