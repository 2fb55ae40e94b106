package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/storage"
)

// Token cache statuses, surfaced in reports.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheExpired  = "expired"
	CacheRefresh  = "refresh"
	CacheDisabled = "disabled"
	CacheNA       = "n/a"
)

// Statuses worth a retry: throttling and transient upstream failures.
var retryStatus = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusTeapot:             true,
	http.StatusServiceUnavailable: true,
}

const (
	retryBackoffStart = time.Second
	retryBackoffCap   = 8 * time.Second
	tokenExpiresFudge = 3600 // seconds, when the response omits expires_in
)

type cachedToken struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
}

// Client talks to the KIS REST API. Safe for concurrent use.
type Client struct {
	baseURL     string
	appKey      string
	appSecret   string
	env         string
	maxAttempts int

	httpClient *http.Client
	limiter    *rate.Limiter
	store      *storage.Store
	logger     *common.Logger

	// test seams
	now   func() time.Time
	sleep func(time.Duration)

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
	cacheStatus string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenStore enables on-disk token caching.
func WithTokenStore(store *storage.Store) Option {
	return func(c *Client) { c.store = store }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithSleep overrides the retry backoff sleeper.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient creates a KIS client from provider configuration.
// Credentials are required.
func NewClient(cfg common.ProviderConfig, logger *common.Logger, opts ...Option) (*Client, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" {
		return nil, &AuthError{Message: "KIS_APP_KEY and KIS_APP_SECRET must be set"}
	}
	if cfg.BaseURL == "" {
		return nil, &AuthError{Message: "provider base URL is not configured"}
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}

	interval := time.Duration(cfg.MinIntervalMS) * time.Millisecond
	var limiter *rate.Limiter
	if interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	client := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		appKey:      cfg.AppKey,
		appSecret:   cfg.AppSecret,
		env:         cfg.ResolveEnv(),
		maxAttempts: maxAttempts,
		httpClient:  &http.Client{Timeout: cfg.GetTimeout()},
		limiter:     limiter,
		logger:      logger,
		now:         time.Now,
		sleep:       time.Sleep,
		cacheStatus: CacheNA,
	}
	for _, opt := range opts {
		opt(client)
	}

	client.tryLoadCachedToken()
	return client, nil
}

// CacheStatus reports how the last token was obtained.
func (c *Client) CacheStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cacheStatus
}

func (c *Client) tokenCacheKey() string {
	return "kis_token_" + c.env
}

func (c *Client) tryLoadCachedToken() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		c.cacheStatus = CacheDisabled
		return
	}

	var cached cachedToken
	if _, ok := c.store.Load(c.tokenCacheKey(), &cached); !ok {
		c.cacheStatus = CacheMiss
		return
	}
	if cached.Token == "" || cached.ExpiresAt == "" {
		c.cacheStatus = CacheMiss
		return
	}

	expiry, err := time.Parse(time.RFC3339, cached.ExpiresAt)
	if err != nil {
		c.cacheStatus = CacheMiss
		return
	}
	if !expiry.After(c.now().UTC()) {
		c.cacheStatus = CacheExpired
		return
	}

	tokenType := cached.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	c.accessToken = strings.TrimSpace(tokenType + " " + cached.Token)
	c.tokenExpiry = expiry
	c.cacheStatus = CacheHit
}

// doRequest performs one HTTP request with retry on transport errors and
// throttling statuses. The final response is returned as-is.
func (c *Client) doRequest(ctx context.Context, method, rawURL string, headers map[string]string, params url.Values, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	if params != nil {
		rawURL = rawURL + "?" + params.Encode()
	}

	backoff := retryBackoffStart
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			if retryStatus[resp.StatusCode] && attempt < c.maxAttempts-1 {
				resp.Body.Close()
				c.sleep(backoff)
				backoff = min(backoff*2, retryBackoffCap)
				continue
			}
			return resp, nil
		}

		if attempt < c.maxAttempts-1 {
			c.sleep(backoff)
			backoff = min(backoff*2, retryBackoffCap)
		}
	}
	return nil, lastErr
}

// EnsureToken obtains or refreshes the access token. Callers holding a
// valid token return immediately.
func (c *Client) EnsureToken(ctx context.Context) error {
	c.mu.Lock()
	if c.accessToken != "" && c.now().UTC().Before(c.tokenExpiry) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	payload := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"appsecret":  c.appSecret,
	}
	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
		"charset":      "UTF-8",
	}

	resp, err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/oauth2/tokenP", headers, nil, payload)
	if err != nil {
		return &AuthError{Message: fmt.Sprintf("token request failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &AuthError{Message: fmt.Sprintf("token response read failed: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return &AuthError{Message: fmt.Sprintf("token request HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return &AuthError{Message: "token response is not JSON"}
	}

	token := stringField(data, "access_token", "ACCESS_TOKEN")
	if token == "" {
		return &AuthError{Message: "token missing in response"}
	}
	tokenType := stringField(data, "token_type", "TOKEN_TYPE")
	if tokenType == "" {
		tokenType = "Bearer"
	}

	expiresSeconds := tokenExpiresFudge
	switch v := firstField(data, "expires_in", "EXPIRES_IN").(type) {
	case float64:
		expiresSeconds = int(v)
	case string:
		if n, err := time.ParseDuration(v + "s"); err == nil {
			expiresSeconds = int(n.Seconds())
		}
	}

	nowUTC := c.now().UTC()

	var expiry time.Time
	if s := stringField(data, "access_token_token_expired", "access_token_expired", "expires_at"); s != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
			expiry = t
		} else if t, err := time.Parse(time.RFC3339, s); err == nil {
			expiry = t
		}
	}
	if expiry.IsZero() {
		expiry = nowUTC.Add(time.Duration(expiresSeconds) * time.Second)
	}

	// Refresh ahead of the actual expiry.
	refresh := expiry.Add(-5 * time.Minute)
	if !refresh.After(nowUTC) {
		refresh = nowUTC.Add(time.Duration(float64(expiresSeconds)*0.9) * time.Second)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = strings.TrimSpace(tokenType + " " + token)
	c.tokenExpiry = refresh

	if c.store != nil {
		err := c.store.Save(c.tokenCacheKey(), cachedToken{
			Token:     token,
			TokenType: tokenType,
			ExpiresAt: expiry.UTC().Format(time.RFC3339),
		})
		if err != nil && c.logger != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache access token")
		}
		c.cacheStatus = CacheRefresh
	} else {
		c.cacheStatus = CacheNA
	}
	return nil
}

// authHeaders returns the standard data-request header set.
func (c *Client) authHeaders(trID string) map[string]string {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	return map[string]string{
		"Content-Type":  "application/json",
		"authorization": token,
		"appkey":        c.appKey,
		"appsecret":     c.appSecret,
		"tr_id":         trID,
		"custtype":      "P",
	}
}

// getJSON performs an authenticated GET, decodes the body, and converts
// non-200 statuses and rt_cd business failures into an APIError.
func (c *Client) getJSON(ctx context.Context, rawURL string, headers map[string]string, params url.Values) (map[string]any, http.Header, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, rawURL, headers, params, nil)
	if err != nil {
		return nil, nil, &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Message: "response is not JSON"}
	}

	if rt := stringField(data, "rt_cd"); rt != "" && rt != "0" {
		msg := stringField(data, "msg1", "msg_cd")
		if msg == "" {
			msg = "unknown error"
		}
		return nil, nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       stringField(data, "msg_cd"),
			Message:    msg,
		}
	}
	return data, resp.Header, nil
}

func firstField(data map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := data[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringField(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
