package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/maren-dev/maren/src/structs"
)

const (
	APIVersion       = 10
	defaultUserAgent = "DiscordBot (https://github.com/maren-dev/maren, 0.1.0)"

	// retryAfterFallback is used when a 429 body carries no usable
	// retry_after value.
	retryAfterFallback = 40 * time.Second
)

// Client performs bucket-aware HTTP calls against the REST API. One
// instance shares a single rate limiter across all requests.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string
	maxTTL     int
	limiter    *RateLimiter
	log        *slog.Logger
}

type ClientOptions struct {
	HTTPClient *http.Client
	BaseURL    string
	UserAgent  string
	// MaxTTL bounds attempts on server-side errors. Zero means the
	// default of 5.
	MaxTTL int
	Logger *slog.Logger
}

func NewClient(token string, opts ClientOptions) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.BaseURL == "" {
		opts.BaseURL = fmt.Sprintf("https://discord.com/api/v%d", APIVersion)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxTTL == 0 {
		opts.MaxTTL = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		httpClient: opts.HTTPClient,
		baseURL:    opts.BaseURL,
		token:      token,
		userAgent:  opts.UserAgent,
		maxTTL:     opts.MaxTTL,
		limiter:    NewRateLimiter(opts.Logger),
		log:        opts.Logger,
	}
}

// RequestOptions carries per-call extras.
type RequestOptions struct {
	Headers map[string]string
	// AuditLogReason is percent-encoded into X-Audit-Log-Reason.
	AuditLogReason string
}

// Request performs one logical API call: wait for the route's bucket,
// send, record the response bucket, then settle the status. 429s are
// absorbed locally and do not consume the retry budget; generic server
// errors are retried up to MaxTTL attempts with growing delays.
func (c *Client) Request(ctx context.Context, method string, route string, body any, opts *RequestOptions) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body for %s: %w", route, err)
		}
	}

	for ttl := c.maxTTL; ; {
		if err := c.limiter.WaitUntilAvailable(ctx, route, method); err != nil {
			return nil, err
		}

		res, err := c.send(ctx, method, route, payload, opts)
		if err != nil {
			return nil, err
		}

		data, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body for %s: %w", route, err)
		}

		c.limiter.SaveResponseBucket(route, method, res.Header)

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			if res.StatusCode == http.StatusNoContent || len(data) == 0 {
				return nil, nil
			}
			return data, nil
		}

		if res.StatusCode == http.StatusTooManyRequests {
			// Expected traffic shaping, not a failure: wait out the
			// provider-specified duration and reissue unchanged.
			wait := retryAfterDuration(data)
			c.log.Info("rate limited, waiting before reissue",
				"route", route,
				"retry_after", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if kind := classifyStatus(res.StatusCode); kind != nil {
			return nil, newStatusError(kind, res.StatusCode, route, apiErrorMessage(data))
		}

		retryIn := time.Duration(1+(c.maxTTL-ttl)*2) * time.Second
		ttl--
		if ttl == 0 {
			return nil, newStatusError(ErrMaxRetries, res.StatusCode, route, apiErrorMessage(data))
		}
		c.log.Warn("server error, retrying",
			"route", route,
			"status", res.StatusCode,
			"retry_in", retryIn,
			"attempts_left", ttl)
		if err := sleepCtx(ctx, retryIn); err != nil {
			return nil, err
		}
	}
}

func (c *Client) send(ctx context.Context, method string, route string, payload []byte, opts *RequestOptions) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s/%s", c.baseURL, route), body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bot %s", c.token))
	req.Header.Set("User-Agent", c.userAgent)

	if opts != nil {
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
		if opts.AuditLogReason != "" {
			req.Header.Set("X-Audit-Log-Reason", url.PathEscape(opts.AuditLogReason))
		}
	}
	return c.httpClient.Do(req)
}

func (c *Client) Get(ctx context.Context, route string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, route, nil, nil)
}

func (c *Client) Post(ctx context.Context, route string, body any, opts *RequestOptions) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPost, route, body, opts)
}

func (c *Client) Patch(ctx context.Context, route string, body any, opts *RequestOptions) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPatch, route, body, opts)
}

func (c *Client) Put(ctx context.Context, route string, body any, opts *RequestOptions) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPut, route, body, opts)
}

func (c *Client) Delete(ctx context.Context, route string, opts *RequestOptions) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodDelete, route, nil, opts)
}

// GatewayBot fetches the websocket URL and recommended shard count for
// this token. Called once before the first gateway connection.
func (c *Client) GatewayBot(ctx context.Context) (*structs.GatewayBotInfo, error) {
	data, err := c.Get(ctx, "gateway/bot")
	if err != nil {
		return nil, err
	}
	info := new(structs.GatewayBotInfo)
	if err := json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("decode gateway/bot response: %w", err)
	}
	return info, nil
}

func retryAfterDuration(body []byte) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.RetryAfter <= 0 {
		return retryAfterFallback
	}
	return time.Duration(payload.RetryAfter * float64(time.Second))
}

func apiErrorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
