// Package whatsapp talks to the WhatsApp Cloud API: it sends text messages
// and parses and authenticates webhook deliveries.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/everydev1618/pmc/tools"
)

// Defaults for the Graph API.
const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v22.0"

	// MaxMessageLength is the longest text body WhatsApp accepts.
	MaxMessageLength = 4096
)

// APIError is a non-2xx Graph API response.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp API error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether sending again may succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config configures a Client.
type Config struct {
	Token         string
	PhoneNumberID string
	BaseURL       string
	APIVersion    string

	// MaxElapsed bounds the retries of one message.
	MaxElapsed time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client sends messages through the Cloud API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" || cfg.PhoneNumberID == "" {
		return nil, errors.New("whatsapp: token and phone number id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 30 * time.Second
	}
	c := &Client{cfg: cfg, http: cfg.HTTPClient, logger: cfg.Logger}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type outgoingMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

// Send delivers markdown text to a WhatsApp user, converted to WhatsApp
// formatting and split into chunks the API accepts.
func (c *Client) Send(ctx context.Context, to, text string) error {
	text = tools.MarkdownToWhatsApp(text)
	for _, chunk := range tools.SplitMessage(text, MaxMessageLength) {
		if err := c.sendText(ctx, to, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendText(ctx context.Context, to, text string) error {
	body, err := json.Marshal(outgoingMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/%s/%s/messages", c.cfg.BaseURL, c.cfg.APIVersion, c.cfg.PhoneNumberID)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.MaxElapsedTime = c.cfg.MaxElapsed
	policy := &retryAfterBackOff{BackOff: exp}

	attempt := 0
	op := func() error {
		attempt++
		err := c.post(ctx, url, body)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if !apiErr.Retryable() {
				return backoff.Permanent(err)
			}
			policy.wait = apiErr.RetryAfter
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("whatsapp send failed, retrying", "to", to, "attempt", attempt, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return fmt.Errorf("send whatsapp message to %s: %w", to, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode/100 == 2 {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

// retryAfterBackOff waits at least as long as the server asked.
type retryAfterBackOff struct {
	backoff.BackOff
	wait time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.wait > next {
		next = b.wait
	}
	b.wait = 0
	return next
}
