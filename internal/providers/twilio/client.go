// Package twilio is a minimal client for the Twilio Messages API shared by
// the SMS and chat providers.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/workflow-notifier/internal/config"
)

const (
	defaultBaseURL      = "https://api.twilio.com/2010-04-01"
	defaultMaxBodyBytes = 16 * 1024
)

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used to talk to Twilio.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL sets the base API URL. Useful for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithBodyLimit adjusts how many bytes are retained from response bodies.
func WithBodyLimit(limit int64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.maxBodyBytes = limit
		}
	}
}

// Client posts messages to a single Twilio account.
type Client struct {
	accountSID   string
	authToken    string
	baseURL      string
	httpClient   HTTPClient
	maxBodyBytes int64
}

// Result is the outcome of one Messages API call.
type Result struct {
	SID        string
	Status     string
	HTTPStatus int
	ErrorCode  int
	Message    string
	Body       string
}

// Error is returned for non 2xx responses.
type Error struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *Error) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("twilio: error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("twilio: http %d: %s", e.HTTPStatus, e.Message)
}

// StatusCode exposes the HTTP status for error classification.
func (e *Error) StatusCode() int { return e.HTTPStatus }

// NewClient validates credentials and constructs a client.
func NewClient(cfg config.TwilioConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, errors.New("twilio: account SID is required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("twilio: auth token is required")
	}

	c := &Client{
		accountSID:   strings.TrimSpace(cfg.AccountSID),
		authToken:    strings.TrimSpace(cfg.AuthToken),
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// SendMessage creates one message. extra carries additional form parameters
// such as StatusCallback. A non-nil Result is returned whenever the API
// answered, including on error.
func (c *Client) SendMessage(ctx context.Context, from, to, body string, extra url.Values) (*Result, error) {
	params := url.Values{}
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	params.Set("From", from)
	params.Set("To", to)
	params.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio: new request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio: http do: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("twilio: read body: %w", err)
	}

	parsed := parseBody(raw)
	res := &Result{
		SID:        parsed.SID,
		Status:     parsed.Status,
		HTTPStatus: resp.StatusCode,
		ErrorCode:  parsed.Code,
		Message:    parsed.Message,
		Body:       string(raw),
	}
	if res.Status == "" {
		res.Status = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return res, nil
	}

	msg := parsed.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return res, &Error{HTTPStatus: resp.StatusCode, Code: parsed.Code, Message: msg}
}

type apiBody struct {
	SID     string
	Status  string
	Code    int
	Message string
}

// parseBody tolerates codes encoded as numbers or strings.
func parseBody(raw []byte) apiBody {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return apiBody{}
	}
	out := apiBody{}
	out.SID, _ = generic["sid"].(string)
	out.Status, _ = generic["status"].(string)
	out.Message, _ = generic["message"].(string)
	switch v := generic["code"].(type) {
	case float64:
		out.Code = int(v)
	case string:
		out.Code, _ = strconv.Atoi(strings.TrimSpace(v))
	}
	return out
}
