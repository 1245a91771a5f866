package fusionsolar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// Operation names on the vendor API. All are POSTs under the base URL.
const (
	OpLogin          = "login"
	OpStations       = "stations"
	OpStationListOld = "getStationList"
	OpStationRealKpi = "getStationRealKpi"
	OpDevList        = "getDevList"
	OpDevRealKpi     = "getDevRealKpi"
)

const (
	// DefaultTimeout bounds list and single-station KPI calls.
	DefaultTimeout = 30 * time.Second
	// BatchTimeout bounds combined KPI calls, which carry larger payloads.
	BatchTimeout = 60 * time.Second

	tokenHeader = "XSRF-TOKEN"
)

// Caller is the request surface the sync engine talks to. The transport
// breaker wraps it.
type Caller interface {
	Authenticate(ctx context.Context) (string, error)
	Call(ctx context.Context, operation string, payload map[string]any, timeout time.Duration) (map[string]any, error)
}

// Client is a session-cookie + XSRF-token HTTP client for the FusionSolar
// third-party data API. Not safe for concurrent use; one sync cycle owns it.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *log.Logger
	token      string
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client. The caller must supply
// a cookie jar when the vendor session relies on cookies.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a client with its own cookie jar.
func NewClient(baseURL, username, password string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("fusionsolar client: empty base url")
	}
	if username == "" || password == "" {
		return nil, errors.New("fusionsolar client: missing credentials")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("fusionsolar client: cookie jar: %w", err)
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Jar: jar},
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Authenticate logs in, stores the XSRF token for subsequent calls and
// returns it. Application-level rejections surface as *AuthError; a success
// payload without a token header surfaces as ErrTokenMissing.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	body := map[string]any{
		"userName":   c.username,
		"systemCode": c.password,
	}
	resp, raw, err := c.post(ctx, OpLogin, body, DefaultTimeout, "")
	if err != nil {
		return "", err
	}

	var parsed struct {
		Success  bool            `json:"success"`
		FailCode int             `json:"failCode"`
		Message  string          `json:"message"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &ProtocolError{Operation: OpLogin, StatusCode: resp.StatusCode, Err: err}
	}
	if !parsed.Success {
		authErr := classifyFailCode(parsed.FailCode, parsed.Message)
		c.logger.Printf("fusionsolar: login rejected: failCode=%d message=%q", parsed.FailCode, parsed.Message)
		return "", authErr
	}

	token := headerValue(resp.Header, tokenHeader)
	if token == "" {
		return "", ErrTokenMissing
	}
	c.token = token
	c.logger.Printf("fusionsolar: authenticated against %s", c.baseURL)
	return token, nil
}

// Call issues an authenticated POST to a named operation and returns the
// decoded body. Application-level success=false is NOT an error here; list
// and KPI callers interpret the body differently.
func (c *Client) Call(ctx context.Context, operation string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	_, raw, err := c.post(ctx, operation, payload, timeout, c.token)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &ProtocolError{Operation: operation, StatusCode: http.StatusOK, Err: err}
	}
	return body, nil
}

// post performs the HTTP exchange and classifies transport/protocol failures.
// Returns the response (for headers) and the raw body of a 200 response.
func (c *Client) post(ctx context.Context, operation string, payload map[string]any, timeout time.Duration, token string) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("fusionsolar client: encode %s payload: %w", operation, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+operation, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("fusionsolar client: build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &TransportError{Operation: operation, Err: describeTransport(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &TransportError{Operation: operation, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, &ProtocolError{Operation: operation, StatusCode: resp.StatusCode}
	}
	return resp, raw, nil
}

// describeTransport keeps timeout vs connection failure distinguishable in
// logs without leaking url.Error noise upward.
func describeTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("timeout: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timeout: %w", err)
	}
	return err
}

// headerValue does a case-insensitive lookup; the vendor has returned the
// token under both xsrf-token and XSRF-TOKEN.
func headerValue(h http.Header, key string) string {
	if v := h.Get(key); v != "" {
		return v
	}
	for name, values := range h {
		if strings.EqualFold(name, key) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}
