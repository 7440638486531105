// ABOUTME: HTTP client for the external enhanced service built on go-resty
// ABOUTME: Normalizes every transport failure into a ConnectionState, never an error

package enhanced

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
)

const (
	defaultTimeout = 10 * time.Second

	pathStatus         = "/api/internal/system/status"
	pathActivate       = "/api/internal/license/activate"
	pathPlatformConfig = "/api/internal/platform-api-config"
	pathHeartbeat      = "/api/internal/heartbeat"

	HeaderCoreSecret   = "x-core-secret"
	HeaderInstanceID   = "x-core-instance-id"
	HeaderSessionToken = "x-tms-session-token"
)

// ClientConfig configures the enhanced service client.
type ClientConfig struct {
	// BaseURL of the enhanced service. Empty means not configured.
	BaseURL string
	// Secret is sent as x-core-secret when non-empty.
	Secret string
	// Timeout bounds every outbound call. Zero uses 10s.
	Timeout time.Duration
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
	// Now overrides the clock used for the heartbeat ledger.
	Now func() time.Time
}

// Client issues the four remote operations of the enhanced service.
type Client struct {
	http     *resty.Client
	baseURL  string
	secret   string
	identity *Identity
	tokens   *TokenStore
	ledger   *Ledger
	now      func() time.Time
	logger   *slog.Logger
}

// NewClient creates a Client. identity, tokens and ledger must share the same
// backing store.
func NewClient(cfg ClientConfig, identity *Identity, tokens *TokenStore, ledger *Ledger, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "enhanced")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{logger: logger})
	if baseURL != "" {
		httpClient.SetBaseURL(baseURL)
	}
	if cfg.Transport != nil {
		httpClient.SetTransport(cfg.Transport)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		secret:   cfg.Secret,
		identity: identity,
		tokens:   tokens,
		ledger:   ledger,
		now:      now,
		logger:   logger,
	}
}

// Configured reports whether a service URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// envelope is the response wrapper used by every enhanced endpoint.
type envelope struct {
	OK   bool            `json:"ok"`
	Data json.RawMessage `json:"data,omitempty"`
}

// statusData fields stay raw so a wrongly typed optional field degrades to
// unknown instead of failing the whole response.
type statusData struct {
	LicenseStatus json.RawMessage `json:"licenseStatus"`
	ExpiresAt     json.RawMessage `json:"expiresAt"`
}

// rawString returns raw as a string when it holds a JSON string.
func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

type heartbeatData struct {
	SessionToken string `json:"sessionToken"`
}

type activateRequest struct {
	LicenseKey string `json:"licenseKey"`
}

// remoteError describes why a call did not succeed. It is logged, never
// returned to callers.
type remoteError struct {
	op         string
	statusCode int
	message    string
}

func (e *remoteError) Error() string {
	if e.statusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.op, e.statusCode, e.message)
	}
	return fmt.Sprintf("%s: %s", e.op, e.message)
}

// Status fetches the license status. The returned error is non-nil only for
// ErrPersistence.
func (c *Client) Status(ctx context.Context) (SystemStatus, error) {
	unknown := func(reason Reason) SystemStatus {
		return SystemStatus{ConnectionState: Disconnected(reason), LicenseStatus: LicenseUnknown}
	}

	if !c.Configured() {
		return unknown(ReasonNotConfigured), nil
	}

	headers, err := c.baseHeaders(ctx)
	if err != nil {
		return unknown(ReasonUnreachable), err
	}

	env, err := c.do(ctx, "status", http.MethodGet, pathStatus, nil, headers)
	if err != nil {
		c.logFailure(err)
		return unknown(ReasonUnreachable), nil
	}

	status := SystemStatus{ConnectionState: Connected(), LicenseStatus: LicenseUnknown}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return status, nil
	}

	var data statusData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		c.logFailure(&remoteError{op: "status", message: "malformed data: " + err.Error()})
		return unknown(ReasonUnreachable), nil
	}

	if ls, ok := rawString(data.LicenseStatus); ok {
		status.LicenseStatus = ParseLicenseStatus(ls)
	} else if len(data.LicenseStatus) > 0 {
		c.logger.Debug("ignoring non-string licenseStatus", "value", truncate(string(data.LicenseStatus), 64))
	}
	if exp, ok := rawString(data.ExpiresAt); ok && exp != "" {
		if t, err := time.Parse(time.RFC3339, exp); err == nil {
			status.ExpiresAt = &t
		} else {
			c.logger.Debug("ignoring unparsable expiresAt", "value", truncate(exp, 64))
		}
	} else if !ok && len(data.ExpiresAt) > 0 {
		c.logger.Debug("ignoring non-string expiresAt", "value", truncate(string(data.ExpiresAt), 64))
	}

	c.logger.Debug("enhanced status", "license_status", status.LicenseStatus)
	return status, nil
}

// Activate submits a license key.
func (c *Client) Activate(ctx context.Context, licenseKey string) (ConnectionState, error) {
	return c.post(ctx, "activate", pathActivate, activateRequest{LicenseKey: licenseKey})
}

// SaveConfig pushes AI provider settings.
func (c *Client) SaveConfig(ctx context.Context, cfg ProviderConfig) (ConnectionState, error) {
	return c.post(ctx, "save-config", pathPlatformConfig, cfg)
}

func (c *Client) post(ctx context.Context, op, path string, body any) (ConnectionState, error) {
	if !c.Configured() {
		return Disconnected(ReasonNotConfigured), nil
	}

	headers, err := c.baseHeaders(ctx)
	if err != nil {
		return Disconnected(ReasonUnreachable), err
	}

	if _, err := c.do(ctx, op, http.MethodPost, path, body, headers); err != nil {
		c.logFailure(err)
		return Disconnected(ReasonUnreachable), nil
	}

	c.logger.Info("enhanced call succeeded", "op", op)
	return Connected(), nil
}

// Heartbeat proves liveness and renews the session token. On success the
// token pair is rotated and the ledger updated before Connected is returned;
// on any failure nothing is written.
func (c *Client) Heartbeat(ctx context.Context) (ConnectionState, error) {
	if !c.Configured() {
		return Disconnected(ReasonNotConfigured), nil
	}

	headers, err := c.baseHeaders(ctx)
	if err != nil {
		return Disconnected(ReasonUnreachable), err
	}

	pair, err := c.tokens.Read(ctx)
	if err != nil {
		return Disconnected(ReasonUnreachable), err
	}
	if pair.Current != nil && *pair.Current != "" {
		headers[HeaderSessionToken] = *pair.Current
	}

	env, err := c.do(ctx, "heartbeat", http.MethodPost, pathHeartbeat, struct{}{}, headers)
	if err != nil {
		c.logFailure(err)
		return Disconnected(ReasonUnreachable), nil
	}

	var data heartbeatData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			c.logFailure(&remoteError{op: "heartbeat", message: "malformed data: " + err.Error()})
			return Disconnected(ReasonUnreachable), nil
		}
	}
	if data.SessionToken == "" {
		c.logFailure(&remoteError{op: "heartbeat", message: "response carried no session token"})
		return Disconnected(ReasonUnreachable), nil
	}

	if err := c.tokens.Rotate(ctx, data.SessionToken); err != nil {
		return Disconnected(ReasonUnreachable), err
	}
	at := c.now()
	if err := c.ledger.MarkSuccess(ctx, at); err != nil {
		return Disconnected(ReasonUnreachable), err
	}

	c.logger.Info("heartbeat succeeded", "at", at.UTC().Format(time.RFC3339))
	return Connected(), nil
}

// baseHeaders returns the headers attached to every call.
func (c *Client) baseHeaders(ctx context.Context) (map[string]string, error) {
	instanceID, err := c.identity.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{HeaderInstanceID: instanceID}
	if c.secret != "" {
		headers[HeaderCoreSecret] = c.secret
	}
	return headers, nil
}

// do performs one request and validates the envelope. Every failure,
// including a panic in the transport, comes back as an error.
func (c *Client) do(ctx context.Context, op, method, path string, body any, headers map[string]string) (env *envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			env = nil
			err = &remoteError{op: op, message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	req := c.http.R().SetContext(ctx).SetHeaders(headers)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, &remoteError{op: op, message: "request failed: " + err.Error()}
	}

	if !resp.IsSuccess() {
		return nil, &remoteError{op: op, statusCode: resp.StatusCode(), message: truncate(resp.String(), 200)}
	}

	var out envelope
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &remoteError{op: op, statusCode: resp.StatusCode(), message: "malformed envelope: " + err.Error()}
	}
	if !out.OK {
		return nil, &remoteError{op: op, statusCode: resp.StatusCode(), message: "envelope not ok"}
	}
	return &out, nil
}

func (c *Client) logFailure(err error) {
	var re *remoteError
	if errors.As(err, &re) {
		c.logger.Warn("enhanced service unreachable", "op", re.op, "status", re.statusCode, "error", re.message)
		return
	}
	c.logger.Warn("enhanced service unreachable", "error", err)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// restyLogger routes resty's internal messages through slog.
type restyLogger struct {
	logger *slog.Logger
}

// Errorf logs at warn; resty reports ordinary transport failures here.
func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
