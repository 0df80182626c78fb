// Package pipeline sends JSON requests to the API with the stored bearer
// token and applies the global reaction to each response class: a 401 tears
// the session down, a 403 and a 5xx surface a notice.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"starterkit/internal/client/credstore"
	apperrors "starterkit/internal/errors"
)

// DefaultTimeout bounds every request unless WithTimeout overrides it.
const DefaultTimeout = 10 * time.Second

const (
	MsgSessionExpired = "Session expired. Please login again."
	MsgForbidden      = "You do not have permission to perform this action."
	MsgServerError    = "Server error. Please try again later."
)

// Outcome is the response class the pipeline reacts to.
type Outcome int

const (
	Success Outcome = iota
	Unauthorized
	Forbidden
	ServerError
	Other
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case ServerError:
		return "server_error"
	default:
		return "other"
	}
}

// Classify maps an HTTP status to an Outcome.
func Classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == http.StatusUnauthorized:
		return Unauthorized
	case status == http.StatusForbidden:
		return Forbidden
	case status >= 500:
		return ServerError
	default:
		return Other
	}
}

// Notifier surfaces user-facing notices.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Navigator moves the user to the login entry point.
type Navigator interface {
	ToLogin()
}

// APIError is any non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Message string
	Errors  []apperrors.FieldError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Outcome classifies the error's status.
func (e *APIError) Outcome() Outcome {
	return Classify(e.Status)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.notify = n }
}

func WithNavigator(n Navigator) Option {
	return func(c *Client) { c.nav = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// RequestOption adjusts a single call.
type RequestOption func(*requestConfig)

type requestConfig struct {
	skipRecovery bool
}

// WithoutSessionRecovery keeps a 401 local to the call. Credential
// submissions use it: a 401 there means bad credentials.
func WithoutSessionRecovery() RequestOption {
	return func(rc *requestConfig) { rc.skipRecovery = true }
}

// Client is the single outgoing path to the API.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	store   credstore.Store
	notify  Notifier
	nav     Navigator
	log     *slog.Logger

	mu        sync.RWMutex
	onExpired []func()
}

// New builds a pipeline against baseURL (for example http://localhost:5000/api).
func New(baseURL string, store credstore.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
		store:   store,
		notify:  nopNotifier{},
		nav:     nopNavigator{},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	return c
}

// Store exposes the credential store the pipeline reads from.
func (c *Client) Store() credstore.Store {
	return c.store
}

// Notifier exposes the configured notice sink.
func (c *Client) Notifier() Notifier {
	return c.notify
}

// OnSessionExpired registers fn to run after a 401 tore the session down.
func (c *Client) OnSessionExpired(fn func()) {
	c.mu.Lock()
	c.onExpired = append(c.onExpired, fn)
	c.mu.Unlock()
}

// Do sends body as JSON and decodes a 2xx response into out. out may be nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts ...RequestOption) error {
	var rc requestConfig
	for _, opt := range opts {
		opt(&rc)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	outcome := Classify(resp.StatusCode)
	c.log.DebugContext(ctx, "api response", "method", method, "path", path, "status", resp.StatusCode, "outcome", outcome.String())

	if outcome == Success {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return nil
	}

	apiErr := decodeError(resp)
	c.dispatch(outcome, rc)
	return apiErr
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Read on every call so a logout during an earlier request is honoured.
	token, err := c.store.Get()
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) dispatch(outcome Outcome, rc requestConfig) {
	switch outcome {
	case Unauthorized:
		if rc.skipRecovery {
			return
		}
		if err := c.store.Clear(); err != nil {
			c.log.Warn("clear credential store", "err", err)
		}
		c.nav.ToLogin()
		c.mu.RLock()
		hooks := append([]func(){}, c.onExpired...)
		c.mu.RUnlock()
		for _, fn := range hooks {
			fn()
		}
		c.notify.Error(MsgSessionExpired)
	case Forbidden:
		c.notify.Error(MsgForbidden)
	case ServerError:
		c.notify.Error(MsgServerError)
	}
}

func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	var env apperrors.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err == nil {
		apiErr.Message = env.Message
		apiErr.Errors = env.Errors
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

type nopNotifier struct{}

func (nopNotifier) Success(string) {}
func (nopNotifier) Error(string)   {}

type nopNavigator struct{}

func (nopNavigator) ToLogin() {}
