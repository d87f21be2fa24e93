package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	DefaultTimeout   = 15 * time.Second
	maxResponseBytes = 1 << 20
)

var (
	// ErrInvalidClientConfig indicates a missing base URL or a non-positive timeout.
	ErrInvalidClientConfig = errors.New("invalid lookup client config")
	// ErrUpstreamStatus indicates the provider answered with a non-200 status.
	ErrUpstreamStatus = errors.New("lookup provider returned unexpected status")
	// ErrInvalidPayload indicates the provider answered 200 with a body that is not JSON.
	ErrInvalidPayload = errors.New("lookup provider returned invalid payload")
)

// Result is the raw provider answer for one identifier.
type Result struct {
	Identifier string
	Payload    jsoniter.RawMessage
}

// Client fetches vehicle data from the lookup provider.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithLogger sets the logger used for failed lookups.
func WithLogger(logger *zap.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// NewClient builds a Client that requests baseURL followed by the identifier.
func NewClient(baseURL string, timeout time.Duration, options ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: base url is empty", ErrInvalidClientConfig)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidClientConfig)
	}
	client := &Client{
		baseURL:    trimmed,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

// Fetch validates identifier and returns the provider's JSON payload unparsed.
func (client *Client) Fetch(ctx context.Context, identifier string) (Result, error) {
	normalized, err := NormalizeIdentifier(identifier)
	if err != nil {
		return Result{}, err
	}
	requestCtx, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, client.baseURL+normalized, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build lookup request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.httpClient.Do(request)
	if err != nil {
		client.logger.Warn("lookup request failed", zap.String("identifier", normalized), zap.Error(err))
		return Result{}, fmt.Errorf("lookup request: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read lookup response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		client.logger.Warn("lookup provider status", zap.String("identifier", normalized), zap.Int("status", response.StatusCode))
		return Result{}, fmt.Errorf("%w: %d", ErrUpstreamStatus, response.StatusCode)
	}
	if !jsoniter.Valid(body) {
		client.logger.Warn("lookup provider payload is not json", zap.String("identifier", normalized), zap.Int("bytes", len(body)))
		return Result{}, ErrInvalidPayload
	}
	return Result{Identifier: normalized, Payload: jsoniter.RawMessage(body)}, nil
}
