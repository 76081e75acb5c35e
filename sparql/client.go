package sparql

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lblod/contact-data-dispatcher-service/errors"
	"github.com/lblod/contact-data-dispatcher-service/pkg/retry"
)

// Executor is the narrow query/update contract the dispatcher depends on.
// The remote store is opaque behind it.
type Executor interface {
	Select(ctx context.Context, query string) (*Results, error)
	Ask(ctx context.Context, query string) (bool, error)
	Update(ctx context.Context, update string) error
}

// Term represents a single RDF term in a SPARQL results binding
type Term struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Lang     string `json:"xml:lang,omitempty"`
}

// Binding maps variable names to their bound terms
type Binding map[string]Term

// Results holds a parsed application/sparql-results+json response
type Results struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []Binding `json:"bindings"`
	} `json:"results"`
	Boolean *bool `json:"boolean,omitempty"`
}

// Bindings returns the result rows
func (r *Results) Bindings() []Binding {
	return r.Results.Bindings
}

// Values collects the bound values of a variable across all rows,
// skipping rows where the variable is unbound
func (r *Results) Values(variable string) []string {
	values := make([]string, 0, len(r.Results.Bindings))
	for _, b := range r.Results.Bindings {
		if term, ok := b[variable]; ok {
			values = append(values, term.Value)
		}
	}
	return values
}

// First returns the first bound value of a variable, if any
func (r *Results) First(variable string) (string, bool) {
	for _, b := range r.Results.Bindings {
		if term, ok := b[variable]; ok {
			return term.Value, true
		}
	}
	return "", false
}

// Config contains configuration for the SPARQL client
type Config struct {
	// QueryEndpoint receives SELECT/ASK requests
	QueryEndpoint string
	// UpdateEndpoint receives updates; defaults to QueryEndpoint when empty
	UpdateEndpoint string
	// Timeout bounds a single HTTP round trip
	Timeout time.Duration
	// Retry controls backoff for transient transport failures
	Retry retry.Config
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig(endpoint string) Config {
	return Config{
		QueryEndpoint: endpoint,
		Timeout:       60 * time.Second,
		Retry:         retry.DefaultConfig(),
	}
}

// Client executes queries and updates against a SPARQL 1.1 protocol endpoint
type Client struct {
	queryEndpoint  string
	updateEndpoint string
	httpClient     *http.Client
	retryCfg       retry.Config
}

// NewClient creates a new SPARQL protocol client
func NewClient(cfg Config) (*Client, error) {
	if cfg.QueryEndpoint == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Client", "NewClient",
			"query endpoint is required")
	}

	updateEndpoint := cfg.UpdateEndpoint
	if updateEndpoint == "" {
		updateEndpoint = cfg.QueryEndpoint
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		queryEndpoint:  cfg.QueryEndpoint,
		updateEndpoint: updateEndpoint,
		httpClient:     &http.Client{Timeout: timeout},
		retryCfg:       cfg.Retry,
	}, nil
}

// Select executes a SELECT query and returns the parsed results
func (c *Client) Select(ctx context.Context, query string) (*Results, error) {
	body, err := c.request(ctx, c.queryEndpoint, "query", query)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "Select", "execute query")
	}

	var results Results
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrMalformedResults, err),
			"Client", "Select", "parse results")
	}

	return &results, nil
}

// Ask executes an ASK query and returns the boolean answer
func (c *Client) Ask(ctx context.Context, query string) (bool, error) {
	body, err := c.request(ctx, c.queryEndpoint, "query", query)
	if err != nil {
		return false, errors.Wrap(err, "Client", "Ask", "execute query")
	}

	var results Results
	if err := json.Unmarshal(body, &results); err != nil {
		return false, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrMalformedResults, err),
			"Client", "Ask", "parse results")
	}
	if results.Boolean == nil {
		return false, errors.WrapInvalid(errors.ErrMalformedResults,
			"Client", "Ask", "missing boolean field")
	}

	return *results.Boolean, nil
}

// Update executes a SPARQL update
func (c *Client) Update(ctx context.Context, update string) error {
	if _, err := c.request(ctx, c.updateEndpoint, "update", update); err != nil {
		return errors.Wrap(err, "Client", "Update", "execute update")
	}
	return nil
}

// request performs one form-encoded protocol request with retry on
// transient failures. 4xx responses are not retried: they indicate a
// malformed query (typically a broken rule pattern) and will not heal.
func (c *Client) request(ctx context.Context, endpoint, field, text string) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() ([]byte, error) {
		form := url.Values{field: []string{text}}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
			strings.NewReader(form.Encode()))
		if err != nil {
			return nil, retry.NonRetryable(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/sparql-results+json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errors.WrapTransient(err, "Client", "request", "http round trip")
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.WrapTransient(err, "Client", "request", "read response")
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, retry.NonRetryable(errors.WrapInvalid(
				fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, truncate(body, 512)),
				"Client", "request", "query rejected"))
		default:
			return nil, errors.WrapTransient(
				fmt.Errorf("%w: endpoint returned %d", errors.ErrStoreUnavailable, resp.StatusCode),
				"Client", "request", "server error")
		}
	})
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
