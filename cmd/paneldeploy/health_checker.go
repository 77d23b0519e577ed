package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AleutianAI/PanelDeploy/pkg/logging"
)

// =============================================================================
// INTERFACES
// =============================================================================

// HealthHTTPClient abstracts the HTTP client for health checks,
// enabling mocking in unit tests. *http.Client satisfies it.
type HealthHTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// defaultHealthEndpoints is the fixed, ordered endpoint list: liveness,
// database connectivity, GitHub API connectivity. Order matters: the
// verifier is fail-fast and never polls past the first failure.
var defaultHealthEndpoints = []string{"/health", "/health/db", "/health/github"}

// DefaultHealthRetryPolicy returns the per-endpoint retry budget:
// five attempts with 2s, 4s, 8s, 16s between them.
func DefaultHealthRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, Multiplier: 2.0}
}

// healthBodyLimit caps how much of a response body is read.
const healthBodyLimit = 64 * 1024

// =============================================================================
// VERIFIER
// =============================================================================

// HealthVerifier polls the deployed application's health endpoints
// until all report healthy or the retry budget is exhausted.
//
// # Description
//
// Endpoints are checked strictly in order. Each endpoint gets its own
// retry budget; once any endpoint exhausts its budget the verifier
// fails immediately with that endpoint's identity and does not poll the
// rest. A poll succeeds only if the HTTP call completes, returns 2xx,
// and the JSON body reports status "healthy". The deployed backend
// returns 503 with {"status":"unhealthy",...} when a dependency is down.
type HealthVerifier struct {
	client    HealthHTTPClient
	baseURL   string
	endpoints []string
	policy    RetryPolicy
	engine    *RetryEngine
	log       *logging.Logger
}

// NewHealthVerifier creates a verifier against baseURL using a real
// HTTP client and wall-clock backoff.
func NewHealthVerifier(baseURL string, log *logging.Logger) *HealthVerifier {
	return NewHealthVerifierWithClient(
		baseURL,
		&http.Client{Timeout: 10 * time.Second},
		NewRetryEngine(),
		log,
	)
}

// NewHealthVerifierWithClient creates a verifier with injected HTTP
// client and retry engine. Test use.
func NewHealthVerifierWithClient(baseURL string, client HealthHTTPClient, engine *RetryEngine, log *logging.Logger) *HealthVerifier {
	return &HealthVerifier{
		client:    client,
		baseURL:   baseURL,
		endpoints: defaultHealthEndpoints,
		policy:    DefaultHealthRetryPolicy(),
		engine:    engine,
		log:       log,
	}
}

// VerifyAll polls every endpoint in order.
//
// Returns nil when all endpoints report healthy, or a *HealthCheckError
// identifying the first endpoint whose budget was exhausted.
func (v *HealthVerifier) VerifyAll(ctx context.Context) error {
	for _, endpoint := range v.endpoints {
		result, err := v.engine.Retry(ctx, v.policy, func(ctx context.Context, attempt int) error {
			if attempt > 1 {
				v.log.Warn("health check retry", "endpoint", endpoint, "attempt", attempt)
			}
			return v.poll(ctx, endpoint)
		})
		if err != nil {
			return &HealthCheckError{Endpoint: endpoint, Attempts: result.Attempts, Err: err}
		}
		v.log.Info("endpoint healthy", "endpoint", endpoint, "attempts", result.Attempts)
	}
	return nil
}

// healthBody is the minimal shape shared by all three endpoints.
type healthBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// poll performs a single health check against one endpoint.
func (v *HealthVerifier) poll(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, healthBodyLimit))
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, summarizeHealthBody(body))
	}

	var parsed healthBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("malformed health body: %w", err)
	}
	if parsed.Status != "healthy" {
		return fmt.Errorf("status %q", parsed.Status)
	}
	return nil
}

// summarizeHealthBody extracts the error field from an unhealthy
// response, falling back to the status field.
func summarizeHealthBody(body []byte) string {
	var parsed healthBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "unparseable body"
	}
	if parsed.Error != "" {
		return parsed.Error
	}
	if parsed.Status != "" {
		return parsed.Status
	}
	return "empty body"
}
