package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/kairi-dev/kairi/internal/config"
)

// HTTPPlanner talks to a remote authoring service that answers patch
// requests with `{patch, reason}` JSON.
type HTTPPlanner struct {
	url    string
	client *http.Client
}

// NewHTTPPlanner creates a planner for the authoring service at url. The
// client timeout is a transport safety net; per-request budgets come from
// the caller's context.
func NewHTTPPlanner(url string, timeout time.Duration) *HTTPPlanner {
	if timeout <= 0 {
		timeout = config.DefaultPlannerTimeout
	}
	return &HTTPPlanner{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// NewHTTPPlannerFromEnv creates an HTTP planner from KAIRI_PLANNER_URL.
// Returns an error if the variable is not set.
func NewHTTPPlannerFromEnv() (*HTTPPlanner, error) {
	url := os.Getenv(config.EnvPlannerURL)
	if url == "" {
		return nil, fmt.Errorf("%s environment variable not set", config.EnvPlannerURL)
	}
	return NewHTTPPlanner(url, config.GetPlannerTimeout()), nil
}

// Name returns the planner identifier.
func (p *HTTPPlanner) Name() string {
	return "authoring-service"
}

// PlanPatch posts the failure context and decodes the proposed patch.
func (p *HTTPPlanner) PlanPatch(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build patch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("authoring service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a little of the body for the error message.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("authoring service returned %d: %s", resp.StatusCode, snippet)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode authoring response: %w", err)
	}
	if len(out.Payload.Patch) == 0 {
		return nil, fmt.Errorf("authoring service returned an empty patch")
	}
	return &out, nil
}
