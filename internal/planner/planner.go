// Package planner holds the patch planner capability: given the context of a
// failed step, a planner proposes a recipe patch. Implementations cover a
// remote authoring service over HTTP and LLM-backed planners; a factory picks
// among them with per-planner circuit breakers.
package planner

import (
	"context"
	"fmt"

	"github.com/kairi-dev/kairi/internal/patch"
)

// ErrDisabled is returned when patch planning is disabled via configuration.
var ErrDisabled = fmt.Errorf("patch planning is disabled via configuration")

// Request carries the failure context a planner needs to propose a patch.
type Request struct {
	RequestID        string `json:"requestId"`
	StepID           string `json:"stepId"`
	ErrorType        string `json:"errorType"`
	URL              string `json:"url"`
	Title            string `json:"title,omitempty"`
	FailedSelector   string `json:"failedSelector,omitempty"`
	FailedAction     string `json:"failedAction,omitempty"`
	DOMSnippet       string `json:"domSnippet,omitempty"`
	ScreenshotBase64 string `json:"screenshotBase64,omitempty"`
}

// Usage reports token consumption for one planning call. HTTP planners
// report zero usage.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Response is a proposed patch plus the cost of producing it.
type Response struct {
	Payload patch.Payload `json:"payload"`
	Usage   Usage         `json:"usage"`
}

// Planner proposes recipe patches for failed steps.
type Planner interface {
	// Name returns the planner identifier used in config and logs.
	Name() string

	// PlanPatch proposes a patch for the failure described by req. The
	// caller bounds the call with a context deadline from its budget.
	PlanPatch(ctx context.Context, req *Request) (*Response, error)
}
