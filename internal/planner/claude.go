package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kairi-dev/kairi/internal/patch"
)

// ClaudeModel is the Claude model used for patch planning.
const ClaudeModel = "claude-sonnet-4-5"

const plannerSystemPrompt = `You repair web-automation recipes. Given a failed step's context,
respond with a single JSON object: {"patch": [...], "reason": "..."}.
Each patch op is one of actions.add, actions.replace, selectors.add,
selectors.replace, workflow.update_expect, policies.update, with a "key"
(or "step" for workflow.update_expect) and a "value". Prefer the smallest
patch that fixes the failure. Respond with JSON only.`

// ClaudePlanner implements Planner using the Anthropic API.
type ClaudePlanner struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudePlanner creates a planner using ANTHROPIC_API_KEY from environment.
// Returns an error if the API key is not set.
func NewClaudePlanner() (*ClaudePlanner, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}

	return &ClaudePlanner{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(ClaudeModel),
	}, nil
}

// Name returns the planner identifier.
func (p *ClaudePlanner) Name() string {
	return "claude"
}

// PlanPatch sends the failure context to Claude and parses the proposed
// patch from the response.
func (p *ClaudePlanner) PlanPatch(ctx context.Context, req *Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: plannerSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(formatRequest(req))),
		},
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += variant.Text
		}
	}

	payload, err := parsePayload(text)
	if err != nil {
		return nil, err
	}
	return &Response{
		Payload: *payload,
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// formatRequest renders the failure context as the user prompt.
func formatRequest(req *Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %q failed with %s at %s.\n", req.StepID, req.ErrorType, req.URL)
	if req.Title != "" {
		fmt.Fprintf(&b, "Page title: %s\n", req.Title)
	}
	if req.FailedSelector != "" {
		fmt.Fprintf(&b, "Failed selector: %s\n", req.FailedSelector)
	}
	if req.FailedAction != "" {
		fmt.Fprintf(&b, "Failed action: %s\n", req.FailedAction)
	}
	if req.DOMSnippet != "" {
		fmt.Fprintf(&b, "DOM snippet:\n%s\n", req.DOMSnippet)
	}
	b.WriteString("Propose a patch.")
	return b.String()
}

// parsePayload extracts the patch JSON from a model response, tolerating
// markdown fences around the object.
func parsePayload(text string) (*patch.Payload, error) {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start > 0 {
		text = text[start:]
	}
	if end := strings.LastIndex(text, "}"); end >= 0 {
		text = text[:end+1]
	}

	var payload patch.Payload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("planner returned unparseable patch: %w", err)
	}
	if len(payload.Patch) == 0 {
		return nil, fmt.Errorf("planner returned an empty patch")
	}
	return &payload, nil
}
