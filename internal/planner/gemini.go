package planner

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiModel is the Gemini model used for patch planning.
const GeminiModel = "gemini-2.0-flash"

// GeminiPlanner implements Planner using the Google AI API.
type GeminiPlanner struct {
	client *genai.Client
	model  string
}

// NewGeminiPlanner creates a planner using GOOGLE_API_KEY (or GEMINI_API_KEY).
// Returns an error if the API key is not set.
func NewGeminiPlanner(ctx context.Context) (*GeminiPlanner, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY (or GEMINI_API_KEY) environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiPlanner{
		client: client,
		model:  GeminiModel,
	}, nil
}

// Name returns the planner identifier.
func (p *GeminiPlanner) Name() string {
	return "gemini"
}

// PlanPatch sends the failure context to Gemini and parses the proposed
// patch from the response.
func (p *GeminiPlanner) PlanPatch(ctx context.Context, req *Request) (*Response, error) {
	model := p.client.GenerativeModel(p.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(plannerSystemPrompt)},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(formatRequest(req)))
	if err != nil {
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	payload, err := parsePayload(text.String())
	if err != nil {
		return nil, err
	}

	out := &Response{Payload: *payload}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// Close releases the Gemini client resources.
func (p *GeminiPlanner) Close() error {
	return p.client.Close()
}
