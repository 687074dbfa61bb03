package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"

	"github.com/elum-utils/gatekeeper/models"
)

// GeminiAdapter generates through the Gemini API. The client and model are
// built once and only read afterwards, so Generate is safe for concurrent use.
type GeminiAdapter struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// GeminiOptions configures adapter.
type GeminiOptions struct {
	APIKey string
	Model  string
	// Endpoint overrides the API endpoint, mostly for proxies.
	Endpoint string
}

// NewGeminiAdapter creates adapter instance. Close releases the client.
func NewGeminiAdapter(ctx context.Context, opt GeminiOptions) (*GeminiAdapter, error) {
	if strings.TrimSpace(opt.APIKey) == "" {
		return nil, errors.New("ai: API key is required")
	}
	if strings.TrimSpace(opt.Model) == "" {
		opt.Model = "gemini-2.5-flash"
	}
	opts := []option.ClientOption{option.WithAPIKey(opt.APIKey)}
	if strings.TrimSpace(opt.Endpoint) != "" {
		opts = append(opts, option.WithEndpoint(opt.Endpoint))
	}
	cl, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	m := cl.GenerativeModel(opt.Model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	// The classifier must read harmful text to score it.
	m.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
	}
	return &GeminiAdapter{client: cl, model: m}, nil
}

func (g *GeminiAdapter) Name() string { return "gemini" }

// Close releases the underlying client.
func (g *GeminiAdapter) Close() error { return g.client.Close() }

// Generate sends prompt and returns the concatenated text of the first
// candidate.
func (g *GeminiAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return blockedVerdict(blocked), nil
		}
		return "", &models.ClassifierUnavailableError{Provider: g.Name(), StatusCode: httpCode(err), Err: err}
	}
	txt := firstText(resp)
	if txt == "" {
		return "", &models.ClassifierUnavailableError{Provider: g.Name(), Err: errors.New("ai: empty response")}
	}
	return txt, nil
}

// blockedVerdict turns a provider-side safety block into an offensive verdict;
// the provider refused the text itself, which is the strongest signal there is.
func blockedVerdict(err *genai.BlockedError) string {
	out, _ := json.Marshal(map[string]any{
		"overall_classification": models.ClassificationOffensive,
		"overall_score":          100,
		"justification":          "blocked by provider safety filter: " + err.Error(),
		"dimensions":             map[string]any{},
	})
	return string(out)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}

func httpCode(err error) int {
	if ae, ok := apierror.FromError(err); ok {
		if code := ae.HTTPCode(); code > 0 {
			return code
		}
	}
	return 0
}

func ptrFloat32(v float32) *float32 { return &v }
