package decision

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini-backed decision model.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	// RequestsPerSecond limits calls across all sessions sharing the model. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// GeminiModel asks a Gemini vision model for the next action.
type GeminiModel struct {
	client  *genai.Client
	cfg     GeminiConfig
	limiter *rate.Limiter
}

// NewGeminiModel creates a Gemini model client.
func NewGeminiModel(ctx context.Context, cfg GeminiConfig) (*GeminiModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model name is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	m := &GeminiModel{client: client, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return m, nil
}

// Generate sends the screenshot and context and returns the raw reply text.
func (m *GeminiModel) Generate(ctx context.Context, req Request) (string, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	parts := []*genai.Part{genai.NewPartFromText(UserPrompt(req))}
	if len(req.Screenshot) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Screenshot, imageMIME(req.Screenshot)))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(m.cfg.Temperature),
		ResponseMIMEType:  "application/json",
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.cfg.Model, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from %s", m.cfg.Model)
	}
	return text, nil
}

func imageMIME(data []byte) string {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/png"
}
