package llm

import (
	"context"
	"iter"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/fyrsmithlabs/ragcache/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiGenerator streams from the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	cfg    Config
	logger *zap.Logger
}

// NewGemini creates a Gemini client. baseURL overrides the API endpoint
// when non-empty.
func NewGemini(ctx context.Context, cfg Config, baseURL string, logger *zap.Logger) (*GeminiGenerator, error) {
	if !cfg.APIKey.IsSet() {
		return nil, backend.Missing("llm.api_key")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey.Value(),
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, backend.Classify("creating genai client", err)
	}

	logger.Info("gemini generator initialized",
		zap.String("model", cfg.Model),
		zap.Int("max_tokens", cfg.MaxTokens),
	)
	return &GeminiGenerator{client: client, cfg: cfg, logger: logger}, nil
}

// Stream implements Generator.
func (g *GeminiGenerator) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := tracer.Start(ctx, "llm.gemini.Stream")
		defer span.End()
		span.SetAttributes(attribute.String("llm.model", g.cfg.Model))

		gc := &genai.GenerateContentConfig{
			Temperature: genai.Ptr(float32(g.cfg.Temperature)),
		}
		if g.cfg.MaxTokens > 0 {
			gc.MaxOutputTokens = int32(g.cfg.MaxTokens)
		}
		if req.System != "" {
			gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
		}
		contents := geminiContents(req.Messages)

		start := time.Now()
		var chars int
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.cfg.Model, contents, gc) {
			if err != nil {
				err = backend.Classify("gemini stream", err)
				telemetry.RecordError(span, err)
				yield("", err)
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			chars += len(text)
			if !yield(text, nil) {
				return
			}
		}

		span.SetAttributes(attribute.Int("llm.response_chars", chars))
		g.logger.Debug("gemini stream complete",
			zap.Int("chars", chars),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func geminiContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		if m.Text == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	return contents
}

var _ Generator = (*GeminiGenerator)(nil)
