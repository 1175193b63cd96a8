package llm

import (
	"context"
	"iter"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/fyrsmithlabs/ragcache/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AnthropicGenerator streams from the Anthropic Messages API.
type AnthropicGenerator struct {
	client anthropic.Client
	cfg    Config
	logger *zap.Logger
}

// NewAnthropic creates an Anthropic client. baseURL overrides the API
// endpoint when non-empty. The SDK's own retries are disabled.
func NewAnthropic(cfg Config, baseURL string, logger *zap.Logger) *AnthropicGenerator {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey.Value()),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	logger.Info("anthropic generator initialized",
		zap.String("model", cfg.Model),
		zap.Int("max_tokens", cfg.MaxTokens),
	)
	return &AnthropicGenerator{client: anthropic.NewClient(opts...), cfg: cfg, logger: logger}
}

// Stream implements Generator.
func (g *AnthropicGenerator) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := tracer.Start(ctx, "llm.anthropic.Stream")
		defer span.End()
		span.SetAttributes(attribute.String("llm.model", g.cfg.Model))

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(g.cfg.Model),
			MaxTokens: int64(g.cfg.MaxTokens),
			Messages:  anthropicMessages(req.Messages),
		}
		if g.cfg.Temperature > 0 {
			params.Temperature = anthropic.Float(g.cfg.Temperature)
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.System}}
		}

		start := time.Now()
		stream := g.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		var chars int
		for stream.Next() {
			event, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := event.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			chars += len(delta.Text)
			if !yield(delta.Text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			err = backend.Classify("anthropic stream", err)
			telemetry.RecordError(span, err)
			yield("", err)
			return
		}

		span.SetAttributes(attribute.Int("llm.response_chars", chars))
		g.logger.Debug("anthropic stream complete",
			zap.Int("chars", chars),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func anthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Text == "" {
			continue
		}
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
			continue
		}
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
	}
	return out
}

var _ Generator = (*AnthropicGenerator)(nil)
