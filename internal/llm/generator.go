// Package llm streams answers from a generative model.
package llm

import (
	"context"
	"fmt"
	"iter"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/fyrsmithlabs/ragcache/internal/config"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Providers.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

var tracer = otel.Tracer("ragcache.llm")

// Roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role string
	Text string
}

// Request is one generation: a system instruction and the conversation,
// ending with the user's question.
type Request struct {
	System   string
	Messages []Message
}

// UserPrompt builds a single-turn request.
func UserPrompt(system, prompt string) Request {
	return Request{System: system, Messages: []Message{{Role: RoleUser, Text: prompt}}}
}

// Generator streams answer text. The sequence yields text deltas in order;
// a non-nil error ends it.
type Generator interface {
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Config configures a Generator.
type Config struct {
	Provider    string
	Model       string
	APIKey      config.Secret
	MaxTokens   int
	Temperature float64
}

// FromSettings converts the llm configuration section.
func FromSettings(s config.LLMConfig) Config {
	return Config{
		Provider:    s.Provider,
		Model:       s.Model,
		APIKey:      s.APIKey,
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
	}
}

// New creates the Generator named by cfg.Provider. A missing API key is
// backend.ErrConfigMissing.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.APIKey.IsSet() {
		return nil, backend.Missing("llm.api_key")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}

	switch cfg.Provider {
	case ProviderGemini, "":
		return NewGemini(ctx, cfg, "", logger)
	case ProviderAnthropic:
		return NewAnthropic(cfg, "", logger), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (supported: gemini, anthropic)", cfg.Provider)
	}
}

// Unavailable returns a Generator whose every stream yields err. serve
// uses it when the generator cannot be configured, so the failure is
// reported per request instead of at startup.
func Unavailable(err error) Generator {
	return unavailable{err: err}
}

type unavailable struct {
	err error
}

func (u unavailable) Stream(context.Context, Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", u.err)
	}
}

// Collect drains a stream into a single string.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var out []byte
	for delta, err := range seq {
		if err != nil {
			return string(out), err
		}
		out = append(out, delta...)
	}
	return string(out), nil
}
