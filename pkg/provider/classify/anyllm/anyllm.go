// Package anyllm implements the transcript classifier on top of
// github.com/mozilla-ai/any-llm-go, a unified multi-provider LLM interface
// that supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq,
// and more.
//
// Usage:
//
//	c, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	tags, err := c.Classify(ctx, "turn left at the next intersection")
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voxbridge/voxbridge/pkg/provider/classify"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// Compile-time interface assertion.
var _ classify.Classifier = (*Classifier)(nil)

// systemPrompt instructs the model to answer with a single JSON object.
const systemPrompt = `You label transcribed speech. Reply with exactly one JSON object:
{"language":"<BCP-47 code>","topic":"<topic in at most 4 words>","confidence":<0..1>}
No prose, no markdown fences.`

// Classifier implements classify.Classifier by wrapping any-llm-go.
type Classifier struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Classifier backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". opts are
// any-llm-go configuration options (e.g. anyllmlib.WithAPIKey). If no API
// key option is provided, the backend falls back to the relevant
// environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, etc.).
func New(providerName, model string, opts ...anyllmlib.Option) (*Classifier, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Classifier{backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Name implements classify.Classifier.
func (c *Classifier) Name() string { return "anyllm" }

// Classify implements classify.Classifier.
func (c *Classifier) Classify(ctx context.Context, text string) (types.Classification, error) {
	if strings.TrimSpace(text) == "" {
		return types.Classification{}, fmt.Errorf("anyllm: empty text")
	}

	temp := 0.0
	params := anyllmlib.CompletionParams{
		Model: c.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: text},
		},
		Temperature: &temp,
	}

	resp, err := c.backend.Completion(ctx, params)
	if err != nil {
		return types.Classification{}, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.Classification{}, fmt.Errorf("anyllm: empty choices in response")
	}

	return parseResult(resp.Choices[0].Message.ContentString())
}

// parseResult extracts the JSON object from a model reply, tolerating stray
// text around it.
func parseResult(content string) (types.Classification, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return types.Classification{}, fmt.Errorf("anyllm: no JSON object in reply %q", content)
	}

	var out struct {
		Language   string  `json:"language"`
		Topic      string  `json:"topic"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return types.Classification{}, fmt.Errorf("anyllm: parse reply: %w", err)
	}

	return types.Classification{
		Language:   out.Language,
		Topic:      out.Topic,
		Confidence: out.Confidence,
	}, nil
}
