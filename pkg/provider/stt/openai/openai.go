// Package openai provides an STT provider backed by the OpenAI audio
// transcription API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/provider/stt"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL (useful for
// API-compatible gateways).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI STT Provider. model defaults to whisper-1
// when empty.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = string(oai.AudioModelWhisper1)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "openai-stt" }

// Close implements stt.Provider.
func (p *Provider) Close() error { return nil }

// Transcribe wraps the PCM in a WAV container and submits it to the
// transcription endpoint. The API does not report confidence for whole
// requests, so the result carries 1.0 per the stt.Provider contract.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	if len(req.PCM) == 0 {
		return types.Transcript{}, errors.New("openai: empty audio")
	}
	sr := req.SampleRate
	if sr <= 0 {
		sr = 16000
	}
	ch := req.Channels
	if ch <= 0 {
		ch = 1
	}

	wav := audio.EncodeWAV(req.PCM, sr, ch)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("openai: transcribe: %w", err)
	}

	return types.Transcript{
		Text:       resp.Text,
		Confidence: 1.0,
		Language:   req.Language,
		Duration:   audio.Duration(len(req.PCM), sr, ch),
	}, nil
}
