// Package openai provides a TTS provider backed by the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/provider/tts"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const defaultVoice = string(oai.AudioSpeechNewParamsVoiceAlloy)

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client oai.Client
	model  string
	voice  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
	voice   string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithVoice sets the voice used when a request does not carry one.
// Defaults to "alloy".
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// New constructs a new OpenAI TTS Provider. model defaults to tts-1 when
// empty.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = string(oai.SpeechModelTTS1)
	}

	cfg := &config{voice: defaultVoice}
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

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voice:  cfg.voice,
	}, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "openai-tts" }

// Close implements tts.Provider.
func (p *Provider) Close() error { return nil }

// Synthesize requests WAV output from the speech endpoint and returns the
// unwrapped PCM payload.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (types.SynthesisResult, error) {
	if req.Text == "" {
		return types.SynthesisResult{}, errors.New("openai: empty text")
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		Input:          req.Text,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return types.SynthesisResult{}, fmt.Errorf("openai: synthesize: %w", err)
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.SynthesisResult{}, fmt.Errorf("openai: read audio response: %w", err)
	}

	pcm, sampleRate, channels, err := audio.DecodeWAV(wav)
	if err != nil {
		return types.SynthesisResult{}, fmt.Errorf("openai: decode response wav: %w", err)
	}
	if channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}

	return types.SynthesisResult{
		Audio:      pcm,
		Format:     "pcm16le",
		SampleRate: sampleRate,
	}, nil
}
