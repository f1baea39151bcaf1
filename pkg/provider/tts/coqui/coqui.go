// Package coqui provides a TTS provider backed by a locally-running Coqui
// TTS server.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts
//     with URL query parameters.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is
//     performed via POST /tts_to_audio/ with a JSON body.
//
// Both servers return a WAV file per utterance; the provider unwraps the
// container and hands back raw PCM.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/provider/tts"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 15 * time.Second

	apiTTSEndpoint = "/api/tts"
	xttsEndpoint   = "/tts_to_audio/"
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"

	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code used when a request does not carry
// one. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 15 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode sets the server API mode. Use APIModeStandard (default) for
// the standard Coqui TTS Docker image or APIModeXTTS for the XTTS v2 API
// server.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithDefaultVoice sets the speaker id used when a request does not carry a
// voice.
func WithDefaultVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// Provider implements tts.Provider backed by a Coqui TTS server. Safe for
// concurrent use; each Synthesize call is an independent HTTP request.
type Provider struct {
	serverURL  string
	language   string
	voice      string
	apiMode    APIMode
	httpClient *http.Client
}

// New creates a Provider targeting the Coqui server at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "coqui" }

// Close implements tts.Provider.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// Synthesize performs one batch synthesis call and returns the PCM payload
// extracted from the server's WAV response.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (types.SynthesisResult, error) {
	if req.Text == "" {
		return types.SynthesisResult{}, errors.New("coqui: empty text")
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	var (
		wav []byte
		err error
	)
	switch p.apiMode {
	case APIModeXTTS:
		wav, err = p.synthesizeXTTS(ctx, req.Text, lang, voice)
	default:
		wav, err = p.synthesizeStandard(ctx, req.Text, lang, voice)
	}
	if err != nil {
		return types.SynthesisResult{}, err
	}

	pcm, sampleRate, channels, err := audio.DecodeWAV(wav)
	if err != nil {
		return types.SynthesisResult{}, fmt.Errorf("coqui: decode response wav: %w", err)
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

// synthesizeStandard calls GET /api/tts with URL query parameters.
func (p *Provider) synthesizeStandard(ctx context.Context, text, lang, voice string) ([]byte, error) {
	q := url.Values{}
	q.Set("text", text)
	if voice != "" {
		q.Set("speaker_id", voice)
	}
	if lang != "" {
		q.Set("language_id", lang)
	}

	endpoint := p.serverURL + apiTTSEndpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	return p.doAudioRequest(req)
}

// synthesizeXTTS calls POST /tts_to_audio/ with a JSON body.
func (p *Provider) synthesizeXTTS(ctx context.Context, text, lang, voice string) ([]byte, error) {
	payload := map[string]string{
		"text":        text,
		"language":    lang,
		"speaker_wav": voice,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal request: %w", err)
	}

	endpoint := p.serverURL + xttsEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return p.doAudioRequest(req)
}

func (p *Provider) doAudioRequest(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read response body: %w", err)
	}
	return data, nil
}
