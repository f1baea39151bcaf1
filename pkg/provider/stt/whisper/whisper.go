// Package whisper provides whisper.cpp-backed STT providers.
//
// Two variants exist:
//
//   - Provider connects to a running whisper-server binary (REST API at
//     POST /inference) and performs one batch inference per segment.
//   - NativeProvider (native.go) loads the model in-process through the
//     whisper.cpp CGO bindings, eliminating HTTP overhead entirely.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	t, err := p.Transcribe(ctx, stt.Request{PCM: pcm, SampleRate: 16000, Channels: 1})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/provider/stt"
	"github.com/voxbridge/voxbridge/pkg/types"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g. "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code sent to the whisper.cpp server
// when the request does not carry one. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP
// server. Safe for concurrent use; each Transcribe call is an independent
// HTTP request.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g. "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "whisper-http" }

// Close implements stt.Provider. The HTTP client holds no resources that
// outlive idle connections.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// Transcribe encodes the segment as WAV and POSTs it to the whisper.cpp
// /inference endpoint as multipart/form-data. The verbose JSON response
// carries per-segment avg_logprob values which are mapped to a [0,1]
// confidence.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	if len(req.PCM) == 0 {
		return types.Transcript{}, errors.New("whisper: empty audio")
	}
	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := req.Channels
	if ch <= 0 {
		ch = 1
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	wav := audio.EncodeWAV(req.PCM, sr, ch)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return types.Transcript{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return types.Transcript{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
		Segments []struct {
			Text       string  `json:"text"`
			AvgLogprob float64 `json:"avg_logprob"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	t := types.Transcript{
		Text:       strings.TrimSpace(result.Text),
		Confidence: confidenceFromSegments(result.Segments),
		Language:   result.Language,
		Duration:   audio.Duration(len(req.PCM), sr, ch),
	}
	if t.Language == "" {
		t.Language = lang
	}
	return t, nil
}

// confidenceFromSegments averages the per-segment avg_logprob values and
// maps the result into [0,1] via clamp((lp+1)/2). Servers that omit segment
// detail get a confidence of 1.0 so downstream commit thresholds still work.
func confidenceFromSegments(segments []struct {
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}) float64 {
	if len(segments) == 0 {
		return 1.0
	}
	var sum float64
	for _, s := range segments {
		sum += s.AvgLogprob
	}
	return LogprobConfidence(sum / float64(len(segments)))
}

// LogprobConfidence maps a whisper average log-probability into a [0,1]
// confidence score: clamp((lp+1)/2, 0, 1).
func LogprobConfidence(lp float64) float64 {
	c := (lp + 1) / 2
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
