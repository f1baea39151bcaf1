// Package gateway terminates client transports: a small REST surface for
// session lifecycle and one WebSocket per session for streaming audio and
// synthesis traffic.
package gateway

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voxbridge/voxbridge/internal/session"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// Frame is the envelope for every streaming message in both directions.
// Binary payloads travel hex-encoded so the framing stays text-based.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client → server frame types.
const (
	FrameAudioChunk  = "audio_chunk"
	FrameTextRequest = "text_request"
	FrameControl     = "control"
)

// Server → client frame types.
const (
	FrameConnectionEstablished = "connection_established"
	FrameTranscription         = "transcription"
	FrameTranscriptTags        = "transcript_tags"
	FrameAudioResponse         = "audio_response"
	FrameChunkReceived         = "chunk_received"
	FrameTTSQueued             = "tts_queued"
	FrameStatsResponse         = "stats_response"
	FrameResetComplete         = "reset_complete"
	FramePong                  = "pong"
	FrameError                 = "error"
)

// Control commands.
const (
	CommandPing  = "ping"
	CommandStats = "stats"
	CommandReset = "reset"
)

type audioChunkPayload struct {
	AudioData  string `json:"audio_data"`
	IsFinal    bool   `json:"is_final"`
	ChunkIndex uint64 `json:"chunk_index"`

	// Format is the payload encoding: "pcm16le" (default) or "opus".
	Format string `json:"format,omitempty"`
}

type textRequestPayload struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type controlPayload struct {
	Command string `json:"command"`
}

type connectionEstablishedPayload struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
}

type transcriptionPayload struct {
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
	StartOffset float64   `json:"start_offset"`
	EndOffset   float64   `json:"end_offset"`
	IsFinal     bool      `json:"is_final"`
	Timestamp   time.Time `json:"timestamp"`
}

type transcriptTagsPayload struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Topic      string  `json:"topic"`
	Confidence float64 `json:"confidence"`
}

type audioResponsePayload struct {
	AudioData  string `json:"audio_data"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

type chunkReceivedPayload struct {
	ChunkIndex uint64 `json:"chunk_index"`
	Size       int    `json:"size"`
	IsFinal    bool   `json:"is_final"`
}

type ttsQueuedPayload struct {
	Text string `json:"text"`
}

type errorPayload struct {
	Message string          `json:"message"`
	Kind    types.ErrorKind `json:"kind"`
}

// newFrame builds a tagged frame with the payload marshalled into Data.
func newFrame(frameType string, payload any) (Frame, error) {
	f := Frame{Type: frameType, Timestamp: time.Now()}
	if payload == nil {
		return f, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("gateway: marshal %s payload: %w", frameType, err)
	}
	f.Data = data
	return f, nil
}

// errorFrame builds an error frame from any classified error.
func errorFrame(err error) Frame {
	f, _ := newFrame(FrameError, errorPayload{
		Message: err.Error(),
		Kind:    types.KindOf(err),
	})
	return f
}

// frameFromEvent translates a session event into its protocol frame.
func frameFromEvent(ev session.Event) (Frame, error) {
	switch ev := ev.(type) {
	case session.ChunkReceivedEvent:
		return newFrame(FrameChunkReceived, chunkReceivedPayload{
			ChunkIndex: ev.Index,
			Size:       ev.Size,
			IsFinal:    ev.Final,
		})
	case session.TranscriptionEvent:
		return newFrame(FrameTranscription, transcriptionPayload{
			Text:        ev.Entry.Text,
			Confidence:  ev.Entry.Confidence,
			StartOffset: ev.Entry.StartOffset.Seconds(),
			EndOffset:   ev.Entry.EndOffset.Seconds(),
			IsFinal:     ev.Entry.IsFinal,
			Timestamp:   ev.Entry.Timestamp,
		})
	case session.TranscriptTagsEvent:
		return newFrame(FrameTranscriptTags, transcriptTagsPayload{
			Text:       ev.Text,
			Language:   ev.Tags.Language,
			Topic:      ev.Tags.Topic,
			Confidence: ev.Tags.Confidence,
		})
	case session.TTSQueuedEvent:
		return newFrame(FrameTTSQueued, ttsQueuedPayload{Text: ev.Text})
	case session.AudioResponseEvent:
		return newFrame(FrameAudioResponse, audioResponsePayload{
			AudioData:  hex.EncodeToString(ev.Result.Audio),
			Format:     ev.Result.Format,
			SampleRate: ev.Result.SampleRate,
		})
	case session.ResetCompleteEvent:
		return newFrame(FrameResetComplete, nil)
	case session.ErrorEvent:
		return errorFrame(ev.Err), nil
	default:
		return Frame{}, fmt.Errorf("gateway: unhandled session event %T", ev)
	}
}
