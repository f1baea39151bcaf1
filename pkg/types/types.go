// Package types defines the shared types used across all VoxBridge packages.
//
// These types form the lingua franca between the gateway, the session layer,
// and the capability providers. They are intentionally minimal — each package
// defines its own domain types, but cross-cutting data structures live here to
// avoid circular imports.
package types

import "time"

// AudioChunk is a single bounded unit of raw audio received from a client.
// Chunks are immutable once constructed and carry a strictly increasing
// sequence index within their session.
type AudioChunk struct {
	// Data is the raw audio payload, 16-bit little-endian signed PCM unless
	// the session negotiated another format.
	Data []byte

	// Index is the zero-based sequence position of this chunk within the
	// session's audio stream.
	Index uint64

	// ReceivedAt marks when the chunk arrived at the gateway.
	ReceivedAt time.Time

	// IsFinal marks the last chunk of an utterance. A final chunk forces the
	// buffer to flush regardless of accumulated duration.
	IsFinal bool
}

// Segment is a buffer-assembled span of audio ready for transcription: the
// carried-over tail of the previous segment plus newly accumulated chunks.
type Segment struct {
	// Data is the contiguous PCM audio for this segment, overlap included.
	Data []byte

	// OverlapBytes is the length of the leading region carried over from the
	// previous segment's tail. Zero for the first segment.
	OverlapBytes int

	// StartOffset is the stream position of the first non-overlap byte,
	// expressed as audio time from the start of the session.
	StartOffset time.Duration

	// EndOffset is the stream position just past the last byte.
	EndOffset time.Duration

	// Final indicates the segment was flushed because a final chunk arrived.
	Final bool
}

// Transcript is the result of transcribing one audio segment.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Providers that
	// report log-probabilities map them into this range.
	Confidence float64

	// Language is the detected or requested BCP-47 language code.
	Language string

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// TranscriptEntry is one committed or partial line of a session's
// conversation history. Entries are append-only; once committed
// (Confidence at or above the session's commit threshold) they are
// never mutated.
type TranscriptEntry struct {
	// Text is the transcript text with segment-overlap duplication removed.
	Text string

	// Confidence is the transcription confidence (0.0–1.0).
	Confidence float64

	// StartOffset and EndOffset delimit the audio span this entry covers,
	// as stream time from session start.
	StartOffset time.Duration
	EndOffset   time.Duration

	// IsFinal indicates the entry is committed. Sub-threshold entries are
	// surfaced as interim results and may be superseded.
	IsFinal bool

	// Timestamp is when this entry was recorded.
	Timestamp time.Time
}

// SynthesisResult is the audio produced for one text request.
type SynthesisResult struct {
	// Audio is the synthesized audio payload.
	Audio []byte

	// Format describes the payload encoding (e.g. "pcm16le", "wav", "mp3").
	Format string

	// SampleRate in Hz.
	SampleRate int
}

// SessionStats is a point-in-time read of one session's counters. Safe to
// request concurrently with session activity.
type SessionStats struct {
	SessionID             string    `json:"session_id"`
	Language              string    `json:"language"`
	CreatedAt             time.Time `json:"created_at"`
	LastActivity          time.Time `json:"last_activity"`
	IsActive              bool      `json:"is_active"`
	ConversationEntries   int       `json:"conversation_entries"`
	BufferChunks          int       `json:"buffer_chunks"`
	BufferSize            uint64    `json:"buffer_size"`
	PendingTranscriptions int       `json:"pending_transcriptions"`
	PendingResponses      int       `json:"pending_responses"`
}

// ServiceStats aggregates registry-wide health for the list-sessions endpoint.
type ServiceStats struct {
	ActiveSessions int            `json:"active_sessions"`
	SessionIDs     []string       `json:"session_ids"`
	Sessions       []SessionStats `json:"sessions,omitempty"`
}

// Classification is the tag set an external classifier assigns to a
// committed transcript entry.
type Classification struct {
	// Language is the detected BCP-47 language code.
	Language string

	// Topic is a short free-form topic label.
	Topic string

	// Confidence is the classifier's self-reported confidence (0.0–1.0).
	Confidence float64
}
