package session

import "github.com/voxbridge/voxbridge/pkg/types"

// Event is an outbound notification from a session to its gateway
// connection. The gateway encodes each event as one protocol frame.
//
// Events are emitted only by the session's processing goroutine and
// delivered in order through the session's buffered event channel. When no
// connection is attached the channel keeps buffering, which is what gives a
// reconnecting client its grace window.
type Event interface {
	event()
}

// ChunkReceivedEvent acknowledges one accepted audio chunk.
type ChunkReceivedEvent struct {
	Index uint64
	Size  int
	Final bool
}

// TranscriptionEvent carries a committed or interim transcript entry.
type TranscriptionEvent struct {
	Entry types.TranscriptEntry
}

// TranscriptTagsEvent carries classifier labels for a committed entry. It
// follows the corresponding TranscriptionEvent once the classifier answers.
type TranscriptTagsEvent struct {
	Text string
	Tags types.Classification
}

// TTSQueuedEvent acknowledges acceptance of a text request.
type TTSQueuedEvent struct {
	Text string
}

// AudioResponseEvent carries synthesized audio for a text request.
type AudioResponseEvent struct {
	Result types.SynthesisResult
}

// ResetCompleteEvent confirms a buffer reset.
type ResetCompleteEvent struct{}

// ErrorEvent carries a classified error for translation into a protocol
// error frame.
type ErrorEvent struct {
	Err error
}

func (ChunkReceivedEvent) event()  {}
func (TranscriptionEvent) event()  {}
func (TranscriptTagsEvent) event() {}
func (TTSQueuedEvent) event()      {}
func (AudioResponseEvent) event()  {}
func (ResetCompleteEvent) event()  {}
func (ErrorEvent) event()          {}
