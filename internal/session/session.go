// Package session implements the per-conversation state machine and the
// process-wide registry.
//
// Every session runs one processing goroutine (its actor). All buffer
// mutation, transcript merging, and event emission happen on that goroutine;
// the gateway and the worker pools communicate with it only through the
// inbox. Stats counters are mirrored behind a small mutex so Stats can be
// read concurrently without touching actor state.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/voxbridge/voxbridge/internal/buffer"
	"github.com/voxbridge/voxbridge/internal/transcript"
	"github.com/voxbridge/voxbridge/internal/workerpool"
	"github.com/voxbridge/voxbridge/pkg/provider/classify"
	"github.com/voxbridge/voxbridge/pkg/provider/stt"
	"github.com/voxbridge/voxbridge/pkg/provider/tts"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// State is the session lifecycle position.
type State int

const (
	// StateCreated means no audio or text has been processed yet.
	StateCreated State = iota

	// StateActive means the session has processed at least one message.
	StateActive

	// StateExpiring means the session is draining in-flight jobs before
	// closing. No new work is accepted.
	StateExpiring

	// StateClosed is terminal: resources are released and the id is about
	// to leave the registry.
	StateClosed
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateExpiring:
		return "expiring"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// DefaultCommitThreshold is the confidence at which a transcript entry
	// becomes final.
	DefaultCommitThreshold = 0.7

	defaultEventBuffer = 256
	defaultInboxBuffer = 256

	// ttsEchoLimit truncates the text echoed on tts_queued events.
	ttsEchoLimit = 80
)

// Config controls one session. Zero values fall back to defaults.
type Config struct {
	// Language is the session's BCP-47 language tag.
	Language string

	// SampleRate and Channels describe the inbound PCM. Defaults 16000/1.
	SampleRate int
	Channels   int

	// Buffer configures the audio accumulator. SampleRate/Channels are
	// filled in from the fields above when unset.
	Buffer buffer.Config

	// CommitThreshold is the confidence at which entries commit. Default 0.7.
	CommitThreshold float64

	// HistoryLimit caps retained transcript entries. Default 50.
	HistoryLimit int

	// EventBuffer bounds outbound events retained while no connection is
	// attached. Default 256.
	EventBuffer int
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.Buffer.SampleRate <= 0 {
		c.Buffer.SampleRate = c.SampleRate
	}
	if c.Buffer.Channels <= 0 {
		c.Buffer.Channels = c.Channels
	}
	if c.CommitThreshold <= 0 {
		c.CommitThreshold = DefaultCommitThreshold
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
}

// ---- commands ---------------------------------------------------------------

type command interface{ cmd() }

type audioChunkCmd struct{ chunk types.AudioChunk }
type textRequestCmd struct {
	text     string
	language string
}
type resetCmd struct{}
type closeCmd struct{}
type transcriptionDoneCmd struct {
	seg types.Segment
	t   types.Transcript
	err error
}
type synthesisDoneCmd struct {
	res types.SynthesisResult
	err error
}
type classifyDoneCmd struct {
	text string
	tags types.Classification
}

func (audioChunkCmd) cmd()        {}
func (textRequestCmd) cmd()       {}
func (resetCmd) cmd()             {}
func (closeCmd) cmd()             {}
func (transcriptionDoneCmd) cmd() {}
func (synthesisDoneCmd) cmd()     {}
func (classifyDoneCmd) cmd()      {}

// ---- Session ----------------------------------------------------------------

// Session aggregates one client's audio buffer, pending work, transcript
// history, and liveness metadata.
type Session struct {
	id  string
	cfg Config

	transcriber *workerpool.Pool[stt.Request, types.Transcript]
	synthesizer *workerpool.Pool[tts.Request, types.SynthesisResult]
	classifier  classify.Classifier

	inbox  chan command
	events chan Event

	// jobCtx scopes capability calls; cancelled when the session starts
	// closing so in-flight jobs abort cooperatively.
	jobCtx    context.Context
	jobCancel context.CancelFunc

	// lifeCtx forces the actor down when a graceful drain overruns.
	lifeCtx   context.Context
	lifeStop  context.CancelFunc
	stopped   chan struct{}
	closeOnce sync.Once

	// Actor-confined state. Only the run goroutine touches these.
	buf           *buffer.Buffer
	dedup         *transcript.Deduper
	history       *transcript.History
	inFlight      bool
	partialMerge  string
	partialStart  time.Duration
	lastCommitted string

	// mu guards the snapshot fields read by Stats and the sweep.
	mu           sync.Mutex
	state        State
	createdAt    time.Time
	lastActivity time.Time
	pendingT     int
	pendingS     int
	entries      int
	bufferChunks int
	bufferBytes  uint64
	attached     bool
}

// New creates a session and starts its processing goroutine.
func New(id string, cfg Config,
	transcriber *workerpool.Pool[stt.Request, types.Transcript],
	synthesizer *workerpool.Pool[tts.Request, types.SynthesisResult],
	classifier classify.Classifier,
) *Session {
	cfg.applyDefaults()

	jobCtx, jobCancel := context.WithCancel(context.Background())
	lifeCtx, lifeStop := context.WithCancel(context.Background())
	now := time.Now()

	s := &Session{
		id:           id,
		cfg:          cfg,
		transcriber:  transcriber,
		synthesizer:  synthesizer,
		classifier:   classifier,
		inbox:        make(chan command, defaultInboxBuffer),
		events:       make(chan Event, cfg.EventBuffer),
		jobCtx:       jobCtx,
		jobCancel:    jobCancel,
		lifeCtx:      lifeCtx,
		lifeStop:     lifeStop,
		stopped:      make(chan struct{}),
		buf:          buffer.New(cfg.Buffer),
		dedup:        transcript.NewDeduper(),
		history:      transcript.NewHistory(cfg.HistoryLimit),
		state:        StateCreated,
		createdAt:    now,
		lastActivity: now,
	}
	go s.run()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Language returns the session language tag.
func (s *Session) Language() string { return s.cfg.Language }

// SampleRate returns the PCM sample rate the session's buffer expects.
func (s *Session) SampleRate() int { return s.cfg.SampleRate }

// Events returns the outbound event stream. The channel is closed when the
// session reaches StateClosed.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once the session is fully shut down.
func (s *Session) Done() <-chan struct{} { return s.stopped }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Touch refreshes the liveness timestamp. The gateway calls it for inbound
// frames that do not reach the actor, such as pings.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleSince returns the last activity timestamp.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Attach claims the session for one gateway connection. A session is owned
// by at most one connection at a time; a second Attach fails until Detach.
func (s *Session) Attach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateExpiring {
		return types.NewError(types.KindSessionExpired, "session %s is %s", s.id, s.state)
	}
	if s.attached {
		return types.NewError(types.KindInvalidInput, "session %s already has a connection", s.id)
	}
	s.attached = true
	s.lastActivity = time.Now()
	return nil
}

// Detach releases connection ownership. Buffered events are retained so a
// client reconnecting before the idle timeout resumes where it left off.
func (s *Session) Detach() {
	s.mu.Lock()
	s.attached = false
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// HandleAudioChunk posts one chunk to the processing goroutine. It never
// blocks: when the inbox is full the chunk is rejected with a backpressure
// error the client should retry after.
func (s *Session) HandleAudioChunk(chunk types.AudioChunk) error {
	return s.post(audioChunkCmd{chunk: chunk})
}

// HandleTextRequest posts one synthesis request to the processing goroutine.
func (s *Session) HandleTextRequest(text, language string) error {
	return s.post(textRequestCmd{text: text, language: language})
}

// Reset posts a buffer reset. Committed history is kept; buffered audio,
// sequence tracking, and uncommitted partial text are discarded.
func (s *Session) Reset() error {
	return s.post(resetCmd{})
}

func (s *Session) post(c command) error {
	s.mu.Lock()
	if s.state == StateExpiring || s.state == StateClosed {
		state := s.state
		s.mu.Unlock()
		return types.NewError(types.KindSessionExpired, "session %s is %s", s.id, state)
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	select {
	case s.inbox <- c:
		return nil
	default:
		return types.NewError(types.KindWorkerPoolSaturated,
			"session %s inbox full; retry with backoff", s.id)
	}
}

// Stats returns a point-in-time snapshot of the session counters.
func (s *Session) Stats() types.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SessionStats{
		SessionID:             s.id,
		Language:              s.cfg.Language,
		CreatedAt:             s.createdAt,
		LastActivity:          s.lastActivity,
		IsActive:              s.state == StateCreated || s.state == StateActive,
		ConversationEntries:   s.entries,
		BufferChunks:          s.bufferChunks,
		BufferSize:            s.bufferBytes,
		PendingTranscriptions: s.pendingT,
		PendingResponses:      s.pendingS,
	}
}

// Close transitions the session to Expiring, cancels in-flight capability
// calls, and waits for the drain to finish or ctx to expire. On ctx expiry
// the actor is forced down. Calling Close more than once is safe.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		select {
		case s.inbox <- closeCmd{}:
		case <-s.stopped:
		}
	})

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		s.lifeStop()
		<-s.stopped
		return ctx.Err()
	}
}

// ---- actor ------------------------------------------------------------------

func (s *Session) run() {
	expiring := false
	for {
		select {
		case <-s.lifeCtx.Done():
			s.shutdown()
			return

		case c := <-s.inbox:
			switch c := c.(type) {
			case audioChunkCmd:
				s.handleAudioChunk(c.chunk)
			case textRequestCmd:
				s.handleTextRequest(c.text, c.language)
			case resetCmd:
				s.handleReset()
			case closeCmd:
				expiring = true
				s.setState(StateExpiring)
				// Cooperative cancellation: abort in-flight capability
				// calls so the drain finishes promptly.
				s.jobCancel()
			case transcriptionDoneCmd:
				s.handleTranscriptionDone(c, expiring)
			case synthesisDoneCmd:
				s.handleSynthesisDone(c)
			case classifyDoneCmd:
				s.emit(TranscriptTagsEvent{Text: c.text, Tags: c.tags})
			}

			if expiring && s.pending() == 0 {
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) shutdown() {
	s.jobCancel()
	s.setState(StateClosed)
	close(s.stopped)
	close(s.events)
}

func (s *Session) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingT + s.pendingS
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	// Closed is terminal; Expiring never reverts to Active.
	if s.state == StateClosed || (s.state == StateExpiring && st == StateActive) {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
}

func (s *Session) syncBufferStats() {
	s.mu.Lock()
	s.bufferChunks = s.buf.Len()
	s.bufferBytes = s.buf.TotalBytes()
	s.mu.Unlock()
}

// emit delivers an event without ever blocking the actor. When the buffer
// is full (client gone for a long stretch) the event is dropped and logged.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		slog.Warn("session event buffer full, dropping event",
			"session", s.id, "event", eventName(ev))
	}
}

func eventName(ev Event) string {
	switch ev.(type) {
	case ChunkReceivedEvent:
		return "chunk_received"
	case TranscriptionEvent:
		return "transcription"
	case TranscriptTagsEvent:
		return "transcript_tags"
	case TTSQueuedEvent:
		return "tts_queued"
	case AudioResponseEvent:
		return "audio_response"
	case ResetCompleteEvent:
		return "reset_complete"
	case ErrorEvent:
		return "error"
	default:
		return "unknown"
	}
}

// ---- audio path -------------------------------------------------------------

func (s *Session) handleAudioChunk(chunk types.AudioChunk) {
	s.setState(StateActive)

	if err := s.buf.Append(chunk); err != nil {
		s.emit(ErrorEvent{Err: err})
		return
	}
	s.syncBufferStats()
	s.emit(ChunkReceivedEvent{Index: chunk.Index, Size: len(chunk.Data), Final: chunk.IsFinal})

	s.maybeSubmitTranscription()
}

// maybeSubmitTranscription flushes the buffer and submits a transcription
// job when none is outstanding. At most one job per session keeps results
// in arrival order by construction.
func (s *Session) maybeSubmitTranscription() {
	if s.inFlight {
		return
	}
	seg, ok := s.buf.TryFlush()
	if !ok {
		return
	}
	s.syncBufferStats()

	req := stt.Request{
		PCM:        seg.Data,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		Language:   s.cfg.Language,
	}
	handle, err := s.transcriber.Submit(s.jobCtx, s.id, req)
	if err != nil {
		s.emit(ErrorEvent{Err: err})
		return
	}

	s.inFlight = true
	s.mu.Lock()
	s.pendingT++
	s.mu.Unlock()

	go func() {
		<-handle.Done()
		t, err := handle.Result()
		select {
		case s.inbox <- transcriptionDoneCmd{seg: seg, t: t, err: err}:
		case <-s.stopped:
		}
	}()
}

func (s *Session) handleTranscriptionDone(c transcriptionDoneCmd, expiring bool) {
	s.inFlight = false
	s.mu.Lock()
	s.pendingT--
	s.mu.Unlock()

	if c.err != nil {
		if c.jobCancelled() {
			slog.Debug("transcription cancelled", "session", s.id)
		} else {
			s.emit(ErrorEvent{Err: c.err})
		}
	} else {
		s.applyTranscript(c.seg, c.t)
	}

	// More audio may have accumulated while the job ran.
	if !expiring {
		s.maybeSubmitTranscription()
	}
}

// jobCancelled reports whether the job failed only because the session is
// closing.
func (c transcriptionDoneCmd) jobCancelled() bool {
	return errors.Is(c.err, context.Canceled)
}

// applyTranscript merges one transcription result into the session
// transcript: seam de-duplication first, then either a commit (confidence
// at or above threshold, or a final segment) or accumulation into the
// partial merge buffer.
func (s *Session) applyTranscript(seg types.Segment, t types.Transcript) {
	text := strings.TrimSpace(t.Text)
	if seg.OverlapBytes > 0 && s.lastCommitted != "" && text != "" {
		text = s.dedup.Trim(s.lastCommitted, text)
	}

	start := seg.StartOffset
	if s.partialMerge != "" {
		start = s.partialStart
	}

	commit := t.Confidence >= s.cfg.CommitThreshold || seg.Final
	if !commit {
		if text == "" {
			return
		}
		if s.partialMerge == "" {
			s.partialStart = seg.StartOffset
			start = seg.StartOffset
		}
		s.partialMerge = joinText(s.partialMerge, text)
		s.emit(TranscriptionEvent{Entry: types.TranscriptEntry{
			Text:        s.partialMerge,
			Confidence:  t.Confidence,
			StartOffset: start,
			EndOffset:   seg.EndOffset,
			IsFinal:     false,
			Timestamp:   time.Now(),
		}})
		return
	}

	full := joinText(s.partialMerge, text)
	s.partialMerge = ""
	if full == "" {
		return
	}

	entry := types.TranscriptEntry{
		Text:        full,
		Confidence:  t.Confidence,
		StartOffset: start,
		EndOffset:   seg.EndOffset,
		IsFinal:     true,
		Timestamp:   time.Now(),
	}
	s.history.Append(entry)
	s.lastCommitted = full

	s.mu.Lock()
	s.entries = s.history.Len()
	s.mu.Unlock()

	s.emit(TranscriptionEvent{Entry: entry})
	s.requestTags(full)
}

// requestTags asks the external classifier to label a committed entry. The
// result arrives through the inbox; failures are logged and dropped.
func (s *Session) requestTags(text string) {
	if s.classifier == nil {
		return
	}
	go func() {
		tags, err := s.classifier.Classify(s.jobCtx, text)
		if err != nil {
			slog.Debug("transcript classification failed", "session", s.id, "err", err)
			return
		}
		select {
		case s.inbox <- classifyDoneCmd{text: text, tags: tags}:
		case <-s.stopped:
		}
	}()
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}

// ---- synthesis path ---------------------------------------------------------

func (s *Session) handleTextRequest(text, language string) {
	s.setState(StateActive)

	if strings.TrimSpace(text) == "" {
		s.emit(ErrorEvent{Err: types.NewError(types.KindInvalidInput, "text request is empty")})
		return
	}
	if language == "" {
		language = s.cfg.Language
	}

	handle, err := s.synthesizer.Submit(s.jobCtx, s.id, tts.Request{Text: text, Language: language})
	if err != nil {
		s.emit(ErrorEvent{Err: err})
		return
	}

	s.mu.Lock()
	s.pendingS++
	s.mu.Unlock()
	s.emit(TTSQueuedEvent{Text: truncate(text, ttsEchoLimit)})

	go func() {
		<-handle.Done()
		res, err := handle.Result()
		select {
		case s.inbox <- synthesisDoneCmd{res: res, err: err}:
		case <-s.stopped:
		}
	}()
}

func (s *Session) handleSynthesisDone(c synthesisDoneCmd) {
	s.mu.Lock()
	s.pendingS--
	s.mu.Unlock()

	if c.err != nil {
		if errors.Is(c.err, context.Canceled) {
			slog.Debug("synthesis cancelled", "session", s.id)
			return
		}
		s.emit(ErrorEvent{Err: c.err})
		return
	}
	s.emit(AudioResponseEvent{Result: c.res})
}

// truncate shortens text to at most limit bytes without splitting a UTF-8
// sequence, so the echoed prefix stays valid for JSON encoding.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + "…"
}

// ---- reset ------------------------------------------------------------------

func (s *Session) handleReset() {
	s.buf.Reset()
	s.partialMerge = ""
	s.lastCommitted = ""
	s.syncBufferStats()
	s.emit(ResetCompleteEvent{})
}
