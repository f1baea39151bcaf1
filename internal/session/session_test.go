package session_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/voxbridge/voxbridge/internal/buffer"
	"github.com/voxbridge/voxbridge/internal/session"
	"github.com/voxbridge/voxbridge/internal/workerpool"
	"github.com/voxbridge/voxbridge/pkg/provider/classify"
	classifymock "github.com/voxbridge/voxbridge/pkg/provider/classify/mock"
	"github.com/voxbridge/voxbridge/pkg/provider/stt"
	sttmock "github.com/voxbridge/voxbridge/pkg/provider/stt/mock"
	ttsmock "github.com/voxbridge/voxbridge/pkg/provider/tts/mock"
	"github.com/voxbridge/voxbridge/pkg/types"
)

const testRate = 16000

// fixture bundles a session with the mock capabilities behind its pools.
type fixture struct {
	s   *session.Session
	stt *sttmock.Provider
	tts *ttsmock.Provider
}

func newFixture(t *testing.T, sttP *sttmock.Provider, ttsP *ttsmock.Provider, cls *classifymock.Classifier) *fixture {
	t.Helper()
	if sttP == nil {
		sttP = &sttmock.Provider{}
	}
	if ttsP == nil {
		ttsP = &ttsmock.Provider{}
	}

	// A small queue keeps submissions deterministic while the worker
	// goroutines park.
	transcriber := workerpool.New(workerpool.Config{
		Name: "stt", Workers: 2, QueueDepth: 4, JobTimeout: 2 * time.Second,
	}, sttP.Transcribe)
	synthesizer := workerpool.New(workerpool.Config{
		Name: "tts", Workers: 2, QueueDepth: 4, JobTimeout: 2 * time.Second,
	}, ttsP.Synthesize)
	t.Cleanup(func() {
		transcriber.Shutdown(context.Background())
		synthesizer.Shutdown(context.Background())
	})

	var classifier classify.Classifier
	if cls != nil {
		classifier = cls
	}

	cfg := session.Config{
		Language:   "en",
		SampleRate: testRate,
		Channels:   1,
		Buffer: buffer.Config{
			Window:  2 * time.Second,
			Overlap: 500 * time.Millisecond,
		},
	}
	s := session.New("test-session", cfg, transcriber, synthesizer, classifier)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Close(ctx)
	})

	return &fixture{s: s, stt: sttP, tts: ttsP}
}

func pcmChunk(index uint64, seconds float64, final bool) types.AudioChunk {
	n := int(seconds * testRate * 2)
	n -= n % 2
	return types.AudioChunk{
		Data:       make([]byte, n),
		Index:      index,
		ReceivedAt: time.Now(),
		IsFinal:    final,
	}
}

// nextEvent blocks for the next session event.
func nextEvent(t *testing.T, s *session.Session) session.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
		return nil
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAudioFlowCommitsTranscripts(t *testing.T) {
	var calls atomic.Int32
	sttP := &sttmock.Provider{
		TranscribeFunc: func(_ context.Context, _ stt.Request) (types.Transcript, error) {
			if calls.Add(1) == 1 {
				return types.Transcript{Text: "hello there", Confidence: 0.9, Language: "en"}, nil
			}
			return types.Transcript{Text: "general kenobi", Confidence: 0.9, Language: "en"}, nil
		},
	}
	f := newFixture(t, sttP, nil, nil)

	// 1 s + 1.5 s exceeds the 2 s window and flushes; the final 1 s chunk
	// forces a second, final segment once the first job completes.
	sizes := []float64{1, 1.5, 1}
	for i, seconds := range sizes {
		if err := f.s.HandleAudioChunk(pcmChunk(uint64(i), seconds, i == len(sizes)-1)); err != nil {
			t.Fatalf("HandleAudioChunk(%d): %v", i, err)
		}
	}

	var acks, commits int
	var lastEntry types.TranscriptEntry
	deadline := time.After(2 * time.Second)
	for commits < 2 {
		select {
		case ev := <-f.s.Events():
			switch ev := ev.(type) {
			case session.ChunkReceivedEvent:
				acks++
			case session.TranscriptionEvent:
				if !ev.Entry.IsFinal {
					t.Errorf("unexpected interim entry %+v at confidence 0.9", ev.Entry)
				}
				commits++
				lastEntry = ev.Entry
			case session.ErrorEvent:
				t.Fatalf("unexpected error event: %v", ev.Err)
			}
		case <-deadline:
			t.Fatalf("saw %d commits, want 2", commits)
		}
	}

	if acks != 3 {
		t.Errorf("chunk acks = %d, want 3", acks)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("transcription jobs = %d, want 2", got)
	}
	if lastEntry.Text != "general kenobi" {
		t.Errorf("last committed text = %q, want %q", lastEntry.Text, "general kenobi")
	}

	waitFor(t, "pending transcriptions to drain", func() bool {
		return f.s.Stats().PendingTranscriptions == 0
	})
	if got := f.s.Stats().ConversationEntries; got != 2 {
		t.Errorf("ConversationEntries = %d, want 2", got)
	}
}

func TestTextRequestProducesOneAudioResponse(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	if err := f.s.HandleTextRequest("Hello", "en"); err != nil {
		t.Fatalf("HandleTextRequest: %v", err)
	}

	ev := nextEvent(t, f.s)
	queued, ok := ev.(session.TTSQueuedEvent)
	if !ok {
		t.Fatalf("first event = %T, want TTSQueuedEvent", ev)
	}
	if queued.Text != "Hello" {
		t.Errorf("queued text = %q, want Hello", queued.Text)
	}

	ev = nextEvent(t, f.s)
	resp, ok := ev.(session.AudioResponseEvent)
	if !ok {
		t.Fatalf("second event = %T, want AudioResponseEvent", ev)
	}
	if len(resp.Result.Audio) == 0 {
		t.Error("audio response is empty")
	}

	waitFor(t, "pending responses to drain", func() bool {
		return f.s.Stats().PendingResponses == 0
	})
	if got := len(f.tts.Requests()); got != 1 {
		t.Errorf("synthesis requests = %d, want 1", got)
	}
}

func TestTTSQueuedEchoKeepsValidUTF8(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	// 30 three-byte runes: the 80-byte echo cap lands mid-rune, so the
	// trim must back up to the previous rune boundary.
	text := strings.Repeat("あ", 30)
	if err := f.s.HandleTextRequest(text, "en"); err != nil {
		t.Fatalf("HandleTextRequest: %v", err)
	}

	ev := nextEvent(t, f.s)
	queued, ok := ev.(session.TTSQueuedEvent)
	if !ok {
		t.Fatalf("event = %T, want TTSQueuedEvent", ev)
	}
	if !utf8.ValidString(queued.Text) {
		t.Fatalf("echoed text is not valid UTF-8: %q", queued.Text)
	}
	if want := strings.Repeat("あ", 26) + "…"; queued.Text != want {
		t.Errorf("echoed text = %q, want %q", queued.Text, want)
	}
}

func TestOutOfOrderChunkEmitsError(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	if err := f.s.HandleAudioChunk(pcmChunk(5, 0.1, false)); err != nil {
		t.Fatalf("HandleAudioChunk: %v", err)
	}

	ev := nextEvent(t, f.s)
	errEv, ok := ev.(session.ErrorEvent)
	if !ok {
		t.Fatalf("event = %T, want ErrorEvent", ev)
	}
	if kind := types.KindOf(errEv.Err); kind != types.KindOutOfOrderChunk {
		t.Errorf("error kind = %s, want %s", kind, types.KindOutOfOrderChunk)
	}
	if got := f.s.Stats().BufferChunks; got != 0 {
		t.Errorf("BufferChunks = %d, want 0 after rejected chunk", got)
	}
}

func TestEmptyTextRequestRejected(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	if err := f.s.HandleTextRequest("   ", "en"); err != nil {
		t.Fatalf("HandleTextRequest: %v", err)
	}
	ev := nextEvent(t, f.s)
	errEv, ok := ev.(session.ErrorEvent)
	if !ok {
		t.Fatalf("event = %T, want ErrorEvent", ev)
	}
	if kind := types.KindOf(errEv.Err); kind != types.KindInvalidInput {
		t.Errorf("error kind = %s, want %s", kind, types.KindInvalidInput)
	}
	if got := len(f.tts.Requests()); got != 0 {
		t.Errorf("synthesis requests = %d, want 0", got)
	}
}

func TestLowConfidenceMergesUntilCommit(t *testing.T) {
	var calls atomic.Int32
	sttP := &sttmock.Provider{
		TranscribeFunc: func(_ context.Context, _ stt.Request) (types.Transcript, error) {
			if calls.Add(1) == 1 {
				return types.Transcript{Text: "turn left", Confidence: 0.4}, nil
			}
			return types.Transcript{Text: "at the lights", Confidence: 0.95}, nil
		},
	}
	f := newFixture(t, sttP, nil, nil)

	if err := f.s.HandleAudioChunk(pcmChunk(0, 2.5, false)); err != nil {
		t.Fatalf("HandleAudioChunk(0): %v", err)
	}

	ev := nextEvent(t, f.s)
	if _, ok := ev.(session.ChunkReceivedEvent); !ok {
		t.Fatalf("event = %T, want ChunkReceivedEvent", ev)
	}
	ev = nextEvent(t, f.s)
	interim, ok := ev.(session.TranscriptionEvent)
	if !ok {
		t.Fatalf("event = %T, want TranscriptionEvent", ev)
	}
	if interim.Entry.IsFinal {
		t.Error("entry at confidence 0.4 committed, want interim")
	}
	if interim.Entry.Text != "turn left" {
		t.Errorf("interim text = %q, want %q", interim.Entry.Text, "turn left")
	}

	if err := f.s.HandleAudioChunk(pcmChunk(1, 2, true)); err != nil {
		t.Fatalf("HandleAudioChunk(1): %v", err)
	}
	ev = nextEvent(t, f.s)
	if _, ok := ev.(session.ChunkReceivedEvent); !ok {
		t.Fatalf("event = %T, want ChunkReceivedEvent", ev)
	}
	ev = nextEvent(t, f.s)
	commit, ok := ev.(session.TranscriptionEvent)
	if !ok {
		t.Fatalf("event = %T, want TranscriptionEvent", ev)
	}
	if !commit.Entry.IsFinal {
		t.Error("final segment did not commit")
	}
	if want := "turn left at the lights"; commit.Entry.Text != want {
		t.Errorf("committed text = %q, want %q", commit.Entry.Text, want)
	}
	if commit.Entry.StartOffset != 0 {
		t.Errorf("StartOffset = %v, want 0 (merge spans the interim)", commit.Entry.StartOffset)
	}
}

func TestResetClearsSequence(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	if err := f.s.HandleAudioChunk(pcmChunk(0, 1, false)); err != nil {
		t.Fatalf("HandleAudioChunk: %v", err)
	}
	if _, ok := nextEvent(t, f.s).(session.ChunkReceivedEvent); !ok {
		t.Fatal("missing chunk ack")
	}

	if err := f.s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, ok := nextEvent(t, f.s).(session.ResetCompleteEvent); !ok {
		t.Fatal("missing reset_complete event")
	}

	// Sequence restarts at 0 after a reset.
	if err := f.s.HandleAudioChunk(pcmChunk(0, 1, false)); err != nil {
		t.Fatalf("HandleAudioChunk after reset: %v", err)
	}
	if _, ok := nextEvent(t, f.s).(session.ChunkReceivedEvent); !ok {
		t.Fatal("chunk 0 rejected after reset")
	}
	if got := f.s.Stats().BufferChunks; got != 1 {
		t.Errorf("BufferChunks = %d, want 1", got)
	}
}

func TestCloseRejectsFurtherWork(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := f.s.State(); got != session.StateClosed {
		t.Errorf("State = %s, want closed", got)
	}
	err := f.s.HandleAudioChunk(pcmChunk(0, 0.1, false))
	if kind := types.KindOf(err); kind != types.KindSessionExpired {
		t.Errorf("post-close append error kind = %s, want %s", kind, types.KindSessionExpired)
	}

	// The event channel closes once the session is fully down.
	select {
	case _, ok := <-f.s.Events():
		if ok {
			// Buffered events may still drain; the channel must close after.
			for range f.s.Events() {
			}
		}
	case <-time.After(time.Second):
		t.Fatal("event channel not closed after Close")
	}
}

func TestCloseCancelsInFlightJob(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	sttP := &sttmock.Provider{
		TranscribeFunc: func(ctx context.Context, _ stt.Request) (types.Transcript, error) {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return types.Transcript{}, ctx.Err()
		},
	}
	f := newFixture(t, sttP, nil, nil)

	if err := f.s.HandleAudioChunk(pcmChunk(0, 2.5, false)); err != nil {
		t.Fatalf("HandleAudioChunk: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("transcription job never started")
	}

	// Close must cancel the in-flight job and drain well within the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.s.Close(ctx); err != nil {
		t.Fatalf("Close with job in flight: %v", err)
	}
}

func TestAttachIsExclusive(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	if err := f.s.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := f.s.Attach(); types.KindOf(err) != types.KindInvalidInput {
		t.Errorf("second Attach error = %v, want InvalidInput", err)
	}
	f.s.Detach()
	if err := f.s.Attach(); err != nil {
		t.Errorf("Attach after Detach: %v", err)
	}
}

func TestClassifierTagsCommittedEntries(t *testing.T) {
	sttP := &sttmock.Provider{
		TranscribeFunc: func(_ context.Context, _ stt.Request) (types.Transcript, error) {
			return types.Transcript{Text: "what's the weather like", Confidence: 0.9}, nil
		},
	}
	cls := &classifymock.Classifier{
		ClassifyFunc: func(_ context.Context, _ string) (types.Classification, error) {
			return types.Classification{Language: "en", Topic: "weather", Confidence: 0.88}, nil
		},
	}
	f := newFixture(t, sttP, nil, cls)

	if err := f.s.HandleAudioChunk(pcmChunk(0, 2, true)); err != nil {
		t.Fatalf("HandleAudioChunk: %v", err)
	}

	var tags session.TranscriptTagsEvent
	waitEvents := time.After(2 * time.Second)
	for {
		var found bool
		select {
		case ev := <-f.s.Events():
			if tg, ok := ev.(session.TranscriptTagsEvent); ok {
				tags = tg
				found = true
			}
		case <-waitEvents:
			t.Fatal("no transcript_tags event")
		}
		if found {
			break
		}
	}

	if tags.Text != "what's the weather like" {
		t.Errorf("tags.Text = %q", tags.Text)
	}
	if tags.Tags.Topic != "weather" {
		t.Errorf("tags.Topic = %q, want weather", tags.Tags.Topic)
	}
	if got := cls.Texts(); len(got) != 1 {
		t.Errorf("classifier called %d times, want 1", len(got))
	}
}

// ---- registry ---------------------------------------------------------------

func newTestRegistry(t *testing.T, cfg session.RegistryConfig) *session.Registry {
	t.Helper()
	transcriber := workerpool.New(workerpool.Config{
		Name: "stt", Workers: 2, QueueDepth: 4, JobTimeout: 2 * time.Second,
	}, (&sttmock.Provider{}).Transcribe)
	synthesizer := workerpool.New(workerpool.Config{
		Name: "tts", Workers: 2, QueueDepth: 4, JobTimeout: 2 * time.Second,
	}, (&ttsmock.Provider{}).Synthesize)
	t.Cleanup(func() {
		transcriber.Shutdown(context.Background())
		synthesizer.Shutdown(context.Background())
	})
	return session.NewRegistry(cfg, transcriber, synthesizer, nil)
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := newTestRegistry(t, session.RegistryConfig{})
	defer r.Shutdown(context.Background())

	s, err := r.Create("de")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.Language() != "de" {
		t.Errorf("Language = %q, want de", s.Language())
	}

	got, err := r.Get(s.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != s {
		t.Error("Get returned a different session")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}

	stats := r.List()
	if stats.ActiveSessions != 1 || len(stats.Sessions) != 1 {
		t.Fatalf("List = %+v, want one session", stats)
	}
	if stats.Sessions[0].Language != "de" {
		t.Errorf("listed language = %q, want de", stats.Sessions[0].Language)
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := newTestRegistry(t, session.RegistryConfig{})
	defer r.Shutdown(context.Background())

	if _, err := r.Get("nope"); types.KindOf(err) != types.KindSessionNotFound {
		t.Errorf("Get unknown error = %v, want SessionNotFound", err)
	}
}

func TestRegistrySweepExpiresIdleSessions(t *testing.T) {
	r := newTestRegistry(t, session.RegistryConfig{
		IdleTimeout:   30 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})
	defer r.Shutdown(context.Background())

	s, err := r.Create("en")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	waitFor(t, "idle session to be swept", func() bool {
		return r.Count() == 0
	})
	if _, err := r.Get(s.ID()); types.KindOf(err) != types.KindSessionNotFound {
		t.Errorf("Get after sweep error = %v, want SessionNotFound", err)
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("swept session never shut down")
	}
	if got := s.State(); got != session.StateClosed {
		t.Errorf("swept session state = %s, want closed", got)
	}
}

func TestRegistryCloseIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, session.RegistryConfig{})
	defer r.Shutdown(context.Background())

	s, err := r.Create("en")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Close(context.Background(), s.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(context.Background(), s.ID()); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := r.Get(s.ID()); types.KindOf(err) != types.KindSessionNotFound {
		t.Errorf("Get after Close error = %v, want SessionNotFound", err)
	}
}

func TestRegistryShutdownStopsCreation(t *testing.T) {
	r := newTestRegistry(t, session.RegistryConfig{})
	if _, err := r.Create("en"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if r.Count() != 0 {
		t.Errorf("Count after Shutdown = %d, want 0", r.Count())
	}
	if _, err := r.Create("en"); err == nil {
		t.Error("Create succeeded after Shutdown")
	}
}
