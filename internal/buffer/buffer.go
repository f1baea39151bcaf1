// Package buffer implements the per-session audio accumulator.
//
// A Buffer assembles chunks in strict index order, tracks its byte budget,
// and produces transcription-ready segments once enough audio has
// accumulated. Each flushed segment carries the tail of the previous segment
// so that words split across a segment edge are not lost; the consumer
// removes the duplicated transcript text, not the buffer.
//
// A Buffer is not safe for concurrent use. It is owned by exactly one
// session and mutated only on that session's processing goroutine.
package buffer

import (
	"time"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/types"
)

const (
	// DefaultWindow is the accumulated audio duration a segment must exceed
	// before a non-final flush.
	DefaultWindow = 2 * time.Second

	// DefaultOverlap is the duration of previous-segment tail carried into
	// each new segment.
	DefaultOverlap = 500 * time.Millisecond

	// DefaultCapacityBytes bounds the total retained chunk bytes per session.
	DefaultCapacityBytes = 10 << 20 // 10 MiB
)

// Config controls windowing and capacity. Zero values fall back to defaults.
type Config struct {
	// SampleRate of the incoming PCM in Hz. Default 16000.
	SampleRate int

	// Channels of the incoming PCM. Default 1.
	Channels int

	// Window is the audio duration that triggers a segment flush.
	Window time.Duration

	// Overlap is the previous-tail duration included in each segment.
	Overlap time.Duration

	// CapacityBytes bounds retained chunk bytes. Already-flushed chunks are
	// evicted under pressure; unflushed chunks are never dropped.
	CapacityBytes uint64
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Overlap <= 0 {
		c.Overlap = DefaultOverlap
	}
	if c.CapacityBytes == 0 {
		c.CapacityBytes = DefaultCapacityBytes
	}
}

// Buffer is the per-session ordered chunk accumulator.
type Buffer struct {
	cfg Config

	// chunks holds retained chunks in index order. The first flushStart
	// entries have already been flushed and are eviction candidates.
	chunks     []types.AudioChunk
	flushStart int

	totalBytes   uint64
	pendingBytes int

	// nextIndex is the only chunk index Append accepts (duplicate of
	// nextIndex-1 is idempotently ignored).
	nextIndex uint64
	started   bool

	// carry is the previous segment's tail, copied fresh at flush time.
	carry []byte

	// flushedStream counts stream bytes already handed out in segments,
	// excluding carried overlap. Drives segment offsets.
	flushedStream uint64

	pendingFinal bool
}

// New creates a Buffer with defaults applied for zero-value config fields.
func New(cfg Config) *Buffer {
	cfg.applyDefaults()
	return &Buffer{cfg: cfg}
}

// Append ingests one chunk.
//
// The chunk index must be the immediate successor of the last appended index.
// A duplicate resend of the last index is ignored without error; any other
// gap or reversal fails with KindOutOfOrderChunk. If retaining the chunk
// would exceed the capacity after evicting every already-flushed chunk, the
// append fails with KindBufferOverflow and the buffer is unchanged.
func (b *Buffer) Append(chunk types.AudioChunk) error {
	if b.started && chunk.Index == b.nextIndex-1 {
		// Idempotent resend of the last chunk. Nothing to re-buffer and no
		// re-flush: the original append already accounted for it.
		return nil
	}
	if chunk.Index != b.nextIndex {
		return types.NewError(types.KindOutOfOrderChunk,
			"chunk index %d is not the expected successor %d", chunk.Index, b.nextIndex)
	}

	size := uint64(len(chunk.Data))
	if size > b.cfg.CapacityBytes {
		return types.NewError(types.KindBufferOverflow,
			"chunk of %d bytes exceeds buffer capacity %d", size, b.cfg.CapacityBytes)
	}
	if b.totalBytes+size > b.cfg.CapacityBytes {
		b.evictFlushed(b.cfg.CapacityBytes - size)
		if b.totalBytes+size > b.cfg.CapacityBytes {
			// Only unflushed audio is left; dropping it would lose speech.
			return types.NewError(types.KindBufferOverflow,
				"buffer at %d of %d bytes with %d unflushed; slow down or flush",
				b.totalBytes, b.cfg.CapacityBytes, b.pendingBytes)
		}
	}

	b.chunks = append(b.chunks, chunk)
	b.totalBytes += size
	b.pendingBytes += len(chunk.Data)
	b.nextIndex = chunk.Index + 1
	b.started = true
	if chunk.IsFinal {
		b.pendingFinal = true
	}
	return nil
}

// TryFlush returns the next transcription-ready segment, if any.
//
// A segment is produced once accumulated audio exceeds the configured
// window, or immediately when a final chunk is pending. The segment is the
// carried overlap tail followed by all unflushed chunk data. After a
// non-final flush the new tail is retained for the next segment; a final
// flush resets the carry because the utterance ended.
func (b *Buffer) TryFlush() (types.Segment, bool) {
	if b.pendingBytes == 0 {
		b.pendingFinal = false
		return types.Segment{}, false
	}

	// The carried tail counts toward the window. Audio landing exactly on
	// the window keeps accumulating: a stream that ends there is drained by
	// its final chunk as one segment instead of a window flush plus a
	// trailing sliver.
	accumulated := audio.Duration(len(b.carry)+b.pendingBytes, b.cfg.SampleRate, b.cfg.Channels)
	if accumulated <= b.cfg.Window && !b.pendingFinal {
		return types.Segment{}, false
	}

	data := make([]byte, 0, len(b.carry)+b.pendingBytes)
	data = append(data, b.carry...)
	for _, c := range b.chunks[b.flushStart:] {
		data = append(data, c.Data...)
	}

	seg := types.Segment{
		Data:         data,
		OverlapBytes: len(b.carry),
		StartOffset:  audio.Duration(int(b.flushedStream), b.cfg.SampleRate, b.cfg.Channels),
		EndOffset:    audio.Duration(int(b.flushedStream)+b.pendingBytes, b.cfg.SampleRate, b.cfg.Channels),
		Final:        b.pendingFinal,
	}

	if b.pendingFinal {
		b.carry = nil
	} else {
		overlapBytes := audio.BytesFor(b.cfg.Overlap, b.cfg.SampleRate, b.cfg.Channels)
		if overlapBytes > len(data) {
			overlapBytes = len(data)
		}
		// Fresh copy so the retained tail does not pin the segment slice.
		b.carry = append([]byte(nil), data[len(data)-overlapBytes:]...)
	}

	b.flushedStream += uint64(b.pendingBytes)
	b.pendingBytes = 0
	b.pendingFinal = false
	b.flushStart = len(b.chunks)

	return seg, true
}

// Reset discards all buffered audio, carry state, and sequence tracking.
// The next accepted chunk index is 0 again.
func (b *Buffer) Reset() {
	b.chunks = nil
	b.flushStart = 0
	b.totalBytes = 0
	b.pendingBytes = 0
	b.nextIndex = 0
	b.started = false
	b.carry = nil
	b.flushedStream = 0
	b.pendingFinal = false
}

// evictFlushed drops the oldest already-flushed chunks until totalBytes fits
// within budget or no flushed chunks remain. The retained slice is copied
// fresh so evicted chunk data can be collected.
func (b *Buffer) evictFlushed(budget uint64) {
	evict := 0
	for evict < b.flushStart && b.totalBytes > budget {
		b.totalBytes -= uint64(len(b.chunks[evict].Data))
		evict++
	}
	if evict == 0 {
		return
	}
	remaining := make([]types.AudioChunk, len(b.chunks)-evict)
	copy(remaining, b.chunks[evict:])
	b.chunks = remaining
	b.flushStart -= evict
}

// Len returns the number of retained chunks.
func (b *Buffer) Len() int { return len(b.chunks) }

// TotalBytes returns the byte count of all retained chunks.
func (b *Buffer) TotalBytes() uint64 { return b.totalBytes }

// PendingBytes returns the byte count of audio not yet flushed to a segment.
func (b *Buffer) PendingBytes() int { return b.pendingBytes }

// NextIndex returns the chunk index Append expects next.
func (b *Buffer) NextIndex() uint64 { return b.nextIndex }
