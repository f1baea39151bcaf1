package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/session"
	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// conn is one live streaming connection bound to one session. The read loop
// decodes inbound frames and dispatches them to the session; the write loop
// is the only goroutine touching the socket for writes, serialising session
// events and direct replies (pong, stats, decode errors).
type conn struct {
	ws      *websocket.Conn
	sess    *session.Session
	metrics *observe.Metrics

	// out carries replies produced by the read loop.
	out chan Frame

	// opus is created on the first opus-format chunk. Decoder state spans
	// packets, so the connection owns one; only the read loop touches it.
	opus *audio.OpusDecoder

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newConn(ws *websocket.Conn, sess *session.Session, m *observe.Metrics) *conn {
	return &conn{
		ws:      ws,
		sess:    sess,
		metrics: m,
		out:     make(chan Frame, 16),
		done:    make(chan struct{}),
	}
}

// run services the connection until the client disconnects, the session
// closes, or ctx is cancelled. It blocks; the HTTP handler goroutine is the
// connection's task.
func (c *conn) run(ctx context.Context) {
	defer c.sess.Detach()

	greeting, err := newFrame(FrameConnectionEstablished, connectionEstablishedPayload{
		SessionID: c.sess.ID(),
		Language:  c.sess.Language(),
	})
	if err == nil {
		c.reply(greeting)
	}

	c.wg.Add(1)
	go c.writeLoop(ctx)

	c.readLoop(ctx)
	c.close()
	c.wg.Wait()
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// reply queues a frame produced by the read loop. Drops the frame if the
// writer is gone.
func (c *conn) reply(f Frame) {
	select {
	case c.out <- f:
	case <-c.done:
	}
}

// writeLoop is the single socket writer. It interleaves session events with
// direct replies and closes the socket when the session shuts down.
func (c *conn) writeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return

		case f := <-c.out:
			if !c.write(ctx, f) {
				c.close()
				return
			}

		case ev, ok := <-c.sess.Events():
			if !ok {
				// Session reached Closed; tell the client and stop.
				_ = c.ws.Close(websocket.StatusNormalClosure, "session closed")
				c.close()
				return
			}
			f, err := frameFromEvent(ev)
			if err != nil {
				observe.Logger(ctx).Error("encode session event", "session", c.sess.ID(), "err", err)
				continue
			}
			if !c.write(ctx, f) {
				c.close()
				return
			}
		}
	}
}

func (c *conn) write(ctx context.Context, f Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		observe.Logger(ctx).Error("marshal frame", "type", f.Type, "err", err)
		return true
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		return false
	}
	c.metrics.RecordFrame(ctx, "out", f.Type)
	return true
}

// readLoop decodes inbound frames until the connection drops. Malformed
// input is answered with an error frame, never by dropping the connection.
func (c *conn) readLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		c.dispatch(ctx, data)
	}
}

func (c *conn) dispatch(ctx context.Context, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.reply(errorFrame(types.NewError(types.KindInvalidInput, "malformed frame: %v", err)))
		return
	}
	c.metrics.RecordFrame(ctx, "in", f.Type)

	switch f.Type {
	case FrameAudioChunk:
		c.handleAudioChunk(f.Data)
	case FrameTextRequest:
		c.handleTextRequest(f.Data)
	case FrameControl:
		c.handleControl(f.Data)
	default:
		c.reply(errorFrame(types.NewError(types.KindInvalidInput, "unknown frame type %q", f.Type)))
	}
}

func (c *conn) handleAudioChunk(data json.RawMessage) {
	var p audioChunkPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.reply(errorFrame(types.NewError(types.KindInvalidInput, "malformed audio_chunk payload: %v", err)))
		return
	}
	pcm, err := hex.DecodeString(p.AudioData)
	if err != nil {
		c.reply(errorFrame(types.NewError(types.KindUnsupportedFormat, "audio_data is not valid hex: %v", err)))
		return
	}
	if len(pcm) == 0 && !p.IsFinal {
		c.reply(errorFrame(types.NewError(types.KindInvalidInput, "audio_chunk carries no audio")))
		return
	}

	switch p.Format {
	case "", "pcm16le":
	case "opus":
		if len(pcm) > 0 {
			pcm, err = c.decodeOpus(pcm)
			if err != nil {
				c.reply(errorFrame(types.NewError(types.KindUnsupportedFormat, "opus decode failed: %v", err)))
				return
			}
		}
	default:
		c.reply(errorFrame(types.NewError(types.KindUnsupportedFormat, "unsupported audio format %q", p.Format)))
		return
	}

	err = c.sess.HandleAudioChunk(types.AudioChunk{
		Data:       pcm,
		Index:      p.ChunkIndex,
		ReceivedAt: time.Now(),
		IsFinal:    p.IsFinal,
	})
	if err != nil {
		c.reply(errorFrame(err))
	}
}

// decodeOpus decodes one Opus packet and resamples the 48 kHz output to the
// session's buffer rate.
func (c *conn) decodeOpus(packet []byte) ([]byte, error) {
	if c.opus == nil {
		dec, err := audio.NewOpusDecoder()
		if err != nil {
			return nil, err
		}
		c.opus = dec
	}
	pcm, err := c.opus.Decode(packet)
	if err != nil {
		return nil, err
	}
	if rate := c.sess.SampleRate(); rate != c.opus.SampleRate() {
		pcm = audio.ResampleMono16(pcm, c.opus.SampleRate(), rate)
	}
	return pcm, nil
}

func (c *conn) handleTextRequest(data json.RawMessage) {
	var p textRequestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.reply(errorFrame(types.NewError(types.KindInvalidInput, "malformed text_request payload: %v", err)))
		return
	}
	if err := c.sess.HandleTextRequest(p.Text, p.Language); err != nil {
		c.reply(errorFrame(err))
	}
}

func (c *conn) handleControl(data json.RawMessage) {
	var p controlPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.reply(errorFrame(types.NewError(types.KindInvalidInput, "malformed control payload: %v", err)))
		return
	}

	switch p.Command {
	case CommandPing:
		c.sess.Touch()
		if f, err := newFrame(FramePong, nil); err == nil {
			c.reply(f)
		}
	case CommandStats:
		c.sess.Touch()
		if f, err := newFrame(FrameStatsResponse, c.sess.Stats()); err == nil {
			c.reply(f)
		}
	case CommandReset:
		if err := c.sess.Reset(); err != nil {
			c.reply(errorFrame(err))
		}
	default:
		c.reply(errorFrame(types.NewError(types.KindInvalidInput, "unknown control command %q", p.Command)))
	}
}
