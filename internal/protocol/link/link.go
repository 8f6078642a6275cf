// Package link wraps a session channel with per-operation deadlines, frame
// accounting, and the raw byte path used by file transfers.
package link

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/danmuck/peerchat/internal/observability"
	"github.com/danmuck/peerchat/internal/protocol"
	"github.com/danmuck/peerchat/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Config holds the per-operation timeouts. Zero disables a timeout.
type Config struct {
	// ReadTimeout bounds each frame read. Chat turns wait on a human, so the
	// default is to wait indefinitely.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// StreamTimeout bounds each raw read while a file is streaming.
	StreamTimeout time.Duration
}

type Stats struct {
	FramesIn  uint64 `json:"frames_in"`
	FramesOut uint64 `json:"frames_out"`
	RawIn     uint64 `json:"raw_bytes_in"`
	RawOut    uint64 `json:"raw_bytes_out"`
}

type Link struct {
	ch  protocol.Channel
	cfg Config
	log zerolog.Logger

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	rawIn     atomic.Uint64
	rawOut    atomic.Uint64
}

func New(ch protocol.Channel, cfg Config, logger zerolog.Logger) *Link {
	return &Link{ch: ch, cfg: cfg, log: logger}
}

// Send encodes text and writes it as one frame.
func (l *Link) Send(kind frame.Kind, signal frame.Signal, text string) error {
	f, err := frame.Encode(kind, signal, text)
	if err != nil {
		return err
	}
	return l.WriteFrame(f)
}

func (l *Link) WriteFrame(f frame.Frame) error {
	if err := l.ch.SetWriteDeadline(protocol.Deadline(l.cfg.WriteTimeout)); err != nil {
		return protocol.ClassifyIOError(err)
	}
	if err := frame.WriteFrame(l.ch, f); err != nil {
		return err
	}
	l.framesOut.Add(1)
	observability.RecordFrame(observability.DirectionOut, f.Kind.String(), f.Signal.String())
	l.log.Debug().
		Str("kind", f.Kind.String()).
		Str("signal", f.Signal.String()).
		Uint32("length", f.Length).
		Msg("frame sent")
	return nil
}

// ReadFrame blocks for the next frame. Decode failures still return the
// partially decoded frame alongside the error.
func (l *Link) ReadFrame() (frame.Frame, error) {
	if err := l.ch.SetReadDeadline(protocol.Deadline(l.cfg.ReadTimeout)); err != nil {
		return frame.Frame{}, protocol.ClassifyIOError(err)
	}
	f, err := frame.ReadFrame(l.ch)
	if err != nil && protocol.IsFatal(err) {
		return f, err
	}
	l.framesIn.Add(1)
	observability.RecordFrame(observability.DirectionIn, f.Kind.String(), f.Signal.String())
	l.log.Debug().
		Str("kind", f.Kind.String()).
		Str("signal", f.Signal.String()).
		Uint32("length", f.Length).
		AnErr("decode_err", err).
		Msg("frame received")
	return f, err
}

// ReadRaw reads at most len(p) stream bytes.
func (l *Link) ReadRaw(p []byte) (int, error) {
	return l.readRaw(p, l.cfg.StreamTimeout)
}

// AwaitRaw reads at most len(p) raw bytes under ReadTimeout. The peer may be
// waiting on its operator before it writes them.
func (l *Link) AwaitRaw(p []byte) (int, error) {
	return l.readRaw(p, l.cfg.ReadTimeout)
}

func (l *Link) readRaw(p []byte, timeout time.Duration) (int, error) {
	if err := l.ch.SetReadDeadline(protocol.Deadline(timeout)); err != nil {
		return 0, protocol.ClassifyIOError(err)
	}
	n, err := l.ch.Read(p)
	l.rawIn.Add(uint64(n))
	return n, protocol.ClassifyIOError(err)
}

func (l *Link) WriteRaw(p []byte) error {
	if err := l.ch.SetWriteDeadline(protocol.Deadline(l.cfg.WriteTimeout)); err != nil {
		return protocol.ClassifyIOError(err)
	}
	n, err := l.ch.Write(p)
	l.rawOut.Add(uint64(n))
	return protocol.ClassifyIOError(err)
}

// CloseOnDone closes the channel when ctx ends, unblocking any pending read.
// The returned func detaches the watcher.
func (l *Link) CloseOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = l.ch.Close()
	})
}

func (l *Link) Close() error {
	return l.ch.Close()
}

func (l *Link) Stats() Stats {
	return Stats{
		FramesIn:  l.framesIn.Load(),
		FramesOut: l.framesOut.Load(),
		RawIn:     l.rawIn.Load(),
		RawOut:    l.rawOut.Load(),
	}
}
