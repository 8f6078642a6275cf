// Package transfer negotiates file requests and streams accepted files inline
// on the session channel.
//
// Wire sequence after a FileRequest frame:
//
//	FileIgnored                         -> done, nothing else on the wire
//	FileAccepted, size(8 bytes), bytes  -> exactly size raw bytes follow
//
// The channel is not handed back to the chat loop until the sequence is done.
package transfer

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/peerchat/internal/observability"
	"github.com/danmuck/peerchat/internal/operator"
	"github.com/danmuck/peerchat/internal/protocol"
	"github.com/danmuck/peerchat/internal/protocol/frame"
	"github.com/danmuck/peerchat/internal/protocol/link"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultChunkSize matches the frame payload capacity.
	DefaultChunkSize = frame.PayloadCapacity
	// SizePrefixLen is the width of the out-of-band byte count.
	SizePrefixLen = 8

	filenamePrompt = "Enter filename (include path if in different folder) : "
	acceptText     = "Accepted File Request"
	rejectText     = "Reject File Request"
)

type Direction string

const (
	// Outbound: the peer asked us for a file and we send it.
	Outbound Direction = "outbound"
	// Inbound: we asked the peer for a file and receive it.
	Inbound Direction = "inbound"
)

type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

type Config struct {
	ChunkSize int
	// DownloadDir, when set, receives requested files under their base name.
	// Otherwise the requested name is used as the destination path.
	DownloadDir string
	// MaxSize caps the declared size accepted from a peer. Zero disables it.
	MaxSize  uint64
	PeerName string
}

func DefaultConfig() Config {
	return Config{
		ChunkSize: DefaultChunkSize,
		MaxSize:   4 << 30,
		PeerName:  "PEER",
	}
}

// Pending is a request we sent and whose reply has not arrived yet.
type Pending struct {
	ID          uuid.UUID
	Name        string
	Dest        string
	RequestedAt time.Time
}

type Result struct {
	ID        uuid.UUID     `json:"id"`
	Direction Direction     `json:"direction"`
	Name      string        `json:"name"`
	Path      string        `json:"path,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Declared  uint64        `json:"declared_bytes"`
	Moved     uint64        `json:"moved_bytes"`
	Duration  time.Duration `json:"duration"`
	Err       string        `json:"error,omitempty"`
}

// Source is an opened local file ready to stream.
type Source struct {
	io.ReadCloser
	Size uint64
}

type Negotiator struct {
	link *link.Link
	op   operator.Operator
	cfg  Config
	log  zerolog.Logger

	open   func(path string) (Source, error)
	create func(path string) (io.WriteCloser, error)
}

func New(l *link.Link, op operator.Operator, cfg Config, logger zerolog.Logger) *Negotiator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if strings.TrimSpace(cfg.PeerName) == "" {
		cfg.PeerName = DefaultConfig().PeerName
	}
	return &Negotiator{
		link:   l,
		op:     op,
		cfg:    cfg,
		log:    logger,
		open:   openFile,
		create: createFile,
	}
}

// Request asks the operator for a file name and sends the FileRequest frame.
// The reply is read by the caller and handed to Complete.
func (n *Negotiator) Request(ctx context.Context) (Pending, error) {
	var name string
	for name == "" {
		line, err := n.op.Prompt(ctx, filenamePrompt)
		if err != nil {
			return Pending{}, err
		}
		name = strings.TrimSpace(line)
	}
	f, err := frame.Encode(frame.KindFileRequest, frame.SignalPlain, name)
	if err != nil {
		return Pending{}, err
	}
	p := Pending{
		ID:          uuid.New(),
		Name:        name,
		Dest:        n.destination(name),
		RequestedAt: time.Now(),
	}
	if err := n.link.WriteFrame(f); err != nil {
		return Pending{}, err
	}
	n.log.Info().
		Str("transfer", p.ID.String()).
		Str("direction", string(Inbound)).
		Str("name", p.Name).
		Str("dest", p.Dest).
		Msg("file requested")
	return p, nil
}

// Complete handles the peer's FileAccepted or FileIgnored reply to p.
func (n *Negotiator) Complete(ctx context.Context, p Pending, reply frame.Frame) (Result, error) {
	res := Result{ID: p.ID, Direction: Inbound, Name: p.Name, Path: p.Dest}
	lg := n.log.With().
		Str("transfer", p.ID.String()).
		Str("direction", string(Inbound)).
		Str("name", p.Name).
		Logger()

	switch reply.Kind {
	case frame.KindFileIgnored:
		res.Outcome = OutcomeRejected
		n.showPeer(reply.Text())
		n.op.Display("File Transfer Rejected...")
		res.Duration = time.Since(p.RequestedAt)
		n.record(res, "rejected")
		lg.Info().Msg("file request rejected by peer")
		return res, nil
	case frame.KindFileAccepted:
	default:
		return res, fmt.Errorf("%w: %s is not a transfer reply", protocol.ErrUnrecognizedFrame, reply.Kind)
	}

	res.Outcome = OutcomeAccepted
	n.showPeer(reply.Text())
	size, err := n.readSize()
	if err != nil {
		return res, err
	}
	res.Declared = size
	if n.cfg.MaxSize > 0 && size > n.cfg.MaxSize {
		n.record(res, "too_large")
		return res, fmt.Errorf("%w: declared %d bytes, limit %d", protocol.ErrTransferTooLarge, size, n.cfg.MaxSize)
	}

	start := time.Now()
	dst, openErr := n.create(p.Dest)
	var sink io.Writer = io.Discard
	if openErr == nil {
		sink = dst
	} else {
		n.op.Display(fmt.Sprintf("Could not create %s: %v", p.Dest, openErr))
	}

	moved, writeErr, err := n.receive(sink, size)
	res.Moved = moved
	res.Duration = time.Since(start)
	if dst != nil {
		if cerr := dst.Close(); cerr != nil && writeErr == nil {
			writeErr = cerr
		}
	}
	if err != nil {
		res.Err = err.Error()
		n.record(res, "failed")
		return res, err
	}
	if openErr != nil || writeErr != nil {
		cause := openErr
		if cause == nil {
			cause = writeErr
		}
		res.Err = cause.Error()
		n.record(res, "open_failed")
		lg.Warn().Err(cause).Uint64("bytes", moved).Msg("file drained without saving")
		return res, fmt.Errorf("%w: %s: %v", protocol.ErrFileOpenFailed, p.Dest, cause)
	}

	n.record(res, "completed")
	lg.Info().Uint64("bytes", moved).Dur("duration", res.Duration).Str("dest", p.Dest).Msg("file received")
	n.op.Display(fmt.Sprintf("File Transfer complete! Saved %d bytes to %s", moved, p.Dest))
	return res, nil
}

// Serve answers a FileRequest frame from the peer.
func (n *Negotiator) Serve(ctx context.Context, req frame.Frame) (Result, error) {
	res := Result{ID: uuid.New(), Direction: Outbound, Name: req.Text()}
	lg := n.log.With().
		Str("transfer", res.ID.String()).
		Str("direction", string(Outbound)).
		Str("name", res.Name).
		Logger()
	start := time.Now()

	question := fmt.Sprintf("%s is requesting %s. Send (Y/N) : ", n.cfg.PeerName, res.Name)
	accept, confirmErr := operator.Confirm(ctx, n.op, question)
	if confirmErr != nil || !accept {
		res.Outcome = OutcomeRejected
		if err := n.link.Send(frame.KindFileIgnored, frame.SignalPlain, rejectText); err != nil {
			return res, err
		}
		res.Duration = time.Since(start)
		n.record(res, "rejected")
		lg.Info().AnErr("operator_err", confirmErr).Msg("file request declined")
		return res, confirmErr
	}

	res.Outcome = OutcomeAccepted
	if err := n.link.Send(frame.KindFileAccepted, frame.SignalPlain, acceptText); err != nil {
		return res, err
	}

	src, err := n.openFromOperator(ctx)
	if err != nil {
		// The peer is already waiting for a size prefix.
		if werr := n.writeSize(0); werr != nil {
			return res, werr
		}
		res.Err = err.Error()
		res.Duration = time.Since(start)
		n.record(res, "open_failed")
		n.op.Display(err.Error())
		lg.Warn().Err(err).Msg("source unavailable, sent empty file")
		return res, err
	}
	defer src.Close()
	res.Path = src.path
	res.Declared = src.Size

	if err := n.writeSize(src.Size); err != nil {
		return res, err
	}
	sent, err := n.stream(src, src.Size)
	res.Moved = sent
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err.Error()
		n.record(res, "truncated")
		if protocol.IsFatal(err) {
			return res, err
		}
		lg.Warn().Err(err).Uint64("sent", sent).Uint64("declared", src.Size).Msg("source ended early, padded stream")
		n.op.Display(fmt.Sprintf("File Transfer incomplete: %v", err))
		return res, err
	}

	n.record(res, "completed")
	lg.Info().Uint64("bytes", sent).Dur("duration", res.Duration).Msg("file sent")
	n.op.Display(fmt.Sprintf("File Transfer complete! Sent %d bytes from %s", sent, res.Path))
	return res, nil
}

type namedSource struct {
	Source
	path string
}

func (n *Negotiator) openFromOperator(ctx context.Context) (namedSource, error) {
	line, err := n.op.Prompt(ctx, filenamePrompt)
	if err != nil {
		return namedSource{}, fmt.Errorf("%w: %v", protocol.ErrFileOpenFailed, err)
	}
	path := strings.TrimSpace(line)
	src, err := n.open(path)
	if err != nil {
		return namedSource{}, fmt.Errorf("%w: %s: %v", protocol.ErrFileOpenFailed, path, err)
	}
	return namedSource{Source: src, path: path}, nil
}

// stream sends exactly size bytes. A source that ends early is zero-filled up
// to size so the peer's byte count still lines up with the wire.
func (n *Negotiator) stream(src io.Reader, size uint64) (uint64, error) {
	buf := make([]byte, n.cfg.ChunkSize)
	var sent uint64
	var readErr error
	for sent < size {
		want := remaining(len(buf), size-sent)
		r, err := src.Read(buf[:want])
		if r > 0 {
			if werr := n.link.WriteRaw(buf[:r]); werr != nil {
				return sent, werr
			}
			sent += uint64(r)
		}
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
	}
	if sent == size {
		return sent, nil
	}
	if err := n.pad(size - sent); err != nil {
		return sent, err
	}
	if readErr != nil {
		return sent, fmt.Errorf("%w: sent %d of %d bytes: %v", protocol.ErrTruncatedSource, sent, size, readErr)
	}
	return sent, fmt.Errorf("%w: sent %d of %d bytes", protocol.ErrTruncatedSource, sent, size)
}

func (n *Negotiator) pad(count uint64) error {
	zeros := make([]byte, n.cfg.ChunkSize)
	for count > 0 {
		want := remaining(len(zeros), count)
		if err := n.link.WriteRaw(zeros[:want]); err != nil {
			return err
		}
		count -= uint64(want)
	}
	return nil
}

// receive reads exactly size stream bytes into dst. A failing dst does not
// stop the read; the bytes are drained so the next frame stays aligned.
func (n *Negotiator) receive(dst io.Writer, size uint64) (moved uint64, writeErr error, err error) {
	buf := make([]byte, n.cfg.ChunkSize)
	for moved < size {
		want := remaining(len(buf), size-moved)
		r, rerr := n.link.ReadRaw(buf[:want])
		if r > 0 {
			if writeErr == nil {
				if _, werr := dst.Write(buf[:r]); werr != nil {
					writeErr = werr
				}
			}
			moved += uint64(r)
		}
		if rerr != nil && moved < size {
			return moved, writeErr, rerr
		}
	}
	return moved, writeErr, nil
}

func (n *Negotiator) writeSize(size uint64) error {
	var prefix [SizePrefixLen]byte
	binary.BigEndian.PutUint64(prefix[:], size)
	return n.link.WriteRaw(prefix[:])
}

// readSize waits like a frame read: the server only sends the prefix once its
// operator has picked a file.
func (n *Negotiator) readSize() (uint64, error) {
	var prefix [SizePrefixLen]byte
	got := 0
	for got < SizePrefixLen {
		r, err := n.link.AwaitRaw(prefix[got:])
		got += r
		if err != nil && got < SizePrefixLen {
			return 0, err
		}
	}
	return binary.BigEndian.Uint64(prefix[:]), nil
}

func (n *Negotiator) destination(name string) string {
	if dir := strings.TrimSpace(n.cfg.DownloadDir); dir != "" {
		return filepath.Join(dir, filepath.Base(name))
	}
	return name
}

func (n *Negotiator) showPeer(text string) {
	n.op.Display(fmt.Sprintf("- - %s - -\n%s\n", n.cfg.PeerName, text))
}

func (n *Negotiator) record(res Result, result string) {
	observability.RecordTransfer(string(res.Direction), result, res.Moved, res.Duration)
}

func remaining(capacity int, left uint64) int {
	if left < uint64(capacity) {
		return int(left)
	}
	return capacity
}

func openFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return Source{}, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Source{}, err
	}
	if info.IsDir() {
		_ = f.Close()
		return Source{}, fmt.Errorf("%s is a directory", path)
	}
	return Source{ReadCloser: f, Size: uint64(info.Size())}, nil
}

func createFile(path string) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}
