package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/peerchat/internal/protocol"
)

const (
	// PayloadCapacity is the fixed payload buffer carried by every frame.
	PayloadCapacity = 1024
	// HeaderLen covers the kind/signal word and the declared length.
	HeaderLen = 8
	// Size is the exact number of bytes one frame occupies on the wire.
	Size = HeaderLen + PayloadCapacity

	kindMask    uint32 = 0x3
	signalShift        = 2
	signalMask  uint32 = 0x7
	unusedMask  uint32 = ^(kindMask | signalMask<<signalShift)
)

// Kind separates chat traffic from the file negotiation stages.
type Kind uint8

const (
	KindMessage Kind = iota
	KindFileRequest
	KindFileAccepted
	KindFileIgnored
)

func (k Kind) Valid() bool {
	return k <= KindFileIgnored
}

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindFileRequest:
		return "file_request"
	case KindFileAccepted:
		return "file_accepted"
	case KindFileIgnored:
		return "file_ignored"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Signal carries exit, error, and acknowledgement control bits.
type Signal uint8

const (
	SignalExit Signal = iota
	SignalPlain
	SignalMessageError
	SignalFileError
	SignalAck
	SignalReserved
	SignalConnAck
	SignalConnRequest
)

// Valid reports whether s may appear on the wire. SignalReserved never may.
func (s Signal) Valid() bool {
	return s <= SignalConnRequest && s != SignalReserved
}

func (s Signal) String() string {
	switch s {
	case SignalExit:
		return "exit"
	case SignalPlain:
		return "plain"
	case SignalMessageError:
		return "message_error"
	case SignalFileError:
		return "file_error"
	case SignalAck:
		return "ack"
	case SignalReserved:
		return "reserved"
	case SignalConnAck:
		return "conn_ack"
	case SignalConnRequest:
		return "conn_request"
	default:
		return fmt.Sprintf("signal(%d)", uint8(s))
	}
}

// Frame is one complete wire message.
type Frame struct {
	Kind    Kind
	Signal  Signal
	Length  uint32
	Payload []byte
}

// Encode builds a frame whose declared length matches text.
func Encode(kind Kind, signal Signal, text string) (Frame, error) {
	if !kind.Valid() || !signal.Valid() {
		return Frame{}, fmt.Errorf("%w: kind=%s signal=%s", protocol.ErrUnrecognizedFrame, kind, signal)
	}
	if len(text) > PayloadCapacity {
		return Frame{}, fmt.Errorf("%w: %d bytes exceeds %d", protocol.ErrPayloadTooLarge, len(text), PayloadCapacity)
	}
	if strings.IndexByte(text, 0) >= 0 {
		return Frame{}, fmt.Errorf("%w: payload contains NUL", protocol.ErrInvalidPayload)
	}
	return Frame{
		Kind:    kind,
		Signal:  signal,
		Length:  uint32(len(text)),
		Payload: []byte(text),
	}, nil
}

func (f Frame) Text() string {
	return string(f.Payload)
}

// Is reports whether f carries the given dispatch key.
func (f Frame) Is(kind Kind, signal Signal) bool {
	return f.Kind == kind && f.Signal == signal
}

// Validate compares the declared length against the payload actually carried.
func (f Frame) Validate() error {
	if int(f.Length) != len(f.Payload) {
		return fmt.Errorf("%w: declared=%d actual=%d", protocol.ErrFrameCorrupted, f.Length, len(f.Payload))
	}
	return nil
}

// Marshal renders f into exactly Size bytes. The declared length is written as
// given so a mismatched frame reaches the peer unchanged.
func Marshal(f Frame) ([]byte, error) {
	if !f.Kind.Valid() || !f.Signal.Valid() {
		return nil, fmt.Errorf("%w: kind=%s signal=%s", protocol.ErrUnrecognizedFrame, f.Kind, f.Signal)
	}
	if len(f.Payload) > PayloadCapacity {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", protocol.ErrPayloadTooLarge, len(f.Payload), PayloadCapacity)
	}
	buf := make([]byte, Size)
	binary.BigEndian.PutUint32(buf[0:4], EncodeHeaderWord(f.Kind, f.Signal))
	binary.BigEndian.PutUint32(buf[4:8], f.Length)
	copy(buf[HeaderLen:], f.Payload)
	return buf, nil
}

// Unmarshal decodes one Size-byte frame. Unknown header bit patterns fail with
// ErrUnrecognizedFrame; the returned frame still carries whatever was decoded.
func Unmarshal(b []byte) (Frame, error) {
	if len(b) != Size {
		return Frame{}, fmt.Errorf("%w: frame is %d bytes, want %d", protocol.ErrFrameCorrupted, len(b), Size)
	}
	word := binary.BigEndian.Uint32(b[0:4])
	kind, signal := DecodeHeaderWord(word)
	payload := b[HeaderLen:]
	if n := bytes.IndexByte(payload, 0); n >= 0 {
		payload = payload[:n]
	}
	f := Frame{
		Kind:    kind,
		Signal:  signal,
		Length:  binary.BigEndian.Uint32(b[4:8]),
		Payload: append([]byte(nil), payload...),
	}
	if word&unusedMask != 0 {
		return f, fmt.Errorf("%w: unused header bits set (0x%08x)", protocol.ErrUnrecognizedFrame, word)
	}
	if !signal.Valid() {
		return f, fmt.Errorf("%w: signal=%s", protocol.ErrUnrecognizedFrame, signal)
	}
	return f, nil
}

// ReadFrame blocks until one full frame has been read from r.
func ReadFrame(r io.Reader) (Frame, error) {
	buf := make([]byte, Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Frame{}, protocol.ClassifyIOError(err)
	}
	return Unmarshal(buf)
}

// WriteFrame writes header and payload with a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := Marshal(f)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return protocol.ClassifyIOError(err)
	}
	return nil
}

// EncodeHeaderWord packs kind into bits 0-1 and signal into bits 2-4.
func EncodeHeaderWord(kind Kind, signal Signal) uint32 {
	return uint32(kind)&kindMask | (uint32(signal)&signalMask)<<signalShift
}

func DecodeHeaderWord(word uint32) (Kind, Signal) {
	return Kind(word & kindMask), Signal((word >> signalShift) & signalMask)
}
