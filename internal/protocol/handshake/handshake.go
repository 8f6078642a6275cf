// Package handshake runs the one-time connection confirmation exchange.
//
// Acceptor: ConnRequest in, ConnAck out, Ack in.
// Initiator: ConnRequest out, ConnAck in, Ack out.
//
// One call is one attempt. Callers retry from scratch; no state survives a
// failed attempt.
package handshake

import (
	"fmt"
	"io"

	"github.com/danmuck/peerchat/internal/protocol"
	"github.com/danmuck/peerchat/internal/protocol/frame"
)

const (
	requestText = "Connection request"
	connAckText = "Connection request acknowledged"
	ackText     = "Acknowledged"
)

// Accept runs the acceptor side of one attempt.
func Accept(rw io.ReadWriter) error {
	if err := expect(rw, frame.SignalConnRequest); err != nil {
		return err
	}
	if err := send(rw, frame.SignalConnAck, connAckText); err != nil {
		return err
	}
	return expect(rw, frame.SignalAck)
}

// Initiate runs the initiator side of one attempt.
func Initiate(rw io.ReadWriter) error {
	if err := send(rw, frame.SignalConnRequest, requestText); err != nil {
		return err
	}
	if err := expect(rw, frame.SignalConnAck); err != nil {
		return err
	}
	return send(rw, frame.SignalAck, ackText)
}

func send(w io.Writer, signal frame.Signal, text string) error {
	f, err := frame.Encode(frame.KindMessage, signal, text)
	if err != nil {
		return err
	}
	return frame.WriteFrame(w, f)
}

// expect reads one frame and fails unless it carries want. Only the signal is
// checked, matching what the acceptor has always required of the initiator.
func expect(r io.Reader, want frame.Signal) error {
	f, err := frame.ReadFrame(r)
	if err != nil {
		if protocol.IsFatal(err) {
			return err
		}
		return fmt.Errorf("%w: waiting for %s: %v", protocol.ErrHandshakeFailed, want, err)
	}
	if f.Signal != want {
		return fmt.Errorf("%w: expected %s, got %s", protocol.ErrHandshakeFailed, want, f.Signal)
	}
	return nil
}
