package handshake

import (
	"errors"
	"net"
	"testing"

	"github.com/danmuck/peerchat/internal/protocol"
	"github.com/danmuck/peerchat/internal/protocol/frame"
	"github.com/danmuck/peerchat/internal/testutil/testlog"
)

func TestAcceptInitiateSucceed(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	errc := make(chan error, 1)
	go func() { errc <- Initiate(b) }()
	if err := Accept(a); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("initiate: %v", err)
	}
}

func TestAcceptRejectsWrongFirstFrameAndIsRerunnable(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	errc := make(chan error, 1)
	go func() {
		bogus, err := frame.Encode(frame.KindMessage, frame.SignalPlain, "hello")
		if err != nil {
			errc <- err
			return
		}
		if err := frame.WriteFrame(b, bogus); err != nil {
			errc <- err
			return
		}
		errc <- Initiate(b)
	}()

	if err := Accept(a); !errors.Is(err, protocol.ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}
	if err := Accept(a); err != nil {
		t.Fatalf("second accept attempt: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("initiator: %v", err)
	}
}

func TestAcceptFailsWithoutFinalAck(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		req, _ := frame.Encode(frame.KindMessage, frame.SignalConnRequest, "hi")
		_ = frame.WriteFrame(b, req)
		_, _ = frame.ReadFrame(b)
		nack, _ := frame.Encode(frame.KindMessage, frame.SignalMessageError, "nope")
		_ = frame.WriteFrame(b, nack)
	}()

	if err := Accept(a); !errors.Is(err, protocol.ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}
}

func TestInitiateRejectsMissingConnAck(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		_, _ = frame.ReadFrame(a)
		wrong, _ := frame.Encode(frame.KindMessage, frame.SignalAck, "ack")
		_ = frame.WriteFrame(a, wrong)
	}()
	if err := Initiate(b); !errors.Is(err, protocol.ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}
}

func TestAcceptChannelClosed(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	_ = b.Close()
	defer a.Close()
	if err := Accept(a); !errors.Is(err, protocol.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}
