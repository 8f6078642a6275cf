package peer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/peerchat/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func TestParsePort(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"", DefaultPort, true},
		{"8080", 8080, true},
		{" 1 ", 1, true},
		{"65535", 65535, true},
		{"0", 0, false},
		{"65536", 0, false},
		{"-3", 0, false},
		{"http", 0, false},
	}
	for _, tc := range cases {
		got, err := ParsePort(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParsePort(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidPort) {
			t.Fatalf("ParsePort(%q) expected ErrInvalidPort, got %v", tc.in, err)
		}
	}
}

func TestDialAddr(t *testing.T) {
	testlog.Start(t)
	if got := DialAddr("example.org", 12345); got != "example.org:12345" {
		t.Fatalf("unexpected addr %q", got)
	}
	if got := DialAddr("10.0.0.2:9000", 12345); got != "10.0.0.2:9000" {
		t.Fatalf("unexpected addr %q", got)
	}
	if got := DialAddr("::1", 80); got != "[::1]:80" {
		t.Fatalf("unexpected addr %q", got)
	}
}

func TestAcceptOneAndDial(t *testing.T) {
	testlog.Start(t)
	scratch, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("scratch listen: %v", err)
	}
	addr := scratch.Addr().String()
	_ = scratch.Close()

	ctx := context.Background()
	accepted := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := AcceptOne(ctx, addr, zerolog.Nop())
		acceptErr <- err
		accepted <- conn
	}()

	var conn net.Conn
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err = Dial(ctx, addr, time.Second, zerolog.Nop())
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := <-acceptErr; err != nil {
		t.Fatalf("accept: %v", err)
	}
	server := <-accepted
	defer server.Close()

	// Only one peer is accepted; the listener is gone.
	if _, err := Dial(ctx, addr, 200*time.Millisecond, zerolog.Nop()); !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect for second peer, got %v", err)
	}
}

func TestAcceptOneBindFailure(t *testing.T) {
	testlog.Start(t)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	if _, err := AcceptOne(context.Background(), busy.Addr().String(), zerolog.Nop()); !errors.Is(err, ErrBind) {
		t.Fatalf("expected ErrBind, got %v", err)
	}
}

func TestAcceptOneCanceled(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := AcceptOne(ctx, "127.0.0.1:0", zerolog.Nop())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("accept did not stop on cancel")
	}
}

func TestDialRefused(t *testing.T) {
	testlog.Start(t)
	scratch, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := scratch.Addr().String()
	_ = scratch.Close()

	if _, err := Dial(context.Background(), addr, 200*time.Millisecond, zerolog.Nop()); !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
}
