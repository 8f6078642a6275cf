package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/peerchat/internal/config"
	"github.com/danmuck/peerchat/internal/testutil/testlog"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRunInitConfig(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "peerchat.toml")
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-init-config", path}, strings.NewReader(""), &stdout, &stderr); code != exitOK {
		t.Fatalf("unexpected exit code %d stderr=%s", code, stderr.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("template not written: %v", err)
	}
	loaded, err := config.Decode(data)
	if err != nil {
		t.Fatalf("template does not decode: %v", err)
	}
	if loaded.Port != config.Default().Port {
		t.Fatalf("unexpected template port %d", loaded.Port)
	}
	if code := run(context.Background(), []string{"-init-config", path}, strings.NewReader(""), &stdout, &stderr); code != exitConfig {
		t.Fatalf("expected exitConfig for existing file, got %d", code)
	}
}

func TestRunArgumentErrors(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		args []string
		want int
	}{
		{[]string{"notaport"}, exitInvalidPort},
		{[]string{"70000"}, exitInvalidPort},
		{[]string{"1", "2"}, exitInvalidPort},
		{[]string{"-no-such-flag"}, exitConfig},
		{[]string{"-config", filepath.Join(t.TempDir(), "missing.toml")}, exitConfig},
		{[]string{"-connect", "127.0.0.1", strconv.Itoa(freePort(t))}, exitConnect},
	}
	for _, tc := range cases {
		var stdout, stderr bytes.Buffer
		if code := run(context.Background(), tc.args, strings.NewReader(""), &stdout, &stderr); code != tc.want {
			t.Fatalf("run(%v) = %d, want %d stderr=%s", tc.args, code, tc.want, stderr.String())
		}
	}
}

func TestRunBindFailure(t *testing.T) {
	testlog.Start(t)
	busy, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{strconv.Itoa(port)}, strings.NewReader(""), &stdout, &stderr); code != exitBind {
		t.Fatalf("expected exitBind, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunAdminBindFailureStopsBeforeAccept(t *testing.T) {
	testlog.Start(t)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	var stdout, stderr bytes.Buffer
	args := []string{"-admin", busy.Addr().String(), strconv.Itoa(freePort(t))}
	if code := run(context.Background(), args, strings.NewReader(""), &stdout, &stderr); code != exitConfig {
		t.Fatalf("expected exitConfig, got %d stderr=%s", code, stderr.String())
	}
	if strings.Contains(stdout.String(), "Waiting for client") {
		t.Fatalf("listener started accepting despite admin failure:\n%s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "admin: listen failed") {
		t.Fatalf("missing admin error:\n%s", stderr.String())
	}
}

func TestRunListenerAndInitiatorChat(t *testing.T) {
	testlog.Start(t)
	port := strconv.Itoa(freePort(t))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	listenerOut := &syncBuffer{}
	listenerDone := make(chan int, 1)
	go func() {
		// The listener's operator types nothing, so it leaves after reading hello.
		listenerDone <- run(ctx, []string{"-name", "srv", port}, strings.NewReader(""), listenerOut, io.Discard)
	}()

	initiatorOut := &syncBuffer{}
	code := exitConnect
	for attempt := 0; attempt < 50 && code == exitConnect; attempt++ {
		code = run(ctx, []string{"-connect", "127.0.0.1", "-name", "cli", port}, strings.NewReader("hello\n"), initiatorOut, io.Discard)
		if code == exitConnect {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if code != exitOK {
		t.Fatalf("initiator exit code %d", code)
	}
	if lc := <-listenerDone; lc != exitOK {
		t.Fatalf("listener exit code %d", lc)
	}

	if !strings.Contains(listenerOut.String(), "- - CLIENT - -\nhello") {
		t.Fatalf("listener did not show message:\n%s", listenerOut.String())
	}
	if !strings.Contains(initiatorOut.String(), "srv has exited the chat...") {
		t.Fatalf("initiator did not see exit:\n%s", initiatorOut.String())
	}
	if !strings.Contains(listenerOut.String(), "Chat is in session") {
		t.Fatalf("banner missing:\n%s", listenerOut.String())
	}
}
