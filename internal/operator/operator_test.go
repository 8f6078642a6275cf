package operator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
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

func TestConfirmRepromptsOnInvalidInput(t *testing.T) {
	out := &syncBuffer{}
	c := NewConsole(strings.NewReader("maybe\ny\nY\n"), out)
	ok, err := Confirm(context.Background(), c, "Send (Y/N) : ")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !ok {
		t.Fatalf("expected acceptance")
	}
	if got := strings.Count(out.String(), "Invalid input, try again"); got != 2 {
		t.Fatalf("expected two re-prompts, got %d: %q", got, out.String())
	}
}

func TestConfirmDecline(t *testing.T) {
	c := NewConsole(strings.NewReader("N\n"), &syncBuffer{})
	ok, err := Confirm(context.Background(), c, "Send (Y/N) : ")
	if err != nil || ok {
		t.Fatalf("expected decline, got ok=%v err=%v", ok, err)
	}
}

func TestConsolePromptEOF(t *testing.T) {
	c := NewConsole(strings.NewReader("only\r\n"), &syncBuffer{})
	line, err := c.Prompt(context.Background(), "")
	if err != nil || line != "only" {
		t.Fatalf("unexpected first line %q err=%v", line, err)
	}
	if _, err := c.Prompt(context.Background(), ""); !errors.Is(err, ErrNoInput) {
		t.Fatalf("expected ErrNoInput, got %v", err)
	}
}

func TestConsolePromptHonorsContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := NewConsole(r, &syncBuffer{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Prompt(ctx, ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
