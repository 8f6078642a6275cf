// Package scripted provides an operator that replays canned input lines.
package scripted

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/peerchat/internal/operator"
)

// Operator answers prompts from Lines in order and records everything shown.
// Once Lines is exhausted Prompt fails with operator.ErrNoInput.
type Operator struct {
	mu      sync.Mutex
	lines   []string
	shown   []string
	prompts []string
}

var _ operator.Operator = (*Operator)(nil)

func New(lines ...string) *Operator {
	return &Operator{lines: append([]string(nil), lines...)}
}

func (o *Operator) Prompt(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prompts = append(o.prompts, text)
	if len(o.lines) == 0 {
		return "", fmt.Errorf("%w: script exhausted", operator.ErrNoInput)
	}
	line := o.lines[0]
	o.lines = o.lines[1:]
	return line, nil
}

func (o *Operator) Display(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shown = append(o.shown, text)
}

func (o *Operator) Shown() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.shown...)
}

func (o *Operator) Prompts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.prompts...)
}

// Saw reports whether any displayed line contains substr.
func (o *Operator) Saw(substr string) bool {
	for _, line := range o.Shown() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func (o *Operator) Remaining() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.lines)
}
