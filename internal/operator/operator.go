// Package operator is the human side of a session: prompts and display.
package operator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

var ErrNoInput = errors.New("operator: input closed")

// Operator supplies typed lines and shows protocol output.
type Operator interface {
	Prompt(ctx context.Context, text string) (string, error)
	Display(text string)
}

// Confirm asks a Y/N question, re-prompting until one of the two is typed.
func Confirm(ctx context.Context, op Operator, question string) (bool, error) {
	text := question
	for {
		line, err := op.Prompt(ctx, text)
		if err != nil {
			return false, err
		}
		switch strings.TrimSpace(line) {
		case "Y":
			return true, nil
		case "N":
			return false, nil
		}
		text = "Invalid input, try again : "
	}
}

type lineResult struct {
	line string
	err  error
}

// Console reads lines from in and writes prompts and output to out.
// Lines are read on a background goroutine so a prompt can be abandoned
// when its context ends.
type Console struct {
	out   io.Writer
	mu    sync.Mutex
	lines chan lineResult
}

func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{
		out:   out,
		lines: make(chan lineResult),
	}
	go c.readLines(in)
	return c
}

func (c *Console) readLines(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		c.lines <- lineResult{line: strings.TrimRight(scanner.Text(), "\r")}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	for {
		c.lines <- lineResult{err: fmt.Errorf("%w: %v", ErrNoInput, err)}
	}
}

func (c *Console) Prompt(ctx context.Context, text string) (string, error) {
	if text != "" {
		c.Display(text)
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-c.lines:
		return res.line, res.err
	}
}

func (c *Console) Display(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, text)
}
