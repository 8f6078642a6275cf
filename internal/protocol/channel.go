package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// Channel is the ordered, reliable byte stream owned by one session.
// net.Conn satisfies it.
type Channel interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Deadline converts a relative timeout into an absolute deadline.
// A non-positive timeout yields the zero time, which clears the deadline.
func Deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// ClassifyIOError maps transport errors onto the protocol taxonomy.
func ClassifyIOError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrChannelClosed), errors.Is(err, ErrTimeout):
		return err
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	return err
}
