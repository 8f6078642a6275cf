// Package peer opens the single TCP connection a session runs over.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const DefaultPort = 12345

var (
	ErrInvalidPort = errors.New("peer: invalid port")
	ErrSocket      = errors.New("peer: socket creation failed")
	ErrBind        = errors.New("peer: bind failed")
	ErrAccept      = errors.New("peer: accept failed")
	ErrConnect     = errors.New("peer: connect failed")
)

// ParsePort validates the optional positional port. Empty means DefaultPort.
func ParsePort(arg string) (int, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return DefaultPort, nil
	}
	port, err := strconv.Atoi(arg)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, arg)
	}
	return port, nil
}

// DialAddr appends port to a bare host.
func DialAddr(target string, port int) string {
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target
	}
	return net.JoinHostPort(target, strconv.Itoa(port))
}

// AcceptOne listens on addr, accepts exactly one connection, and closes the
// listener. A canceled ctx aborts the wait.
func AcceptOne(ctx context.Context, addr string, logger zerolog.Logger) (net.Conn, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyListenError(err)
	}
	defer ln.Close()
	logger.Info().Str("addr", ln.Addr().String()).Msg("waiting for peer")

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrAccept, err)
	}
	logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("peer connected")
	return conn, nil
}

func Dial(ctx context.Context, addr string, timeout time.Duration, logger zerolog.Logger) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isSocketError(err) {
			return nil, fmt.Errorf("%w: %v", ErrSocket, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, addr, err)
	}
	logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("connected to peer")
	return conn, nil
}

func classifyListenError(err error) error {
	if isSocketError(err) {
		return fmt.Errorf("%w: %v", ErrSocket, err)
	}
	return fmt.Errorf("%w: %v", ErrBind, err)
}

// isSocketError reports failures to allocate a socket at all, as opposed to
// failures to bind or reach an address.
func isSocketError(err error) bool {
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.EAFNOSUPPORT) ||
		errors.Is(err, syscall.EPROTONOSUPPORT)
}
