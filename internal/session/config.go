package session

import (
	"time"

	"github.com/danmuck/peerchat/internal/protocol/link"
	"github.com/danmuck/peerchat/internal/transfer"
)

// Config defines session timeouts, handshake retries, and display names.
type Config struct {
	HandshakeTimeout time.Duration
	// ReadTimeout bounds each chat frame read. Zero waits for the peer's
	// operator indefinitely.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// TransferTimeout bounds each raw read while a file streams.
	TransferTimeout      time.Duration
	MaxHandshakeAttempts int
	Backoff              BackoffConfig

	LocalName       string
	PeerName        string
	DownloadDir     string
	MaxTransferSize uint64
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     5 * time.Second,
		ReadTimeout:          0,
		WriteTimeout:         15 * time.Second,
		TransferTimeout:      30 * time.Second,
		MaxHandshakeAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		MaxTransferSize: transfer.DefaultConfig().MaxSize,
	}
}

// WithDefaults fills unset fields. ReadTimeout is left alone since zero is
// meaningful there.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.TransferTimeout <= 0 {
		c.TransferTimeout = def.TransferTimeout
	}
	if c.MaxHandshakeAttempts <= 0 {
		c.MaxHandshakeAttempts = def.MaxHandshakeAttempts
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	if c.MaxTransferSize == 0 {
		c.MaxTransferSize = def.MaxTransferSize
	}
	return c
}

func (c Config) linkConfig() link.Config {
	return link.Config{
		ReadTimeout:   c.ReadTimeout,
		WriteTimeout:  c.WriteTimeout,
		StreamTimeout: c.TransferTimeout,
	}
}
