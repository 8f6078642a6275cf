package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/peerchat/internal/peer"
	"github.com/pelletier/go-toml/v2"
)

// PeerConfig is the on-disk configuration document for one peer.
type PeerConfig struct {
	Name             string        `toml:"name"`
	PeerName         string        `toml:"peer_name"`
	Port             int           `toml:"port"`
	Connect          string        `toml:"connect"`
	DownloadDir      string        `toml:"download_dir"`
	MaxTransferBytes uint64        `toml:"max_transfer_bytes"`
	Admin            AdminConfig   `toml:"admin"`
	Session          SessionConfig `toml:"session"`
}

type AdminConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

// SessionConfig keeps durations as strings ("5s", "250ms") in the document.
type SessionConfig struct {
	HandshakeTimeout     string  `toml:"handshake_timeout"`
	ReadTimeout          string  `toml:"read_timeout"`
	WriteTimeout         string  `toml:"write_timeout"`
	TransferTimeout      string  `toml:"transfer_timeout"`
	MaxHandshakeAttempts int     `toml:"max_handshake_attempts"`
	BackoffInitial       string  `toml:"backoff_initial"`
	BackoffMax           string  `toml:"backoff_max"`
	BackoffMultiplier    float64 `toml:"backoff_multiplier"`
	BackoffJitter        bool    `toml:"backoff_jitter"`
}

func Default() PeerConfig {
	return PeerConfig{
		Port:             peer.DefaultPort,
		MaxTransferBytes: 4 << 30,
		Admin: AdminConfig{
			CorsOrigins: []string{"http://localhost:3000"},
		},
		Session: SessionConfig{
			HandshakeTimeout:     "5s",
			ReadTimeout:          "0s",
			WriteTimeout:         "15s",
			TransferTimeout:      "30s",
			MaxHandshakeAttempts: 5,
			BackoffInitial:       "250ms",
			BackoffMax:           "5s",
			BackoffMultiplier:    2.0,
			BackoffJitter:        true,
		},
	}
}

// Decode parses a document over Default. Unknown keys are rejected.
func Decode(data []byte) (PeerConfig, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return PeerConfig{}, fmt.Errorf("config parse failed: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return PeerConfig{}, err
	}
	return cfg, nil
}

func Validate(cfg PeerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("config port out of range: %d", cfg.Port)
	}
	if cfg.MaxTransferBytes == 0 {
		return fmt.Errorf("config max_transfer_bytes must be positive")
	}
	if cfg.Session.MaxHandshakeAttempts < 1 {
		return fmt.Errorf("config session.max_handshake_attempts must be at least 1")
	}
	if cfg.Session.BackoffMultiplier != 0 && cfg.Session.BackoffMultiplier < 1 {
		return fmt.Errorf("config session.backoff_multiplier must be >= 1")
	}
	if _, err := cfg.Session.durations(); err != nil {
		return err
	}
	if strings.Contains(strings.TrimSpace(cfg.Connect), " ") {
		return fmt.Errorf("config connect address contains spaces: %q", cfg.Connect)
	}
	return nil
}

type durations struct {
	handshake, read, write, transfer, backoffInitial, backoffMax time.Duration
}

func (s SessionConfig) durations() (durations, error) {
	var out durations
	fields := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"handshake_timeout", s.HandshakeTimeout, &out.handshake},
		{"read_timeout", s.ReadTimeout, &out.read},
		{"write_timeout", s.WriteTimeout, &out.write},
		{"transfer_timeout", s.TransferTimeout, &out.transfer},
		{"backoff_initial", s.BackoffInitial, &out.backoffInitial},
		{"backoff_max", s.BackoffMax, &out.backoffMax},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return durations{}, fmt.Errorf("parse session.%s: %w", f.key, err)
		}
		if d < 0 {
			return durations{}, fmt.Errorf("session.%s must not be negative", f.key)
		}
		*f.dst = d
	}
	return out, nil
}
