package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/peerchat/internal/config"
)

// loadPeerConfig overlays only the keys present in path onto the defaults.
func loadPeerConfig(path string) (config.PeerConfig, error) {
	cfg := config.Default()

	var raw config.PeerConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.PeerConfig{}, fmt.Errorf("load peerchat config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return config.PeerConfig{}, fmt.Errorf("load peerchat config: unknown keys %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("peer_name") {
		cfg.PeerName = strings.TrimSpace(raw.PeerName)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("connect") {
		cfg.Connect = strings.TrimSpace(raw.Connect)
	}
	if meta.IsDefined("download_dir") {
		cfg.DownloadDir = strings.TrimSpace(raw.DownloadDir)
	}
	if meta.IsDefined("max_transfer_bytes") {
		cfg.MaxTransferBytes = raw.MaxTransferBytes
	}

	if meta.IsDefined("admin", "addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = normalizeOrigins(raw.Admin.CorsOrigins)
	}

	s := raw.Session
	if meta.IsDefined("session", "handshake_timeout") {
		cfg.Session.HandshakeTimeout = s.HandshakeTimeout
	}
	if meta.IsDefined("session", "read_timeout") {
		cfg.Session.ReadTimeout = s.ReadTimeout
	}
	if meta.IsDefined("session", "write_timeout") {
		cfg.Session.WriteTimeout = s.WriteTimeout
	}
	if meta.IsDefined("session", "transfer_timeout") {
		cfg.Session.TransferTimeout = s.TransferTimeout
	}
	if meta.IsDefined("session", "max_handshake_attempts") {
		cfg.Session.MaxHandshakeAttempts = s.MaxHandshakeAttempts
	}
	if meta.IsDefined("session", "backoff_initial") {
		cfg.Session.BackoffInitial = s.BackoffInitial
	}
	if meta.IsDefined("session", "backoff_max") {
		cfg.Session.BackoffMax = s.BackoffMax
	}
	if meta.IsDefined("session", "backoff_multiplier") {
		cfg.Session.BackoffMultiplier = s.BackoffMultiplier
	}
	if meta.IsDefined("session", "backoff_jitter") {
		cfg.Session.BackoffJitter = s.BackoffJitter
	}

	if err := config.Validate(cfg); err != nil {
		return config.PeerConfig{}, err
	}
	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
