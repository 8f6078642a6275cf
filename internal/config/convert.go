package config

import (
	"github.com/danmuck/peerchat/internal/session"
)

// ToSession converts the document into session settings. Unset values
// fall back to session defaults.
func (c PeerConfig) ToSession() (session.Config, error) {
	d, err := c.Session.durations()
	if err != nil {
		return session.Config{}, err
	}
	cfg := session.Config{
		HandshakeTimeout:     d.handshake,
		ReadTimeout:          d.read,
		WriteTimeout:         d.write,
		TransferTimeout:      d.transfer,
		MaxHandshakeAttempts: c.Session.MaxHandshakeAttempts,
		Backoff: session.BackoffConfig{
			InitialDelay: d.backoffInitial,
			Multiplier:   c.Session.BackoffMultiplier,
			MaxDelay:     d.backoffMax,
			Jitter:       c.Session.BackoffJitter,
		},
		LocalName:       c.Name,
		PeerName:        c.PeerName,
		DownloadDir:     c.DownloadDir,
		MaxTransferSize: c.MaxTransferBytes,
	}
	return cfg.WithDefaults(), nil
}
