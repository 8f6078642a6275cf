package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# peerchat configuration
# Without connect set, peerchat listens on port and accepts one peer.
# admin.addr enables the read-only HTTP view (/health, /session, /metrics).

`

// Template renders the default document.
func Template() ([]byte, error) {
	body, err := toml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("render config template: %w", err)
	}
	return append([]byte(templateHeader), body...), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, template, 0o600)
}
