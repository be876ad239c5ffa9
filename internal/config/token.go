package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureAPIToken returns the API bearer token for the local daemon,
// generating and persisting one under the data dir on first use. A token
// supplied via LIFELEDGER_API_TOKEN (already present in cfg) wins over the
// stored one.
func EnsureAPIToken(cfg Config) (string, error) {
	if cfg.Server.APIToken != "" {
		return cfg.Server.APIToken, nil
	}

	path := filepath.Join(cfg.Storage.DataDir, "api_token")
	if data, err := os.ReadFile(path); err == nil {
		token := strings.TrimSpace(string(data))
		if token != "" {
			return token, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persisting API token: %w", err)
	}
	return token, nil
}
