package envfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultName is the file name offered when the environment file is exported.
const DefaultName = ".env"

// ConfigureEnv renders the environment file handed to the delivery service.
func ConfigureEnv(amount, address string) string {
	var b strings.Builder
	b.WriteString("# URL=")
	b.WriteString(amount)
	b.WriteString("\n# ACCOUNT_USED_FOR_KEY_CREATION=")
	b.WriteString(address)
	b.WriteString("\n# MESSAGE_USED_FOR_KEY_CREATION=")
	return b.String()
}

// Write copies content to w.
func Write(w io.Writer, content string) error {
	_, err := io.WriteString(w, content)
	return err
}

// Save writes content to dir/name through a temp file that is always closed,
// and returns the final path.
func Save(dir, name, content string) (string, error) {
	if name == "" {
		name = DefaultName
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".retrans-env-*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := Write(tmp, content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write env: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync env: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close env: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("rename env: %w", err)
	}
	return path, nil
}
