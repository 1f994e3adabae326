package publish

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveToken resolves an upload token: the environment variable wins,
// then the token file (the pipeline's secret is materialized as a file,
// e.g. ~/.pypi_token). Whitespace is trimmed so a trailing newline in the
// file does not corrupt the Authorization header.
func ResolveToken(tokenEnv, tokenFile string) (string, error) {
	if tokenEnv != "" {
		if v := strings.TrimSpace(os.Getenv(tokenEnv)); v != "" {
			return v, nil
		}
	}
	if tokenFile != "" {
		path := expandHome(tokenFile)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read token file %s: %w", path, err)
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("token file %s is empty", path)
	}
	if tokenEnv != "" {
		return "", fmt.Errorf("environment variable %s is unset or empty", tokenEnv)
	}
	return "", fmt.Errorf("no token source configured")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
