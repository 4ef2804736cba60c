package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// EnvFileVar names env files to load before the defaults, comma separated.
const EnvFileVar = "TOWERBOT_ENV_FILE"

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// envFileCandidates lists the env files a deployment may ship, most specific
// first: TOWERBOT_ENV_FILE entries, the towerbot home, then the working
// directory's .env as the container images mount it.
func envFileCandidates() []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(EnvFileVar), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if home, err := resolveHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ConfigDir, "env"))
	}
	return append(out, ".env")
}

// LoadEnvFileCandidates applies every readable candidate env file and returns
// the files it loaded. A variable already present in the process environment
// or set by an earlier file wins.
func LoadEnvFileCandidates() []string {
	var loaded []string
	seen := map[string]bool{}
	for _, p := range envFileCandidates() {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		n, err := loadEnvFile(abs)
		if err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("Config: env file skipped", "path", abs, "error", err)
			}
			continue
		}
		slog.Debug("Config: env file loaded", "path", abs, "vars", n)
		loaded = append(loaded, abs)
	}
	return loaded
}

// loadEnvFile sets the variables of path that are not yet set and returns how
// many it applied.
func loadEnvFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	vars, err := parseEnvFile(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	n := 0
	for _, kv := range vars {
		if _, set := os.LookupEnv(kv[0]); set {
			continue
		}
		if err := os.Setenv(kv[0], kv[1]); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// parseEnvFile reads KEY=VALUE lines in file order. It accepts an "export "
// prefix, single quotes (literal), double quotes (Go escapes such as \n) and
// " #" comments after unquoted values. Lines without a valid key are skipped.
func parseEnvFile(r io.Reader) ([][2]string, error) {
	var out [][2]string
	sc := bufio.NewScanner(r)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || !envKeyPattern.MatchString(key) {
			continue
		}
		v, err := envValue(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("line %d (%s): %w", lineNo, key, err)
		}
		out = append(out, [2]string{key, v})
	}
	return out, sc.Err()
}

func envValue(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	switch raw[0] {
	case '\'':
		end := strings.IndexByte(raw[1:], '\'')
		if end < 0 {
			return "", fmt.Errorf("unterminated single quote")
		}
		return raw[1 : end+1], nil
	case '"':
		end := closingQuote(raw)
		if end < 0 {
			return "", fmt.Errorf("unterminated double quote")
		}
		return strconv.Unquote(raw[:end+1])
	}
	if i := strings.Index(raw, " #"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw), nil
}

// closingQuote returns the index of the unescaped '"' closing raw[0].
func closingQuote(raw string) int {
	for i := 1; i < len(raw); i++ {
		switch raw[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}
