package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// env resolves keys with precedence explicit map > process environment > dotenv file.
type env struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func newEnv(options loaderOptions) (env, error) {
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return env{}, err
	}
	return env{explicit: options.envMap, system: options.useSystemEnv, dotenv: dotenv}, nil
}

func (e env) lookup(key string) (string, bool) {
	if v, ok := e.explicit[key]; ok {
		return v, true
	}
	if e.system {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
	}
	v, ok := e.dotenv[key]
	return v, ok
}

// values flattens every source into one map using the same precedence as lookup.
func (e env) values() map[string]string {
	out := make(map[string]string, len(e.dotenv)+len(e.explicit))
	for k, v := range e.dotenv {
		out[k] = v
	}
	if e.system {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				out[strings.TrimSpace(key)] = value
			}
		}
	}
	for k, v := range e.explicit {
		out[k] = v
	}
	return out
}

func (e env) str(key, fallback string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(e.str(key, "")); err == nil {
		return d
	}
	return fallback
}

func (e env) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(e.str(key, "")); err == nil {
		return n
	}
	return fallback
}

func (e env) boolean(key string, fallback bool) bool {
	switch strings.ToLower(e.str(key, "")) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func (e env) decimal(key, fallback string) decimal.Decimal {
	if d, err := decimal.NewFromString(strings.TrimSpace(e.str(key, ""))); err == nil {
		return d
	}
	return decimal.RequireFromString(fallback)
}

// list splits a comma separated value, dropping blanks.
func (e env) list(key string) []string {
	out := []string{}
	for _, part := range strings.Split(e.str(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// EnvironmentValues returns every key visible to Load, so callers can configure dependencies
// such as the secret fetcher before loading.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	e, err := newEnv(applyOptions(opts))
	if err != nil {
		return nil, err
	}
	return e.values(), nil
}

// readDotEnv returns nil without error when path is empty or the file does not exist.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	values, err := godotenv.Read(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}
