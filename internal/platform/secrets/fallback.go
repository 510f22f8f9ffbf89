package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// fallbackFile is a dotenv file keyed by secret name, read once on first use. Names match
// case-insensitively with hyphens written as underscores, so secret://stripe-api-key reads
// STRIPE_API_KEY. A missing file is empty, not an error.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) get(name string) (string, bool, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", false, f.err
	}
	value, ok := f.values[fallbackKey(name)]
	return value, ok, nil
}

func (f *fallbackFile) load() {
	f.values = map[string]string{}
	if f.path == "" {
		return
	}
	raw, err := godotenv.Read(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return
	case err != nil:
		f.err = fmt.Errorf("secrets: unable to read fallback file %s: %w", f.path, err)
		return
	}
	for key, value := range raw {
		f.values[fallbackKey(key)] = value
	}
}

func fallbackKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}
