package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// reference is a parsed secret://name?version=N&project=P value.
type reference struct {
	name    string
	version string
	project string
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	q := u.Query()
	ref := reference{
		name:    name,
		version: strings.TrimSpace(q.Get("version")),
		project: strings.TrimSpace(q.Get("project")),
	}
	if ref.version == "" {
		ref.version = "latest"
	}
	return ref, nil
}

func (r reference) canonical() string {
	return "secret://" + r.name
}

func (r reference) cacheKey() string {
	return r.canonical() + "#" + r.version
}

func (r reference) resourceName(project string) string {
	return "projects/" + project + "/secrets/" + r.name + "/versions/" + r.version
}
