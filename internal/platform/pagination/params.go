package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	domain "github.com/tiendaplus/api/internal/domain"
)

const (
	// DefaultPageSize is used when a list request omits pageSize or sends a non-positive one.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps pageSize so a single request cannot scan a whole store.
	DefaultMaxPageSize = 100
)

// Cursor is the opaque payload carried by page tokens.
type Cursor struct {
	Offset int `json:"o,omitempty"`
}

// Sort is the single sort key a list endpoint accepts. An empty Field keeps the repository default.
type Sort struct {
	Field string
	Desc  bool
}

// Params is the page window and sort key read from a list request.
type Params struct {
	Page   domain.Pagination
	Cursor Cursor
	Sort   Sort
}

// Options configure Parse per endpoint.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	SortFields      []string
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidOrderBy   = errors.New("pagination: invalid order_by")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FromRequest parses the list query parameters of r.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads pageSize, pageToken and order_by (orderBy is accepted too). The sort key is
// "field", "-field" or "field asc|desc"; only fields listed in opts.SortFields are accepted.
func Parse(values url.Values, opts Options) (Params, error) {
	size, err := pageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{Page: domain.Pagination{PageSize: size}}

	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.Page.PageToken = token
		params.Cursor = cursor
	}

	raw := strings.TrimSpace(values.Get("order_by"))
	if raw == "" {
		raw = strings.TrimSpace(values.Get("orderBy"))
	}
	if raw != "" {
		sort, err := parseSort(raw, opts.SortFields)
		if err != nil {
			return Params{}, err
		}
		params.Sort = sort
	}
	return params, nil
}

func pageSize(raw string, opts Options) (int, error) {
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	fallback := opts.DefaultPageSize
	if fallback <= 0 || fallback > maxSize {
		fallback = min(DefaultPageSize, maxSize)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	switch {
	case value <= 0:
		return fallback, nil
	case value > maxSize:
		return maxSize, nil
	default:
		return value, nil
	}
}

func parseSort(raw string, allowed []string) (Sort, error) {
	if strings.Contains(raw, ",") {
		return Sort{}, fmt.Errorf("%w: only one sort key is supported", ErrInvalidOrderBy)
	}

	var sort Sort
	if strings.HasPrefix(raw, "-") {
		sort.Desc = true
		raw = raw[1:]
	}
	segments := strings.Fields(strings.ReplaceAll(raw, ":", " "))
	switch {
	case len(segments) == 0:
		return Sort{}, fmt.Errorf("%w: empty value", ErrInvalidOrderBy)
	case len(segments) > 2, sort.Desc && len(segments) == 2:
		return Sort{}, fmt.Errorf("%w: invalid format %q", ErrInvalidOrderBy, raw)
	}
	sort.Field = strings.ToLower(segments[0])
	if len(segments) == 2 {
		switch strings.ToLower(segments[1]) {
		case "asc":
		case "desc":
			sort.Desc = true
		default:
			return Sort{}, fmt.Errorf("%w: invalid direction %q", ErrInvalidOrderBy, segments[1])
		}
	}

	for _, field := range allowed {
		if field == sort.Field {
			return sort, nil
		}
	}
	return Sort{}, fmt.Errorf("%w: field %q is not sortable", ErrInvalidOrderBy, sort.Field)
}
