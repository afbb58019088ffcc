package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const maxPageSize = 1000

// Default page sizes per endpoint.
const (
	DefaultEnvironmentPageSize = 50
	DefaultPageSize            = 100
)

// ParamError is a client error in query parameters.
type ParamError struct {
	Param string
	Value string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid value %q for parameter %s", e.Value, e.Param)
}

// Page is a normalised page request.
type Page struct {
	Number int
	Size   int
}

// ParsePage reads page and pageSize. Missing values use page 1 and
// defaultSize; pageSize is capped.
func ParsePage(values url.Values, defaultSize int) (Page, error) {
	p := Page{Number: 1, Size: defaultSize}
	if v := strings.TrimSpace(values.Get("page")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Page{}, &ParamError{Param: "page", Value: v}
		}
		if n > 1 {
			p.Number = n
		}
	}
	if v := strings.TrimSpace(values.Get("pageSize")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Page{}, &ParamError{Param: "pageSize", Value: v}
		}
		if n > 0 {
			p.Size = n
		}
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p, nil
}

// boolFilter parses an optional boolean filter; nil means absent.
func boolFilter(values url.Values, name string) (*bool, error) {
	v := strings.TrimSpace(values.Get(name))
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, &ParamError{Param: name, Value: v}
	}
	return &b, nil
}

func stringFilter(values url.Values, name string) string {
	return strings.TrimSpace(values.Get(name))
}

func matchString(filter, value string) bool {
	return filter == "" || filter == value
}

func matchBool(filter *bool, value bool) bool {
	return filter == nil || *filter == value
}

// matchLevel compares risk levels case-insensitively by upper-casing the filter.
func matchLevel(filter, level string) bool {
	return filter == "" || strings.ToUpper(filter) == level
}

// page slices items and returns the pagination block.
func page[T any](items []T, p Page) ([]T, Pagination) {
	meta, start, end := paginate(len(items), p)
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out, meta
}
