package validators

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
	"github.com/angelmondragon/pactsign-backend/pkg/pagination"
)

// Query reads trimmed query-string values and reports the first bad one as
// a validation error naming the field.
type Query struct {
	values url.Values
	err    error
}

func NewQuery(r *http.Request) *Query {
	return &Query{values: r.URL.Query()}
}

func (q *Query) String(key string) string {
	return strings.TrimSpace(q.values.Get(key))
}

// Int returns def when key is absent. Values outside [lo, hi] are rejected.
func (q *Query) Int(key string, def, lo, hi int) int {
	raw := q.String(key)
	if raw == "" || q.err != nil {
		return def
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		q.err = pkgerrors.Newf(pkgerrors.CodeValidation, "%s must be an integer", key).
			WithDetails(map[string]any{"field": key})
	case n < lo || n > hi:
		q.err = pkgerrors.Newf(pkgerrors.CodeValidation, "%s must be between %d and %d", key, lo, hi).
			WithDetails(map[string]any{"field": key, "min": lo, "max": hi})
	default:
		return n
	}
	return def
}

func (q *Query) Err() error {
	return q.err
}

// ParsePagination reads the limit and cursor query parameters.
func ParsePagination(r *http.Request) (pagination.Params, error) {
	q := NewQuery(r)
	params := pagination.Params{
		Limit:  q.Int("limit", pagination.DefaultLimit, 1, pagination.MaxLimit),
		Cursor: q.String("cursor"),
	}
	if err := q.Err(); err != nil {
		return pagination.Params{}, err
	}
	return params, nil
}
