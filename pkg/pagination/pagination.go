// Package pagination implements keyset paging over (created_at, id).
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// Params is what list endpoints accept from the query string.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the position of the last row already returned. Rows strictly
// after it, in (created_at DESC, id DESC) order, form the next page.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

type cursorWire struct {
	At int64     `json:"t"`
	ID uuid.UUID `json:"id"`
}

// String renders the cursor as opaque URL-safe text.
func (c Cursor) String() string {
	raw, _ := json.Marshal(cursorWire{At: c.CreatedAt.UTC().UnixNano(), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ParseCursor returns nil for an empty value, meaning the first page.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var wire cursorWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if wire.At <= 0 || wire.ID == uuid.Nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, errors.New("cursor position incomplete"), "invalid cursor")
	}
	return &Cursor{CreatedAt: time.Unix(0, wire.At).UTC(), ID: wire.ID}, nil
}

// NormalizeLimit clamps limit into [1, MaxLimit], defaulting to DefaultLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Fetch loads up to limit rows strictly after the cursor (nil for the first
// page).
type Fetch[T any] func(after *Cursor, limit int) ([]T, error)

// Page asks fetch for one row more than requested so it can tell whether a
// next page exists. The returned cursor is "" on the last page. Fetch errors
// are returned unchanged.
func Page[T any](params Params, fetch Fetch[T], position func(T) Cursor) ([]T, string, error) {
	after, err := ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	limit := NormalizeLimit(params.Limit)
	rows, err := fetch(after, limit+1)
	if err != nil {
		return nil, "", err
	}
	if len(rows) <= limit {
		return rows, "", nil
	}
	rows = rows[:limit]
	return rows, position(rows[limit-1]).String(), nil
}
