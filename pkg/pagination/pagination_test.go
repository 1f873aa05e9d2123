package pagination

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
)

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -3: DefaultLimit, 10: 10, 500: MaxLimit}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCursorStringParses(t *testing.T) {
	want := Cursor{CreatedAt: time.Date(2026, 5, 1, 8, 30, 0, 123, time.UTC), ID: uuid.New()}
	got, err := ParseCursor(want.String())
	if err != nil {
		t.Fatalf("ParseCursor() error: %v", err)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || got.ID != want.ID {
		t.Fatalf("cursor mismatch: %+v vs %+v", got, want)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	if c, err := ParseCursor("  "); err != nil || c != nil {
		t.Fatalf("blank cursor should be first page, got %v %v", c, err)
	}
	garbage := []string{
		"%%%",
		base64.RawURLEncoding.EncodeToString([]byte("not json")),
		base64.RawURLEncoding.EncodeToString([]byte(`{"t":0,"id":"` + uuid.NewString() + `"}`)),
		base64.RawURLEncoding.EncodeToString([]byte(`{"t":5}`)),
	}
	for _, raw := range garbage {
		_, err := ParseCursor(raw)
		if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("expected %q to fail validation, got %v", raw, err)
		}
	}
}

func TestPageReturnsNextCursor(t *testing.T) {
	rows := []Cursor{
		{CreatedAt: time.Unix(3, 0).UTC(), ID: uuid.New()},
		{CreatedAt: time.Unix(2, 0).UTC(), ID: uuid.New()},
		{CreatedAt: time.Unix(1, 0).UTC(), ID: uuid.New()},
	}
	identity := func(c Cursor) Cursor { return c }
	var askedFor int
	fetch := func(after *Cursor, limit int) ([]Cursor, error) {
		askedFor = limit
		if after == nil {
			return rows[:min(limit, len(rows))], nil
		}
		for i, row := range rows {
			if row.ID == after.ID {
				rest := rows[i+1:]
				return rest[:min(limit, len(rest))], nil
			}
		}
		return nil, nil
	}

	page, next, err := Page(Params{Limit: 2}, fetch, identity)
	if err != nil {
		t.Fatalf("Page() error: %v", err)
	}
	if askedFor != 3 {
		t.Fatalf("expected one buffered row, fetch asked for %d", askedFor)
	}
	if len(page) != 2 || next == "" {
		t.Fatalf("expected two rows and a cursor, got %d %q", len(page), next)
	}

	page, next, err = Page(Params{Limit: 2, Cursor: next}, fetch, identity)
	if err != nil {
		t.Fatalf("Page() error: %v", err)
	}
	if len(page) != 1 || page[0].ID != rows[2].ID || next != "" {
		t.Fatalf("expected last page without cursor, got %d %q", len(page), next)
	}
}

func TestPagePassesFetchErrorsThrough(t *testing.T) {
	boom := errors.New("db down")
	_, _, err := Page(Params{}, func(*Cursor, int) ([]int, error) { return nil, boom }, func(int) Cursor { return Cursor{} })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}

	called := false
	_, _, err = Page(Params{Cursor: "%%%"}, func(*Cursor, int) ([]int, error) { called = true; return nil, nil }, func(int) Cursor { return Cursor{} })
	if err == nil || called {
		t.Fatalf("bad cursor must fail before fetch, err=%v called=%v", err, called)
	}
}
