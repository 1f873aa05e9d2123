package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
)

const sendPattern = "/api/v1/contracts/{contractId}/send"

type fakeStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
		delete(f.ttls, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestMatchRule(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		pattern  string
		want     time.Duration
		ok       bool
		optional bool
	}{
		{"create", http.MethodPost, "/api/v1/contracts", defaultIdempotencyTTL, true, false},
		{"create trailing slash", http.MethodPost, "/api/v1/contracts/", defaultIdempotencyTTL, true, false},
		{"send", http.MethodPost, sendPattern, criticalIdempotencyTTL, true, false},
		{"cancel", http.MethodPost, "/api/v1/contracts/{contractId}/cancel", criticalIdempotencyTTL, true, false},
		{"requeue", http.MethodPost, "/api/admin/v1/email-outbox/{entryId}/requeue", defaultIdempotencyTTL, true, false},
		{"public sign", http.MethodPost, "/api/public/sign/{token}", criticalIdempotencyTTL, true, true},
		{"read", http.MethodGet, "/api/v1/contracts/{contractId}", 0, false, false},
		{"update", http.MethodPut, "/api/v1/contracts/{contractId}", 0, false, false},
	}

	for _, tt := range tests {
		rule, ok := matchRule(tt.method, tt.pattern)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if !ok {
			continue
		}
		if rule.ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, rule.ttl)
		}
		if rule.optional != tt.optional {
			t.Fatalf("%s: expected optional=%v", tt.name, tt.optional)
		}
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	store := newFakeStore()
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/contracts/abc/send", sendPattern, nil)
	resp := httptest.NewRecorder()
	Idempotency(store, nil)(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyMiddlewareOptionalHeaderPassesThrough(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPost, "/api/public/sign/tok", "/api/public/sign/{token}", strings.NewReader(`{}`))
		resp := httptest.NewRecorder()
		Idempotency(store, nil)(handler).ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", resp.Code)
		}
	}
	if calls != 2 || len(store.data) != 0 {
		t.Fatalf("expected pass-through without storage, calls=%d stored=%d", calls, len(store.data))
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	user1 := uuid.New()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"pending"}`))
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/contracts/abc/send", sendPattern, nil)
	req.Header.Set("Idempotency-Key", "abc")
	req = req.WithContext(WithActor(req.Context(), Actor{UserID: user1, Role: enums.UserRoleUser}))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected first response 200 got %d", resp.Code)
	}
	if resp.Header().Get(replayHeader) != "" {
		t.Fatal("first response must not be marked as a replay")
	}

	replay := requestWithPattern(http.MethodPost, "/api/v1/contracts/abc/send", sendPattern, nil)
	replay.Header.Set("Idempotency-Key", "abc")
	replay = replay.WithContext(WithActor(replay.Context(), Actor{UserID: user1, Role: enums.UserRoleUser}))
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, replay)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected replay status 200 got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type header preserved")
	}
	if rec.Header().Get(replayHeader) != "true" {
		t.Fatal("expected replay header")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"status":"pending"}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
	for key, ttl := range store.ttls {
		if ttl != criticalIdempotencyTTL {
			t.Fatalf("key %s stored with ttl %v", key, ttl)
		}
	}
}

func TestIdempotencyMiddlewareScopesKeysPerUser(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	for _, user := range []uuid.UUID{uuid.New(), uuid.New()} {
		req := requestWithPattern(http.MethodPost, "/api/v1/contracts/abc/send", sendPattern, nil)
		req.Header.Set("Idempotency-Key", "same")
		req = req.WithContext(WithActor(req.Context(), Actor{UserID: user, Role: enums.UserRoleUser}))
		Idempotency(store, nil)(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected each user to reach the handler, calls=%d", calls)
	}
}

func TestIdempotencyMiddlewareSkipsServerErrors(t *testing.T) {
	store := newFakeStore()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/contracts/abc/send", sendPattern, nil)
	req.Header.Set("Idempotency-Key", "k")
	Idempotency(store, nil)(handler).ServeHTTP(httptest.NewRecorder(), req)
	if len(store.data) != 0 {
		t.Fatalf("expected 5xx response not to be stored, got %v", store.data)
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/contracts", "/api/v1/contracts", strings.NewReader(`{"title":"a"}`))
	req.Header.Set("Idempotency-Key", "xyz")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	replay := requestWithPattern(http.MethodPost, "/api/v1/contracts", "/api/v1/contracts", strings.NewReader(`{"title":"b"}`))
	replay.Header.Set("Idempotency-Key", "xyz")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, replay)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.Error.Code)
	}
}

func TestIdempotencyMiddlewareRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	inner := 0
	var nested *httptest.ResponseRecorder
	var handler http.Handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner++
		if inner == 1 {
			dup := requestWithPattern(http.MethodPost, "/api/v1/contracts/abc/cancel", "/api/v1/contracts/{contractId}/cancel", strings.NewReader(`{"reason":"x"}`))
			dup.Header.Set("Idempotency-Key", "busy")
			nested = httptest.NewRecorder()
			mw(handler).ServeHTTP(nested, dup)
		}
		w.WriteHeader(http.StatusOK)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/contracts/abc/cancel", "/api/v1/contracts/{contractId}/cancel", strings.NewReader(`{"reason":"x"}`))
	req.Header.Set("Idempotency-Key", "busy")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", resp.Code)
	}
	if inner != 1 {
		t.Fatalf("duplicate reached the handler, calls=%d", inner)
	}
	if nested == nil || nested.Code != http.StatusConflict {
		t.Fatalf("expected in-flight duplicate to get 409, got %+v", nested)
	}
	for key := range store.data {
		if strings.HasSuffix(key, ":inflight") {
			t.Fatalf("in-flight marker %s was not released", key)
		}
	}
}

func TestIdempotencyMiddlewarePreservesBodyForHandler(t *testing.T) {
	store := newFakeStore()
	var got string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		got = string(raw)
		w.WriteHeader(http.StatusCreated)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/contracts", "/api/v1/contracts", strings.NewReader(`{"title":"lease"}`))
	req.Header.Set("Idempotency-Key", "body")
	Idempotency(store, nil)(handler).ServeHTTP(httptest.NewRecorder(), req)

	if got != `{"title":"lease"}` {
		t.Fatalf("handler saw body %q", got)
	}
}
