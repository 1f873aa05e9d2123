package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/pactsign-backend/api/responses"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/pactsign-backend/pkg/redis"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	inFlightTTL            = time.Minute

	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replay"
)

type idempotencyRule struct {
	method   string
	pattern  string
	ttl      time.Duration
	optional bool
}

// Patterns are chi route patterns, so path parameters stay in braces.
var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, pattern: "/api/v1/contracts", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, pattern: "/api/v1/contracts/{contractId}/resend", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, pattern: "/api/admin/v1/email-outbox/{entryId}/requeue", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, pattern: "/api/v1/contracts/{contractId}/send", ttl: criticalIdempotencyTTL},
	{method: http.MethodPost, pattern: "/api/v1/contracts/{contractId}/cancel", ttl: criticalIdempotencyTTL},
	// Signing links are opened from mail clients that cannot be relied on
	// to send a key, so the header is honored but not demanded.
	{method: http.MethodPost, pattern: "/api/public/sign/{token}", ttl: criticalIdempotencyTTL, optional: true},
}

// storedResponse is the JSON document kept in redis per key. Body is
// base64-encoded by encoding/json.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
	RequestHash string `json:"request_hash"`
}

// Idempotency replays the first non-5xx response for a (user, method, path,
// key) tuple. A second request arriving while the first is still running
// gets a retryable CONFLICT instead of executing twice.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := matchRule(r.Method, routePattern(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				if rule.optional {
					next.ServeHTTP(w, r)
					return
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			g := idempotencyGuard{
				store: store,
				logg:  logg,
				key:   store.IdempotencyKey(requestScope(r), clientKey),
				hash:  hashBody(body),
				ttl:   rule.ttl,
			}
			g.serve(w, r, next)
		})
	}
}

type idempotencyGuard struct {
	store pkgredis.IdempotencyStore
	logg  *logger.Logger
	key   string
	hash  string
	ttl   time.Duration
}

func (g idempotencyGuard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	stored, err := g.lookup(ctx)
	if err != nil {
		responses.WriteError(ctx, g.logg, w, err)
		return
	}
	if stored != nil {
		if stored.RequestHash != g.hash {
			responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
			return
		}
		replay(w, stored)
		return
	}

	marker := g.key + ":inflight"
	acquired, err := g.store.SetNX(ctx, marker, g.hash, inFlightTTL)
	if err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
		return
	}
	if !acquired {
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeConflict, "a request with this idempotency key is in progress"))
		return
	}
	defer func() {
		if err := g.store.Del(context.WithoutCancel(ctx), marker); err != nil {
			logError(ctx, g.logg, "release idempotency marker", err)
		}
	}()

	capture := &responseCapture{ResponseWriter: w}
	next.ServeHTTP(capture, r)
	g.remember(ctx, capture)
}

func (g idempotencyGuard) lookup(ctx context.Context) (*storedResponse, error) {
	raw, err := g.store.Get(ctx, g.key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}
	return &stored, nil
}

// remember stores the captured response unless it was a server error, which
// the client is expected to retry.
func (g idempotencyGuard) remember(ctx context.Context, capture *responseCapture) {
	status := capture.statusOrOK()
	if status >= http.StatusInternalServerError {
		return
	}
	payload, err := json.Marshal(storedResponse{
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
		RequestHash: g.hash,
	})
	if err != nil {
		logError(ctx, g.logg, "marshal idempotency record", err)
		return
	}
	if _, err := g.store.SetNX(context.WithoutCancel(ctx), g.key, string(payload), g.ttl); err != nil {
		logError(ctx, g.logg, "persist idempotency record", err)
	}
}

func replay(w http.ResponseWriter, stored *storedResponse) {
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(replayHeader, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

func requestScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func matchRule(method, pattern string) (idempotencyRule, bool) {
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	for _, rule := range idempotencyRules {
		if rule.method == method && rule.pattern == pattern {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusOrOK() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
