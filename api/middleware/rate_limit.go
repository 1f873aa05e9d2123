package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/pactsign-backend/api/responses"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(policy, scope, id string) string
}

// Limit caps requests sharing one identity within a policy window.
// Requests whose identity is empty are not counted.
type Limit struct {
	Scope    string
	Max      int
	Identity func(*http.Request) string
}

// PerIP counts requests by ClientIP.
func PerIP(max int) Limit {
	return Limit{Scope: "ip", Max: max, Identity: ClientIP}
}

// PerURLParam counts requests by a chi URL parameter. The value is hashed
// before it reaches redis since parameters such as sign tokens are secrets.
func PerURLParam(param string, max int) Limit {
	return Limit{
		Scope: param,
		Max:   max,
		Identity: func(r *http.Request) string {
			value := strings.TrimSpace(chi.URLParam(r, param))
			if value == "" {
				return ""
			}
			sum := sha256.Sum256([]byte(value))
			return hex.EncodeToString(sum[:])
		},
	}
}

// RateLimitPolicy is a named fixed window shared by a set of limits.
type RateLimitPolicy struct {
	Name   string
	Window time.Duration
	Limits []Limit
}

func (p RateLimitPolicy) active() []Limit {
	if p.Window <= 0 {
		return nil
	}
	var out []Limit
	for _, l := range p.Limits {
		if l.Max > 0 && l.Identity != nil {
			out = append(out, l)
		}
	}
	return out
}

func (p RateLimitPolicy) name() string {
	if name := strings.ToLower(strings.TrimSpace(p.Name)); name != "" {
		return name
	}
	return "default"
}

// RateLimit enforces the policy with counters kept in redis. Every limit
// must pass; the first exhausted one rejects with 429.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	limits := policy.active()
	return func(next http.Handler) http.Handler {
		if len(limits) == 0 || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			for _, l := range limits {
				id := l.Identity(r)
				if id == "" {
					continue
				}
				count, err := store.IncrWithTTL(ctx, store.RateLimitKey(policy.name(), l.Scope, id), policy.Window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				setQuotaHeaders(w, l.Max, count)
				if count > int64(l.Max) {
					reject(ctx, w, logg, policy, l, count)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setQuotaHeaders(w http.ResponseWriter, max int, count int64) {
	remaining := int64(max) - count
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(max))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
}

func reject(ctx context.Context, w http.ResponseWriter, logg *logger.Logger, policy RateLimitPolicy, l Limit, count int64) {
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"policy":         policy.name(),
			"scope":          l.Scope,
			"attempts":       count,
			"limit":          l.Max,
			"window_seconds": int(policy.Window.Seconds()),
		}), "rate_limit.blocked")
	}
	retry := int64(policy.Window / time.Second)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
}

// ClientIP is the first non-empty X-Forwarded-For hop, else the remote host.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := strings.TrimSpace(hop); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
