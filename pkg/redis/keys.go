package redis

import "strings"

const keyNamespace = "ps"

const (
	idempotencyPrefix = "idempotency"
	lockPrefix        = "lock"
	rateLimitPrefix   = "rl"
)

func (c *Client) IdempotencyKey(scope, id string) string {
	return namespaced(idempotencyPrefix, scope, id)
}

// LockKey has the func(string) string shape cron.NewRedisLock expects.
func (c *Client) LockKey(job string) string {
	return namespaced(lockPrefix, job)
}

func (c *Client) RateLimitKey(policy, scope, id string) string {
	return namespaced(rateLimitPrefix, policy, scope, id)
}

// namespaced joins trimmed, non-empty parts under the "ps" namespace.
func namespaced(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
