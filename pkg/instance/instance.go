package instance

import (
	"os"

	"github.com/angelmondragon/pactsign-backend/pkg/env"
)

const (
	envInstanceID = "PACTSIGN_INSTANCE_ID"
	envDyno       = "DYNO"
)

// ID identifies the running process in logs and claim diagnostics. It
// prefers an explicit id, then the platform dyno name, then the hostname.
func ID() string {
	if id := env.Get(envInstanceID, env.Get(envDyno, "")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
