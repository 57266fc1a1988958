package instance

import (
	"os"

	"github.com/angelmondragon/cocledger-backend/pkg/env"
)

const fallbackID = "local"

// ID identifies the running process in logs. DYNO is set by the platform,
// COCLEDGER_INSTANCE_ID overrides it locally, and the hostname is the last resort.
func ID() string {
	if id := env.Get("DYNO", ""); id != "" {
		return id
	}
	if id := env.Get("COCLEDGER_INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
