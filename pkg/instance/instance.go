package instance

import "github.com/angelmondragon/ordercore/pkg/env"

// GetID identifies the running process in logs. Platform-provided ids win
// over the hostname.
func GetID() string {
	for _, key := range []string{"ORDERCORE_INSTANCE_ID", "DYNO", "HOSTNAME"} {
		if id := env.Get(key, ""); id != "" {
			return id
		}
	}
	return "local"
}
