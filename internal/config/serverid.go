package config

import (
	"fmt"
	"os"
	"time"
)

// DefaultServerID derives a per-instance identifier from hostname and pid.
// When the hostname is unavailable it falls back to a timestamp-based id,
// which is still unique enough for a fleet that does not share a host.
func DefaultServerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fmt.Sprintf("server-%d", time.Now().UnixMilli())
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
