// Package lifecycle holds shared timing for component start/stop hooks.
package lifecycle

import "time"

// DefaultTimeout bounds graceful shutdown of servers, stores and queries
const DefaultTimeout = 10 * time.Second
