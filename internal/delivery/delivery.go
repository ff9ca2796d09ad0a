// Package delivery holds the transports that expose the service.
package delivery

import "context"

// Delivery is a transport started once the application is wired.
type Delivery interface {
	// Serve blocks until the transport stops. A graceful shutdown is not an
	// error.
	Serve(ctx context.Context) error
}
