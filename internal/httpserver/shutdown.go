package httpserver

import (
	"context"
	"time"
)

// DefaultShutdownTimeout bounds graceful shutdown when none is configured.
const DefaultShutdownTimeout = 10 * time.Second

// ShutdownWithTimeout drains s within timeout, starting from a fresh context
// so an already cancelled parent does not skip the drain.
func ShutdownWithTimeout(s *Server, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}
