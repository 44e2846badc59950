// Package transport owns the portal's sockets. Each transport binds in
// Listen, runs its loop in Serve until the context ends or Stop is called,
// and hands decoded work to the service layer.
package transport

import (
	"context"
	"errors"
)

// ErrNotListening is returned by Serve when Listen has not succeeded.
var ErrNotListening = errors.New("transport is not listening")

// stopOnDone calls stop once ctx is done, unless stopped closes first.
func stopOnDone(ctx context.Context, stopped <-chan struct{}, stop func() error) {
	go func() {
		select {
		case <-ctx.Done():
			_ = stop()
		case <-stopped:
		}
	}()
}
