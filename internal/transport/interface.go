package transport

import "context"

// Sink receives client-bound events. Implementations serialize concurrent
// calls.
type Sink interface {
	Send(ctx context.Context, event ServerEvent) error
}
