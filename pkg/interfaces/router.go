package interfaces

import (
	"context"
	"encoding/json"
)

// EventDispatcher receives decoded client frames from the transport.
type EventDispatcher interface {
	// Dispatch runs the handler registered for event. Errors are reported to
	// the connection by the dispatcher itself.
	Dispatch(ctx context.Context, conn Connection, event string, data json.RawMessage)

	// Disconnect is called once after the socket closes.
	Disconnect(ctx context.Context, conn Connection)
}
