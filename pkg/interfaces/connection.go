package interfaces

import "mindlink/pkg/types"

// Connection is one authenticated client socket as seen by event handlers.
// Implementations serialize writes so Emit is safe from any goroutine.
type Connection interface {
	// ID is unique per socket, not per user.
	ID() string

	// Identity is attached by the authenticator before upgrade and never changes.
	Identity() *types.Identity

	// Emit queues an {"event","data"} frame for the client.
	Emit(event string, data interface{}) error

	// Membership returns the room this connection currently belongs to.
	Membership() types.Membership

	SetMembership(m types.Membership)

	Close() error
}
