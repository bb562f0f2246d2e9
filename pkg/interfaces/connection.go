package interfaces

// Connection is a live client socket as seen by the channel manager and the
// gateways. It carries transport identity only; which lecture or participant
// it speaks for is tracked by the channel manager's binding index.
type Connection interface {
	// ID is unique per socket, so a reconnect gets a fresh ID.
	ID() string

	// Role is the role declared by the endpoint the socket dialed.
	Role() string

	// Principal is the authenticated subject, empty when auth is disabled.
	Principal() string

	// Send queues a pre-marshalled frame without blocking. A full queue
	// drops the frame for this connection only and returns an error.
	Send(frame []byte) error

	Close() error
}
