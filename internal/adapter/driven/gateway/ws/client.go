package ws

// Client is one connected realtime peer as seen by the hub. Send must not block.
type Client interface {
	ID() string
	Send(f Frame) error
	Close() error
}
