package mqtt

// Handler is invoked for every message delivered on a subscription. It must
// not block for long: the transport may deliver messages from one goroutine.
type Handler func(topic string, payload []byte)

// Client is the publish/subscribe transport used by the dispatch engine.
type Client interface {
	// Subscribe registers h for every topic matching pattern. MQTT
	// wildcards (+, #) are allowed.
	Subscribe(pattern string, h Handler) error

	// Publish sends payload on topic without waiting for any application
	// level acknowledgment. Failures are reported wrapped in ErrTransport.
	Publish(topic string, payload []byte) error

	// Close releases the connection.
	Close() error
}
