package mqtt

import (
	"fmt"
	"sync"

	coremqtt "github.com/kilianp07/dronedispatch/core/mqtt"
)

// Message is a publication recorded by MockClient.
type Message struct {
	Topic   string
	Payload []byte
}

// MockClient is an in-memory Client used in tests. Deliver routes a message
// to matching subscribers synchronously.
type MockClient struct {
	mu        sync.Mutex
	published []Message
	subs      map[string]coremqtt.Handler
	// FailTopics makes Publish return ErrTransport for the listed topics.
	FailTopics map[string]bool
	// FailSubscribe makes Subscribe return ErrTransport.
	FailSubscribe bool
	closed        bool
}

// NewMockClient creates a new MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		subs:       make(map[string]coremqtt.Handler),
		FailTopics: make(map[string]bool),
	}
}

func (m *MockClient) Subscribe(pattern string, h coremqtt.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSubscribe {
		return fmt.Errorf("%w: subscribe %s", coremqtt.ErrTransport, pattern)
	}
	m.subs[pattern] = h
	return nil
}

func (m *MockClient) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: client closed", coremqtt.ErrTransport)
	}
	if m.FailTopics[topic] {
		return fmt.Errorf("%w: publish to %s", coremqtt.ErrTransport, topic)
	}
	m.published = append(m.published, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

func (m *MockClient) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// SetFail toggles publish failures for topic.
func (m *MockClient) SetFail(topic string, fail bool) {
	m.mu.Lock()
	m.FailTopics[topic] = fail
	m.mu.Unlock()
}

// Deliver invokes every handler whose pattern matches topic and reports how
// many handlers ran.
func (m *MockClient) Deliver(topic string, payload []byte) int {
	m.mu.Lock()
	var hs []coremqtt.Handler
	for pattern, h := range m.subs {
		if coremqtt.Match(pattern, topic) {
			hs = append(hs, h)
		}
	}
	m.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
	return len(hs)
}

// Subscribed reports whether a handler is registered for pattern.
func (m *MockClient) Subscribed(pattern string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[pattern]
	return ok
}

// Published returns a copy of every recorded publication.
func (m *MockClient) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.published...)
}

// PublishedTo returns the payloads published on topic, oldest first.
func (m *MockClient) PublishedTo(topic string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, msg := range m.published {
		if msg.Topic == topic {
			out = append(out, msg.Payload)
		}
	}
	return out
}

// Reset forgets recorded publications.
func (m *MockClient) Reset() {
	m.mu.Lock()
	m.published = nil
	m.mu.Unlock()
}
