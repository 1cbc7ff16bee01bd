// Package messaging provides a NATS client wrapper for event fan-out
// between the delivery pipeline and the WebSocket layer. It handles
// connection lifecycle, subject-based subscriptions, and convenience
// methods for the per-user private channel and per-conversation typing
// relay.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	SubjectUser   = "user"   // + .<user_id>        private channel events
	SubjectTyping = "typing" // + .<conversation_id> typing indicators
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "chat-core",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishToUser sends an event to a user's private channel. Delivery is
// fire-and-forget: if the user holds no live subscription, the event is
// dropped and the persisted row remains the source of truth.
func (c *NATSClient) PublishToUser(userID string, data []byte) error {
	return c.conn.Publish(SubjectUser+"."+userID, data)
}

// SubscribeToUser registers a handler for a user's private channel,
// keyed by connection ID so the subscription can be torn down on
// disconnect without affecting the same user's other connections.
func (c *NATSClient) SubscribeToUser(userID, connID string, handler func(data []byte)) error {
	subject := SubjectUser + "." + userID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.track("usersub:"+connID, sub)
	return nil
}

// UnsubscribeFromUser tears down the private-channel subscription for a
// connection.
func (c *NATSClient) UnsubscribeFromUser(connID string) error {
	return c.untrack("usersub:" + connID)
}

// PublishTyping relays a typing indicator on the conversation subject.
func (c *NATSClient) PublishTyping(convID string, data []byte) error {
	return c.conn.Publish(SubjectTyping+"."+convID, data)
}

// SubscribeTyping registers a handler for a conversation's typing subject,
// keyed by (connection, conversation) so one connection can join several
// conversations.
func (c *NATSClient) SubscribeTyping(convID, connID string, handler func(data []byte)) error {
	subject := SubjectTyping + "." + convID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.track("typingsub:"+connID+":"+convID, sub)
	return nil
}

// UnsubscribeTyping tears down a connection's typing subscription for one
// conversation.
func (c *NATSClient) UnsubscribeTyping(convID, connID string) error {
	return c.untrack("typingsub:" + connID + ":" + convID)
}

// UnsubscribeAll tears down every subscription held for a connection.
// Called on disconnect.
func (c *NATSClient) UnsubscribeAll(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, sub := range c.subs {
		if key == "usersub:"+connID || hasTypingPrefix(key, connID) {
			_ = sub.Unsubscribe()
			delete(c.subs, key)
		}
	}
}

func hasTypingPrefix(key, connID string) bool {
	prefix := "typingsub:" + connID + ":"
	return len(key) > len(prefix) && key[:len(prefix)] == prefix
}

func (c *NATSClient) track(key string, sub *nats.Subscription) {
	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
}

func (c *NATSClient) untrack(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[key]
	if !ok {
		return nil
	}
	delete(c.subs, key)
	return sub.Unsubscribe()
}

// Close drains all subscriptions and closes the connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	for key, sub := range c.subs {
		_ = sub.Unsubscribe()
		delete(c.subs, key)
	}
	c.mu.Unlock()
	c.conn.Close()
}
