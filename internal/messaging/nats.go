// Package messaging provides the NATS client used for live fan-out: message
// delivery within conversations and presence change events. It handles
// connection lifecycle and keeps a registry of keyed subscriptions so each
// local connection's listeners can be released on teardown.
package messaging

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	// SubjectConversation carries message events: conv.<conversation_id>.
	SubjectConversation = "conv"

	// SubjectPresence carries status change events: presence.<user_id>.
	SubjectPresence = "presence"
)

// Client wraps the NATS connection with helper methods for the chat and
// presence channels.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "iguess-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
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

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishConversation publishes a message event to conv.<conversationID>.
func (c *Client) PublishConversation(conversationID string, data []byte) error {
	return c.Publish(SubjectConversation+"."+conversationID, data)
}

// SubscribeConversation subscribes a local connection to a conversation's
// events. The subscription is keyed by (connection, conversation) so one
// connection can follow several conversations and several connections can
// follow the same one without overwriting each other.
func (c *Client) SubscribeConversation(conversationID, connID string, handler func(data []byte)) error {
	subject := SubjectConversation + "." + conversationID
	key := convSubKey(connID, conversationID)

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	// Replace a stale subscription for the same key rather than leaking it.
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeConnection releases every subscription held on behalf of a
// connection. Called on connection teardown so listeners never outlive the
// client they serve.
func (c *Client) UnsubscribeConnection(connID string) {
	prefix := "sub:" + connID + ":"

	c.mu.Lock()
	var stale []*nats.Subscription
	for key, sub := range c.subs {
		if strings.HasPrefix(key, prefix) {
			stale = append(stale, sub)
			delete(c.subs, key)
		}
	}
	c.mu.Unlock()

	for _, sub := range stale {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[nats] unsubscribe for conn %s: %v", connID, err)
		}
	}
}

// PublishPresence publishes a status change event to presence.<userID>.
func (c *Client) PublishPresence(userID string, data []byte) error {
	return c.Publish(SubjectPresence+"."+userID, data)
}

// SubscribePresenceWatch subscribes to a user's presence events and returns
// the subscription to the caller. Presence observers own their subscription
// directly (one per observer), so many watches on the same user never
// interfere; the caller releases it via Unsubscribe.
func (c *Client) SubscribePresenceWatch(userID string, handler func(data []byte)) (*nats.Subscription, error) {
	subject := SubjectPresence + "." + userID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

func convSubKey(connID, conversationID string) string {
	return "sub:" + connID + ":conv:" + conversationID
}
