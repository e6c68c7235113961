// Package mqtttest provides an in-memory stand-in for an MQTT client.
package mqtttest

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Token is a completed MQTT token.
type Token struct {
	Err error
}

func (t *Token) Wait() bool                     { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Error() error                   { return t.Err }

func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type Publication struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client records publications and routes Deliver calls to subscription
// handlers. Methods it does not override panic.
type Client struct {
	mqtt.Client

	mu            sync.Mutex
	published     []Publication
	subscriptions map[string]mqtt.MessageHandler

	// PublishErr fails every publish when set.
	PublishErr error
}

func NewClient() *Client {
	return &Client{subscriptions: make(map[string]mqtt.MessageHandler)}
}

func (c *Client) IsConnected() bool { return true }

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PublishErr != nil {
		return &Token{Err: c.PublishErr}
	}
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = append([]byte(nil), p...)
	case string:
		b = []byte(p)
	}
	c.published = append(c.published, Publication{topic, qos, retained, b})
	return &Token{}
}

func (c *Client) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[topic] = callback
	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subscriptions, t)
	}
	return &Token{}
}

// Subscribed reports whether a subscription for filter is active.
func (c *Client) Subscribed(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, found := c.subscriptions[filter]
	return found
}

// Deliver hands payload to every handler whose filter matches topic and
// reports how many handlers ran.
func (c *Client) Deliver(topic string, payload []byte) int {
	c.mu.Lock()
	var handlers []mqtt.MessageHandler
	for filter, h := range c.subscriptions {
		if Match(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(c, &Message{topic: topic, payload: payload})
	}
	return len(handlers)
}

// Published returns the publications to topic, or all of them when topic
// is empty.
func (c *Client) Published(topic string) []Publication {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res []Publication
	for _, p := range c.published {
		if topic == "" || p.Topic == topic {
			res = append(res, p)
		}
	}
	return res
}

// Match reports whether topic matches an MQTT subscription filter.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

// Message is a received MQTT message.
type Message struct {
	topic   string
	payload []byte
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 1 }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.topic }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.payload }
func (m *Message) Ack()              {}
