package mqtt

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const (
	timeout = 10 * time.Second
)

// Options describe one broker session.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Keepalive time.Duration
}

// Handler receives inbound messages. It runs on the paho router goroutine
// and must not block.
type Handler func(topic string, payload []byte)

// Client is a single broker session. It never reconnects on its own: a
// lost connection is reported on Lost and the client is discarded, the
// caller opens a fresh one.
type Client struct {
	client mqtt.Client
	lost   chan error
}

func Connect(o Options) (*Client, error) {
	c := &Client{
		lost: make(chan error, 1),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(o.BrokerURL).
		SetClientID(o.ClientID).
		SetKeepAlive(o.Keepalive).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case c.lost <- err:
			default:
			}
		})
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	completed := token.WaitTimeout(timeout)
	if !completed {
		return nil, fmt.Errorf("timeout connecting to mqtt")
	} else if err := token.Error(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"broker":    o.BrokerURL,
		"client_id": o.ClientID,
	}).Info("connected to mqtt")

	return c, nil
}

// Lost yields the reason once the broker connection goes away.
func (c *Client) Lost() <-chan error {
	return c.lost
}

// Disconnect tears the session down, waiting briefly for in-flight
// messages to drain.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	log.Debug("disconnected from mqtt")
}

// Publish sends a given value to the broker at the given topic.
// Non-strings are converted to their string representations.
func (c *Client) Publish(topic string, qos byte, retained bool, value interface{}) error {
	payload := fmt.Sprintf("%v", value)

	l := log.WithFields(log.Fields{
		"topic":    topic,
		"qos":      qos,
		"retained": retained,
		"payload":  payload,
	})

	token := c.client.Publish(topic, qos, retained, payload)
	completed := token.WaitTimeout(timeout)

	if !completed {
		return fmt.Errorf("timeout publishing to mqtt")
	} else {
		if token.Error() == nil {
			l.Trace("published message")
		}
		return token.Error()
	}
}

func (c *Client) Subscribe(topic string, qos byte, handler Handler) error {
	l := log.WithFields(log.Fields{
		"topic": topic,
		"qos":   qos,
	})

	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	completed := token.WaitTimeout(timeout)
	if !completed {
		return fmt.Errorf("timeout subscribing to mqtt")
	} else {
		if token.Error() == nil {
			l.Debug("subscribed")
		}
		return token.Error()
	}
}
