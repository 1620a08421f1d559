package hassmqtt

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/DanrwAU/zenwifi/internal/config"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
	publishTimeout = 10 * time.Second
)

// Transport is the broker surface the bridge needs. *Client implements it.
type Transport interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, cb func(payload []byte)) (func(), error)
}

// Client is a paho connection that announces itself on <prefix>/status
// with a retained last will and restores subscriptions on reconnect.
type Client struct {
	client mqtt.Client
	logger *zap.Logger
	status string

	mu     sync.Mutex
	subs   map[string]map[int]func([]byte)
	nextID int
}

// Connect dials the broker from cfg and blocks until the first connection
// succeeds or fails.
func Connect(cfg config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	status := StatusTopic(cfg.Prefix)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.PasswordFile != "" {
		password, err := config.ReadSecretFile(cfg.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt password: %w", err)
		}
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetWill(status, payloadOffline, 1, true)

	c := &Client{
		logger: logger.Named("mqtt"),
		status: status,
		subs:   make(map[string]map[int]func([]byte)),
	}
	opts.SetDefaultPublishHandler(c.dispatch)
	opts.OnConnect = func(client mqtt.Client) {
		c.logger.Info("connected", zap.String("broker", cfg.Broker))
		client.Publish(status, 1, true, payloadOnline).WaitTimeout(publishTimeout)
		c.resubscribeAll(client)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.logger.Warn("connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	c.client = client
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return c, nil
}

// StatusTopic is the bridge availability topic under prefix.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s timed out", topic)
	}
	return token.Error()
}

// Subscribe registers cb for topic. The broker subscription is shared by
// callbacks on the same topic and dropped with the last one.
func (c *Client) Subscribe(topic string, cb func([]byte)) (func(), error) {
	c.mu.Lock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]func([]byte))
	}
	id := c.nextID
	c.nextID++
	c.subs[topic][id] = cb
	needSubscribe := len(c.subs[topic]) == 1
	c.mu.Unlock()

	if needSubscribe {
		if token := c.client.Subscribe(topic, 1, nil); token.Wait() && token.Error() != nil {
			return nil, token.Error()
		}
	}

	return func() {
		c.mu.Lock()
		callbacks := c.subs[topic]
		if callbacks == nil {
			c.mu.Unlock()
			return
		}
		delete(callbacks, id)
		shouldUnsub := len(callbacks) == 0
		if shouldUnsub {
			delete(c.subs, topic)
		}
		c.mu.Unlock()
		if shouldUnsub {
			_ = c.client.Unsubscribe(topic).WaitTimeout(publishTimeout)
		}
	}, nil
}

// Close publishes offline and disconnects.
func (c *Client) Close() {
	_ = c.Publish(c.status, true, []byte(payloadOffline))
	c.client.Disconnect(250)
}

func (c *Client) dispatch(_ mqtt.Client, msg mqtt.Message) {
	c.mu.Lock()
	callbacks := c.subs[msg.Topic()]
	list := make([]func([]byte), 0, len(callbacks))
	for _, cb := range callbacks {
		list = append(list, cb)
	}
	c.mu.Unlock()
	for _, cb := range list {
		cb(msg.Payload())
	}
}

func (c *Client) resubscribeAll(client mqtt.Client) {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	for _, topic := range topics {
		if token := client.Subscribe(topic, 1, nil); token.WaitTimeout(publishTimeout) && token.Error() != nil {
			c.logger.Warn("resubscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
}
