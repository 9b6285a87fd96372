package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTDialer subscribes to a bus topic carrying the same JSON envelopes as
// the websocket stream. Auto-reconnect is disabled: the connection manager
// owns the retry policy.
type MQTTDialer struct {
	Broker   string // tcp://host:1883
	Topic    string // inbound envelopes
	ClientID string
	// Buffer is the number of frames held between the paho callback and ReadMessage
	Buffer int

	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewMQTTDialer creates a dialer for the broker/topic pair
func NewMQTTDialer(broker, topic, clientID string) *MQTTDialer {
	if clientID == "" {
		clientID = fmt.Sprintf("expose-%d", time.Now().Unix())
	}
	return &MQTTDialer{Broker: broker, Topic: topic, ClientID: clientID, Buffer: 1000, newClient: mqtt.NewClient}
}

// Endpoint returns broker and topic
func (d *MQTTDialer) Endpoint() string { return d.Broker + "#" + d.Topic }

// CommandTopic is where outbound frames are published
func (d *MQTTDialer) CommandTopic() string { return d.Topic + "/commands" }

// Dial connects, subscribes and returns a Conn reading the topic
func (d *MQTTDialer) Dial(ctx context.Context) (Conn, error) {
	c := &mqttConn{
		frames:       make(chan []byte, d.Buffer),
		done:         make(chan struct{}),
		commandTopic: d.CommandTopic(),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(d.Broker)
	opts.SetClientID(d.ClientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.fail(fmt.Errorf("mqtt connection lost: %w", err))
	})

	newClient := d.newClient
	if newClient == nil {
		newClient = mqtt.NewClient
	}
	c.client = newClient(opts)

	if err := wait(ctx, c.client.Connect()); err != nil {
		// A connect still in flight when ctx ends must not come up later
		c.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", d.Broker, err)
	}

	if err := wait(ctx, c.client.Subscribe(d.Topic, 1, c.onMessage)); err != nil {
		c.client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe %s: %w", d.Topic, err)
	}

	return c, nil
}

// wait blocks on a paho token honouring ctx
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type mqttConn struct {
	client       mqtt.Client
	frames       chan []byte
	commandTopic string

	mu   sync.Mutex
	err  error
	done chan struct{}
}

// onMessage runs on paho's goroutine; hand-off is non-blocking like the pskreporter client
func (c *mqttConn) onMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	select {
	case c.frames <- payload:
	case <-c.done:
	default:
		// Reader is too slow; dropping keeps the paho router unblocked
	}
}

func (c *mqttConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

func (c *mqttConn) ReadMessage() ([]byte, error) {
	// Drain buffered frames before reporting the close
	select {
	case frame := <-c.frames:
		return frame, nil
	default:
	}
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.err
	}
}

func (c *mqttConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	token := c.client.Publish(c.commandTopic, 1, false, data)
	if !token.WaitTimeout(defaultWriteTimeout) {
		return errors.New("mqtt publish timed out")
	}
	return token.Error()
}

func (c *mqttConn) Close() error {
	c.fail(ErrClosed)
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return nil
}
