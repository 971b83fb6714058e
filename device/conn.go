// Copyright 2026 Fleexa Project - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@fleexa.io
//

package device

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/fleexa-project/devices/core/logger"
)

// ErrNotConnected is returned by Publish while the connection is not
// established. The connection manager does not retry on the caller's
// behalf.
var ErrNotConnected = errors.New("not connected")

const (
	qosAtLeastOnce = 1
	// inboundQueueSize bounds the channel between the transport's receive
	// loop and the session's dispatcher. A full queue drops, it never
	// blocks the transport.
	inboundQueueSize = 16
	// disconnectQuiesceMillis is the time paho may spend flushing
	// in-flight work on a clean disconnect.
	disconnectQuiesceMillis = 250
)

// Inbound is one raw message delivered on a subscribed topic.
type Inbound struct {
	Topic   string
	Payload []byte
}

// connection is the transport surface the session drives. *Conn is the MQTT
// implementation.
type connection interface {
	Connect(timeout time.Duration) error
	Disconnect()
	Publish(topic string, payload []byte) error
	IsConnected() bool
	State() ConnState
	Inbound() <-chan Inbound
}

// Conn owns one device's MQTT transport session: connect, disconnect,
// reconnect and the subscription to the device's shadow delta topic.
// Received messages are handed off to a bounded channel without blocking
// the transport's receive loop.
type Conn struct {
	identity Identity
	cfg      Config
	client   mqtt.Client
	log      *logrus.Entry

	state   int32
	inbound chan Inbound
}

// NewConn configures the MQTT client for the given device, including mutual
// TLS when certificate files are configured. The connection is not
// established until Connect is called.
func NewConn(identity Identity, cfg Config) (*Conn, error) {
	c := &Conn{
		identity: identity,
		cfg:      cfg,
		log:      logger.ForDevice(identity.DeviceID),
		inbound:  make(chan Inbound, inboundQueueSize),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(identity.DeviceID).
		SetKeepAlive(cfg.keepAlive()).
		SetAutoReconnect(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if cfg.CACertFile != "" || cfg.CertFile != "" {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("tls setup for %s: %w", identity.DeviceID, err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = mqtt.NewClient(opts)
	return c, nil
}

func newTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, err
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		crt, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{crt}
	}

	return tlsConfig, nil
}

// Connect establishes the transport session. It waits for the broker's
// acknowledgment at most for the given timeout; without acknowledgment the
// connection transitions to the error state and an error is returned.
func (c *Conn) Connect(timeout time.Duration) error {
	if c.State() == Connected {
		return nil
	}
	c.setState(Connecting)
	c.log.Infoln("connecting to", c.cfg.Broker)

	token := c.client.Connect()
	if !token.WaitTimeout(timeout) {
		// abandon the attempt, a late acknowledgment must not flip the
		// state behind the caller's back
		c.client.Disconnect(0)
		c.setState(ConnError)
		return fmt.Errorf("connect %s: no acknowledgment within %s", c.cfg.Broker, timeout)
	}
	if err := token.Error(); err != nil {
		c.setState(ConnError)
		return fmt.Errorf("connect %s: %w", c.cfg.Broker, err)
	}
	c.setState(Connected)
	return nil
}

// Disconnect tears the transport session down. It is idempotent and never
// raises to the caller; the session is ending anyway.
func (c *Conn) Disconnect() {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Errorln("disconnect error:", rec)
		}
	}()
	if c.client.IsConnected() {
		c.client.Disconnect(disconnectQuiesceMillis)
	}
	c.setState(Disconnected)
	c.log.Infoln("disconnected")
}

// Publish sends payload to topic with QoS 1. While not connected it is a
// no-op returning ErrNotConnected; counting that failure is the caller's
// responsibility. Acknowledgment is left to the transport, a slow publish
// does not block the caller.
func (c *Conn) Publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("publish %s: %w", topic, ErrNotConnected)
	}
	c.client.Publish(topic, qosAtLeastOnce, false, payload)
	return nil
}

// IsConnected reports whether the transport session is established.
func (c *Conn) IsConnected() bool {
	return c.State() == Connected && c.client.IsConnected()
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	return ConnState(atomic.LoadInt32(&c.state))
}

func (c *Conn) setState(s ConnState) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Inbound returns the channel of raw messages received on subscribed
// topics.
func (c *Conn) Inbound() <-chan Inbound {
	return c.inbound
}

// onConnect runs on every (re)connect and renews the shadow delta
// subscription.
func (c *Conn) onConnect(client mqtt.Client) {
	c.setState(Connected)
	topic := ShadowDeltaTopic(c.identity.DeviceID)
	token := client.Subscribe(topic, qosAtLeastOnce, c.onMessage)
	go func() {
		if token.Wait(); token.Error() != nil {
			c.log.Errorln("subscribe failed:", token.Error())
			return
		}
		c.log.Debugln("subscribed to", topic)
	}()
	c.log.Infoln("connected to", c.cfg.Broker)
}

func (c *Conn) onConnectionLost(_ mqtt.Client, err error) {
	c.setState(ConnError)
	c.log.Warnln("unexpected disconnection:", err)
}

// onMessage runs on the transport's receive loop and must not block.
func (c *Conn) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if !json.Valid(msg.Payload()) {
		c.log.Debugln("dropping unparseable message on", msg.Topic())
		return
	}
	select {
	case c.inbound <- Inbound{Topic: msg.Topic(), Payload: msg.Payload()}:
	default:
		c.log.Warnln("inbound queue full, dropping message on", msg.Topic())
	}
}
