// Copyright 2026 Fleexa Project - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@fleexa.io
//

package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"
	"github.com/segmentio/kafka-go"

	"github.com/fleexa-project/devices/core/logger"
	"github.com/fleexa-project/devices/device"
)

// Broker is the development MQTT broker for the device fleet. It enforces
// per-device topic policy, keeps the device shadows in memory and forwards
// telemetry and alerts to Kafka for the ingestion pipeline.
type Broker struct {
	p *plugin
}

// Builder is a builder helper for the Broker
type Builder struct {
	// ListenAddr is the address to listen on, e.g. ":8883".
	ListenAddr string
	// CACertFile is the file path to the X.509 certificate of the
	// certificate authority. Leave all three certificate files empty for a
	// plain TCP listener in local development.
	CACertFile string
	// CertFile is the file path to the X.509 certificate file.
	CertFile string
	// KeyFile is the file path to the X.509 private key file.
	KeyFile string
	// KafkaBrokers are the Kafka bootstrap addresses. Empty disables
	// forwarding.
	KafkaBrokers []string
	// KafkaTelemetryTopic is the Kafka topic telemetry is forwarded to.
	KafkaTelemetryTopic string
	// KafkaAlertTopic is the Kafka topic alerts are forwarded to.
	KafkaAlertTopic string
}

// plugin is the plugin for GMQTT
type plugin struct {
	ln             net.Listener
	requireCert    bool
	deviceIdsRwmux sync.RWMutex
	deviceIds      map[net.Conn]string

	service gmqtt.Server
	shadows *shadowStore

	writer         *kafka.Writer
	telemetryTopic string
	alertTopic     string
}

// opsClientPrefix marks non-device clients (tooling, tests) that may
// subscribe and publish beyond the per-device policy.
const opsClientPrefix = "ops-"

// NewBroker returns a new broker. The broker will not actually run until
// you call Run().
func NewBroker(bb *Builder) *Broker {

	addr := bb.ListenAddr
	if len(addr) == 0 {
		addr = ":8883"
	}

	p := &plugin{
		deviceIds: make(map[net.Conn]string),
		shadows:   newShadowStore(),
	}

	if len(bb.CertFile) > 0 || len(bb.CACertFile) > 0 {
		crt, err := tls.LoadX509KeyPair(bb.CertFile, bb.KeyFile)
		if err != nil {
			panic(err)
		}
		caCert, err := os.ReadFile(bb.CACertFile)
		if err != nil {
			panic(err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			panic("no certificates in " + bb.CACertFile)
		}
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{crt},
			ClientCAs:    caCertPool,
			ClientAuth:   tls.RequireAndVerifyClientCert,
		}
		ln, err := tls.Listen("tcp", addr, tlsConfig)
		if err != nil {
			panic(err)
		}
		p.ln = ln
		p.requireCert = true
	} else {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			panic(err)
		}
		p.ln = ln
		logger.Default().Warnln("broker runs without TLS, development only")
	}

	if len(bb.KafkaBrokers) > 0 {
		p.writer = &kafka.Writer{
			Addr:                   kafka.TCP(bb.KafkaBrokers...),
			RequiredAcks:           kafka.RequireOne,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
		p.telemetryTopic = bb.KafkaTelemetryTopic
		if len(p.telemetryTopic) == 0 {
			p.telemetryTopic = "fleexa.telemetry"
		}
		p.alertTopic = bb.KafkaAlertTopic
		if len(p.alertTopic) == 0 {
			p.alertTopic = "fleexa.alerts"
		}
	}

	return &Broker{p: p}
}

// Run is blocking and runs the server. It listens on syscall.SIGTERM for a
// graceful shutdown.
func (b *Broker) Run() {

	s := gmqtt.NewServer(
		gmqtt.WithTCPListener(b.p.ln),
		gmqtt.WithPlugin(b.p),
	)
	s.Run()

	logger.Default().Infoln("broker started on", b.p.ln.Addr())
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	<-signalCh
	s.Stop(context.Background())
	if b.p.writer != nil {
		b.p.writer.Close()
	}
	logger.Default().Infoln("broker stopped")
}

// Load implements plugin interface
func (p *plugin) Load(service gmqtt.Server) error {
	p.service = service
	return nil
}

// Unload implements plugin interface
func (p *plugin) Unload() error {
	return nil
}

// Name implements plugin interface
func (p *plugin) Name() string { return "fleexa broker" }

// HookWrapper implements plugin interface
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnAcceptWrapper:     p.OnAcceptWrapper,
		OnConnectWrapper:    p.OnConnectWrapper,
		OnSubscribeWrapper:  p.OnSubscribeWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
	}
}

func (p *plugin) deviceIDFromConnection(conn net.Conn) string {
	p.deviceIdsRwmux.RLock()
	defer p.deviceIdsRwmux.RUnlock()
	return p.deviceIds[conn]
}

// OnAcceptWrapper authorizes clients via TLS certificates; the certificate
// common name carries the device ID.
func (p *plugin) OnAcceptWrapper(accept gmqtt.OnAccept) gmqtt.OnAccept {
	return func(ctx context.Context, conn net.Conn) bool {
		tlsConn, ok := conn.(*tls.Conn)
		if ok {
			err := tlsConn.Handshake()
			if err != nil {
				return false
			}
			state := tlsConn.ConnectionState()
			cert := state.VerifiedChains[0][0]
			commonName := cert.Subject.CommonName
			if len(commonName) == 0 {
				logger.Default().Warnln("certificate without device ID rejected")
				return false
			}

			p.deviceIdsRwmux.Lock()
			defer p.deviceIdsRwmux.Unlock()
			p.deviceIds[conn] = commonName
			logger.Default().Debugln("accept", commonName)
		}
		return accept(ctx, conn)
	}
}

// OnConnectWrapper enforces that the MQTT client ID matches the certificate
// common name
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		clientID := client.OptionsReader().ClientID()
		if p.requireCert {
			deviceID := p.deviceIDFromConnection(client.Connection())
			if clientID != deviceID {
				logger.Default().Warnln("connect denied,", clientID, "not authorized")
				return packets.CodeNotAuthorized
			}
		}
		logger.ForDevice(clientID).Infoln("connect")
		return connect(ctx, client)
	}
}

// OnSubscribeWrapper enforces topic policy: a device may only subscribe to
// its own shadow delta topic.
func (p *plugin) OnSubscribeWrapper(subscribe gmqtt.OnSubscribe) gmqtt.OnSubscribe {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) (qos uint8) {
		clientID := client.OptionsReader().ClientID()
		if strings.HasPrefix(clientID, opsClientPrefix) {
			return subscribe(ctx, client, topic)
		}
		if topic.Name != device.ShadowDeltaTopic(clientID) {
			logger.ForDevice(clientID).Warnln("subscribe to", topic.Name, "denied")
			return packets.SUBSCRIBE_FAILURE
		}
		return subscribe(ctx, client, topic)
	}
}

// OnMsgArrivedWrapper intercepts telemetry, alerts and shadow traffic.
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		clientID := client.OptionsReader().ClientID()
		topic := msg.Topic()
		payload := msg.Payload()

		if !json.Valid(payload) {
			logger.ForDevice(clientID).Warnln("invalid json on", topic, "dropped")
			return false
		}

		switch {
		case topic == device.TelemetryTopic(clientID):
			p.forward(p.telemetryTopic, clientID, payload)

		case topic == device.AlertTopic(clientID):
			p.forward(p.alertTopic, clientID, payload)

		case topic == device.ShadowUpdateTopic(clientID):
			var update struct {
				State struct {
					Reported json.RawMessage `json:"reported"`
				} `json:"state"`
			}
			if err := json.Unmarshal(payload, &update); err != nil || len(update.State.Reported) == 0 {
				logger.ForDevice(clientID).Warnln("invalid shadow update dropped")
				return false
			}
			p.shadows.setReported(clientID, update.State.Reported)

		case topic == shadowGetTopic(clientID):
			if desired, ok := p.shadows.desiredFor(clientID); ok {
				p.publishDelta(clientID, desired)
			}

		case strings.HasPrefix(topic, "fleexa/") && strings.HasSuffix(topic, "/shadow/desired"):
			// control plane, tooling sets the desired state of any device
			if !strings.HasPrefix(clientID, opsClientPrefix) {
				logger.ForDevice(clientID).Warnln("desired state write denied")
				return false
			}
			deviceID := strings.TrimSuffix(strings.TrimPrefix(topic, "fleexa/"), "/shadow/desired")
			if strings.Contains(deviceID, "/") {
				logger.Default().Warnln("invalid device ID in", topic)
				return false
			}
			if delta, changed := p.shadows.setDesired(deviceID, append(json.RawMessage(nil), payload...)); changed {
				p.publishDelta(deviceID, delta)
			}
		}

		return arrived(ctx, client, msg)
	}
}

// publishDelta pushes the desired state to the device's shadow delta topic.
func (p *plugin) publishDelta(deviceID string, desired json.RawMessage) {
	payload, err := json.Marshal(map[string]json.RawMessage{"state": desired})
	if err != nil {
		logger.ForDevice(deviceID).Errorln("cannot encode shadow delta:", err)
		return
	}
	logger.ForDevice(deviceID).Debugln("publishing shadow delta")
	msg := gmqtt.NewMessage(device.ShadowDeltaTopic(deviceID), payload, packets.QOS_1)
	p.service.PublishService().Publish(msg)
}

// forward hands a device message to Kafka without blocking the broker's
// receive path.
func (p *plugin) forward(kafkaTopic, deviceID string, payload []byte) {
	if p.writer == nil {
		return
	}
	msg := kafka.Message{
		Topic: kafkaTopic,
		Key:   []byte(deviceID),
		Value: append([]byte(nil), payload...),
		Time:  time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			logger.ForDevice(deviceID).Errorln("kafka forward error:", err)
		}
	}()
}

func shadowGetTopic(deviceID string) string {
	return "$aws/things/" + deviceID + "/shadow/get"
}
