package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/gorilla/mux"

	"github.com/fleexa-project/devices/core/logger"
	"github.com/fleexa-project/devices/core/schema"
	"github.com/fleexa-project/devices/device"
	"github.com/fleexa-project/devices/device/simulators"
	"github.com/fleexa-project/devices/fleet"
)

// reconnectDelay is the pause between session restarts after the
// connection was exhausted.
const reconnectDelay = 5 * time.Second

// Service holds the configuration for this service
//
// use DEVICES="device-1:temperature_sensor:Living Room,gas-sensor-01:gas_sensor:Kitchen"
type Service struct {
	Broker          string        `env:"MQTT_BROKER,default=tcp://localhost:1883" description:"the MQTT broker URL"`
	Devices         string        `env:"DEVICES,default=device-1:temperature_sensor:Living Room" description:"comma separated device_id:device_type:location triples"`
	SchemaDir       string        `env:"SCHEMA_DIR,default=schemas" description:"the directory containing the message schemas"`
	PublishInterval time.Duration `env:"PUBLISH_INTERVAL,default=5s" description:"the telemetry cadence"`
	CACertFile      string        `env:"CA_CERT_FILE,optional" description:"path to the CA certificate"`
	CertFile        string        `env:"CLIENT_CERT_FILE,optional" description:"path to the client certificate"`
	KeyFile         string        `env:"CLIENT_KEY_FILE,optional" description:"path to the client private key"`
	Listen          string        `env:"LISTEN,default=:3000" description:"listen address of the inspection API"`
	LogLevel        string        `env:"LOG_LEVEL,optional,default=info" description:"The level used for logger, can be debug, warning, info, error"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	logger.InitLogger(logger.ParseLevel(service.LogLevel))

	registry := schema.NewRegistry(service.SchemaDir)

	identities, err := parseDevices(service.Devices)
	if err != nil {
		panic(err)
	}

	cfg := device.Config{
		Broker:          service.Broker,
		CACertFile:      service.CACertFile,
		CertFile:        service.CertFile,
		KeyFile:         service.KeyFile,
		PublishInterval: service.PublishInterval,
	}

	sessions := make(map[string]*device.Session)
	for _, identity := range identities {
		session, err := device.NewSession(identity, cfg, registry, simulators.ForType(identity.DeviceType))
		if err != nil {
			panic(err)
		}
		sessions[identity.DeviceID] = session
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// one independent session per device; a failing session never blocks
	// another
	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(session *device.Session) {
			defer wg.Done()
			runSession(ctx, session)
		}(session)
	}

	router := mux.NewRouter()
	fleet.NewAPI(&fleet.Builder{Router: router, Sessions: sessions})

	logger.Default().Infoln("listen on port", service.Listen)
	go http.ListenAndServe(service.Listen, router)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	<-signalCh
	logger.Default().Infoln("shutting down")

	cancel()
	for _, session := range sessions {
		session.Stop()
	}
	wg.Wait()
}

// runSession keeps one device session alive: a session whose connection
// was never acknowledged or got exhausted is restarted after a delay, the
// process itself never exits on device failure.
func runSession(ctx context.Context, session *device.Session) {
	for {
		if err := session.Run(ctx); err != nil {
			logger.Default().Errorln("session error:", err)
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// parseDevices parses comma separated device_id:device_type:location
// triples.
func parseDevices(spec string) ([]device.Identity, error) {
	var identities []device.Identity
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if len(entry) == 0 {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid device spec %q, want device_id:device_type:location", entry)
		}
		identities = append(identities, device.Identity{
			DeviceID:   parts[0],
			DeviceType: parts[1],
			Location:   parts[2],
		})
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no devices configured")
	}
	return identities, nil
}
