package main

import (
	"strings"

	"github.com/joeshaw/envdecode"

	"github.com/fleexa-project/devices/broker"
	"github.com/fleexa-project/devices/core/logger"
)

// Service holds the configuration for this service
//
// leave the certificate files empty to run a plain TCP listener for local
// development
type Service struct {
	Listen              string `env:"LISTEN,default=:8883" description:"the broker listen address"`
	CACertFile          string `env:"CA_CERT_FILE,optional" description:"path to the CA certificate"`
	CertFile            string `env:"SERVER_CERT_FILE,optional" description:"path to the server certificate"`
	KeyFile             string `env:"SERVER_KEY_FILE,optional" description:"path to the server private key"`
	KafkaBrokers        string `env:"KAFKA_BROKERS,optional" description:"comma separated Kafka bootstrap addresses, empty disables forwarding"`
	KafkaTelemetryTopic string `env:"KAFKA_TELEMETRY_TOPIC,default=fleexa.telemetry" description:"Kafka topic for telemetry"`
	KafkaAlertTopic     string `env:"KAFKA_ALERT_TOPIC,default=fleexa.alerts" description:"Kafka topic for alerts"`
	LogLevel            string `env:"LOG_LEVEL,optional,default=info" description:"The level used for logger, can be debug, warning, info, error"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	logger.InitLogger(logger.ParseLevel(service.LogLevel))

	var kafkaBrokers []string
	for _, addr := range strings.Split(service.KafkaBrokers, ",") {
		if addr = strings.TrimSpace(addr); len(addr) > 0 {
			kafkaBrokers = append(kafkaBrokers, addr)
		}
	}

	iotBroker := broker.NewBroker(&broker.Builder{
		ListenAddr:          service.Listen,
		CACertFile:          service.CACertFile,
		CertFile:            service.CertFile,
		KeyFile:             service.KeyFile,
		KafkaBrokers:        kafkaBrokers,
		KafkaTelemetryTopic: service.KafkaTelemetryTopic,
		KafkaAlertTopic:     service.KafkaAlertTopic,
	})

	iotBroker.Run()
}
