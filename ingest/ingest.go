// Copyright 2026 Fleexa Project - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@fleexa.io
//

/*Package ingest implements the cloud ingestion function for device
telemetry and alerts.

The broker routes every message published to devices/{device_id}/telemetry
and devices/{device_id}/alerts into this function, together with the
originating topic. Messages are validated against the same schemas the
devices use, fail closed, and valid envelopes are forwarded to SQS for the
processing pipeline. Alert envelopes are additionally archived to S3.
*/
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/fleexa-project/devices/core/logger"
	"github.com/fleexa-project/devices/core/schema"
)

// Event is one broker-routed device message. The broker rule forwards the
// raw envelope together with the topic it arrived on.
type Event struct {
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

// Config holds the ingestion targets.
type Config struct {
	// QueueURL is the SQS queue valid envelopes are forwarded to.
	QueueURL string
	// Bucket is the S3 bucket alert envelopes are archived to. Empty
	// disables archiving.
	Bucket string
	// KeyPrefix prefixes all archive keys.
	KeyPrefix string
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type uploaderAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Service validates and forwards broker-routed device messages.
type Service struct {
	registry *schema.Registry
	sqs      sqsAPI
	uploader uploaderAPI
	cfg      Config
}

// New returns the ingestion service for the given AWS configuration. The
// registry is the shared message schema registry.
func New(awsConfig aws.Config, registry *schema.Registry, cfg Config) *Service {
	s := &Service{
		registry: registry,
		sqs:      sqs.NewFromConfig(awsConfig),
		cfg:      cfg,
	}
	if len(cfg.Bucket) > 0 {
		s.uploader = manager.NewUploader(s3.NewFromConfig(awsConfig))
	}
	return s
}

// envelope is the subset of the wire envelope the ingestion needs.
type envelope struct {
	DeviceID  string `json:"device_id"`
	Timestamp int64  `json:"timestamp"`
}

// Handle processes one routed message. Invalid messages are dropped and
// logged, never retried; only forwarding failures are returned as errors
// so the platform retries them.
func (s *Service) Handle(ctx context.Context, event Event) error {
	schemaName, ok := classify(event.Topic)
	if !ok {
		logger.Default().Warnln("message on unexpected topic dropped:", event.Topic)
		return nil
	}

	if !s.registry.ValidateBytes(event.Message, schemaName) {
		logger.Default().Errorf("invalid %s message on %s dropped", schemaName, event.Topic)
		return nil
	}

	var env envelope
	if err := json.Unmarshal(event.Message, &env); err != nil {
		logger.Default().Errorln("envelope decode error:", err)
		return nil
	}
	rlog := logger.ForDevice(env.DeviceID)

	_, err := s.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.cfg.QueueURL),
		MessageBody: aws.String(string(event.Message)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(schemaName),
			},
			"device_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(env.DeviceID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("forward %s from %s: %w", schemaName, env.DeviceID, err)
	}
	rlog.Debugf("%s forwarded", schemaName)

	if schemaName == schema.Alert && s.uploader != nil {
		key := fmt.Sprintf("%s%s/%d-%s.json", s.cfg.KeyPrefix, env.DeviceID, env.Timestamp, uuid.New().String())
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(event.Message),
		})
		if err != nil {
			return fmt.Errorf("archive alert from %s: %w", env.DeviceID, err)
		}
		rlog.Infoln("alert archived to", key)
	}

	return nil
}

// classify maps a device topic to the schema its messages must satisfy.
func classify(topic string) (string, bool) {
	if !strings.HasPrefix(topic, "devices/") {
		return "", false
	}
	switch {
	case strings.HasSuffix(topic, "/telemetry"):
		return schema.Telemetry, true
	case strings.HasSuffix(topic, "/alerts"):
		return schema.Alert, true
	}
	return "", false
}
