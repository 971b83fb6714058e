package main

import (
	"context"

	"github.com/joeshaw/envdecode"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/fleexa-project/devices/core/logger"
	"github.com/fleexa-project/devices/core/schema"
	"github.com/fleexa-project/devices/ingest"
)

// Service holds the configuration for this service
type Service struct {
	QueueURL  string `env:"QUEUE_URL,required" description:"the SQS queue URL for valid envelopes"`
	Bucket    string `env:"ALERT_BUCKET,optional" description:"the S3 bucket for the alert archive, empty disables archiving"`
	KeyPrefix string `env:"ALERT_KEY_PREFIX,default=alerts/" description:"key prefix for archived alerts"`
	Region    string `env:"AWS_REGION,default=us-east-1" description:"the AWS region"`
	AccessID  string `env:"AWS_ACCESS_ID,optional" description:"static AWS access key ID, empty uses the default chain"`
	AccessKey string `env:"AWS_ACCESS_KEY,optional" description:"static AWS secret access key"`
	SchemaDir string `env:"SCHEMA_DIR,default=schemas" description:"the directory containing the message schemas"`
	LogLevel  string `env:"LOG_LEVEL,optional,default=info" description:"The level used for logger, can be debug, warning, info, error"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	logger.InitLogger(logger.ParseLevel(service.LogLevel))

	opts := []func(*config.LoadOptions) error{config.WithRegion(service.Region)}
	if len(service.AccessID) > 0 {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(service.AccessID, service.AccessKey, "")))
	}
	awsConfig, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		panic(err)
	}

	registry := schema.NewRegistry(service.SchemaDir)
	handler := ingest.New(awsConfig, registry, ingest.Config{
		QueueURL:  service.QueueURL,
		Bucket:    service.Bucket,
		KeyPrefix: service.KeyPrefix,
	})

	logger.Default().Infoln("ingestion cold start")
	lambda.Start(handler.Handle)
}
