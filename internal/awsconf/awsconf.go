// Package awsconf builds the shared AWS configuration and the service
// clients the archiver talks to.
package awsconf

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type Config struct {
	Region string `yaml:"region" env:"AWS_REGION" env-default:"us-east-1"`

	// Endpoint overrides the service endpoint for every client. Used with
	// S3/SQS/DynamoDB compatible local stacks.
	Endpoint string `yaml:"endpoint" env:"AWS_ENDPOINT_URL" validate:"omitempty,url"`

	// Static credentials are optional; when absent the default provider
	// chain (env, shared config, instance role) is used.
	AccessKeyID     string `yaml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
}

type Clients struct {
	S3         *s3.Client
	SQS        *sqs.Client
	DynamoDB   *dynamodb.Client
	CloudWatch *cloudwatch.Client
}

// Load resolves the AWS configuration.
func Load(ctx context.Context, config Config) (aws.Config, error) {
	opts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(config.Region),
	}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("aws: load config: %w", err)
	}
	if config.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(config.Endpoint)
	}

	return cfg, nil
}

// NewClients constructs a client for each AWS service used. S3 is
// switched to path-style addressing when a custom endpoint is set.
func NewClients(cfg aws.Config) *Clients {
	customEndpoint := cfg.BaseEndpoint != nil
	return &Clients{
		S3: s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = customEndpoint
		}),
		SQS:        sqs.NewFromConfig(cfg),
		DynamoDB:   dynamodb.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
	}
}
