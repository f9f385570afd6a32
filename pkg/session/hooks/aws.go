// Package hooks provides outbound observers for session writes: SNS
// notifications on feedback, SQS mirroring of metadata changes, and
// WebSocket pushes through API Gateway or the in-process hub. Every
// constructor returns a session.HookFunc that runs on dispatcher workers
// after the write committed; returned errors are logged by the dispatcher
// and never affect the write.
package hooks

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// AWSOptions selects the AWS region and, optionally, static credentials.
// With empty credentials the SDK's default chain applies (environment,
// shared config, instance role).
type AWSOptions struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

func loadAWSConfig(ctx context.Context, opts AWSOptions) (aws.Config, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)))
	}
	return awsconfig.LoadDefaultConfig(ctx, loadOpts...)
}

// NewSNSClient builds an SNS client from the ambient AWS configuration.
func NewSNSClient(ctx context.Context, opts AWSOptions) (*sns.Client, error) {
	cfg, err := loadAWSConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(cfg), nil
}

// NewSQSClient builds an SQS client from the ambient AWS configuration.
func NewSQSClient(ctx context.Context, opts AWSOptions) (*sqs.Client, error) {
	cfg, err := loadAWSConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg), nil
}

// NewAPIGatewayClient builds an API Gateway Management API client pointed at
// the WebSocket stage endpoint (https://<api-id>.execute-api.<region>.amazonaws.com/<stage>).
func NewAPIGatewayClient(ctx context.Context, opts AWSOptions, endpoint string) (*apigatewaymanagementapi.Client, error) {
	cfg, err := loadAWSConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	return apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	}), nil
}
