package secrets

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSSecretsProvider resolves secrets from AWS Secrets Manager, one secret
// value per key (the whole stored value is treated as the plaintext).
type AWSSecretsProvider struct {
	client *secretsmanager.Client
}

// NewAWSSecretsProvider creates an AWSSecretsProvider. accessKey/secretKey
// may be empty, in which case the default AWS credential chain (env,
// shared config, instance role) is used.
func NewAWSSecretsProvider(accessKey, secretKey, region string) (*AWSSecretsProvider, error) {
	ctx := context.Background()
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("can't load aws config: %w", err)
	}

	return &AWSSecretsProvider{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// Get fetches the secret string for key from AWS Secrets Manager.
func (p *AWSSecretsProvider) Get(key string) (string, error) {
	out, err := p.client.GetSecretValue(context.Background(), &secretsmanager.GetSecretValueInput{SecretId: &key})
	if err != nil {
		return "", fmt.Errorf("can't get secret %q from aws secrets manager: %w", key, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %q has no string value", key)
	}
	return *out.SecretString, nil
}
