package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// secretKeyField is looked up when the secret value is a JSON object.
const secretKeyField = "AUTH_SECRET_KEY"

// SecretsClient is the part of the Secrets Manager API used here.
type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func newSecretsClient(ctx context.Context, region string) (SecretsClient, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// FetchSigningSecret reads the HS256 secret named by arn. The value may be
// the raw secret or a JSON object carrying it under AUTH_SECRET_KEY.
func FetchSigningSecret(ctx context.Context, client SecretsClient, arn string) (string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(arn),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return "", fmt.Errorf("get secret value: %w", err)
	}

	var raw string
	switch {
	case out.SecretString != nil:
		raw = *out.SecretString
	case len(out.SecretBinary) > 0:
		raw = string(out.SecretBinary)
	default:
		return "", errors.New("secret has no value")
	}

	var kv map[string]string
	if err := json.Unmarshal([]byte(raw), &kv); err == nil {
		v, ok := kv[secretKeyField]
		if !ok || v == "" {
			return "", fmt.Errorf("secret JSON has no %s field", secretKeyField)
		}
		raw = v
	}

	if len(raw) < minSecretLength {
		return "", fmt.Errorf("secret is shorter than %d bytes", minSecretLength)
	}
	return raw, nil
}
