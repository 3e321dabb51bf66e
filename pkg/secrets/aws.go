package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/Jeffail/gabs/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ParameterStoreAPI is the subset of the SSM client used here.
type ParameterStoreAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretsManager reads JSON key/value secrets. A secret (the category)
// holds a JSON object; each key is one credential.
type SecretsManager struct {
	api    SecretsManagerAPI
	logger zerolog.Logger
}

// NewSecretsManager wraps a Secrets Manager client.
func NewSecretsManager(api SecretsManagerAPI) *SecretsManager {
	return &SecretsManager{
		api:    api,
		logger: log.With().Str("component", "secrets-manager").Logger(),
	}
}

// NewSecretsManagerFromConfig creates a reader from an AWS config.
func NewSecretsManagerFromConfig(cfg aws.Config) *SecretsManager {
	return NewSecretsManager(secretsmanager.NewFromConfig(cfg))
}

// GetSecret returns key name of secret category. A missing secret, missing
// key or empty value is ErrNotConfigured.
func (s *SecretsManager) GetSecret(ctx context.Context, category, name string) (string, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(category),
	})
	if err != nil {
		var nf *smtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return "", fmt.Errorf("secret %s: %w", category, ErrNotConfigured)
		}
		s.logger.Error().Err(err).Str("code", errorCode(err)).Str("secret", category).Msg("Failed to look up secret")
		return "", fmt.Errorf("get secret %s: %w", category, err)
	}

	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value: %w", category, ErrNotConfigured)
	}

	parsed, err := gabs.ParseJSON([]byte(*out.SecretString))
	if err != nil {
		return "", fmt.Errorf("secret %s is not a JSON object: %w", category, err)
	}

	value, ok := parsed.Search(name).Data().(string)
	if !ok || value == "" {
		return "", fmt.Errorf("secret %s key %s: %w", category, name, ErrNotConfigured)
	}

	s.logger.Debug().Str("secret", category).Str("key", name).Msg("Secret resolved")
	return value, nil
}

// Lookup returns GetSecret as a resolution tier.
func (s *SecretsManager) Lookup(category, name string) Lookup {
	return func(ctx context.Context) (string, error) {
		return s.GetSecret(ctx, category, name)
	}
}

// ParameterStore reads SSM parameters, decrypting SecureString values.
type ParameterStore struct {
	api    ParameterStoreAPI
	logger zerolog.Logger
}

// NewParameterStore wraps an SSM client.
func NewParameterStore(api ParameterStoreAPI) *ParameterStore {
	return &ParameterStore{
		api:    api,
		logger: log.With().Str("component", "parameter-store").Logger(),
	}
}

// NewParameterStoreFromConfig creates a reader from an AWS config.
func NewParameterStoreFromConfig(cfg aws.Config) *ParameterStore {
	return NewParameterStore(ssm.NewFromConfig(cfg))
}

// GetParameter returns the value of parameter name. A missing parameter or
// empty value is ErrNotConfigured.
func (p *ParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *ssmtypes.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("parameter %s: %w", name, ErrNotConfigured)
		}
		p.logger.Error().Err(err).Str("code", errorCode(err)).Str("parameter", name).Msg("Failed to look up parameter")
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}

	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("parameter %s: %w", name, ErrNotConfigured)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// Lookup returns GetParameter as a resolution tier. An empty name is
// treated as absent without calling SSM.
func (p *ParameterStore) Lookup(name string) Lookup {
	return func(ctx context.Context) (string, error) {
		if name == "" {
			return "", ErrNotConfigured
		}
		return p.GetParameter(ctx, name)
	}
}

// errorCode returns the AWS error code of err, or "unknown".
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return "unknown"
}
