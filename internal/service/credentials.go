package service

import (
	"context"
	"strings"
)

// CredentialPurpose names the external API a credential is resolved for.
type CredentialPurpose string

const (
	// CredentialLLM resolves the key used for model calls.
	CredentialLLM CredentialPurpose = "llm"
	// CredentialGitHub resolves the optional bearer token for GitHub requests.
	CredentialGitHub CredentialPurpose = "github"
)

// CredentialResolver returns the credential to use for a user and purpose.
// An empty string with a nil error means no credential is configured.
type CredentialResolver interface {
	Resolve(ctx context.Context, userID uint, purpose CredentialPurpose) (string, error)
}

// CredentialResolverFunc adapts a function to CredentialResolver.
type CredentialResolverFunc func(ctx context.Context, userID uint, purpose CredentialPurpose) (string, error)

// Resolve calls f.
func (f CredentialResolverFunc) Resolve(ctx context.Context, userID uint, purpose CredentialPurpose) (string, error) {
	return f(ctx, userID, purpose)
}

// StaticCredentials serves fixed service-wide credentials.
type StaticCredentials map[CredentialPurpose]string

// Resolve returns the configured credential for purpose.
func (s StaticCredentials) Resolve(_ context.Context, _ uint, purpose CredentialPurpose) (string, error) {
	return strings.TrimSpace(s[purpose]), nil
}

// CredentialChain tries resolvers in order and returns the first non-empty credential,
// e.g. a per-user key before the global key.
type CredentialChain []CredentialResolver

// Resolve walks the chain.
func (c CredentialChain) Resolve(ctx context.Context, userID uint, purpose CredentialPurpose) (string, error) {
	for _, resolver := range c {
		if resolver == nil {
			continue
		}
		value, err := resolver.Resolve(ctx, userID, purpose)
		if err != nil {
			return "", err
		}
		if value = strings.TrimSpace(value); value != "" {
			return value, nil
		}
	}
	return "", nil
}
