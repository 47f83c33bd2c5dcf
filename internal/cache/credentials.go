package cache

import (
	"context"
	"sync"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
	"github.com/pkg/errors"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// TokenSource lazily obtains an access token and reuses it until it is no
// longer valid.
type TokenSource struct {
	source auth.TokenProvider

	mu    sync.Mutex
	token *auth.Token
}

// NewTokenSource wraps an upstream token provider.
func NewTokenSource(source auth.TokenProvider) *TokenSource {
	return &TokenSource{source: source}
}

// Token implements auth.TokenProvider.
func (s *TokenSource) Token(ctx context.Context) (*auth.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token.IsValid() {
		return s.token, nil
	}
	tok, err := s.source.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "refresh access token")
	}
	s.token = tok
	return tok, nil
}

// NewCredentials builds Vertex credentials from a service-account JSON blob,
// or from the ambient default credentials when blob is empty. Tokens are
// cached by a TokenSource.
func NewCredentials(blob []byte) (*auth.Credentials, error) {
	opts := &credentials.DetectOptions{Scopes: []string{cloudPlatformScope}}
	if len(blob) > 0 {
		opts.CredentialsJSON = blob
	}
	detected, err := credentials.DetectDefault(opts)
	if err != nil {
		return nil, errors.Wrap(err, "detect google credentials")
	}
	return auth.NewCredentials(&auth.CredentialsOptions{
		TokenProvider:          NewTokenSource(detected),
		JSON:                   detected.JSON(),
		ProjectIDProvider:      auth.CredentialsPropertyFunc(detected.ProjectID),
		QuotaProjectIDProvider: auth.CredentialsPropertyFunc(detected.QuotaProjectID),
		UniverseDomainProvider: auth.CredentialsPropertyFunc(detected.UniverseDomain),
	}), nil
}
