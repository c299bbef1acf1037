package credentials

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-oauth/storage"
)

// tokenDeleter is implemented by mcp-oauth stores that can remove tokens.
type tokenDeleter interface {
	DeleteToken(ctx context.Context, userID string) error
}

// TokenStoreAdapter exposes an mcp-oauth TokenStore as a Store. Tokens are
// saved under "userID|provider". The TokenStore cannot enumerate keys, so
// List probes the configured providers.
type TokenStoreAdapter struct {
	store     storage.TokenStore
	providers []string
}

// NewTokenStoreAdapter wraps store. providers lists the provider names List
// looks for.
func NewTokenStoreAdapter(store storage.TokenStore, providers []string) *TokenStoreAdapter {
	return &TokenStoreAdapter{
		store:     store,
		providers: append([]string(nil), providers...),
	}
}

func tokenKey(userID, provider string) string {
	return userID + "|" + provider
}

// Get returns the credential for userID and provider.
func (a *TokenStoreAdapter) Get(ctx context.Context, userID, provider string) (Credential, error) {
	tok, err := a.store.GetToken(ctx, tokenKey(userID, provider))
	switch {
	case storage.IsNotFoundError(err), storage.IsExpiredError(err):
		// An expired token without a refresh token cannot be used again.
		return Credential{}, fmt.Errorf("%w: %s", ErrCredentialNotFound, provider)
	case err != nil:
		return Credential{}, fmt.Errorf("get token for %s: %w", provider, err)
	case tok == nil || (tok.AccessToken == "" && tok.RefreshToken == ""):
		return Credential{}, fmt.Errorf("%w: %s", ErrCredentialNotFound, provider)
	}
	return Credential{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// Update saves a credential as an oauth2 token.
func (a *TokenStoreAdapter) Update(ctx context.Context, cred Credential) error {
	err := a.store.SaveToken(ctx, tokenKey(cred.UserID, cred.Provider), &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       cred.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Delete removes a credential. Stores that cannot delete get an empty token
// written in its place, which Get reports as not found.
func (a *TokenStoreAdapter) Delete(ctx context.Context, userID, provider string) error {
	key := tokenKey(userID, provider)
	if d, ok := a.store.(tokenDeleter); ok {
		if err := d.DeleteToken(ctx, key); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
		return nil
	}
	if err := a.store.SaveToken(ctx, key, &oauth2.Token{}); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

// List returns the user's credentials for the configured providers.
func (a *TokenStoreAdapter) List(ctx context.Context, userID string) ([]Credential, error) {
	var out []Credential
	for _, provider := range a.providers {
		cred, err := a.Get(ctx, userID, provider)
		if errors.Is(err, ErrCredentialNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}
