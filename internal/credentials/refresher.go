package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
)

// DefaultRefreshTimeout bounds one network refresh.
const DefaultRefreshTimeout = 30 * time.Second

// RefresherConfig holds the dependencies of a Refresher.
type RefresherConfig struct {
	Store     Store
	Providers []ProviderConfig

	// HTTPClient is used for token endpoint requests (default: http.DefaultClient).
	HTTPClient *http.Client

	// Clock defaults to the real clock.
	Clock clockwork.Clock

	// ExpiryBuffer defaults to DefaultExpiryBuffer.
	ExpiryBuffer time.Duration

	// RefreshTimeout defaults to DefaultRefreshTimeout.
	RefreshTimeout time.Duration

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Refresher refreshes OAuth credentials. Concurrent refreshes of the same
// (user, provider) share one network request.
type Refresher struct {
	store      Store
	providers  map[string]ProviderConfig
	order      []string
	httpClient *http.Client
	clock      clockwork.Clock
	buffer     time.Duration
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *instrumentation.Metrics

	inflight singleflight.Group
}

// NewRefresher creates a Refresher.
func NewRefresher(config RefresherConfig) (*Refresher, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	r := &Refresher{
		store:      config.Store,
		providers:  make(map[string]ProviderConfig, len(config.Providers)),
		httpClient: config.HTTPClient,
		clock:      config.Clock,
		buffer:     config.ExpiryBuffer,
		timeout:    config.RefreshTimeout,
		logger:     logging.WithComponent(config.Logger, "credentials"),
		metrics:    config.Metrics,
	}
	for _, p := range config.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider name is required")
		}
		if _, dup := r.providers[p.Name]; dup {
			return nil, fmt.Errorf("provider %q configured twice", p.Name)
		}
		r.providers[p.Name] = p
		r.order = append(r.order, p.Name)
	}
	if r.httpClient == nil {
		r.httpClient = http.DefaultClient
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.buffer <= 0 {
		r.buffer = DefaultExpiryBuffer
	}
	if r.timeout <= 0 {
		r.timeout = DefaultRefreshTimeout
	}
	return r, nil
}

// Store returns the credential store.
func (r *Refresher) Store() Store {
	return r.store
}

// Provider returns the configuration of a provider.
func (r *Refresher) Provider(name string) (ProviderConfig, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Providers returns the configured provider names in configuration order.
func (r *Refresher) Providers() []string {
	return append([]string(nil), r.order...)
}

// ExpiryBuffer returns the safety buffer applied to token expiry.
func (r *Refresher) ExpiryBuffer() time.Duration {
	return r.buffer
}

// Refresh exchanges refreshToken for a new access token. It always performs
// the network refresh; callers decide whether one is needed.
//
// The new token is persisted before Refresh returns. A refresh rejected with
// invalid_grant deletes the stored credential.
func (r *Refresher) Refresh(ctx context.Context, userID, provider, refreshToken string) RefreshResult {
	key := userID + "\x00" + provider

	ch := r.inflight.DoChan(key, func() (any, error) {
		// Shared by every caller, so it must outlive the first caller's context.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.refresh(refreshCtx, userID, provider, refreshToken), nil
	})

	select {
	case res := <-ch:
		return res.Val.(RefreshResult)
	case <-ctx.Done():
		return RefreshResult{
			ErrorKind: Recoverable,
			Err:       &RefreshError{Kind: Recoverable, Provider: provider, Err: ctx.Err()},
		}
	}
}

func (r *Refresher) refresh(ctx context.Context, userID, provider, refreshToken string) RefreshResult {
	logger := logging.WithOperation(r.logger, "token_refresh").With(
		logging.Provider(provider),
		logging.UserHash(userID),
	)
	start := r.clock.Now()

	fail := func(kind ErrorKind, result string, err error) RefreshResult {
		r.metrics.RecordTokenRefresh(ctx, provider, result, r.clock.Since(start))
		return RefreshResult{
			ErrorKind: kind,
			Err:       &RefreshError{Kind: kind, Provider: provider, Err: err},
		}
	}

	cfg, ok := r.providers[provider]
	if !ok || cfg.OAuth2 == nil {
		return fail(Recoverable, instrumentation.RefreshResultRecoverable, fmt.Errorf("%w: %s", ErrUnknownProvider, provider))
	}
	if refreshToken == "" {
		return fail(Recoverable, instrumentation.RefreshResultRecoverable, ErrNoRefreshToken)
	}

	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	tok, err := cfg.OAuth2.TokenSource(httpCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		if isInvalidGrant(err) {
			logger.Warn("refresh token rejected, deleting credential", logging.Err(err))
			if delErr := r.store.Delete(ctx, userID, provider); delErr != nil {
				logger.Error("failed to delete revoked credential", logging.Err(delErr))
			}
			return fail(Permanent, instrumentation.RefreshResultPermanent, err)
		}
		logger.Warn("token refresh failed", logging.Err(err))
		return fail(Recoverable, instrumentation.RefreshResultRecoverable, err)
	}

	cred := Credential{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    r.expiryOf(tok),
	}
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}

	if err := r.store.Update(ctx, cred); err != nil {
		logger.Error("failed to persist refreshed token", logging.Err(err))
		return fail(Recoverable, instrumentation.RefreshResultPersistFail, fmt.Errorf("persist refreshed token: %w", err))
	}

	r.metrics.RecordTokenRefresh(ctx, provider, instrumentation.RefreshResultSuccess, r.clock.Since(start))
	logger.Debug("token refreshed", "expires_at", cred.ExpiresAt)

	return RefreshResult{
		Success:     true,
		AccessToken: cred.AccessToken,
		ExpiresAt:   cred.ExpiresAt,
	}
}

// expiryOf derives the expiry from expires_in against the injected clock.
func (r *Refresher) expiryOf(tok *oauth2.Token) time.Time {
	if tok.ExpiresIn > 0 {
		return r.clock.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return tok.Expiry
}

// isInvalidGrant reports whether the provider rejected the refresh token
// itself.
func isInvalidGrant(err error) bool {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.ErrorCode == "invalid_grant" {
		return true
	}
	return strings.Contains(err.Error(), "invalid_grant")
}

// GetFreshToken returns a usable access token, refreshing it when it is
// expired or about to expire.
func (r *Refresher) GetFreshToken(ctx context.Context, userID, provider string) (string, error) {
	cred, err := r.store.Get(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if !cred.ExpiredAt(r.clock.Now(), r.buffer) {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		return "", fmt.Errorf("%s: %w", provider, ErrNoRefreshToken)
	}

	res := r.Refresh(ctx, userID, provider, cred.RefreshToken)
	if !res.Success {
		return "", res.Err
	}
	return res.AccessToken, nil
}

// CheckConnectionStatus reports whether the user's integration is usable.
// A missing credential is disconnected; one inside the expiry buffer is
// expired.
func (r *Refresher) CheckConnectionStatus(ctx context.Context, userID, provider string) (ConnectionStatus, error) {
	cred, err := r.store.Get(ctx, userID, provider)
	if errors.Is(err, ErrCredentialNotFound) {
		return StatusDisconnected, nil
	}
	if err != nil {
		return "", err
	}
	if cred.ExpiredAt(r.clock.Now(), r.buffer) {
		return StatusExpired, nil
	}
	return StatusConnected, nil
}

// RefreshExpired refreshes every stored credential of the user that is
// inside the expiry buffer. It returns the number of credentials refreshed
// and the joined errors of those that failed.
func (r *Refresher) RefreshExpired(ctx context.Context, userID string) (int, error) {
	return r.refreshUser(ctx, userID, false)
}

// RefreshAll refreshes every stored credential of the user that has a
// refresh token, regardless of expiry.
func (r *Refresher) RefreshAll(ctx context.Context, userID string) (int, error) {
	return r.refreshUser(ctx, userID, true)
}

func (r *Refresher) refreshUser(ctx context.Context, userID string, force bool) (int, error) {
	creds, err := r.store.List(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list credentials: %w", err)
	}

	now := r.clock.Now()
	refreshed := 0
	var errs []error
	for _, cred := range creds {
		if _, ok := r.providers[cred.Provider]; !ok {
			continue
		}
		if !force && !cred.ExpiredAt(now, r.buffer) {
			continue
		}
		if cred.RefreshToken == "" {
			if !cred.ExpiredAt(now, r.buffer) {
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", cred.Provider, ErrNoRefreshToken))
			continue
		}
		res := r.Refresh(ctx, userID, cred.Provider, cred.RefreshToken)
		if !res.Success {
			errs = append(errs, res.Err)
			continue
		}
		refreshed++
	}
	return refreshed, errors.Join(errs...)
}
