package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/giantswarm/mcp-oauth/storage"
	"github.com/giantswarm/mcp-oauth/storage/memory"
	"github.com/giantswarm/mcp-oauth/storage/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestCredential_ExpiredAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"well before expiry", Credential{AccessToken: "a", ExpiresAt: now.Add(time.Hour)}, false},
		{"inside buffer", Credential{AccessToken: "a", ExpiresAt: now.Add(4 * time.Minute)}, true},
		{"exactly at buffer", Credential{AccessToken: "a", ExpiresAt: now.Add(DefaultExpiryBuffer)}, true},
		{"past expiry", Credential{AccessToken: "a", ExpiresAt: now.Add(-time.Second)}, true},
		{"no expiry", Credential{AccessToken: "a"}, false},
		{"no access token", Credential{ExpiresAt: now.Add(time.Hour)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cred.ExpiredAt(now, DefaultExpiryBuffer))
		})
	}
}

// storeContract exercises the behaviour every Store must share.
func storeContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	expiry := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)

	_, err := store.Get(ctx, testUser, "google")
	require.ErrorIs(t, err, ErrCredentialNotFound)

	require.NoError(t, store.Update(ctx, Credential{
		UserID: testUser, Provider: "google", AccessToken: "ya29.a", RefreshToken: "r1", ExpiresAt: expiry,
	}))
	require.NoError(t, store.Update(ctx, Credential{
		UserID: testUser, Provider: "search", AccessToken: "s-token",
	}))

	cred, err := store.Get(ctx, testUser, "google")
	require.NoError(t, err)
	assert.Equal(t, "ya29.a", cred.AccessToken)
	assert.Equal(t, "r1", cred.RefreshToken)
	assert.True(t, expiry.Equal(cred.ExpiresAt))

	list, err := store.List(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "google", list[0].Provider)
	assert.Equal(t, "search", list[1].Provider)

	require.NoError(t, store.Delete(ctx, testUser, "google"))
	_, err = store.Get(ctx, testUser, "google")
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	list, err = store.List(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())

	err := NewMemoryStore().Update(context.Background(), Credential{Provider: "google"})
	assert.Error(t, err)
}

func TestTokenStoreAdapter(t *testing.T) {
	tokenStore := memory.New()
	defer tokenStore.Stop()

	storeContract(t, NewTokenStoreAdapter(tokenStore, []string{"google", "search"}))
}

func TestTokenStoreAdapter_KeysByProvider(t *testing.T) {
	tokenStore := memory.New()
	defer tokenStore.Stop()
	ctx := context.Background()

	adapter := NewTokenStoreAdapter(tokenStore, []string{"google"})
	require.NoError(t, adapter.Update(ctx, Credential{
		UserID: testUser, Provider: "google", AccessToken: "ya29.a", ExpiresAt: time.Now().Add(time.Hour),
	}))

	tok, err := tokenStore.GetToken(ctx, testUser+"|google")
	require.NoError(t, err)
	assert.Equal(t, "ya29.a", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
}

func TestTokenStoreAdapter_GetErrors(t *testing.T) {
	backendDown := errors.New("valkey: connection refused")

	tests := []struct {
		name         string
		getToken     func(context.Context, string) (*oauth2.Token, error)
		wantNotFound bool
		wantErr      error
	}{
		{
			name: "missing token",
			getToken: func(_ context.Context, key string) (*oauth2.Token, error) {
				return nil, fmt.Errorf("%w: %s", storage.ErrTokenNotFound, key)
			},
			wantNotFound: true,
		},
		{
			name: "expired token",
			getToken: func(_ context.Context, key string) (*oauth2.Token, error) {
				return nil, fmt.Errorf("%w: %s", storage.ErrTokenExpired, key)
			},
			wantNotFound: true,
		},
		{
			name: "nil token",
			getToken: func(context.Context, string) (*oauth2.Token, error) {
				return nil, nil
			},
			wantNotFound: true,
		},
		{
			name: "cleared token",
			getToken: func(context.Context, string) (*oauth2.Token, error) {
				return &oauth2.Token{}, nil
			},
			wantNotFound: true,
		},
		{
			name: "backend failure",
			getToken: func(context.Context, string) (*oauth2.Token, error) {
				return nil, backendDown
			},
			wantErr: backendDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenStore := mock.NewTokenStore()
			tokenStore.GetTokenFunc = tt.getToken
			adapter := NewTokenStoreAdapter(tokenStore, []string{"google"})

			_, err := adapter.Get(context.Background(), testUser, "google")
			require.Error(t, err)
			assert.Equal(t, tt.wantNotFound, errors.Is(err, ErrCredentialNotFound))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			creds, err := adapter.List(context.Background(), testUser)
			if tt.wantNotFound {
				require.NoError(t, err)
				assert.Empty(t, creds)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func newMockSQLStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db), mock
}

func TestSQLStore_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := NewSQLStore(db)

	mock.ExpectPing()
	assert.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection reset by peer"))
	assert.ErrorContains(t, store.Ping(context.Background()), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Get(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta("SELECT access_token, refresh_token, expires_at FROM oauth_credentials")

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		want      Credential
		wantErr   error
	}{
		{
			name: "found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).
					WithArgs(testUser, "google").
					WillReturnRows(sqlmock.NewRows([]string{"access_token", "refresh_token", "expires_at"}).
						AddRow("ya29.a", "r1", expiry))
			},
			want: Credential{UserID: testUser, Provider: "google", AccessToken: "ya29.a", RefreshToken: "r1", ExpiresAt: expiry},
		},
		{
			name: "null expiry",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).
					WithArgs(testUser, "google").
					WillReturnRows(sqlmock.NewRows([]string{"access_token", "refresh_token", "expires_at"}).
						AddRow("ya29.a", "", nil))
			},
			want: Credential{UserID: testUser, Provider: "google", AccessToken: "ya29.a"},
		},
		{
			name: "not found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs(testUser, "google").WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrCredentialNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockSQLStore(t)
			tt.setupMock(mock)

			got, err := store.Get(context.Background(), testUser, "google")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_Update(t *testing.T) {
	store, mock := newMockSQLStore(t)
	expiry := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO oauth_credentials")).
		WithArgs(testUser, "google", "ya29.a", "r1", expiry).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Update(context.Background(), Credential{
		UserID: testUser, Provider: "google", AccessToken: "ya29.a", RefreshToken: "r1", ExpiresAt: expiry,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteAndList(t *testing.T) {
	store, mock := newMockSQLStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oauth_credentials")).
		WithArgs(testUser, "google").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT provider, access_token, refresh_token, expires_at")).
		WithArgs(testUser).
		WillReturnRows(sqlmock.NewRows([]string{"provider", "access_token", "refresh_token", "expires_at"}).
			AddRow("search", "s-token", "", nil))

	require.NoError(t, store.Delete(ctx, testUser, "google"))

	list, err := store.List(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, Credential{UserID: testUser, Provider: "search", AccessToken: "s-token"}, list[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_EnsureSchema(t *testing.T) {
	store, mock := newMockSQLStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS oauth_credentials")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenSQLStore_Validation(t *testing.T) {
	_, err := OpenSQLStore(SQLConfig{})
	assert.ErrorContains(t, err, "dsn is required")

	_, err = OpenSQLStore(SQLConfig{Driver: "mysql", DSN: "x"})
	assert.ErrorContains(t, err, "unsupported sql driver")
}

func TestProviderConfig_CheckTokenShape(t *testing.T) {
	google := GoogleProvider("id", "secret")
	assert.True(t, google.CheckTokenShape("ya29.abc"))
	assert.False(t, google.CheckTokenShape("gho_abc"))
	assert.False(t, google.CheckTokenShape(""))

	open := ProviderConfig{Name: "search"}
	assert.True(t, open.CheckTokenShape("anything"))
}
