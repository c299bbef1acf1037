package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
)

// SQLConfig configures the database connection of a SQLStore.
type SQLConfig struct {
	// Driver is "postgres" (lib/pq) or "pgx" (jackc/pgx).
	Driver string
	DSN    string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns connection defaults for the given DSN.
func DefaultSQLConfig(dsn string) SQLConfig {
	return SQLConfig{
		Driver:          "postgres",
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore is a Store backed by the oauth_credentials table.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore connects to the database and verifies the connection.
func OpenSQLStore(config SQLConfig) (*SQLStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	switch config.Driver {
	case "postgres", "pgx":
	case "":
		config.Driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", config.Driver)
	}

	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewSQLStore(db), nil
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the credential table if it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS oauth_credentials (
			user_id       TEXT NOT NULL,
			provider      TEXT NOT NULL,
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at    TIMESTAMPTZ,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, provider)
		)
	`)
	if err != nil {
		return fmt.Errorf("create oauth_credentials: %w", err)
	}
	return nil
}

// Get returns the credential for userID and provider.
func (s *SQLStore) Get(ctx context.Context, userID, provider string) (Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at
		FROM oauth_credentials
		WHERE user_id = $1 AND provider = $2
	`, userID, provider)

	cred := Credential{UserID: userID, Provider: provider}
	var expiresAt sql.NullTime
	if err := row.Scan(&cred.AccessToken, &cred.RefreshToken, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, fmt.Errorf("%w: %s", ErrCredentialNotFound, provider)
		}
		return Credential{}, fmt.Errorf("get credential: %w", err)
	}
	if expiresAt.Valid {
		cred.ExpiresAt = expiresAt.Time
	}
	return cred, nil
}

// Update upserts a credential.
func (s *SQLStore) Update(ctx context.Context, cred Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_credentials (user_id, provider, access_token, refresh_token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`,
		cred.UserID,
		cred.Provider,
		cred.AccessToken,
		cred.RefreshToken,
		nullTime(cred.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	return nil
}

// Delete removes a credential.
func (s *SQLStore) Delete(ctx context.Context, userID, provider string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM oauth_credentials WHERE user_id = $1 AND provider = $2
	`, userID, provider)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// List returns the user's credentials ordered by provider.
func (s *SQLStore) List(ctx context.Context, userID string) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, access_token, refresh_token, expires_at
		FROM oauth_credentials
		WHERE user_id = $1
		ORDER BY provider
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		cred := Credential{UserID: userID}
		var expiresAt sql.NullTime
		if err := rows.Scan(&cred.Provider, &cred.AccessToken, &cred.RefreshToken, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		if expiresAt.Valid {
			cred.ExpiresAt = expiresAt.Time
		}
		out = append(out, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
