package workspace

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	docs "google.golang.org/api/docs/v1"
	drive "google.golang.org/api/drive/v3"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Endpoints overrides the API base URLs. Empty fields use the public
// Google endpoints.
type Endpoints struct {
	Gmail    string
	Calendar string
	Drive    string
	Docs     string
}

// Config configures a Client.
type Config struct {
	// Token is the user's OAuth access token.
	Token string

	// HTTPClient is the base client the bearer transport wraps.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client

	Endpoints Endpoints
}

// Client wraps the Gmail, Calendar, Drive and Docs services for one user.
type Client struct {
	gmail    *gmail.UsersService
	calendar *calendar.Service
	drive    *drive.Service
	docs     *docs.Service
}

// NewClient creates a Client authenticated with a static bearer token.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("access token is required")
	}

	base := cfg.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	httpClient := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, base),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}),
	)

	opts := func(endpoint string) []option.ClientOption {
		o := []option.ClientOption{option.WithHTTPClient(httpClient)}
		if endpoint != "" {
			o = append(o, option.WithEndpoint(endpoint))
		}
		return o
	}

	gmailSvc, err := gmail.NewService(ctx, opts(cfg.Endpoints.Gmail)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	calendarSvc, err := calendar.NewService(ctx, opts(cfg.Endpoints.Calendar)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	driveSvc, err := drive.NewService(ctx, opts(cfg.Endpoints.Drive)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	docsSvc, err := docs.NewService(ctx, opts(cfg.Endpoints.Docs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docs service: %w", err)
	}

	return &Client{
		gmail:    gmailSvc.Users,
		calendar: calendarSvc,
		drive:    driveSvc,
		docs:     docsSvc,
	}, nil
}
