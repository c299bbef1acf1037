package credentials

import (
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleTokenPrefix is the prefix of Google OAuth access tokens.
const GoogleTokenPrefix = "ya29."

// GoogleScopes are the scopes the Google Workspace tools need.
var GoogleScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/documents.readonly",
}

// ProviderConfig describes how to refresh and sanity check one provider's
// tokens.
type ProviderConfig struct {
	Name        string
	DisplayName string

	// TokenPrefix, when set, is the prefix every valid access token has.
	TokenPrefix string

	// OAuth2 is nil for providers whose tokens cannot be refreshed.
	OAuth2 *oauth2.Config
}

// CheckTokenShape reports whether token looks like a token of this provider.
func (p ProviderConfig) CheckTokenShape(token string) bool {
	if token == "" {
		return false
	}
	return p.TokenPrefix == "" || strings.HasPrefix(token, p.TokenPrefix)
}

// GoogleProvider returns the configuration for Google Workspace.
func GoogleProvider(clientID, clientSecret string) ProviderConfig {
	return ProviderConfig{
		Name:        "google",
		DisplayName: "Google Workspace",
		TokenPrefix: GoogleTokenPrefix,
		OAuth2: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       GoogleScopes,
		},
	}
}
