// Package fitbit holds the Fitbit OAuth 2.0 client configuration and the
// state and redirect rules used by the authorization flow.
package fitbit

import (
	"golang.org/x/oauth2"
)

const (
	DefaultAuthURL  = "https://www.fitbit.com/oauth2/authorize"
	DefaultTokenURL = "https://api.fitbit.com/oauth2/token"
)

// Scopes requested on the consent page. Food logging needs nutrition;
// profile identifies the account.
var Scopes = []string{"nutrition", "profile"}

// OAuthSettings are the values needed to build the client config.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
}

// NewOAuthConfig returns the OAuth2 config for Fitbit. Fitbit expects the
// client credentials as HTTP Basic auth on the token endpoint.
func NewOAuthConfig(s OAuthSettings) *oauth2.Config {
	authURL := s.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	tokenURL := s.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	return &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		RedirectURL:  s.RedirectURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}
