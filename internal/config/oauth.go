package config

import (
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleOAuth builds the Google sign-in config. It returns nil when no
// client credentials are configured so callers can disable the routes.
func (c *Config) GoogleOAuth() *oauth2.Config {
	if c.OAuth.GoogleClientID == "" || c.OAuth.GoogleClientSecret == "" {
		return nil
	}

	return &oauth2.Config{
		ClientID:     c.OAuth.GoogleClientID,
		ClientSecret: c.OAuth.GoogleClientSecret,
		RedirectURL:  strings.TrimRight(c.OAuth.RedirectBaseURL, "/") + "/api/v1/auth/google/callback",
		Scopes:       []string{"openid", "profile", "email"},
		Endpoint:     google.Endpoint,
	}
}
