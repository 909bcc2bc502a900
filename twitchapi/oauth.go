package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// AuthURL is the Twitch user authorization endpoint.
const AuthURL = "https://id.twitch.tv/oauth2/authorize"

// Endpoint is Twitch's OAuth2 endpoint. Twitch expects client credentials in
// the form body.
var Endpoint = oauth2.Endpoint{
	AuthURL:   AuthURL,
	TokenURL:  TokenURL,
	AuthStyle: oauth2.AuthStyleInParams,
}

// OAuthConfig builds the authorization code flow config. scopes may be comma
// or space separated.
func OAuthConfig(clientID, clientSecret, redirectURI, scopes string) (*oauth2.Config, error) {
	if clientID == "" || redirectURI == "" {
		return nil, errors.New("missing clientID or redirectURI")
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       strings.Fields(strings.ReplaceAll(scopes, ",", " ")),
		Endpoint:     Endpoint,
	}, nil
}

// BuildAuthorizeURL constructs the user authorization URL for OAuth code grant.
func BuildAuthorizeURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state)
}

// ExchangeAuthCode exchanges an authorization code for access & refresh tokens.
func ExchangeAuthCode(ctx context.Context, cfg *oauth2.Config, code string, hc *http.Client) (*oauth2.Token, error) {
	if cfg.ClientSecret == "" || code == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	tok, err := cfg.Exchange(withHTTPClient(ctx, hc), code)
	if err != nil {
		return nil, fmt.Errorf("twitch auth code exchange failed: %w", err)
	}
	return tok, nil
}

// RefreshToken exchanges a refresh token for a new access token. Twitch may
// rotate the refresh token; the returned token carries the current one.
func RefreshToken(ctx context.Context, cfg *oauth2.Config, refreshToken string, hc *http.Client) (*oauth2.Token, error) {
	if cfg.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientSecret/refreshToken")
	}
	// an empty access token forces the source to refresh immediately
	src := cfg.TokenSource(withHTTPClient(ctx, hc), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("twitch refresh failed: %w", err)
	}
	return tok, nil
}

// TokenScopes returns the scopes Twitch granted, which it reports as a JSON
// array rather than the space separated string of RFC 6749.
func TokenScopes(tok *oauth2.Token) []string {
	switch v := tok.Extra("scope").(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		return strings.Fields(v)
	}
	return nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

func withHTTPClient(ctx context.Context, hc *http.Client) context.Context {
	if hc == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}
