// Package twitchapi contains minimal helpers for the Twitch Helix API (user id
// resolution, chat badges and stream status) and the Twitch OAuth flows.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onnwee/anonchat/badges"
	"github.com/onnwee/anonchat/telemetry"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// HelixClient provides the Helix calls the overlay needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// BaseURL overrides DefaultBaseURL.
	BaseURL string
}

// Stream is a live broadcast as reported by /streams.
type Stream struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserLogin string    `json:"user_login"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
}

// defaultHTTPClient is used when HelixClient.HTTPClient is nil.
var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return defaultHTTPClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultBaseURL
}

// get performs an authenticated GET against path and decodes the JSON body into out.
func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix.get", telemetry.HTTPRouteAttr(path))
	defer span.End()
	start := time.Now()
	defer func() { telemetry.ObserveHelix(path, time.Since(start)) }()

	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	u := hc.baseURL() + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.SetSpanHTTPStatus(span, resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("helix %s: %s: %s", path, resp.Status, strings.TrimSpace(string(b)))
		telemetry.RecordError(span, err)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode helix %s: %w", path, err)
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/users", url.Values{"login": {login}}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// ListChannelBadges lists the custom badge sets of a broadcaster.
func (hc *HelixClient) ListChannelBadges(ctx context.Context, broadcasterID string) ([]badges.Set, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	var body struct {
		Data []badges.Set `json:"data"`
	}
	if err := hc.get(ctx, "/chat/badges", url.Values{"broadcaster_id": {broadcasterID}}, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// ListGlobalBadges lists the badge sets available in every channel.
func (hc *HelixClient) ListGlobalBadges(ctx context.Context) ([]badges.Set, error) {
	var body struct {
		Data []badges.Set `json:"data"`
	}
	if err := hc.get(ctx, "/chat/badges/global", nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// LoadBadges builds the badge lookup for a channel login: global sets first,
// then the channel's own sets, which win on conflicts. Failing to fetch the
// global sets is logged and tolerated.
func (hc *HelixClient) LoadBadges(ctx context.Context, channel string) (badges.Lookup, error) {
	id, err := hc.GetUserID(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("resolve broadcaster %q: %w", channel, err)
	}
	global, err := hc.ListGlobalBadges(ctx)
	if err != nil {
		slog.Warn("global badges unavailable", slog.String("component", "twitchapi"), slog.Any("err", err))
	}
	own, err := hc.ListChannelBadges(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("channel badges for %q: %w", channel, err)
	}
	return badges.FromSets(global, own), nil
}

// GetStreams returns the live streams of a login; empty when offline.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "/streams", url.Values{"user_login": {login}}, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// IsLive reports whether login is currently broadcasting.
func (hc *HelixClient) IsLive(ctx context.Context, login string) (bool, error) {
	streams, err := hc.GetStreams(ctx, login)
	if err != nil {
		return false, err
	}
	return len(streams) > 0, nil
}
