package chat

import (
	"errors"
	"strconv"
	"strings"
	"sync/atomic"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Transport is a live chat connection delivering Events.
type Transport interface {
	// OnEvent registers the message handler. Handlers run one at a time.
	OnEvent(func(Event))
	// OnConnect registers a callback fired once the connection is up.
	OnConnect(func())
	Join(channel string)
	// Connect blocks until the connection ends. A deliberate Disconnect
	// returns nil.
	Connect() error
	Disconnect() error
}

// TwitchTransport adapts a go-twitch-irc client.
type TwitchTransport struct {
	client    *twitch.Client
	onConnect func()
	// closing is set by Disconnect. The client refuses to disconnect before
	// the 001 welcome, so the handshake hook finishes the job.
	closing atomic.Bool
}

// NewTwitchTransport returns an authenticated transport when username and
// token are both set, otherwise an anonymous read-only one.
func NewTwitchTransport(username, token string) *TwitchTransport {
	var c *twitch.Client
	if username != "" && token != "" {
		c = twitch.NewClient(username, ensureOAuthPrefix(token))
	} else {
		c = twitch.NewAnonymousClient()
	}
	t := &TwitchTransport{client: c}
	c.OnConnect(t.handshake)
	return t
}

func (t *TwitchTransport) handshake() {
	if t.closing.Load() {
		_ = t.client.Disconnect()
		return
	}
	if t.onConnect != nil {
		t.onConnect()
	}
}

func (t *TwitchTransport) OnEvent(fn func(Event)) {
	t.client.OnPrivateMessage(func(m twitch.PrivateMessage) {
		fn(EventFromPrivateMessage(m))
	})
}

// OnConnect must be called before Connect.
func (t *TwitchTransport) OnConnect(fn func()) { t.onConnect = fn }

func (t *TwitchTransport) Join(channel string) { t.client.Join(channel) }

func (t *TwitchTransport) Connect() error {
	if t.closing.Load() {
		return nil
	}
	err := t.client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}

// Disconnect ends the connection. Called before the handshake completes, it
// marks the transport closing and the connection drops as soon as the server
// welcomes it.
func (t *TwitchTransport) Disconnect() error {
	t.closing.Store(true)
	err := t.client.Disconnect()
	if errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		return nil
	}
	return err
}

// EventFromPrivateMessage converts a PRIVMSG into an Event. Badge order comes
// from the raw badges tag when present.
func EventFromPrivateMessage(m twitch.PrivateMessage) Event {
	sent := m.Tags["tmi-sent-ts"]
	if sent == "" && !m.Time.IsZero() {
		sent = strconv.FormatInt(m.Time.UnixMilli(), 10)
	}
	var refs []BadgeRef
	if raw, ok := m.Tags["badges"]; ok {
		refs = ParseBadgeTag(raw)
	} else {
		refs = badgesFromMap(m.User.Badges)
	}
	return Event{
		ID:            m.ID,
		Channel:       m.Channel,
		UserID:        m.User.ID,
		DisplayName:   m.User.DisplayName,
		Text:          m.Message,
		SentTimestamp: sent,
		Badges:        refs,
	}
}

func ensureOAuthPrefix(token string) string {
	if strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}
