package chat

import (
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/anonchat/badges"
	"github.com/onnwee/anonchat/telemetry"
)

// DefaultTimeLayout is two-digit hour and minute, as shown in the overlay.
const DefaultTimeLayout = "15:04"

// AliasResolver maps a user identity to its pseudonym.
type AliasResolver interface {
	Resolve(userID string) (string, error)
}

// DisplayRecord is a chat line ready for rendering.
type DisplayRecord struct {
	ID          string    `json:"id,omitempty"`
	Channel     string    `json:"channel,omitempty"`
	Pseudonym   string    `json:"pseudonym"`
	DisplayName string    `json:"-"`
	Text        string    `json:"message"`
	BadgeURLs   []string  `json:"badges"`
	Time        string    `json:"time"`
	SentAt      time.Time `json:"sent_at"`
}

// Formatter renders the sent time in Location using Layout. The zero value
// uses the local zone and DefaultTimeLayout.
type Formatter struct {
	Location *time.Location
	Layout   string
}

// Format builds the display record for ev. Errors from the resolver (notably
// alias.ErrEmptyPool) are returned unchanged. Badges missing from lookup are
// dropped silently.
func (f Formatter) Format(ev Event, aliases AliasResolver, lookup badges.Lookup) (DisplayRecord, error) {
	pseudonym, err := aliases.Resolve(ev.UserID)
	if err != nil {
		return DisplayRecord{}, err
	}

	urls := make([]string, 0, len(ev.Badges))
	for _, b := range ev.Badges {
		u, ok := lookup.URL(b.SetID, b.VersionID)
		if !ok {
			telemetry.IncBadgeMisses()
			continue
		}
		urls = append(urls, u)
	}

	rec := DisplayRecord{
		ID:          ev.ID,
		Channel:     ev.Channel,
		Pseudonym:   pseudonym,
		DisplayName: ev.DisplayName,
		Text:        ev.Text,
		BadgeURLs:   urls,
	}
	if sent, ok := ParseSentTimestamp(ev.SentTimestamp); ok {
		rec.SentAt = sent
		rec.Time = sent.In(f.location()).Format(f.layout())
	}
	return rec, nil
}

func (f Formatter) location() *time.Location {
	if f.Location != nil {
		return f.Location
	}
	return time.Local
}

func (f Formatter) layout() string {
	if f.Layout != "" {
		return f.Layout
	}
	return DefaultTimeLayout
}

// ParseSentTimestamp parses epoch milliseconds given as a decimal string.
func ParseSentTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
