package chat

import (
	"sort"
	"strconv"
	"strings"
)

// BadgeRef is one badge a user holds: set id plus version id.
type BadgeRef struct {
	SetID     string
	VersionID string
}

// Event is one chat message as delivered by the transport.
type Event struct {
	ID          string
	Channel     string
	UserID      string
	DisplayName string
	Text        string
	// SentTimestamp is epoch milliseconds as sent on the wire (tmi-sent-ts).
	SentTimestamp string
	// Badges keep the order the transport delivered them in.
	Badges []BadgeRef
}

// ParseBadgeTag parses an IRC badges tag ("moderator/1,subscriber/12").
// Entries without a set id are skipped; a missing version yields "".
func ParseBadgeTag(raw string) []BadgeRef {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]BadgeRef, 0, len(parts))
	for _, p := range parts {
		set, version, _ := strings.Cut(strings.TrimSpace(p), "/")
		if set == "" {
			continue
		}
		out = append(out, BadgeRef{SetID: set, VersionID: version})
	}
	return out
}

// badgesFromMap is the fallback when the raw tag is unavailable; map order is
// lost so refs are sorted by set id.
func badgesFromMap(m map[string]int) []BadgeRef {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]BadgeRef, 0, len(keys))
	for _, k := range keys {
		out = append(out, BadgeRef{SetID: k, VersionID: strconv.Itoa(m[k])})
	}
	return out
}
