// Package badges holds the read-only badge image lookup used when formatting
// chat lines. A Lookup is built once per session from Helix badge sets and is
// never mutated afterwards.
package badges

// Lookup maps badge set id -> version id -> image URL.
type Lookup map[string]map[string]string

// Set is one badge set as returned by the Helix chat badge endpoints.
type Set struct {
	SetID    string    `json:"set_id"`
	Versions []Version `json:"versions"`
}

// Version is a single version of a badge set.
type Version struct {
	ID         string `json:"id"`
	ImageURL1x string `json:"image_url_1x"`
	ImageURL2x string `json:"image_url_2x"`
	ImageURL4x string `json:"image_url_4x"`
	Title      string `json:"title"`
}

// URL returns the image for (setID, versionID) and whether it exists.
func (l Lookup) URL(setID, versionID string) (string, bool) {
	versions, ok := l[setID]
	if !ok {
		return "", false
	}
	u, ok := versions[versionID]
	if !ok || u == "" {
		return "", false
	}
	return u, true
}

// Len counts badge versions across all sets.
func (l Lookup) Len() int {
	n := 0
	for _, v := range l {
		n += len(v)
	}
	return n
}

// FromSets builds a Lookup using the 1x image of each version. Later sets
// override earlier ones per version, so pass global sets first and channel
// sets last.
func FromSets(groups ...[]Set) Lookup {
	out := Lookup{}
	for _, sets := range groups {
		for _, s := range sets {
			if s.SetID == "" {
				continue
			}
			for _, v := range s.Versions {
				if v.ID == "" || v.ImageURL1x == "" {
					continue
				}
				if out[s.SetID] == nil {
					out[s.SetID] = map[string]string{}
				}
				out[s.SetID][v.ID] = v.ImageURL1x
			}
		}
	}
	return out
}
