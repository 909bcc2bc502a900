package badges

import "testing"

func TestFromSetsChannelOverridesGlobal(t *testing.T) {
	global := []Set{
		{SetID: "subscriber", Versions: []Version{{ID: "0", ImageURL1x: "https://g/sub0"}, {ID: "12", ImageURL1x: "https://g/sub12"}}},
		{SetID: "moderator", Versions: []Version{{ID: "1", ImageURL1x: "https://g/mod1"}}},
	}
	channel := []Set{
		{SetID: "subscriber", Versions: []Version{{ID: "12", ImageURL1x: "https://c/sub12"}}},
		{SetID: "", Versions: []Version{{ID: "1", ImageURL1x: "https://c/ignored"}}},
		{SetID: "bits", Versions: []Version{{ID: "100", ImageURL1x: ""}}},
	}

	l := FromSets(global, channel)

	tests := []struct {
		set, version, want string
		ok                 bool
	}{
		{"subscriber", "12", "https://c/sub12", true},
		{"subscriber", "0", "https://g/sub0", true},
		{"moderator", "1", "https://g/mod1", true},
		{"bits", "100", "", false},
		{"vip", "1", "", false},
	}
	for _, tt := range tests {
		got, ok := l.URL(tt.set, tt.version)
		if got != tt.want || ok != tt.ok {
			t.Errorf("URL(%s,%s) = %q,%v want %q,%v", tt.set, tt.version, got, ok, tt.want, tt.ok)
		}
	}
	if l.Len() != 3 {
		t.Errorf("Len() = %d, want 3", l.Len())
	}
}

func TestNilLookup(t *testing.T) {
	var l Lookup
	if _, ok := l.URL("subscriber", "1"); ok {
		t.Fatal("nil lookup must resolve nothing")
	}
	if l.Len() != 0 {
		t.Fatal("nil lookup must be empty")
	}
}
