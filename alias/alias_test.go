package alias

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"testing"
)

// scriptedSource replays fixed values; with a two-entry pool IntN(2) returns
// the low bit of each value.
type scriptedSource struct {
	vals []uint64
	i    int
}

func (s *scriptedSource) Uint64() uint64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func scripted(vals ...uint64) *rand.Rand { return rand.New(&scriptedSource{vals: vals}) }

func TestParsePool(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Pool
	}{
		{name: "simple", in: "Fox\nOwl", want: Pool{"Fox", "Owl"}},
		{name: "trims and drops blanks", in: "  Fox \n\n\t\nOwl\r\n   ", want: Pool{"Fox", "Owl"}},
		{name: "empty", in: "", want: Pool{}},
		{name: "only whitespace", in: " \n \n", want: Pool{}},
		{name: "keeps duplicates", in: "Fox\nFox", want: Pool{"Fox", "Fox"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePool(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParsePool(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveIsStable(t *testing.T) {
	reg := NewRegistry(Pool{"Fox", "Owl", "Cat"})
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		first, err := reg.Resolve(id)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", id, err)
		}
		second, err := reg.Resolve(id)
		if err != nil {
			t.Fatalf("Resolve(%s) again: %v", id, err)
		}
		if first != second {
			t.Fatalf("pseudonym changed for %s: %q then %q", id, first, second)
		}
	}
	if reg.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", reg.Len())
	}
}

func TestResolveScriptedDraws(t *testing.T) {
	// draws land on Fox, Owl, Fox for the three new identities
	reg := NewRegistry(Pool{"Fox", "Owl"}, WithRand(scripted(0, 1, 0)))

	steps := []struct{ id, want string }{
		{"A", "Fox1"},
		{"B", "Owl1"},
		{"A", "Fox1"},
		{"C", "Fox2"},
	}
	for i, s := range steps {
		got, err := reg.Resolve(s.id)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != s.want {
			t.Fatalf("step %d: Resolve(%s) = %q, want %q", i, s.id, got, s.want)
		}
	}
}

func TestResolveSameEntryDistinctUsers(t *testing.T) {
	reg := NewRegistry(Pool{"Fox"})
	seen := map[string]string{}
	for i := 0; i < 50; i++ {
		id := string(rune('a' + i%26)) + string(rune('0'+i/26))
		name, err := reg.Resolve(id)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if other, dup := seen[name]; dup {
			t.Fatalf("pseudonym %q assigned to both %s and %s", name, other, id)
		}
		seen[name] = id
	}
	if _, ok := seen["Fox50"]; !ok {
		t.Fatalf("expected suffixes to reach 50, got %v", seen)
	}
}

func TestResolveEmptyPool(t *testing.T) {
	reg := NewRegistry(nil)
	name, err := reg.Resolve("viewer")
	if err == nil {
		t.Fatalf("expected error, got pseudonym %q", name)
	}
	if name != "" {
		t.Fatalf("expected no pseudonym on error, got %q", name)
	}
	if !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
	var epe *EmptyPoolError
	if !errors.As(err, &epe) || epe.UserID != "viewer" {
		t.Fatalf("expected *EmptyPoolError for viewer, got %#v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("failed resolve must not record an assignment")
	}
}

func TestResolveEmptyEntry(t *testing.T) {
	reg := NewRegistry(Pool{""})
	got, err := reg.Resolve("x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "1" {
		t.Fatalf("Resolve = %q, want %q", got, "1")
	}
}

func TestDuplicateEntriesShareCounter(t *testing.T) {
	reg := NewRegistry(Pool{"Fox", "Fox"}, WithRand(scripted(0, 1)))
	a, _ := reg.Resolve("a")
	b, _ := reg.Resolve("b")
	if a != "Fox1" || b != "Fox2" {
		t.Fatalf("got %q, %q; want Fox1, Fox2", a, b)
	}
}

func TestRegistryCopiesPool(t *testing.T) {
	pool := Pool{"Fox"}
	reg := NewRegistry(pool)
	pool[0] = "Owl"
	got, _ := reg.Resolve("a")
	if got != "Fox1" {
		t.Fatalf("registry should not observe caller mutation, got %q", got)
	}
	p := reg.Pool()
	p[0] = "Cat"
	if reg.Pool()[0] != "Fox" {
		t.Fatalf("Pool() should return a copy")
	}
}
