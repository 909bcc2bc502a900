// Package alias assigns chat participants stable pseudonyms drawn from a
// configurable pool of base names.
//
// A Registry memoizes one pseudonym per user identity. New identities draw a
// pool entry uniformly at random (with replacement) and receive that entry
// followed by a per-entry counter, so two users landing on "Fox" become "Fox1"
// and "Fox2". A Registry is scoped to one chat session; it is not safe for
// concurrent use and callers must serialize Resolve.
package alias

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
)

// ErrEmptyPool is matched by every *EmptyPoolError via errors.Is.
var ErrEmptyPool = errors.New("alias pool is empty")

// EmptyPoolError reports that a pseudonym had to be assigned but the pool
// holds no entries. It is fatal for the session that hit it.
type EmptyPoolError struct {
	UserID string
}

func (e *EmptyPoolError) Error() string {
	return "cannot assign alias for user " + strconv.Quote(e.UserID) + ": " + ErrEmptyPool.Error()
}

func (e *EmptyPoolError) Is(target error) bool { return target == ErrEmptyPool }

// Pool is the ordered list of base names. Treat it as immutable.
type Pool []string

// ParsePool splits newline-delimited text into a Pool, trimming each line and
// discarding blank ones.
func ParsePool(text string) Pool {
	lines := strings.Split(text, "\n")
	out := make(Pool, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// String renders the pool back to its newline-delimited form.
func (p Pool) String() string { return strings.Join(p, "\n") }

// Registry maps user identities to pseudonyms.
type Registry struct {
	pool     Pool
	rng      *rand.Rand
	assigned map[string]string
	next     map[string]int
}

// Option configures a Registry.
type Option func(*Registry)

// WithRand injects the random source used to draw pool entries.
func WithRand(r *rand.Rand) Option {
	return func(reg *Registry) {
		if r != nil {
			reg.rng = r
		}
	}
}

// NewRegistry builds a Registry over a private copy of pool.
func NewRegistry(pool Pool, opts ...Option) *Registry {
	p := make(Pool, len(pool))
	copy(p, pool)
	reg := &Registry{
		pool:     p,
		assigned: make(map[string]string),
		next:     make(map[string]int, len(p)),
	}
	for _, entry := range p {
		reg.next[entry] = 1
	}
	for _, o := range opts {
		o(reg)
	}
	if reg.rng == nil {
		reg.rng = newSeededRand()
	}
	return reg
}

// Resolve returns the pseudonym for userID, assigning one on first sight.
func (r *Registry) Resolve(userID string) (string, error) {
	if name, ok := r.assigned[userID]; ok {
		return name, nil
	}
	if len(r.pool) == 0 {
		return "", &EmptyPoolError{UserID: userID}
	}
	entry := r.pool[r.rng.IntN(len(r.pool))]
	n := r.next[entry]
	if n < 1 {
		n = 1
	}
	name := entry + strconv.Itoa(n)
	r.assigned[userID] = name
	r.next[entry] = n + 1
	return name, nil
}

// Len reports how many identities have been assigned.
func (r *Registry) Len() int { return len(r.assigned) }

// Pool returns a copy of the registry's pool.
func (r *Registry) Pool() Pool {
	out := make(Pool, len(r.pool))
	copy(out, r.pool)
	return out
}

func newSeededRand() *rand.Rand {
	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // G404: pseudonym draws are not security sensitive
	}
	return rand.New(rand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:]))) //nolint:gosec // G404: pseudonym draws are not security sensitive
}
