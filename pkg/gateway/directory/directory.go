// Package directory looks up farmer profiles by session identity.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vango-go/nandi-live/pkg/gateway/live/language"
)

var (
	ErrIdentityNotFound = errors.New("farmer not found")
	ErrInvalidIdentity  = errors.New("invalid session identity")
)

// SessionIdentity is a canonical E.164-style phone key, "+<digits>".
type SessionIdentity struct {
	key string
}

// ParseIdentity accepts 8 to 15 digits with an optional leading "+".
func ParseIdentity(raw string) (SessionIdentity, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")
	if len(s) < 8 || len(s) > 15 {
		return SessionIdentity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return SessionIdentity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
		}
	}
	return SessionIdentity{key: "+" + s}, nil
}

func (id SessionIdentity) String() string { return id.key }

func (id SessionIdentity) IsZero() bool { return id.key == "" }

type Location struct {
	State       string    `json:"state,omitempty"`
	District    string    `json:"district,omitempty"`
	Village     string    `json:"village,omitempty"`
	Coordinates []float64 `json:"coordinates,omitempty"`
}

type Profile struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	PrimaryLanguage   string    `json:"primary_language,omitempty"`
	SecondaryLanguage string    `json:"secondary_language,omitempty"`
	Location          *Location `json:"location,omitempty"`
	FarmSizeAcres     float64   `json:"farm_size_acres,omitempty"`
}

func (p Profile) Preferences() language.Preferences {
	return language.Preferences{Primary: p.PrimaryLanguage, Secondary: p.SecondaryLanguage}
}

// FirstName is the first whitespace-separated word of Name.
func (p Profile) FirstName() string {
	fields := strings.Fields(p.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

type Directory interface {
	Lookup(ctx context.Context, id SessionIdentity) (Profile, error)
}

// Memory is an in-process directory, used for local runs and tests.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemory(profiles ...Profile) *Memory {
	m := &Memory{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		m.Put(p)
	}
	return m
}

func (m *Memory) Put(p Profile) {
	m.mu.Lock()
	m.profiles[p.ID] = p
	m.mu.Unlock()
}

func (m *Memory) Lookup(ctx context.Context, id SessionIdentity) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	m.mu.RLock()
	p, ok := m.profiles[id.String()]
	m.mu.RUnlock()
	if !ok {
		return Profile{}, ErrIdentityNotFound
	}
	return p, nil
}
