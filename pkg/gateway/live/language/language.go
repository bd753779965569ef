// Package language picks the working language of a live session.
package language

import "strings"

// English is the language the agent endpoint speaks.
const English = "English"

// Set is an ordered, de-duplicated list of language names.
type Set struct {
	order []string
	index map[string]struct{}
}

func NewSet(names ...string) Set {
	s := Set{index: make(map[string]struct{}, len(names))}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := s.index[name]; ok {
			continue
		}
		s.index[name] = struct{}{}
		s.order = append(s.order, name)
	}
	return s
}

func (s Set) Contains(name string) bool {
	_, ok := s.index[strings.TrimSpace(name)]
	return ok
}

func (s Set) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s Set) Len() int { return len(s.order) }

// Preferences is the subset of a farmer profile the resolver reads.
type Preferences struct {
	Primary   string
	Secondary string
}

// Resolve returns primary if supported, else secondary if supported, else def.
func Resolve(p Preferences, supported Set, def string) string {
	if supported.Contains(p.Primary) {
		return strings.TrimSpace(p.Primary)
	}
	if supported.Contains(p.Secondary) {
		return strings.TrimSpace(p.Secondary)
	}
	return def
}
