package events

import "github.com/gagliardetto/solana-go"

// Matcher decides whether an event passes a filter pipeline.
type Matcher interface {
	Matches(ev *ParsedEvent) bool
}

// Filter matches by conjunction of every populated constraint: name in
// Names (if any), context program in Programs (if any), and slot within
// [MinSlot, MaxSlot] (per set bound).
type Filter struct {
	Names    []string
	Programs []solana.PublicKey
	MinSlot  *uint64
	MaxSlot  *uint64
}

func (f Filter) Matches(ev *ParsedEvent) bool {
	if len(f.Names) > 0 && !containsString(f.Names, ev.Name) {
		return false
	}
	if len(f.Programs) > 0 && !containsKey(f.Programs, ev.Context.Program) {
		return false
	}
	if f.MinSlot != nil && ev.Context.Slot < *f.MinSlot {
		return false
	}
	if f.MaxSlot != nil && ev.Context.Slot > *f.MaxSlot {
		return false
	}
	return true
}

// And matches when every child matches.
func And(ms ...Matcher) Matcher { return andMatcher(ms) }

// Or matches when any child matches.
func Or(ms ...Matcher) Matcher { return orMatcher(ms) }

type andMatcher []Matcher

func (m andMatcher) Matches(ev *ParsedEvent) bool {
	for _, child := range m {
		if !child.Matches(ev) {
			return false
		}
	}
	return true
}

type orMatcher []Matcher

func (m orMatcher) Matches(ev *ParsedEvent) bool {
	for _, child := range m {
		if child.Matches(ev) {
			return true
		}
	}
	return len(m) == 0
}

// matchAll is the nil-filter behavior: everything passes.
type matchAll struct{}

func (matchAll) Matches(*ParsedEvent) bool { return true }

// MatchAll passes every event; it is what a nil matcher means.
var MatchAll Matcher = matchAll{}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsKey(list []solana.PublicKey, v solana.PublicKey) bool {
	for _, k := range list {
		if k == v {
			return true
		}
	}
	return false
}

// Uint64 returns a pointer for filter bounds.
func Uint64(v uint64) *uint64 { return &v }
