package events

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
)

func sampleEvent(name string, slot uint64, program solana.PublicKey) *ParsedEvent {
	return &ParsedEvent{
		Name:    name,
		Data:    map[string]interface{}{},
		Context: EventContext{Slot: slot, Program: program},
	}
}

func TestFilterConjunction(t *testing.T) {
	ev := sampleEvent("CounterChanged", 1500, testProgram)

	testCases := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty filter matches all", Filter{}, true},
		{"name match", Filter{Names: []string{"CounterChanged"}}, true},
		{"name miss", Filter{Names: []string{"Other"}}, false},
		{"program match", Filter{Programs: []solana.PublicKey{testProgram}}, true},
		{"program miss", Filter{Programs: []solana.PublicKey{otherProgram}}, false},
		{"slot inside range", Filter{MinSlot: Uint64(1000), MaxSlot: Uint64(2000)}, true},
		{"slot below min", Filter{MinSlot: Uint64(1600)}, false},
		{"slot above max", Filter{MaxSlot: Uint64(1400)}, false},
		{"slot at inclusive bounds", Filter{MinSlot: Uint64(1500), MaxSlot: Uint64(1500)}, true},
		{
			name: "all constraints must hold",
			f: Filter{
				Names:   []string{"CounterChanged"},
				MinSlot: Uint64(1000),
				MaxSlot: Uint64(1200), // slot check fails, so the whole filter does
			},
			want: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.f.Matches(ev))
		})
	}
}

func TestCombinators(t *testing.T) {
	ev := sampleEvent("CounterChanged", 1500, testProgram)

	nameHit := Filter{Names: []string{"CounterChanged"}}
	nameMiss := Filter{Names: []string{"Other"}}

	assert.True(t, And(nameHit, Filter{MinSlot: Uint64(1000)}).Matches(ev))
	assert.False(t, And(nameHit, nameMiss).Matches(ev))
	assert.True(t, And().Matches(ev))

	assert.True(t, Or(nameMiss, nameHit).Matches(ev))
	assert.False(t, Or(nameMiss, Filter{MaxSlot: Uint64(10)}).Matches(ev))
	assert.True(t, Or().Matches(ev)) // empty disjunction matches everything

	assert.True(t, MatchAll.Matches(ev))
}
