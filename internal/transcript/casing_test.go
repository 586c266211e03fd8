package transcript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCase(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"sentence starts", "first point. second point! third point? done", "First point. Second point! Third point? Done"},
		{"pronoun and contractions", "i said i'm sure i'd go", "I said I'm sure I'd go"},
		{"decimal is not a boundary", "latency is 3.5 seconds. fine", "Latency is 3.5 seconds. Fine"},
		{"dotted hostname is one token", "push it to registry.local today", "Push it to registry.local today"},
		{"abbreviation keeps next word lowercase", "tools, e.g. kubectl. done", "Tools, e.g. kubectl. Done"},
		{"abbreviation stays lowercase at start", "ok. e.g. this one", "Ok. e.g. this one"},
		{"initialism keeps next word lowercase", "we met in the u.s. last year", "We met in the u.s. last year"},
		{"dotted i is not the pronoun", "use tags, i.e. labels", "Use tags, i.e. labels"},
		{"quote after boundary", `she said. "try again"`, `She said. "Try again"`},
		{"glued exclamation does not capitalize", "wow!ok", "Wow!ok"},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, normalizeCase(tc.in))
		})
	}
}
