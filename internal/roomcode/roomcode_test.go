package roomcode

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		code := Generate(rng)
		require.True(t, Valid(code), code)

		parts := strings.Split(code, "-")
		require.Len(t, parts, 3)
		assert.Contains(t, adjectives, parts[0])
		assert.Contains(t, nouns, parts[1])
		n, err := strconv.Atoi(parts[2])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 10)
		assert.LessOrEqual(t, n, 99)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 400, "codes should rarely repeat")

	again := rand.New(rand.NewPCG(1, 2))
	assert.Equal(t, Generate(rand.New(rand.NewPCG(1, 2))), Generate(again))
}

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"brave-otter-42", "brave-otter-42"},
		{"Brave Otter 42", "brave-otter-42"},
		{"  brave__otter--42 ", "brave-otter-42"},
		{"--BRAVE.otter.42--", "brave-otter-42"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), "%q", tc.in)
	}
}

func TestValid(t *testing.T) {
	for _, ok := range []string{"brave-otter-42", "a-b-10", "x-y-99"} {
		assert.True(t, Valid(ok), ok)
	}
	for _, bad := range []string{"", "brave-otter", "brave-otter-9", "brave-otter-100", "Brave-otter-42", "brave-otter-05", "brave otter 42", "brave-ott3r-42"} {
		assert.False(t, Valid(bad), bad)
	}
}
