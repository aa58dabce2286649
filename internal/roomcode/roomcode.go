// Package roomcode makes short, speakable room codes such as
// "brave-otter-42".
package roomcode

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

var adjectives = []string{
	"amber", "bold", "brave", "bright", "calm", "clever", "cosmic", "crisp",
	"daring", "eager", "fancy", "fuzzy", "gentle", "giant", "glad", "golden",
	"happy", "jolly", "keen", "lucky", "mellow", "merry", "mighty", "nimble",
	"proud", "quick", "quiet", "rapid", "shiny", "silly", "sunny", "swift",
	"tidy", "vivid", "witty", "zesty",
}

var nouns = []string{
	"badger", "beacon", "comet", "cricket", "dragon", "falcon", "ferret", "gecko",
	"heron", "koala", "lantern", "lemur", "lynx", "maple", "meteor", "moose",
	"narwhal", "otter", "panda", "pepper", "pixel", "puffin", "quokka", "raven",
	"rocket", "salmon", "sparrow", "tiger", "toucan", "walrus", "wombat", "zebra",
}

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)
	codeRe   = regexp.MustCompile(`^[a-z]+-[a-z]+-[1-9][0-9]$`)
)

// Generate returns a random code of the form adjective-noun-NN with NN in
// 10 through 99.
func Generate(rng *rand.Rand) string {
	return fmt.Sprintf("%s-%s-%d",
		adjectives[rng.IntN(len(adjectives))],
		nouns[rng.IntN(len(nouns))],
		10+rng.IntN(90))
}

// Normalize lowercases input and collapses every run of other characters
// into one hyphen, so "Brave Otter 42" and "brave_otter--42" both become
// "brave-otter-42".
func Normalize(input string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(input), "-")
	return strings.Trim(s, "-")
}

// Valid reports whether code has the shape Generate produces.
func Valid(code string) bool {
	return codeRe.MatchString(code)
}
