package engine

const (
	MinPlayers              = 2
	MaxPlayers              = 10
	DeckSize                = 108
	DefaultStartingHandSize = 7
)

// ScoreLimit selects between a single round, an endless multi-round game,
// or a multi-round game that ends once a player reaches a points target.
type ScoreLimit int

const (
	SingleRound ScoreLimit = 0
	Endless     ScoreLimit = -1
)

// MultiRound reports whether rounds accumulate scores.
func (l ScoreLimit) MultiRound() bool { return l != SingleRound }

// Reached reports whether score ends the game under this limit.
func (l ScoreLimit) Reached(score int) bool {
	return l > 0 && score >= int(l)
}

// HouseRules holds optional rule variations.
type HouseRules struct {
	DrawToMatch bool `json:"drawToMatch"` // DRAW_CARD keeps drawing until a playable card
}

// Settings is the host-controlled configuration of a game.
type Settings struct {
	StartingHandSize int        `json:"startingHandSize"`
	ScoreLimit       ScoreLimit `json:"scoreLimit"`
	HouseRules       HouseRules `json:"houseRules"`
}

// DefaultSettings returns a single-round game with seven-card hands.
func DefaultSettings() Settings {
	return Settings{
		StartingHandSize: DefaultStartingHandSize,
		ScoreLimit:       SingleRound,
	}
}

// handSize returns the effective starting hand size, treating 0 as the default.
func (s *Settings) handSize() int {
	if s.StartingHandSize <= 0 {
		return DefaultStartingHandSize
	}
	return s.StartingHandSize
}
