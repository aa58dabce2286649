package engine

import "strconv"

// ClientID identifies a peer. It mirrors the numeric client id of the
// replicated document, so zero is reserved for "nobody".
type ClientID uint32

// NoClient is the zero ClientID.
const NoClient ClientID = 0

// Color is one of the four card colors. Wild cards carry ColorNone until played.
type Color string

const (
	ColorNone   Color = ""
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
)

// Colors lists the four playable colors in deck order.
var Colors = [4]Color{ColorRed, ColorYellow, ColorGreen, ColorBlue}

// Valid reports whether c is one of the four playable colors.
func (c Color) Valid() bool {
	switch c {
	case ColorRed, ColorYellow, ColorGreen, ColorBlue:
		return true
	}
	return false
}

// Symbol is a card face: a digit "0".."9", an action, or a wild.
type Symbol string

const (
	SymbolSkip      Symbol = "skip"
	SymbolReverse   Symbol = "reverse"
	SymbolDraw2     Symbol = "draw2"
	SymbolWild      Symbol = "wild"
	SymbolWildDraw4 Symbol = "wild-draw4"
)

// NumberSymbol returns the symbol for face value n (0-9).
func NumberSymbol(n int) Symbol { return Symbol(strconv.Itoa(n)) }

// Number returns the face value of a number symbol.
func (s Symbol) Number() (int, bool) {
	if len(s) != 1 || s[0] < '0' || s[0] > '9' {
		return 0, false
	}
	return int(s[0] - '0'), true
}

// IsNumber reports whether s is one of "0".."9".
func (s Symbol) IsNumber() bool {
	_, ok := s.Number()
	return ok
}

// IsAction reports whether s is skip, reverse or draw2.
func (s Symbol) IsAction() bool {
	return s == SymbolSkip || s == SymbolReverse || s == SymbolDraw2
}

// IsWild reports whether s is wild or wild-draw4.
func (s Symbol) IsWild() bool {
	return s == SymbolWild || s == SymbolWildDraw4
}

// Card is a single physical card. IDs are unique within a deck.
type Card struct {
	ID     string `json:"id"`
	Color  Color  `json:"color,omitempty"`
	Symbol Symbol `json:"symbol"`
}

// IsWild reports whether the card is a wild or wild-draw4.
func (c Card) IsWild() bool { return c.Symbol.IsWild() }

// Status is the lifecycle phase of a game.
type Status string

const (
	StatusLobby      Status = "LOBBY"
	StatusPlaying    Status = "PLAYING"
	StatusPaused     Status = "PAUSED_WAITING_PLAYER"
	StatusRoundEnded Status = "ROUND_ENDED"
	StatusEnded      Status = "ENDED"
)

// EndType records how an ENDED game finished.
type EndType string

const (
	EndNone     EndType = ""
	EndWin      EndType = "WIN"
	EndWalkover EndType = "WALKOVER"
)

// LockedPlayer is a roster entry frozen when a round starts.
type LockedPlayer struct {
	ClientID ClientID `json:"clientId"`
	Name     string   `json:"name"`
}

// OrphanHand holds the hand of a locked player who vanished mid-round.
type OrphanHand struct {
	OriginalClientID ClientID `json:"originalClientId"`
	OriginalName     string   `json:"originalName"`
	Cards            []Card   `json:"cards"`
}

// ActionType tags a PlayerAction.
type ActionType string

const (
	ActionPlayCard ActionType = "PLAY_CARD"
	ActionDrawCard ActionType = "DRAW_CARD"
)

// Action is a request submitted by a peer into its action slot.
// Seq is assigned by the submitter and increases per submission.
type Action struct {
	Type        ActionType `json:"type"`
	CardID      string     `json:"cardId,omitempty"`
	ChosenColor Color      `json:"chosenColor,omitempty"`
	Seq         uint64     `json:"seq"`
}

// PlayCard builds a PLAY_CARD action.
func PlayCard(cardID string, chosen Color) Action {
	return Action{Type: ActionPlayCard, CardID: cardID, ChosenColor: chosen}
}

// DrawCard builds a DRAW_CARD action.
func DrawCard() Action { return Action{Type: ActionDrawCard} }
