package doc

import (
	"strconv"
	"strings"

	engine "github.com/jason-s-yu/webuno/engine"
)

// Key names a register in the document.
type Key string

// Shared registers.
const (
	KeyState    Key = "state"
	KeySettings Key = "settings"
	KeyOrder    Key = "order"
	KeyHost     Key = "host"
)

// Per-player register prefixes.
const (
	prefixHand   = "hand/"
	prefixAction = "action/"
	prefixResult = "result/"
)

func HandKey(id engine.ClientID) Key   { return Key(prefixHand + strconv.FormatUint(uint64(id), 10)) }
func ActionKey(id engine.ClientID) Key { return Key(prefixAction + strconv.FormatUint(uint64(id), 10)) }
func ResultKey(id engine.ClientID) Key { return Key(prefixResult + strconv.FormatUint(uint64(id), 10)) }

// IsAction reports whether k is an action slot and returns its owner.
func (k Key) IsAction() (engine.ClientID, bool) { return k.player(prefixAction) }

// IsHand reports whether k is a hand register and returns its owner.
func (k Key) IsHand() (engine.ClientID, bool) { return k.player(prefixHand) }

// IsResult reports whether k is a result register and returns its owner.
func (k Key) IsResult() (engine.ClientID, bool) { return k.player(prefixResult) }

func (k Key) player(prefix string) (engine.ClientID, bool) {
	rest, ok := strings.CutPrefix(string(k), prefix)
	if !ok {
		return engine.NoClient, false
	}
	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return engine.NoClient, false
	}
	return engine.ClientID(n), true
}
