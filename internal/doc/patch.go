package doc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	engine "github.com/jason-s-yu/webuno/engine"
)

// Stamp orders writes to a register. Clock is a Lamport clock; Origin
// breaks ties between peers that wrote at the same clock.
type Stamp struct {
	Clock  uint64          `cbor:"1,keyasint"`
	Origin engine.ClientID `cbor:"2,keyasint"`
}

// After reports whether s supersedes o.
func (s Stamp) After(o Stamp) bool {
	if s.Clock != o.Clock {
		return s.Clock > o.Clock
	}
	return s.Origin > o.Origin
}

// Entry is one register write. A deleted entry is a tombstone: the
// register reads as unset but keeps its stamp so older writes lose.
type Entry struct {
	Key     Key             `cbor:"1,keyasint"`
	Stamp   Stamp           `cbor:"2,keyasint"`
	Value   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
	Deleted bool            `cbor:"4,keyasint,omitempty"`
}

// Patch is a batch of register writes, either one committed transaction
// or a full snapshot.
type Patch struct {
	Entries []Entry `cbor:"1,keyasint"`
}

// Empty reports whether the patch carries no writes.
func (p Patch) Empty() bool { return len(p.Entries) == 0 }

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{MaxArrayElements: 1 << 20}).DecMode(); err != nil {
		panic(err)
	}
}

// Marshal encodes the patch for the wire.
func (p Patch) Marshal() ([]byte, error) {
	b, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	return b, nil
}

// UnmarshalPatch decodes a patch produced by Marshal.
func UnmarshalPatch(b []byte) (Patch, error) {
	var p Patch
	if err := decMode.Unmarshal(b, &p); err != nil {
		return Patch{}, fmt.Errorf("decode patch: %w", err)
	}
	return p, nil
}

func encode(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func decode(b []byte, v any) error {
	return decMode.Unmarshal(b, v)
}
