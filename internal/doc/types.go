package doc

import engine "github.com/jason-s-yu/webuno/engine"

// HostClaim is the content of the host register. Claims merge
// deterministically: the higher epoch wins and equal epochs go to the
// lower client id, so concurrent claimants converge on one host.
type HostClaim struct {
	ClientID engine.ClientID `cbor:"1,keyasint" json:"clientId"`
	Epoch    uint64          `cbor:"2,keyasint" json:"epoch"`
}

// Beats reports whether c should replace cur.
func (c HostClaim) Beats(cur HostClaim) bool {
	if c.ClientID == engine.NoClient {
		return false
	}
	if cur.ClientID == engine.NoClient {
		return true
	}
	if c.Epoch != cur.Epoch {
		return c.Epoch > cur.Epoch
	}
	return c.ClientID < cur.ClientID
}

// Outcome is the host's verdict on a submitted action.
type Outcome string

const (
	OutcomePending  Outcome = "PENDING"
	OutcomeAccepted Outcome = "ACCEPTED"
	OutcomeRejected Outcome = "REJECTED"
)

// ActionResult is written by the host next to the cleared action slot.
type ActionResult struct {
	Seq     uint64  `cbor:"1,keyasint" json:"seq"`
	Outcome Outcome `cbor:"2,keyasint" json:"outcome"`
	Reason  string  `cbor:"3,keyasint,omitempty" json:"reason,omitempty"`
}

// Change describes one committed transaction or applied remote patch.
type Change struct {
	Keys  []Key
	Local bool
	// Patch holds exactly the entries that changed the document.
	Patch Patch
}

// Has reports whether the change touched k.
func (c Change) Has(k Key) bool {
	for _, key := range c.Keys {
		if key == k {
			return true
		}
	}
	return false
}

// Actions returns the owners of every action slot the change touched.
func (c Change) Actions() []engine.ClientID {
	var out []engine.ClientID
	for _, k := range c.Keys {
		if id, ok := k.IsAction(); ok {
			out = append(out, id)
		}
	}
	return out
}
