package types

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/commitchain/common"
	"github.com/holiman/uint256"
)

// Leaf is one account's record in an eon's bimodal tree. Passive holds a
// signed value in two's complement: positive for incoming in-flight
// transfers, negative for outgoing ones.
type Leaf struct {
	Address common.Address
	Active  uint256.Int
	Passive uint256.Int
	Seq     uint64
}

// NewLeaf builds a leaf with a non-negative passive balance.
func NewLeaf(addr common.Address, active, passive uint64, seq uint64) Leaf {
	l := Leaf{Address: addr, Seq: seq}
	l.Active.SetUint64(active)
	l.Passive.SetUint64(passive)
	return l
}

// EmptyLeaf is what an exclusion proof establishes for addr.
func EmptyLeaf(addr common.Address) Leaf {
	return Leaf{Address: addr}
}

// Total returns Active + Passive, false if it is negative or overflows.
func (l *Leaf) Total() (*uint256.Int, bool) {
	return AddSigned(&l.Active, &l.Passive)
}

func (l *Leaf) IsEmpty() bool {
	return l.Active.IsZero() && l.Passive.IsZero() && l.Seq == 0
}

func (l *Leaf) Equal(o *Leaf) bool {
	return l.Address == o.Address && l.Active.Eq(&o.Active) && l.Passive.Eq(&o.Passive) && l.Seq == o.Seq
}

func (l Leaf) String() string {
	return fmt.Sprintf("%s{active=%s passive=%s seq=%d}", l.Address.Hex(), l.Active.Dec(), FormatSigned(&l.Passive), l.Seq)
}

type leafJSON struct {
	Address common.Address `json:"address"`
	Active  string         `json:"active"`
	Passive string         `json:"passive"`
	Seq     uint64         `json:"seq"`
}

func (l Leaf) MarshalJSON() ([]byte, error) {
	return json.Marshal(leafJSON{
		Address: l.Address,
		Active:  l.Active.Dec(),
		Passive: FormatSigned(&l.Passive),
		Seq:     l.Seq,
	})
}

func (l *Leaf) UnmarshalJSON(data []byte) error {
	var raw leafJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	active, err := ParseAmount(raw.Active)
	if err != nil {
		return fmt.Errorf("leaf active: %w", err)
	}
	passive, err := ParseSigned(raw.Passive)
	if err != nil {
		return fmt.Errorf("leaf passive: %w", err)
	}
	l.Address = raw.Address
	l.Active = *active
	l.Passive = *passive
	l.Seq = raw.Seq
	return nil
}
