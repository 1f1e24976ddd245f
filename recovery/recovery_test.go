package recovery

import (
	"encoding/json"
	"testing"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")

func TestEntitlement(t *testing.T) {
	tests := []struct {
		name                   string
		active                 uint64
		passive                int64
		deposits, unpaid, paid uint64
		want                   uint64
	}{
		{"baseline only", 100, 0, 0, 0, 0, 100},
		{"unmerged deposit", 100, 0, 50, 0, 0, 150},
		{"incoming passive", 100, 25, 0, 0, 0, 125},
		{"outgoing passive", 100, -40, 0, 0, 0, 60},
		{"debited but unpaid", 70, 0, 0, 30, 0, 100},
		{"paid but not debited", 100, 0, 0, 0, 30, 70},
		{"overpaid floors at zero", 10, 0, 0, 0, 30, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := types.NewLeaf(alice, tt.active, 0, 3)
			if tt.passive < 0 {
				base.Passive.Neg(uint256.NewInt(uint64(-tt.passive)))
			} else {
				base.Passive.SetUint64(uint64(tt.passive))
			}
			c := Claim{
				Account:  alice,
				Baseline: base,
				Deposits: uint256.NewInt(tt.deposits),
				Unpaid:   uint256.NewInt(tt.unpaid),
				Paid:     uint256.NewInt(tt.paid),
			}
			got, err := c.Entitlement()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Uint64())
		})
	}
}

func TestSettleOnce(t *testing.T) {
	r := NewRegistry()
	c := &Claim{Account: alice, Baseline: types.NewLeaf(alice, 100, 0, 0), BaselineEon: 1, Deposits: uint256.NewInt(50)}

	rec, err := r.Settle(c, uint256.NewInt(1000), 77)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), rec.Payout.Uint64())
	assert.Equal(t, uint64(1), rec.LastValidEon)
	assert.True(t, r.Recovered(alice))

	_, err = r.Settle(c, uint256.NewInt(1000), 78)
	assert.ErrorIs(t, err, chainerrors.ErrPAlreadyRecovered)
	assert.Equal(t, uint64(150), r.TotalPaid().Uint64())

	got, ok := r.Get(alice)
	require.True(t, ok)
	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"payout":"150"`)
	var back Record
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, got, back)
	assert.Equal(t, "150", got.Event(2).Amount)
}

func TestSettleCappedByCustody(t *testing.T) {
	r := NewRegistry()
	c := &Claim{Account: alice, Baseline: types.NewLeaf(alice, 100, 0, 0)}
	rec, err := r.Settle(c, uint256.NewInt(60), 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), rec.Entitled.Uint64())
	assert.Equal(t, uint64(60), rec.Payout.Uint64())

	bad := &Claim{Account: common.HexToAddress("0xb0b"), Baseline: types.NewLeaf(common.HexToAddress("0xb0b"), 1, 0, 0)}
	bad.Baseline.Passive.Neg(uint256.NewInt(2))
	_, err = r.Settle(bad, nil, 6)
	assert.ErrorIs(t, err, chainerrors.ErrINegativeBalance)
	assert.Equal(t, 1, r.Len())
}
