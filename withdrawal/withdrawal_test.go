package withdrawal

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

// available mirrors what the chain computes: committed balance minus
// everything already reserved.
func available(b *Book, committed uint64) *uint256.Int {
	out, ok := types.SubChecked(uint256.NewInt(committed), b.Outstanding(alice, 0))
	if !ok {
		return new(uint256.Int)
	}
	return out
}

func TestReservationExcludesPendingRequests(t *testing.T) {
	b := NewBook()
	r1, err := b.Request(alice, uint256.NewInt(30), available(b, 50), 1, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r1.DebitEon)
	assert.Equal(t, uint64(3), r1.DeadlineEon)

	_, err = b.Request(alice, uint256.NewInt(30), available(b, 50), 1, 2, 101)
	assert.ErrorIs(t, err, chainerrors.ErrBInsufficientBalance)
	assert.Equal(t, chainerrors.InsufficientBalance, chainerrors.KindOf(err))

	_, err = b.Request(alice, uint256.NewInt(20), available(b, 50), 1, 2, 102)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())

	_, err = b.Request(alice, new(uint256.Int), available(b, 50), 1, 2, 103)
	assert.ErrorIs(t, err, chainerrors.ErrINonPositiveAmount)
}

func TestConfirmExactlyOnce(t *testing.T) {
	b := NewBook()
	r, err := b.Request(alice, uint256.NewInt(10), uint256.NewInt(10), 4, 2, 100)
	require.NoError(t, err)

	_, err = b.Confirm(r.ID, 5, 200)
	assert.ErrorIs(t, err, chainerrors.ErrPWithdrawalNotMature)

	got, err := b.Confirm(r.ID, 6, 300)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, got.Status)

	_, err = b.Confirm(r.ID, 6, 301)
	assert.ErrorIs(t, err, chainerrors.ErrPAlreadySettled)
	after, err := b.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), after.SettleBlock)

	_, err = b.Confirm(99, 6, 300)
	assert.ErrorIs(t, err, chainerrors.ErrIUnknownWithdrawal)

	// confirmed requests still count against balances that predate their debit
	assert.Equal(t, uint64(10), b.Outstanding(alice, 4).Uint64())
	assert.True(t, b.Outstanding(alice, 5).IsZero())
}

func TestSettleByRecovery(t *testing.T) {
	b := NewBook()
	r1, _ := b.Request(alice, uint256.NewInt(10), uint256.NewInt(100), 1, 2, 10)
	r2, _ := b.Request(alice, uint256.NewInt(20), uint256.NewInt(100), 2, 2, 20)
	_, err := b.Confirm(r1.ID, 3, 30)
	require.NoError(t, err)

	settled := b.SettleByRecovery(alice, 40)
	require.Len(t, settled, 1)
	assert.Equal(t, r2.ID, settled[0].ID)
	assert.Equal(t, Recovered, settled[0].Status)

	_, err = b.Confirm(r2.ID, 9, 50)
	assert.ErrorIs(t, err, chainerrors.ErrPAlreadySettled)
	assert.Len(t, b.ForDebitEon(3), 0)
	assert.Len(t, b.ForDebitEon(2), 1)
	assert.Len(t, b.ForAccount(alice), 2)

	raw, err := json.Marshal(settled[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"Recovered"`)
	assert.Contains(t, string(raw), `"amount":"20"`)
	var back Request
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, settled[0], back)
}

func TestSlash(t *testing.T) {
	b := NewBook()
	r, err := b.Request(alice, uint256.NewInt(100), uint256.NewInt(100), 1, 2, 10)
	require.NoError(t, err)

	_, err = b.Slash(r.ID, new(uint256.Int), 11)
	assert.ErrorIs(t, err, chainerrors.ErrINonPositiveAmount)
	_, err = b.Slash(99, uint256.NewInt(1), 11)
	assert.ErrorIs(t, err, chainerrors.ErrIUnknownWithdrawal)

	cut := uint256.NewInt(60)
	got, err := b.Slash(r.ID, cut, 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), cut.Uint64(), "the cut is not modified")
	assert.Equal(t, Pending, got.Status)
	assert.Equal(t, uint64(40), got.Amount.Uint64())
	assert.Equal(t, uint64(40), b.Sum(alice, func(Request) bool { return true }).Uint64())

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"slashed":"60"`)
	var back Request
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, got, back)

	// a cut beyond what is left settles the request
	got, err = b.Slash(r.ID, uint256.NewInt(500), 13)
	require.NoError(t, err)
	assert.Equal(t, Slashed, got.Status)
	assert.True(t, got.Amount.IsZero())
	assert.Equal(t, uint64(100), got.Slashed.Uint64())
	assert.Equal(t, uint64(13), got.SettleBlock)
	assert.True(t, got.Settled())

	_, err = b.Slash(r.ID, uint256.NewInt(1), 14)
	assert.ErrorIs(t, err, chainerrors.ErrPAlreadySettled)
	_, err = b.CheckConfirm(r.ID, 9)
	assert.ErrorIs(t, err, chainerrors.ErrPAlreadySettled)

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"Slashed"`), &s))
	assert.Equal(t, Slashed, s)
	assert.Error(t, json.Unmarshal([]byte(`"Lost"`), &s))
}
