package deposit

import (
	"encoding/json"
	"testing"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestRecordAndMergeOrder(t *testing.T) {
	q := NewQueue()
	_, err := q.Record(alice, uint256.NewInt(0), 1, 10)
	assert.ErrorIs(t, err, chainerrors.ErrINonPositiveAmount)
	_, err = q.Record(alice, nil, 1, 10)
	assert.ErrorIs(t, err, chainerrors.ErrINonPositiveAmount)

	d1, err := q.Record(bob, uint256.NewInt(7), 1, 10)
	require.NoError(t, err)
	d2, err := q.Record(alice, uint256.NewInt(50), 1, 11)
	require.NoError(t, err)
	d3, err := q.Record(alice, uint256.NewInt(5), 2, 20)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), d1.TargetEon)
	assert.Less(t, d1.Seq, d2.Seq)
	assert.Equal(t, uint64(3), d3.TargetEon)

	forTwo := q.ForEon(2)
	require.Len(t, forTwo, 2)
	assert.Equal(t, d1.Seq, forTwo[0].Seq)
	assert.Equal(t, d2.Seq, forTwo[1].Seq)

	pending := q.Sum(alice, func(d Deposit) bool { return d.TargetEon > 1 })
	assert.Equal(t, uint64(55), pending.Uint64())

	assert.Equal(t, 1, q.Merge(alice, 2))
	assert.Equal(t, 2, q.Len())
	assert.Len(t, q.ForAccount(alice), 1)
	assert.Len(t, q.ForAccount(bob), 1)
	assert.Equal(t, uint64(4), q.NextSeq())
}

func TestDepositJSONAndEvent(t *testing.T) {
	q := NewQueue()
	d, err := q.Record(alice, uint256.NewInt(42), 3, 99)
	require.NoError(t, err)
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"amount":"42"`)
	assert.Contains(t, string(b), `"target_eon":4`)
	var back Deposit
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d, back)
	assert.Error(t, json.Unmarshal([]byte(`{"amount":"ten"}`), &back))

	ev := d.Event()
	assert.Equal(t, "42", ev.Amount)
	assert.Equal(t, d.Seq, ev.Ref)
}
