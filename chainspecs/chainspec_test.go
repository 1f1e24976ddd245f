package chainspecs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedNetworks(t *testing.T) {
	tests := []struct {
		id           string
		blocksPerEon uint64
	}{
		{"development", 180},
		{"ropsten", 180},
		{"live", 4320},
	}
	hub, _ := common.GetEVMDevAccount(3)
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			spec, err := ReadSpec(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.blocksPerEon, spec.BlocksPerEon)

			p, err := spec.Params(hub)
			require.NoError(t, err)
			assert.Equal(t, hub, p.Hub)
			assert.Equal(t, tt.id, p.Network)
			assert.Equal(t, tt.blocksPerEon/4, p.SubmissionBlocks)
			assert.LessOrEqual(t, p.SubmissionBlocks+p.ChallengeBlocks+p.ResponseBlocks, p.BlocksPerEon)
		})
	}
	assert.Equal(t, []string{"development", "live", "ropsten"}, Networks())
}

func TestDevelopmentHubDefault(t *testing.T) {
	spec, err := ReadSpec("development")
	require.NoError(t, err)
	p, err := spec.Params(common.Address{})
	require.NoError(t, err)
	dev0, _ := common.GetEVMDevAccount(0)
	assert.Equal(t, dev0, p.Hub)

	// public networks name no hub; one must be supplied
	spec, err = ReadSpec("live")
	require.NoError(t, err)
	_, err = spec.Params(common.Address{})
	assert.ErrorIs(t, err, chainerrors.ErrIInvalidParams)
}

func TestUnknownNetwork(t *testing.T) {
	_, err := ReadSpec("kovan")
	assert.ErrorContains(t, err, "unknown network")
}

func TestSpecFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.json")
	raw := `{"id":"tiny","blocks_per_eon":12,"genesis_block":5,"hub":"0x70997970C51812dc3A010C7d01b50e0d17dc79C8","response_blocks":2}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	spec, err := ReadSpec(path)
	require.NoError(t, err)
	p, err := spec.Params(common.Address{})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), p.GenesisBlock)
	assert.Equal(t, uint64(2), p.ResponseBlocks)
	assert.Equal(t, "keccak", p.HashType)
}
