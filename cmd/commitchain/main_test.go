package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/colorfulnotion/commitchain/chain"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/storage"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runSim(t *testing.T, cfg simConfig) *Report {
	t.Helper()
	sim, err := newSimulation(cfg)
	require.NoError(t, err)
	r, err := sim.run()
	require.NoError(t, err)
	return r
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func dec(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := types.ParseAmount(s)
	require.NoError(t, err)
	return v
}

func TestSimulateHonestHub(t *testing.T) {
	cfg := simConfig{Users: 4, Eons: 6, BlocksPerEon: 20, Seed: 7}
	r := runSim(t, cfg)

	assert.Zero(t, r.FaultEon)
	assert.Empty(t, r.Recovered)
	assert.Equal(t, 4, r.Eons[0].Deposits)
	require.Len(t, r.Eons, 7)
	for _, e := range r.Eons[1:] {
		assert.Equal(t, "Finalized", e.Status, "eon %d", e.Eon)
		assert.NotEqual(t, common.Hash{}, e.Root, "eon %d", e.Eon)
		if e.Committed == "" {
			continue
		}
		// the hub never commits more than the contract holds
		assert.True(t, dec(t, e.Committed).Cmp(dec(t, e.Custody)) <= 0, "eon %d: committed %s custody %s", e.Eon, e.Committed, e.Custody)
	}

	again := runSim(t, cfg)
	left, err := json.Marshal(r)
	require.NoError(t, err)
	right, err := json.Marshal(again)
	require.NoError(t, err)
	var delta bytes.Buffer
	changed, err := diffDumps(&delta, left, right, false)
	require.NoError(t, err)
	assert.False(t, changed, delta.String())
}

func TestSimulateOfflineHub(t *testing.T) {
	r := runSim(t, simConfig{Users: 3, Eons: 5, BlocksPerEon: 20, Seed: 3, OfflineEon: 3})

	assert.Equal(t, uint64(3), r.FaultEon)
	assert.Equal(t, "Finalized", r.Eons[1].Status)
	assert.Equal(t, "Finalized", r.Eons[2].Status)
	assert.Equal(t, "Faulted", r.Eons[3].Status)
	require.NotEmpty(t, r.Recovered)
	assert.False(t, dec(t, r.Recovered).IsZero())
	for _, a := range r.Accounts {
		assert.NotNil(t, a.Recovery, "%s did not recover", a.Address.Hex())
	}
}

func TestSimulateRejectsUserCount(t *testing.T) {
	_, err := newSimulation(simConfig{Users: 1, Eons: 2, BlocksPerEon: 20})
	assert.Error(t, err)
	_, err = newSimulation(simConfig{Users: 10, Eons: 2, BlocksPerEon: 20})
	assert.Error(t, err)
}

func TestRenderChart(t *testing.T) {
	r := runSim(t, simConfig{Users: 2, Eons: 2, BlocksPerEon: 20, Seed: 1})
	var buf bytes.Buffer
	require.NoError(t, renderChart(&buf, r))
	assert.Contains(t, buf.String(), "Custody and committed balances")
	assert.Contains(t, buf.String(), "Activity per eon")
}

func TestSimulateCommand(t *testing.T) {
	dir := t.TempDir()
	dump := filepath.Join(dir, "state.json")
	out, err := execute(t, "simulate", "--users", "2", "--eons", "2", "--seed", "5", "--dump", dump)
	require.NoError(t, err)
	assert.Contains(t, out, "eon 1")

	var r Report
	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &r))
	assert.Equal(t, uint64(5), r.Seed)
	assert.Len(t, r.Accounts, 2)
}

func TestProveVerify(t *testing.T) {
	dir := t.TempDir()
	alice, _ := common.GetEVMDevAccount(1)
	bob, _ := common.GetEVMDevAccount(2)
	carol, _ := common.GetEVMDevAccount(3)
	leaves := []types.Leaf{
		types.NewLeaf(bob, 20, 30, 0),
		types.NewLeaf(alice, 70, 0, 1),
	}
	data, err := json.Marshal(leaves)
	require.NoError(t, err)
	leavesPath := filepath.Join(dir, "leaves.json")
	require.NoError(t, os.WriteFile(leavesPath, data, 0o644))

	for _, tc := range []struct {
		account common.Address
		kind    string
	}{
		{alice, "included"},
		{carol, "absent"},
	} {
		out, err := execute(t, "prove", "--leaves", leavesPath, "--account", tc.account.Hex())
		require.NoError(t, err)
		proofPath := filepath.Join(dir, tc.kind+".json")
		require.NoError(t, os.WriteFile(proofPath, []byte(out), 0o644))

		out, err = execute(t, "verify", proofPath)
		require.NoError(t, err)
		assert.Contains(t, out, tc.kind)
		assert.Contains(t, out, tc.account.Hex())

		_, err = execute(t, "verify", proofPath, "--root", common.Hash{1}.Hex())
		assert.Error(t, err)
	}

	out, err := execute(t, "prove", "--leaves", leavesPath, "--account", alice.Hex())
	require.NoError(t, err)
	_, err = execute(t, "verify", writeTemp(t, dir, out), "--hash", "blake2b")
	assert.Error(t, err, "a keccak proof must not verify under blake2b")
}

func writeTemp(t *testing.T, dir, content string) string {
	t.Helper()
	f, err := os.CreateTemp(dir, "proof-*.json")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(content)
	require.NoError(t, err)
	return f.Name()
}

func TestDiffDumps(t *testing.T) {
	var out bytes.Buffer
	changed, err := diffDumps(&out, []byte(`{"custody":"10","eon":1}`), []byte(`{"eon":1,"custody":"10"}`), false)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, out.String())

	changed, err = diffDumps(&out, []byte(`{"custody":"10","eon":1}`), []byte(`{"custody":"12","eon":1}`), false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, out.String(), "custody")

	_, err = diffDumps(&out, []byte(`{`), []byte(`{}`), false)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "commitchain dev (commit "), out)
}

func TestInitConfigLayers(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("network: testnet\nhttp-addr: 127.0.0.1:9000\n"), 0o644))

	conf := viper.New()
	cmd := newServeCmd(conf)
	require.NoError(t, InitConfig(conf, cfgFile, cmd))
	assert.Equal(t, "testnet", conf.GetString("network"))
	assert.Equal(t, "127.0.0.1:9000", conf.GetString("http-addr"))
	assert.Equal(t, "info", conf.GetString("log-level"))

	t.Setenv("COMMITCHAIN_HTTP_ADDR", "127.0.0.1:9001")
	conf = viper.New()
	cmd = newServeCmd(conf)
	require.NoError(t, InitConfig(conf, cfgFile, cmd))
	assert.Equal(t, "127.0.0.1:9001", conf.GetString("http-addr"))

	require.NoError(t, cmd.Flags().Set("http-addr", "127.0.0.1:9002"))
	assert.Equal(t, "127.0.0.1:9002", conf.GetString("http-addr"))

	assert.Error(t, InitConfig(viper.New(), filepath.Join(dir, "missing.yaml"), newServeCmd(viper.New())))
}

func TestHubAddress(t *testing.T) {
	addr, err := hubAddress("")
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, addr)

	want, key := common.GetEVMDevAccount(0)
	addr, err = hubAddress("0x" + key)
	require.NoError(t, err)
	assert.Equal(t, want, addr)

	_, err = hubAddress("zz")
	assert.Error(t, err)
}

func TestOpenChainRestores(t *testing.T) {
	ps, err := storage.NewMemoryPersistenceStore()
	require.NoError(t, err)
	j, err := storage.OpenJournal(ps)
	require.NoError(t, err)

	hub, _ := common.GetEVMDevAccount(0)
	alice, _ := common.GetEVMDevAccount(1)
	params := types.DefaultParams(12, hub)
	params.GenesisBlock = 12

	c, restored, err := openChain(params, j, chain.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	assert.False(t, restored)
	_, err = c.Deposit(types.TxContext{From: alice, Block: 3}, uint256.NewInt(40))
	require.NoError(t, err)

	again, restored, err := openChain(params, j, chain.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, c.Custody(), again.Custody())
	assert.Equal(t, c.Events(0), again.Events(0))

	other := types.DefaultParams(24, hub)
	other.GenesisBlock = 12
	_, _, err = openChain(other, j)
	assert.Error(t, err)
}
