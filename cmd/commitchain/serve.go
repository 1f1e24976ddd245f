package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/colorfulnotion/commitchain/chain"
	"github.com/colorfulnotion/commitchain/chainspecs"
	"github.com/colorfulnotion/commitchain/common"
	log "github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/operator"
	"github.com/colorfulnotion/commitchain/rpc"
	"github.com/colorfulnotion/commitchain/storage"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd(conf *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a devnet: the commit-chain, its hub and the RPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, conf)
		},
	}
	cmd.Flags().String("network", "development", "Network name ("+strings.Join(chainspecs.Networks(), ", ")+") or chainspec file")
	cmd.Flags().String("data-dir", "", "LevelDB directory for the call journal (empty keeps it in memory)")
	cmd.Flags().String("http-addr", "127.0.0.1:8645", "JSON-RPC, websocket and metrics address")
	cmd.Flags().Duration("block-time", time.Second, "Block interval of the devnet clock")
	cmd.Flags().String("hub-key", "", "Hex private key of the hub account")
	return cmd
}

func hubAddress(hexKey string) (common.Address, error) {
	if hexKey == "" {
		return common.Address{}, nil
	}
	addr, err := common.PrivateKeyAddress(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("hub key: %w", err)
	}
	return addr, nil
}

// openChain replays an existing journal, or starts a fresh chain on it.
func openChain(params types.Params, j *storage.Journal, opts ...chain.Option) (*chain.Chain, bool, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, false, err
	}
	saved, ok, err := j.LoadParams()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		if err := j.SaveParams(raw); err != nil {
			return nil, false, err
		}
		c, err := chain.New(params, append(opts, chain.WithJournal(j))...)
		return c, false, err
	}
	if !bytes.Equal(saved, raw) {
		return nil, false, fmt.Errorf("journal was written with other parameters: %s", saved)
	}
	c, err := chain.Restore(params, j, opts...)
	return c, true, err
}

func serve(ctx context.Context, conf *viper.Viper) error {
	spec, err := chainspecs.ReadSpec(conf.GetString("network"))
	if err != nil {
		return err
	}
	hub, err := hubAddress(conf.GetString("hub-key"))
	if err != nil {
		return err
	}
	params, err := spec.Params(hub)
	if err != nil {
		return err
	}
	blockTime := conf.GetDuration("block-time")
	if blockTime <= 0 {
		return fmt.Errorf("block-time must be positive")
	}

	ps, err := storage.NewPersistenceStore(conf.GetString("data-dir"))
	if err != nil {
		return err
	}
	defer ps.Close()
	j, err := storage.OpenJournal(ps)
	if err != nil {
		return err
	}
	c, restored, err := openChain(params, j, chain.WithRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}

	clock := rpc.NewBlockClock(c.LastBlock())
	backend := &rpc.Backend{Chain: c, Clock: clock}
	if restored && c.CurrentEon() > 0 {
		// off-chain agreements live only in the hub's memory
		log.Warn(log.OperatorMonitoring, "hub state is not restored from the journal, serving without a hub", "eon", c.CurrentEon())
	} else {
		backend.Operator = operator.New(c, j)
		go backend.Operator.Run(ctx, clock.Subscribe())
	}
	go clock.Run(ctx, blockTime)

	srv, err := rpc.NewServer(ctx, backend, prometheus.DefaultGatherer)
	if err != nil {
		return err
	}
	log.Info(log.RPCMonitoring, "serving", "network", params.Network, "hub", params.Hub, "blocks_per_eon", params.BlocksPerEon, "journal_head", j.Head())
	return srv.ListenAndServe(ctx, conf.GetString("http-addr"))
}
