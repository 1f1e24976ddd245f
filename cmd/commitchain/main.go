// commitchain - NOCUST commit-chain node, hub and tooling
package main

import (
	"fmt"
	"os"

	"github.com/colorfulnotion/commitchain/common"
	log "github.com/colorfulnotion/commitchain/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func newRootCmd() *cobra.Command {
	conf := viper.New()
	var cfgFile string

	var rootCmd = &cobra.Command{
		Use:   "commitchain",
		Short: "NOCUST commit-chain node, hub and proof tools",
		Long: `commitchain runs a commit-chain devnet with its hub, and works with the
balance proofs users hold against the hub's per-eon roots.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := InitConfig(conf, cfgFile, cmd); err != nil {
				return err
			}
			log.InitLogger(conf.GetString("log-level"))
			log.EnableModules(conf.GetString("debug"))
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "trace, debug, info, warn or error")
	rootCmd.PersistentFlags().String("debug", "", "Comma separated log modules to enable (chain,operator,...)")

	rootCmd.AddCommand(
		newServeCmd(conf),
		newSimulateCmd(),
		newProveCmd(),
		newVerifyCmd(),
		newDiffCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and commit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "commitchain %s\n", common.VersionString(Version, Commit))
			if BuildTime != "unknown" {
				fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", BuildTime)
			}
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s%v%s\n", common.ColorRed, err, common.ColorReset)
		os.Exit(1)
	}
}
