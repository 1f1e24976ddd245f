package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// InitConfig layers defaults, an optional YAML file, COMMITCHAIN_* env vars
// and command-line flags, in increasing priority. Keys are the flag names.
func InitConfig(config *viper.Viper, cfgFile string, cmd *cobra.Command) error {
	config.SetDefault("network", "development")
	config.SetDefault("data-dir", "")
	config.SetDefault("http-addr", "127.0.0.1:8645")
	config.SetDefault("block-time", "1s")
	config.SetDefault("log-level", "info")
	config.SetDefault("debug", "")
	config.SetDefault("hub-key", "")

	config.SetEnvPrefix("commitchain")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()

	if cfgFile != "" {
		config.SetConfigType("yaml")
		config.SetConfigFile(cfgFile)
		if err := config.ReadInConfig(); err != nil {
			return err
		}
	}
	return config.BindPFlags(cmd.Flags())
}
