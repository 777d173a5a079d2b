package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tendermint/tendermint/libs/cli"
	tmflags "github.com/tendermint/tendermint/libs/cli/flags"
	"github.com/tendermint/tendermint/libs/log"

	cfg "txpipe/config"
)

var (
	config   = cfg.DefaultConfig()
	logger   = log.NewTMLogger(log.NewSyncWriter(os.Stdout))
	logLevel string
)

func init() {
	RootCmd.PersistentFlags().StringVar(&logLevel, "log_level", "info", "log level")
}

// configFile returns the config path under the --home directory.
func configFile() string {
	return filepath.Join(viper.GetString(cli.HomeFlag), "config.json")
}

// RootCmd is the root command. Subcommands get a loaded config and logger.
var RootCmd = &cobra.Command{
	Use:   "txpipe",
	Short: "Pipelined transaction batching and agreement node",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = loadConfig()
		if err != nil {
			return err
		}

		logger, err = tmflags.ParseLogLevel(logLevel, logger, "info")
		if err != nil {
			return err
		}
		return nil
	},
}

// loadConfig overlays the config file, when present, onto the defaults.
func loadConfig() (*cfg.Config, error) {
	conf := cfg.DefaultConfig()

	path := configFile()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return conf, nil
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}
	return conf, conf.ValidateBasic()
}
