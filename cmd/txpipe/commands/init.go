package commands

import (
	"io/ioutil"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tendermint/tendermint/libs/cli"
	tmos "github.com/tendermint/tendermint/libs/os"

	cfg "txpipe/config"
)

// InitFilesCmd writes a default config file into the home directory.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the home directory with a default config",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	home := viper.GetString(cli.HomeFlag)
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}

	path := filepath.Join(home, "config.json")
	if tmos.FileExists(path) {
		logger.Info("Found config file", "path", path)
		return nil
	}

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(cfg.DefaultConfig(), "", "  ")
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	logger.Info("Generated config file", "path", path)
	return nil
}
