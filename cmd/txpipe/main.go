package main

import (
	"os"
	"path/filepath"

	"github.com/tendermint/tendermint/libs/cli"

	cmd "txpipe/cmd/txpipe/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.NewRunNodeCmd(),
		cli.NewCompletionCmd(rootCmd, true),
	)

	baseCmd := cli.PrepareBaseCmd(rootCmd, "TXPIPE", os.ExpandEnv(filepath.Join("$HOME", ".txpipe")))
	if err := baseCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
