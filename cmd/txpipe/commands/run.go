package commands

import (
	"time"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"

	"txpipe/node"
)

var metricsInterval time.Duration

// NewRunNodeCmd returns the command that runs a standalone node: accept-all
// verification, discarded commits and a dropped wire. Deployments embedding
// the node supply real capabilities through node.New instead.
func NewRunNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a standalone node",
		RunE:  runNode,
	}
	cmd.Flags().DurationVar(&metricsInterval, "metrics_interval", 10*time.Second,
		"how often the metrics snapshot is logged; 0 disables it")
	return cmd
}

func runNode(cmd *cobra.Command, args []string) error {
	n, err := node.New(config, node.Capabilities{},
		node.SetMetricsProvider(node.DefaultMetricsProvider("txpipe")))
	if err != nil {
		return err
	}
	n.SetLogger(logger)

	if err := n.Start(); err != nil {
		return err
	}

	if metricsInterval > 0 {
		go func() {
			ticker := time.NewTicker(metricsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-n.Quit():
					return
				case <-ticker.C:
					for label, snapshot := range n.MetricsSnapshot() {
						logger.Info("metrics", "component", label, "snapshot", snapshot)
					}
				}
			}
		}()
	}

	tmos.TrapSignal(logger, func() {
		if err := n.Stop(); err != nil {
			logger.Error("stopping node", "err", err)
		}
	})

	select {}
}
