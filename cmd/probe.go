package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/baaaht/chatmesh/pkg/probe"
)

var probeCmd = &cobra.Command{
	Use:   "probe-ip",
	Short: "Print the outward-facing IPv4 address of this host",
	Args:  cobra.NoArgs,
	RunE:  runProbe,
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}

	pcfg, err := probe.NewConfig(cfg.Probe)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ip, err := probe.MyIP(ctx, pcfg, rootLog)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ip)
	return nil
}
