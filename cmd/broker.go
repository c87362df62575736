package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/spf13/cobra"

	"github.com/baaaht/chatmesh/pkg/relay"
	"github.com/baaaht/chatmesh/pkg/types"
)

// brokerCmd is started by relay.ExecSpawner; users do not run it directly
var brokerCmd = &cobra.Command{
	Use:    "broker",
	Short:  "Run the relay broker for a multicast group",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runBroker,
}

func runBroker(cmd *cobra.Command, args []string) error {
	cfg, addr, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Counters are dumped to the broker log on SIGUSR1.
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	dump := metrics.NewInmemSignal(sink, metrics.DefaultSignal, os.Stderr)
	defer dump.Stop()

	bcfg := relay.NewBrokerConfig(cfg)
	bcfg.MetricSink = sink

	broker, err := relay.NewBroker(addr, bcfg, rootLog)
	if err != nil {
		return err
	}

	rootLog.Info("Starting relay broker", "version", Version, "pid", os.Getpid())
	err = broker.Run(ctx)
	if types.IsErrCode(err, types.ErrCodeAlreadyExists) {
		rootLog.Info("Another relay broker owns the channel, exiting", "channel", broker.Channel())
		return nil
	}
	return err
}
