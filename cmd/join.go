package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/baaaht/chatmesh/internal/config"
	"github.com/baaaht/chatmesh/pkg/communicator"
	"github.com/baaaht/chatmesh/pkg/intake"
	"github.com/baaaht/chatmesh/pkg/message"
	"github.com/baaaht/chatmesh/pkg/relay"
	"github.com/baaaht/chatmesh/pkg/session"
)

var (
	// Join flags
	listenAddress string
	serveChat     bool
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join the multicast group and print peer announcements",
	Long: `Join announces this process on the multicast group and prints every
control message seen on it. With --serve it also accepts TCP chat
connections, announces the listening port to the group and withdraws it on
exit.`,
	Args: cobra.NoArgs,
	RunE: runJoin,
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, addr, err := setup()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spawner := &relay.ExecSpawner{
		Args:    brokerArgs(),
		LogPath: cfg.Relay.LogPath,
		Logger:  rootLog,
	}
	opts := session.Options{
		Open:   session.OpenWith(communicator.NewOptions(cfg, spawner, rootLog)),
		Logger: rootLog,
	}

	inbox := make(chan message.Message, 16)
	s, err := session.Join(ctx, addr, inbox, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	fmt.Fprintf(out, "joined %s (%s)\n", addr, cfg.Group.Mode)

	var wg sync.WaitGroup
	defer wg.Wait()
	srvCtx, cancelSrv := context.WithCancel(ctx)
	defer cancelSrv()

	if serveChat {
		ln, err := intake.Listen(srvCtx, cfg.Server)
		if err != nil {
			return err
		}
		port := intake.Port(ln)
		if err := s.AnnounceServer(ctx, port); err != nil {
			ln.Close()
			return err
		}
		fmt.Fprintf(out, "serving chat on %s\n", ln.Addr())

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := intake.Serve(srvCtx, ln, cfg.Server.QueueSize, printLines(out), rootLog); err != nil {
				rootLog.Error("Chat listener failed", "error", err)
			}
		}()
		defer func() {
			wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.WithdrawServer(wctx, port); err != nil {
				rootLog.Warn("Failed to withdraw chat server", "port", port, "error", err)
			}
		}()
	}

	for {
		select {
		case m := <-inbox:
			fmt.Fprintln(out, m)
		case <-s.Done():
			return s.Err()
		case <-ctx.Done():
			rootLog.Info("Leaving multicast group")
			return nil
		}
	}
}

// printLines writes every line a chat peer sends, prefixed with its address
func printLines(out io.Writer) intake.Handler {
	var mu sync.Mutex
	return func(ctx context.Context, conn net.Conn) {
		peer := conn.RemoteAddr().String()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			mu.Lock()
			fmt.Fprintf(out, "<%s> %s\n", peer, sc.Text())
			mu.Unlock()
		}
	}
}

func init() {
	joinCmd.Flags().StringVar(&listenAddress, "listen", "",
		"Chat listen address (default: "+config.DefaultListenAddress+")")
	joinCmd.Flags().BoolVar(&serveChat, "serve", false,
		"Accept TCP chat connections and announce the port")
}
