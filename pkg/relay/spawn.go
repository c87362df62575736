package relay

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/baaaht/chatmesh/internal/logger"
	"github.com/baaaht/chatmesh/pkg/group"
	"github.com/baaaht/chatmesh/pkg/types"
)

// Spawner starts a broker for a group
type Spawner interface {
	Spawn(ctx context.Context, addr group.Address) error
}

// SpawnFunc is a function adapter for Spawner
type SpawnFunc func(ctx context.Context, addr group.Address) error

// Spawn implements Spawner
func (f SpawnFunc) Spawn(ctx context.Context, addr group.Address) error {
	return f(ctx, addr)
}

// ExecSpawner starts the broker as a detached copy of the current binary:
//
//	<Executable> <Args...> broker --group <addr>
//
// The child gets its own session, has stdin closed and appends stdout and
// stderr to LogPath. Spawn does not wait for it.
type ExecSpawner struct {
	// Executable defaults to os.Executable()
	Executable string
	// Args go before the broker subcommand, e.g. --config
	Args    []string
	LogPath string
	Logger  *logger.Logger
}

// Spawn implements Spawner
func (s *ExecSpawner) Spawn(_ context.Context, addr group.Address) error {
	log := s.Logger
	if log == nil {
		log = logger.Global()
	}

	exe := s.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return types.WrapError(types.ErrCodeInternal, "failed to locate executable", err)
		}
	}

	logPath := s.LogPath
	if logPath == "" {
		logPath = filepath.Join(os.TempDir(), "multicast_communicator.log")
	}
	out, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return types.WrapError(types.ErrCodeInternal, "failed to open broker log "+logPath, err)
	}
	// The child keeps its own descriptor.
	defer out.Close()

	args := make([]string, 0, len(s.Args)+3)
	args = append(args, s.Args...)
	args = append(args, "broker", "--group", addr.String())

	// Not CommandContext: the broker must outlive the dial that started it.
	cmd := exec.Command(exe, args...)
	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = detachedProcAttr()

	if err := cmd.Start(); err != nil {
		return types.WrapError(types.ErrCodeBrokerFailed, "failed to start relay broker", err)
	}

	pid := cmd.Process.Pid
	log.Info("Relay broker spawned", "pid", pid, "group", addr.String(), "log_path", logPath)

	go func() {
		if err := cmd.Wait(); err != nil {
			log.Warn("Relay broker exited",
				"pid", pid,
				"error", types.WrapError(types.ErrCodeBrokerFailed, "relay broker process failed", err))
			return
		}
		log.Debug("Relay broker exited", "pid", pid)
	}()

	return nil
}
