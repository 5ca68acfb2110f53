package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/untoldecay/ContextKeeper/internal/channel"
	"github.com/untoldecay/ContextKeeper/internal/config"
	"github.com/untoldecay/ContextKeeper/internal/daemon"
	"github.com/untoldecay/ContextKeeper/internal/git"
	"github.com/untoldecay/ContextKeeper/internal/lockfile"
	"github.com/untoldecay/ContextKeeper/internal/rpc"
	"github.com/untoldecay/ContextKeeper/internal/storage/sqlite"
	"github.com/untoldecay/ContextKeeper/internal/ui"
)

// daemonLogger writes to the rotating daemon log and, when attached to a
// terminal, echoes to stderr so foreground runs are observable.
type daemonLogger struct {
	file *log.Logger
	echo bool
}

func newDaemonLogger(dataDir string) *daemonLogger {
	writer := &lumberjack.Logger{
		Filename:   filepath.Join(dataDir, "daemon.log"),
		MaxSize:    config.GetInt("log.max-size-mb"),
		MaxBackups: config.GetInt("log.max-backups"),
		MaxAge:     config.GetInt("log.max-age-days"),
	}
	return &daemonLogger{
		file: log.New(writer, "", log.LstdFlags|log.LUTC),
		echo: ui.IsTerminal(),
	}
}

func (l *daemonLogger) log(format string, args ...interface{}) {
	l.file.Printf(format, args...)
	if l.echo {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the workspace daemon in the foreground",
	Long: `Runs the engine as a long-lived process serving this workspace over
a unix socket. Subsequent ck invocations route through it automatically,
sharing one store connection and one live event stream. The daemon exits
on SIGINT/SIGTERM, on the shutdown tool, or after the configured idle
timeout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func runDaemon() error {
	workspace, err := workspaceRoot()
	if err != nil {
		return err
	}
	dataDir := filepath.Join(workspace, config.DataDirName)
	dbPath := config.DatabasePath()

	lock, err := lockfile.Acquire(dataDir)
	if err != nil {
		return fmt.Errorf("daemon already running for %s (or lock unavailable): %w", workspace, err)
	}
	defer func() { _ = lock.Unlock() }()

	logger := newDaemonLogger(dataDir)
	logger.log("daemon starting: version=%s workspace=%s pid=%d", Version, workspace, os.Getpid())

	store, err := sqlite.New(context.Background(), dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	rpc.ServerVersion = Version
	rpc.ClientVersion = Version
	socketPath := rpc.ShortSocketPath(workspace)
	server := rpc.NewServer(socketPath, store, workspace)

	registry, err := daemon.NewRegistry()
	if err != nil {
		logger.log("registry unavailable: %v", err)
	} else {
		entry := daemon.RegistryEntry{
			WorkspacePath: workspace,
			SocketPath:    socketPath,
			DatabasePath:  dbPath,
			PID:           os.Getpid(),
			Version:       Version,
			StartedAt:     time.Now().UTC(),
		}
		if err := registry.Register(entry); err != nil {
			logger.log("failed to register daemon: %v", err)
		}
		defer func() {
			if err := registry.Unregister(workspace); err != nil {
				logger.log("failed to unregister daemon: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startWorkspaceWatcher(ctx, server, workspace, dbPath, logger)
	go idleWatchdog(ctx, server, logger)

	logger.log("listening on %s", socketPath)
	err = server.Start(ctx)
	logger.log("daemon stopped")
	if stopErr := server.Stop(); err == nil {
		err = stopErr
	}
	return err
}

// startWorkspaceWatcher wires filesystem events into the running server:
// external database writes refresh the cached current session, and git
// branch switches refresh its derived default channel.
func startWorkspaceWatcher(ctx context.Context, server *rpc.Server, workspace, dbPath string, logger *daemonLogger) {
	headPath := ""
	lastBranch := ""
	if git.IsRepo(workspace) {
		headPath = git.HeadPath(workspace)
		lastBranch = git.CurrentBranch(workspace)
	}

	onDBChange := func() {
		sessions := server.Sessions()
		id := sessions.CurrentID()
		if id == "" {
			return
		}
		if _, err := sessions.Resume(ctx, id); err != nil {
			logger.log("failed to refresh session after external write: %v", err)
			return
		}
		logger.log("database changed externally, refreshed session %s", id)
	}

	onBranchChange := func() {
		newBranch := git.CurrentBranch(workspace)
		if newBranch == lastBranch {
			return
		}
		logger.log("git branch changed: %q -> %q", lastBranch, newBranch)
		oldChannel := channel.FromBranch(lastBranch)
		lastBranch = newBranch

		sessions := server.Sessions()
		current := sessions.Current()
		if current == nil {
			return
		}
		// Only a branch-derived default follows the branch; an explicit
		// or name-derived channel stays put.
		if oldChannel == "" || current.DefaultChannel != oldChannel {
			return
		}
		derived := channel.Derive("", newBranch, current.Name)
		if derived == current.DefaultChannel {
			return
		}
		updates := map[string]interface{}{"default_channel": derived}
		if err := sessions.Update(ctx, current.ID, updates); err != nil {
			logger.log("failed to refresh default channel: %v", err)
			return
		}
		logger.log("default channel refreshed to %q for session %s", derived, current.ID)
	}

	watcher, err := newFileWatcher(dbPath, headPath, onDBChange, onBranchChange)
	if err != nil {
		logger.log("file watcher unavailable: %v", err)
		return
	}
	watcher.Start(ctx, logger)
	go func() {
		<-ctx.Done()
		_ = watcher.Close()
	}()
}

// idleWatchdog stops the server after the configured idle timeout with no
// tool activity. A zero or negative timeout disables it.
func idleWatchdog(ctx context.Context, server *rpc.Server, logger *daemonLogger) {
	idleTimeout := config.GetDuration("daemon.idle-timeout")
	if idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			idle := time.Since(server.LastActivity())
			if idle >= idleTimeout {
				logger.log("idle for %v (limit %v), shutting down", idle.Round(time.Second), idleTimeout)
				_ = server.Stop()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the workspace daemon to shut down",
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, err := workspaceRoot()
		if err != nil {
			return err
		}
		client, err := rpc.TryConnect(workspace)
		if err != nil {
			return err
		}
		if client == nil {
			fmt.Println("Daemon is not running")
			return nil
		}
		if err := client.Shutdown(); err != nil {
			return fmt.Errorf("failed to stop daemon: %w", err)
		}
		fmt.Println(ui.SuccessStyle.Render("✓ daemon stopping"))
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the workspace daemon's status",
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, err := workspaceRoot()
		if err != nil {
			return err
		}
		client, err := rpc.TryConnect(workspace)
		if err != nil {
			return err
		}
		if client == nil {
			if jsonOutput {
				outputJSON(map[string]bool{"running": false})
				return nil
			}
			fmt.Println("Daemon is not running")
			return nil
		}
		status, err := client.Status()
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(status)
			return nil
		}
		fmt.Println(ui.TitleStyle.Render("Daemon"))
		fmt.Printf("  version:  %s\n", status.Version)
		fmt.Printf("  pid:      %d\n", status.PID)
		fmt.Printf("  uptime:   %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
		fmt.Printf("  socket:   %s\n", status.SocketPath)
		fmt.Printf("  database: %s\n", status.DatabasePath)
		fmt.Printf("  watchers: %d\n", status.Watchers)
		if status.CurrentSession != nil {
			fmt.Printf("  session:  %s (%s)\n", status.CurrentSession.Name, status.CurrentSession.ID)
		}
		return nil
	},
}

var daemonListCmd = &cobra.Command{
	Use:   "list",
	Short: "List running daemons across all workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := daemon.NewRegistry()
		if err != nil {
			return err
		}
		infos, err := daemon.Discover(registry)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(infos)
			return nil
		}
		if len(infos) == 0 {
			fmt.Println("No daemons running")
			return nil
		}
		tbl := ui.NewTable(ui.GetWidth(), "Workspace", "PID", "Version", "Uptime", "State")
		for _, info := range infos {
			state := "alive"
			if !info.Alive {
				state = "unreachable"
			}
			uptime := ""
			if info.Alive {
				uptime = (time.Duration(info.UptimeSeconds) * time.Second).String()
			}
			tbl.Row(info.WorkspacePath, fmt.Sprintf("%d", info.PID), info.Version, uptime, state)
		}
		fmt.Println(tbl.Render())
		return nil
	},
}

func init() {
	daemonCmd.AddCommand(daemonStopCmd, daemonStatusCmd, daemonListCmd)
	rootCmd.AddCommand(daemonCmd)
}
