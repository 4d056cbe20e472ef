package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/incbuild/fstrace/internal/engine"
	"github.com/incbuild/fstrace/internal/report"
	"github.com/incbuild/fstrace/internal/server"
	"github.com/incbuild/fstrace/internal/tracelog"
	"github.com/incbuild/fstrace/internal/version"
)

var (
	cfgFile       string
	logLevel      string
	traceCommand  string
	reportPath    string
	serverMode    bool
	suicideOrphan bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fstrace",
		Short: "Kernel-level build dependency tracer",
		Long: `fstrace runs a command and reports, with kernel-level ground
truth, every file the command and its descendant processes read,
wrote, created, or deleted. Incremental build tools consume the
report as an authoritative dependency list.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.Flags().StringVarP(
		&traceCommand, "command", "c", "",
		"command to trace (passed to /bin/sh -c)",
	)
	cmd.Flags().StringVarP(
		&reportPath, "file", "f", "trace.json",
		"report output path (.zst enables compression)",
	)
	cmd.Flags().BoolVarP(
		&serverMode, "server", "s", false,
		"run as a persistent trace server",
	)
	cmd.Flags().BoolVar(
		&suicideOrphan, "suicide-when-orphaned", false,
		"shut the server down when the parent process dies",
	)
	cmd.Flags().StringVar(
		&cfgFile, "config", "",
		"path to config file",
	)
	cmd.Flags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)

	// Usage requests are not normal completions; exit codes matter to
	// the build tooling that invokes this.
	cmd.SetHelpFunc(func(c *cobra.Command, _ []string) {
		_ = c.Usage()
		os.Exit(2)
	})

	cmd.AddCommand(versionCmd())
	cmd.AddCommand(execShimCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

// execShimCmd is the internal trampoline between fork and exec. It
// reports its kernel thread id on fd 3, blocks until the tracer has
// registered it by reading one byte from fd 4, and then replaces
// itself with the shell running the traced command. The gap between
// process creation and session registration is thereby closed: no
// interesting syscall can happen before the release byte arrives.
func execShimCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "exec-shim <command>",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime.LockOSThread()

			tidPipe := os.NewFile(3, "tid")
			release := os.NewFile(4, "release")

			if tidPipe == nil || release == nil {
				return fmt.Errorf("exec-shim must be started by fstrace")
			}

			if _, err := fmt.Fprintf(
				tidPipe, "%d\n", currentThreadID(),
			); err != nil {
				return fmt.Errorf("reporting thread id: %w", err)
			}

			tidPipe.Close()

			buf := make([]byte, 1)
			if _, err := release.Read(buf); err != nil {
				return fmt.Errorf("waiting for release: %w", err)
			}

			return unix.Exec(
				"/bin/sh", []string{"sh", "-c", args[0]}, os.Environ(),
			)
		},
	}
}

func loadConfig() (*engine.Config, error) {
	if cfgFile == "" {
		return engine.DefaultConfig(), nil
	}

	return engine.LoadConfig(cfgFile)
}

func newLogger(cfg *engine.Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// CLI flag overrides config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	return log, nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	switch {
	case serverMode:
		return runServer(log, cfg)
	case traceCommand != "":
		return runCommand(log, cfg)
	default:
		return fmt.Errorf("either -c <command> or -s is required")
	}
}

func runServer(log *logrus.Logger, cfg *engine.Config) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	tlog, err := tracelog.Open(log, cfg.TraceLog)
	if err != nil {
		return err
	}
	defer tlog.Close()

	eng := engine.New(log, cfg, false)
	if err := eng.Start(ctx); err != nil {
		return err
	}

	srv := server.New(log, cfg.Server, eng, tlog)
	if err := srv.Start(ctx); err != nil {
		eng.Stop()

		return err
	}

	if suicideOrphan {
		go server.WatchOrphan(ctx, log, cancel)
	}

	<-ctx.Done()

	log.Info("Shutting down trace server")

	if err := srv.Stop(); err != nil {
		log.WithError(err).Warn("Error stopping server")
	}

	return eng.Stop()
}

// shim holds the running exec trampoline and its control pipes.
type shim struct {
	cmd     *exec.Cmd
	tid     uint64
	release *os.File
}

// startShim launches the traced command behind the exec trampoline
// and reads back the thread id that will appear in kernel records.
func startShim(command string) (*shim, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}

	tidR, tidW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating tid pipe: %w", err)
	}

	releaseR, releaseW, err := os.Pipe()
	if err != nil {
		tidR.Close()
		tidW.Close()

		return nil, fmt.Errorf("creating release pipe: %w", err)
	}

	c := exec.Command(exe, "exec-shim", command)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.ExtraFiles = []*os.File{tidW, releaseR}

	if err := c.Start(); err != nil {
		tidR.Close()
		tidW.Close()
		releaseR.Close()
		releaseW.Close()

		return nil, fmt.Errorf("starting traced command: %w", err)
	}

	// Child-side ends stay open in the child only.
	tidW.Close()
	releaseR.Close()

	var tid uint64

	if _, err := fmt.Fscanf(tidR, "%d\n", &tid); err != nil {
		tidR.Close()
		releaseW.Close()
		c.Process.Kill()
		c.Wait()

		return nil, fmt.Errorf("reading shim thread id: %w", err)
	}

	tidR.Close()

	return &shim{cmd: c, tid: tid, release: releaseW}, nil
}

// Release lets the shim exec the traced command.
func (s *shim) Release() error {
	defer s.release.Close()

	if _, err := s.release.Write([]byte{1}); err != nil {
		return fmt.Errorf("releasing traced command: %w", err)
	}

	return nil
}

func runCommand(log *logrus.Logger, cfg *engine.Config) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	if server.Connected(cfg.Server.SocketPath) {
		return traceRemote(log, cfg, cwd)
	}

	return traceLocal(log, cfg, cwd)
}

// traceRemote hands the session to a running trace server and waits
// for it to write the report.
func traceRemote(log *logrus.Logger, cfg *engine.Config, cwd string) error {
	f, err := os.Create(reportPath)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer f.Close()

	sh, err := startShim(traceCommand)
	if err != nil {
		return err
	}

	client, err := server.Dial(cfg.Server.SocketPath)
	if err != nil {
		sh.cmd.Process.Kill()
		sh.cmd.Wait()

		return err
	}
	defer client.Close()

	err = client.Trace(&server.Request{
		PID:        sh.cmd.Process.Pid,
		RootThread: sh.tid,
		Cwd:        cwd,
		ReportPath: reportPath,
		Command:    traceCommand,
	}, f)
	if err != nil {
		sh.cmd.Process.Kill()
		sh.cmd.Wait()

		return err
	}

	if err := sh.Release(); err != nil {
		return err
	}

	// The command's own exit status is not ours to report; tracing
	// succeeded either way.
	if err := sh.cmd.Wait(); err != nil {
		log.WithError(err).Debug("Traced command failed")
	}

	return client.WaitComplete()
}

// traceLocal claims the kernel facility for just this one command.
func traceLocal(log *logrus.Logger, cfg *engine.Config, cwd string) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	tlog, err := tracelog.Open(log, cfg.TraceLog)
	if err != nil {
		return err
	}
	defer tlog.Close()

	eng := engine.New(log, cfg, true)
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	sh, err := startShim(traceCommand)
	if err != nil {
		return err
	}

	started := time.Now()
	written := make(chan error, 1)

	eng.Trace(sh.cmd.Process.Pid, sh.tid, cwd, func(res *report.TraceResult) {
		err := report.WriteFile(reportPath, eng.Schema(), res)
		if err == nil {
			err = tlog.Record(
				started, time.Now(), sh.cmd.Process.Pid, traceCommand, res,
			)
		}

		written <- err
	})

	if err := sh.Release(); err != nil {
		return err
	}

	if err := sh.cmd.Wait(); err != nil {
		log.WithError(err).Debug("Traced command failed")
	}

	select {
	case err := <-written:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}
