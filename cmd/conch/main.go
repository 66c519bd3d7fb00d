package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"unicode/utf8"

	"github.com/m4xw311/conch/config"
	"github.com/m4xw311/conch/errors"
	"github.com/m4xw311/conch/ipc"
	"github.com/m4xw311/conch/pty"
	"github.com/m4xw311/conch/shell"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Define flags
	shellFlag := flag.String("shell", "", "Shell to host inside the pty (defaults to config, then $SHELL)")
	socketFlag := flag.String("socket", "", "Unix socket path of the conchd daemon")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		return 1
	}
	if *shellFlag != "" {
		cfg.Wrapper.Shell = *shellFlag
	}
	if *socketFlag != "" {
		cfg.Socket = *socketFlag
	}

	trigger, err := triggerByte(cfg.Wrapper.Trigger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in configuration: %+v\n", err)
		return 1
	}

	// Stdout belongs to the hosted shell, so diagnostics go to a file.
	logger, closeLog, err := openLogger(cfg.Wrapper.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %+v\n", err)
		return 1
	}
	defer closeLog()

	sh, err := shell.New(cfg.Wrapper.Shell)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving shell: %+v\n", err)
		return 1
	}

	cmd, cleanup, err := sh.Command()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing %s: %+v\n", sh.Name(), err)
		return 1
	}
	defer cleanup()

	// Greet the daemon before the terminal goes raw so the notice prints
	// normally. A dead daemon is not fatal; the client redials on demand.
	client := ipc.NewClient(cfg.Socket, cfg.Wrapper.RequestTimeout(), logger)
	defer client.Close()
	if motd, err := client.Setup(context.Background()); err != nil {
		logger.Printf("daemon unreachable at %s: %v", cfg.Socket, err)
		fmt.Printf("conch: assistant daemon unreachable at %s, will retry on use\n", cfg.Socket)
	} else if motd != "" {
		fmt.Println(motd)
	}

	host, err := pty.Start(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting %s: %+v\n", sh.Name(), err)
		return 1
	}
	defer host.Close()

	restore, err := pty.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error entering raw mode: %+v\n", err)
		return 1
	}
	defer restore()

	stopResize := make(chan struct{})
	defer close(stopResize)
	go host.WatchResize(stopResize)

	store := shell.NewStore(cfg.Wrapper.HistoryLimit)
	proxy, err := shell.NewProxy(host.Master(), os.Stdin, os.Stdout, sh, store, client, shell.ProxyOptions{
		Trigger: trigger,
		Timeout: cfg.Wrapper.RequestTimeout(),
		Logger:  logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error wiring session: %+v\n", err)
		return 1
	}

	if err := proxy.Run(context.Background()); err != nil {
		logger.Printf("session ended with error: %+v", err)
	}

	// Reap the shell and surface its exit code as our own.
	if err := host.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		logger.Printf("waiting for %s: %v", sh.Name(), err)
		return 1
	}
	return 0
}

// triggerByte returns the configured trigger, falling back to ':' when the
// config value is empty. The input loop matches the trigger against the
// first byte of a read, so anything but a single ASCII character would
// match input the user never typed.
func triggerByte(trigger string) (byte, error) {
	if trigger == "" {
		return ':', nil
	}
	if len(trigger) != 1 || trigger[0] >= utf8.RuneSelf {
		return 0, errors.New("trigger must be a single ASCII character, got %q", trigger)
	}
	return trigger[0], nil
}

func openLogger(path string) (*log.Logger, func(), error) {
	if path == "" {
		path = defaultLogPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(f, "conch ", log.LstdFlags)
	return logger, func() { f.Close() }, nil
}

func defaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "conch.log")
	}
	return filepath.Join(home, ".conch", "conch.log")
}
