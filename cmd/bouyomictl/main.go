package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/loqalabs/loqa-bouyomi/internal/bouyomi"
	"github.com/loqalabs/loqa-bouyomi/internal/config"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

// app carries the global flags and the client built from them. Script lines
// run by `run` share one app, so they reuse the same client.
type app struct {
	host       string
	port       int
	timeout    time.Duration
	verbose    bool
	configPath string

	cfg    config.Config
	client *bouyomi.Client
	logger *slog.Logger
	stderr io.Writer
}

func newApp(stderr io.Writer) *app {
	cfg := config.Default()
	return &app{
		host:    bouyomi.DefaultHost,
		port:    cfg.Bouyomi.Port,
		timeout: bouyomi.DefaultIOTimeout,
		cfg:     cfg,
		stderr:  stderr,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "bouyomictl",
		Short:         "Control a BouyomiChan instance over its TCP interface",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.host, "host", a.host, "BouyomiChan host")
	flags.IntVar(&a.port, "port", a.port, "BouyomiChan port")
	flags.DurationVar(&a.timeout, "timeout", a.timeout, "connect and I/O timeout per command")
	flags.BoolVarP(&a.verbose, "verbose", "v", a.verbose, "log every exchange")
	flags.StringVar(&a.configPath, "config", a.configPath, "load defaults from a loqa-bouyomi config file")

	root.AddCommand(
		newTalkCmd(a),
		newControlCmd(a, bouyomi.CommandPause, "Pause playback"),
		newControlCmd(a, bouyomi.CommandResume, "Resume playback"),
		newControlCmd(a, bouyomi.CommandSkip, "Skip the message being read"),
		newControlCmd(a, bouyomi.CommandClear, "Drop every queued message"),
		newStatusCmd(a),
		newWaitCmd(a),
		newRunCmd(a),
		newHistoryCmd(a),
	)
	return root
}

// setup builds the logger and client once. Explicit flags win over the
// config file, which wins over built-in defaults.
func (a *app) setup(cmd *cobra.Command) error {
	if a.client != nil {
		return nil
	}

	level := log.WarnLevel
	if a.verbose {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(a.stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "bouyomictl",
	})
	a.logger = slog.New(handler)

	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	client := a.cfg.Bouyomi.NewClient(a.logger)

	flags := cmd.Flags()
	if a.configPath == "" || flags.Changed("host") {
		client = client.WithHost(a.host)
	}
	if a.configPath == "" || flags.Changed("port") {
		if a.port < 1 || a.port > 65535 {
			return fmt.Errorf("port %d out of range", a.port)
		}
		client = client.WithPort(strconv.Itoa(a.port))
	}
	if a.configPath == "" || flags.Changed("timeout") {
		client = client.WithTimeouts(a.timeout, a.timeout)
	}
	a.client = client
	a.logger.Debug("client ready", slog.String("addr", client.Addr()))
	return nil
}

func main() {
	a := newApp(os.Stderr)
	root := newRootCmd(a)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
