package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/vishalag001/Cavalia/config"
	"go.uber.org/zap"
)

var (
	configPath string
	protocol   string
	threads    int
	logLevel   string
	logMode    string
	logDir     string
)

func bindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "C", "", "TOML config file")
	fs.StringVar(&protocol, "protocol", "", "Concurrency control protocol, overrides the config file")
	fs.IntVar(&threads, "threads", 0, "Number of worker threads, overrides the config file")
	fs.StringVar(&logLevel, "log-level", "", "Log level, overrides the config file")
	fs.StringVar(&logMode, "logging", "", "Durability logging mode: none, value or command")
	fs.StringVar(&logDir, "log-dir", "", "Directory of the durability log")
}

// loadConfig builds the configuration from the config file and the flags
// that were set explicitly.
func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if fs.Changed("protocol") {
		cfg.Protocol = protocol
	}
	if fs.Changed("threads") {
		cfg.ThreadCount = threads
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if fs.Changed("logging") {
		cfg.Logging.Mode = logMode
	}
	if fs.Changed("log-dir") {
		cfg.Logging.Dir = logDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.SetupLogger(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

func newRootCommand(ctx context.Context) *cobra.Command {
	root := &cobra.Command{
		Use:           "cavalia",
		Short:         "In-memory transaction engine with pluggable concurrency control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindGlobalFlags(root.PersistentFlags())
	root.AddCommand(
		newBenchCommand(ctx),
		newReplayCommand(),
		newShellCommand(),
		newProtocolsCommand(),
	)
	return root
}

func newProtocolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "List the supported concurrency control protocols",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range config.Protocols {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
		},
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	closeDone := make(chan struct{}, 1)
	go func() {
		sig := <-sc
		log.Info("got signal to exit", zap.Stringer("signal", sig))
		cancel()
		select {
		case <-sc:
			os.Exit(1)
		case <-time.After(10 * time.Second):
			log.Warn("wait 10s for closed, force exit")
			os.Exit(1)
		case <-closeDone:
		}
	}()

	err := newRootCommand(ctx).Execute()
	cancel()
	closeDone <- struct{}{}
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.ErrorStack(err))
		os.Exit(1)
	}
}
