package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/h4x3rotab/docker-unpack-bench/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}
	root := &cobra.Command{
		Use:           "unpack-bench",
		Short:         "Benchmark container image unpacking with containerd",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "Config file (yaml, toml or json). Environment variables use the "+config.EnvPrefix+"_ prefix.")
	flags.String("log-level", "info", "Log level: debug, info, warn or error.")
	flags.String("stats-source", config.StatsSourceCLI, "Where resource samples come from: cli (docker stats) or api (Docker Engine API).")
	flags.Bool("live-progress", true, "Show a live readout of the latest sample while unpacking.")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9102. Disabled when empty.")
	flags.String("cpu-limit", "", "CPU limit of the monitored container, recorded in the report.")
	flags.String("memory-limit", "", "Memory limit of the monitored container, recorded in the report.")

	root.AddCommand(newRunCmd(a), newExportCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	err := config.BindFlags(a.v, cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	a.cfg, err = config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}

	level, _ := a.cfg.Level()
	// stdout is reserved for the exported table
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("unpack-bench failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
