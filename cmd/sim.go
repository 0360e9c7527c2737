package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/infra/logger"
	"github.com/kilianp07/dronedispatch/simulator"
)

var (
	simCfg  simulator.Config
	simHome string
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run simulated drones against the configured broker",
	RunE:  runSim,
}

func init() {
	f := simCmd.Flags()
	f.IntVar(&simCfg.Count, "count", 3, "number of drones")
	f.StringVar(&simCfg.IDPrefix, "prefix", "drone", "drone id prefix")
	f.DurationVar(&simCfg.Interval, "interval", 0, "status report interval")
	f.Float64Var(&simCfg.SpeedMPS, "speed", 0, "cruise speed in m/s")
	f.StringVar(&simHome, "home", "48.8566,2.3522", "fleet base as lat,long")
	f.Float64Var(&simCfg.SpreadMeters, "spread", 0, "start radius around home in metres")
	f.DurationVar(&simCfg.AcceptDelay, "accept-delay", 0, "delay before taking a command")
	f.Float64Var(&simCfg.DropRate, "drop-rate", 0, "probability of ignoring a command")
	f.Float64Var(&simCfg.DisconnectRate, "disconnect-rate", 0, "probability per report of going offline")
	f.Int64Var(&simCfg.Seed, "seed", 0, "random seed")
	rootCmd.AddCommand(simCmd)
}

func runSim(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return err
	}
	home, err := geo.ParseLatLong(simHome)
	if err != nil {
		return fmt.Errorf("home: %w", err)
	}
	sc := simCfg
	sc.Home = home
	return simulator.Run(ctx, sc, simulator.PahoConnector(cfg.MQTT), logger.New("simulator"))
}
