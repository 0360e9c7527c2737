package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/dronedispatch/app/plugins"
	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/model"
)

var fleetFile string

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Fleet related commands",
}

var fleetSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Register the drones listed in a YAML file",
	RunE:  runFleetSeed,
}

var fleetLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered drones",
	RunE:  runFleetLs,
}

func init() {
	fleetSeedCmd.Flags().StringVarP(&fleetFile, "file", "f", "fleet.yaml", "fleet definition")
	fleetCmd.AddCommand(fleetSeedCmd, fleetLsCmd)
	rootCmd.AddCommand(fleetCmd)
}

// FleetFile is the YAML layout accepted by "fleet seed".
type FleetFile struct {
	Drones []struct {
		ID string `yaml:"id"`
	} `yaml:"drones"`
}

func loadFleetFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f FleetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	ids := make([]string, 0, len(f.Drones))
	seen := map[string]bool{}
	for i, d := range f.Drones {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return nil, fmt.Errorf("drone #%d has no id", i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("drone %s listed twice", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func seedFleet(ctx context.Context, store fleet.Store, ids []string) error {
	for _, id := range ids {
		if err := store.Register(ctx, id); err != nil {
			return fmt.Errorf("register %s: %w", id, err)
		}
	}
	return nil
}

func printFleet(w io.Writer, drones []model.Drone) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPOSITION\tBATTERY\tREQUEST\tUPDATED")
	for _, d := range drones {
		pos, bat := "-", "-"
		if d.Position != nil {
			pos = d.Position.String()
		}
		if d.Battery != nil {
			bat = fmt.Sprintf("%.1f", *d.Battery)
		}
		req := d.CurrentRequest
		if req == "" {
			req = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.ID, d.Status, pos, bat, req, d.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func openStores(ctx context.Context) (plugins.Stores, error) {
	cfg, err := loadConfig()
	if err != nil {
		return plugins.Stores{}, err
	}
	return plugins.OpenStores(ctx, cfg.Store)
}

func closeStores(cmd *cobra.Command, s plugins.Stores) {
	if s.Close == nil {
		return
	}
	if err := s.Close(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error while closing store: %v\n", err)
	}
}

func runFleetSeed(cmd *cobra.Command, args []string) error {
	ids, err := loadFleetFile(fleetFile)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	stores, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores(cmd, stores)
	if err := seedFleet(ctx, stores.Fleet, ids); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "registered %d drones\n", len(ids))
	return nil
}

func runFleetLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	stores, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores(cmd, stores)
	drones, err := stores.Fleet.List(ctx)
	if err != nil {
		return err
	}
	return printFleet(cmd.OutOrStdout(), drones)
}
