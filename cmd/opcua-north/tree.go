package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/memstore"
	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/observability"
	"github.com/fledge-iot/fledge-north-opcua/internal/app/config"
	"github.com/fledge-iot/fledge-north-opcua/internal/app/control"
	"github.com/fledge-iot/fledge-north-opcua/internal/app/projection"
	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
)

func newTreeCmd() *cobra.Command {
	var (
		cfgPath      string
		readingsPath string
	)
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Project a readings file offline and print the resulting node tree",
		Long: `tree projects the readings in a JSON file (Fledge north format) into an
in-memory address space using the hierarchy and control map of the config,
then prints the tree. Nothing is served.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(readingsPath)
			if err != nil {
				return err
			}
			readings, err := domain.ParseReadings(data)
			if err != nil {
				return err
			}

			logger := observability.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			store, stats, err := projectOffline(cfg, readings, logger)
			if err != nil {
				return err
			}
			printTree(cmd.OutOrStdout(), store)
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d readings, %d nodes, path cache %d (hits %d, misses %d)\n",
				len(readings), store.Count(), stats.Size, stats.Hits, stats.Misses)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", defaultConfig, "Path to configuration file")
	cmd.Flags().StringVarP(&readingsPath, "readings", "r", "", "JSON file holding readings")
	_ = cmd.MarkFlagRequired("readings")
	return cmd
}

func projectOffline(cfg *config.Config, readings []*domain.Reading, logger *slog.Logger) (*memstore.Store, projection.CacheStats, error) {
	obs := observability.NewPromObs(prometheus.NewRegistry(), logger)
	store := memstore.New("Objects")

	engine := projection.New(store, obs, projection.Options{
		Hierarchy:        cfg.Hierarchy,
		RootName:         cfg.Server.Root,
		IncludeAssetName: cfg.Server.IncludeAsset(),
		ParseAssetName:   cfg.Server.ParseAssetName,
	})
	if err := engine.Open(); err != nil {
		return nil, projection.CacheStats{}, err
	}
	if err := control.New(cfg.Control.Map, store, obs).Setup(store.Root(), cfg.Control.Root); err != nil {
		return nil, projection.CacheStats{}, err
	}
	engine.Send(readings)
	return store, engine.CacheStats(), nil
}

func printTree(w io.Writer, store *memstore.Store) {
	folder := color.New(color.FgCyan, color.Bold)
	name := color.New(color.FgGreen)
	kind := color.New(color.FgYellow)

	store.Walk(func(n memstore.NodeInfo) {
		indent := strings.Repeat("  ", n.Depth)
		if n.Container {
			folder.Fprintf(w, "%s%s/\n", indent, n.Name)
			return
		}
		fmt.Fprint(w, indent)
		name.Fprint(w, n.Name)
		kind.Fprintf(w, " (%s)", n.Value.Kind())
		fmt.Fprintf(w, " = %s\n", domain.Render(n.Value))
	})
}
