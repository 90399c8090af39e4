// Command opcua-north serves readings as an OPC UA node tree.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	uanorth "github.com/fledge-iot/fledge-north-opcua"
)

const defaultConfig = "./data/config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "opcua-north",
		Short: "Project readings onto an OPC UA address space",
		Long: `opcua-north hosts an OPC UA server and projects incoming readings onto a
node tree shaped by a configurable hierarchy. Writable control nodes forward
client writes back to the caller.`,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newValidateCmd(), newStatsCmd(), newTreeCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the runtime using the provided config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := uanorth.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return rt.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", defaultConfig, "Path to configuration file")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without starting the runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := uanorth.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			yellow := color.New(color.FgYellow)
			for _, n := range cfg.Notices {
				yellow.Fprintf(out, "  note: %s\n", n)
			}
			color.New(color.FgGreen).Fprintf(out, "config %s looks good\n", cfgPath)
			fmt.Fprintf(out, "  server     %s (%s)\n", cfg.Server.URL, cfg.Server.Name)
			fmt.Fprintf(out, "  hierarchy  %d root level(s), depth %d\n", len(cfg.Hierarchy), cfg.Hierarchy.Depth())
			fmt.Fprintf(out, "  controls   %d under %q\n", len(cfg.Control.Map), cfg.Control.Root)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", defaultConfig, "Path to configuration file to validate")
	return cmd
}
