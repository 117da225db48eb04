package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"admission-gateway/middleware/ratelimit/presets"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := newViper()
	var cfgFile string

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Reverse proxy with fixed-window admission control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (routes, presets_file, ...)")
	root.PersistentFlags().String("presets", "", "YAML file overriding or adding presets (PRESETS_FILE)")
	_ = v.BindPFlag("presets_file", root.PersistentFlags().Lookup("presets"))

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Proxy requests to UPSTREAM_URL enforcing the configured presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cfgFile)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}

			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			gw, err := newGateway(cmd.Context(), cfg, logger, nil)
			if err != nil {
				logger.Error("gateway setup failed", zap.Error(err))
				return err
			}
			return gw.run(cmd.Context())
		},
	}
	serve.Flags().String("listen", "", "listen address (LISTEN_ADDR)")
	serve.Flags().String("upstream", "", "upstream base URL (UPSTREAM_URL)")
	serve.Flags().String("preset", "", "default preset (RATE_PRESET)")
	_ = v.BindPFlag("listen_addr", serve.Flags().Lookup("listen"))
	_ = v.BindPFlag("upstream_url", serve.Flags().Lookup("upstream"))
	_ = v.BindPFlag("rate_preset", serve.Flags().Lookup("preset"))

	list := &cobra.Command{
		Use:   "presets",
		Short: "Print the effective preset table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config file: %w", err)
				}
			}

			reg := presets.NewRegistry()
			if f := v.GetString("presets_file"); f != "" {
				if err := reg.LoadFile(f); err != nil {
					return err
				}
			}
			return printPresets(cmd, reg)
		},
	}

	root.AddCommand(serve, list)
	return root
}

func printPresets(cmd *cobra.Command, reg *presets.Registry) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMAX REQUESTS\tWINDOW")
	for _, name := range reg.Names() {
		q := reg.MustGet(name)
		fmt.Fprintf(tw, "%s\t%d\t%s\n", name, q.MaxRequests, q.Window())
	}
	return tw.Flush()
}
