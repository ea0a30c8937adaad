package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Samijain03/Collab-X/internal/config"
	"github.com/Samijain03/Collab-X/internal/logging"
)

// app is the state shared by every command once flags are parsed.
type app struct {
	configFile string
	v          *viper.Viper
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:          "collabx",
		Short:        "Collaborative workspace hub and client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.v = config.NewViper(a.configFile)
			for _, name := range []string{"log_level", "log_format", "server_url", "token"} {
				if f := cmd.Flags().Lookup(flagName(name)); f != nil {
					if err := a.v.BindPFlag(name, f); err != nil {
						return err
					}
				}
			}
			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg

			if err := logging.Init(logging.Config{
				Level:      cfg.LogLevel,
				Format:     cfg.LogFormat,
				OutputPath: "stderr",
			}); err != nil {
				return fmt.Errorf("logging init: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logging.Sync()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (YAML)")
	pf.String(flagName("log_level"), "", "log level: debug, info, warn, error")
	pf.String(flagName("log_format"), "", "log format: json or console")
	pf.String(flagName("server_url"), "", "hub URL, e.g. ws://localhost:8000")
	pf.String(flagName("token"), "", "identity token")

	cmd.AddCommand(
		newServeCmd(a),
		newOpenCmd(a),
		newTokenCmd(a),
		newExportCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// flagName maps a config key to its flag, log_level to log-level.
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}
