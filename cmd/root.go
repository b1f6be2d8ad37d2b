package cmd

import (
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/porthorian/openguard"
)

var BuildVersion = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:          "openguard",
	Short:        "OpenGuard CLI",
	Long:         "CLI for OpenGuard token, identity cache, storage and demo server operations.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file. Can also be set via OPENGUARD_CONFIG.")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of OpenGuard CLI",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
}

func Execute() error {
	return rootCmd.Execute()
}

// setup loads configuration and the logger shared by every subcommand.
func setup(cmd *cobra.Command) (config, logr.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return config{}, logr.Discard(), err
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return config{}, logr.Discard(), err
	}
	return cfg, logger.WithName("openguard"), nil
}

func newClient(cmd *cobra.Command) (*openguard.Client, config, logr.Logger, error) {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return nil, config{}, logger, err
	}
	client, err := openguard.New(cfg.clientConfig(logger))
	if err != nil {
		return nil, config{}, logger, err
	}
	return client, cfg, logger, nil
}
