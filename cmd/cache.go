package cmd

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCacheCommand())
}

func newCacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "evict <subject>...",
		Short: "Drop cached identities so the next request reloads roles and permissions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, logger, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			for _, subject := range args {
				if err := client.Invalidate(cmd.Context(), subject); err != nil {
					return err
				}
				logger.V(1).Info("evicted cached identity", "subject", subject)
			}
			cmd.Printf("Evicted %d cached identit(ies)\n", len(args))
			return nil
		},
	})

	return cacheCmd
}
