// Package cli implements the audit-cli commands: an offline dispute audit over an order export.
package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewRootCmd builds the audit-cli command tree.
func NewRootCmd(logger *zap.Logger, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "audit-cli",
		Short:         "Audit parcel orders for recoverable carrier disputes",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("rules", "", "YAML file with custom recovery rules appended to the defaults")

	rootCmd.AddCommand(runCmd(logger))
	rootCmd.AddCommand(rulesCmd(logger))
	return rootCmd
}
