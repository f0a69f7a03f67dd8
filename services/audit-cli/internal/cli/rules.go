package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/nimeshabuddhika/parcel-recovery/pkg/rules"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func rulesCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the loaded recovery rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("rules")
			ruleSet, err := loadRules(logger, path)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRIORITY\tSUCCESS\tNAME\tLEGAL BASIS")
			for _, r := range ruleSet {
				fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%s\t%s\n", r.ID, r.Priority, r.SuccessRate*100, r.Name, r.LegalBasis)
			}
			return w.Flush()
		},
	}
}

func loadRules(logger *zap.Logger, path string) (rules.RuleSet, error) {
	ruleSet := rules.Default()
	if path == "" {
		return ruleSet, nil
	}
	ruleSet, err := rules.LoadFile(logger, ruleSet, path)
	if err != nil {
		return nil, fmt.Errorf("load rules %s: %w", path, err)
	}
	logger.Info("custom rules loaded", zap.String("file", path), zap.Int("rules", len(ruleSet)))
	return ruleSet, nil
}
