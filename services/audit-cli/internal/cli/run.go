package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nimeshabuddhika/parcel-recovery/pkg/detection"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/prediction"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Output file names written into --out.
const (
	AnalysisFile   = "dispute_analysis.csv"
	StatisticsFile = "dispute_statistics.json"
	ReportFile     = "audit_report.txt"
)

type runOptions struct {
	orders            string
	out               string
	workers           int
	predictorEndpoint string
	predictorTimeout  time.Duration
	roi               detection.ROIConfig
}

func runCmd(logger *zap.Logger) *cobra.Command {
	opts := runOptions{roi: detection.DefaultROIConfig()}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Analyze an order CSV and write results, statistics and the audit report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("rules")
			ruleSet, err := loadRules(logger, path)
			if err != nil {
				return err
			}

			var predictor prediction.Predictor
			if opts.predictorEndpoint != "" {
				predictor = prediction.NewHTTPPredictor(prediction.HTTPPredictorConfig{
					Logger:        logger,
					Endpoint:      opts.predictorEndpoint,
					ClientOptions: []utils.ClientOption{utils.WithClientTimeout(opts.predictorTimeout)},
				})
			}
			engine := detection.NewEngine(detection.EngineConfig{
				Logger:    logger,
				Rules:     ruleSet,
				Predictor: predictor,
				ROI:       opts.roi,
				Workers:   opts.workers,
			})

			report, err := runAudit(cmd, logger, engine, opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), report)
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.orders, "orders", "i", "", "order export CSV")
	cmd.Flags().StringVarP(&opts.out, "out", "o", ".", "output directory")
	cmd.Flags().IntVar(&opts.workers, "workers", 4, "concurrent order evaluations")
	cmd.Flags().StringVar(&opts.predictorEndpoint, "predictor-endpoint", "", "remote success predictor; coefficients are used when empty")
	cmd.Flags().DurationVar(&opts.predictorTimeout, "predictor-timeout", 2*time.Second, "remote predictor timeout")
	cmd.Flags().Float64Var(&opts.roi.SuccessFeeRate, "fee-rate", opts.roi.SuccessFeeRate, "success fee rate")
	cmd.Flags().Float64Var(&opts.roi.CostPerCase, "cost-per-case", opts.roi.CostPerCase, "automated cost per case")
	cmd.Flags().Float64Var(&opts.roi.HumanCostPerCase, "human-cost-per-case", opts.roi.HumanCostPerCase, "manual handling cost per case")
	_ = cmd.MarkFlagRequired("orders")
	return cmd
}

func runAudit(cmd *cobra.Command, logger *zap.Logger, engine *detection.Engine, opts runOptions) (string, error) {
	f, err := os.Open(opts.orders)
	if err != nil {
		return "", fmt.Errorf("open orders: %w", err)
	}
	defer f.Close()

	orders, rowErrs, err := detection.ReadOrdersCSV(f)
	if err != nil {
		return "", err
	}
	for _, re := range rowErrs {
		logger.Warn("order row skipped", zap.Int("line", re.Line), zap.Error(re.Err))
	}
	if len(orders) == 0 {
		return "", errors.New("no orders to analyze")
	}

	batch, err := engine.ProcessDataset(cmd.Context(), orders)
	if err != nil {
		return "", err
	}
	if len(rowErrs) > 0 {
		// unparseable rows are skipped orders too
		batch.Statistics = detection.ComputeStatistics(batch.Results, len(batch.Skipped)+len(rowErrs), engine.ROI())
	}
	report, err := detection.RenderReport(batch.Statistics)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(opts.out, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if err := writeAnalysis(filepath.Join(opts.out, AnalysisFile), batch.Results); err != nil {
		return "", err
	}
	stats, err := json.MarshalIndent(batch.Statistics, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode statistics: %w", err)
	}
	if err := os.WriteFile(filepath.Join(opts.out, StatisticsFile), stats, 0o644); err != nil {
		return "", fmt.Errorf("write statistics: %w", err)
	}
	if err := os.WriteFile(filepath.Join(opts.out, ReportFile), []byte(report), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	logger.Info("audit complete",
		zap.Int("orders", len(orders)),
		zap.Int("rowErrors", len(rowErrs)),
		zap.Int("disputed", batch.Statistics.Overview.DisputedOrders),
		zap.Float64("recoverable", batch.Statistics.Overview.TotalRecoverable),
		zap.String("out", opts.out))
	return report, nil
}

func writeAnalysis(path string, results []detection.Dispute) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create analysis: %w", err)
	}
	if err := detection.WriteResultsCSV(f, results); err != nil {
		_ = f.Close()
		return fmt.Errorf("write analysis: %w", err)
	}
	return f.Close()
}
