package detection

import (
	"strings"
	"text/template"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const reportTemplate = `{{rule "="}}
  AUDIT REPORT - CARRIER RECOVERY POTENTIAL
{{rule "="}}

OVERVIEW
{{rule "-"}}
   Orders analyzed: {{count .Overview.TotalOrders}}
   Orders with disputes: {{count .Overview.DisputedOrders}} ({{pct .Overview.DisputeRate}}%)
{{- if .Overview.SkippedOrders}}
   Orders skipped (invalid): {{count .Overview.SkippedOrders}}
{{- end}}
   Total recoverable: {{money .Overview.TotalRecoverable}}
   Average per dispute: {{money .Overview.AvgPerDispute}}
{{with .PriorityRows}}
BY PRIORITY
{{rule "-"}}
{{- range .}}
   [{{.Priority}}] {{.Count}} cases -> {{money .TotalRecoverable}} (expected: {{money .ExpectedRecovery}})
{{- end}}
{{end}}
{{- with .CarrierRows}}
BY CARRIER
{{rule "-"}}
{{- range .}}
   {{.Carrier}}: {{.DisputedOrders}} disputes -> {{money .TotalRecoverable}}
{{- end}}
{{end}}
{{- with .RuleRows}}
BY DISPUTE TYPE
{{rule "-"}}
{{- range .}}
   {{.RuleName}}:
      - Cases detected: {{.Count}}
      - Recoverable amount: {{money .TotalRecoverable}}
      - Expected recovery: {{money .ExpectedRecovery}}
{{- end}}
{{end}}
ROI PROJECTION (SUCCESS FEE {{rate .ROI.SuccessFeeRate}}%)
{{rule "-"}}
   Optimistic scenario (100% recovery): {{money .ROI.TotalRecoverableOptimistic}}
   Realistic scenario (predicted success rates): {{money .ROI.TotalRecoverableRealistic}}
   Success fee ({{rate .ROI.SuccessFeeRate}}%): {{money .ROI.SuccessFee}}
   Automated processing cost: {{money .ROI.TotalProcessingCost}}
   Estimated net profit: {{money .ROI.NetProfit}}

HUMAN vs AUTOMATED PROCESSING
{{rule "-"}}
   Human processing cost: {{money .ROI.HumanProcessingCost}} ({{.Overview.DisputedOrders}} cases x {{money .ROI.HumanCostPerCase}})
   Automated processing cost: {{money .ROI.TotalProcessingCost}} ({{.Overview.DisputedOrders}} cases x {{money .ROI.CostPerCase}})
   Operational savings: {{money .ROI.OperationalSavings}} ({{pct1 .ROI.SavingsPercent}}%)

{{rule "="}}
CONCLUSION: money left on the table is recoverable through automation
{{rule "="}}
`

const reportWidth = 80

var printer = message.NewPrinter(language.English)

var reportTmpl = template.Must(template.New("audit").Funcs(template.FuncMap{
	"rule":  func(ch string) string { return strings.Repeat(ch, reportWidth) },
	"money": func(v float64) string { return printer.Sprintf("%.2f €", v) },
	"count": func(n int) string { return printer.Sprintf("%d", n) },
	"pct":   func(v float64) string { return printer.Sprintf("%.2f", v) },
	"pct1":  func(v float64) string { return printer.Sprintf("%.1f", v) },
	"rate":  func(v float64) string { return printer.Sprintf("%.0f", v*100) },
}).Parse(reportTemplate))

// RenderReport formats statistics as the plain-text audit report.
func RenderReport(stats Statistics) (string, error) {
	var b strings.Builder
	if err := reportTmpl.Execute(&b, stats); err != nil {
		return "", err
	}
	return b.String(), nil
}
