package services

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/nimeshabuddhika/parcel-recovery/pkg/detection"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/prediction"
)

const letterHeader = `{{define "header"}}Subject: {{.Subject}} - parcel {{.Handle}}
Claim reference: {{.Reference}}
Date: {{.Date}}

Dear Sir or Madam,
{{end}}`

const letterFooter = `{{define "footer"}}
Total amount claimed: {{money .Dispute.TotalRecoverable}}
{{range .Dispute.Matches}}
 - {{.RuleName}}: {{money .RecoverableAmount}} ({{.LegalBasis}})
{{- end}}

We request payment of the full amount within 15 days. Supporting documents (shipping
receipt, tracking history, invoice) are available on request.

Yours faithfully,
{{.Sender}}
{{- with .Dispute.ClientEmail}}
{{.}}
{{- end}}
{{end}}`

var letterBodies = map[string]string{
	prediction.CategoryLateDelivery: `{{template "header" .}}
We are writing about parcel {{.Handle}} (order {{.Dispute.OrderID}}) shipped with {{.Dispute.Carrier}}.
{{- with .Expected}}
Under your service commitment the parcel was due on {{.}}.
{{- end}}
It was delivered {{.Dispute.DelayDays}} day(s) after the guaranteed date, which entitles us to
a refund of the shipping charges.
{{template "footer" .}}`,

	prediction.CategoryLost: `{{template "header" .}}
Parcel {{.Handle}} (order {{.Dispute.OrderID}}) entrusted to {{.Dispute.Carrier}} has not been
delivered and is recorded as lost. As the carrier is liable for goods in its custody, we
request reimbursement of the value of the goods and the shipping charges.
{{template "footer" .}}`,

	prediction.CategoryInvalidPOD: `{{template "header" .}}
Parcel {{.Handle}} (order {{.Dispute.OrderID}}) is shown as delivered by {{.Dispute.Carrier}}, yet
{{with .Dispute.RecipientName}}the recipient ({{.}}){{else}}the recipient{{end}} never received it.
The proof of delivery provided does not establish a valid delivery.
{{- if .Anomalies}}
The following anomalies were found in the proof of delivery:
{{- range .Anomalies}}
 - {{.}}
{{- end}}
{{- end}}
We ask you to locate the parcel or, failing that, to reimburse the amount below.
{{template "footer" .}}`,

	"default": `{{template "header" .}}
We are submitting a claim for parcel {{.Handle}} (order {{.Dispute.OrderID}}) shipped with
{{.Dispute.Carrier}} on the grounds listed below.
{{template "footer" .}}`,
}

var letterSubjects = map[string]string{
	prediction.CategoryLateDelivery: "Claim for late delivery",
	prediction.CategoryLost:         "Claim for lost parcel",
	prediction.CategoryInvalidPOD:   "Dispute of proof of delivery",
	"default":                       "Carrier claim",
}

type letterData struct {
	Subject   string
	Handle    string
	Reference string
	Date      string
	Expected  string
	Sender    string
	Anomalies []string
	Dispute   detection.Dispute
}

// ClaimGenerator renders carrier-facing claim letters. It is pure: same input, same text.
type ClaimGenerator struct {
	templates map[string]*template.Template
}

func NewClaimGenerator() *ClaimGenerator {
	funcs := template.FuncMap{
		"money": func(v float64) string { return fmt.Sprintf("%.2f €", v) },
	}
	g := &ClaimGenerator{templates: make(map[string]*template.Template, len(letterBodies))}
	for category, body := range letterBodies {
		t := template.Must(template.New(category).Funcs(funcs).Parse(letterHeader + letterFooter + body))
		g.templates[category] = t
	}
	return g
}

// Generate writes the letter for the dispute's primary rule. Evidence anomalies are cited
// when an evidence report is available.
func (g *ClaimGenerator) Generate(d detection.Dispute, reference string, evidence *EvidenceReport, now time.Time) (string, error) {
	category := prediction.Category(d.DisputeType())
	t, ok := g.templates[category]
	if !ok {
		category = "default"
		t = g.templates[category]
	}

	data := letterData{
		Subject:   letterSubjects[category],
		Handle:    d.TrackingNumber,
		Reference: reference,
		Date:      now.Format("2006-01-02"),
		Sender:    d.ClientName,
		Dispute:   d,
	}
	if data.Handle == "" {
		data.Handle = d.OrderID
	}
	if data.Sender == "" {
		data.Sender = "Claims department"
	}
	if d.ExpectedDeliveryDate != nil {
		data.Expected = d.ExpectedDeliveryDate.Format("2006-01-02")
	}
	if evidence != nil {
		data.Anomalies = evidence.Anomalies
	}

	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render claim letter for %s: %w", d.OrderID, err)
	}
	return sb.String(), nil
}
