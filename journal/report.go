package journal

import (
	"io"
	"os"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
)

// RunReport summarises one simulation run.
type RunReport struct {
	RunID   string
	Created time.Time
	Script  string
	Start   time.Time
	End     time.Time

	Fills       int
	Settlements int
	MarginCalls int
	Liquidated  int

	Accounts []AccountSummary

	Notes []string
}

type AccountSummary struct {
	Account    string
	Equity     decimal.Decimal
	Variation  decimal.Decimal
	MarginUsed decimal.Decimal
	Realized   decimal.Decimal
	State      string
}

var reportFuncs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
}

var reportTemplate = template.Must(template.New("run").Funcs(reportFuncs).Parse(RunOrgTemplate))

// WriteOrg renders the report as an Org document.
func (r *RunReport) WriteOrg(w io.Writer) error {
	return reportTemplate.Execute(w, r)
}

func (r *RunReport) WriteOrgFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.WriteOrg(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

const RunOrgTemplate = `* RUN: {{if .Script}}{{.Script}}{{else}}(no script){{end}}
:PROPERTIES:
:RUN_ID:      {{if .RunID}}{{.RunID}}{{else}}(run-id?){{end}}
:START:       {{.Start.Format "2006-01-02 15:04"}}
:END:         {{.End.Format "2006-01-02 15:04"}}
:FILLS:       {{.Fills}}
:SETTLEMENTS: {{.Settlements}}
:CALLS:       {{.MarginCalls}}
:LIQUIDATED:  {{.Liquidated}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Accounts
| Account | State | Equity | Variation | Margin Used | Realized |
|---------+-------+--------+-----------+-------------+----------|
{{- range .Accounts }}
| {{.Account}} | {{.State}} | {{money .Equity}} | {{money .Variation}} | {{money .MarginUsed}} | {{money .Realized}} |
{{- end }}

{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`
