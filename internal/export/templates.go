package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"deref": func(f *float64) float64 {
		if f == nil {
			return 0
		}
		return *f
	},
}).Parse(reportTemplateHTML))

// RenderReportHTML renders the decision report template.
func RenderReportHTML(report Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .decision { padding: 0.5rem 1rem; border-left: 4px solid #333; background: #f5f5f5; margin: 1rem 0; }
    .decision.advance { border-color: #2d7d46; }
    .decision.block { border-color: #b33636; }
    .decision.needs_info { border-color: #b38a36; }
    table { border-collapse: collapse; width: 100%; margin: 1rem 0; }
    th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; font-size: 0.9em; }
    th { background: #f0f0f0; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">
    Coop {{.CoopID}} | Proposal {{.ProposalID}} | {{.Category}} |
    {{printf "%.2f" .BudgetAmount}} {{.BudgetCurrency}} |
    Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04 MST"}}
  </div>
  {{if .Summary}}<p>{{.Summary}}</p>{{end}}

  <div class="decision {{lower .Decision}}">
    <strong>Status:</strong> {{.Status}} &nbsp;
    <strong>Decision:</strong> {{.Decision}} &nbsp;
    <strong>Composite:</strong> {{printf "%.2f" .CompositeScore}}
    (mission {{printf "%.2f" .MissionScore}}, structural {{printf "%.2f" .StructuralScore}})
    {{if .CouncilRequired}}<br><strong>Council vote required</strong>
    — FOR {{.VotesFor}} / AGAINST {{.VotesAgainst}} / ABSTAIN {{.VotesAbstain}}{{end}}
  </div>

  {{if .DecisionReasons}}
  <h2>Reasons</h2>
  <ul>{{range .DecisionReasons}}<li>{{.}}</li>{{end}}</ul>
  {{end}}

  {{if .GoalScores}}
  <h2>Goal Scores (latest revision)</h2>
  <table>
    <tr><th>Goal</th><th>Domain</th><th>AI Score</th><th>Expert Score</th><th>Expert Note</th></tr>
    {{range .GoalScores}}
    <tr>
      <td>{{.GoalID}}</td>
      <td>{{.Domain}}</td>
      <td>{{printf "%.2f" .AIScore}}</td>
      <td>{{if .ExpertScore}}{{printf "%.2f" (deref .ExpertScore)}}{{else}}&mdash;{{end}}</td>
      <td>{{.ExpertNote}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}

  {{if .Revisions}}
  <h2>Revision History</h2>
  <table>
    <tr><th>#</th><th>Decision</th><th>Composite</th><th>Config Version</th><th>Engine</th><th>Submitted</th></tr>
    {{range .Revisions}}
    <tr>
      <td>{{.Number}}</td>
      <td>{{.Decision}}</td>
      <td>{{printf "%.2f" .Composite}}</td>
      <td>{{.ConfigVersion}}</td>
      <td>{{.EngineVersion}}</td>
      <td>{{formatDate .SubmittedAt "Jan 2, 2006"}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}
</body>
</html>`
