package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/promessa/internal/model"
)

// Report is the rendered form of one analysis
type Report struct {
	Target      model.Target       `json:"target"`
	GeneratedAt time.Time          `json:"generated_at"`
	Result      *model.ScoreResult `json:"result"`
}

// NewReport stamps a result with its target
func NewReport(target model.Target, result *model.ScoreResult) *Report {
	return &Report{Target: target, GeneratedAt: time.Now().UTC(), Result: result}
}

// Renderer writes reports to files and a summary to the terminal
type Renderer struct {
	out           io.Writer
	includeFooter bool
}

// NewRenderer creates a renderer printing summaries to out
func NewRenderer(out io.Writer, includeFooter bool) *Renderer {
	if out == nil {
		out = os.Stdout
	}
	return &Renderer{out: out, includeFooter: includeFooter}
}

// RenderJSON writes the report as indented JSON
func (r *Renderer) RenderJSON(report *Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// RenderMarkdown writes the report as Markdown
func (r *Renderer) RenderMarkdown(report *Report, path string) error {
	if err := os.WriteFile(path, []byte(r.Markdown(report)), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Markdown renders the report body
func (r *Renderer) Markdown(report *Report) string {
	res := report.Result
	var b strings.Builder

	fmt.Fprintf(&b, "# Promise viability: %s\n\n", report.Target.Name)
	if where := describeTarget(report.Target); where != "" {
		fmt.Fprintf(&b, "%s\n\n", where)
	}

	b.WriteString("| Score | Risk | Confidence | Analysis |\n|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %.1f/100 | %s | %.2f | `%s` |\n\n", res.Score, res.RiskLevel, res.Confidence, res.AnalysisID)

	b.WriteString("## Factors\n\n| Factor | Value |\n|---|---|\n")
	for _, f := range factorRows(res.Factors) {
		fmt.Fprintf(&b, "| %s | %.2f |\n", f.name, f.value)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Promises (%d)\n\n", len(res.Promises))
	if len(res.Promises) == 0 {
		b.WriteString("No promises were found in the evidence.\n\n")
	}
	for i, p := range res.Promises {
		fmt.Fprintf(&b, "%d. **%s** (%s, confidence %.2f", i+1, p.Text, p.Category, p.Confidence)
		if p.Conditional {
			b.WriteString(", conditional")
		}
		if p.Negated {
			b.WriteString(", negated")
		}
		b.WriteString(")\n")
		if p.SourceName != "" {
			fmt.Fprintf(&b, "   - Source: %s\n", p.SourceName)
		}
		if inc := p.LegislativeIncoherence; inc != nil {
			fmt.Fprintf(&b, "   - ⚠ %s", inc.Text)
			if inc.SourceURL != "" {
				fmt.Fprintf(&b, " ([vote](%s))", inc.SourceURL)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	if bv := res.Budget; bv != nil {
		b.WriteString("## Budget\n\n")
		fmt.Fprintf(&b, "- Category: %s\n- Viable: %t (confidence %.2f, %s data)\n- %s\n\n", bv.Category, bv.Viable, bv.Confidence, bv.Source, bv.Reason)
	}

	if len(res.Signals) > 0 {
		b.WriteString("## Signals\n\n")
		for _, s := range res.Signals {
			fmt.Fprintf(&b, "- **%s** [%s]: %s\n", s.Type, s.Severity, s.Description)
			if len(s.Data) > 0 {
				fmt.Fprintf(&b, "  - %s\n", formatData(s.Data))
			}
		}
		b.WriteString("\n")
	}

	if r.includeFooter {
		fmt.Fprintf(&b, "---\n\n_Generated by promessa at %s. The score measures viability, not truth._\n",
			report.GeneratedAt.Format(time.RFC3339))
	}
	return b.String()
}

// RenderSummary prints a one-screen summary
func (r *Renderer) RenderSummary(report *Report) {
	res := report.Result
	contradicted := 0
	for _, p := range res.Promises {
		if p.LegislativeIncoherence != nil {
			contradicted++
		}
	}

	fmt.Fprintf(r.out, "\n═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(r.out, "  Promise viability: %s\n", report.Target.Name)
	fmt.Fprintf(r.out, "═══════════════════════════════════════════════════════════\n\n")
	fmt.Fprintf(r.out, "  Score:        %.1f/100 (%s risk)\n", res.Score, res.RiskLevel)
	fmt.Fprintf(r.out, "  Confidence:   %.2f\n", res.Confidence)
	fmt.Fprintf(r.out, "  Promises:     %d (%d contradicted by votes)\n", len(res.Promises), contradicted)
	if res.Budget != nil {
		fmt.Fprintf(r.out, "  Budget:       %s viable=%t (%s)\n", res.Budget.Category, res.Budget.Viable, res.Budget.Source)
	}
	fmt.Fprintf(r.out, "\n")
	for _, f := range factorRows(res.Factors) {
		fmt.Fprintf(r.out, "  %-24s %.2f\n", f.name, f.value)
	}
	if res.AnalysisID != "" {
		fmt.Fprintf(r.out, "\n  Analysis ID:  %s\n", res.AnalysisID)
	}
	fmt.Fprintf(r.out, "\n")
}

type factorRow struct {
	name  string
	value float64
}

func factorRows(f model.FactorSet) []factorRow {
	return []factorRow{
		{"Promise specificity", f.PromiseSpecificity},
		{"Historical compliance", f.HistoricalCompliance},
		{"Budgetary feasibility", f.BudgetaryFeasibility},
		{"Timeline feasibility", f.TimelineFeasibility},
		{"Author track", f.AuthorTrack},
	}
}

func describeTarget(t model.Target) string {
	var parts []string
	for _, p := range []string{t.Office, t.City, t.State, t.Party} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " · ")
}

func formatData(data map[string]interface{}) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, ", ")
}
