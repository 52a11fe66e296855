package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/promessa/internal/model"
	"github.com/ppiankov/promessa/internal/pipeline"
	"github.com/ppiankov/promessa/internal/queue"
)

var (
	outJSON       string
	outMD         string
	timeout       time.Duration
	noFooter      bool
	office        string
	state         string
	city          string
	ibgeCode      string
	party         string
	legislativeID string
	authorName    string
	category      string
	existingID    string
	deepSearch    bool
	lenient       bool
	statement     string
	dispatch      bool
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <name>",
	Short: "Score the viability of a public figure's promises",
	Long: `Analyze collects evidence about a public figure and scores the
viability of their promises:
- Query official registries for the target's jurisdiction
- Search the web, news feeds and official gazettes
- Filter the evidence for relevance
- Cross-check promises against votes and budget execution
- Produce a 0-100 score with a factor breakdown

Example:
  promessa analyze "Ana Lima" --office Prefeita --state SP --city Campinas
  promessa analyze "Bruno Souza" --office "Deputado Federal" --state RJ --deep --md report.md
  promessa analyze "Ana Lima" --text "Vou construir 10 escolas até 2027"
  promessa analyze "Ana Lima" --dispatch`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	// Target flags
	analyzeCmd.Flags().StringVar(&office, "office", "", "office held or sought (e.g. Prefeito, Deputado Federal)")
	analyzeCmd.Flags().StringVar(&state, "state", "", "state abbreviation (UF), e.g. SP")
	analyzeCmd.Flags().StringVar(&city, "city", "", "city, for municipal targets")
	analyzeCmd.Flags().StringVar(&ibgeCode, "ibge", "", "IBGE municipality code")
	analyzeCmd.Flags().StringVar(&party, "party", "", "party abbreviation")
	analyzeCmd.Flags().StringVar(&legislativeID, "legislative-id", "", "Câmara deputy id (resolved by name when empty)")

	// Analysis flags
	analyzeCmd.Flags().StringVar(&authorName, "author", "", "author name for history lookups (default: target name)")
	analyzeCmd.Flags().StringVar(&category, "category", "", "policy category (EDUCATION, HEALTH, ...); detected when empty")
	analyzeCmd.Flags().StringVar(&existingID, "existing-id", "", "overwrite an existing analysis")
	analyzeCmd.Flags().BoolVar(&deepSearch, "deep", false, "always run the second collection phase")
	analyzeCmd.Flags().BoolVar(&lenient, "lenient", false, "lenient relevance filtering")
	analyzeCmd.Flags().StringVar(&statement, "text", "", "analyse this statement instead of collecting evidence")
	analyzeCmd.Flags().BoolVar(&dispatch, "dispatch", false, "route through the job dispatcher (async when a queue is configured)")

	// Output flags
	analyzeCmd.Flags().StringVar(&outJSON, "json", "", "output JSON path (optional)")
	analyzeCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path (optional)")
	analyzeCmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")
	analyzeCmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "overall analysis timeout")
}

func buildRequest(name string) model.AnalysisRequest {
	req := model.AnalysisRequest{
		Target: model.Target{
			Name:          name,
			Office:        office,
			State:         state,
			City:          city,
			IBGECode:      ibgeCode,
			Party:         party,
			LegislativeID: legislativeID,
		},
		AuthorName:         authorName,
		ExistingAnalysisID: existingID,
		DeepSearch:         deepSearch,
		Lenient:            lenient,
		Text:               statement,
	}
	if category != "" {
		req.Category = model.ParseCategory(category)
	}
	return req
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	req := buildRequest(args[0])
	if verbose {
		fmt.Fprintf(os.Stderr, "Analysing: %s\n", req.Target.Name)
		fmt.Fprintf(os.Stderr, "Timeout: %v\n", timeout)
		fmt.Fprintf(os.Stderr, "LLM: %s\n", displayProvider(cfg.LLM.Provider))
		fmt.Fprintln(os.Stderr)
	}

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	var result *model.ScoreResult
	if dispatch {
		d, err := a.dispatcher.Dispatch(ctx, req)
		var timeoutErr *queue.ErrTimeoutSync
		if errors.As(err, &timeoutErr) {
			return fmt.Errorf("%s: %w (job %s recorded as failed)", timeoutErr.Code(), err, timeoutErr.JobID)
		}
		if err != nil {
			return describeFailure(err)
		}
		if d.Async {
			fmt.Printf("✓ Job queued: %s\n", d.JobID)
			fmt.Printf("\nCheck progress with:\n  promessa status %s\n\n", d.JobID)
			return nil
		}
		result = d.Status.Result
	} else {
		result, err = a.analyzer.RunAnalysis(ctx, req)
		if err != nil {
			return describeFailure(err)
		}
	}

	return renderResult(req.Target, result)
}

func describeFailure(err error) error {
	if errors.Is(err, pipeline.ErrInsufficientData) {
		return fmt.Errorf("no evidence found; try --deep, --lenient, or add --office/--state/--city: %w", err)
	}
	return fmt.Errorf("analysis failed: %w", err)
}

func renderResult(target model.Target, result *model.ScoreResult) error {
	if result == nil {
		return errors.New("analysis produced no result")
	}
	renderer := pipeline.NewRenderer(os.Stdout, !noFooter)
	report := pipeline.NewReport(target, result)

	if outJSON != "" {
		if err := renderer.RenderJSON(report, outJSON); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote JSON: %s\n", outJSON)
		}
	}
	if outMD != "" {
		if err := renderer.RenderMarkdown(report, outMD); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote Markdown: %s\n", outMD)
		}
	}

	renderer.RenderSummary(report)
	return nil
}

func displayProvider(p string) string {
	if p == "" {
		return "disabled (local heuristics)"
	}
	return p
}
