package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/promessa/internal/extract"
	"github.com/ppiankov/promessa/internal/pipeline"
	"github.com/ppiankov/promessa/internal/worker"
)

var (
	concurrency   int
	outputDir     string
	batchTimeout  time.Duration
	targetTimeout time.Duration
	batchDeep     bool
	batchLenient  bool
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Analyse many targets from a file in parallel",
	Long: `Batch analyses multiple public figures concurrently:
- Read targets from the input file, one per line as name|office|state|city
- Skip blank lines and # comments, drop repeated targets
- Analyse targets in parallel with a configurable worker count
- Write a JSON and a Markdown report per target

Example:
  promessa batch targets.txt
  promessa batch targets.txt --concurrency 4 --output-dir ./reports
  promessa batch targets.txt --deep --target-timeout 5m`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", min(runtime.NumCPU(), 4), "number of concurrent analyses")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./promessa-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().DurationVar(&targetTimeout, "target-timeout", 3*time.Minute, "timeout for each analysis")
	batchCmd.Flags().BoolVar(&batchDeep, "deep", false, "always run the second collection phase")
	batchCmd.Flags().BoolVar(&batchLenient, "lenient", false, "lenient relevance filtering")
	batchCmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Promessa Batch Analysis\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v (%v per target)\n", batchTimeout, targetTimeout)
	fmt.Fprintf(os.Stderr, "  LLM:          %s\n", displayProvider(cfg.LLM.Provider))
	fmt.Fprintf(os.Stderr, "\n")

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	processor := worker.NewBatchProcessor(a.analyzer, concurrency,
		worker.WithTargetTimeout(targetTimeout),
		worker.WithSearchMode(batchDeep, batchLenient))

	fmt.Fprintf(os.Stderr, "⚙️  Reading targets from file...\n")
	targets, err := worker.ReadTargetsFromFile(file)
	if err != nil {
		return fmt.Errorf("read targets: %w", err)
	}
	fmt.Fprintf(os.Stderr, "✓ Loaded %d targets\n\n", len(targets))
	fmt.Fprintf(os.Stderr, "⚙️  Analysing with %d workers...\n\n", concurrency)

	outcomes := processor.ProcessTargets(ctx, targets)

	renderer := pipeline.NewRenderer(os.Stdout, !noFooter)
	successCount, failureCount := 0, 0
	used := make(map[string]int)

	for _, o := range outcomes {
		if o.Error != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", o.Target.Name, o.Error)
			continue
		}

		slug := sanitizeFilename(o.Target.Name + " " + o.Target.City)
		used[slug]++
		if n := used[slug]; n > 1 {
			slug = fmt.Sprintf("%s-%d", slug, n)
		}

		report := pipeline.NewReport(o.Target, o.Result)
		if err := renderer.RenderJSON(report, filepath.Join(outputDir, slug+".json")); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write JSON: %v\n", o.Target.Name, err)
			continue
		}
		if err := renderer.RenderMarkdown(report, filepath.Join(outputDir, slug+".md")); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write Markdown: %v\n", o.Target.Name, err)
			continue
		}

		successCount++
		fmt.Fprintf(os.Stderr, "✓ %s (score: %.1f/100, %s risk, %v)\n",
			o.Target.Name, o.Result.Score, o.Result.RiskLevel, o.Duration.Round(time.Second))
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d targets\n", len(outcomes))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}

// sanitizeFilename turns a target description into a safe file stem
func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(extract.Normalize(s), " ", "-")
	if s == "" {
		s = "target"
	}
	if len(s) > 100 {
		s = strings.TrimRight(s[:100], "-")
	}
	return s
}
