package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/promessa/internal/model"
	"github.com/ppiankov/promessa/internal/store"
)

var statusJSON bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a dispatched analysis",
	Long: `Status reads the job record written by "promessa analyze --dispatch"
and the queue worker.

Example:
  promessa status 0b6f7c1e-2d7c-4b8e-9a51-3f0d2c8e4a17
  promessa status 0b6f7c1e-2d7c-4b8e-9a51-3f0d2c8e4a17 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw status record as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	status, err := st.GetJob(cmd.Context(), args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no job with id %s", args[0])
	}
	if err != nil {
		return err
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Printf("Job:       %s\n", status.ID)
	fmt.Printf("State:     %s\n", status.State)
	fmt.Printf("Created:   %s\n", status.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:   %s\n", status.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	if status.AnalysisID != "" {
		fmt.Printf("Analysis:  %s\n", status.AnalysisID)
	}
	switch status.State {
	case model.JobFailed:
		if status.ErrorCode != "" {
			fmt.Printf("Error:     [%s] %s\n", status.ErrorCode, status.Error)
		} else {
			fmt.Printf("Error:     %s\n", status.Error)
		}
	case model.JobCompleted:
		if r := status.Result; r != nil {
			fmt.Printf("Score:     %.1f/100 (%s risk, %d promises)\n", r.Score, r.RiskLevel, len(r.Promises))
		}
	}
	return nil
}
