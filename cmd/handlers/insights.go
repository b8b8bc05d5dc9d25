package handlers

import (
	"fmt"
	"time"

	"cogni/internal/config"
	"cogni/internal/llm"
	"cogni/internal/pipeline"
	"cogni/internal/store"

	"github.com/spf13/cobra"
)

// NewInsightsCmd creates the one-shot confusion summary command
func NewInsightsCmd() *cobra.Command {
	var (
		classroomID string
		window      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Generate a classroom's confusion summary once and exit",
		Long: `Summarize the recent chat window for a classroom into an anonymized
confusion summary. The summary never quotes any student message; a run
that cannot satisfy that guarantee fails instead of persisting.

Examples:
  cogni insights --classroom c-101
  cogni insights --classroom c-101 --window 48h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if classroomID == "" {
				return fmt.Errorf("--classroom is required")
			}
			return runInsights(cmd, classroomID, window)
		},
	}

	cmd.Flags().StringVar(&classroomID, "classroom", "", "Classroom ID to summarize (required)")
	cmd.Flags().DurationVar(&window, "window", 0, "Message window to summarize (default from config: 24h)")

	return cmd
}

func runInsights(cmd *cobra.Command, classroomID string, window time.Duration) error {
	cfg := config.Get()
	if window > 0 {
		cfgCopy := *cfg
		cfgCopy.Privacy.WindowHours = window
		cfg = &cfgCopy
	}

	client, err := llm.NewFromConfig(cfg.AI)
	if err != nil {
		return fmt.Errorf("failed to create AI client: %w", err)
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open content store: %w", err)
	}
	defer st.Close()

	p := pipeline.New(st, client, cfg)

	result, err := p.GenerateInsights(cmd.Context(), classroomID, true)
	if err != nil {
		return err
	}

	fmt.Printf("Confusion summary for %s generated: %s\n", classroomID, result.SummaryID)
	return nil
}
