package handlers

import (
	"fmt"

	"cogni/internal/config"
	"cogni/internal/llm"
	"cogni/internal/pipeline"
	"cogni/internal/store"

	"github.com/spf13/cobra"
)

// NewGenerateCmd creates the one-shot study guide generation command
func NewGenerateCmd() *cobra.Command {
	var (
		classroomID string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a classroom's study guide once and exit",
		Long: `Run one study guide generation pass for a classroom.

Unchanged uploads are never re-sent to the provider; only the delta since
the last run is embedded and synthesized. Use --force to discard unit
assignments and rebuild every section from scratch.

Examples:
  cogni generate --classroom c-101
  cogni generate --classroom c-101 --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if classroomID == "" {
				return fmt.Errorf("--classroom is required")
			}
			return runGenerate(cmd, classroomID, force)
		},
	}

	cmd.Flags().StringVar(&classroomID, "classroom", "", "Classroom ID to generate for (required)")
	cmd.Flags().BoolVar(&force, "force", false, "Discard incremental state and regenerate everything")

	return cmd
}

func runGenerate(cmd *cobra.Command, classroomID string, force bool) error {
	cfg := config.Get()

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

	result, err := p.GenerateStudyGuide(cmd.Context(), classroomID, force, true)
	if err != nil {
		return err
	}

	if result.NoOp {
		fmt.Printf("Study guide for %s already up to date (version %d, %d uploads, %d units)\n",
			classroomID, result.GuideVersion, result.UploadCount, result.UnitCount)
		return nil
	}

	fmt.Printf("Study guide for %s generated: version %d, %d uploads, %d units\n",
		classroomID, result.GuideVersion, result.UploadCount, result.UnitCount)
	return nil
}
