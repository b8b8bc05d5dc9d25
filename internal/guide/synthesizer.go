// Package guide turns clustered uploads into the classroom study guide:
// one generated markdown section per unit, assembled in first-appearance
// order into a single document.
package guide

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cogni/internal/core"
	"cogni/internal/llm"
	"cogni/internal/logger"
	"cogni/internal/retry"
)

// minSectionChars rejects degenerate generations; the original service
// applied the same sanity floor to the whole guide.
const minSectionChars = 50

// Synthesizer generates and maintains per-unit guide sections.
type Synthesizer struct {
	client llm.Client
	policy retry.Policy
	log    *slog.Logger
}

// NewSynthesizer creates a synthesizer using the given provider client.
func NewSynthesizer(client llm.Client, policy retry.Policy) *Synthesizer {
	return &Synthesizer{
		client: client,
		policy: policy,
		log:    logger.Get(),
	}
}

// UpdateSections regenerates the section of every touched unit, in arena
// order. touched maps unit IDs to the upload IDs newly assigned this run;
// units not in touched keep their section bytes untouched. Any generation
// failure aborts immediately so the caller persists nothing.
func (s *Synthesizer) UpdateSections(ctx context.Context, state *core.ClusterState, touched map[string][]string, uploadsByID map[string]core.Upload) error {
	for i := range state.Units {
		unit := &state.Units[i]
		newIDs, ok := touched[unit.ID]
		if !ok {
			continue
		}

		newUploads := make([]core.Upload, 0, len(newIDs))
		for _, id := range newIDs {
			if u, found := uploadsByID[id]; found {
				newUploads = append(newUploads, u)
			}
		}
		if len(newUploads) == 0 {
			continue
		}

		section, err := s.generateSection(ctx, unit.Label, unit.Section, newUploads)
		if err != nil {
			return fmt.Errorf("failed to generate section for unit %s: %w", unit.ID, err)
		}

		unit.Section = section
		s.log.Debug("updated unit section",
			"unit_id", unit.ID,
			"label", unit.Label,
			"new_uploads", len(newUploads),
		)
	}

	return nil
}

// generateSection issues one generation call with retries and validates the
// result.
func (s *Synthesizer) generateSection(ctx context.Context, label, existing string, newUploads []core.Upload) (string, error) {
	prompt := buildSectionPrompt(label, existing, newUploads)

	var section string
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		text, genErr := s.client.GenerateText(ctx, prompt)
		if genErr != nil {
			return genErr
		}
		section = strings.TrimSpace(text)
		return nil
	})
	if err != nil {
		return "", err
	}

	if len(section) < minSectionChars {
		return "", fmt.Errorf("generated section too short (%d chars)", len(section))
	}

	return section, nil
}

// Assemble concatenates unit sections in first-appearance order into the
// final guide markdown. Unit order comes from the arena, so sections never
// reshuffle between runs.
func Assemble(units []core.Unit) string {
	var b strings.Builder
	b.WriteString("# Study Guide\n")

	for _, unit := range units {
		if unit.Section == "" {
			continue
		}
		b.WriteString("\n## ")
		b.WriteString(unit.Label)
		b.WriteString("\n\n")
		b.WriteString(unit.Section)
		b.WriteString("\n")
	}

	return b.String()
}

// BuildGuide assembles the guide object for persistence: content from the
// unit arena plus updated metadata. processed must already be the complete
// processed set for the new guide version (the union with the prior set on
// incremental runs, exactly the current upload set on forced runs).
func BuildGuide(classroomID string, prev *core.StudyGuide, state *core.ClusterState, processed []string, uploadCount int) core.StudyGuide {
	version := 1
	if prev != nil {
		version = prev.Metadata.GuideVersion + 1
	}

	return core.StudyGuide{
		ClassroomID: classroomID,
		Content:     Assemble(state.Units),
		Metadata: core.GuideMetadata{
			ProcessedUploadIDs: processed,
			UnitCount:          len(state.Units),
			UploadCount:        uploadCount,
			GuideVersion:       version,
			LastGeneratedAt:    time.Now().UTC(),
		},
	}
}
