package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cogni/internal/config"
	"cogni/internal/core"
	"cogni/internal/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// seedFile is the JSON shape the seed command reads.
type seedFile struct {
	Uploads  []core.Upload      `json:"uploads"`
	Messages []core.ChatMessage `json:"messages"`
}

// seeder is the write surface the seed command needs; only the local
// SQLite store provides it.
type seeder interface {
	AddUpload(ctx context.Context, upload core.Upload) error
	AddMessage(ctx context.Context, msg core.ChatMessage) error
}

// NewSeedCmd creates the local data seeding command
func NewSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load classroom uploads and messages into the local store",
		Long: `Load a JSON file of uploads and chat messages into the local SQLite
store. In production the web app owns these tables; this command exists for
local development against a store the pipeline can read.

The file format:
  {
    "uploads":  [{"id": "...", "classroom_id": "...", "title": "...", "text": "..."}],
    "messages": [{"id": "...", "classroom_id": "...", "text": "..."}]
  }

Missing IDs and timestamps are filled in.

Examples:
  cogni seed --file testdata/classroom.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			return runSeed(cmd.Context(), file)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "JSON file with uploads and messages (required)")

	return cmd
}

func runSeed(ctx context.Context, file string) error {
	cfg := config.Get()

	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open content store: %w", err)
	}
	defer st.Close()

	sd, ok := st.(seeder)
	if !ok {
		return fmt.Errorf("seeding requires the sqlite store driver, got %q", cfg.Store.Driver)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	now := time.Now().UTC()
	for i, u := range seed.Uploads {
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now.Add(time.Duration(i) * time.Second)
		}
		if err := sd.AddUpload(ctx, u); err != nil {
			return fmt.Errorf("failed to insert upload %s: %w", u.ID, err)
		}
	}
	for i, m := range seed.Messages {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now.Add(time.Duration(i) * time.Second)
		}
		if err := sd.AddMessage(ctx, m); err != nil {
			return fmt.Errorf("failed to insert message %s: %w", m.ID, err)
		}
	}

	fmt.Printf("Seeded %d uploads and %d messages\n", len(seed.Uploads), len(seed.Messages))
	return nil
}
