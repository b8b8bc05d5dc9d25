package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cogni/internal/core"

	_ "github.com/lib/pq" // Postgres driver
)

// PostgresStore is the production store. It reads the uploads and chat
// tables owned by the web app and upserts into ai_insights.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL connection pool and verifies it.
func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// migrate creates the insights table if missing. Uploads and chat messages
// are owned by the web app schema and are never created here.
func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS ai_insights (
		classroom_id TEXT NOT NULL,
		insight_type TEXT NOT NULL,
		content TEXT,
		metadata JSONB,
		updated_at TIMESTAMPTZ,
		PRIMARY KEY (classroom_id, insight_type)
	);`

	_, err := s.db.Exec(query)
	return err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) ListUploads(ctx context.Context, classroomID string) ([]core.Upload, error) {
	query := `
	SELECT id, classroom_id, author_id, title, text, created_at
	FROM uploads
	WHERE classroom_id = $1
	ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, classroomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var uploads []core.Upload
	for rows.Next() {
		var u core.Upload
		if err := rows.Scan(&u.ID, &u.ClassroomID, &u.AuthorID, &u.Title, &u.Text, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

func (s *PostgresStore) ListMessages(ctx context.Context, classroomID string, since time.Time) ([]core.ChatMessage, error) {
	query := `
	SELECT id, classroom_id, author_id, text, created_at
	FROM chat_messages
	WHERE classroom_id = $1 AND created_at >= $2
	ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, classroomID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []core.ChatMessage
	for rows.Next() {
		var m core.ChatMessage
		if err := rows.Scan(&m.ID, &m.ClassroomID, &m.AuthorID, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) GetStudyGuide(ctx context.Context, classroomID string) (*core.StudyGuide, error) {
	content, metadata, err := s.getInsight(ctx, classroomID, core.InsightStudyGuide)
	if err != nil || content == "" {
		return nil, err
	}

	guide := &core.StudyGuide{
		ClassroomID: classroomID,
		Content:     content,
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &guide.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode guide metadata: %w", err)
		}
	}
	return guide, nil
}

func (s *PostgresStore) GetClusterState(ctx context.Context, classroomID string) (*core.ClusterState, error) {
	content, _, err := s.getInsight(ctx, classroomID, core.InsightUnitCluster)
	if err != nil || content == "" {
		return nil, err
	}

	var state core.ClusterState
	if err := json.Unmarshal([]byte(content), &state); err != nil {
		return nil, fmt.Errorf("failed to decode cluster state: %w", err)
	}
	return &state, nil
}

func (s *PostgresStore) GetConfusionSummary(ctx context.Context, classroomID string) (*core.ConfusionSummary, error) {
	content, metadata, err := s.getInsight(ctx, classroomID, core.InsightConfusionSummary)
	if err != nil || content == "" {
		return nil, err
	}

	summary := &core.ConfusionSummary{
		ClassroomID: classroomID,
		Content:     content,
	}
	if metadata != "" {
		var meta summaryMetadata
		if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
			return nil, fmt.Errorf("failed to decode summary metadata: %w", err)
		}
		summary.ID = meta.ID
		summary.WindowStart = meta.WindowStart
		summary.WindowEnd = meta.WindowEnd
		summary.GeneratedAt = meta.GeneratedAt
	}
	return summary, nil
}

func (s *PostgresStore) getInsight(ctx context.Context, classroomID string, kind core.InsightKind) (content, metadata string, err error) {
	query := `
	SELECT content, COALESCE(metadata::text, '')
	FROM ai_insights
	WHERE classroom_id = $1 AND insight_type = $2`

	row := s.db.QueryRowContext(ctx, query, classroomID, kind.String())
	err = row.Scan(&content, &metadata)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to scan insight row: %w", err)
	}
	return content, metadata, nil
}

func (s *PostgresStore) SaveStudyGuide(ctx context.Context, guide *core.StudyGuide, state *core.ClusterState) error {
	metadata, err := json.Marshal(guide.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode guide metadata: %w", err)
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode cluster state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `
	INSERT INTO ai_insights (classroom_id, insight_type, content, metadata, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (classroom_id, insight_type)
	DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at`

	if _, err := tx.ExecContext(ctx, query,
		guide.ClassroomID, core.InsightStudyGuide.String(), guide.Content, string(metadata), now); err != nil {
		return fmt.Errorf("failed to save study guide: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query,
		state.ClassroomID, core.InsightUnitCluster.String(), string(stateJSON), nil, now); err != nil {
		return fmt.Errorf("failed to save cluster state: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) SaveConfusionSummary(ctx context.Context, summary *core.ConfusionSummary) error {
	metadata, err := json.Marshal(summaryMetadata{
		ID:          summary.ID,
		WindowStart: summary.WindowStart,
		WindowEnd:   summary.WindowEnd,
		GeneratedAt: summary.GeneratedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode summary metadata: %w", err)
	}

	query := `
	INSERT INTO ai_insights (classroom_id, insight_type, content, metadata, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (classroom_id, insight_type)
	DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		summary.ClassroomID, core.InsightConfusionSummary.String(), summary.Content, string(metadata), time.Now().UTC())
	return err
}
