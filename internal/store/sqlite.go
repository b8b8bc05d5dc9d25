package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cogni/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the file-backed store used for local development and the
// CLI one-shot modes.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the SQLite database under dataDir.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "cogni.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		path: dbPath,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

// initialize creates the necessary tables
func (s *SQLiteStore) initialize() error {
	uploadsTable := `
	CREATE TABLE IF NOT EXISTS uploads (
		id TEXT PRIMARY KEY,
		classroom_id TEXT NOT NULL,
		author_id TEXT,
		title TEXT,
		text TEXT,
		created_at DATETIME
	);`

	messagesTable := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		classroom_id TEXT NOT NULL,
		author_id TEXT,
		text TEXT,
		created_at DATETIME
	);`

	insightsTable := `
	CREATE TABLE IF NOT EXISTS ai_insights (
		classroom_id TEXT NOT NULL,
		insight_type TEXT NOT NULL,
		content TEXT,
		metadata TEXT,
		updated_at DATETIME,
		PRIMARY KEY (classroom_id, insight_type)
	);`

	tables := []string{uploadsTable, messagesTable, insightsTable}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) ListUploads(ctx context.Context, classroomID string) ([]core.Upload, error) {
	query := `
	SELECT id, classroom_id, author_id, title, text, created_at
	FROM uploads
	WHERE classroom_id = ?
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

func (s *SQLiteStore) ListMessages(ctx context.Context, classroomID string, since time.Time) ([]core.ChatMessage, error) {
	query := `
	SELECT id, classroom_id, author_id, text, created_at
	FROM chat_messages
	WHERE classroom_id = ? AND created_at >= ?
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

// AddUpload inserts an upload row. The pipeline never writes uploads; this
// exists for the seed command and local test setups.
func (s *SQLiteStore) AddUpload(ctx context.Context, upload core.Upload) error {
	query := `
	INSERT OR REPLACE INTO uploads (id, classroom_id, author_id, title, text, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		upload.ID, upload.ClassroomID, upload.AuthorID, upload.Title, upload.Text, upload.CreatedAt)
	return err
}

// AddMessage inserts a chat message row. See AddUpload.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg core.ChatMessage) error {
	query := `
	INSERT OR REPLACE INTO chat_messages (id, classroom_id, author_id, text, created_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ClassroomID, msg.AuthorID, msg.Text, msg.CreatedAt)
	return err
}

func (s *SQLiteStore) GetStudyGuide(ctx context.Context, classroomID string) (*core.StudyGuide, error) {
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

func (s *SQLiteStore) GetClusterState(ctx context.Context, classroomID string) (*core.ClusterState, error) {
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

func (s *SQLiteStore) GetConfusionSummary(ctx context.Context, classroomID string) (*core.ConfusionSummary, error) {
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

func (s *SQLiteStore) getInsight(ctx context.Context, classroomID string, kind core.InsightKind) (content, metadata string, err error) {
	query := `
	SELECT content, metadata
	FROM ai_insights
	WHERE classroom_id = ? AND insight_type = ?`

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

func (s *SQLiteStore) SaveStudyGuide(ctx context.Context, guide *core.StudyGuide, state *core.ClusterState) error {
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
	INSERT OR REPLACE INTO ai_insights (classroom_id, insight_type, content, metadata, updated_at)
	VALUES (?, ?, ?, ?, ?)`

	if _, err := tx.ExecContext(ctx, query,
		guide.ClassroomID, core.InsightStudyGuide.String(), guide.Content, string(metadata), now); err != nil {
		return fmt.Errorf("failed to save study guide: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query,
		state.ClassroomID, core.InsightUnitCluster.String(), string(stateJSON), "", now); err != nil {
		return fmt.Errorf("failed to save cluster state: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) SaveConfusionSummary(ctx context.Context, summary *core.ConfusionSummary) error {
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
	INSERT OR REPLACE INTO ai_insights (classroom_id, insight_type, content, metadata, updated_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		summary.ClassroomID, core.InsightConfusionSummary.String(), summary.Content, string(metadata), time.Now().UTC())
	return err
}
