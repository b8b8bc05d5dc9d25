package core

import "time"

// Upload represents a single piece of student-submitted study content.
// Uploads are created by the web app and are read-only for the pipeline.
type Upload struct {
	ID          string    `json:"id"`           // Unique identifier for the upload
	ClassroomID string    `json:"classroom_id"` // Classroom the upload belongs to
	AuthorID    string    `json:"author_id"`    // Student who submitted the upload
	Title       string    `json:"title"`        // Title of the upload
	Text        string    `json:"text"`         // Free-text content (or text extracted upstream)
	CreatedAt   time.Time `json:"created_at"`   // Timestamp when the upload was created
}

// ChatMessage represents a single classroom chat message. Messages feed the
// confusion summary flow only, never the study guide.
type ChatMessage struct {
	ID          string    `json:"id"`           // Unique identifier for the message
	ClassroomID string    `json:"classroom_id"` // Classroom the message was sent in
	AuthorID    string    `json:"author_id"`    // Student who sent the message
	Text        string    `json:"text"`         // Message body
	CreatedAt   time.Time `json:"created_at"`   // Timestamp when the message was sent
}

// Unit is a topic cluster of uploads that maps to one section of the study
// guide. The ID is stable across incremental runs; Version increments
// whenever membership changes.
type Unit struct {
	ID              string    `json:"id"`                // Stable unit identifier
	ClassroomID     string    `json:"classroom_id"`      // Classroom the unit belongs to
	Label           string    `json:"label"`             // Human-readable topic label
	Centroid        []float64 `json:"centroid"`          // Mean of member vectors in embedding space
	MemberUploadIDs []string  `json:"member_upload_ids"` // IDs of uploads assigned to this unit
	Section         string    `json:"section"`           // Current markdown section for this unit
	Version         int       `json:"version"`           // Incremented on every membership change
	CreatedAt       time.Time `json:"created_at"`        // When the unit was first spawned
}

// ClusterState is the persisted incremental clustering state for one
// classroom: the unit arena in first-appearance order, the embedding cache,
// and the set of unassigned uploads still waiting for a spawn batch.
type ClusterState struct {
	ClassroomID  string               `json:"classroom_id"`
	ModelVersion string               `json:"model_version"` // Embedding model that produced the cache
	Units        []Unit               `json:"units"`         // Unit arena, first-appearance order
	Embeddings   map[string][]float64 `json:"embeddings"`    // upload ID -> cached vector
	PendingIDs   []string             `json:"pending_ids"`   // Unassigned uploads below the spawn batch size
}

// UnitByID returns a pointer into the unit arena, or nil if absent.
func (s *ClusterState) UnitByID(id string) *Unit {
	for i := range s.Units {
		if s.Units[i].ID == id {
			return &s.Units[i]
		}
	}
	return nil
}

// GuideMetadata tracks which uploads have been folded into the current
// guide version. ProcessedUploadIDs is monotonically non-decreasing across
// non-forced runs.
type GuideMetadata struct {
	ProcessedUploadIDs []string  `json:"processed_upload_ids"`
	UnitCount          int       `json:"unit_count"`
	UploadCount        int       `json:"upload_count"`
	GuideVersion       int       `json:"guide_version"`
	LastGeneratedAt    time.Time `json:"last_generated_at"`
}

// Processed reports whether the given upload has already been folded into
// the guide.
func (m GuideMetadata) Processed(uploadID string) bool {
	for _, id := range m.ProcessedUploadIDs {
		if id == uploadID {
			return true
		}
	}
	return false
}

// StudyGuide is the assembled markdown guide for one classroom. There is at
// most one live guide per classroom.
type StudyGuide struct {
	ClassroomID string        `json:"classroom_id"`
	Content     string        `json:"content"` // Assembled markdown, all unit sections in stable order
	Metadata    GuideMetadata `json:"metadata"`
}

// ConfusionSummary is a class-wide anonymized summary of a window of chat
// messages. It must not contain verbatim fragments of any single message.
type ConfusionSummary struct {
	ID          string    `json:"id"`
	ClassroomID string    `json:"classroom_id"`
	Content     string    `json:"content"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	GeneratedAt time.Time `json:"generated_at"`
}

// InsightKind is the tagged variant for persisted insight rows. The store
// maps these to row types; pipeline code never dispatches on raw strings.
type InsightKind int

const (
	InsightStudyGuide InsightKind = iota + 1
	InsightConfusionSummary
	InsightUnitCluster
)

// String returns the row-type tag used by the content store.
func (k InsightKind) String() string {
	switch k {
	case InsightStudyGuide:
		return "study_guide"
	case InsightConfusionSummary:
		return "confusion_summary"
	case InsightUnitCluster:
		return "unit_cluster"
	default:
		return "unknown"
	}
}
