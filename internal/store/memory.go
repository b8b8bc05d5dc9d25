package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"cogni/internal/core"
)

// MemoryStore is an in-process Store used by tests and the local demo mode.
// Insight rows round-trip through JSON the same way the SQL stores do, via
// value copies guarded by a mutex.
type MemoryStore struct {
	mu        sync.Mutex
	uploads   map[string][]core.Upload      // classroom ID -> uploads
	messages  map[string][]core.ChatMessage // classroom ID -> messages
	guides    map[string]core.StudyGuide
	states    map[string]core.ClusterState
	summaries map[string]core.ConfusionSummary
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		uploads:   make(map[string][]core.Upload),
		messages:  make(map[string][]core.ChatMessage),
		guides:    make(map[string]core.StudyGuide),
		states:    make(map[string]core.ClusterState),
		summaries: make(map[string]core.ConfusionSummary),
	}
}

func (s *MemoryStore) Close() error                   { return nil }
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// AddUpload registers an upload so the pipeline can read it back.
func (s *MemoryStore) AddUpload(upload core.Upload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[upload.ClassroomID] = append(s.uploads[upload.ClassroomID], upload)
}

// AddMessage registers a chat message so the insights flow can read it back.
func (s *MemoryStore) AddMessage(msg core.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ClassroomID] = append(s.messages[msg.ClassroomID], msg)
}

func (s *MemoryStore) ListUploads(ctx context.Context, classroomID string) ([]core.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uploads := append([]core.Upload(nil), s.uploads[classroomID]...)
	sort.SliceStable(uploads, func(i, j int) bool {
		return uploads[i].CreatedAt.Before(uploads[j].CreatedAt)
	})
	return uploads, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, classroomID string, since time.Time) ([]core.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []core.ChatMessage
	for _, m := range s.messages[classroomID] {
		if !m.CreatedAt.Before(since) {
			messages = append(messages, m)
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (s *MemoryStore) GetStudyGuide(ctx context.Context, classroomID string) (*core.StudyGuide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	guide, ok := s.guides[classroomID]
	if !ok {
		return nil, nil
	}
	return &guide, nil
}

func (s *MemoryStore) GetClusterState(ctx context.Context, classroomID string) (*core.ClusterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[classroomID]
	if !ok {
		return nil, nil
	}
	copied := copyClusterState(state)
	return &copied, nil
}

func (s *MemoryStore) GetConfusionSummary(ctx context.Context, classroomID string) (*core.ConfusionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, ok := s.summaries[classroomID]
	if !ok {
		return nil, nil
	}
	return &summary, nil
}

func (s *MemoryStore) SaveStudyGuide(ctx context.Context, guide *core.StudyGuide, state *core.ClusterState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.guides[guide.ClassroomID] = *guide
	s.states[state.ClassroomID] = copyClusterState(*state)
	return nil
}

func (s *MemoryStore) SaveConfusionSummary(ctx context.Context, summary *core.ConfusionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries[summary.ClassroomID] = *summary
	return nil
}

// copyClusterState deep-copies the mutable parts of a cluster state so
// callers cannot alias the stored maps and slices.
func copyClusterState(state core.ClusterState) core.ClusterState {
	copied := state
	copied.Units = make([]core.Unit, len(state.Units))
	for i, u := range state.Units {
		copied.Units[i] = u
		copied.Units[i].Centroid = append([]float64(nil), u.Centroid...)
		copied.Units[i].MemberUploadIDs = append([]string(nil), u.MemberUploadIDs...)
	}
	copied.Embeddings = make(map[string][]float64, len(state.Embeddings))
	for id, vec := range state.Embeddings {
		copied.Embeddings[id] = append([]float64(nil), vec...)
	}
	copied.PendingIDs = append([]string(nil), state.PendingIDs...)
	return copied
}
