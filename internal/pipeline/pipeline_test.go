package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cogni/internal/config"
	"cogni/internal/core"
	"cogni/internal/errs"
	"cogni/internal/llm"
	"cogni/internal/store"
)

const (
	mitoSection   = "### Key Concepts\n- Mitochondria convert glucose into ATP through cellular respiration."
	newtonSection = "### Key Concepts\n- Newton's second law relates force, mass and acceleration as F = ma."
)

func testConfig() *config.Config {
	return &config.Config{
		Clustering: config.Clustering{
			MergeThreshold: 0.35,
			MaxK:           8,
			MinSpawnBatch:  3,
			MaxIterations:  100,
		},
		Privacy: config.Privacy{
			LeakMinLen:  25,
			WindowHours: 24 * time.Hour,
		},
	}
}

// topicMock embeds by keyword so uploads form two well-separated topics and
// generates a fixed section per topic.
func topicMock() *llm.MockClient {
	mock := llm.NewMockClient()
	mock.EmbedFunc = func(ctx context.Context, text string) ([]float64, error) {
		return topicVector(text), nil
	}
	mock.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Newton") {
			return newtonSection, nil
		}
		return mitoSection, nil
	}
	return mock
}

func topicVector(text string) []float64 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "newton"):
		return []float64{0, 1, 0}
	case strings.Contains(lower, "mito"):
		return []float64{1, 0, 0}
	default:
		return []float64{0, 0, 1}
	}
}

// seedClassroom adds three uploads per topic so the initial clustering pass
// settles on two units.
func seedClassroom(st *store.MemoryStore) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	uploads := []core.Upload{
		{ID: "m1", Title: "Mitochondria basics", Text: "mito notes one"},
		{ID: "m2", Title: "Mitochondria energy", Text: "mito notes two"},
		{ID: "m3", Title: "Mitochondria structure", Text: "mito notes three"},
		{ID: "n1", Title: "Newton laws intro", Text: "newton notes one"},
		{ID: "n2", Title: "Newton second law", Text: "newton notes two"},
		{ID: "n3", Title: "Newton third law", Text: "newton notes three"},
	}
	for i, u := range uploads {
		u.ClassroomID = "class-1"
		u.AuthorID = "s1"
		u.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		st.AddUpload(u)
	}
}

func TestGenerateStudyGuideScenario(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	mock := topicMock()
	p := New(st, mock, testConfig())
	seedClassroom(st)

	// First run clusters six uploads into two units.
	first, err := p.GenerateStudyGuide(ctx, "class-1", false, true)
	if err != nil {
		t.Fatalf("first run error = %v", err)
	}
	if first.GuideVersion != 1 || first.UnitCount != 2 || first.UploadCount != 6 {
		t.Fatalf("first run = version %d, %d units, %d uploads; want 1, 2, 6",
			first.GuideVersion, first.UnitCount, first.UploadCount)
	}
	if mock.EmbedCalls() != 6 {
		t.Errorf("first run embed calls = %d, want 6", mock.EmbedCalls())
	}
	if mock.GenerateCalls() != 2 {
		t.Errorf("first run generate calls = %d, want 2", mock.GenerateCalls())
	}
	if !strings.Contains(first.Guide.Content, mitoSection) || !strings.Contains(first.Guide.Content, newtonSection) {
		t.Errorf("guide content missing sections:\n%s", first.Guide.Content)
	}

	stateBefore, _ := st.GetClusterState(ctx, "class-1")
	var mitoUnit, newtonUnit core.Unit
	for _, u := range stateBefore.Units {
		if contains(u.MemberUploadIDs, "m1") {
			mitoUnit = u
		} else {
			newtonUnit = u
		}
	}

	// A new mitochondria upload merges into the existing unit; the Newton
	// section is not regenerated.
	st.AddUpload(core.Upload{
		ID: "m4", ClassroomID: "class-1", AuthorID: "s2",
		Title: "Mitochondria membrane", Text: "mito notes four",
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	mock.ResetCalls()

	second, err := p.GenerateStudyGuide(ctx, "class-1", false, true)
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if second.GuideVersion != 2 || second.UnitCount != 2 || second.UploadCount != 7 {
		t.Fatalf("second run = version %d, %d units, %d uploads; want 2, 2, 7",
			second.GuideVersion, second.UnitCount, second.UploadCount)
	}
	if mock.EmbedCalls() != 1 {
		t.Errorf("second run embed calls = %d, want 1 (only the delta)", mock.EmbedCalls())
	}
	if mock.GenerateCalls() != 1 {
		t.Errorf("second run generate calls = %d, want 1 (only the touched unit)", mock.GenerateCalls())
	}

	stateAfter, _ := st.GetClusterState(ctx, "class-1")
	for _, u := range stateAfter.Units {
		switch u.ID {
		case mitoUnit.ID:
			if !contains(u.MemberUploadIDs, "m4") {
				t.Error("new upload not merged into the mitochondria unit")
			}
			if u.Version != mitoUnit.Version+1 {
				t.Errorf("merged unit version = %d, want %d", u.Version, mitoUnit.Version+1)
			}
		case newtonUnit.ID:
			if u.Section != newtonUnit.Section {
				t.Error("untouched unit section changed bytes")
			}
			if u.Version != newtonUnit.Version {
				t.Error("untouched unit version bumped")
			}
		default:
			t.Errorf("unexpected unit %s after merge", u.ID)
		}
	}
}

func TestGenerateStudyGuideIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	mock := topicMock()
	p := New(st, mock, testConfig())
	seedClassroom(st)

	first, err := p.GenerateStudyGuide(ctx, "class-1", false, true)
	if err != nil {
		t.Fatalf("first run error = %v", err)
	}

	mock.ResetCalls()
	second, err := p.GenerateStudyGuide(ctx, "class-1", false, true)
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}

	if !second.NoOp {
		t.Error("unchanged rerun was not a no-op")
	}
	if second.GuideVersion != first.GuideVersion {
		t.Errorf("no-op bumped version: %d -> %d", first.GuideVersion, second.GuideVersion)
	}
	if mock.EmbedCalls() != 0 || mock.GenerateCalls() != 0 {
		t.Errorf("no-op made provider calls: %d embed, %d generate",
			mock.EmbedCalls(), mock.GenerateCalls())
	}
}

func TestGenerateStudyGuideProcessedSetMonotonic(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	p := New(st, topicMock(), testConfig())
	seedClassroom(st)

	if _, err := p.GenerateStudyGuide(ctx, "class-1", false, true); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	guide1, _ := st.GetStudyGuide(ctx, "class-1")

	st.AddUpload(core.Upload{
		ID: "m4", ClassroomID: "class-1", Title: "Mitochondria review", Text: "mito recap",
		CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	if _, err := p.GenerateStudyGuide(ctx, "class-1", false, true); err != nil {
		t.Fatalf("second run error = %v", err)
	}
	guide2, _ := st.GetStudyGuide(ctx, "class-1")

	for _, id := range guide1.Metadata.ProcessedUploadIDs {
		if !guide2.Metadata.Processed(id) {
			t.Errorf("processed set shrank: %s dropped", id)
		}
	}
	if !guide2.Metadata.Processed("m4") {
		t.Error("processed set missing the new upload")
	}
}

func TestGenerateStudyGuideForceKeepsUnitIdentity(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	mock := topicMock()
	p := New(st, mock, testConfig())
	seedClassroom(st)

	first, err := p.GenerateStudyGuide(ctx, "class-1", false, true)
	if err != nil {
		t.Fatalf("first run error = %v", err)
	}
	stateBefore, _ := st.GetClusterState(ctx, "class-1")
	idsBefore := unitIDs(stateBefore.Units)

	mock.ResetCalls()
	forced, err := p.GenerateStudyGuide(ctx, "class-1", true, true)
	if err != nil {
		t.Fatalf("forced run error = %v", err)
	}

	if forced.NoOp {
		t.Fatal("forced run reported no-op")
	}
	if forced.GuideVersion != first.GuideVersion+1 {
		t.Errorf("forced version = %d, want %d", forced.GuideVersion, first.GuideVersion+1)
	}
	if mock.EmbedCalls() != 0 {
		t.Errorf("forced run re-embedded cached uploads: %d calls", mock.EmbedCalls())
	}
	if mock.GenerateCalls() != 2 {
		t.Errorf("forced run generate calls = %d, want 2", mock.GenerateCalls())
	}

	stateAfter, _ := st.GetClusterState(ctx, "class-1")
	idsAfter := unitIDs(stateAfter.Units)
	for id := range idsBefore {
		if !idsAfter[id] {
			t.Errorf("unit %s lost its identity across a forced recluster", id)
		}
	}
}

func TestGenerateStudyGuideEmptyClassroom(t *testing.T) {
	p := New(store.NewMemoryStore(), topicMock(), testConfig())

	_, err := p.GenerateStudyGuide(context.Background(), "empty", false, true)
	if !errors.Is(err, errs.ErrEmptyInput) {
		t.Fatalf("error = %v, want ErrEmptyInput", err)
	}
}

func TestGenerateStudyGuideConcurrentCallsShareOneRun(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	mock := topicMock()

	release := make(chan struct{})
	var gateOnce sync.Once
	baseEmbed := mock.EmbedFunc
	mock.EmbedFunc = func(ctx context.Context, text string) ([]float64, error) {
		gateOnce.Do(func() { <-release })
		return baseEmbed(ctx, text)
	}

	p := New(st, mock, testConfig())
	seedClassroom(st)

	var wg sync.WaitGroup
	results := make([]*GuideResult, 2)
	runErrs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], runErrs[i] = p.GenerateStudyGuide(ctx, "class-1", false, true)
		}()
		time.Sleep(20 * time.Millisecond)
	}
	close(release)
	wg.Wait()

	for i := 0; i < 2; i++ {
		if runErrs[i] != nil {
			t.Fatalf("caller %d error = %v", i, runErrs[i])
		}
	}
	if results[0].GuideVersion != results[1].GuideVersion {
		t.Errorf("callers saw different versions: %d vs %d",
			results[0].GuideVersion, results[1].GuideVersion)
	}
	if mock.GenerateCalls() != 2 {
		t.Errorf("generate calls = %d, want 2 (one run, two units)", mock.GenerateCalls())
	}
	if mock.EmbedCalls() != 6 {
		t.Errorf("embed calls = %d, want 6 (one run)", mock.EmbedCalls())
	}
}

func TestGenerateStudyGuideNoWaitFailsFast(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	mock := topicMock()

	release := make(chan struct{})
	var gateOnce sync.Once
	baseEmbed := mock.EmbedFunc
	mock.EmbedFunc = func(ctx context.Context, text string) ([]float64, error) {
		gateOnce.Do(func() { <-release })
		return baseEmbed(ctx, text)
	}

	p := New(st, mock, testConfig())
	seedClassroom(st)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := p.GenerateStudyGuide(ctx, "class-1", false, true); err != nil {
			t.Errorf("in-flight run error = %v", err)
		}
	}()
	time.Sleep(20 * time.Millisecond)

	_, err := p.GenerateStudyGuide(ctx, "class-1", false, false)
	if !errors.Is(err, errs.ErrGenerationInProgress) {
		t.Errorf("no-wait error = %v, want ErrGenerationInProgress", err)
	}

	close(release)
	<-done
}

func TestGenerateInsights(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	mock := topicMock()
	mock.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		return "Several students are unsure how energy production works inside cells.", nil
	}
	p := New(st, mock, testConfig())

	st.AddMessage(core.ChatMessage{
		ID: "msg1", ClassroomID: "class-1", AuthorID: "s1",
		Text:      "I am completely lost on how the mitochondria actually produces energy",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	})

	result, err := p.GenerateInsights(ctx, "class-1", true)
	if err != nil {
		t.Fatalf("GenerateInsights() error = %v", err)
	}
	if result.SummaryID == "" {
		t.Fatal("GenerateInsights() returned empty summary ID")
	}

	saved, err := st.GetConfusionSummary(ctx, "class-1")
	if err != nil || saved == nil {
		t.Fatalf("summary not persisted: (%v, %v)", saved, err)
	}
	if saved.ID != result.SummaryID {
		t.Errorf("persisted summary ID = %q, want %q", saved.ID, result.SummaryID)
	}
}

func TestGenerateInsightsEmptyWindow(t *testing.T) {
	st := store.NewMemoryStore()
	p := New(st, topicMock(), testConfig())

	// A message outside the 24h window does not count.
	st.AddMessage(core.ChatMessage{
		ID: "old", ClassroomID: "class-1", Text: "ancient question about mitochondria",
		CreatedAt: time.Now().UTC().Add(-72 * time.Hour),
	})

	_, err := p.GenerateInsights(context.Background(), "class-1", true)
	if !errors.Is(err, errs.ErrEmptyInput) {
		t.Fatalf("error = %v, want ErrEmptyInput", err)
	}
}

func TestGenerateStudyGuideSkipsBlankUploads(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	mock := topicMock()
	p := New(st, mock, testConfig())
	seedClassroom(st)

	if _, err := p.GenerateStudyGuide(ctx, "class-1", false, true); err != nil {
		t.Fatalf("first run error = %v", err)
	}

	st.AddUpload(core.Upload{
		ID: "blank", ClassroomID: "class-1", Title: "  ", Text: "\n\t",
		CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	mock.ResetCalls()

	if _, err := p.GenerateStudyGuide(ctx, "class-1", false, true); err != nil {
		t.Fatalf("second run error = %v", err)
	}

	if mock.EmbedCalls() != 0 || mock.GenerateCalls() != 0 {
		t.Errorf("blank upload reached the provider: %d embed, %d generate",
			mock.EmbedCalls(), mock.GenerateCalls())
	}

	guide, _ := st.GetStudyGuide(ctx, "class-1")
	if !guide.Metadata.Processed("blank") {
		t.Error("blank upload not marked processed; it will re-trigger every run")
	}
}

func TestGenerateStudyGuideAllBlankUploads(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	mock := topicMock()
	p := New(st, mock, testConfig())

	st.AddUpload(core.Upload{
		ID: "blank", ClassroomID: "class-1", AuthorID: "s1", Title: "  ", Text: "\n\t",
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})

	_, err := p.GenerateStudyGuide(ctx, "class-1", false, true)
	if !errors.Is(err, errs.ErrEmptyInput) {
		t.Fatalf("error = %v, want ErrEmptyInput", err)
	}
	if mock.EmbedCalls() != 0 || mock.GenerateCalls() != 0 {
		t.Errorf("blank-only classroom reached the provider: %d embed, %d generate",
			mock.EmbedCalls(), mock.GenerateCalls())
	}

	// Repeat calls stay cheap: same classification, still no provider calls.
	_, err = p.GenerateStudyGuide(ctx, "class-1", false, true)
	if !errors.Is(err, errs.ErrEmptyInput) {
		t.Fatalf("second call error = %v, want ErrEmptyInput", err)
	}
	if mock.EmbedCalls() != 0 || mock.GenerateCalls() != 0 {
		t.Errorf("repeat call reached the provider: %d embed, %d generate",
			mock.EmbedCalls(), mock.GenerateCalls())
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func unitIDs(units []core.Unit) map[string]bool {
	ids := make(map[string]bool, len(units))
	for _, u := range units {
		ids[u.ID] = true
	}
	return ids
}
