// Package pipeline is the orchestrator: it owns the two classroom
// generation flows, serializes them per classroom, and persists results
// transactionally through the content store.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cogni/internal/clustering"
	"cogni/internal/config"
	"cogni/internal/core"
	"cogni/internal/cost"
	"cogni/internal/errs"
	"cogni/internal/guide"
	"cogni/internal/insights"
	"cogni/internal/llm"
	"cogni/internal/logger"
	"cogni/internal/retry"
	"cogni/internal/store"
	"cogni/internal/tracker"

	"golang.org/x/sync/singleflight"
)

// GuideResult is the outcome of a study guide generation run.
type GuideResult struct {
	Guide        *core.StudyGuide
	UploadCount  int
	UnitCount    int
	GuideVersion int
	NoOp         bool // True when nothing new was processed
}

// InsightsResult is the outcome of a confusion summary run.
type InsightsResult struct {
	SummaryID string
}

// Pipeline coordinates the study guide and confusion summary flows for all
// classrooms. Duplicate concurrent requests for the same classroom join the
// in-flight run and receive its result.
type Pipeline struct {
	store      store.Store
	client     llm.Client
	clusterer  *clustering.Clusterer
	synth      *guide.Synthesizer
	aggregator *insights.Aggregator
	policy     retry.Policy
	window     time.Duration
	log        *slog.Logger

	group    singleflight.Group
	mu       sync.Mutex
	inFlight map[string]bool
}

// New wires a pipeline from configuration. The aggregator gets its own
// clusterer so the two flows never share mutable state.
func New(st store.Store, client llm.Client, cfg *config.Config) *Pipeline {
	clusterCfg := clustering.Config{
		MergeThreshold: cfg.Clustering.MergeThreshold,
		MaxK:           cfg.Clustering.MaxK,
		MinSpawnBatch:  cfg.Clustering.MinSpawnBatch,
		MaxIterations:  cfg.Clustering.MaxIterations,
	}
	policy := retry.DefaultPolicy()

	window := cfg.Privacy.WindowHours
	if window <= 0 {
		window = 24 * time.Hour
	}

	return &Pipeline{
		store:     st,
		client:    client,
		clusterer: clustering.New(clusterCfg),
		synth:     guide.NewSynthesizer(client, policy),
		aggregator: insights.NewAggregator(client, clustering.New(clusterCfg), policy, insights.Config{
			LeakMinLen: cfg.Privacy.LeakMinLen,
		}),
		policy:   policy,
		window:   window,
		log:      logger.Get(),
		inFlight: make(map[string]bool),
	}
}

// GenerateStudyGuide runs (or joins) the study guide flow for a classroom.
// With wait set, a duplicate concurrent request blocks until the in-flight
// run finishes and returns its result; without it, the duplicate fails fast
// with ErrGenerationInProgress. A run that has started is never cancelled by
// its caller: persisted state updates exactly once or not at all.
func (p *Pipeline) GenerateStudyGuide(ctx context.Context, classroomID string, force, wait bool) (*GuideResult, error) {
	key := "guide:" + classroomID
	if !wait && p.busy(key) {
		return nil, fmt.Errorf("classroom %s: %w", classroomID, errs.ErrGenerationInProgress)
	}

	v, err, shared := p.group.Do(key, func() (any, error) {
		p.setBusy(key, true)
		defer p.setBusy(key, false)
		return p.generateGuide(context.WithoutCancel(ctx), classroomID, force)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		p.log.Info("joined in-flight study guide run", "classroom_id", classroomID)
	}
	return v.(*GuideResult), nil
}

// GenerateInsights runs (or joins) the confusion summary flow for a
// classroom. Wait semantics match GenerateStudyGuide.
func (p *Pipeline) GenerateInsights(ctx context.Context, classroomID string, wait bool) (*InsightsResult, error) {
	key := "insights:" + classroomID
	if !wait && p.busy(key) {
		return nil, fmt.Errorf("classroom %s: %w", classroomID, errs.ErrGenerationInProgress)
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		p.setBusy(key, true)
		defer p.setBusy(key, false)
		return p.generateInsights(context.WithoutCancel(ctx), classroomID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*InsightsResult), nil
}

func (p *Pipeline) busy(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight[key]
}

func (p *Pipeline) setBusy(key string, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v {
		p.inFlight[key] = true
	} else {
		delete(p.inFlight, key)
	}
}

func (p *Pipeline) generateGuide(ctx context.Context, classroomID string, force bool) (*GuideResult, error) {
	uploads, err := p.store.ListUploads(ctx, classroomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	if len(uploads) == 0 {
		return nil, fmt.Errorf("classroom %s has no uploads: %w", classroomID, errs.ErrEmptyInput)
	}

	prev, err := p.store.GetStudyGuide(ctx, classroomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load study guide: %w", err)
	}

	delta := tracker.Compute(uploads, prev, force)
	if delta.NoOp {
		p.log.Info("study guide up to date, skipping generation",
			"classroom_id", classroomID,
			"guide_version", prev.Metadata.GuideVersion)
		return &GuideResult{
			Guide:        prev,
			UploadCount:  len(uploads),
			UnitCount:    prev.Metadata.UnitCount,
			GuideVersion: prev.Metadata.GuideVersion,
			NoOp:         true,
		}, nil
	}

	state, err := p.loadClusterState(ctx, classroomID)
	if err != nil {
		return nil, err
	}

	// A forced run discards unit membership but keeps the embedding cache;
	// re-embedding unchanged text would spend provider budget for identical
	// vectors.
	prevUnits := state.Units
	if delta.Force {
		state.Units = nil
		state.PendingIDs = nil
	}

	active, skipped := splitBlank(delta.Uploads)
	if len(skipped) > 0 {
		p.log.Warn("skipping uploads with no processable text",
			"classroom_id", classroomID, "count", len(skipped))
	}

	// Every upload blank and no units yet: there is nothing to cluster or
	// synthesize, and clustering zero vectors is an error.
	if len(active) == 0 && len(state.Units) == 0 {
		return nil, fmt.Errorf("classroom %s has no uploads with processable text: %w", classroomID, errs.ErrEmptyInput)
	}

	if err := p.ensureEmbeddings(ctx, state, uploads, active); err != nil {
		return nil, err
	}

	uploadsByID := make(map[string]core.Upload, len(uploads))
	titles := make(map[string]string, len(uploads))
	for _, u := range uploads {
		uploadsByID[u.ID] = u
		titles[u.ID] = u.Title
	}

	touched, err := p.assignUnits(state, prevUnits, active, titles)
	if err != nil {
		return nil, err
	}

	p.logCostEstimate(classroomID, state, touched, uploadsByID)

	if err := p.synth.UpdateSections(ctx, state, touched, uploadsByID); err != nil {
		return nil, fmt.Errorf("failed to synthesize sections: %w", err)
	}

	processed := processedSet(prev, delta)
	newGuide := guide.BuildGuide(classroomID, prev, state, processed, len(uploads))

	if err := p.store.SaveStudyGuide(ctx, &newGuide, state); err != nil {
		return nil, fmt.Errorf("failed to persist study guide: %w", err)
	}

	p.log.Info("study guide generated",
		"classroom_id", classroomID,
		"guide_version", newGuide.Metadata.GuideVersion,
		"unit_count", len(state.Units),
		"upload_count", len(uploads),
		"delta_size", len(delta.Uploads),
		"forced", delta.Force)

	return &GuideResult{
		Guide:        &newGuide,
		UploadCount:  len(uploads),
		UnitCount:    len(state.Units),
		GuideVersion: newGuide.Metadata.GuideVersion,
	}, nil
}

// loadClusterState returns the persisted state, or a fresh one. A cached
// embedding is only valid for the model that produced it, so a model change
// drops the cache while keeping unit membership and sections.
func (p *Pipeline) loadClusterState(ctx context.Context, classroomID string) (*core.ClusterState, error) {
	state, err := p.store.GetClusterState(ctx, classroomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster state: %w", err)
	}

	modelVersion := p.client.EmbeddingModelVersion()
	if state == nil {
		return &core.ClusterState{
			ClassroomID:  classroomID,
			ModelVersion: modelVersion,
			Embeddings:   make(map[string][]float64),
		}, nil
	}

	if state.Embeddings == nil {
		state.Embeddings = make(map[string][]float64)
	}
	if state.ModelVersion != modelVersion {
		p.log.Warn("embedding model changed, invalidating vector cache",
			"classroom_id", classroomID,
			"old_model", state.ModelVersion,
			"new_model", modelVersion)
		state.Embeddings = make(map[string][]float64)
		state.ModelVersion = modelVersion
	}
	return state, nil
}

// ensureEmbeddings fills the vector cache for every upload in the batch,
// plus any unit member whose vector is missing (a model change empties the
// cache under existing units; their centroids are then recomputed from the
// fresh vectors before any assignment happens).
func (p *Pipeline) ensureEmbeddings(ctx context.Context, state *core.ClusterState, all []core.Upload, batch []core.Upload) error {
	byID := make(map[string]core.Upload, len(all))
	for _, u := range all {
		byID[u.ID] = u
	}

	for _, u := range batch {
		if _, ok := state.Embeddings[u.ID]; ok {
			continue
		}
		vec, err := p.embed(ctx, u.Title+"\n"+u.Text)
		if err != nil {
			return fmt.Errorf("failed to embed upload %s: %w", u.ID, err)
		}
		state.Embeddings[u.ID] = vec
	}

	recompute := false
	for i := range state.Units {
		for _, id := range state.Units[i].MemberUploadIDs {
			if _, ok := state.Embeddings[id]; ok {
				continue
			}
			u, found := byID[id]
			if !found {
				continue
			}
			vec, err := p.embed(ctx, u.Title+"\n"+u.Text)
			if err != nil {
				return fmt.Errorf("failed to re-embed upload %s: %w", id, err)
			}
			state.Embeddings[id] = vec
			recompute = true
		}
	}
	if recompute {
		for i := range state.Units {
			unit := &state.Units[i]
			unit.Centroid = clustering.CentroidOf(unit.MemberUploadIDs, state.Embeddings)
		}
	}
	return nil
}

func (p *Pipeline) embed(ctx context.Context, text string) ([]float64, error) {
	text = llm.Truncate(text, llm.MaxEmbedChars)
	var vec []float64
	err := retry.Do(ctx, p.policy, func(ctx context.Context) error {
		var err error
		vec, err = p.client.EmbedText(ctx, text)
		return err
	})
	return vec, err
}

// assignUnits routes the batch into the unit arena: a full clustering pass
// when no units exist yet, an incremental merge otherwise. After a forced
// recluster, prior unit identity carries over wherever membership overlap
// allows, so section continuity survives regeneration.
func (p *Pipeline) assignUnits(state *core.ClusterState, prevUnits []core.Unit, batch []core.Upload, titles map[string]string) (map[string][]string, error) {
	ids := make([]string, len(batch))
	for i, u := range batch {
		ids[i] = u.ID
	}

	if len(state.Units) == 0 {
		vectors := make([][]float64, len(ids))
		for i, id := range ids {
			vectors[i] = state.Embeddings[id]
		}
		units, err := p.clusterer.Cluster(state.ClassroomID, ids, vectors, titles)
		if err != nil {
			return nil, fmt.Errorf("failed to cluster uploads: %w", err)
		}
		state.Units = clustering.CarryIdentity(prevUnits, units)

		touched := make(map[string][]string, len(state.Units))
		for _, unit := range state.Units {
			touched[unit.ID] = unit.MemberUploadIDs
		}
		return touched, nil
	}

	result, err := p.clusterer.Merge(state, ids, titles)
	if err != nil {
		return nil, fmt.Errorf("failed to merge uploads into units: %w", err)
	}
	return result.Touched, nil
}

func (p *Pipeline) logCostEstimate(classroomID string, state *core.ClusterState, touched map[string][]string, uploadsByID map[string]core.Upload) {
	if len(touched) == 0 {
		return
	}
	prompts := make([]string, 0, len(touched))
	for unitID, uploadIDs := range touched {
		var text string
		if unit := state.UnitByID(unitID); unit != nil {
			text = unit.Section
		}
		for _, id := range uploadIDs {
			text += uploadsByID[id].Text
		}
		prompts = append(prompts, text)
	}

	est := cost.EstimateRun(prompts, p.client.ModelName())
	p.log.Info("estimated generation cost",
		"classroom_id", classroomID,
		"model", est.Model,
		"generation_calls", est.GenerationCalls,
		"input_tokens", est.InputTokens,
		"estimated_cost_usd", fmt.Sprintf("%.4f", est.EstimatedCostUSD))
}

// processedSet computes the processed upload IDs for the next guide version:
// exactly the current delta on forced runs, the union with the prior set
// otherwise. The set only ever grows between non-forced runs.
func processedSet(prev *core.StudyGuide, delta tracker.Delta) []string {
	if delta.Force || prev == nil {
		ids := make([]string, len(delta.Uploads))
		for i, u := range delta.Uploads {
			ids[i] = u.ID
		}
		return ids
	}

	seen := make(map[string]bool, len(prev.Metadata.ProcessedUploadIDs))
	ids := append([]string(nil), prev.Metadata.ProcessedUploadIDs...)
	for _, id := range ids {
		seen[id] = true
	}
	for _, u := range delta.Uploads {
		if !seen[u.ID] {
			ids = append(ids, u.ID)
			seen[u.ID] = true
		}
	}
	return ids
}

// splitBlank partitions a batch into uploads with processable text and
// uploads that are blank. Blank uploads count as processed so they stop
// reappearing in the delta, but they never reach the provider.
func splitBlank(uploads []core.Upload) (active, skipped []core.Upload) {
	for _, u := range uploads {
		if llm.IsBlank(u.Text) && llm.IsBlank(u.Title) {
			skipped = append(skipped, u)
			continue
		}
		active = append(active, u)
	}
	return active, skipped
}

func (p *Pipeline) generateInsights(ctx context.Context, classroomID string) (*InsightsResult, error) {
	windowEnd := time.Now().UTC()
	windowStart := windowEnd.Add(-p.window)

	msgs, err := p.store.ListMessages(ctx, classroomID, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("classroom %s has no recent messages: %w", classroomID, errs.ErrEmptyInput)
	}

	summary, err := p.aggregator.Summarize(ctx, classroomID, msgs, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	if err := p.store.SaveConfusionSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("failed to persist confusion summary: %w", err)
	}

	p.log.Info("confusion summary generated",
		"classroom_id", classroomID,
		"summary_id", summary.ID,
		"message_count", len(msgs))

	return &InsightsResult{SummaryID: summary.ID}, nil
}
