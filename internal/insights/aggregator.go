// Package insights converts a window of classroom chat messages into a
// class-wide anonymized confusion summary. It runs independently of the
// study-guide flow and shares no state with it; correctness of the privacy
// guarantee takes priority over availability.
package insights

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cogni/internal/clustering"
	"cogni/internal/core"
	"cogni/internal/errs"
	"cogni/internal/llm"
	"cogni/internal/logger"
	"cogni/internal/retry"
)

const topicPromptTemplate = `You are analyzing anonymous classroom chat activity to help a teacher understand what students are confused about.

STUDENT MESSAGES (topic group "%s"):
%s

Write a short summary (2-4 sentences) of what this group of students seems confused about or interested in.

STRICT CONSTRAINTS:
- Do NOT quote any message
- Do NOT closely paraphrase any individual message
- Do NOT attribute anything to an individual student, even indirectly
- Describe only class-wide patterns in your own words`

const stricterSuffix = `

IMPORTANT: your previous attempt reproduced text from a student message. Rewrite entirely in your own words at a higher level of abstraction. Do not reuse any phrase longer than a few words from the messages.`

// Config holds the aggregator's privacy settings.
type Config struct {
	LeakMinLen int // Minimum leaking substring length the guard rejects
}

// DefaultConfig returns the default privacy settings.
func DefaultConfig() Config {
	return Config{LeakMinLen: 25}
}

// Aggregator produces anonymized confusion summaries from chat messages.
type Aggregator struct {
	client    llm.Client
	clusterer *clustering.Clusterer
	policy    retry.Policy
	cfg       Config
	log       *slog.Logger
}

// NewAggregator creates an aggregator. The clusterer must be a separate
// instance from the study-guide path; the two flows share primitives, not
// state.
func NewAggregator(client llm.Client, clusterer *clustering.Clusterer, policy retry.Policy, cfg Config) *Aggregator {
	if cfg.LeakMinLen <= 0 {
		cfg.LeakMinLen = DefaultConfig().LeakMinLen
	}
	return &Aggregator{
		client:    client,
		clusterer: clusterer,
		policy:    policy,
		cfg:       cfg,
		log:       logger.Get(),
	}
}

// Summarize converts the message window into an anonymized summary. Any
// topic whose generated text still leaks after one stricter regeneration
// fails the whole request with ErrPrivacyViolation; a leaking summary is
// never returned for persistence.
func (a *Aggregator) Summarize(ctx context.Context, classroomID string, msgs []core.ChatMessage, windowStart, windowEnd time.Time) (*core.ConfusionSummary, error) {
	var usable []core.ChatMessage
	for _, m := range msgs {
		if !llm.IsBlank(m.Text) {
			usable = append(usable, m)
		}
	}
	if len(usable) == 0 {
		return nil, errs.ErrEmptyInput
	}

	sources := make([]string, len(usable))
	for i, m := range usable {
		sources[i] = m.Text
	}

	groups, err := a.groupByTopic(ctx, usable)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("# Class Confusion Summary\n")

	for _, group := range groups {
		text, err := a.summarizeTopic(ctx, group, sources)
		if err != nil {
			return nil, err
		}
		b.WriteString("\n## ")
		b.WriteString(group.label)
		b.WriteString("\n\n")
		b.WriteString(text)
		b.WriteString("\n")
	}

	content := b.String()

	// Belt-and-suspenders scan over the assembled document; per-topic
	// checks already passed, so this only trips on pathological inputs.
	if fragment, leaked := FindLeak(content, sources, a.cfg.LeakMinLen); leaked {
		a.log.Warn("assembled summary leaked source text", "classroom_id", classroomID, "fragment_len", len(fragment))
		return nil, errs.ErrPrivacyViolation
	}

	return &core.ConfusionSummary{
		ID:          uuid.NewString(),
		ClassroomID: classroomID,
		Content:     content,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// topicGroup is one cluster of messages to summarize.
type topicGroup struct {
	label string
	texts []string
}

// groupByTopic embeds and clusters the messages with the same primitives as
// the unit clusterer. Small windows stay a single group; clustering noise
// on a handful of messages costs more than it buys.
func (a *Aggregator) groupByTopic(ctx context.Context, msgs []core.ChatMessage) ([]topicGroup, error) {
	if len(msgs) < 2*a.clusterer.Config().MinSpawnBatch {
		texts := make([]string, len(msgs))
		for i, m := range msgs {
			texts[i] = m.Text
		}
		return []topicGroup{{label: "Overall", texts: texts}}, nil
	}

	ids := make([]string, len(msgs))
	vectors := make([][]float64, len(msgs))
	textByID := make(map[string]string, len(msgs))

	for i, m := range msgs {
		ids[i] = m.ID
		textByID[m.ID] = m.Text

		var vec []float64
		err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
			var embErr error
			vec, embErr = a.client.EmbedText(ctx, m.Text)
			return embErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to embed message %s: %w", m.ID, err)
		}
		vectors[i] = vec
	}

	units, err := a.clusterer.Cluster("", ids, vectors, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to cluster messages: %w", err)
	}

	groups := make([]topicGroup, 0, len(units))
	for i, unit := range units {
		texts := make([]string, 0, len(unit.MemberUploadIDs))
		for _, id := range unit.MemberUploadIDs {
			texts = append(texts, textByID[id])
		}
		groups = append(groups, topicGroup{
			label: fmt.Sprintf("Topic %d", i+1),
			texts: texts,
		})
	}

	return groups, nil
}

// summarizeTopic issues one generation call for a topic group and enforces
// the leak guard, allowing a single stricter retry.
func (a *Aggregator) summarizeTopic(ctx context.Context, group topicGroup, sources []string) (string, error) {
	var numbered strings.Builder
	for i, text := range group.texts {
		fmt.Fprintf(&numbered, "%d. %s\n", i+1, text)
	}

	prompt := fmt.Sprintf(topicPromptTemplate, group.label, numbered.String())

	text, err := a.generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	fragment, leaked := FindLeak(text, sources, a.cfg.LeakMinLen)
	if !leaked {
		return text, nil
	}

	a.log.Warn("topic summary leaked source text, regenerating",
		"label", group.label,
		"fragment_len", len(fragment),
	)

	text, err = a.generate(ctx, prompt+stricterSuffix)
	if err != nil {
		return "", err
	}

	if _, leaked := FindLeak(text, sources, a.cfg.LeakMinLen); leaked {
		return "", errs.ErrPrivacyViolation
	}

	return text, nil
}

func (a *Aggregator) generate(ctx context.Context, prompt string) (string, error) {
	var text string
	err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
		out, genErr := a.client.GenerateText(ctx, prompt)
		if genErr != nil {
			return genErr
		}
		text = strings.TrimSpace(out)
		return nil
	})
	return text, err
}
