package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/quill/internal/config"
	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/mocks"
	"github.com/phrazzld/quill/internal/platform/memory"
	"github.com/phrazzld/quill/internal/retrieval"
	"github.com/phrazzld/quill/internal/retry"
	"github.com/phrazzld/quill/internal/similarity"
	"github.com/stretchr/testify/require"
)

type harness struct {
	tasks      *memory.TaskStore
	embeddings *memory.EmbeddingStore
	rejections *memory.RejectionLog
	generator  *mocks.MockGenerator
	embedder   *mocks.MockEmbedder
	searcher   *mocks.MockSearcher
	settings   Settings
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		tasks:      memory.NewTaskStore(),
		embeddings: memory.NewEmbeddingStore(),
		rejections: memory.NewRejectionLog(),
		generator:  &mocks.MockGenerator{},
		embedder:   &mocks.MockEmbedder{},
		searcher:   &mocks.MockSearcher{},
		settings:   testSettings(),
	}
}

func testSettings() Settings {
	agent := config.AgentConfig{Model: "test-model", Temperature: 0.5, MaxTokens: 512}
	return Settings{
		TopK:               3,
		DuplicateThreshold: 0.90,
		WarnThreshold:      0.85,
		KnownTitlesWindow:  50,
		IdeasPerRequest:    3,
		MinDraftWords:      5,
		Agents:             config.AgentsConfig{Idea: agent, Outline: agent, Draft: agent},
		Retry:              retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, AttemptTimeout: time.Second},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Tasks:     h.tasks,
		Generator: h.generator,
		Context:   retrieval.NewAggregator(h.searcher, nil),
	}
}

func (h *harness) ideas() *IdeaGenerator {
	gate := similarity.NewGate(h.embedder, h.embeddings, nil)
	return NewIdeaGenerator(h.deps(), gate, h.rejections, h.settings)
}

func (h *harness) lease(t *testing.T, taskType domain.TaskType) *domain.PipelineTask {
	t.Helper()
	leased, err := h.tasks.LeaseNextBatch(context.Background(), taskType, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	return leased[0]
}

func (h *harness) createIdea(t *testing.T, title, audience string) *domain.PipelineTask {
	t.Helper()
	task, err := h.tasks.CreateTask(context.Background(), domain.NewTaskSpec{
		Type:    domain.TaskTypeIdea,
		Payload: domain.IdeaPayload{Title: title, Audience: audience},
	})
	require.NoError(t, err)
	return task
}

func sampleOutline() domain.OutlinePayload {
	return domain.OutlinePayload{
		Title:    "Foo",
		Hook:     "Why foo matters in the lab.",
		Audience: "Chemists",
		Sections: []domain.OutlineSection{
			{Heading: "What foo is", Points: []string{"Definition", "History"}},
			{Heading: "Using foo", Points: []string{"Bench protocol"}},
		},
		SEO: domain.SEOMetadata{
			PrimaryKeyword:  "foo",
			MetaDescription: "A short guide to foo for chemists.",
		},
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func prose(words int) string {
	return strings.TrimSpace(strings.Repeat("word ", words))
}
