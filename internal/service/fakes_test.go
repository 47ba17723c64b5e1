package service

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/convorag/internal/ai"
	"github.com/xxxsen/convorag/internal/chunker"
	"github.com/xxxsen/convorag/internal/model"
	appErr "github.com/xxxsen/convorag/internal/pkg/errors"
	"github.com/xxxsen/convorag/internal/vectorstore"
)

const testDim = 64

// wordEmbedder hashes words into buckets so texts sharing words are close.
type wordEmbedder struct {
	mu         sync.Mutex
	batchCalls int
	texts      int
	fail       error
}

func wordVector(text string) []float32 {
	v := make([]float32, testDim)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%testDim]++
	}
	return v
}

func (e *wordEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	res, err := e.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

func (e *wordEmbedder) EmbedBatch(_ context.Context, texts []string, _ string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail != nil {
		return nil, e.fail
	}
	e.batchCalls++
	e.texts += len(texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = wordVector(t)
	}
	return out, nil
}

func (e *wordEmbedder) ModelName() string { return "words" }
func (e *wordEmbedder) Dimension() int    { return testDim }

func (e *wordEmbedder) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batchCalls
}

type recordingGenerator struct {
	mu      sync.Mutex
	calls   int
	system  string
	prompt  string
	opts    ai.GenerateOptions
	answer  string
	failErr error
}

func (g *recordingGenerator) Complete(_ context.Context, systemPrompt, userPrompt string, opts ai.GenerateOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.system, g.prompt, g.opts = systemPrompt, userPrompt, opts
	if g.failErr != nil {
		return "", g.failErr
	}
	if g.answer == "" {
		return "The budget was approved.", nil
	}
	return g.answer, nil
}

// memoryStore is an in-memory transcript and folder store.
type memoryStore struct {
	mu          sync.Mutex
	transcripts map[string]*model.Transcript
	segments    map[string][]model.SpeakerSegment
	folders     map[string]*model.Folder
	segmentErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		transcripts: map[string]*model.Transcript{},
		segments:    map[string][]model.SpeakerSegment{},
		folders:     map[string]*model.Folder{},
	}
}

func (m *memoryStore) addTranscript(t model.Transcript, segments ...model.SpeakerSegment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.SegmentsKey = t.ID + ".json"
	m.transcripts[t.ID] = &t
	m.segments[t.ID] = segments
}

func (m *memoryStore) addFolder(f model.Folder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders[f.ID] = &f
}

func (m *memoryStore) GetTranscript(_ context.Context, userID, id string) (*model.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transcripts[id]
	if !ok || t.UserID != userID {
		return nil, appErr.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memoryStore) LoadSegments(_ context.Context, t *model.Transcript) ([]model.SpeakerSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.segmentErr != nil {
		return nil, m.segmentErr
	}
	return m.segments[t.ID], nil
}

func (m *memoryStore) UpdateIndexingState(_ context.Context, id string, state model.IndexingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transcripts[id]
	if !ok {
		return appErr.ErrNotFound
	}
	t.IndexingState = state
	return nil
}

func (m *memoryStore) ListStale(_ context.Context, version, limit int) ([]model.TranscriptSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TranscriptSummary
	for _, t := range m.transcripts {
		if t.VectorIndexedAt > 0 && t.VectorIndexVersion < version && len(out) < limit {
			out = append(out, summaryOf(t))
		}
	}
	return out, nil
}

func (m *memoryStore) GetFolder(_ context.Context, userID, id string) (*model.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok || f.UserID != userID {
		return nil, appErr.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memoryStore) ListTranscriptsInFolder(_ context.Context, userID, folderID string) ([]model.TranscriptSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TranscriptSummary
	for _, t := range m.transcripts {
		if t.UserID == userID && t.FolderID == folderID {
			out = append(out, summaryOf(t))
		}
	}
	return out, nil
}

func (m *memoryStore) state(id string) model.IndexingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcripts[id].IndexingState
}

func summaryOf(t *model.Transcript) model.TranscriptSummary {
	return model.TranscriptSummary{
		ID: t.ID, UserID: t.UserID, FolderID: t.FolderID, Title: t.Title, Ctime: t.Ctime, IndexingState: t.IndexingState,
	}
}

type fixture struct {
	store     *memoryStore
	vectors   *vectorstore.Store
	embedder  *wordEmbedder
	generator *recordingGenerator
	indexer   *Indexer
	retriever *Retriever
	qa        *QAService
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemoryStore(),
		vectors:   vectorstore.NewStore(vectorstore.NewMemoryBackend(), testDim),
		embedder:  &wordEmbedder{},
		generator: &recordingGenerator{},
	}
	require.NoError(t, f.vectors.EnsureCollection(context.Background()))
	f.indexer = NewIndexer(f.store, f.vectors, f.embedder, chunker.New(chunker.DefaultConfig()), IndexerOptions{IndexVersion: 2})
	f.retriever = NewRetriever(f.indexer, f.store, f.store, f.vectors, f.embedder, RetrieverOptions{ScoreThreshold: 0.3, IndexWorkers: workers})
	synth := NewSynthesizer(f.generator, SynthesizerOptions{MaxTokens: 512, PromptCostPer1K: 0.001, CompletionCostPer1K: 0.002})
	f.qa = NewQAService(f.retriever, f.indexer, synth, f.store, f.store, f.vectors, DefaultQAOptions())
	return f
}

var budgetMeeting = []model.SpeakerSegment{
	{Speaker: "Alice", Start: 0, End: 12, Text: "We reviewed the marketing budget for next quarter."},
	{Speaker: "Bob", Start: 12, End: 30, Text: "The budget was approved with a ten percent increase."},
	{Speaker: "Carol", Start: 30, End: 41, Text: "Hiring plans are on hold until January."},
}

var errEmbed = errors.New("embedding backend down")
