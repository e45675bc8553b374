package kb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phildougherty/medic/internal/ai"
)

// keywordEmbedder maps text onto a small vocabulary so that similarity is
// predictable in tests.
type keywordEmbedder struct {
	calls int32
}

var vocabulary = []string{"chest", "fever", "pregnan", "rash", "breath", "mild"}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	atomic.AddInt32(&e.calls, 1)
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := make([]float64, len(vocabulary)+1)
		lower := strings.ToLower(t)
		for j, w := range vocabulary {
			v[j] = float64(strings.Count(lower, w))
		}
		v[len(vocabulary)] = 0.01
		out[i] = v
	}
	return out, nil
}

type recordingCompleter struct {
	answer   string
	err      error
	messages []ai.Message
	options  ai.StreamOptions
}

func (c *recordingCompleter) Complete(_ context.Context, messages []ai.Message, options ai.StreamOptions) (string, error) {
	c.messages = messages
	c.options = options
	return c.answer, c.err
}

func writeGuidelines(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"cardiac.md":   "# Chest pain\nSudden chest pain or shortness of breath is an emergency. Call 911.\n",
		"fever.txt":    "High fever with cough for under three days: see a GP within 24-48 hours.\n",
		"pregnancy.md": "## Pregnancy\nPregnant patients with strong abdominal pain need urgent evaluation.\n",
		"notes.json":   `{"ignored": true}`,
		".draft.md":    "# Hidden\nchest chest chest",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestKnowledgeBase_AnswerBuildsIndexOnce(t *testing.T) {
	dir := writeGuidelines(t)
	embedder := &keywordEmbedder{}
	llm := &recordingCompleter{answer: "  This is an emergency. Call 911.  "}
	kb := New(Options{Dir: dir, TopK: 1}, embedder, nil, llm, logr.Discard())

	answer, err := kb.Answer(context.Background(), "Patient with sudden chest pain")
	require.NoError(t, err)
	assert.Equal(t, "This is an emergency. Call 911.", answer)

	require.Len(t, llm.messages, 2)
	prompt := llm.messages[1].Content
	assert.Contains(t, prompt, "source: cardiac.md")
	assert.NotContains(t, prompt, "fever.txt", "only the top hit is included")
	assert.Contains(t, prompt, "Query: Patient with sudden chest pain")
	assert.Equal(t, "gpt-4o-mini", llm.options.Model)

	_, err = kb.Answer(context.Background(), "fever and cough")
	require.NoError(t, err)

	// One build embedding plus one per query.
	assert.Equal(t, int32(3), atomic.LoadInt32(&embedder.calls))
	assert.Equal(t, 3, kb.Stats().Documents)
}

func TestKnowledgeBase_Retrieve(t *testing.T) {
	kb := New(Options{Dir: writeGuidelines(t), TopK: 2}, &keywordEmbedder{}, NewMemoryVectorStore(), &recordingCompleter{}, logr.Discard())

	hits, err := kb.Retrieve(context.Background(), "pregnant with pain")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "pregnancy.md", hits[0].Source)
	assert.Equal(t, "Pregnancy", hits[0].Heading)
}

func TestKnowledgeBase_Errors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		kb := New(Options{Dir: filepath.Join(t.TempDir(), "nope")}, &keywordEmbedder{}, nil, &recordingCompleter{}, logr.Discard())
		_, err := kb.Answer(context.Background(), "q")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "data directory not found")
	})

	t.Run("no documents", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte{0x89}, 0644))
		kb := New(Options{Dir: dir}, &keywordEmbedder{}, nil, &recordingCompleter{}, logr.Discard())
		_, err := kb.Answer(context.Background(), "q")
		assert.ErrorIs(t, err, ErrNoDocuments)
	})

	t.Run("llm failure", func(t *testing.T) {
		llm := &recordingCompleter{err: errors.New("rate limited")}
		kb := New(Options{Dir: writeGuidelines(t)}, &keywordEmbedder{}, nil, llm, logr.Discard())
		_, err := kb.Answer(context.Background(), "chest pain")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limited")
	})

	t.Run("failed build is retried", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "later")
		kb := New(Options{Dir: dir}, &keywordEmbedder{}, nil, &recordingCompleter{answer: "ok"}, logr.Discard())
		_, err := kb.Answer(context.Background(), "q")
		require.Error(t, err)

		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "g.md"), []byte("mild rash: monitor at home"), 0644))
		answer, err := kb.Answer(context.Background(), "rash")
		require.NoError(t, err)
		assert.Equal(t, "ok", answer)
	})
}

func TestLoadDocuments(t *testing.T) {
	docs, err := LoadDocuments(writeGuidelines(t))
	require.NoError(t, err)

	var sources []string
	for _, d := range docs {
		sources = append(sources, d.Source)
	}
	assert.Equal(t, []string{"cardiac.md", "fever.txt", "pregnancy.md"}, sources)
}

func TestChunker_Split(t *testing.T) {
	doc := Document{
		Source: "g.md",
		Text:   "intro line\n# Fever\n" + strings.Repeat("word ", 60) + "\n## Rash\nitchy rash guidance",
	}

	chunks := Chunker{Size: 100, Overlap: 20}.Split(doc)
	require.GreaterOrEqual(t, len(chunks), 4)

	assert.Equal(t, "", chunks[0].Heading)
	assert.Equal(t, "intro line", chunks[0].Text)
	assert.Equal(t, "Fever", chunks[1].Heading)
	assert.True(t, strings.HasPrefix(chunks[1].Text, "Fever\n"))

	last := chunks[len(chunks)-1]
	assert.Equal(t, "Rash", last.Heading)
	assert.Equal(t, "Rash\nitchy rash guidance", last.Text)

	ids := make(map[string]bool)
	for _, c := range chunks {
		assert.False(t, ids[c.ID], "chunk ids are unique")
		ids[c.ID] = true
		if c.Heading == "Fever" {
			assert.LessOrEqual(t, len(c.Text)-len("Fever\n"), 100)
		}
	}
}

func TestWindowsOverlap(t *testing.T) {
	text := "one two three four five six seven eight nine ten"
	w := windows(text, 20, 8)
	require.Greater(t, len(w), 1)
	for i := 1; i < len(w); i++ {
		prevWords := strings.Fields(w[i-1])
		assert.Contains(t, strings.Fields(w[i]), prevWords[len(prevWords)-1], "window %d should repeat the tail of the previous one", i)
		assert.LessOrEqual(t, len(w[i]), 20)
	}
}

func TestMemoryVectorStore_Search(t *testing.T) {
	s := NewMemoryVectorStore()
	require.NoError(t, s.Replace(context.Background(), []Chunk{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "b", Embedding: []float64{0, 1}},
		{ID: "c", Embedding: []float64{0.7, 0.7}},
	}))

	hits, err := s.Search(context.Background(), []float64{1, 0.1}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[1,-0.5,0.25]", vectorLiteral([]float64{1, -0.5, 0.25}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}
