package kb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/phildougherty/medic/internal/ai"
	"github.com/phildougherty/medic/internal/constants"
)

// Completer is the slice of ai.Manager the knowledge base needs.
type Completer interface {
	Complete(ctx context.Context, messages []ai.Message, options ai.StreamOptions) (string, error)
}

// Options configures a KnowledgeBase.
type Options struct {
	Dir          string
	TopK         int
	ChunkSize    int
	ChunkOverlap int
	Model        string
}

// Stats describes the current index.
type Stats struct {
	Documents int       `json:"documents"`
	Chunks    int       `json:"chunks"`
	BuiltAt   time.Time `json:"built_at"`
}

// KnowledgeBase answers questions from the guideline documents. The index
// is built on first use; a failed build is retried on the next call.
type KnowledgeBase struct {
	opts     Options
	embedder Embedder
	store    VectorStore
	llm      Completer
	logger   logr.Logger

	mu    sync.Mutex
	built bool
	stats Stats
}

func New(opts Options, embedder Embedder, store VectorStore, llm Completer, logger logr.Logger) *KnowledgeBase {
	if opts.Dir == "" {
		opts.Dir = constants.DefaultGuidelinesDir
	}
	if opts.TopK <= 0 {
		opts.TopK = constants.DefaultTopK
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = constants.DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = constants.DefaultChunkOverlap
	}
	if opts.Model == "" {
		opts.Model = constants.DefaultGuidelinesModel
	}
	if store == nil {
		store = NewMemoryVectorStore()
	}

	return &KnowledgeBase{
		opts:     opts,
		embedder: embedder,
		store:    store,
		llm:      llm,
		logger:   logger.WithName("kb"),
	}
}

// Reindex rebuilds the index from the documents on disk.
func (kb *KnowledgeBase) Reindex(ctx context.Context) (Stats, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.buildLocked(ctx)
}

func (kb *KnowledgeBase) ensureIndex(ctx context.Context) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.built {
		return nil
	}
	_, err := kb.buildLocked(ctx)
	return err
}

func (kb *KnowledgeBase) buildLocked(ctx context.Context) (Stats, error) {
	start := time.Now()

	docs, err := LoadDocuments(kb.opts.Dir)
	if err != nil {
		return Stats{}, err
	}

	chunker := Chunker{Size: kb.opts.ChunkSize, Overlap: kb.opts.ChunkOverlap}
	var chunks []Chunk
	for _, doc := range docs {
		chunks = append(chunks, chunker.Split(doc)...)
	}
	if len(chunks) == 0 {
		return Stats{}, fmt.Errorf("%w in %s", ErrNoDocuments, kb.opts.Dir)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := kb.embedder.Embed(ctx, texts)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to embed guidelines: %w", err)
	}
	if len(vectors) != len(chunks) {
		return Stats{}, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	if err := kb.store.Replace(ctx, chunks); err != nil {
		return Stats{}, fmt.Errorf("failed to store guidelines index: %w", err)
	}

	kb.built = true
	kb.stats = Stats{Documents: len(docs), Chunks: len(chunks), BuiltAt: time.Now().UTC()}
	kb.logger.Info("Guidelines indexed", "documents", len(docs), "chunks", len(chunks), "duration", time.Since(start).String())
	return kb.stats, nil
}

// Stats returns the last build statistics; the zero value before any build.
func (kb *KnowledgeBase) Stats() Stats {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.stats
}

// Retrieve returns the chunks closest to query.
func (kb *KnowledgeBase) Retrieve(ctx context.Context, query string) ([]ScoredChunk, error) {
	if err := kb.ensureIndex(ctx); err != nil {
		return nil, err
	}

	vectors, err := kb.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for the query", len(vectors))
	}
	return kb.store.Search(ctx, vectors[0], kb.opts.TopK)
}

// Answer retrieves guideline context for query and asks the LLM to answer
// from it. The answer is plain text.
func (kb *KnowledgeBase) Answer(ctx context.Context, query string) (string, error) {
	hits, err := kb.Retrieve(ctx, query)
	if err != nil {
		return "", err
	}

	messages := []ai.Message{
		{Role: ai.RoleSystem, Content: answerSystemPrompt},
		{Role: ai.RoleUser, Content: buildAnswerPrompt(query, hits)},
	}
	answer, err := kb.llm.Complete(ctx, messages, ai.StreamOptions{
		Model:       kb.opts.Model,
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to answer from guidelines: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

const answerSystemPrompt = "You are a triage assistant answering strictly from clinical triage guidelines."

func buildAnswerPrompt(query string, hits []ScoredChunk) string {
	var b strings.Builder
	b.WriteString("Context information is below.\n---------------------\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "source: %s\n%s\n\n", h.Source, h.Text)
	}
	b.WriteString("---------------------\n")
	b.WriteString("Given the context information and not prior knowledge, answer the query.\n")
	b.WriteString("Query: " + query + "\n")
	b.WriteString("Answer: ")
	return b.String()
}
