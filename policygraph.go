package policygraph

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/brunobiangulo/policygraph/llm"
	"github.com/brunobiangulo/policygraph/parser"
	"github.com/brunobiangulo/policygraph/reasoning"
	"github.com/brunobiangulo/policygraph/retrieval"
	"github.com/brunobiangulo/policygraph/store"
)

// Engine is the main entry point for the policy graph.
type Engine interface {
	// Ingest extracts the text of a policy file, parses its clause
	// structure, embeds every node and writes the graph for one version.
	// Unchanged files are skipped unless WithForce is given.
	Ingest(ctx context.Context, path string, opts ...IngestOption) (*IngestResult, error)

	// IngestText is Ingest for text that is already extracted. name stands
	// in for the source path.
	IngestText(ctx context.Context, name, text string, opts ...IngestOption) (*IngestResult, error)

	// IngestBatch ingests several files with bounded concurrency. A failed
	// file is reported in its result and does not stop the others.
	IngestBatch(ctx context.Context, paths []string, opts ...IngestOption) ([]IngestResult, error)

	// Retrieve finds the article that answers question and assembles its
	// context. A question nothing matches returns Found == false.
	Retrieve(ctx context.Context, question string, opts ...QueryOption) (*Retrieval, error)

	// Query is Retrieve followed by answer synthesis when enabled.
	Query(ctx context.Context, question string, opts ...QueryOption) (*Result, error)

	// BatchQuery runs Query for each question, keeping input order.
	BatchQuery(ctx context.Context, questions []string, opts ...QueryOption) ([]Result, error)

	// Update re-checks the source file of a version by hash and re-ingests
	// it when changed.
	Update(ctx context.Context, versionID string) (bool, error)

	// UpdateAll runs Update for every version with a source file.
	UpdateAll(ctx context.Context) ([]UpdateResult, error)

	// Versions lists ingested versions, newest first.
	Versions(ctx context.Context) ([]store.Version, error)

	// DeleteVersion removes a version and all its nodes.
	DeleteVersion(ctx context.Context, versionID string) error

	// Stats returns row counts for the whole graph.
	Stats(ctx context.Context) (*store.DBStats, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// UpdateResult reports the outcome of a version update check.
type UpdateResult struct {
	VersionID string `json:"version_id"`
	Path      string `json:"path"`
	Changed   bool   `json:"changed"`
	Error     string `json:"error,omitempty"`
}

// Option customises engine construction.
type Option func(*engine)

// WithChatProvider replaces the chat provider built from Config.Chat.
func WithChatProvider(p llm.Provider) Option {
	return func(e *engine) { e.chatLLM = p }
}

// WithEmbeddingProvider replaces the provider built from Config.Embedding.
func WithEmbeddingProvider(p llm.Provider) Option {
	return func(e *engine) { e.embedLLM = p }
}

// WithSelector replaces the LLM article selector.
func WithSelector(s reasoning.Selector) Option {
	return func(e *engine) { e.selector = s }
}

// WithClassifier sets the clause classifier used at ingest. It also turns
// classification on regardless of Config.ClassifyClauses.
func WithClassifier(c reasoning.Classifier) Option {
	return func(e *engine) { e.classifier = c }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg        Config
	store      *store.Store
	chatLLM    llm.Provider
	embedLLM   llm.Provider
	parsers    *parser.Registry
	locator    *retrieval.Locator
	assembler  *retrieval.Assembler
	selector   reasoning.Selector
	classifier reasoning.Classifier
	answerer   *reasoning.Answerer
	closed     atomic.Bool
}

// New creates a policy graph engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &engine{cfg: cfg, parsers: parser.NewRegistry()}
	for _, o := range opts {
		o(e)
	}

	// Create LLM providers not supplied as options
	var err error
	if e.chatLLM == nil {
		if e.chatLLM, err = llm.NewProvider(cfg.Chat.provider()); err != nil {
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
	}
	if e.embedLLM == nil {
		if e.embedLLM, err = llm.NewProvider(cfg.Embedding.provider()); err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	e.store = s

	e.locator = retrieval.NewLocator(s)
	e.assembler = retrieval.NewAssembler(s)
	if e.selector == nil {
		e.selector = reasoning.NewLLMSelector(e.chatLLM, reasoning.SelectorConfig{
			PreviewChars: cfg.PreviewChars,
			Temperature:  cfg.SelectTemperature,
			Model:        cfg.Chat.Model,
		})
	}
	if e.classifier == nil && cfg.ClassifyClauses {
		e.classifier = reasoning.NewLLMClassifier(e.chatLLM, cfg.Chat.Model)
	}
	e.answerer = reasoning.NewAnswerer(e.chatLLM, cfg.Chat.Model)
	return e, nil
}

// Update checks if a version's source file has changed and re-ingests it.
func (e *engine) Update(ctx context.Context, versionID string) (bool, error) {
	if e.closed.Load() {
		return false, ErrClosed
	}
	v, err := e.store.GetVersion(ctx, versionID)
	if err != nil {
		return false, e.versionErr(versionID, err)
	}
	if v.SourcePath == "" {
		return false, fmt.Errorf("version %s has no source file", versionID)
	}

	hash, err := fileHash(v.SourcePath)
	if err != nil {
		return false, fmt.Errorf("hashing file: %w", err)
	}
	if hash == v.ContentHash && v.Status == StatusReady {
		return false, nil
	}

	if _, err := e.Ingest(ctx, v.SourcePath, WithVersionID(v.ID), WithForce()); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateAll checks all file-backed versions for changes.
func (e *engine) UpdateAll(ctx context.Context) ([]UpdateResult, error) {
	versions, err := e.Versions(ctx)
	if err != nil {
		return nil, err
	}

	var results []UpdateResult
	for _, v := range versions {
		if v.SourcePath == "" {
			continue
		}
		changed, err := e.Update(ctx, v.ID)
		r := UpdateResult{VersionID: v.ID, Path: v.SourcePath, Changed: changed}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results, nil
}

// Versions returns all ingested versions.
func (e *engine) Versions(ctx context.Context) ([]store.Version, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.store.ListVersions(ctx)
}

// DeleteVersion removes a version and everything under it.
func (e *engine) DeleteVersion(ctx context.Context, versionID string) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.store.DeleteVersion(ctx, versionID); err != nil {
		return e.versionErr(versionID, err)
	}
	return nil
}

// Stats returns graph-wide counts.
func (e *engine) Stats(ctx context.Context) (*store.DBStats, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.store.DBStats(ctx)
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the engine. Calls after the first are no-ops.
func (e *engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.store.Close()
}

func (e *engine) versionErr(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrVersionNotFound, id)
	}
	return err
}
