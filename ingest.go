package policygraph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/policygraph/clause"
	"github.com/brunobiangulo/policygraph/parser"
	"github.com/brunobiangulo/policygraph/store"
)

// Version statuses.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// IngestOption configures ingestion behavior.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	versionID   string
	productCode string
	productName string
	force       bool
}

// WithVersionID ingests into the given version id instead of the version
// previously ingested from the same source, or a fresh one.
func WithVersionID(id string) IngestOption {
	return func(o *ingestOptions) { o.versionID = id }
}

// WithProduct records the insurance product the document belongs to.
func WithProduct(code, name string) IngestOption {
	return func(o *ingestOptions) {
		o.productCode = code
		o.productName = name
	}
}

// WithForce re-ingests even if the content hash hasn't changed.
func WithForce() IngestOption {
	return func(o *ingestOptions) { o.force = true }
}

// IngestResult reports one ingest.
type IngestResult struct {
	VersionID string      `json:"version_id"`
	Source    string      `json:"source"`
	Skipped   bool        `json:"skipped"`
	Stats     IngestStats `json:"stats"`
	Error     string      `json:"error,omitempty"`
}

// IngestStats is stored as JSON on the version row.
type IngestStats struct {
	Method     string `json:"method,omitempty"`
	Articles   int    `json:"articles"`
	Paragraphs int    `json:"paragraphs"`
	Items      int    `json:"items"`
	References int    `json:"references"`
	Unresolved int    `json:"unresolved"`
	Classified int    `json:"classified"`
	Embeddings int    `json:"embeddings"`
	Nodes      int    `json:"nodes"`
	Failed     int    `json:"failed"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}

// Ingest processes a policy file through the full pipeline.
func (e *engine) Ingest(ctx context.Context, path string, opts ...IngestOption) (*IngestResult, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	options := &ingestOptions{}
	for _, o := range opts {
		o(options)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if _, err := e.parsers.Get(parser.FormatOf(absPath)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(absPath))
	}

	hash, err := fileHash(absPath)
	if err != nil {
		return nil, fmt.Errorf("hashing file: %w", err)
	}

	v, skip, err := e.prepareVersion(ctx, absPath, hash, options)
	if err != nil || skip {
		return &IngestResult{VersionID: v.ID, Source: absPath, Skipped: skip}, err
	}

	start := time.Now()
	slog.Info("ingest: parsing document", "path", absPath, "version", v.ID)
	doc, err := e.parsers.Extract(ctx, absPath)
	if err != nil {
		e.setStatus(ctx, v.ID, StatusError, nil)
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}
	slog.Info("ingest: parsing complete", "path", absPath, "pages", len(doc.Pages),
		"method", doc.Method, "elapsed", time.Since(start).Round(time.Millisecond))

	return e.ingest(ctx, v, doc.Text(), doc.Method, start)
}

// IngestText processes already extracted policy text.
func (e *engine) IngestText(ctx context.Context, name, text string, opts ...IngestOption) (*IngestResult, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	options := &ingestOptions{}
	for _, o := range opts {
		o(options)
	}

	sum := sha256.Sum256([]byte(text))
	v, skip, err := e.prepareVersion(ctx, name, hex.EncodeToString(sum[:]), options)
	if err != nil || skip {
		return &IngestResult{VersionID: v.ID, Source: name, Skipped: skip}, err
	}
	return e.ingest(ctx, v, text, "text", time.Now())
}

// IngestBatch ingests files concurrently, at most IngestConcurrency at a
// time. Per-file failures land in the results; the returned error joins them.
func (e *engine) IngestBatch(ctx context.Context, paths []string, opts ...IngestOption) ([]IngestResult, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	results := make([]IngestResult, len(paths))
	errs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.IngestConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			r, err := e.Ingest(gctx, p, opts...)
			if r != nil {
				results[i] = *r
			}
			results[i].Source = p
			if err != nil {
				results[i].Error = err.Error()
				errs[i] = fmt.Errorf("%s: %w", p, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, errors.Join(errs...)
}

// prepareVersion resolves the version id for a source and decides whether
// the ingest can be skipped. The returned version is never nil.
func (e *engine) prepareVersion(ctx context.Context, source, hash string, o *ingestOptions) (*store.Version, bool, error) {
	var existing *store.Version
	var err error
	if o.versionID != "" {
		existing, err = e.store.GetVersion(ctx, o.versionID)
	} else {
		existing, err = e.store.GetVersionByPath(ctx, source)
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return &store.Version{ID: o.versionID}, false, fmt.Errorf("looking up version: %w", err)
	}

	v := &store.Version{
		ID:          o.versionID,
		ProductCode: o.productCode,
		ProductName: o.productName,
		SourcePath:  source,
		ContentHash: hash,
		Status:      StatusProcessing,
	}
	if existing != nil {
		v.ID = existing.ID
		if v.ProductCode == "" && v.ProductName == "" {
			v.ProductCode, v.ProductName = existing.ProductCode, existing.ProductName
		}
		if existing.ContentHash == hash && existing.Status == StatusReady && !o.force {
			slog.Info("ingest: content unchanged, skipping", "source", source, "version", existing.ID)
			return existing, true, nil
		}
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}

	if err := e.store.UpsertVersion(ctx, *v); err != nil {
		return v, false, fmt.Errorf("registering version: %w", err)
	}
	return v, false, nil
}

// ingest runs the structural pipeline over extracted text and projects the
// result into the store.
func (e *engine) ingest(ctx context.Context, v *store.Version, text, method string, start time.Time) (*IngestResult, error) {
	res := &IngestResult{VersionID: v.ID, Source: v.SourcePath}
	fail := func(err error) (*IngestResult, error) {
		e.setStatus(ctx, v.ID, StatusError, nil)
		return nil, err
	}

	stepStart := time.Now()
	doc := clause.Parse(text)
	if err := doc.Validate(); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrParsingFailed, err))
	}
	if len(doc.Articles) == 0 {
		return fail(fmt.Errorf("%w: %s", ErrNoArticles, v.SourcePath))
	}
	slog.Info("ingest: clause structure parsed", "version", v.ID,
		"articles", len(doc.Articles), "paragraphs", len(doc.Paragraphs),
		"items", len(doc.Items), "references", len(doc.References),
		"unresolved", doc.Unresolved, "elapsed", time.Since(stepStart).Round(time.Millisecond))

	classified, err := e.classify(ctx, doc)
	if err != nil {
		return fail(err)
	}

	stepStart = time.Now()
	vecs, err := e.embedDocument(ctx, doc)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
	}
	slog.Info("ingest: embeddings generated", "version", v.ID,
		"nodes", len(doc.Articles)+len(doc.Paragraphs)+len(doc.Items),
		"elapsed", time.Since(stepStart).Round(time.Millisecond))

	// Forced or changed re-ingest replaces the previous graph of the version.
	if err := e.store.ClearVersion(ctx, v.ID); err != nil {
		return fail(fmt.Errorf("clearing version: %w", err))
	}

	stepStart = time.Now()
	ws, err := e.store.WriteDocument(ctx, v.ID, doc, vecs, observeNodeWrite)
	if err != nil {
		return fail(fmt.Errorf("writing graph: %w", err))
	}
	slog.Info("ingest: graph written", "version", v.ID, "nodes", ws.Nodes(),
		"references", ws.References, "failed", ws.Failed, "skipped", ws.Skipped,
		"elapsed", time.Since(stepStart).Round(time.Millisecond))

	res.Stats = IngestStats{
		Method:     method,
		Articles:   ws.Articles,
		Paragraphs: ws.Paragraphs,
		Items:      ws.Items,
		References: ws.References,
		Unresolved: doc.Unresolved,
		Classified: classified,
		Embeddings: ws.Embeddings,
		Nodes:      ws.Nodes(),
		Failed:     ws.Failed,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}
	e.setStatus(ctx, v.ID, StatusReady, &res.Stats)
	ingestRuns.WithLabelValues(StatusReady).Inc()

	slog.Info("ingest: complete", "version", v.ID, "source", v.SourcePath,
		"articles", res.Stats.Articles, "failed", res.Stats.Failed,
		"total", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// setStatus records a version status. Failures are only logged.
func (e *engine) setStatus(ctx context.Context, id, status string, stats *IngestStats) {
	var raw string
	if stats != nil {
		b, _ := json.Marshal(stats)
		raw = string(b)
	}
	if status == StatusError {
		ingestRuns.WithLabelValues(StatusError).Inc()
	}
	// A cancelled ingest should still be marked as failed.
	if err := e.store.UpdateVersionStatus(context.WithoutCancel(ctx), id, status, raw); err != nil {
		slog.Warn("ingest: status update failed", "version", id, "status", status, "error", err)
	}
}

// classify refines article hints when a classifier is configured. The
// classifier never fails; it keeps the title hint instead.
func (e *engine) classify(ctx context.Context, doc *clause.Document) (int, error) {
	if e.classifier == nil {
		return 0, nil
	}
	start := time.Now()
	refined := make([]clause.Hint, len(doc.Articles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.EmbedConcurrency)
	for i, a := range doc.Articles {
		g.Go(func() error {
			refined[i] = e.classifier.Classify(gctx, a)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	changed := 0
	for i, h := range refined {
		if h != doc.Articles[i].Hint {
			doc.Articles[i].Hint = h
			changed++
		}
	}
	slog.Info("ingest: clauses classified", "articles", len(doc.Articles), "changed", changed,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return changed, nil
}

// maxEmbedChars caps the characters sent per text to the embedding model.
const maxEmbedChars = 8000

// truncateForEmbed cuts text to maxEmbedChars runes.
func truncateForEmbed(text string) string {
	n := 0
	for i := range text {
		if n == maxEmbedChars {
			return text[:i]
		}
		n++
	}
	return text
}

// embedText is the text embedded for a node. Articles carry their title so
// a question naming the subject matches the header.
func embedText(doc *clause.Document, n clause.Node) string {
	if n.Kind == clause.KindArticle {
		a := doc.Articles[n.Index]
		if a.Title != "" {
			return truncateForEmbed(a.Title + "\n" + a.Text)
		}
	}
	return truncateForEmbed(doc.Text(n))
}

// embedDocument embeds every node of doc in batches of EmbedBatchSize, at
// most EmbedConcurrency batches in flight. Any failed batch fails the whole
// document.
func (e *engine) embedDocument(ctx context.Context, doc *clause.Document) (*store.Vectors, error) {
	var nodes []clause.Node
	for _, k := range clause.Kinds {
		var count int
		switch k {
		case clause.KindArticle:
			count = len(doc.Articles)
		case clause.KindParagraph:
			count = len(doc.Paragraphs)
		case clause.KindItem:
			count = len(doc.Items)
		}
		for i := 0; i < count; i++ {
			nodes = append(nodes, clause.Node{Kind: k, Index: i})
		}
	}

	out := make([][]float32, len(nodes))
	batch := e.cfg.EmbedBatchSize

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.EmbedConcurrency)
	for i := 0; i < len(nodes); i += batch {
		end := min(i+batch, len(nodes))
		g.Go(func() error {
			texts := make([]string, end-i)
			for j := i; j < end; j++ {
				texts[j-i] = embedText(doc, nodes[j])
			}
			embeddings, err := e.embedLLM.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("batch %d-%d: %w", i, end, err)
			}
			if len(embeddings) != len(texts) {
				return fmt.Errorf("batch %d-%d: got %d embeddings for %d texts", i, end, len(embeddings), len(texts))
			}
			copy(out[i:end], embeddings)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	vecs := &store.Vectors{
		Articles:   make([][]float32, len(doc.Articles)),
		Paragraphs: make([][]float32, len(doc.Paragraphs)),
		Items:      make([][]float32, len(doc.Items)),
	}
	for i, n := range nodes {
		switch n.Kind {
		case clause.KindArticle:
			vecs.Articles[n.Index] = out[i]
		case clause.KindParagraph:
			vecs.Paragraphs[n.Index] = out[i]
		case clause.KindItem:
			vecs.Items[n.Index] = out[i]
		}
	}
	return vecs, nil
}

// fileHash computes the SHA-256 hash of a file's content.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
