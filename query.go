package policygraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/policygraph/reasoning"
	"github.com/brunobiangulo/policygraph/retrieval"
	"github.com/brunobiangulo/policygraph/store"
)

// Reasons reported with a not-found Retrieval.
const (
	ReasonNoNodes    = "no relevant nodes found"
	ReasonNoArticles = "no parent articles found"
	ReasonNoSelected = "no article selected"
)

// QueryOption configures query behavior.
type QueryOption func(*queryOptions)

type queryOptions struct {
	versionID string
	topK      int
	answer    *bool
	requestID string
}

// WithVersion restricts retrieval to one version.
func WithVersion(id string) QueryOption {
	return func(o *queryOptions) { o.versionID = id }
}

// WithTopK sets how many nodes the locator keeps.
func WithTopK(k int) QueryOption {
	return func(o *queryOptions) { o.topK = k }
}

// WithAnswer turns answer synthesis on or off for one query.
func WithAnswer(on bool) QueryOption {
	return func(o *queryOptions) { o.answer = &on }
}

// WithRequestID tags the query log row. A random id is used otherwise.
func WithRequestID(id string) QueryOption {
	return func(o *queryOptions) { o.requestID = id }
}

// Retrieval is the outcome of locating, promoting, selecting and assembling
// for one question.
type Retrieval struct {
	RequestID  string                 `json:"request_id"`
	Question   string                 `json:"question"`
	Found      bool                   `json:"found"`
	Reason     string                 `json:"reason,omitempty"`
	Article    *store.Node            `json:"article,omitempty"`
	Selection  *reasoning.Selection   `json:"selection,omitempty"`
	Candidates []retrieval.Candidate  `json:"candidates,omitempty"`
	Context    *retrieval.Context     `json:"context,omitempty"`
	Trace      *retrieval.LocateTrace `json:"trace,omitempty"`
	ElapsedMs  int64                  `json:"elapsed_ms"`
}

// Result is a Retrieval plus the synthesized answer, when one was asked for.
type Result struct {
	Retrieval
	Answer *reasoning.Answer `json:"answer,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Retrieve runs the query pipeline without answer synthesis.
func (e *engine) Retrieve(ctx context.Context, question string, opts ...QueryOption) (*Retrieval, error) {
	options := e.queryOptions(opts)
	r, err := e.retrieve(ctx, question, options)
	if r != nil {
		e.logQuery(ctx, r, nil)
	}
	return r, err
}

// Query runs the query pipeline and, when enabled, writes an answer from the
// assembled context.
func (e *engine) Query(ctx context.Context, question string, opts ...QueryOption) (*Result, error) {
	options := e.queryOptions(opts)
	r, err := e.retrieve(ctx, question, options)
	if err != nil {
		return nil, err
	}
	res := &Result{Retrieval: *r}

	wantAnswer := e.cfg.GenerateAnswers
	if options.answer != nil {
		wantAnswer = *options.answer
	}
	if r.Found && wantAnswer {
		start := time.Now()
		ans, err := e.answerer.Answer(ctx, r.Question, r.Context)
		if err != nil {
			e.logQuery(ctx, r, nil)
			return nil, err
		}
		res.Answer = ans
		slog.Info("query: answer generated", "request_id", r.RequestID,
			"confidence", ans.Confidence, "citations", len(ans.Citations),
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
	e.logQuery(ctx, r, res.Answer)
	return res, nil
}

// BatchQuery runs several questions with at most QueryConcurrency in flight.
// A failed question keeps its slot with Error set.
func (e *engine) BatchQuery(ctx context.Context, questions []string, opts ...QueryOption) ([]Result, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	results := make([]Result, len(questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.QueryConcurrency)
	for i, q := range questions {
		g.Go(func() error {
			// Each question gets its own request id.
			r, err := e.Query(gctx, q, append(opts[:len(opts):len(opts)], WithRequestID(""))...)
			if err != nil {
				results[i] = Result{Retrieval: Retrieval{Question: q}, Error: err.Error()}
				return nil
			}
			results[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func (e *engine) queryOptions(opts []QueryOption) *queryOptions {
	o := &queryOptions{topK: e.cfg.TopK}
	for _, fn := range opts {
		fn(o)
	}
	if o.topK <= 0 {
		o.topK = e.cfg.TopK
	}
	if o.requestID == "" {
		o.requestID = uuid.NewString()
	}
	return o
}

func (e *engine) retrieve(ctx context.Context, question string, o *queryOptions) (*Retrieval, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	start := time.Now()
	outcome := retrieval.OutcomeError
	defer func() { retrieval.ObserveRetrieve(outcome, time.Since(start)) }()

	r := &Retrieval{RequestID: o.requestID, Question: question}
	done := func(reason, out string) (*Retrieval, error) {
		r.Reason, outcome = reason, out
		r.ElapsedMs = time.Since(start).Milliseconds()
		slog.Info("retrieve: not found", "request_id", r.RequestID, "reason", reason,
			"elapsed", time.Since(start).Round(time.Millisecond))
		return r, nil
	}

	vecs, err := e.embedLLM.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for the question", ErrEmbeddingFailed, len(vecs))
	}

	hits, trace, err := e.locator.Locate(ctx, vecs[0], retrieval.LocateOptions{TopK: o.topK, VersionID: o.versionID})
	if err != nil {
		return nil, fmt.Errorf("locating nodes: %w", err)
	}
	r.Trace = trace
	if len(hits) == 0 {
		return done(ReasonNoNodes, retrieval.OutcomeNoNodes)
	}

	candidates, err := retrieval.Promote(ctx, e.store, hits)
	if err != nil {
		return nil, err
	}
	r.Candidates = candidates
	if len(candidates) == 0 {
		return done(ReasonNoArticles, retrieval.OutcomeNoArticles)
	}

	sel, err := e.selector.Select(ctx, question, candidates)
	if errors.Is(err, reasoning.ErrNoCandidates) || (err == nil && sel == nil) {
		return done(ReasonNoSelected, retrieval.OutcomeNoSelected)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting article: %w", err)
	}
	r.Selection = sel
	article := sel.Candidate.Article
	r.Article = &article
	slog.Debug("retrieve: article selected", "request_id", r.RequestID, "article", article.Ref.ID,
		"version", article.VersionID, "index", sel.Index, "fallback", sel.Fallback)

	c, err := e.assembler.Assemble(ctx, article.VersionID, article.Ref.ID)
	if err != nil {
		return nil, fmt.Errorf("assembling context: %w", err)
	}
	r.Context = c
	r.Found = true
	outcome = retrieval.OutcomeFound
	r.ElapsedMs = time.Since(start).Milliseconds()

	slog.Info("retrieve: complete", "request_id", r.RequestID, "article", article.Ref.ID,
		"candidates", len(candidates), "references", len(c.References),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return r, nil
}

func (e *engine) logQuery(ctx context.Context, r *Retrieval, ans *reasoning.Answer) {
	q := store.QueryLog{
		RequestID:  r.RequestID,
		Query:      r.Question,
		Found:      r.Found,
		Reason:     r.Reason,
		Candidates: len(r.Candidates),
		Elapsed:    time.Duration(r.ElapsedMs) * time.Millisecond,
	}
	if r.Article != nil {
		q.SelectedArticle = r.Article.Ref.ID
		q.VersionID = r.Article.VersionID
	}
	if r.Selection != nil {
		q.Rationale = r.Selection.Rationale
		q.Fallback = r.Selection.Fallback
	}
	if ans != nil {
		q.Answer = ans.Text
		q.ModelUsed = ans.ModelUsed
	}
	if err := e.store.LogQuery(ctx, q); err != nil {
		slog.Warn("query: logging failed", "request_id", r.RequestID, "error", err)
	}
}
