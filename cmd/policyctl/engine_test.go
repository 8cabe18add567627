package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/policygraph"
	"github.com/brunobiangulo/policygraph/clause"
	"github.com/brunobiangulo/policygraph/retrieval"
	"github.com/brunobiangulo/policygraph/store"
)

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	policygraph.Engine // unimplemented methods panic

	configPath string
	paths      []string
	ingestOpts int
	questions  []string
	queryOpts  int
	deleted    string
	updated    string
	closed     int
	err        error
}

func (f *fakeEngine) IngestBatch(_ context.Context, paths []string, opts ...policygraph.IngestOption) ([]policygraph.IngestResult, error) {
	f.paths = paths
	f.ingestOpts = len(opts)
	out := make([]policygraph.IngestResult, len(paths))
	for i, p := range paths {
		out[i] = policygraph.IngestResult{
			VersionID: "v" + string(rune('1'+i)),
			Source:    p,
			Stats:     policygraph.IngestStats{Articles: 2, Nodes: 6, References: 1},
		}
	}
	if f.err != nil {
		out[len(out)-1].Error = f.err.Error()
		return out, f.err
	}
	return out, nil
}

func (f *fakeEngine) Query(_ context.Context, q string, opts ...policygraph.QueryOption) (*policygraph.Result, error) {
	f.questions = append(f.questions, q)
	f.queryOpts = len(opts)
	if f.err != nil {
		return nil, f.err
	}
	article := store.Node{VersionID: "v1", Ref: clause.ArticleRef("제1조"), Title: "보상하는 손해"}
	return &policygraph.Result{Retrieval: policygraph.Retrieval{
		Question: q,
		Found:    true,
		Article:  &article,
		Context:  &retrieval.Context{Text: "# 제1조: 보상하는 손해\n\n화재로 인한 손해를 보상합니다.\n"},
		Candidates: []retrieval.Candidate{
			{Article: article},
		},
	}}, nil
}

func (f *fakeEngine) Versions(context.Context) ([]store.Version, error) {
	return []store.Version{
		{ID: "v1", ProductCode: "FIRE-01", Status: "ready", SourcePath: "/data/fire.pdf", UpdatedAt: "2026-01-02"},
	}, nil
}

func (f *fakeEngine) DeleteVersion(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = id
	return nil
}

func (f *fakeEngine) Update(_ context.Context, id string) (bool, error) {
	f.updated = id
	return true, nil
}

func (f *fakeEngine) UpdateAll(context.Context) ([]policygraph.UpdateResult, error) {
	return []policygraph.UpdateResult{
		{VersionID: "v1", Path: "/data/fire.pdf", Changed: true},
		{VersionID: "v2", Path: "/data/gone.pdf", Error: "file not found"},
	}, nil
}

func (f *fakeEngine) Stats(context.Context) (*store.DBStats, error) {
	return &store.DBStats{Versions: 1, Articles: 2, Paragraphs: 2, Items: 2}, nil
}

func (f *fakeEngine) Close() error {
	f.closed++
	return nil
}

func runWith(t *testing.T, f *fakeEngine, args ...string) (string, error) {
	t.Helper()
	g := &globals{open: func(path string) (policygraph.Engine, error) {
		f.configPath = path
		return f, nil
	}}
	var out bytes.Buffer
	cmd := newRootCmdWith(g)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func TestIngestCommand(t *testing.T) {
	f := &fakeEngine{}
	out, err := runWith(t, f, "-c", "cfg.yaml", "ingest", "a.pdf", "b.pdf", "--product-code", "FIRE-01", "--force")
	require.NoError(t, err)

	assert.Equal(t, "cfg.yaml", f.configPath)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, f.paths)
	assert.Equal(t, 2, f.ingestOpts)
	assert.Equal(t, 1, f.closed)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "SOURCE"))
	assert.Contains(t, lines[1], "a.pdf")
	assert.Contains(t, lines[1], "ingested")
	assert.Contains(t, lines[2], "v2")
}

func TestIngestCommandReportsFailures(t *testing.T) {
	f := &fakeEngine{err: errors.New("no articles found")}
	out, err := runWith(t, f, "ingest", "a.pdf")
	assert.Error(t, err)
	assert.Contains(t, out, "error: no articles found")
}

func TestIngestCommandVersionNeedsSingleFile(t *testing.T) {
	f := &fakeEngine{}
	_, err := runWith(t, f, "ingest", "--version", "v9", "a.pdf", "b.pdf")
	assert.ErrorContains(t, err, "single file")
	assert.Zero(t, f.closed)
}

func TestQueryCommand(t *testing.T) {
	f := &fakeEngine{}
	out, err := runWith(t, f, "query", "화재", "손해도", "보상되나요?", "--version", "v1", "--context-only")
	require.NoError(t, err)

	assert.Equal(t, []string{"화재 손해도 보상되나요?"}, f.questions)
	assert.Equal(t, 3, f.queryOpts)
	assert.Contains(t, out, "제1조 보상하는 손해 (version v1)")
	assert.Contains(t, out, "화재로 인한 손해를 보상합니다.")
}

func TestQueryCommandJSON(t *testing.T) {
	out, err := runWith(t, &fakeEngine{}, "query", "q", "--json")
	require.NoError(t, err)

	var res policygraph.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Found)
	assert.Equal(t, "제1조", res.Article.Ref.ID)
}

func TestQueryCommandError(t *testing.T) {
	_, err := runWith(t, &fakeEngine{err: policygraph.ErrEmptyQuestion}, "query", " ")
	assert.ErrorIs(t, err, policygraph.ErrEmptyQuestion)
}

func TestVersionsCommands(t *testing.T) {
	f := &fakeEngine{}
	out, err := runWith(t, f, "versions")
	require.NoError(t, err)
	assert.Contains(t, out, "FIRE-01")
	assert.Contains(t, out, "/data/fire.pdf")

	out, err = runWith(t, f, "versions", "delete", "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", f.deleted)
	assert.Equal(t, "deleted v1\n", out)

	_, err = runWith(t, &fakeEngine{err: policygraph.ErrVersionNotFound}, "versions", "delete", "v9")
	assert.ErrorIs(t, err, policygraph.ErrVersionNotFound)
}

func TestUpdateAndStatsCommands(t *testing.T) {
	f := &fakeEngine{}
	out, err := runWith(t, f, "update", "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", f.updated)
	assert.Equal(t, "v1 changed=true\n", out)

	out, err = runWith(t, f, "update")
	require.NoError(t, err)
	assert.Contains(t, out, "v1 /data/fire.pdf changed=true\n")
	assert.Contains(t, out, "v2 /data/gone.pdf changed=false error=file not found\n")

	out, err = runWith(t, f, "stats")
	require.NoError(t, err)
	var stats store.DBStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.Articles)
}

func TestEvalCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fire.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tests:
  - question: 화재 손해도 보상하나요?
    expected_article: 제1조
    expected_facts: ["화재"]
    category: coverage
  - question: 고의 사고는요?
    expected_article: 제2조
    category: exclusion
`), 0o644))

	f := &fakeEngine{}
	out, err := runWith(t, f, "eval", path, "--version", "v1", "--context-only")
	require.NoError(t, err)
	assert.Len(t, f.questions, 2)
	// context-only plus the dataset version
	assert.Equal(t, 2, f.queryOpts)
	assert.Contains(t, out, "=== Evaluation Report: fire ===")
	assert.Contains(t, out, "Passed: 1 (50.0%)")
	assert.Contains(t, out, "expected 제2조 (rank 0), selected 제1조")

	out, err = runWith(t, &fakeEngine{}, "eval", path, "--json")
	require.NoError(t, err)
	var report struct {
		Passed  int `json:"passed"`
		Metrics struct {
			FactAccuracy float64 `json:"fact_accuracy"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1.0, report.Metrics.FactAccuracy)

	_, err = runWith(t, &fakeEngine{}, "eval", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
