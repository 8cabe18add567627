package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/policygraph"
	"github.com/brunobiangulo/policygraph/clause"
	"github.com/brunobiangulo/policygraph/store"
)

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	policygraph.Engine // unimplemented methods panic

	ingested   []string
	questions  []string
	requestIDs []string
	deleted    string
	err        error
}

func (f *fakeEngine) Ingest(_ context.Context, path string, _ ...policygraph.IngestOption) (*policygraph.IngestResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.ingested = append(f.ingested, path)
	return &policygraph.IngestResult{VersionID: "v1", Source: path, Stats: policygraph.IngestStats{Articles: 2}}, nil
}

func (f *fakeEngine) IngestText(_ context.Context, name, _ string, _ ...policygraph.IngestOption) (*policygraph.IngestResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.ingested = append(f.ingested, name)
	return &policygraph.IngestResult{VersionID: "v1", Source: name}, nil
}

func (f *fakeEngine) Query(_ context.Context, q string, opts ...policygraph.QueryOption) (*policygraph.Result, error) {
	r, err := f.Retrieve(context.Background(), q, opts...)
	if err != nil {
		return nil, err
	}
	return &policygraph.Result{Retrieval: *r}, nil
}

func (f *fakeEngine) Retrieve(_ context.Context, q string, _ ...policygraph.QueryOption) (*policygraph.Retrieval, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.questions = append(f.questions, q)
	return &policygraph.Retrieval{
		Question: q,
		Found:    true,
		Article:  &store.Node{VersionID: "v1", Ref: clause.ArticleRef("제1조"), Title: "보상하는 손해"},
	}, nil
}

func (f *fakeEngine) BatchQuery(ctx context.Context, qs []string, opts ...policygraph.QueryOption) ([]policygraph.Result, error) {
	out := make([]policygraph.Result, len(qs))
	for i, q := range qs {
		r, err := f.Query(ctx, q, opts...)
		if err != nil {
			out[i] = policygraph.Result{Error: err.Error()}
			continue
		}
		out[i] = *r
	}
	return out, nil
}

func (f *fakeEngine) Versions(context.Context) ([]store.Version, error) {
	return []store.Version{{ID: "v1", Status: "ready"}}, nil
}

func (f *fakeEngine) DeleteVersion(_ context.Context, id string) error {
	if id != "v1" {
		return fmt.Errorf("%w: %s", policygraph.ErrVersionNotFound, id)
	}
	f.deleted = id
	return nil
}

func (f *fakeEngine) Stats(context.Context) (*store.DBStats, error) {
	return &store.DBStats{Versions: 1, Articles: 2}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndRequestID(t *testing.T) {
	h := newServer(&fakeEngine{}, "", "")

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestQueryHandler(t *testing.T) {
	f := &fakeEngine{}
	h := newServer(f, "", "")

	rec := do(t, h, http.MethodPost, "/query", `{"question": "화재 손해를 보상하나요?", "top_k": 5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["found"])
	assert.Equal(t, []string{"화재 손해를 보상하나요?"}, f.questions)

	rec = do(t, h, http.MethodPost, "/query", `{"question": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/query", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieveMapsEngineErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{policygraph.ErrEmptyQuestion, http.StatusBadRequest},
		{policygraph.ErrClosed, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: boom", policygraph.ErrEmbeddingFailed), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newServer(&fakeEngine{err: tt.err}, "", "")
			rec := do(t, h, http.MethodPost, "/retrieve", `{"question": "q"}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestBatchHandler(t *testing.T) {
	f := &fakeEngine{}
	h := newServer(f, "", "")

	rec := do(t, h, http.MethodPost, "/batch", `{"questions": ["a", "b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode(t, rec)["results"].([]any)
	assert.Len(t, results, 2)

	rec = do(t, h, http.MethodPost, "/batch", `{"questions": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	many := make([]string, maxBatchQuestions+1)
	for i := range many {
		many[i] = `"q"`
	}
	rec = do(t, h, http.MethodPost, "/batch", `{"questions": [`+strings.Join(many, ",")+`]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestHandler(t *testing.T) {
	f := &fakeEngine{}
	h := newServer(f, "", "")

	rec := do(t, h, http.MethodPost, "/ingest", `{"name": "fire", "text": "제1조(목적)"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "v1", decode(t, rec)["version_id"])

	path := filepath.Join(t.TempDir(), "policy.txt")
	require.NoError(t, os.WriteFile(path, []byte("제1조(목적)"), 0o644))
	rec = do(t, h, http.MethodPost, "/ingest", `{"path": "`+path+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/ingest", `{"path": "/no/such/file.pdf"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/ingest", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{"fire", path}, f.ingested)
}

func TestIngestUpload(t *testing.T) {
	f := &fakeEngine{}
	h := newServer(f, "", "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "../../약관.txt")
	require.NoError(t, err)
	fw.Write([]byte("제1조(목적)"))
	mw.WriteField("product_code", "FIRE01")
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "약관.txt", decode(t, rec)["source"])
	require.Len(t, f.ingested, 1)
	assert.Equal(t, "약관.txt", filepath.Base(f.ingested[0]))
}

func TestIngestNoArticles(t *testing.T) {
	h := newServer(&fakeEngine{err: policygraph.ErrNoArticles}, "", "")
	rec := do(t, h, http.MethodPost, "/ingest", `{"text": "안내문"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "no articles")
}

func TestVersionHandlers(t *testing.T) {
	f := &fakeEngine{}
	h := newServer(f, "", "")

	rec := do(t, h, http.MethodGet, "/versions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["versions"], 1)

	rec = do(t, h, http.MethodDelete, "/versions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/versions/v1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", f.deleted)

	rec = do(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["articles"])
}

func TestAuthMiddleware(t *testing.T) {
	h := newServer(&fakeEngine{}, "secret", "")

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/versions", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/versions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
