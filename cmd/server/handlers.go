package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/brunobiangulo/policygraph"
)

// maxBatchQuestions bounds POST /batch.
const maxBatchQuestions = 50

type handler struct {
	engine policygraph.Engine
}

func newHandler(e policygraph.Engine) *handler {
	return &handler{engine: e}
}

type ingestRequest struct {
	Path        string `json:"path,omitempty"`
	Name        string `json:"name,omitempty"`
	Text        string `json:"text,omitempty"`
	VersionID   string `json:"version_id,omitempty"`
	ProductCode string `json:"product_code,omitempty"`
	ProductName string `json:"product_name,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

func (req ingestRequest) options() []policygraph.IngestOption {
	var opts []policygraph.IngestOption
	if req.VersionID != "" {
		opts = append(opts, policygraph.WithVersionID(req.VersionID))
	}
	if req.ProductCode != "" || req.ProductName != "" {
		opts = append(opts, policygraph.WithProduct(req.ProductCode, req.ProductName))
	}
	if req.Force {
		opts = append(opts, policygraph.WithForce())
	}
	return opts
}

// POST /ingest
// Accepts a multipart file upload, or JSON with either a file path or the
// policy text itself.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	// Try multipart upload first
	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			h.ingestUpload(ctx, w, file, header.Filename, ingestRequest{
				VersionID:   r.FormValue("version_id"),
				ProductCode: r.FormValue("product_code"),
				ProductName: r.FormValue("product_name"),
				Force:       r.FormValue("force") == "true",
			})
			return
		}
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path' or 'text'")
		return
	}

	switch {
	case req.Text != "":
		name := req.Name
		if name == "" {
			name = "inline"
		}
		res, err := h.engine.IngestText(ctx, name, req.Text, req.options()...)
		if err != nil {
			writeEngineError(w, "ingestion failed", err)
			slog.Error("ingest error", "name", name, "error", err)
			return
		}
		writeJSON(w, http.StatusOK, res)

	case req.Path != "":
		// Validate that path is a real file (prevents directory traversal probing).
		absPath, err := filepath.Abs(req.Path)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid path")
			return
		}
		info, err := os.Stat(absPath)
		if err != nil || info.IsDir() {
			writeError(w, http.StatusBadRequest, "path must be an existing file")
			return
		}
		res, err := h.engine.Ingest(ctx, absPath, req.options()...)
		if err != nil {
			writeEngineError(w, "ingestion failed", err)
			slog.Error("ingest error", "path", absPath, "error", err)
			return
		}
		writeJSON(w, http.StatusOK, res)

	default:
		writeError(w, http.StatusBadRequest, "path or text is required")
	}
}

func (h *handler) ingestUpload(ctx context.Context, w http.ResponseWriter, src io.Reader, filename string, req ingestRequest) {
	// Sanitise filename to prevent path traversal.
	safeName := filepath.Base(filename)

	tmpDir, err := os.MkdirTemp("", "policygraph-upload-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.Error("creating temp dir", "error", err)
		return
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, safeName)
	dst, err := os.Create(tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.Error("creating temp file", "error", err)
		return
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "failed to save file")
		slog.Error("saving uploaded file", "error", err)
		return
	}
	dst.Close()

	res, err := h.engine.Ingest(ctx, tmpPath, req.options()...)
	if err != nil {
		writeEngineError(w, "ingestion failed", err)
		slog.Error("ingest error", "filename", safeName, "error", err)
		return
	}
	res.Source = safeName
	writeJSON(w, http.StatusOK, res)
}

type queryRequest struct {
	Question  string `json:"question"`
	VersionID string `json:"version_id,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
	Answer    *bool  `json:"answer,omitempty"`
}

func (req queryRequest) options(ctx context.Context) []policygraph.QueryOption {
	opts := []policygraph.QueryOption{policygraph.WithRequestID(requestID(ctx))}
	if req.VersionID != "" {
		opts = append(opts, policygraph.WithVersion(req.VersionID))
	}
	// Bound parameters.
	if req.TopK > 0 && req.TopK <= 100 {
		opts = append(opts, policygraph.WithTopK(req.TopK))
	}
	if req.Answer != nil {
		opts = append(opts, policygraph.WithAnswer(*req.Answer))
	}
	return opts
}

// POST /query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	res, err := h.engine.Query(ctx, req.Question, req.options(ctx)...)
	if err != nil {
		writeEngineError(w, "query failed", err)
		slog.Error("query error", "request_id", requestID(ctx), "error", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /retrieve
func (h *handler) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	res, err := h.engine.Retrieve(ctx, req.Question, req.options(ctx)...)
	if err != nil {
		writeEngineError(w, "retrieval failed", err)
		slog.Error("retrieve error", "request_id", requestID(ctx), "error", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /batch
func (h *handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var req struct {
		queryRequest
		Questions []string `json:"questions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Questions) == 0 {
		writeError(w, http.StatusBadRequest, "questions are required")
		return
	}
	if len(req.Questions) > maxBatchQuestions {
		writeError(w, http.StatusBadRequest, "too many questions")
		return
	}

	// Per-question request ids come from the engine.
	opts := req.options(ctx)[1:]
	results, err := h.engine.BatchQuery(ctx, req.Questions, opts...)
	if err != nil {
		writeEngineError(w, "batch query failed", err)
		slog.Error("batch error", "request_id", requestID(ctx), "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// POST /versions/{id}/update
func (h *handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	id := r.PathValue("id")
	changed, err := h.engine.Update(ctx, id)
	if err != nil {
		writeEngineError(w, "update failed", err)
		slog.Error("update error", "version", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version_id": id,
		"changed":    changed,
	})
}

// POST /update-all
func (h *handler) handleUpdateAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	results, err := h.engine.UpdateAll(ctx)
	if err != nil {
		writeEngineError(w, "update-all failed", err)
		slog.Error("update-all error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// DELETE /versions/{id}
func (h *handler) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.DeleteVersion(r.Context(), id); err != nil {
		writeEngineError(w, "delete failed", err)
		slog.Error("delete error", "version", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /versions
func (h *handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.engine.Versions(r.Context())
	if err != nil {
		writeEngineError(w, "failed to list versions", err)
		slog.Error("list versions error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
	})
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeEngineError(w, "failed to read stats", err)
		slog.Error("stats error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine sentinel errors to status codes. Only
// client errors expose the error text.
func writeEngineError(w http.ResponseWriter, msg string, err error) {
	status := statusOf(err)
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeError(w, status, msg)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, policygraph.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, policygraph.ErrVersionNotFound):
		return http.StatusNotFound
	case errors.Is(err, policygraph.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, policygraph.ErrNoArticles), errors.Is(err, policygraph.ErrParsingFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, policygraph.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
