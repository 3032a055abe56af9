package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mkatan/inkwell/internal/history"
	"github.com/mkatan/inkwell/internal/storage"
)

const maxProcessedBodySize = 10 << 20 // 10MB

// AppDeps holds dependencies for the management HTTP API.
type AppDeps struct {
	Store   *storage.Store
	History *history.Log // optional
	Token   string       // optional; empty disables bearer auth
}

// NewAppHandler returns the management HTTP API. /health is always open;
// everything else requires the bearer token when one is configured.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Get("/status", handleStatus(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{filename}", handleGetDocument(deps))
		r.Get("/raw/{filename}", handleReadRaw(deps))
		r.Get("/processed/{filename}", handleReadProcessed(deps))
		r.Put("/documents/{filename}/processed", handlePutProcessed(deps))
		r.Get("/pending", handleListPending(deps))
		r.Post("/reconcile", handleReconcile(deps))
		r.Get("/runs", handleListRuns(deps))
	})

	return r
}

// BearerAuth requires a constant-time-compared bearer token on every request.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := deps.Store.Status()
		if err != nil {
			httpStoreError(w, err)
			return
		}
		writeJSON(w, status)
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs := deps.Store.ListAllDocuments()
		if docs == nil {
			docs = []storage.DocumentMetadata{}
		}
		writeJSON(w, docs)
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		doc, err := deps.Store.GetDocumentInfo(filename)
		if err != nil {
			httpStoreError(w, err)
			return
		}
		writeJSON(w, doc)
	}
}

func handleReadRaw(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveFileContent(w, r, deps.Store.ReadRawFile)
	}
}

func handleReadProcessed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveFileContent(w, r, deps.Store.ReadProcessedFile)
	}
}

func serveFileContent(w http.ResponseWriter, r *http.Request, read func(string) (string, error)) {
	filename := chi.URLParam(r, "filename")
	content, err := read(filename)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(content))
}

// handlePutProcessed stores the cleaned counterpart of a raw note and
// records the raw hash it was produced from.
func handlePutProcessed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")

		r.Body = http.MaxBytesReader(w, r.Body, maxProcessedBodySize)
		defer r.Body.Close()
		content, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}

		if err := deps.Store.WriteProcessedFile(filename, string(content)); err != nil {
			httpStoreError(w, err)
			return
		}
		if err := deps.Store.MarkProcessed(filename); err != nil {
			httpStoreError(w, err)
			return
		}

		doc, err := deps.Store.GetDocumentInfo(filename)
		if err != nil {
			httpStoreError(w, err)
			return
		}
		writeJSON(w, doc)
	}
}

func handleListPending(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := deps.Store.FilesNeedingProcessing()
		if err != nil {
			httpStoreError(w, err)
			return
		}
		if pending == nil {
			pending = []string{}
		}
		writeJSON(w, pending)
	}
}

func handleReconcile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := runReconcile(deps.Store, deps.History, "api")
		if err != nil {
			httpStoreError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"files_seen": report.FilesSeen,
			"created":    report.Created,
			"updated":    report.Updated,
			"removed":    report.Removed,
			"saved":      report.Saved,
		})
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			writeJSON(w, []history.Run{})
			return
		}

		limit := 10
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}

		runs, err := deps.History.RecentRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing runs: %v", err)
			return
		}
		if runs == nil {
			runs = []history.Run{}
		}
		writeJSON(w, runs)
	}
}

// httpStoreError maps the storage error taxonomy onto HTTP status codes.
func httpStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidFilename):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, storage.ErrCorruptMetadata):
		httpError(w, http.StatusConflict, "corrupt_metadata", "%v", err)
	case errors.Is(err, storage.ErrDirectoryNotFound):
		httpError(w, http.StatusInternalServerError, "config_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
