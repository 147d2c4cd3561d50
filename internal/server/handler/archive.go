package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// ArchiveCatalog looks up match batches written by the archive job.
type ArchiveCatalog interface {
	Batches(ctx context.Context, day string) ([]domain.BlobInfo, error)
	Matches(ctx context.Context, path string) ([]domain.MatchView, error)
}

// ArchiveHandler serves reclaimed match records from cold storage.
type ArchiveHandler struct {
	catalog ArchiveCatalog
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(catalog ArchiveCatalog, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{catalog: catalog, logger: logger}
}

type archiveBatch struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListBatches lists archive batches, optionally for one UTC day.
// GET /api/archives?date=2026-01-02
func (h *ArchiveHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("date")
	if day != "" {
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
			return
		}
	}
	infos, err := h.catalog.Batches(r.Context(), day)
	if err != nil {
		writeDomainError(w, r, h.logger, "list archives", err)
		return
	}
	out := make([]archiveBatch, len(infos))
	for i, info := range infos {
		out[i] = archiveBatch{Path: info.Path, Size: info.Size, LastModified: info.LastModified}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": out})
}

// GetBatch returns the match records of one archive batch.
// GET /api/archives/{path...}
func (h *ArchiveHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "archive path is required")
		return
	}
	views, err := h.catalog.Matches(r.Context(), path)
	if err != nil {
		writeDomainError(w, r, h.logger, "get archive", err)
		return
	}
	if views == nil {
		views = []domain.MatchView{}
	}
	writeJSON(w, http.StatusOK, listMatchesResponse{Matches: views})
}
