package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/async"
)

type handlers struct {
	Deps
}

type jobResponse struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
	EnqueuedAt string `json:"enqueued_at"`
}

func toJobResponse(j async.Job) jobResponse {
	return jobResponse{
		JobID:      j.ID.String(),
		DocumentID: j.DocumentID.String(),
		Reason:     string(j.Reason),
		EnqueuedAt: j.EnqueuedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func (h *handlers) documentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id", err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("http."+op+".failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, op+" failed", err)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "docscan"})
}

func (h *handlers) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	doc, err := h.Documents.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get_document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *handlers) enqueue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	job, err := h.Dispatcher.Enqueue(r.Context(), id, constants.ReasonInitial)
	if err != nil {
		h.fail(w, r, "enqueue", err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (h *handlers) reprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	job, err := h.Dispatcher.Reprocess(r.Context(), id)
	if err != nil {
		h.fail(w, r, "reprocess", err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (h *handlers) listPages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	if _, err := h.Documents.GetByID(r.Context(), id); err != nil {
		h.fail(w, r, "list_pages", err)
		return
	}
	pages, err := h.Pages.ListByDocument(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list_pages", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

type correctionRequest struct {
	Text *string `json:"text"`
}

// correctText is the manual correction write path. A later reprocess overwrites it.
func (h *handlers) correctText(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "page must be a positive integer", err)
		return
	}
	var req correctionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil || req.Text == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"text\": string}", err)
		return
	}

	doc, err := h.Documents.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, "correct_text", err)
		return
	}
	if doc.Status == constants.StatusProcessing {
		h.fail(w, r, "correct_text", fmt.Errorf("document %s is processing: %w", id, common.ErrInvalidState))
		return
	}
	if err := h.Pages.CorrectText(r.Context(), id, page, *req.Text); err != nil {
		h.fail(w, r, "correct_text", err)
		return
	}
	if h.Publisher != nil && doc.Status == constants.StatusCompleted {
		if err := h.Publisher.Publish(r.Context(), id); err != nil {
			h.Logger.Warn("http.correct_text.republish_failed", "document_id", id, "error", err)
		}
	}
	h.Logger.Info("http.correct_text.ok", "document_id", id, "page", page, "chars", len(*req.Text))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) export(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	xlsx, err := h.Exporter.ExportDocumentXLSX(r.Context(), id)
	if err != nil {
		h.fail(w, r, "export", err)
		return
	}
	name := strings.ReplaceAll(id.String(), "-", "")[:12] + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(xlsx)
}
