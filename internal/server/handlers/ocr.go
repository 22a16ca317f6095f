package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iudanet/collabnotes/internal/server/ocr"
	"github.com/iudanet/collabnotes/internal/server/storage"
	"github.com/iudanet/collabnotes/pkg/api"
)

// OCRQueue определяет интерфейс очереди распознавания для handler-а
type OCRQueue interface {
	Enqueue(ctx context.Context, noteID int64, imagePath string) (*ocr.Job, error)
	Get(ctx context.Context, jobID string) (*ocr.Job, error)
}

// OCRHandler обрабатывает постановку OCR задач в очередь
type OCRHandler struct {
	logger  *slog.Logger
	queue   OCRQueue
	collabs storage.CollaboratorStorage
}

// NewOCRHandler creates a new OCR handler
func NewOCRHandler(logger *slog.Logger, queue OCRQueue, collabs storage.CollaboratorStorage) *OCRHandler {
	return &OCRHandler{
		logger:  logger,
		queue:   queue,
		collabs: collabs,
	}
}

// EnqueueJob обрабатывает POST /api/v1/ocr
// Ставит задачу распознавания в durable очередь; выполняет ее внешний worker
func (h *OCRHandler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := GetUserID(ctx)
	if !ok {
		sendError(h.logger, w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.EnqueueOCRJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ImagePath == "" {
		sendError(h.logger, w, "Invalid request body", http.StatusBadRequest)
		return
	}

	hasAccess, err := h.collabs.HasAccess(ctx, req.NoteID, userID)
	if err != nil {
		h.logger.Error("Failed to check note access", "error", err, "note_id", req.NoteID)
		sendError(h.logger, w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !hasAccess {
		sendError(h.logger, w, "Note not found", http.StatusNotFound)
		return
	}

	job, err := h.queue.Enqueue(ctx, req.NoteID, req.ImagePath)
	if err != nil {
		h.logger.Error("Failed to enqueue OCR job", "error", err, "note_id", req.NoteID)
		sendError(h.logger, w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("OCR job enqueued", "job_id", job.ID, "note_id", req.NoteID, "user_id", userID)
	sendJSON(h.logger, w, api.OCRJobResponse{JobID: job.ID, Status: job.Status}, http.StatusAccepted)
}

// GetJob обрабатывает GET /api/v1/ocr/{jobID}
func (h *OCRHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := GetUserID(ctx)
	if !ok {
		sendError(h.logger, w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	job, err := h.queue.Get(ctx, mux.Vars(r)["jobID"])
	if err != nil {
		if errors.Is(err, ocr.ErrJobNotFound) {
			sendError(h.logger, w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to read OCR job", "error", err)
		sendError(h.logger, w, "Internal server error", http.StatusInternalServerError)
		return
	}

	hasAccess, err := h.collabs.HasAccess(ctx, job.NoteID, userID)
	if err != nil || !hasAccess {
		sendError(h.logger, w, "Job not found", http.StatusNotFound)
		return
	}

	sendJSON(h.logger, w, api.OCRJobResponse{JobID: job.ID, Status: job.Status}, http.StatusOK)
}
