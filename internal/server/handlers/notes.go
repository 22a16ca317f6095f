package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/iudanet/collabnotes/internal/models"
	"github.com/iudanet/collabnotes/internal/server/reconcile"
	"github.com/iudanet/collabnotes/internal/server/storage"
	"github.com/iudanet/collabnotes/internal/validation"
	"github.com/iudanet/collabnotes/pkg/api"
)

// Notifier определяет интерфейс для рассылки событий на открытые
// соединения пользователей
type Notifier interface {
	Notify(userIDs []string, eventType string, payload any) error
}

// NotesHandler обрабатывает REST запросы к заметкам
type NotesHandler struct {
	logger   *slog.Logger
	storage  storage.NoteStorage
	collabs  storage.CollaboratorStorage
	notifier Notifier
}

// NewNotesHandler creates a new notes handler
func NewNotesHandler(logger *slog.Logger, store storage.NoteStorage, collabs storage.CollaboratorStorage, notifier Notifier) *NotesHandler {
	return &NotesHandler{
		logger:   logger,
		storage:  store,
		collabs:  collabs,
		notifier: notifier,
	}
}

// ListNotes обрабатывает GET /api/v1/notes
// Возвращает все заметки пользователя (свои и расшаренные) со сверенным
// содержимым чеклистов
func (h *NotesHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := GetUserID(ctx)
	if !ok {
		sendError(h.logger, w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	notes, err := h.storage.ListNotes(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to list notes", "error", err, "user_id", userID)
		sendError(h.logger, w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.ListNotesResponse{Notes: make([]api.Note, 0, len(notes))}
	for _, note := range notes {
		var rows []models.ChecklistItem
		if note.Type == models.NoteTypeChecklist {
			rows, err = h.storage.ReadChecklistItems(ctx, note.ID)
			if err != nil {
				h.logger.Error("Failed to read checklist items", "error", err, "note_id", note.ID)
				sendError(h.logger, w, "Internal server error", http.StatusInternalServerError)
				return
			}
		}
		resp.Notes = append(resp.Notes, h.toAPINote(note, rows))
	}

	sendJSON(h.logger, w, resp, http.StatusOK)
}

// GetNote обрабатывает GET /api/v1/notes/{id}
func (h *NotesHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, noteID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	note, rows, err := h.storage.ReadNote(ctx, noteID)
	if err != nil {
		h.handleStorageError(w, err, userID, noteID)
		return
	}

	sendJSON(h.logger, w, h.toAPINote(note, rows), http.StatusOK)
}

// CreateNote обрабатывает POST /api/v1/notes
func (h *NotesHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := GetUserID(ctx)
	if !ok {
		sendError(h.logger, w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(h.logger, w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type != models.NoteTypeText && req.Type != models.NoteTypeChecklist {
		sendError(h.logger, w, "Invalid note type", http.StatusBadRequest)
		return
	}
	if err := validation.ValidateTitle(req.Title); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, item := range req.Items {
		if err := validation.ValidateItemContent(item.Content); err != nil {
			sendError(h.logger, w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	note := &models.Note{
		OwnerID: userID,
		Type:    req.Type,
		Title:   req.Title,
		Body:    req.Body,
	}
	items := make([]models.ChecklistItem, 0, len(req.Items))
	for i, item := range req.Items {
		items = append(items, models.ChecklistItem{
			Content: item.Content,
			Ord:     float64(i + 1),
			Indent:  item.Indent,
			Checked: item.Checked,
		})
	}

	if err := h.storage.CreateNote(ctx, note, items); err != nil {
		h.logger.Error("Failed to create note", "error", err, "user_id", userID)
		sendError(h.logger, w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Note created", "note_id", note.ID, "user_id", userID, "type", note.Type)

	rows, err := h.storage.ReadChecklistItems(ctx, note.ID)
	if err != nil {
		h.logger.Error("Failed to read checklist items", "error", err, "note_id", note.ID)
		sendError(h.logger, w, "Internal server error", http.StatusInternalServerError)
		return
	}
	sendJSON(h.logger, w, h.toAPINote(note, rows), http.StatusCreated)
}

// UpdateNote обрабатывает PATCH /api/v1/notes/{id}
// Меняет метаданные заметки (title, pinned, archived) и уведомляет
// все устройства участников
func (h *NotesHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, noteID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req api.UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(h.logger, w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == nil && req.Pinned == nil && req.Archived == nil {
		sendError(h.logger, w, "No fields to update", http.StatusBadRequest)
		return
	}
	if req.Title != nil {
		if err := validation.ValidateTitle(*req.Title); err != nil {
			sendError(h.logger, w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if err := h.storage.UpdateNoteFields(ctx, noteID, req.Title, req.Pinned, req.Archived); err != nil {
		h.handleStorageError(w, err, userID, noteID)
		return
	}

	// Каждое измененное поле — отдельное событие со своим типом,
	// клиенты подписаны на них по-разному
	if req.Pinned != nil {
		h.notify(ctx, noteID, api.EventNotePinChanged,
			map[string]any{"note_id": noteID, "pinned": *req.Pinned})
	}
	if req.Archived != nil {
		h.notify(ctx, noteID, api.EventNoteArchived,
			map[string]any{"note_id": noteID, "archived": *req.Archived})
	}
	if req.Title != nil {
		h.notify(ctx, noteID, api.EventNoteUpdated,
			map[string]any{"note_id": noteID, "title": *req.Title})
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateItem обрабатывает PATCH /api/v1/notes/{id}/items/{itemID}
// Правит реляционную строку чеклиста (путь для устройств без
// совместного редактирования)
func (h *NotesHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, noteID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	itemID, err := strconv.ParseInt(mux.Vars(r)["itemID"], 10, 64)
	if err != nil {
		sendError(h.logger, w, "Invalid item ID", http.StatusBadRequest)
		return
	}

	var req api.UpdateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(h.logger, w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == nil && req.Checked == nil {
		sendError(h.logger, w, "No fields to update", http.StatusBadRequest)
		return
	}

	if err := h.storage.UpdateChecklistItem(ctx, noteID, itemID, req.Content, req.Checked); err != nil {
		h.handleStorageError(w, err, userID, noteID)
		return
	}

	h.notify(ctx, noteID, api.EventNoteItemsChanged, map[string]any{"note_id": noteID})
	w.WriteHeader(http.StatusNoContent)
}

// ReplaceItems обрабатывает PUT /api/v1/notes/{id}/items
func (h *NotesHandler) ReplaceItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, noteID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req api.ReplaceItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(h.logger, w, "Invalid request body", http.StatusBadRequest)
		return
	}

	items := make([]models.ChecklistItem, 0, len(req.Items))
	for i, item := range req.Items {
		items = append(items, models.ChecklistItem{
			NoteID:  noteID,
			Content: item.Content,
			Ord:     float64(i + 1),
			Indent:  item.Indent,
			Checked: item.Checked,
		})
	}

	if err := h.storage.ReplaceChecklistItems(ctx, noteID, items); err != nil {
		h.handleStorageError(w, err, userID, noteID)
		return
	}

	h.notify(ctx, noteID, api.EventNoteItemsChanged, map[string]any{"note_id": noteID})
	w.WriteHeader(http.StatusNoContent)
}

// ListCollaborators обрабатывает GET /api/v1/notes/{id}/collaborators
func (h *NotesHandler) ListCollaborators(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, noteID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	collabs, err := h.collabs.ListCollaborators(ctx, noteID)
	if err != nil {
		h.handleStorageError(w, err, userID, noteID)
		return
	}
	sendJSON(h.logger, w, collabs, http.StatusOK)
}

// AddCollaborator обрабатывает POST /api/v1/notes/{id}/collaborators
func (h *NotesHandler) AddCollaborator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, noteID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req api.AddCollaboratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		sendError(h.logger, w, "Invalid request body", http.StatusBadRequest)
		return
	}
	role := req.Role
	if role == "" {
		role = "editor"
	}
	if err := validation.ValidateRole(role); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	collab := &models.Collaborator{
		NoteID: noteID,
		UserID: req.UserID,
		Role:   role,
	}
	if err := h.collabs.AddCollaborator(ctx, collab); err != nil {
		h.handleStorageError(w, err, userID, noteID)
		return
	}

	h.logger.Info("Collaborator added", "note_id", noteID, "user_id", req.UserID, "by", userID)
	h.notify(ctx, noteID, api.EventCollaboratorAdded,
		map[string]any{"note_id": noteID, "user_id": req.UserID})
	sendJSON(h.logger, w, collab, http.StatusCreated)
}

// RemoveCollaborator обрабатывает DELETE /api/v1/notes/{id}/collaborators/{collabID}
func (h *NotesHandler) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, noteID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	collabID, err := strconv.ParseInt(mux.Vars(r)["collabID"], 10, 64)
	if err != nil {
		sendError(h.logger, w, "Invalid collaborator ID", http.StatusBadRequest)
		return
	}

	// Получатели события собираются до удаления, чтобы удаленный
	// соавтор тоже узнал о потере доступа
	recipients, err := h.recipients(r.Context(), noteID)
	if err != nil {
		h.logger.Error("Failed to resolve event recipients", "error", err, "note_id", noteID)
	}

	if err := h.collabs.RemoveCollaborator(ctx, noteID, collabID); err != nil {
		h.handleStorageError(w, err, userID, noteID)
		return
	}

	if recipients != nil {
		if err := h.notifier.Notify(recipients, api.EventCollaboratorRemove,
			map[string]any{"note_id": noteID}); err != nil {
			h.logger.Error("Failed to notify collaborators", "error", err, "note_id", noteID)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorize извлекает пользователя и заметку из запроса и проверяет доступ
func (h *NotesHandler) authorize(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	ctx := r.Context()
	userID, ok := GetUserID(ctx)
	if !ok {
		sendError(h.logger, w, "Unauthorized", http.StatusUnauthorized)
		return "", 0, false
	}

	noteID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || noteID <= 0 {
		sendError(h.logger, w, "Invalid note ID", http.StatusBadRequest)
		return "", 0, false
	}

	hasAccess, err := h.collabs.HasAccess(ctx, noteID, userID)
	if err != nil {
		h.logger.Error("Failed to check note access", "error", err, "note_id", noteID)
		sendError(h.logger, w, "Internal server error", http.StatusInternalServerError)
		return "", 0, false
	}
	if !hasAccess {
		// Не раскрываем существование чужой заметки
		sendError(h.logger, w, "Note not found", http.StatusNotFound)
		return "", 0, false
	}
	return userID, noteID, true
}

// notify шлет событие владельцу и всем соавторам заметки
func (h *NotesHandler) notify(ctx context.Context, noteID int64, eventType string, payload any) {
	recipients, err := h.recipients(ctx, noteID)
	if err != nil {
		h.logger.Error("Failed to resolve event recipients", "error", err, "note_id", noteID)
		return
	}
	if err := h.notifier.Notify(recipients, eventType, payload); err != nil {
		h.logger.Error("Failed to notify collaborators", "error", err, "note_id", noteID)
	}
}

func (h *NotesHandler) recipients(ctx context.Context, noteID int64) ([]string, error) {
	note, _, err := h.storage.ReadNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	collabs, err := h.collabs.ListCollaborators(ctx, noteID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(collabs)+1)
	recipients := make([]string, 0, len(collabs)+1)
	recipients = append(recipients, note.OwnerID)
	seen[note.OwnerID] = struct{}{}
	for _, c := range collabs {
		if _, ok := seen[c.UserID]; ok {
			continue
		}
		seen[c.UserID] = struct{}{}
		recipients = append(recipients, c.UserID)
	}
	return recipients, nil
}

func (h *NotesHandler) toAPINote(note *models.Note, rows []models.ChecklistItem) api.Note {
	apiNote := api.Note{
		ID:        note.ID,
		Type:      note.Type,
		Title:     note.Title,
		Body:      reconcile.Body(h.logger, note),
		Pinned:    note.Pinned,
		Archived:  note.Archived,
		CreatedAt: note.CreatedAt,
		UpdatedAt: note.UpdatedAt,
	}
	if note.Type == models.NoteTypeChecklist {
		apiNote.Items = reconcile.Items(h.logger, note, rows)
	}
	return apiNote
}

func (h *NotesHandler) handleStorageError(w http.ResponseWriter, err error, userID string, noteID int64) {
	switch {
	case errors.Is(err, storage.ErrNoteNotFound):
		sendError(h.logger, w, "Note not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrItemNotFound):
		sendError(h.logger, w, "Item not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrCollaboratorNotFound):
		sendError(h.logger, w, "Collaborator not found", http.StatusNotFound)
	default:
		h.logger.Error("Storage operation failed", "error", err, "user_id", userID, "note_id", noteID)
		sendError(h.logger, w, "Internal server error", http.StatusInternalServerError)
	}
}
