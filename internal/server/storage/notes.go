package storage

import (
	"context"

	"github.com/iudanet/collabnotes/internal/models"
)

// NoteStorage defines interface for note persistence (Document Store contract)
type NoteStorage interface {
	// ReadNote retrieves note with its checklist items (ord ascending)
	// Returns ErrNoteNotFound if note doesn't exist
	ReadNote(ctx context.Context, noteID int64) (*models.Note, []models.ChecklistItem, error)

	// ListNotes retrieves all notes accessible to the user
	// (owned or shared as collaborator), без items
	ListNotes(ctx context.Context, userID string) ([]*models.Note, error)

	// WriteSnapshot persists serialized CRDT state for the note
	// Returns ErrNoteNotFound if note doesn't exist
	WriteSnapshot(ctx context.Context, noteID int64, snapshot []byte) error

	// ReadChecklistItems retrieves checklist rows for the note, ord ascending
	ReadChecklistItems(ctx context.Context, noteID int64) ([]models.ChecklistItem, error)

	// UpdateNoteFields updates mutable note fields.
	// nil указатель означает "поле не менять".
	// Returns ErrNoteNotFound if note doesn't exist
	UpdateNoteFields(ctx context.Context, noteID int64, title *string, pinned, archived *bool) error

	// UpdateChecklistItem updates content/checked of a relational checklist row
	// Returns ErrItemNotFound if item doesn't exist
	UpdateChecklistItem(ctx context.Context, noteID, itemID int64, content *string, checked *bool) error

	// ReplaceChecklistItems replaces all relational checklist rows of the note
	ReplaceChecklistItems(ctx context.Context, noteID int64, items []models.ChecklistItem) error

	// CreateNote creates a new note with optional checklist items
	CreateNote(ctx context.Context, note *models.Note, items []models.ChecklistItem) error
}

// CollaboratorStorage defines interface for collaborator persistence
type CollaboratorStorage interface {
	// AddCollaborator adds user as collaborator of the note
	AddCollaborator(ctx context.Context, collab *models.Collaborator) error

	// RemoveCollaborator removes collaborator record by ID
	// Returns ErrCollaboratorNotFound if record doesn't exist
	RemoveCollaborator(ctx context.Context, noteID, collabID int64) error

	// ListCollaborators retrieves collaborators of the note
	ListCollaborators(ctx context.Context, noteID int64) ([]models.Collaborator, error)

	// HasAccess reports whether user is owner or collaborator of the note
	HasAccess(ctx context.Context, noteID int64, userID string) (bool, error)
}
