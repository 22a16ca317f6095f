package storage

import "errors"

// Common storage errors
var (
	// ErrNoteNotFound indicates that note was not found in storage
	ErrNoteNotFound = errors.New("note not found")

	// ErrItemNotFound indicates that checklist item was not found
	ErrItemNotFound = errors.New("checklist item not found")

	// ErrCollaboratorNotFound indicates that collaborator record was not found
	ErrCollaboratorNotFound = errors.New("collaborator not found")
)
