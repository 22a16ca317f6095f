package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/iudanet/collabnotes/internal/models"
	"github.com/iudanet/collabnotes/internal/server/storage"
)

// AddCollaborator adds user as collaborator of the note
func (s *Storage) AddCollaborator(ctx context.Context, collab *models.Collaborator) error {
	if collab.Role == "" {
		collab.Role = "editor"
	}
	if collab.CreatedAt.IsZero() {
		collab.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO collaborators (note_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
	`, collab.NoteID, collab.UserID, collab.Role, collab.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert collaborator: %w", err)
	}

	if collab.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get collaborator id: %w", err)
	}
	return nil
}

// RemoveCollaborator removes collaborator record by ID
// Returns ErrCollaboratorNotFound if record doesn't exist
func (s *Storage) RemoveCollaborator(ctx context.Context, noteID, collabID int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM collaborators WHERE id = ? AND note_id = ?
	`, collabID, noteID)
	if err != nil {
		return fmt.Errorf("failed to delete collaborator: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrCollaboratorNotFound
	}
	return nil
}

// ListCollaborators retrieves collaborators of the note
func (s *Storage) ListCollaborators(ctx context.Context, noteID int64) ([]models.Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, note_id, user_id, role, created_at
		FROM collaborators
		WHERE note_id = ?
		ORDER BY created_at ASC
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query collaborators: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var collabs []models.Collaborator
	for rows.Next() {
		var c models.Collaborator
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.NoteID, &c.UserID, &c.Role, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan collaborator: %w", err)
		}
		c.CreatedAt = unixToTime(createdAt)
		collabs = append(collabs, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return collabs, nil
}

// HasAccess reports whether user is owner or collaborator of the note
func (s *Storage) HasAccess(ctx context.Context, noteID int64, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM notes n
		LEFT JOIN collaborators c ON c.note_id = n.id AND c.user_id = ?
		WHERE n.id = ? AND (n.owner_id = ? OR c.id IS NOT NULL)
	`, userID, noteID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check access: %w", err)
	}
	return n > 0, nil
}
