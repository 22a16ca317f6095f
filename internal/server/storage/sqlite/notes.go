package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/collabnotes/internal/models"
	"github.com/iudanet/collabnotes/internal/server/storage"
)

// CreateNote creates a new note with optional checklist items
func (s *Storage) CreateNote(ctx context.Context, note *models.Note, items []models.ChecklistItem) error {
	now := time.Now()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO notes (owner_id, type, title, body, snapshot, pinned, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		note.OwnerID,
		note.Type,
		note.Title,
		note.Body,
		note.Snapshot,
		boolToInt(note.Pinned),
		boolToInt(note.Archived),
		note.CreatedAt.Unix(),
		note.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}

	noteID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get note id: %w", err)
	}
	note.ID = noteID

	for i := range items {
		items[i].NoteID = noteID
		res, err := tx.ExecContext(ctx, `
			INSERT INTO note_items (note_id, content, checked, ord, indent)
			VALUES (?, ?, ?, ?, ?)
		`,
			noteID,
			items[i].Content,
			boolToInt(items[i].Checked),
			items[i].Ord,
			items[i].Indent,
		)
		if err != nil {
			return fmt.Errorf("failed to insert checklist item: %w", err)
		}
		if items[i].ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get item id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// ReadNote retrieves note with its checklist items (ord ascending)
// Returns ErrNoteNotFound if note doesn't exist
func (s *Storage) ReadNote(ctx context.Context, noteID int64) (*models.Note, []models.ChecklistItem, error) {
	note := &models.Note{}
	var pinned, archived int
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, type, title, body, snapshot, pinned, archived, created_at, updated_at
		FROM notes
		WHERE id = ?
	`, noteID).Scan(
		&note.ID,
		&note.OwnerID,
		&note.Type,
		&note.Title,
		&note.Body,
		&note.Snapshot,
		&pinned,
		&archived,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, storage.ErrNoteNotFound
		}
		return nil, nil, fmt.Errorf("failed to get note: %w", err)
	}

	note.Pinned = intToBool(pinned)
	note.Archived = intToBool(archived)
	note.CreatedAt = unixToTime(createdAt)
	note.UpdatedAt = unixToTime(updatedAt)

	items, err := s.ReadChecklistItems(ctx, noteID)
	if err != nil {
		return nil, nil, err
	}

	return note, items, nil
}

// ListNotes retrieves all notes accessible to the user (owner or collaborator)
// Items не включаются: списочный read path сверяет их отдельно для каждой заметки
func (s *Storage) ListNotes(ctx context.Context, userID string) ([]*models.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT n.id, n.owner_id, n.type, n.title, n.body, n.snapshot,
		       n.pinned, n.archived, n.created_at, n.updated_at
		FROM notes n
		LEFT JOIN collaborators c ON c.note_id = n.id
		WHERE n.owner_id = ? OR c.user_id = ?
		ORDER BY n.pinned DESC, n.updated_at DESC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var notes []*models.Note
	for rows.Next() {
		note := &models.Note{}
		var pinned, archived int
		var createdAt, updatedAt int64

		if err := rows.Scan(
			&note.ID,
			&note.OwnerID,
			&note.Type,
			&note.Title,
			&note.Body,
			&note.Snapshot,
			&pinned,
			&archived,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}

		note.Pinned = intToBool(pinned)
		note.Archived = intToBool(archived)
		note.CreatedAt = unixToTime(createdAt)
		note.UpdatedAt = unixToTime(updatedAt)
		notes = append(notes, note)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return notes, nil
}

// WriteSnapshot persists serialized CRDT state for the note
// Returns ErrNoteNotFound if note doesn't exist
func (s *Storage) WriteSnapshot(ctx context.Context, noteID int64, snapshot []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notes SET snapshot = ?, updated_at = ? WHERE id = ?
	`, snapshot, time.Now().Unix(), noteID)
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNoteNotFound
	}
	return nil
}

// ReadChecklistItems retrieves checklist rows for the note, ord ascending
func (s *Storage) ReadChecklistItems(ctx context.Context, noteID int64) ([]models.ChecklistItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, note_id, content, checked, ord, indent
		FROM note_items
		WHERE note_id = ?
		ORDER BY ord ASC
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checklist items: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var items []models.ChecklistItem
	for rows.Next() {
		var item models.ChecklistItem
		var checked int
		if err := rows.Scan(&item.ID, &item.NoteID, &item.Content, &checked, &item.Ord, &item.Indent); err != nil {
			return nil, fmt.Errorf("failed to scan checklist item: %w", err)
		}
		item.Checked = intToBool(checked)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return items, nil
}

// UpdateNoteFields updates mutable note fields. nil указатель означает "поле не менять"
// Returns ErrNoteNotFound if note doesn't exist
func (s *Storage) UpdateNoteFields(ctx context.Context, noteID int64, title *string, pinned, archived *bool) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().Unix()}

	if title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *title)
	}
	if pinned != nil {
		sets = append(sets, "pinned = ?")
		args = append(args, boolToInt(*pinned))
	}
	if archived != nil {
		sets = append(sets, "archived = ?")
		args = append(args, boolToInt(*archived))
	}
	args = append(args, noteID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE notes SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNoteNotFound
	}
	return nil
}

// UpdateChecklistItem updates content/checked of a relational checklist row
// Returns ErrItemNotFound if item doesn't exist
func (s *Storage) UpdateChecklistItem(ctx context.Context, noteID, itemID int64, content *string, checked *bool) error {
	sets := []string{}
	args := []any{}

	if content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *content)
	}
	if checked != nil {
		sets = append(sets, "checked = ?")
		args = append(args, boolToInt(*checked))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, itemID, noteID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE note_items SET "+strings.Join(sets, ", ")+" WHERE id = ? AND note_id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update checklist item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrItemNotFound
	}
	return nil
}

// ReplaceChecklistItems replaces all relational checklist rows of the note
func (s *Storage) ReplaceChecklistItems(ctx context.Context, noteID int64, items []models.ChecklistItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM note_items WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("failed to delete checklist items: %w", err)
	}

	for i := range items {
		items[i].NoteID = noteID
		res, err := tx.ExecContext(ctx, `
			INSERT INTO note_items (note_id, content, checked, ord, indent)
			VALUES (?, ?, ?, ?, ?)
		`, noteID, items[i].Content, boolToInt(items[i].Checked), items[i].Ord, items[i].Indent)
		if err != nil {
			return fmt.Errorf("failed to insert checklist item: %w", err)
		}
		if items[i].ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get item id: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE notes SET updated_at = ? WHERE id = ?`,
		time.Now().Unix(), noteID); err != nil {
		return fmt.Errorf("failed to touch note: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Helper functions for bool/int conversion
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}

func unixToTime(timestamp int64) time.Time {
	return time.Unix(timestamp, 0)
}
