// Package reconcile реализует read-path сверку чеклистов: решение,
// что авторитетно для отображения — CRDT snapshot или реляционные строки.
package reconcile

import (
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/iudanet/collabnotes/internal/crdt"
	"github.com/iudanet/collabnotes/internal/models"
	"github.com/iudanet/collabnotes/pkg/api"
)

// Items возвращает авторитетное представление чеклиста заметки.
//
// Если у заметки есть snapshot, он декодируется во временный CRDT документ
// и чеклист читается из него — в том числе когда последовательность пуста:
// пустой декодированный snapshot авторитетен, откат к реляционным строкам
// воскресил бы удаленные пункты. Если snapshot нет, возвращаются
// реляционные строки в порядке ord.
//
// Ошибка декодирования (битый snapshot) не валит read path: логируется
// warning и возвращаются реляционные строки.
func Items(logger *slog.Logger, note *models.Note, rows []models.ChecklistItem) []api.ChecklistItem {
	if len(note.Snapshot) == 0 {
		return fromRows(rows)
	}

	doc, err := crdt.Decode(uuid.New().String(), note.Snapshot)
	if err != nil {
		logger.Warn("Failed to decode note snapshot, falling back to relational rows",
			"note_id", note.ID, "error", err)
		return fromRows(rows)
	}

	records := doc.List(crdt.SeqChecklist).Records()
	items := make([]api.ChecklistItem, 0, len(records))
	for _, rec := range records {
		id := rec.String("id")
		if id == "" {
			id = rec.ID.Site + ":" + strconv.FormatUint(rec.ID.Counter, 10)
		}
		items = append(items, api.ChecklistItem{
			ID:      id,
			Content: rec.String("content"),
			Checked: rec.Bool("checked"),
			Indent:  rec.Int("indent"),
		})
	}
	return items
}

// Body возвращает авторитетное текстовое содержимое заметки:
// CRDT текст при читаемом snapshot, иначе реляционный body.
func Body(logger *slog.Logger, note *models.Note) string {
	if len(note.Snapshot) == 0 {
		return note.Body
	}

	doc, err := crdt.Decode(uuid.New().String(), note.Snapshot)
	if err != nil {
		logger.Warn("Failed to decode note snapshot for body read",
			"note_id", note.ID, "error", err)
		return note.Body
	}
	return doc.Text(crdt.SeqBody).String()
}

func fromRows(rows []models.ChecklistItem) []api.ChecklistItem {
	items := make([]api.ChecklistItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, api.ChecklistItem{
			ID:      strconv.FormatInt(row.ID, 10),
			Content: row.Content,
			Checked: row.Checked,
			Ord:     row.Ord,
			Indent:  row.Indent,
		})
	}
	return items
}
