package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/iudanet/collabnotes/internal/crdt"
	"github.com/iudanet/collabnotes/internal/models"
	"github.com/iudanet/collabnotes/internal/server/storage"
)

// Adapter связывает жизненный цикл CRDT документа с Document Store.
// Владеет инвариантом "bootstrap ровно один раз" и записью snapshot.
type Adapter struct {
	logger *slog.Logger
	store  storage.NoteStorage
}

// NewAdapter creates a new persistence adapter
func NewAdapter(logger *slog.Logger, store storage.NoteStorage) *Adapter {
	return &Adapter{
		logger: logger,
		store:  store,
	}
}

// Bootstrap строит CRDT документ для заметки при создании комнаты.
//
// Если в хранилище есть snapshot — декодируем его (обычный случай для
// любой заметки, которую уже открывали совместно). Если snapshot нет —
// строим начальное состояние из реляционной проекции и НЕМЕДЛЕННО
// персистим snapshot, чтобы этот путь больше никогда не выполнялся для
// этой заметки: незаписанный bootstrap при гонке повторного открытия
// дублирует содержимое.
//
// Нечитаемый snapshot не приводит к повторному bootstrap из строк
// (это молча воскресило бы устаревшее содержимое поверх более нового,
// но нечитаемого состояния): комната открывается с пустым документом,
// инцидент логируется на уровне error, восстановление — явная операция
// оператора.
func (a *Adapter) Bootstrap(ctx context.Context, noteID int64) (*crdt.Doc, error) {
	note, items, err := a.store.ReadNote(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to read note for bootstrap: %w", err)
	}

	site := uuid.New().String()

	if len(note.Snapshot) > 0 {
		doc, err := crdt.Decode(site, note.Snapshot)
		if err != nil {
			a.logger.Error("Note snapshot is unreadable, opening empty document; manual repair required",
				"note_id", noteID, "error", err)
			return crdt.NewDoc(site), nil
		}
		return doc, nil
	}

	doc := crdt.NewDoc(site)
	a.seed(doc, note, items)

	// Инвариант exactly-once: bootstrap завершен только после записи
	// snapshot. Ошибка записи — ошибка bootstrap, комната не создается.
	state, err := doc.EncodeState()
	if err != nil {
		return nil, fmt.Errorf("failed to encode bootstrapped state: %w", err)
	}
	if err := a.store.WriteSnapshot(ctx, noteID, state); err != nil {
		return nil, fmt.Errorf("failed to persist bootstrapped snapshot: %w", err)
	}

	a.logger.Info("Bootstrapped note from relational projection",
		"note_id", noteID, "type", note.Type, "items", len(items))
	return doc, nil
}

// seed наполняет свежий документ из реляционной проекции
func (a *Adapter) seed(doc *crdt.Doc, note *models.Note, items []models.ChecklistItem) {
	if note.Body != "" {
		doc.Text(crdt.SeqBody).Insert(0, parseBody(note.Body))
	}

	if note.Type != models.NoteTypeChecklist {
		return
	}

	list := doc.List(crdt.SeqChecklist)
	for i, item := range items { // items отсортированы по ord
		_, err := list.Insert(i, map[string]any{
			"id":      strconv.FormatInt(item.ID, 10),
			"content": item.Content,
			"checked": item.Checked,
			"indent":  item.Indent,
		})
		if err != nil {
			// json.Marshal примитивов не падает; ветка для полноты.
			a.logger.Error("Failed to seed checklist item", "note_id", note.ID, "error", err)
		}
	}
}

// parseBody разбирает сериализованный rich-text body: JSON массив
// параграфов. Если разбор не удался, body трактуется как один параграф
// плоского текста.
func parseBody(body string) string {
	var paragraphs []string
	if err := json.Unmarshal([]byte(body), &paragraphs); err != nil {
		return body
	}
	out := ""
	for i, p := range paragraphs {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}
