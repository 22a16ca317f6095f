package models

import "time"

// NoteType константы для типов заметок
const (
	NoteTypeText      = "TEXT"
	NoteTypeChecklist = "CHECKLIST"
)

// Note представляет заметку в реляционном хранилище.
// Поле Snapshot хранит сериализованное CRDT состояние документа.
// Если Snapshot присутствует, он является источником истины для содержимого;
// Body и связанные ChecklistItem остаются реляционной проекцией для поиска
// и списочных запросов.
type Note struct {
	CreatedAt time.Time `json:"created_at"` // время создания
	UpdatedAt time.Time `json:"updated_at"` // время последнего обновления
	ID        int64     `json:"id"`         // идентификатор заметки
	OwnerID   string    `json:"owner_id"`   // UUID владельца
	Type      string    `json:"type"`       // тип заметки: "TEXT" или "CHECKLIST"
	Title     string    `json:"title"`      // заголовок
	Body      string    `json:"body"`       // текстовое содержимое (реляционный fallback)
	Snapshot  []byte    `json:"-"`          // opaque CRDT snapshot (nil = заметка никогда не открывалась совместно)
	Pinned    bool      `json:"pinned"`     // закреплена ли заметка
	Archived  bool      `json:"archived"`   // архивирована ли заметка
}

// ChecklistItem представляет строку чеклиста в реляционном хранилище.
// Строки являются best-effort зеркалом CRDT последовательности чеклиста;
// после появления snapshot они НЕ авторитетны — snapshot выигрывает.
type ChecklistItem struct {
	ID      int64   `json:"id"`      // идентификатор строки
	NoteID  int64   `json:"note_id"` // идентификатор заметки
	Content string  `json:"content"` // текст пункта
	Ord     float64 `json:"ord"`     // ключ сортировки
	Indent  int     `json:"indent"`  // уровень вложенности
	Checked bool    `json:"checked"` // отмечен ли пункт
}

// Collaborator представляет соавтора заметки.
// Соавтор имеет доступ к комнате совместного редактирования заметки
// и получает события Event Bus при изменениях.
type Collaborator struct {
	CreatedAt time.Time `json:"created_at"` // время добавления
	ID        int64     `json:"id"`         // идентификатор записи
	NoteID    int64     `json:"note_id"`    // идентификатор заметки
	UserID    string    `json:"user_id"`    // UUID соавтора
	Role      string    `json:"role"`       // роль: "editor" или "viewer"
}
