package api

import "time"

// Note представляет заметку в API формате.
// Items всегда отдаются после сверки (reconciliation): если у заметки есть
// CRDT snapshot, Items построены из него, иначе из реляционных строк.
type Note struct {
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Items     []ChecklistItem `json:"items"`
	ID        int64           `json:"id"`
	Pinned    bool            `json:"pinned"`
	Archived  bool            `json:"archived"`
}

// ChecklistItem представляет пункт чеклиста в API формате
type ChecklistItem struct {
	ID      string  `json:"id,omitempty"` // идентификатор пункта (UUID для CRDT записей, число для реляционных строк)
	Content string  `json:"content"`      // текст пункта
	Ord     float64 `json:"ord"`          // ключ сортировки (только реляционные строки)
	Indent  int     `json:"indent"`       // уровень вложенности
	Checked bool    `json:"checked"`      // отмечен ли пункт
}

// ListNotesResponse представляет ответ на запрос списка заметок
type ListNotesResponse struct {
	Notes []Note `json:"notes"`
}

// CreateNoteRequest представляет запрос на создание заметки
type CreateNoteRequest struct {
	Type  string          `json:"type"`
	Title string          `json:"title"`
	Body  string          `json:"body,omitempty"`
	Items []ChecklistItem `json:"items,omitempty"`
}

// UpdateNoteRequest представляет запрос на изменение полей заметки.
// Указатели отличают "поле не передано" от zero value.
type UpdateNoteRequest struct {
	Title    *string `json:"title,omitempty"`
	Pinned   *bool   `json:"pinned,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

// UpdateItemRequest представляет запрос на изменение пункта чеклиста
type UpdateItemRequest struct {
	Content *string `json:"content,omitempty"`
	Checked *bool   `json:"checked,omitempty"`
}

// ReplaceItemsRequest представляет запрос на полную замену пунктов чеклиста
type ReplaceItemsRequest struct {
	Items []ChecklistItem `json:"items"`
}

// AddCollaboratorRequest представляет запрос на добавление соавтора
type AddCollaboratorRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// EnqueueOCRJobRequest представляет запрос на постановку OCR задачи в очередь
type EnqueueOCRJobRequest struct {
	NoteID    int64  `json:"note_id"`
	ImagePath string `json:"image_path"`
}

// OCRJobResponse представляет поставленную в очередь OCR задачу
type OCRJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}
