package api

import "encoding/json"

// Event представляет сообщение Event Bus, доставляемое на все
// подключенные сокеты пользователя. Доставка best-effort: отключенное
// устройство пропускает событие и догоняет состояние следующим полным fetch.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Типы событий Event Bus
const (
	EventNoteUpdated        = "note-updated"
	EventNotePinChanged     = "note-pin-changed"
	EventNoteArchived       = "note-archived"
	EventNoteItemsChanged   = "note-items-changed"
	EventCollaboratorAdded  = "collaborator-added"
	EventCollaboratorRemove = "collaborator-removed"
)
