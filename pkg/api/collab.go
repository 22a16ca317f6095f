package api

import "strconv"

// Кадры Sync Transport. Каждое бинарное websocket сообщение начинается
// с однобайтового типа кадра, дальше идет payload.
//
// FrameSync: полное CRDT состояние. Сервер шлет его первым сообщением
// после подключения, чтобы поздно присоединившиеся сессии сошлись.
// FrameUpdate: инкрементальное CRDT обновление в любую сторону.
// FrameAwareness: эфемерное presence сообщение (JSON), не персистится,
// при backpressure может быть отброшено.
const (
	FrameSync      byte = 0x00
	FrameUpdate    byte = 0x01
	FrameAwareness byte = 0x02
)

// RoomName возвращает стабильный идентификатор комнаты для заметки
func RoomName(noteID int64) string {
	return "note-" + strconv.FormatInt(noteID, 10)
}

// ParseRoomName извлекает идентификатор заметки из имени комнаты.
// Возвращает false, если имя не в формате "note-<id>".
func ParseRoomName(room string) (int64, bool) {
	const prefix = "note-"
	if len(room) <= len(prefix) || room[:len(prefix)] != prefix {
		return 0, false
	}
	id, err := strconv.ParseInt(room[len(prefix):], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
