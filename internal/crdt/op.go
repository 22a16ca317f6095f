package crdt

import "encoding/json"

// OpID уникально идентифицирует операцию: Lamport счетчик + идентификатор
// сайта (реплики), издавшего операцию. Один сайт никогда не переиспользует
// счетчик, поэтому пара (Counter, Site) глобально уникальна.
type OpID struct {
	Site    string `json:"site"`
	Counter uint64 `json:"counter"`
}

// IsZero возвращает true для нулевого OpID
func (id OpID) IsZero() bool {
	return id.Counter == 0 && id.Site == ""
}

// Less задает детерминированный полный порядок операций.
// Сначала сравнивается Lamport счетчик, при равенстве — Site.
// Используется для LWW разрешения конфликтов и для сортировки
// операций при сериализации snapshot.
func (id OpID) Less(other OpID) bool {
	if id.Counter != other.Counter {
		return id.Counter < other.Counter
	}
	return id.Site < other.Site
}

// Виды операций
const (
	OpInsert = "ins" // вставка элемента в последовательность
	OpDelete = "del" // удаление элемента (tombstone)
	OpSet    = "set" // LWW запись поля записи чеклиста
)

// Op представляет одну операцию над документом. Операции коммутативны:
// применение одного и того же набора операций в любом порядке дает
// идентичное состояние документа.
type Op struct {
	ID     OpID            `json:"id"`
	Kind   string          `json:"kind"`
	Seq    string          `json:"seq"`              // имя последовательности ("checklist", "body")
	Pos    Position        `json:"pos,omitempty"`    // insert: позиция элемента
	Target OpID            `json:"target"`           // delete/set: ID целевого элемента
	Field  string          `json:"field,omitempty"`  // set: имя поля
	Value  json.RawMessage `json:"value,omitempty"`  // insert: начальное значение, set: новое значение поля
}
