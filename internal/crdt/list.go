package crdt

import "encoding/json"

// SeqChecklist имя последовательности, под которым живет чеклист заметки
const SeqChecklist = "checklist"

// List представляет упорядоченную последовательность типизированных
// записей (пункты чеклиста). Каждая запись — набор LWW полей, поэтому
// конкурентное изменение разных полей одной записи, как и конкурентное
// изменение и удаление разных записей, сливается без конфликтов.
type List struct {
	doc  *Doc
	name string
}

// List возвращает view последовательности записей под данным именем
func (d *Doc) List(name string) *List {
	return &List{doc: d, name: name}
}

// Record снимок одной записи списка
type Record struct {
	Fields map[string]json.RawMessage
	ID     OpID
}

// String возвращает строковое значение поля записи (пустая строка,
// если поле отсутствует или не строка)
func (r Record) String(field string) string {
	var s string
	if raw, ok := r.Fields[field]; ok {
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
	}
	return s
}

// Bool возвращает булево значение поля записи
func (r Record) Bool(field string) bool {
	var b bool
	if raw, ok := r.Fields[field]; ok {
		if err := json.Unmarshal(raw, &b); err != nil {
			return false
		}
	}
	return b
}

// Int возвращает числовое значение поля записи
func (r Record) Int(field string) int {
	var n int
	if raw, ok := r.Fields[field]; ok {
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0
		}
	}
	return n
}

// Len возвращает количество живых записей
func (l *List) Len() int {
	return len(l.doc.seq(l.name).alive())
}

// Records возвращает снимок всех живых записей в порядке последовательности
func (l *List) Records() []Record {
	alive := l.doc.seq(l.name).alive()
	out := make([]Record, 0, len(alive))
	for _, e := range alive {
		rec := Record{ID: e.id, Fields: make(map[string]json.RawMessage, len(e.fields))}
		for k, v := range e.fields {
			rec.Fields[k] = v.value
		}
		out = append(out, rec)
	}
	return out
}

// Insert вставляет новую запись на позицию index (0 = начало, Len() =
// конец) с начальными полями. Возвращает ID записи для последующих
// Set/Delete.
func (l *List) Insert(index int, fields map[string]any) (OpID, error) {
	s := l.doc.seq(l.name)
	alive := s.alive()
	if index < 0 {
		index = 0
	}
	if index > len(alive) {
		index = len(alive)
	}

	var lower, upper Position
	if index > 0 {
		lower = alive[index-1].pos
	}
	if index < len(alive) {
		upper = alive[index].pos
	}

	id := l.doc.nextID()
	pos := positionBetween(lower, upper, l.doc.site)

	l.doc.emit(Op{ID: id, Kind: OpInsert, Seq: l.name, Pos: pos})
	for field, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return OpID{}, err
		}
		l.doc.emit(Op{ID: l.doc.nextID(), Kind: OpSet, Seq: l.name, Target: id, Field: field, Value: raw})
	}
	return id, nil
}

// Set записывает поле записи (LWW)
func (l *List) Set(id OpID, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	l.doc.emit(Op{ID: l.doc.nextID(), Kind: OpSet, Seq: l.name, Target: id, Field: field, Value: raw})
	return nil
}

// Delete удаляет запись по ID
func (l *List) Delete(id OpID) {
	l.doc.emit(Op{ID: l.doc.nextID(), Kind: OpDelete, Seq: l.name, Target: id})
}
