package crdt

import "encoding/json"

// SeqBody имя последовательности, под которым живет rich-text фрагмент
const SeqBody = "body"

// Text представляет совместно редактируемый текст: последовательность
// рун поверх той же CRDT механики, что и List. Конкурентные вставки
// и удаления в любых позициях сливаются детерминированно.
type Text struct {
	doc  *Doc
	name string
}

// Text возвращает view текстовой последовательности под данным именем
func (d *Doc) Text(name string) *Text {
	return &Text{doc: d, name: name}
}

// Len возвращает длину текста в рунах
func (t *Text) Len() int {
	return len(t.doc.seq(t.name).alive())
}

// String материализует текущее содержимое текста
func (t *Text) String() string {
	alive := t.doc.seq(t.name).alive()
	runes := make([]rune, 0, len(alive))
	for _, e := range alive {
		var r string
		if err := json.Unmarshal(e.value, &r); err != nil || r == "" {
			continue
		}
		runes = append(runes, []rune(r)[0])
	}
	return string(runes)
}

// Insert вставляет строку начиная с позиции index (в рунах)
func (t *Text) Insert(index int, s string) {
	seq := t.doc.seq(t.name)
	for _, r := range s {
		alive := seq.alive()
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

		raw, err := json.Marshal(string(r))
		if err != nil {
			continue
		}
		pos := positionBetween(lower, upper, t.doc.site)
		t.doc.emit(Op{ID: t.doc.nextID(), Kind: OpInsert, Seq: t.name, Pos: pos, Value: raw})
		index++
	}
}

// Delete удаляет n рун начиная с позиции index
func (t *Text) Delete(index, n int) {
	seq := t.doc.seq(t.name)
	alive := seq.alive()
	for i := index; i < index+n && i < len(alive); i++ {
		if i < 0 {
			continue
		}
		t.doc.emit(Op{ID: t.doc.nextID(), Kind: OpDelete, Seq: t.name, Target: alive[i].id})
	}
}
