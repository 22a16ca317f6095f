package crdt

import (
	"encoding/json"
	"sort"
)

// register LWW регистр поля записи
type register struct {
	value json.RawMessage
	ts    OpID
}

// element элемент последовательности. Удаленные элементы остаются
// в виде tombstone, чтобы конкурентные операции над ними оставались
// применимыми.
type element struct {
	fields  map[string]register
	value   json.RawMessage
	pos     Position
	id      OpID
	deleted bool
}

// pendingOp операция, пришедшая раньше вставки своего целевого элемента.
// Откладывается и применяется после integrate, чтобы результат слияния
// не зависел от порядка доставки кадров.
type pendingOp struct {
	kind  string
	field string
	value json.RawMessage
	ts    OpID
}

// sequence упорядоченная последовательность элементов. Порядок задан
// позициями (pos.go), при равных позициях — ID операции вставки,
// поэтому материализация детерминирована на всех репликах.
type sequence struct {
	pending map[OpID][]pendingOp
	elems   []*element
}

// integrate вставляет элемент в позицию, определяемую его Position.
// Дедупликацию по ID операции выполняет Doc.apply.
func (s *sequence) integrate(e *element) {
	idx := sort.Search(len(s.elems), func(i int) bool {
		c := s.elems[i].pos.Compare(e.pos)
		if c != 0 {
			return c > 0
		}
		return e.id.Less(s.elems[i].id)
	})
	s.elems = append(s.elems, nil)
	copy(s.elems[idx+1:], s.elems[idx:])
	s.elems[idx] = e

	// Применяем отложенные операции, ждавшие этот элемент.
	for _, p := range s.pending[e.id] {
		s.applyToElement(e, p)
	}
	delete(s.pending, e.id)
}

// tombstone помечает элемент удаленным
func (s *sequence) tombstone(id OpID) {
	e := s.find(id)
	if e == nil {
		s.park(id, pendingOp{kind: OpDelete})
		return
	}
	e.deleted = true
}

// setField применяет LWW запись поля: выигрывает операция с большим OpID
func (s *sequence) setField(id OpID, field string, value json.RawMessage, ts OpID) {
	e := s.find(id)
	if e == nil {
		s.park(id, pendingOp{kind: OpSet, field: field, value: value, ts: ts})
		return
	}
	s.applyToElement(e, pendingOp{kind: OpSet, field: field, value: value, ts: ts})
}

func (s *sequence) applyToElement(e *element, p pendingOp) {
	switch p.kind {
	case OpDelete:
		e.deleted = true
	case OpSet:
		if e.fields == nil {
			e.fields = make(map[string]register)
		}
		cur, ok := e.fields[p.field]
		if ok && p.ts.Less(cur.ts) {
			return
		}
		e.fields[p.field] = register{value: p.value, ts: p.ts}
	}
}

func (s *sequence) park(id OpID, p pendingOp) {
	if s.pending == nil {
		s.pending = make(map[OpID][]pendingOp)
	}
	s.pending[id] = append(s.pending[id], p)
}

func (s *sequence) find(id OpID) *element {
	for _, e := range s.elems {
		if e.id == id {
			return e
		}
	}
	return nil
}

// alive возвращает живые (не удаленные) элементы в порядке последовательности
func (s *sequence) alive() []*element {
	out := make([]*element, 0, len(s.elems))
	for _, e := range s.elems {
		if !e.deleted {
			out = append(out, e)
		}
	}
	return out
}
