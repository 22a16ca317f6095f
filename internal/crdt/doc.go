package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
)

// snapshotVersion версия формата сериализации snapshot.
// Формат является непрозрачным для всех компонентов вне этого пакета.
const snapshotVersion = 1

// Doc представляет реплицированный документ заметки: набор именованных
// последовательностей (rich-text фрагмент, чеклист) поверх общего лога
// операций. Один и тот же набор операций, примененный в любом порядке,
// дает идентичное состояние и идентичную сериализацию.
//
// Doc не потокобезопасен. Владеющая комната сериализует все мутации
// через собственную goroutine, другие компоненты не должны держать
// мутабельную ссылку на документ.
type Doc struct {
	site    string
	applied map[OpID]struct{}
	seqs    map[string]*sequence
	log     []Op
	clock   uint64
}

// NewDoc создает пустой документ. site должен быть уникальным для каждой
// реплики (используется UUID).
func NewDoc(site string) *Doc {
	return &Doc{
		site:    site,
		applied: make(map[OpID]struct{}),
		seqs:    make(map[string]*sequence),
	}
}

// Site возвращает идентификатор реплики документа
func (d *Doc) Site() string {
	return d.site
}

// nextID выдает ID для новой локальной операции, продвигая Lamport clock
func (d *Doc) nextID() OpID {
	d.clock++
	return OpID{Site: d.site, Counter: d.clock}
}

// seq возвращает (создавая при необходимости) последовательность по имени
func (d *Doc) seq(name string) *sequence {
	s, ok := d.seqs[name]
	if !ok {
		s = &sequence{}
		d.seqs[name] = s
	}
	return s
}

// apply интегрирует операцию в состояние документа. Повторное применение
// уже известной операции — no-op, поэтому apply идемпотентен, а слияние
// двух дивергентных логов коммутативно.
func (d *Doc) apply(op Op) error {
	if _, ok := d.applied[op.ID]; ok {
		return nil
	}

	s := d.seq(op.Seq)
	switch op.Kind {
	case OpInsert:
		s.integrate(&element{id: op.ID, pos: op.Pos, value: op.Value})
	case OpDelete:
		s.tombstone(op.Target)
	case OpSet:
		s.setField(op.Target, op.Field, op.Value, op.ID)
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}

	d.applied[op.ID] = struct{}{}
	d.log = append(d.log, op)
	if op.ID.Counter > d.clock {
		d.clock = op.ID.Counter
	}
	return nil
}

// emit применяет локально созданную операцию
func (d *Doc) emit(op Op) {
	// Локальная операция всегда новая и всегда валидна.
	if err := d.apply(op); err != nil {
		panic(fmt.Sprintf("crdt: invalid local op: %v", err))
	}
}

// snapshot сериализованное представление документа
type snapshot struct {
	Ops     []Op `json:"ops"`
	Version int  `json:"v"`
}

// sortedOps возвращает лог операций в детерминированном порядке
func (d *Doc) sortedOps() []Op {
	ops := make([]Op, len(d.log))
	copy(ops, d.log)
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].ID.Less(ops[j].ID)
	})
	return ops
}

// EncodeState сериализует полное состояние документа. Результат
// детерминирован: документы с одинаковым набором операций дают
// байт-в-байт одинаковый snapshot независимо от порядка применения.
func (d *Doc) EncodeState() ([]byte, error) {
	data, err := json.Marshal(snapshot{Version: snapshotVersion, Ops: d.sortedOps()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode document state: %w", err)
	}
	return data, nil
}

// ApplyUpdate декодирует и применяет update (полное состояние или
// инкрементальное обновление). Уже известные операции пропускаются.
// Возвращает количество примененных новых операций.
//
// Update применяется целиком или никак: весь набор операций валидируется
// до интеграции, битый кадр не оставляет частично примененного префикса.
func (d *Doc) ApplyUpdate(data []byte) (int, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("failed to decode update: %w", err)
	}
	if snap.Version != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	for _, op := range snap.Ops {
		switch op.Kind {
		case OpInsert, OpDelete, OpSet:
		default:
			return 0, fmt.Errorf("unknown op kind %q", op.Kind)
		}
	}

	applied := 0
	for _, op := range snap.Ops {
		if _, ok := d.applied[op.ID]; ok {
			continue
		}
		if err := d.apply(op); err != nil {
			return applied, fmt.Errorf("failed to apply op: %w", err)
		}
		applied++
	}
	return applied, nil
}

// Decode восстанавливает документ из snapshot.
// Возвращает ошибку на любых некорректных данных, никогда не паникует.
func Decode(site string, data []byte) (*Doc, error) {
	d := NewDoc(site)
	if _, err := d.ApplyUpdate(data); err != nil {
		return nil, err
	}
	return d, nil
}

// StateVector возвращает вектор состояния документа: максимальный
// известный счетчик для каждого сайта.
func (d *Doc) StateVector() map[string]uint64 {
	sv := make(map[string]uint64)
	for id := range d.applied {
		if id.Counter > sv[id.Site] {
			sv[id.Site] = id.Counter
		}
	}
	return sv
}

// EncodeUpdateSince сериализует операции, неизвестные реплике
// с данным вектором состояния.
func (d *Doc) EncodeUpdateSince(sv map[string]uint64) ([]byte, error) {
	var missing []Op
	for _, op := range d.sortedOps() {
		if op.ID.Counter > sv[op.ID.Site] {
			missing = append(missing, op)
		}
	}
	data, err := json.Marshal(snapshot{Version: snapshotVersion, Ops: missing})
	if err != nil {
		return nil, fmt.Errorf("failed to encode update: %w", err)
	}
	return data, nil
}
