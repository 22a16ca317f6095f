package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/collabnotes/internal/crdt"
	"github.com/iudanet/collabnotes/internal/models"
	"github.com/iudanet/collabnotes/internal/server/storage"
	"github.com/iudanet/collabnotes/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockNoteStore реализует storage.NoteStorage для тестов комнат.
// Неподдерживаемые методы паникуют через embedded nil интерфейс.
type mockNoteStore struct {
	storage.NoteStorage

	readNoteFunc      func(ctx context.Context, noteID int64) (*models.Note, []models.ChecklistItem, error)
	writeSnapshotFunc func(ctx context.Context, noteID int64, snapshot []byte) error

	mu           sync.Mutex
	reads        int
	writes       [][]byte
	writeStarted chan []byte   // если не nil, сигнализирует начало записи (с состоянием)
	writeGate    chan struct{} // если не nil, каждая запись ждет сигнала
}

func (m *mockNoteStore) ReadNote(ctx context.Context, noteID int64) (*models.Note, []models.ChecklistItem, error) {
	m.mu.Lock()
	m.reads++
	m.mu.Unlock()
	return m.readNoteFunc(ctx, noteID)
}

func (m *mockNoteStore) WriteSnapshot(ctx context.Context, noteID int64, snapshot []byte) error {
	if m.writeStarted != nil {
		m.writeStarted <- append([]byte(nil), snapshot...)
	}
	if m.writeGate != nil {
		<-m.writeGate
	}
	if m.writeSnapshotFunc != nil {
		if err := m.writeSnapshotFunc(ctx, noteID, snapshot); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.writes = append(m.writes, append([]byte(nil), snapshot...))
	m.mu.Unlock()
	return nil
}

func (m *mockNoteStore) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *mockNoteStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

func (m *mockNoteStore) lastWrite() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.writes) == 0 {
		return nil
	}
	return m.writes[len(m.writes)-1]
}

// checklistStore возвращает store с заметкой-чеклистом без snapshot
func checklistStore(noteID int64, contents ...string) *mockNoteStore {
	items := make([]models.ChecklistItem, len(contents))
	for i, c := range contents {
		items[i] = models.ChecklistItem{
			ID:      int64(i + 1),
			NoteID:  noteID,
			Content: c,
			Ord:     float64(i + 1),
		}
	}
	return &mockNoteStore{
		readNoteFunc: func(ctx context.Context, id int64) (*models.Note, []models.ChecklistItem, error) {
			return &models.Note{ID: id, Type: models.NoteTypeChecklist}, items, nil
		},
	}
}

// testSession собирает кадры, доставленные комнатой
type testSession struct {
	id         string
	deliverErr error

	mu        sync.Mutex
	frames    [][]byte
	awareness [][]byte
}

func (s *testSession) ID() string { return s.id }

func (s *testSession) Deliver(frame []byte) error {
	if s.deliverErr != nil {
		return s.deliverErr
	}
	s.mu.Lock()
	s.frames = append(s.frames, append([]byte(nil), frame...))
	s.mu.Unlock()
	return nil
}

func (s *testSession) DeliverAwareness(frame []byte) {
	s.mu.Lock()
	s.awareness = append(s.awareness, append([]byte(nil), frame...))
	s.mu.Unlock()
}

func (s *testSession) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *testSession) frame(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[i]
}

func (s *testSession) awarenessCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.awareness)
}

// clientDoc строит клиентскую реплику из sync кадра сессии
func clientDoc(t *testing.T, sess *testSession, site string) *crdt.Doc {
	t.Helper()
	require.NotZero(t, sess.frameCount())
	frame := sess.frame(0)
	require.Equal(t, api.FrameSync, frame[0])
	doc, err := crdt.Decode(site, frame[1:])
	require.NoError(t, err)
	return doc
}

func checklistContents(t *testing.T, state []byte) []string {
	t.Helper()
	doc, err := crdt.Decode("verify", state)
	require.NoError(t, err)
	var out []string
	for _, rec := range doc.List(crdt.SeqChecklist).Records() {
		out = append(out, rec.String("content"))
	}
	return out
}

func TestRegistry_JoinBootstrapsOnce(t *testing.T) {
	store := checklistStore(42, "milk", "eggs")
	reg := NewRegistry(testLogger(), NewAdapter(testLogger(), store), store)

	const n = 8
	sessions := make([]*testSession, n)
	rooms := make([]*Room, n)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		sessions[i] = &testSession{id: fmt.Sprintf("sess-%d", i)}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms[i], errs[i] = reg.Join(context.Background(), 42, sessions[i])
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Same(t, rooms[0], rooms[i], "all sessions must share one room")
	}

	// Реляционная проекция читается и персистится ровно один раз,
	// сколько бы сессий ни входило одновременно.
	assert.Equal(t, 1, store.readCount())
	assert.Equal(t, 1, store.writeCount())
	assert.Equal(t, []string{"milk", "eggs"}, checklistContents(t, store.lastWrite()))

	// Первый кадр каждой сессии — полное состояние, у всех одинаковое.
	first := sessions[0].frame(0)
	for i := 1; i < n; i++ {
		assert.Equal(t, first, sessions[i].frame(0))
	}
}

func TestRegistry_JoinUsesExistingSnapshot(t *testing.T) {
	seeded := crdt.NewDoc("seed")
	_, err := seeded.List(crdt.SeqChecklist).Insert(0, map[string]any{"content": "from snapshot"})
	require.NoError(t, err)
	snap, err := seeded.EncodeState()
	require.NoError(t, err)

	store := &mockNoteStore{
		readNoteFunc: func(ctx context.Context, id int64) (*models.Note, []models.ChecklistItem, error) {
			// Строки устарели относительно snapshot и не должны попасть в документ
			return &models.Note{ID: id, Type: models.NoteTypeChecklist, Snapshot: snap},
				[]models.ChecklistItem{{ID: 1, NoteID: id, Content: "stale row"}}, nil
		},
	}
	reg := NewRegistry(testLogger(), NewAdapter(testLogger(), store), store)

	sess := &testSession{id: "sess-1"}
	_, err = reg.Join(context.Background(), 7, sess)
	require.NoError(t, err)

	assert.Zero(t, store.writeCount(), "existing snapshot must not be re-bootstrapped")
	frame := sess.frame(0)
	require.Equal(t, api.FrameSync, frame[0])
	assert.Equal(t, []string{"from snapshot"}, checklistContents(t, frame[1:]))
}

func TestRegistry_BootstrapWriteFailure(t *testing.T) {
	store := checklistStore(42, "milk")
	store.writeSnapshotFunc = func(ctx context.Context, id int64, snap []byte) error {
		return errors.New("disk full")
	}
	reg := NewRegistry(testLogger(), NewAdapter(testLogger(), store), store)

	_, err := reg.Join(context.Background(), 42, &testSession{id: "sess-1"})
	require.Error(t, err)

	// После неудачного bootstrap комнаты в реестре нет: повторный вход
	// запускает bootstrap заново и на этот раз успешно.
	store.writeSnapshotFunc = nil
	room, err := reg.Join(context.Background(), 42, &testSession{id: "sess-2"})
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, 2, store.readCount())
}

func TestRoom_UpdateBroadcastAndPersist(t *testing.T) {
	store := checklistStore(42, "milk")
	reg := NewRegistry(testLogger(), NewAdapter(testLogger(), store), store)

	alice := &testSession{id: "alice"}
	bob := &testSession{id: "bob"}
	room, err := reg.Join(context.Background(), 42, alice)
	require.NoError(t, err)
	_, err = reg.Join(context.Background(), 42, bob)
	require.NoError(t, err)

	// Алиса редактирует свою реплику и шлет diff в комнату
	replica := clientDoc(t, alice, "site-alice")
	before := replica.StateVector()
	_, err = replica.List(crdt.SeqChecklist).Insert(1, map[string]any{"content": "eggs"})
	require.NoError(t, err)
	update, err := replica.EncodeUpdateSince(before)
	require.NoError(t, err)

	room.Update(alice, update)

	// Боб получает update кадр, Алиса — нет (кадр вернулся бы эхом)
	require.Eventually(t, func() bool { return bob.frameCount() == 2 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, alice.frameCount())

	frame := bob.frame(1)
	require.Equal(t, api.FrameUpdate, frame[0])
	assert.Equal(t, update, frame[1:])

	// Мутация персистится асинхронно
	require.Eventually(t, func() bool {
		w := store.lastWrite()
		if w == nil {
			return false
		}
		contents := checklistContents(t, w)
		return len(contents) == 2 && contents[1] == "eggs"
	}, time.Second, 5*time.Millisecond)
}

func TestRoom_DuplicateUpdateNotRebroadcast(t *testing.T) {
	store := checklistStore(42, "milk")
	reg := NewRegistry(testLogger(), NewAdapter(testLogger(), store), store)

	alice := &testSession{id: "alice"}
	bob := &testSession{id: "bob"}
	room, err := reg.Join(context.Background(), 42, alice)
	require.NoError(t, err)
	_, err = reg.Join(context.Background(), 42, bob)
	require.NoError(t, err)

	replica := clientDoc(t, alice, "site-alice")
	before := replica.StateVector()
	_, err = replica.List(crdt.SeqChecklist).Insert(1, map[string]any{"content": "eggs"})
	require.NoError(t, err)
	update, err := replica.EncodeUpdateSince(before)
	require.NoError(t, err)

	room.Update(alice, update)
	room.Update(alice, update) // ретрансмит после reconnect

	require.Eventually(t, func() bool { return bob.frameCount() == 2 },
		time.Second, 5*time.Millisecond)
	// Дубликат не применил ни одной операции и не ушел в рассылку
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, bob.frameCount())
}

func TestRoom_MalformedUpdateDropped(t *testing.T) {
	store := checklistStore(42, "milk")
	reg := NewRegistry(testLogger(), NewAdapter(testLogger(), store), store)

	alice := &testSession{id: "alice"}
	bob := &testSession{id: "bob"}
	room, err := reg.Join(context.Background(), 42, alice)
	require.NoError(t, err)
	_, err = reg.Join(context.Background(), 42, bob)
	require.NoError(t, err)

	writesBefore := store.writeCount()
	room.Update(alice, []byte("not an update"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, bob.frameCount(), "malformed frame must not be broadcast")
	assert.Equal(t, writesBefore, store.writeCount())
}

func TestRoom_AwarenessRelayedBestEffort(t *testing.T) {
	store := checklistStore(42, "milk")
	reg := NewRegistry(testLogger(), NewAdapter(testLogger(), store), store)

	alice := &testSession{id: "alice"}
	bob := &testSession{id: "bob"}
	room, err := reg.Join(context.Background(), 42, alice)
	require.NoError(t, err)
	_, err = reg.Join(context.Background(), 42, bob)
	require.NoError(t, err)

	payload := []byte(`{"cursor":3}`)
	room.Awareness(alice, payload)

	require.Eventually(t, func() bool { return bob.awarenessCount() == 1 },
		time.Second, 5*time.Millisecond)
	got := bob.awareness[0]
	require.Equal(t, api.FrameAwareness, got[0])
	assert.Equal(t, payload, got[1:])
	assert.Zero(t, alice.awarenessCount())

	// Awareness не трогает документ и не персистится
	assert.Equal(t, 1, store.writeCount())
}

func TestRoom_LastLeaveWritesFinalSnapshotAndEvicts(t *testing.T) {
	store := checklistStore(42, "milk")
	reg := NewRegistry(testLogger(), NewAdapter(testLogger(), store), store)

	alice := &testSession{id: "alice"}
	room, err := reg.Join(context.Background(), 42, alice)
	require.NoError(t, err)

	replica := clientDoc(t, alice, "site-alice")
	before := replica.StateVector()
	_, err = replica.List(crdt.SeqChecklist).Insert(1, map[string]any{"content": "eggs"})
	require.NoError(t, err)
	update, err := replica.EncodeUpdateSince(before)
	require.NoError(t, err)
	room.Update(alice, update)

	room.Leave(alice)

	// Финальная запись содержит последнее состояние документа
	require.Eventually(t, func() bool {
		w := store.lastWrite()
		if w == nil {
			return false
		}
		contents := checklistContents(t, w)
		return len(contents) == 2 && contents[1] == "eggs"
	}, time.Second, 5*time.Millisecond)

	// Комната закрыта и убрана из реестра: повторный вход создает новую
	require.Eventually(t, func() bool {
		sess := &testSession{id: "carol"}
		fresh, err := reg.Join(context.Background(), 42, sess)
		return err == nil && fresh != room
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, store.readCount(), 2)
}

func TestRegistry_ShutdownFlushesAllRooms(t *testing.T) {
	store42 := checklistStore(0, "milk")
	reg := NewRegistry(testLogger(), NewAdapter(testLogger(), store42), store42)

	alice := &testSession{id: "alice"}
	bob := &testSession{id: "bob"}
	_, err := reg.Join(context.Background(), 42, alice)
	require.NoError(t, err)
	_, err = reg.Join(context.Background(), 43, bob)
	require.NoError(t, err)

	writesBefore := store42.writeCount()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))

	// По финальной записи на комнату
	assert.Equal(t, writesBefore+2, store42.writeCount())

	// Закрытые комнаты не принимают новых сессий через старые указатели,
	// но реестр создает свежие
	_, err = reg.Join(context.Background(), 42, &testSession{id: "carol"})
	require.NoError(t, err)
}

func TestRegistry_FailedFirstJoinClosesRoom(t *testing.T) {
	store := checklistStore(42, "milk")
	reg := NewRegistry(testLogger(), NewAdapter(testLogger(), store), store)

	bob := &testSession{id: "bob", deliverErr: errors.New("connection reset")}
	_, err := reg.Join(context.Background(), 42, bob)
	require.Error(t, err)

	// Комната без единой сессии не живет: goroutine завершается,
	// реестр пустеет.
	require.Eventually(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return len(reg.rooms) == 0
	}, time.Second, 5*time.Millisecond)

	// Следующий вход создает комнату заново и проходит
	alice := &testSession{id: "alice"}
	rm, err := reg.Join(context.Background(), 42, alice)
	require.NoError(t, err)
	select {
	case <-rm.done:
		t.Fatal("freshly created room is closed")
	default:
	}
	assert.Equal(t, []string{"milk"}, checklistContents(t, alice.frame(0)[1:]))
}

func TestRoom_FailedDeliverDoesNotStopBroadcast(t *testing.T) {
	store := checklistStore(42, "milk")
	reg := NewRegistry(testLogger(), NewAdapter(testLogger(), store), store)

	alice := &testSession{id: "alice"}
	bob := &testSession{id: "bob", deliverErr: errors.New("connection reset")}
	carol := &testSession{id: "carol"}
	room, err := reg.Join(context.Background(), 42, alice)
	require.NoError(t, err)

	// Боб падает еще на sync кадре и не попадает в комнату
	_, err = reg.Join(context.Background(), 42, bob)
	require.Error(t, err)

	_, err = reg.Join(context.Background(), 42, carol)
	require.NoError(t, err)

	replica := clientDoc(t, alice, "site-alice")
	before := replica.StateVector()
	_, err = replica.List(crdt.SeqChecklist).Insert(1, map[string]any{"content": "eggs"})
	require.NoError(t, err)
	update, err := replica.EncodeUpdateSince(before)
	require.NoError(t, err)
	room.Update(alice, update)

	require.Eventually(t, func() bool { return carol.frameCount() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestSnapshotWriter_CoalescesToLatest(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan []byte)
	store := &mockNoteStore{writeGate: gate, writeStarted: started}
	w := newSnapshotWriter(testLogger(), store, 42)

	w.enqueue([]byte("state-1"))
	first := <-started // первая запись в полете, ее состояние зафиксировано

	// Пока первая запись идет, два новых состояния коалесцируются:
	// второе вытесняется третьим и в хранилище не попадает.
	w.enqueue([]byte("state-2"))
	w.enqueue([]byte("state-3"))
	gate <- struct{}{} // завершаем первую запись

	second := <-started
	gate <- struct{}{}

	require.Eventually(t, func() bool { return store.writeCount() == 2 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("state-1"), first)
	assert.Equal(t, []byte("state-3"), second)
	assert.Equal(t, []byte("state-3"), store.lastWrite())
}

func TestSnapshotWriter_FlushWaitsForInflight(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan []byte)
	store := &mockNoteStore{writeGate: gate, writeStarted: started}
	w := newSnapshotWriter(testLogger(), store, 42)

	w.enqueue([]byte("early"))
	<-started // ранняя запись в полете

	flushed := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		flushed <- w.flush(ctx, []byte("final"))
	}()

	// flush ждет завершения уже идущей записи: финальная запись
	// не может быть перекрыта задержавшейся ранней.
	select {
	case <-flushed:
		t.Fatal("flush completed before in-flight write finished")
	case <-time.After(50 * time.Millisecond):
	}

	gate <- struct{}{} // завершаем раннюю запись
	<-started          // финальная запись в полете
	gate <- struct{}{}
	require.NoError(t, <-flushed)

	require.Equal(t, 2, store.writeCount())
	assert.Equal(t, []byte("final"), store.lastWrite())
}

func TestSnapshotWriter_RetriesAfterFailedWrite(t *testing.T) {
	var calls int
	var mu sync.Mutex
	store := &mockNoteStore{}
	store.writeSnapshotFunc = func(ctx context.Context, id int64, snap []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("io timeout")
		}
		return nil
	}
	w := newSnapshotWriter(testLogger(), store, 42)

	w.enqueue([]byte("lost"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	// Следующая мутация доносит состояние до хранилища
	w.enqueue([]byte("recovered"))
	require.Eventually(t, func() bool { return store.writeCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("recovered"), store.lastWrite())
}

func TestAdapter_CorruptSnapshotOpensEmpty(t *testing.T) {
	store := &mockNoteStore{
		readNoteFunc: func(ctx context.Context, id int64) (*models.Note, []models.ChecklistItem, error) {
			return &models.Note{ID: id, Type: models.NoteTypeChecklist, Snapshot: []byte("garbage")},
				[]models.ChecklistItem{{ID: 1, NoteID: id, Content: "stale row"}}, nil
		},
	}
	adapter := NewAdapter(testLogger(), store)

	doc, err := adapter.Bootstrap(context.Background(), 42)
	require.NoError(t, err)

	// Нечитаемый snapshot не воскрешает строки: документ пустой,
	// и он не перезаписывает битое состояние в хранилище.
	assert.Zero(t, doc.List(crdt.SeqChecklist).Len())
	assert.Zero(t, store.writeCount())
}

func TestAdapter_SeedsTextBody(t *testing.T) {
	store := &mockNoteStore{
		readNoteFunc: func(ctx context.Context, id int64) (*models.Note, []models.ChecklistItem, error) {
			return &models.Note{ID: id, Type: models.NoteTypeText, Body: `["first","second"]`}, nil, nil
		},
	}
	adapter := NewAdapter(testLogger(), store)

	doc, err := adapter.Bootstrap(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", doc.Text(crdt.SeqBody).String())
	assert.Equal(t, 1, store.writeCount())
}
