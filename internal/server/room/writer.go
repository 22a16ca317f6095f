package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/collabnotes/internal/server/storage"
)

// writeTimeout ограничивает одну асинхронную запись snapshot
const writeTimeout = 10 * time.Second

// snapshotWriter последовательно пишет snapshot одной заметки.
// В полете максимум одна запись; пока она идет, новые состояния
// коалесцируются — остается только самое свежее. Это гарантирует,
// что задержавшаяся ранняя запись никогда не затрет более позднюю.
type snapshotWriter struct {
	logger *slog.Logger
	store  storage.NoteStorage
	cond   *sync.Cond
	mu     sync.Mutex
	// под mu:
	pending  []byte
	noteID   int64
	inflight bool
}

func newSnapshotWriter(logger *slog.Logger, store storage.NoteStorage, noteID int64) *snapshotWriter {
	w := &snapshotWriter{
		logger: logger,
		store:  store,
		noteID: noteID,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// enqueue планирует запись состояния. Не блокирует: редактирующая сессия
// никогда не ждет durability. Состояние, поставленное позже, вытесняет
// еще не начатую запись более раннего.
func (w *snapshotWriter) enqueue(state []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = state
	if !w.inflight {
		w.inflight = true
		go w.run()
	}
}

// run пишет pending состояния, пока они есть
func (w *snapshotWriter) run() {
	for {
		w.mu.Lock()
		state := w.pending
		w.pending = nil
		if state == nil {
			w.inflight = false
			w.cond.Broadcast()
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := w.store.WriteSnapshot(ctx, w.noteID, state)
		cancel()
		if err != nil {
			// Не фатально: in-memory состояние не потеряно, durability
			// отстает до следующей мутации или закрытия комнаты.
			w.logger.Warn("Snapshot write failed, will retry on next mutation",
				"note_id", w.noteID, "error", err)
		}
	}
}

// flush синхронно записывает финальное состояние, дождавшись завершения
// уже идущей записи (сохраняя порядок записей для заметки).
func (w *snapshotWriter) flush(ctx context.Context, state []byte) error {
	w.mu.Lock()
	// Финальное состояние новее любого запланированного.
	w.pending = nil
	for w.inflight {
		w.cond.Wait()
	}
	w.mu.Unlock()

	return w.store.WriteSnapshot(ctx, w.noteID, state)
}
