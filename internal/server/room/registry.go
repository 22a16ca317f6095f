package room

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/iudanet/collabnotes/internal/server/storage"
)

// Registry отображает идентификатор заметки в единственную живую
// комнату. Комната создается лениво при первом входе и уничтожается,
// когда выходит последняя сессия.
type Registry struct {
	logger  *slog.Logger
	adapter *Adapter
	store   storage.NoteStorage
	rooms   map[int64]*Room
	group   singleflight.Group
	mu      sync.Mutex
}

// NewRegistry creates a new room registry
func NewRegistry(logger *slog.Logger, adapter *Adapter, store storage.NoteStorage) *Registry {
	return &Registry{
		logger:  logger,
		adapter: adapter,
		store:   store,
		rooms:   make(map[int64]*Room),
	}
}

// Join возвращает комнату заметки, создавая ее при необходимости,
// и регистрирует сессию как активного участника.
//
// Создание комнаты сериализовано по noteID через singleflight: при
// одновременном первом входе N сессий bootstrap выполняется ровно один
// раз, остальные ждут его результат. Ошибка bootstrap отдается всем
// ожидающим, комната не создается, частичного состояния не остается.
func (r *Registry) Join(ctx context.Context, noteID int64, sess Session) (*Room, error) {
	for {
		room, err := r.getOrCreate(ctx, noteID)
		if err != nil {
			return nil, err
		}

		err = room.join(sess)
		if err == nil {
			return room, nil
		}
		if err == ErrRoomClosed {
			// Комната закрылась между lookup и join (последняя сессия
			// вышла). Убираем ее и создаем заново.
			r.evict(room)
			continue
		}
		return nil, fmt.Errorf("failed to join room: %w", err)
	}
}

func (r *Registry) getOrCreate(ctx context.Context, noteID int64) (*Room, error) {
	r.mu.Lock()
	if room, ok := r.rooms[noteID]; ok {
		r.mu.Unlock()
		return room, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(strconv.FormatInt(noteID, 10), func() (any, error) {
		// Повторная проверка: комната могла появиться, пока мы ждали
		// очередь singleflight.
		r.mu.Lock()
		if room, ok := r.rooms[noteID]; ok {
			r.mu.Unlock()
			return room, nil
		}
		r.mu.Unlock()

		doc, err := r.adapter.Bootstrap(ctx, noteID)
		if err != nil {
			return nil, err
		}

		writer := newSnapshotWriter(r.logger, r.store, noteID)
		room := newRoom(r.logger, noteID, doc, writer, r.evict)

		r.mu.Lock()
		r.rooms[noteID] = room
		r.mu.Unlock()

		r.logger.Info("Room created", "note_id", noteID)
		return room, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open room: %w", err)
	}
	return v.(*Room), nil
}

// evict убирает комнату из реестра, если она все еще числится там
func (r *Registry) evict(room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.rooms[room.noteID]; ok && cur == room {
		delete(r.rooms, room.noteID)
		r.logger.Info("Room evicted", "note_id", room.noteID)
	}
}

// Shutdown закрывает все открытые комнаты, выполняя для каждой
// финальную запись snapshot. Ограничено переданным контекстом.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, room := range rooms {
		g.Go(func() error {
			room.Close(ctx)
			return nil
		})
	}
	return g.Wait()
}
