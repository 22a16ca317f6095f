package room

import (
	"context"
	"errors"
	"log/slog"

	"github.com/iudanet/collabnotes/internal/crdt"
	"github.com/iudanet/collabnotes/pkg/api"
)

// ErrRoomClosed возвращается при попытке войти в комнату, которая
// уже завершает работу (последняя сессия вышла или сервер останавливается)
var ErrRoomClosed = errors.New("room closed")

// Session представляет подключенную сессию редактирования со стороны
// комнаты. Реализуется websocket handler-ом.
type Session interface {
	// ID уникальный идентификатор сессии
	ID() string

	// Deliver доставляет sync/update кадр. Кадры обновлений не должны
	// молча теряться: ошибка означает отказ транспорта, сессия будет
	// отключена от комнаты.
	Deliver(frame []byte) error

	// DeliverAwareness доставляет awareness кадр best-effort:
	// при backpressure кадр отбрасывается.
	DeliverAwareness(frame []byte)
}

// сообщения inbox комнаты
type joinMsg struct {
	sess  Session
	reply chan error
}

type leaveMsg struct {
	sess  Session
	reply chan bool // true, если комната опустела и закрывается
}

type updateMsg struct {
	sess    Session
	payload []byte
}

type awarenessMsg struct {
	sess    Session
	payload []byte
}

type closeMsg struct {
	reply chan struct{}
}

// Room владеет CRDT документом одной заметки и множеством активных
// сессий. Все мутации документа и рассылки сериализуются через
// goroutine комнаты, поэтому документ не требует блокировок, а порядок
// применения обновлений совпадает с порядком их рассылки всем участникам
// (room-local total order).
type Room struct {
	logger  *slog.Logger
	doc     *crdt.Doc
	writer  *snapshotWriter
	inbox   chan any
	done    chan struct{}
	onEmpty func(*Room)
	noteID  int64
}

func newRoom(logger *slog.Logger, noteID int64, doc *crdt.Doc, writer *snapshotWriter, onEmpty func(*Room)) *Room {
	r := &Room{
		logger:  logger.With("note_id", noteID),
		doc:     doc,
		writer:  writer,
		inbox:   make(chan any, 64),
		done:    make(chan struct{}),
		onEmpty: onEmpty,
		noteID:  noteID,
	}
	go r.loop()
	return r
}

// NoteID возвращает идентификатор заметки комнаты
func (r *Room) NoteID() int64 {
	return r.noteID
}

// join регистрирует сессию и шлет ей полное текущее состояние
func (r *Room) join(sess Session) error {
	reply := make(chan error, 1)
	select {
	case r.inbox <- joinMsg{sess: sess, reply: reply}:
		return <-reply
	case <-r.done:
		return ErrRoomClosed
	}
}

// Leave снимает регистрацию сессии. Если сессия была последней,
// комната пишет финальный snapshot и закрывается.
func (r *Room) Leave(sess Session) {
	reply := make(chan bool, 1)
	select {
	case r.inbox <- leaveMsg{sess: sess, reply: reply}:
		<-reply
	case <-r.done:
	}
}

// Update применяет CRDT кадр от сессии и транслирует его остальным
func (r *Room) Update(sess Session, payload []byte) {
	select {
	case r.inbox <- updateMsg{sess: sess, payload: payload}:
	case <-r.done:
	}
}

// Awareness транслирует awareness кадр остальным сессиям (best-effort)
func (r *Room) Awareness(sess Session, payload []byte) {
	select {
	case r.inbox <- awarenessMsg{sess: sess, payload: payload}:
	case <-r.done:
	}
}

// Close принудительно закрывает комнату (shutdown сервера),
// дожидаясь финальной записи snapshot.
func (r *Room) Close(ctx context.Context) {
	reply := make(chan struct{})
	select {
	case r.inbox <- closeMsg{reply: reply}:
	case <-r.done:
		return
	}
	select {
	case <-reply:
	case <-ctx.Done():
	}
}

// loop голова комнаты: единственная goroutine, мутирующая документ
func (r *Room) loop() {
	sessions := make(map[string]Session)

	for msg := range r.inbox {
		switch m := msg.(type) {
		case joinMsg:
			err := r.handleJoin(sessions, m.sess)
			m.reply <- err
			if err != nil && len(sessions) == 0 {
				// Единственный вход не состоялся: комната с пустым
				// множеством сессий не живет, закрываемся сразу.
				r.shutdown()
				return
			}

		case leaveMsg:
			delete(sessions, m.sess.ID())
			empty := len(sessions) == 0
			m.reply <- empty
			if empty {
				r.shutdown()
				return
			}

		case updateMsg:
			r.handleUpdate(sessions, m.sess, m.payload)

		case awarenessMsg:
			frame := append([]byte{api.FrameAwareness}, m.payload...)
			for id, sess := range sessions {
				if id == m.sess.ID() {
					continue
				}
				sess.DeliverAwareness(frame)
			}

		case closeMsg:
			r.shutdown()
			close(m.reply)
			return
		}
	}
}

func (r *Room) handleJoin(sessions map[string]Session, sess Session) error {
	state, err := r.doc.EncodeState()
	if err != nil {
		return err
	}
	if err := sess.Deliver(append([]byte{api.FrameSync}, state...)); err != nil {
		return err
	}
	sessions[sess.ID()] = sess
	return nil
}

func (r *Room) handleUpdate(sessions map[string]Session, from Session, payload []byte) {
	applied, err := r.doc.ApplyUpdate(payload)
	if err != nil {
		r.logger.Warn("Dropping malformed update frame",
			"session_id", from.ID(), "error", err)
		return
	}
	if applied == 0 {
		return
	}

	// Рассылка в порядке применения: loop комнаты единственный
	// отправитель, порядок кадров у всех участников одинаковый.
	frame := append([]byte{api.FrameUpdate}, payload...)
	for id, sess := range sessions {
		if id == from.ID() {
			continue
		}
		if err := sess.Deliver(frame); err != nil {
			// Отказавший транспорт не валит комнату: кадр потерян
			// только для этой сессии, ее снимет собственный reader.
			r.logger.Debug("Failed to deliver update frame",
				"session_id", id, "error", err)
		}
	}

	// Персистим каждое изменение: fire-and-forget, коалесцируется.
	state, err := r.doc.EncodeState()
	if err != nil {
		r.logger.Error("Failed to encode document state", "error", err)
		return
	}
	r.writer.enqueue(state)
}

// shutdown закрывает комнату: финальная запись snapshot, эвикция из registry
func (r *Room) shutdown() {
	close(r.done)

	state, err := r.doc.EncodeState()
	if err != nil {
		r.logger.Error("Failed to encode final document state", "error", err)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.writer.flush(ctx, state); err != nil {
			r.logger.Error("Final snapshot write failed", "error", err)
		}
		cancel()
	}

	if r.onEmpty != nil {
		r.onEmpty(r)
	}
}
