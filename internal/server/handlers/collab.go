package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/iudanet/collabnotes/internal/server/room"
	"github.com/iudanet/collabnotes/internal/server/storage"
	"github.com/iudanet/collabnotes/internal/validation"
	"github.com/iudanet/collabnotes/pkg/api"
)

const (
	// writeWait время на запись одного сообщения в соединение
	writeWait = 10 * time.Second
	// pongWait время ожидания pong от клиента
	pongWait = 60 * time.Second
	// pingPeriod период отправки ping (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize максимальный размер входящего кадра
	maxFrameSize = 1 << 20
	// sendBufferSize емкость исходящей очереди кадров сессии
	sendBufferSize = 256
)

var (
	errSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("session send buffer full")
)

// RoomRegistry определяет интерфейс реестра комнат для websocket handler-а
type RoomRegistry interface {
	Join(ctx context.Context, noteID int64, sess room.Session) (*room.Room, error)
}

// CollabHandler обрабатывает websocket соединения совместного редактирования
type CollabHandler struct {
	logger    *slog.Logger
	registry  RoomRegistry
	collabs   storage.CollaboratorStorage
	jwtConfig JWTConfig
	upgrader  websocket.Upgrader
}

// NewCollabHandler creates a new collaboration websocket handler
func NewCollabHandler(logger *slog.Logger, registry RoomRegistry, collabs storage.CollaboratorStorage, jwtConfig JWTConfig) *CollabHandler {
	return &CollabHandler{
		logger:    logger,
		registry:  registry,
		collabs:   collabs,
		jwtConfig: jwtConfig,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Same-origin проверку делает обратный прокси
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleCollab обрабатывает GET /api/v1/collab/{room}
// Протокол: после upgrade сервер первым сообщением шлет полное состояние
// документа (sync кадр), дальше в обе стороны ходят update и awareness кадры.
func (h *CollabHandler) HandleCollab(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roomName := mux.Vars(r)["room"]
	if err := validation.ValidateRoomName(roomName); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}
	noteID, ok := api.ParseRoomName(roomName)
	if !ok {
		sendError(h.logger, w, "Invalid room name", http.StatusBadRequest)
		return
	}

	claims, err := authenticateWS(r, h.jwtConfig)
	if err != nil {
		h.logger.Warn("Websocket auth failed", "error", err)
		sendError(h.logger, w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	hasAccess, err := h.collabs.HasAccess(ctx, noteID, claims.UserID)
	if err != nil {
		h.logger.Error("Failed to check note access", "error", err, "note_id", noteID)
		sendError(h.logger, w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !hasAccess {
		sendError(h.logger, w, "Note not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам пишет HTTP ошибку клиенту
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	sess := newWSSession(conn)
	rm, err := h.registry.Join(ctx, noteID, sess)
	if err != nil {
		h.logger.Error("Failed to join room", "error", err, "note_id", noteID)
		_ = conn.Close()
		return
	}

	h.logger.Info("Collaboration session opened",
		"note_id", noteID, "user_id", claims.UserID, "session_id", sess.ID())

	go sess.writePump()
	h.readPump(rm, sess)

	rm.Leave(sess)
	sess.close()
	h.logger.Info("Collaboration session closed",
		"note_id", noteID, "user_id", claims.UserID, "session_id", sess.ID())
}

// authenticateWS достает bearer токен из заголовка или query параметра
// (браузерный WebSocket API не умеет ставить заголовки)
func authenticateWS(r *http.Request, cfg JWTConfig) (*CustomClaims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = parts[1]
		}
	}
	if token == "" {
		return nil, errors.New("missing token")
	}
	return ValidateAccessToken(cfg, token)
}

// readPump читает кадры клиента, пока соединение живо
func (h *CollabHandler) readPump(rm *room.Room, sess *wsSession) {
	sess.conn.SetReadLimit(maxFrameSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Websocket read error", "session_id", sess.ID(), "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		switch data[0] {
		case api.FrameUpdate:
			rm.Update(sess, data[1:])
		case api.FrameAwareness:
			rm.Awareness(sess, data[1:])
		default:
			h.logger.Warn("Unknown frame type", "session_id", sess.ID(), "frame", data[0])
		}
	}
}

// wsSession реализует room.Session поверх websocket соединения.
// Все записи в соединение идут через writePump, очередь send развязывает
// goroutine комнаты от медленного клиента.
type wsSession struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSSession(conn *websocket.Conn) *wsSession {
	return &wsSession{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

func (s *wsSession) ID() string {
	return s.id
}

// Deliver ставит sync/update кадр в очередь записи. Переполненная
// очередь означает безнадежно отставшего клиента: кадры терять нельзя,
// поэтому сессия закрывается и клиент переподключается с полным sync.
func (s *wsSession) Deliver(frame []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- frame:
		return nil
	default:
		s.close()
		return errSendBufferFull
	}
}

// DeliverAwareness ставит awareness кадр в очередь best-effort
func (s *wsSession) DeliverAwareness(frame []byte) {
	select {
	case s.send <- frame:
	default:
		// backpressure: awareness кадр отбрасывается
	}
}

// close останавливает writePump и закрывает соединение. Идемпотентен.
func (s *wsSession) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// writePump пишет кадры из очереди в соединение и шлет ping
func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
