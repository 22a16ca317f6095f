package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/collabnotes/internal/server/events"
)

// EventsHandler обрабатывает websocket соединения Event Bus
type EventsHandler struct {
	logger    *slog.Logger
	bus       *events.Bus
	jwtConfig JWTConfig
	upgrader  websocket.Upgrader
}

// NewEventsHandler creates a new events websocket handler
func NewEventsHandler(logger *slog.Logger, bus *events.Bus, jwtConfig JWTConfig) *EventsHandler {
	return &EventsHandler{
		logger:    logger,
		bus:       bus,
		jwtConfig: jwtConfig,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleEvents обрабатывает GET /api/v1/events
// Держит соединение открытым и шлет пользователю события об изменениях
// его заметок. Клиент ничего не шлет, кроме pong.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	claims, err := authenticateWS(r, h.jwtConfig)
	if err != nil {
		h.logger.Warn("Events auth failed", "error", err)
		sendError(h.logger, w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	sink := newEventSink(conn)
	h.bus.Register(claims.UserID, sink)
	h.logger.Debug("Event connection opened", "user_id", claims.UserID)

	go sink.writePump()
	sink.readPump()

	h.bus.Unregister(claims.UserID, sink)
	sink.close()
	h.logger.Debug("Event connection closed", "user_id", claims.UserID)
}

// eventSink реализует events.Sink поверх websocket соединения
type eventSink struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newEventSink(conn *websocket.Conn) *eventSink {
	return &eventSink{
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

// Send ставит событие в очередь записи. Переполненная очередь или
// закрытое соединение — ошибка, шина снимет соединение с регистрации.
func (s *eventSink) Send(data []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (s *eventSink) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// readPump ждет закрытия соединения клиентом, поддерживая pong
func (s *eventSink) readPump() {
	s.conn.SetReadLimit(1024)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *eventSink) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
