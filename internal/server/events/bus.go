// Package events реализует серверную шину уведомлений: изменения
// заметок рассылаются всем открытым соединениям затронутых
// пользователей как JSON события {type, payload}.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iudanet/collabnotes/pkg/api"
)

// Sink принимает сериализованные события для одного соединения.
// Реализуется websocket handler-ом.
type Sink interface {
	// Send доставляет событие. Ошибка означает мертвое соединение,
	// шина снимает его с регистрации.
	Send(data []byte) error
}

// Bus хранит открытые соединения по идентификатору пользователя.
// Пользователь может держать несколько соединений (вкладки, устройства),
// событие уходит в каждое.
type Bus struct {
	logger *slog.Logger
	sinks  map[string]map[Sink]struct{}
	mu     sync.RWMutex
}

// NewBus creates a new event bus
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		sinks:  make(map[string]map[Sink]struct{}),
	}
}

// Register привязывает соединение к пользователю
func (b *Bus) Register(userID string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.sinks[userID]
	if !ok {
		set = make(map[Sink]struct{})
		b.sinks[userID] = set
	}
	set[sink] = struct{}{}
}

// Unregister снимает соединение с регистрации. Пустое множество
// пользователя удаляется целиком.
func (b *Bus) Unregister(userID string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.sinks[userID]
	if !ok {
		return
	}
	delete(set, sink)
	if len(set) == 0 {
		delete(b.sinks, userID)
	}
}

// Notify шлет событие каждому соединению каждого из пользователей.
// Payload сериализуется один раз. Соединения, отказавшие при отправке,
// снимаются с регистрации.
func (b *Bus) Notify(userIDs []string, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	data, err := json.Marshal(api.Event{Type: eventType, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	type deadSink struct {
		userID string
		sink   Sink
	}
	var dead []deadSink

	b.mu.RLock()
	for _, userID := range userIDs {
		for sink := range b.sinks[userID] {
			if err := sink.Send(data); err != nil {
				b.logger.Debug("Dropping dead event connection",
					"user_id", userID, "error", err)
				dead = append(dead, deadSink{userID: userID, sink: sink})
			}
		}
	}
	b.mu.RUnlock()

	for _, d := range dead {
		b.Unregister(d.userID, d.sink)
	}
	return nil
}

// Connections возвращает число открытых соединений пользователя
func (b *Bus) Connections(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks[userID])
}
