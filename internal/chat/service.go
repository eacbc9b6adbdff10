package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/moochie/internal/ids"
	"github.com/MarcoPoloResearchLab/moochie/internal/room"
	"github.com/MarcoPoloResearchLab/moochie/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUnauthenticated = errors.New("chat: author must be signed in")
	ErrInvalidRoomCode = errors.New("chat: invalid room code")
	ErrEmptyText       = errors.New("chat: message text required")
	ErrNilCallback     = errors.New("chat: update callback required")
)

// Publisher receives every stored message, e.g. for push fan-out.
type Publisher interface {
	Publish(ctx context.Context, message Message) error
}

type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Clock      func() time.Time
	Publisher  Publisher
	Logger     *zap.Logger
}

// Service stores room messages and drives live room listeners.
type Service struct {
	db         *gorm.DB
	ids        ids.Provider
	clock      func() time.Time
	publisher  Publisher
	logger     *zap.Logger
	dispatcher *roomDispatcher

	mu        sync.Mutex
	listeners map[int64]*roomListener
}

// ListenerHandle identifies one subscription for Unsubscribe.
type ListenerHandle struct {
	id       int64
	roomCode string
}

// RoomCode returns the room the handle listens to.
func (h ListenerHandle) RoomCode() string {
	return h.roomCode
}

type roomListener struct {
	handle ListenerHandle
	cancel context.CancelFunc
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("chat: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("chat: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		ids:        cfg.IDProvider,
		clock:      clock,
		publisher:  cfg.Publisher,
		logger:     logger,
		dispatcher: newRoomDispatcher(),
		listeners:  make(map[int64]*roomListener),
	}, nil
}

// Send stores a message in the room and signals the room's listeners.
func (s *Service) Send(ctx context.Context, author Author, roomCode string, text string) (Message, error) {
	const operation = "chat.send"
	if strings.TrimSpace(author.UserID) == "" {
		return Message{}, ErrUnauthenticated
	}
	code, err := room.NewCode(roomCode)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidRoomCode, err)
	}
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyText
	}

	messageID, err := s.ids.NewID()
	if err != nil {
		return Message{}, serviceerror.New(operation, "id_generation_failed", err)
	}
	senderName := strings.TrimSpace(author.DisplayName)
	if senderName == "" {
		senderName = DefaultSenderName
	}
	message := Message{
		MessageID:    messageID,
		SenderID:     author.UserID,
		SenderName:   senderName,
		Text:         text,
		SentAtMillis: s.clock().UnixMilli(),
		RoomCode:     code.String(),
		IsRead:       false,
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logger.Error("failed to store chat message", zap.String("room_code", message.RoomCode), zap.Error(err))
		return Message{}, serviceerror.New(operation, "store_failed", err)
	}

	s.dispatcher.publish(message.RoomCode)
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, message); err != nil {
			s.logger.Warn("failed to publish chat message", zap.String("message_id", message.MessageID), zap.Error(err))
		}
	}
	return message, nil
}

// List returns the room's messages ordered by send time.
func (s *Service) List(ctx context.Context, roomCode string) ([]Message, error) {
	const operation = "chat.list"
	code, err := room.NewCode(roomCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoomCode, err)
	}
	var messages []Message
	if err := s.db.WithContext(ctx).Where("room_code = ?", code.String()).Find(&messages).Error; err != nil {
		return nil, serviceerror.New(operation, "query_failed", err)
	}
	SortMessages(messages)
	return messages, nil
}

// Subscribe delivers the room's ordered message list immediately and again
// after every change until Unsubscribe. Callbacks for one listener run on
// that listener's goroutine, one at a time. A failed read delivers an empty
// list.
func (s *Service) Subscribe(roomCode string, onUpdate func([]Message)) (ListenerHandle, error) {
	if onUpdate == nil {
		return ListenerHandle{}, ErrNilCallback
	}
	code, err := room.NewCode(roomCode)
	if err != nil {
		return ListenerHandle{}, fmt.Errorf("%w: %v", ErrInvalidRoomCode, err)
	}

	id, signals := s.dispatcher.subscribe(code.String())
	ctx, cancel := context.WithCancel(context.Background())
	listener := &roomListener{
		handle: ListenerHandle{id: id, roomCode: code.String()},
		cancel: cancel,
	}
	s.mu.Lock()
	s.listeners[id] = listener
	s.mu.Unlock()

	go s.runListener(ctx, code.String(), signals, onUpdate)
	return listener.handle, nil
}

// Unsubscribe stops a listener. Unknown or already removed handles are ignored.
func (s *Service) Unsubscribe(roomCode string, handle ListenerHandle) {
	s.mu.Lock()
	listener, ok := s.listeners[handle.id]
	if ok && listener.handle.roomCode == strings.TrimSpace(roomCode) {
		delete(s.listeners, handle.id)
	} else {
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.dispatcher.unsubscribe(listener.handle.roomCode, handle.id)
	listener.cancel()
}

// ListenerCount reports active listeners for a room.
func (s *Service) ListenerCount(roomCode string) int {
	return s.dispatcher.count(strings.TrimSpace(roomCode))
}

func (s *Service) runListener(ctx context.Context, roomCode string, signals <-chan struct{}, onUpdate func([]Message)) {
	s.deliver(ctx, roomCode, onUpdate)
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			s.deliver(ctx, roomCode, onUpdate)
		}
	}
}

func (s *Service) deliver(ctx context.Context, roomCode string, onUpdate func([]Message)) {
	messages, err := s.List(ctx, roomCode)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.logger.Warn("chat listener read failed", zap.String("room_code", roomCode), zap.Error(err))
		messages = []Message{}
	}
	onUpdate(messages)
}
