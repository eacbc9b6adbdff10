package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/moochie/internal/serviceerror"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("message-%03d", p.next), nil
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, message Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return p.err
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Message{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, publisher Publisher) *Service {
	t.Helper()
	clock := &steppingClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	service, err := NewService(ServiceConfig{
		Database:   openTestDatabase(t),
		IDProvider: &sequenceIDs{},
		Clock:      clock.Now,
		Publisher:  publisher,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func TestSendValidatesInput(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()

	if _, err := service.Send(ctx, Author{}, "1234", "hi"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}
	if _, err := service.Send(ctx, Author{UserID: "u1"}, "12a4", "hi"); !errors.Is(err, ErrInvalidRoomCode) {
		t.Fatalf("expected invalid room code, got %v", err)
	}
	if _, err := service.Send(ctx, Author{UserID: "u1"}, "12345", "hi"); !errors.Is(err, ErrInvalidRoomCode) {
		t.Fatalf("expected invalid room code for five digits, got %v", err)
	}
	if _, err := service.Send(ctx, Author{UserID: "u1"}, "1234", "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected empty text error, got %v", err)
	}
}

func TestSendDefaultsSenderNameAndPublishes(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("broker down")}
	service := newTestService(t, publisher)

	message, err := service.Send(context.Background(), Author{UserID: "u1"}, "0042", "hello")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if message.SenderName != DefaultSenderName {
		t.Fatalf("expected default sender name, got %q", message.SenderName)
	}
	if message.IsRead {
		t.Fatalf("new messages are stored unread")
	}
	if message.RoomCode != "0042" || message.MessageID == "" || message.SentAtMillis == 0 {
		t.Fatalf("unexpected message %+v", message)
	}
	if len(publisher.messages) != 1 || publisher.messages[0].MessageID != message.MessageID {
		t.Fatalf("expected message handed to publisher, got %+v", publisher.messages)
	}
}

func TestSendSurfacesStoreFailure(t *testing.T) {
	service := newTestService(t, nil)
	if err := service.db.Migrator().DropTable(&Message{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	_, err := service.Send(context.Background(), Author{UserID: "u1", DisplayName: "Ann"}, "1234", "hi")
	var serviceErr *serviceerror.Error
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "chat.send.store_failed" {
		t.Fatalf("expected store failure service error, got %v", err)
	}
}

func TestListOrdersBySendTime(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	first, _ := service.Send(ctx, Author{UserID: "u1", DisplayName: "Ann"}, "1234", "one")
	second, _ := service.Send(ctx, Author{UserID: "u2", DisplayName: "Bob"}, "1234", "two")
	if _, err := service.Send(ctx, Author{UserID: "u2"}, "9999", "elsewhere"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	messages, err := service.List(ctx, "1234")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(messages) != 2 || messages[0].MessageID != first.MessageID || messages[1].MessageID != second.MessageID {
		t.Fatalf("unexpected ordering %+v", messages)
	}
}

func TestSortMessagesBreaksTiesByID(t *testing.T) {
	messages := []Message{
		{MessageID: "b", SentAtMillis: 10},
		{MessageID: "a", SentAtMillis: 10},
		{MessageID: "c", SentAtMillis: 5},
	}
	SortMessages(messages)
	if messages[0].MessageID != "c" || messages[1].MessageID != "a" || messages[2].MessageID != "b" {
		t.Fatalf("unexpected order %+v", messages)
	}
}

func waitForSnapshot(t *testing.T, updates <-chan []Message) []Message {
	t.Helper()
	select {
	case snapshot := <-updates:
		return snapshot
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
		return nil
	}
}

func TestSubscribeDeliversSnapshotsUntilUnsubscribed(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	if _, err := service.Send(ctx, Author{UserID: "u1"}, "1234", "before"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	updates := make(chan []Message, 8)
	handle, err := service.Subscribe("1234", func(messages []Message) {
		updates <- messages
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	initial := waitForSnapshot(t, updates)
	if len(initial) != 1 || initial[0].Text != "before" {
		t.Fatalf("unexpected initial snapshot %+v", initial)
	}

	if _, err := service.Send(ctx, Author{UserID: "u2"}, "1234", "after"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	next := waitForSnapshot(t, updates)
	if len(next) != 2 || next[1].Text != "after" {
		t.Fatalf("expected full ordered list, got %+v", next)
	}

	service.Unsubscribe("1234", handle)
	if service.ListenerCount("1234") != 0 {
		t.Fatalf("expected no listeners after unsubscribe")
	}
	if _, err := service.Send(ctx, Author{UserID: "u2"}, "1234", "ignored"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	select {
	case snapshot := <-updates:
		t.Fatalf("unexpected snapshot after unsubscribe: %+v", snapshot)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDuplicateSubscriptionsEachReceiveSnapshots(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()

	first := make(chan []Message, 8)
	second := make(chan []Message, 8)
	firstHandle, err := service.Subscribe("1234", func(messages []Message) { first <- messages })
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	secondHandle, err := service.Subscribe("1234", func(messages []Message) { second <- messages })
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer service.Unsubscribe("1234", secondHandle)
	if service.ListenerCount("1234") != 2 {
		t.Fatalf("expected two listeners, got %d", service.ListenerCount("1234"))
	}
	waitForSnapshot(t, first)
	waitForSnapshot(t, second)

	if _, err := service.Send(ctx, Author{UserID: "u1"}, "1234", "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if snapshot := waitForSnapshot(t, first); len(snapshot) != 1 || snapshot[0].Text != "hello" {
		t.Fatalf("unexpected first snapshot %+v", snapshot)
	}
	if snapshot := waitForSnapshot(t, second); len(snapshot) != 1 || snapshot[0].Text != "hello" {
		t.Fatalf("unexpected second snapshot %+v", snapshot)
	}

	service.Unsubscribe("1234", firstHandle)
	if _, err := service.Send(ctx, Author{UserID: "u1"}, "1234", "again"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if snapshot := waitForSnapshot(t, second); len(snapshot) != 2 {
		t.Fatalf("expected remaining listener to see both messages, got %+v", snapshot)
	}
	select {
	case snapshot := <-first:
		t.Fatalf("unsubscribed listener received %+v", snapshot)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeRejectsInvalidInput(t *testing.T) {
	service := newTestService(t, nil)
	if _, err := service.Subscribe("1234", nil); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("expected nil callback error, got %v", err)
	}
	if _, err := service.Subscribe("abcd", func([]Message) {}); !errors.Is(err, ErrInvalidRoomCode) {
		t.Fatalf("expected invalid room code, got %v", err)
	}
}

func TestSubscribeDeliversEmptyListOnReadFailure(t *testing.T) {
	service := newTestService(t, nil)
	if err := service.db.Migrator().DropTable(&Message{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	updates := make(chan []Message, 1)
	handle, err := service.Subscribe("1234", func(messages []Message) {
		updates <- messages
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer service.Unsubscribe("1234", handle)

	snapshot := waitForSnapshot(t, updates)
	if snapshot == nil || len(snapshot) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", snapshot)
	}
}
