package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/moochie/internal/ids"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sequenceIDs struct {
	next int
}

func (p *sequenceIDs) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("record-%03d", p.next), nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: &sequenceIDs{},
		Location:   time.UTC,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func TestAppendFormatsTimeAndAssignsID(t *testing.T) {
	service := newTestService(t)
	postedAt := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)

	record, err := service.Append(context.Background(), NewRecordInput{
		SourceApp:       "com.whatsapp",
		AppDisplayName:  "WhatsApp",
		Title:           "Alex @ Family",
		Body:            "dinner?",
		PostedAt:        postedAt,
		OwnerUserID:     "user-1",
		ExtractedSender: "Alex (Family)",
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if record.RecordID != "record-001" {
		t.Fatalf("unexpected record id %q", record.RecordID)
	}
	if record.FormattedTime != "2024-03-09 14:05:06" {
		t.Fatalf("unexpected formatted time %q", record.FormattedTime)
	}
	if record.PostedAtMillis != postedAt.UnixMilli() {
		t.Fatalf("unexpected posted at %d", record.PostedAtMillis)
	}
}

func TestAppendRejectsAnonymousRecords(t *testing.T) {
	service := newTestService(t)
	_, err := service.Append(context.Background(), NewRecordInput{Title: "hi", PostedAt: time.Now()})
	if !errors.Is(err, ErrMissingOwner) {
		t.Fatalf("expected ErrMissingOwner, got %v", err)
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	for index, offset := range []time.Duration{time.Minute, 3 * time.Minute, 2 * time.Minute} {
		if _, err := service.Append(ctx, NewRecordInput{
			SourceApp:   "com.slack",
			Title:       fmt.Sprintf("title-%d", index),
			PostedAt:    base.Add(offset),
			OwnerUserID: "user-1",
		}); err != nil {
			t.Fatalf("append %d failed: %v", index, err)
		}
	}

	records, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	expected := []string{"title-1", "title-2", "title-0"}
	if len(records) != len(expected) {
		t.Fatalf("expected %d records, got %d", len(expected), len(records))
	}
	for index, title := range expected {
		if records[index].Title != title {
			t.Fatalf("expected %s at index %d, got %s", title, index, records[index].Title)
		}
	}
}

func TestClearForUserOnlyRemovesOwnedRecords(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	for _, owner := range []string{"user-1", "user-1", "user-2"} {
		if _, err := service.Append(ctx, NewRecordInput{Title: "t", PostedAt: time.Now(), OwnerUserID: owner}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	deleted, err := service.ClearForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted rows, got %d", deleted)
	}

	remaining, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].OwnerUserID != "user-2" {
		t.Fatalf("unexpected remaining records: %#v", remaining)
	}

	if _, err := service.ClearForUser(ctx, " "); err == nil {
		t.Fatalf("expected error for blank user id")
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{IDProvider: ids.NewUUIDProvider()}); err == nil {
		t.Fatalf("expected error without database")
	}
}
