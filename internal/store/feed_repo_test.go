package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/nmscd/warroom/internal/domain"
)

func TestFeedRepo_RetentionPrune(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	repo := &FeedRepo{}

	for i := 0; i < 8; i++ {
		e := domain.ActivityEntry{
			ID:        fmt.Sprintf("entry-%02d", i),
			EventType: "territory_claimed",
			Headline:  fmt.Sprintf("claim %d", i),
			CreatedAt: int64(1000 + i),
		}
		if err := repo.AppendActivity(ctx, db, e, 5); err != nil {
			t.Fatalf("AppendActivity %d: %v", i, err)
		}
	}

	entries, err := repo.ListActivity(ctx, db, 100)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected retention to keep 5 entries, got %d", len(entries))
	}
	if entries[0].ID != "entry-07" {
		t.Errorf("newest entry = %q, want entry-07", entries[0].ID)
	}
	if entries[4].ID != "entry-03" {
		t.Errorf("oldest surviving entry = %q, want entry-03", entries[4].ID)
	}
}

func TestFeedRepo_Notifications(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	repo := &FeedRepo{}

	for i := 0; i < 3; i++ {
		n := domain.Notification{
			ID:        fmt.Sprintf("n-%d", i),
			PartnerID: "gek-trade-union",
			Title:     "War declared",
			CreatedAt: int64(100 + i),
		}
		if err := repo.CreateNotification(ctx, db, n); err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
	}
	other := domain.Notification{ID: "n-x", PartnerID: "korvax-dominion", Title: "t", CreatedAt: 100}
	if err := repo.CreateNotification(ctx, db, other); err != nil {
		t.Fatalf("CreateNotification other: %v", err)
	}

	unread, err := repo.CountUnread(ctx, db, "gek-trade-union")
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if unread != 3 {
		t.Errorf("unread = %d, want 3", unread)
	}

	marked, err := repo.MarkAllRead(ctx, db, "gek-trade-union", 500)
	if err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if marked != 3 {
		t.Errorf("marked = %d, want 3", marked)
	}

	unread, err = repo.CountUnread(ctx, db, "gek-trade-union")
	if err != nil {
		t.Fatalf("CountUnread after mark: %v", err)
	}
	if unread != 0 {
		t.Errorf("unread after mark = %d, want 0", unread)
	}

	// The other partner's notifications are untouched.
	unread, err = repo.CountUnread(ctx, db, "korvax-dominion")
	if err != nil {
		t.Fatalf("CountUnread other: %v", err)
	}
	if unread != 1 {
		t.Errorf("other partner unread = %d, want 1", unread)
	}
}
