// Package feed fans out state-change events to the public activity feed and
// to targeted per-partner notifications.
package feed

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nmscd/warroom/internal/domain"
	"github.com/nmscd/warroom/internal/store"
)

// Publisher appends activity entries and notification rows. Publishing is
// best-effort: failures are logged and swallowed so they can never fail the
// state change that triggered them.
type Publisher struct {
	DB        *sql.DB
	Repo      *store.FeedRepo
	Log       *slog.Logger
	Retention int
	Now       func() time.Time
}

// NewPublisher creates a Publisher with the given retention bound.
func NewPublisher(db *sql.DB, log *slog.Logger, retention int) *Publisher {
	return &Publisher{
		DB:        db,
		Repo:      &store.FeedRepo{},
		Log:       log,
		Retention: retention,
		Now:       time.Now,
	}
}

// Publish appends one public feed entry.
func (p *Publisher) Publish(ctx context.Context, eventType, headline, details, systemID string) {
	entry := domain.ActivityEntry{
		ID:        uuid.NewString(),
		EventType: eventType,
		Headline:  headline,
		Details:   details,
		SystemID:  systemID,
		CreatedAt: p.Now().Unix(),
	}
	if err := p.Repo.AppendActivity(ctx, p.DB, entry, p.Retention); err != nil {
		p.Log.Warn("activity publish failed", "event_type", eventType, "error", err)
	}
}

// Notify creates one notification row per recipient. Directly involved
// parties only, never a broadcast.
func (p *Publisher) Notify(ctx context.Context, partnerIDs []string, title, message string) {
	now := p.Now().Unix()
	for _, partnerID := range partnerIDs {
		if partnerID == "" {
			continue
		}
		n := domain.Notification{
			ID:        uuid.NewString(),
			PartnerID: partnerID,
			Title:     title,
			Message:   message,
			CreatedAt: now,
		}
		if err := p.Repo.CreateNotification(ctx, p.DB, n); err != nil {
			p.Log.Warn("notification dispatch failed", "partner_id", partnerID, "error", err)
		}
	}
}

// MarkAllRead stamps every unread notification for a partner and returns the
// number of rows touched. Unlike publishing, this is a user-facing mutation
// and reports its error.
func (p *Publisher) MarkAllRead(ctx context.Context, partnerID string) (int64, error) {
	return p.Repo.MarkAllRead(ctx, p.DB, partnerID, p.Now().Unix())
}
