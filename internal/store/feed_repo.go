package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nmscd/warroom/internal/domain"
)

// FeedRepo handles persistence for the public activity feed and for
// per-recipient notifications.
type FeedRepo struct{}

// AppendActivity inserts one feed entry and prunes rows beyond the retention
// bound. Pruning rides along with the append so reads stay cheap.
func (r *FeedRepo) AppendActivity(ctx context.Context, db *sql.DB, e domain.ActivityEntry, retain int) error {
	const q = `INSERT INTO activity_entries (entry_id, event_type, headline, details, system_id, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q, e.ID, e.EventType, e.Headline, e.Details, e.SystemID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}

	if retain > 0 {
		const prune = `DELETE FROM activity_entries WHERE entry_id NOT IN (
			SELECT entry_id FROM activity_entries ORDER BY created_at DESC, entry_id DESC LIMIT ?)`
		if _, err := db.ExecContext(ctx, prune, retain); err != nil {
			return fmt.Errorf("prune activity: %w", err)
		}
	}
	return nil
}

// ListActivity returns the newest feed entries, most recent first.
func (r *FeedRepo) ListActivity(ctx context.Context, db *sql.DB, limit int) ([]domain.ActivityEntry, error) {
	const q = `SELECT entry_id, event_type, headline, details, system_id, created_at
FROM activity_entries ORDER BY created_at DESC, entry_id DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var entries []domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.Headline, &e.Details, &e.SystemID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateNotification inserts one per-recipient notification row.
func (r *FeedRepo) CreateNotification(ctx context.Context, db *sql.DB, n domain.Notification) error {
	const q = `INSERT INTO notifications (notification_id, partner_id, title, message, created_at, read_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q, n.ID, n.PartnerID, n.Title, n.Message, n.CreatedAt, n.ReadAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListNotifications returns a partner's notifications, newest first.
func (r *FeedRepo) ListNotifications(ctx context.Context, db *sql.DB, partnerID string, limit int) ([]domain.Notification, error) {
	const q = `SELECT notification_id, partner_id, title, message, created_at, read_at
FROM notifications WHERE partner_id = ? ORDER BY created_at DESC, notification_id DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, q, partnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notes []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.PartnerID, &n.Title, &n.Message, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// CountUnread returns a partner's unread notification count.
func (r *FeedRepo) CountUnread(ctx context.Context, db *sql.DB, partnerID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE partner_id = ? AND read_at = 0`, partnerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// MarkAllRead stamps every unread notification for a partner. This is the only
// supported bulk mutation on notifications.
func (r *FeedRepo) MarkAllRead(ctx context.Context, db *sql.DB, partnerID string, now int64) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE notifications SET read_at = ? WHERE partner_id = ? AND read_at = 0`, now, partnerID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return res.RowsAffected()
}
