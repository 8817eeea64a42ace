package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Recipient types, matching the values stored in recipients.type.
const (
	RecipientPersonal int16 = 1
	RecipientStream   int16 = 2
	RecipientHuddle   int16 = 3
)

var ErrRealmNotFound = errors.New("realm not found")

type Realm struct {
	ID        int64
	StringID  string
	Name      string
	CreatedAt time.Time
}

type Stream struct {
	ID        int64
	RealmID   int64
	Name      string
	CreatedAt time.Time
}

// GetRealmByStringID resolves the realm selector given on the command line.
func (s *Store) GetRealmByStringID(ctx context.Context, stringID string) (Realm, error) {
	var r Realm
	row := s.q.QueryRowContext(ctx, `SELECT id, string_id, name, created_at FROM realms WHERE string_id = $1`, stringID)
	if err := row.Scan(&r.ID, &r.StringID, &r.Name, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, fmt.Errorf("%w: %q", ErrRealmNotFound, stringID)
		}
		return r, fmt.Errorf("get realm %q: %w", stringID, err)
	}
	return r, nil
}

// FindStreamByName looks a stream up by exact name within a realm. The bool
// result is false when no such stream exists.
func (s *Store) FindStreamByName(ctx context.Context, realmID int64, name string) (Stream, bool, error) {
	var st Stream
	row := s.q.QueryRowContext(ctx, `SELECT id, realm_id, name, created_at FROM streams WHERE realm_id = $1 AND name = $2`, realmID, name)
	if err := row.Scan(&st.ID, &st.RealmID, &st.Name, &st.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, false, nil
		}
		return st, false, fmt.Errorf("find stream %q: %w", name, err)
	}
	return st, true, nil
}

// DeleteStreamRecipients removes every recipient row pointing at the stream.
// Subscriptions cascade with their recipient.
func (s *Store) DeleteStreamRecipients(ctx context.Context, streamID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM recipients WHERE type = $1 AND type_id = $2`, RecipientStream, streamID)
	if err != nil {
		return 0, fmt.Errorf("delete recipients for stream %d: %w", streamID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete recipients for stream %d: %w", streamID, err)
	}
	return n, nil
}

// CountStreamSubscriptions returns the number of active subscriptions to the
// stream's recipient.
func (s *Store) CountStreamSubscriptions(ctx context.Context, streamID int64) (int, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT count(*)
		FROM subscriptions sub
		JOIN recipients r ON r.id = sub.recipient_id
		WHERE r.type = $1 AND r.type_id = $2 AND sub.active
	`, RecipientStream, streamID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count subscriptions for stream %d: %w", streamID, err)
	}
	return count, nil
}
