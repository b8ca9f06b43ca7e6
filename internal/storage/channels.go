package storage

import "database/sql"

// Channel mirrors spec.md §3's Channel entity.
type Channel struct {
	Name        string
	Description string
	CreatedBy   string
	CreatedAt   int64
}

// UpsertChannel inserts a channel or leaves an existing row untouched
// (INSERT OR IGNORE, spec.md §4.4 reconciliation).
func (d *DB) UpsertChannel(c Channel) (inserted bool, err error) {
	res, err := d.db.Exec(
		`INSERT OR IGNORE INTO channels (name, description, created_by, created_at) VALUES (?, ?, ?, ?)`,
		c.Name, c.Description, c.CreatedBy, c.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetChannel returns a stored channel record, if any.
func (d *DB) GetChannel(name string) (Channel, bool, error) {
	var c Channel
	err := d.db.QueryRow(
		`SELECT name, description, created_by, created_at FROM channels WHERE name = ?`, name,
	).Scan(&c.Name, &c.Description, &c.CreatedBy, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return Channel{}, false, nil
	}
	if err != nil {
		return Channel{}, false, err
	}
	return c, true, nil
}

// ListChannels returns every known channel.
func (d *DB) ListChannels() ([]Channel, error) {
	rows, err := d.db.Query(`SELECT name, description, created_by, created_at FROM channels ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.Name, &c.Description, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Subscribe records (peer_id, channel_name) as subscribed, idempotently.
func (d *DB) Subscribe(peerID, channel string, at int64) error {
	_, err := d.db.Exec(
		`INSERT OR IGNORE INTO channel_subscriptions (peer_id, channel_name, subscribed_at) VALUES (?, ?, ?)`,
		peerID, channel, at,
	)
	return err
}

// SubscribedChannels returns the channels peerID currently consumes.
func (d *DB) SubscribedChannels(peerID string) ([]string, error) {
	rows, err := d.db.Query(
		`SELECT channel_name FROM channel_subscriptions WHERE peer_id = ? ORDER BY channel_name`, peerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkStoryRead records (story_id, peer_id) as read; idempotent — applying
// twice leaves the same read-marker set (spec.md §8).
func (d *DB) MarkStoryRead(storyID int64, peerID, channel string, at int64) error {
	_, err := d.db.Exec(
		`INSERT OR IGNORE INTO story_read_status (story_id, peer_id, channel_name, read_at) VALUES (?, ?, ?, ?)`,
		storyID, peerID, channel, at,
	)
	return err
}

// UnreadCount returns |public stories in channel| - |read markers for
// (peer, channel)|, floored at 0 (spec.md §3, §8).
func (d *DB) UnreadCount(peerID, channel string) (int, error) {
	var total int
	if err := d.db.QueryRow(
		`SELECT COUNT(*) FROM stories WHERE public = 1 AND channel = ?`, channel,
	).Scan(&total); err != nil {
		return 0, err
	}

	var read int
	if err := d.db.QueryRow(
		`SELECT COUNT(*) FROM story_read_status WHERE peer_id = ? AND channel_name = ?`, peerID, channel,
	).Scan(&read); err != nil {
		return 0, err
	}

	unread := total - read
	if unread < 0 {
		unread = 0
	}
	return unread, nil
}
