package storage

import (
	"database/sql"
	"fmt"
)

// Story mirrors spec.md §3's Story entity.
type Story struct {
	ID        int64
	Name      string
	Header    string
	Body      string
	Public    bool
	Channel   string
	CreatedAt int64
	AutoShare *bool
}

// FindDuplicateStory returns the id of an existing story with the same
// (name, header, body), if any (spec.md §3/§8 duplicate-detection invariant).
func (d *DB) FindDuplicateStory(name, header, body string) (int64, bool, error) {
	var id int64
	err := d.db.QueryRow(
		`SELECT id FROM stories WHERE name = ? AND header = ? AND body = ?`,
		name, header, body,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// InsertStory inserts a new story and returns its assigned id. Callers must
// check FindDuplicateStory first — the (name, header, body) unique index is
// a backstop, not the primary dedup path, so a race loses to the index and
// surfaces as an error rather than a silent collapse.
func (d *DB) InsertStory(s Story) (int64, error) {
	res, err := d.db.Exec(
		`INSERT INTO stories (name, header, body, public, channel, created_at, auto_share)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Name, s.Header, s.Body, boolToInt(s.Public), s.Channel, s.CreatedAt, nullableBool(s.AutoShare),
	)
	if err != nil {
		return 0, fmt.Errorf("insert story: %w", err)
	}
	return res.LastInsertId()
}

// SetStoryPublic marks a stored story public (used by the publish path).
func (d *DB) SetStoryPublic(id int64, public bool) error {
	_, err := d.db.Exec(`UPDATE stories SET public = ? WHERE id = ?`, boolToInt(public), id)
	return err
}

// GetStory fetches a single story by id.
func (d *DB) GetStory(id int64) (Story, error) {
	row := d.db.QueryRow(
		`SELECT id, name, header, body, public, channel, created_at, auto_share FROM stories WHERE id = ?`, id)
	return scanStory(row)
}

// ListPublicStories returns public stories, optionally filtered to channel
// (empty string means any channel) and created strictly after afterTS.
func (d *DB) ListPublicStories(channel string, afterTS int64) ([]Story, error) {
	var rows *sql.Rows
	var err error
	if channel == "" {
		rows, err = d.db.Query(
			`SELECT id, name, header, body, public, channel, created_at, auto_share
			 FROM stories WHERE public = 1 AND created_at > ? ORDER BY id`, afterTS)
	} else {
		rows, err = d.db.Query(
			`SELECT id, name, header, body, public, channel, created_at, auto_share
			 FROM stories WHERE public = 1 AND created_at > ? AND channel = ? ORDER BY id`, afterTS, channel)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStories(rows)
}

// ListPublicStoriesInChannels filters to public stories in any of channels
// (empty slice means any channel), matching spec.md §4.4 response generation.
func (d *DB) ListPublicStoriesInChannels(channels []string, afterTS int64) ([]Story, error) {
	if len(channels) == 0 {
		return d.ListPublicStories("", afterTS)
	}
	placeholders := ""
	args := []interface{}{afterTS}
	for i, c := range channels {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, c)
	}
	q := fmt.Sprintf(
		`SELECT id, name, header, body, public, channel, created_at, auto_share
		 FROM stories WHERE public = 1 AND created_at > ? AND channel IN (%s) ORDER BY id`, placeholders)
	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStories(rows)
}

// ListAllLocalStories returns every story owned by this node regardless of
// visibility (used by "ls s" rendering of locally created stories).
func (d *DB) ListAllLocalStories() ([]Story, error) {
	rows, err := d.db.Query(
		`SELECT id, name, header, body, public, channel, created_at, auto_share FROM stories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStories(rows)
}

func collectStories(rows *sql.Rows) ([]Story, error) {
	var out []Story
	for rows.Next() {
		s, err := scanStoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStory(row rowScanner) (Story, error) {
	return scanStoryRows(row)
}

func scanStoryRows(row rowScanner) (Story, error) {
	var s Story
	var public int
	var autoShare sql.NullBool
	if err := row.Scan(&s.ID, &s.Name, &s.Header, &s.Body, &public, &s.Channel, &s.CreatedAt, &autoShare); err != nil {
		return Story{}, err
	}
	s.Public = public != 0
	if autoShare.Valid {
		v := autoShare.Bool
		s.AutoShare = &v
	}
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableBool(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return boolToInt(*b)
}
