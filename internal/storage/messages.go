package storage

// DirectMessage mirrors spec.md §3's DirectMessage entity.
type DirectMessage struct {
	ID         int64
	FromPeerID string
	FromName   string
	ToPeerID   string
	ToName     string
	Message    string
	Timestamp  int64
	IsOutgoing bool
	Read       bool
}

// InsertDirectMessage records a sent or received direct message.
func (d *DB) InsertDirectMessage(m DirectMessage) (int64, error) {
	res, err := d.db.Exec(
		`INSERT INTO direct_messages (from_peer_id, from_name, to_peer_id, to_name, message, timestamp, is_outgoing, read)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.FromPeerID, m.FromName, m.ToPeerID, m.ToName, m.Message, m.Timestamp, boolToInt(m.IsOutgoing), boolToInt(m.Read),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Conversation is a (peer, messages) group derived from direct_messages
// (spec.md §3): last_activity = max(timestamp), unread = incoming &&
// !read count.
type Conversation struct {
	PeerID       string
	PeerName     string
	LastActivity int64
	Unread       int
	Messages     []DirectMessage
}

// Conversations groups stored messages by the non-local peer id.
func (d *DB) Conversations(localPeerID string) ([]Conversation, error) {
	rows, err := d.db.Query(
		`SELECT id, from_peer_id, from_name, to_peer_id, to_name, message, timestamp, is_outgoing, read
		 FROM direct_messages
		 WHERE from_peer_id = ? OR to_peer_id = ?
		 ORDER BY timestamp ASC`, localPeerID, localPeerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byPeer := map[string]*Conversation{}
	var order []string
	for rows.Next() {
		var m DirectMessage
		var outgoing, read int
		if err := rows.Scan(&m.ID, &m.FromPeerID, &m.FromName, &m.ToPeerID, &m.ToName, &m.Message, &m.Timestamp, &outgoing, &read); err != nil {
			return nil, err
		}
		m.IsOutgoing = outgoing != 0
		m.Read = read != 0

		peerID, peerName := m.ToPeerID, m.ToName
		if m.IsOutgoing {
			// other party is the recipient
		} else {
			peerID, peerName = m.FromPeerID, m.FromName
		}

		c, ok := byPeer[peerID]
		if !ok {
			c = &Conversation{PeerID: peerID, PeerName: peerName}
			byPeer[peerID] = c
			order = append(order, peerID)
		}
		if peerName != "" {
			c.PeerName = peerName
		}
		c.Messages = append(c.Messages, m)
		if m.Timestamp > c.LastActivity {
			c.LastActivity = m.Timestamp
		}
		if !m.IsOutgoing && !m.Read {
			c.Unread++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Conversation, 0, len(order))
	for _, id := range order {
		out = append(out, *byPeer[id])
	}
	return out, nil
}

// MarkConversationRead marks every incoming message from peerID as read.
// Idempotent: applying twice yields the same read-marker set (spec.md §8).
func (d *DB) MarkConversationRead(localPeerID, peerID string) error {
	_, err := d.db.Exec(
		`UPDATE direct_messages SET read = 1 WHERE from_peer_id = ? AND to_peer_id = ? AND is_outgoing = 0`,
		peerID, localPeerID,
	)
	return err
}
