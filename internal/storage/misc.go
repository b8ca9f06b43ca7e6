package storage

import "database/sql"

// SavePeerName persists a peer's display name (backing store for the
// in-memory roster, spec.md §4.8 and §6 persisted state layout).
func (d *DB) SavePeerName(peerID, name string) error {
	_, err := d.db.Exec(
		`INSERT INTO peer_name (peer_id, name) VALUES (?, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET name = excluded.name`,
		peerID, name,
	)
	return err
}

// LoadPeerNames returns every persisted peer-id → display-name pair, used to
// seed the in-memory roster at startup.
func (d *DB) LoadPeerNames() (map[string]string, error) {
	rows, err := d.db.Query(`SELECT peer_id, name FROM peer_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

// SaveConfigDoc persists an opaque named JSON configuration document
// (spec.md §6: bootstrap, direct-message, network, unified documents).
func (d *DB) SaveConfigDoc(name, jsonValue string) error {
	_, err := d.db.Exec(
		`INSERT INTO config_docs (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, jsonValue,
	)
	return err
}

// LoadConfigDoc returns a previously saved configuration document.
func (d *DB) LoadConfigDoc(name string) (string, bool, error) {
	var v string
	err := d.db.QueryRow(`SELECT value FROM config_docs WHERE name = ?`, name).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
