package store

import (
	"database/sql"
	"errors"
	"time"
)

// QueueSlot is the fixed slot name the serialized outbound queue lives in.
const QueueSlot = "ws_message_queue"

// SaveSlot writes (or clears, when payload is empty) a named slot.
func (db *DB) SaveSlot(name string, payload []byte) error {
	if len(payload) == 0 {
		_, err := db.Exec(`DELETE FROM slots WHERE name = ?`, name)
		return err
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO slots (name, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		name, payload, now)
	return err
}

// LoadSlot reads a named slot. Returns nil payload when the slot is empty.
func (db *DB) LoadSlot(name string) ([]byte, error) {
	var payload []byte
	err := db.QueryRow(`SELECT payload FROM slots WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// QueuePersister adapts the slot table to the queue's persistence interface.
type QueuePersister struct {
	db *DB
}

// NewQueuePersister creates the persister bound to the fixed queue slot.
func NewQueuePersister(db *DB) *QueuePersister {
	return &QueuePersister{db: db}
}

// PersistQueue writes the serialized queue, clearing the slot when empty.
func (p *QueuePersister) PersistQueue(data []byte) error {
	return p.db.SaveSlot(QueueSlot, data)
}

// LoadQueue reads the serialized queue saved by a previous run.
func (p *QueuePersister) LoadQueue() ([]byte, error) {
	return p.db.LoadSlot(QueueSlot)
}
