// Package archive keeps retrieved direct messages in a local SQLite file,
// grouped by the user on the other end of each conversation.
package archive

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/Zereker/dsu"
)

// Store is a SQLite message archive. Records are scoped by owner, the local
// user they were retrieved for.
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.Wrap(err, "create archive directory")
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open archive")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "open archive")
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		counterpart TEXT NOT NULL,
		body TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		outgoing INTEGER NOT NULL,
		UNIQUE (owner, counterpart, body, timestamp, outgoing)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(owner, counterpart, id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "init archive schema")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save appends records for owner in the given order. A record already in the
// archive is skipped, so re-saving the result of a retrieve-all is harmless.
// It returns how many records were new.
func (s *Store) Save(ctx context.Context, owner string, records []dsu.DirectMessageRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO messages (owner, counterpart, body, timestamp, outgoing)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	added := 0
	for _, r := range records {
		res, err := stmt.ExecContext(ctx, owner, r.Counterpart(), r.Body, r.Timestamp, boolToInt(r.Direction == dsu.Outgoing))
		if err != nil {
			return 0, errors.Wrap(err, "insert message")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit")
	}
	return added, nil
}

// Thread returns owner's conversation with counterpart in the order saved.
func (s *Store) Thread(ctx context.Context, owner, counterpart string) ([]dsu.DirectMessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT counterpart, body, timestamp, outgoing
		FROM messages WHERE owner = ? AND counterpart = ?
		ORDER BY id
	`, owner, counterpart)
	if err != nil {
		return nil, errors.Wrap(err, "query thread")
	}
	defer rows.Close()

	records := []dsu.DirectMessageRecord{}
	for rows.Next() {
		var (
			r        dsu.DirectMessageRecord
			outgoing int
		)
		if err := rows.Scan(&r.Sender, &r.Body, &r.Timestamp, &outgoing); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		r.Direction = dsu.Incoming
		if outgoing != 0 {
			r.Direction = dsu.Outgoing
		}
		records = append(records, r)
	}
	return records, errors.Wrap(rows.Err(), "query thread")
}

// Contacts returns everyone owner has exchanged messages with, in the order
// they first appeared.
func (s *Store) Contacts(ctx context.Context, owner string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT counterpart FROM messages WHERE owner = ?
		GROUP BY counterpart ORDER BY MIN(id)
	`, owner)
	if err != nil {
		return nil, errors.Wrap(err, "query contacts")
	}
	defer rows.Close()

	contacts := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, errors.Wrap(err, "scan contact")
		}
		contacts = append(contacts, c)
	}
	return contacts, errors.Wrap(rows.Err(), "query contacts")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
