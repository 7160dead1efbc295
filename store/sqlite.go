package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS glosses (
    phrase TEXT PRIMARY KEY,
    gloss TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// sqliteMaxVars keeps IN lists under SQLite's bound-parameter limit.
const sqliteMaxVars = 500

// SQLite keeps glosses in an SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Lookup implements Store.
func (s *SQLite) Lookup(ctx context.Context, phrases []string) (map[string]string, error) {
	out := make(map[string]string)
	for start := 0; start < len(phrases); start += sqliteMaxVars {
		end := min(start+sqliteMaxVars, len(phrases))
		chunk := phrases[start:end]

		args := make([]any, len(chunk))
		for i, p := range chunk {
			args[i] = p
		}
		query := `SELECT phrase, gloss FROM glosses WHERE phrase IN (?` +
			strings.Repeat(",?", len(chunk)-1) + `)`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query glosses: %w", err)
		}
		for rows.Next() {
			var phrase, gloss string
			if err := rows.Scan(&phrase, &gloss); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan gloss: %w", err)
			}
			out[phrase] = gloss
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("read glosses: %w", err)
		}
	}
	return out, nil
}

// Save implements Store.
func (s *SQLite) Save(ctx context.Context, glosses map[string]string) error {
	if len(glosses) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO glosses(phrase, gloss, updated_at) VALUES(?,?,?)
		 ON CONFLICT(phrase) DO UPDATE SET gloss = excluded.gloss, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for phrase, gloss := range glosses {
		if _, err := stmt.ExecContext(ctx, phrase, gloss, now); err != nil {
			return fmt.Errorf("upsert %q: %w", phrase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
