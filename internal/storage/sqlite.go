package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/vector"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Ordering relies on rowid: an upsert keeps the row, so a re-saved id keeps its position.
func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		id TEXT PRIMARY KEY,
		dimensions INTEGER NOT NULL,
		vector BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		title TEXT,
		text TEXT,
		color TEXT,
		position TEXT
	);

	CREATE TABLE IF NOT EXISTS links (
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		weight REAL NOT NULL,
		color TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_links_source ON links(source);
	CREATE INDEX IF NOT EXISTS idx_links_target ON links(target);

	CREATE TABLE IF NOT EXISTS pairs (
		id1 TEXT NOT NULL,
		id2 TEXT NOT NULL,
		similarity REAL NOT NULL,
		PRIMARY KEY (id1, id2)
	);

	CREATE INDEX IF NOT EXISTS idx_pairs_id2 ON pairs(id2);

	CREATE TABLE IF NOT EXISTS sources (
		path TEXT PRIMARY KEY,
		node_ids TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveEmbeddings upserts every entry of set in set order.
func (s *SQLiteStorage) SaveEmbeddings(ctx context.Context, set *models.EmbeddingSet) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO embeddings (id, dimensions, vector, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(id) DO UPDATE SET dimensions = excluded.dimensions, vector = excluded.vector,
			 updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		var execErr error
		set.Each(func(id string, e models.Embedding) bool {
			_, execErr = stmt.ExecContext(ctx, id, len(e), vector.EncodeVector(e))
			return execErr == nil
		})
		return execErr
	})
}

// LoadEmbeddings returns all embeddings in insertion order.
func (s *SQLiteStorage) LoadEmbeddings(ctx context.Context) (*models.EmbeddingSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, vector FROM embeddings ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := models.NewEmbeddingSet()
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		v, err := vector.DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("embedding %s: %w", id, err)
		}
		set.Put(id, v)
	}
	return set, rows.Err()
}

// SaveNodes upserts nodes.
func (s *SQLiteStorage) SaveNodes(ctx context.Context, nodes []models.Node) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO nodes (id, title, text, color, position) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET title = excluded.title, text = excluded.text,
			 color = excluded.color, position = excluded.position`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, n := range nodes {
			var position sql.NullString
			if n.Position != nil {
				b, err := json.Marshal(n.Position)
				if err != nil {
					return fmt.Errorf("failed to marshal position: %w", err)
				}
				position = sql.NullString{String: string(b), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, n.ID, n.Title, n.Text, n.Color, position); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadNodes returns all nodes in insertion order.
func (s *SQLiteStorage) LoadNodes(ctx context.Context) ([]models.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, text, color, position FROM nodes ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []models.Node
	for rows.Next() {
		var n models.Node
		var title, text, color, position sql.NullString
		if err := rows.Scan(&n.ID, &title, &text, &color, &position); err != nil {
			return nil, err
		}
		n.Title, n.Text, n.Color = title.String, text.String, color.String
		if position.Valid {
			n.Position = &models.Position{}
			if err := json.Unmarshal([]byte(position.String), n.Position); err != nil {
				return nil, fmt.Errorf("failed to unmarshal position: %w", err)
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// ReplaceLinks swaps the stored link collection for links.
func (s *SQLiteStorage) ReplaceLinks(ctx context.Context, links []models.Link) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM links`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO links (source, target, weight, color) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, l := range links {
			if _, err := stmt.ExecContext(ctx, l.Source, l.Target, l.Weight, l.Color); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadLinks returns all links in insertion order.
func (s *SQLiteStorage) LoadLinks(ctx context.Context) ([]models.Link, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, target, weight, color FROM links ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []models.Link
	for rows.Next() {
		var l models.Link
		var color sql.NullString
		if err := rows.Scan(&l.Source, &l.Target, &l.Weight, &color); err != nil {
			return nil, err
		}
		l.Color = color.String
		links = append(links, l)
	}
	return links, rows.Err()
}

// SavePairs upserts similarity scores.
func (s *SQLiteStorage) SavePairs(ctx context.Context, pairs []models.Pair) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO pairs (id1, id2, similarity) VALUES (?, ?, ?)
			 ON CONFLICT(id1, id2) DO UPDATE SET similarity = excluded.similarity`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range pairs {
			if _, err := stmt.ExecContext(ctx, p.ID1, p.ID2, p.Similarity); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadPairs returns all stored scores in insertion order.
func (s *SQLiteStorage) LoadPairs(ctx context.Context) ([]models.Pair, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id1, id2, similarity FROM pairs ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []models.Pair
	for rows.Next() {
		var p models.Pair
		if err := rows.Scan(&p.ID1, &p.ID2, &p.Similarity); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// SaveSource records which node ids were ingested from path.
func (s *SQLiteStorage) SaveSource(ctx context.Context, path string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal node ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sources (path, node_ids) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET node_ids = excluded.node_ids`, path, string(data))
	return err
}

// SourceIDs returns the node ids recorded for path, or nil if there are none.
func (s *SQLiteStorage) SourceIDs(ctx context.Context, path string) ([]string, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT node_ids FROM sources WHERE path = ?`, path).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node ids: %w", err)
	}
	return ids, nil
}

// DeleteSource forgets path.
func (s *SQLiteStorage) DeleteSource(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE path = ?`, path)
	return err
}

// DeleteNodes removes nodes and everything that references them.
func (s *SQLiteStorage) DeleteNodes(ctx context.Context, ids []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			for _, q := range []string{
				`DELETE FROM nodes WHERE id = ?`,
				`DELETE FROM embeddings WHERE id = ?`,
				`DELETE FROM links WHERE source = ?1 OR target = ?1`,
				`DELETE FROM pairs WHERE id1 = ?1 OR id2 = ?1`,
			} {
				if _, err := tx.ExecContext(ctx, q, id); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// DeletePairs removes every stored score involving one of ids.
func (s *SQLiteStorage) DeletePairs(ctx context.Context, ids []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM pairs WHERE id1 = ?1 OR id2 = ?1`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear removes every row.
func (s *SQLiteStorage) Clear(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"embeddings", "nodes", "links", "pairs", "sources"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats returns row counts.
func (s *SQLiteStorage) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM embeddings),
		(SELECT COUNT(*) FROM nodes),
		(SELECT COUNT(*) FROM links),
		(SELECT COUNT(*) FROM pairs),
		(SELECT COUNT(*) FROM sources)`,
	).Scan(&st.Embeddings, &st.Nodes, &st.Links, &st.Pairs, &st.Sources)
	return st, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
