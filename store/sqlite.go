package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pdfrag/types"
)

// SQLiteStore keeps documents and vectors in a single SQLite file.
// Vectors are stored as little-endian float32 blobs and searched by scan.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	source_id   TEXT NOT NULL,
	path        TEXT NOT NULL,
	title       TEXT NOT NULL,
	version     TEXT NOT NULL,
	ingested_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_source_id ON documents(source_id);

CREATE TABLE IF NOT EXISTS chunks (
	id        TEXT PRIMARY KEY,
	doc_id    TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
	page      INTEGER NOT NULL,
	position  INTEGER NOT NULL,
	content   TEXT NOT NULL,
	embedding BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return &types.StoreWriteError{Op: "init", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

const documentColumns = `id, source_id, path, title, version, ingested_at`

func (s *SQLiteStore) ListDocuments(ctx context.Context, sourceID string) ([]types.IngestedDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if sourceID != "" {
		query += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}
	query += ` ORDER BY path`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &types.StoreReadError{Op: "list documents", Err: err}
	}
	defer rows.Close()

	var docs []types.IngestedDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, &types.StoreReadError{Op: "list documents", Err: err}
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreReadError{Op: "list documents", Err: err}
	}
	return docs, nil
}

func (s *SQLiteStore) GetDocumentByID(ctx context.Context, id uuid.UUID) (*types.IngestedDocument, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id.String())
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, &types.StoreReadError{Op: "get document", Err: err}
	}
	return doc, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*types.IngestedDocument, error) {
	var (
		doc        types.IngestedDocument
		id         string
		ingestedAt int64
	)
	if err := row.Scan(&id, &doc.SourceID, &doc.Path, &doc.Title, &doc.Version, &ingestedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("document id %q: %w", id, err)
	}
	doc.ID = parsed
	doc.IngestedAt = time.Unix(0, ingestedAt).UTC()
	return &doc, nil
}

func (s *SQLiteStore) ListChunks(ctx context.Context, docID uuid.UUID) ([]types.IngestedChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, page, position, content, embedding FROM chunks WHERE doc_id = ? ORDER BY page, position`,
		docID.String())
	if err != nil {
		return nil, &types.StoreReadError{Op: "list chunks", Err: err}
	}
	defer rows.Close()

	var chunks []types.IngestedChunk
	for rows.Next() {
		var (
			c    = types.IngestedChunk{DocumentID: docID}
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &c.Page, &c.Index, &c.Text, &blob); err != nil {
			return nil, &types.StoreReadError{Op: "list chunks", Err: err}
		}
		if c.ID, err = uuid.Parse(id); err != nil {
			return nil, &types.StoreReadError{Op: "list chunks", Err: err}
		}
		if c.Embedding, err = types.DecodeVector(blob); err != nil {
			return nil, &types.StoreReadError{Op: "list chunks", Err: err}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreReadError{Op: "list chunks", Err: err}
	}
	return chunks, nil
}

func (s *SQLiteStore) CommitDocument(ctx context.Context, c DocumentCommit) error {
	if err := s.commit(ctx, c); err != nil {
		return &types.StoreWriteError{Op: "commit " + c.Document.Path, Err: err}
	}
	return nil
}

func (s *SQLiteStore) commit(ctx context.Context, c DocumentCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	docID := c.Document.ID.String()

	if len(c.Delete) > 0 {
		del, err := tx.PrepareContext(ctx, `DELETE FROM chunks WHERE id = ? AND doc_id = ?`)
		if err != nil {
			return fmt.Errorf("prepare delete: %w", err)
		}
		defer del.Close()
		for _, id := range c.Delete {
			if _, err := del.ExecContext(ctx, id.String(), docID); err != nil {
				return fmt.Errorf("delete chunk %s: %w", id, err)
			}
		}
	}

	if len(c.Upsert) > 0 {
		up, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, doc_id, page, position, content, embedding)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				doc_id = excluded.doc_id,
				page = excluded.page,
				position = excluded.position,
				content = excluded.content,
				embedding = excluded.embedding`)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer up.Close()
		for _, ch := range c.Upsert {
			if ch.DocumentID != c.Document.ID {
				return fmt.Errorf("chunk %s belongs to document %s", ch.ID, ch.DocumentID)
			}
			if _, err := up.ExecContext(ctx, ch.ID.String(), docID, ch.Page, ch.Index, ch.Text, types.EncodeVector(ch.Embedding)); err != nil {
				return fmt.Errorf("upsert chunk %s: %w", ch.ID, err)
			}
		}
	}

	d := c.Document
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_id = excluded.source_id,
			path = excluded.path,
			title = excluded.title,
			version = excluded.version,
			ingested_at = excluded.ingested_at`,
		docID, d.SourceID, d.Path, d.Title, d.Version, d.IngestedAt.UnixNano()); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id.String()); err != nil {
		return &types.StoreWriteError{Op: "delete document", Err: err}
	}
	return nil
}

// Search scans all candidate chunks and keeps the best limit by cosine similarity.
func (s *SQLiteStore) Search(ctx context.Context, vec []float32, filter SearchFilter, limit int) ([]types.SearchResult, error) {
	if len(vec) == 0 {
		return nil, &types.StoreReadError{Op: "search", Err: errors.New("empty query vector")}
	}

	query := `
		SELECT c.id, c.page, c.position, c.content, c.embedding,
		       d.id, d.source_id, d.path, d.title
		FROM chunks c
		JOIN documents d ON c.doc_id = d.id
		WHERE 1 = 1`
	var args []any
	if filter.SourceID != "" {
		query += ` AND d.source_id = ?`
		args = append(args, filter.SourceID)
	}
	if filter.DocumentID != uuid.Nil {
		query += ` AND d.id = ?`
		args = append(args, filter.DocumentID.String())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &types.StoreReadError{Op: "search", Err: err}
	}
	defer rows.Close()

	top := newRanked(limit)
	for rows.Next() {
		var (
			hit          types.SearchResult
			chunkID, did string
			blob         []byte
		)
		if err := rows.Scan(&chunkID, &hit.Page, &hit.Index, &hit.Text, &blob,
			&did, &hit.SourceID, &hit.Path, &hit.Title); err != nil {
			return nil, &types.StoreReadError{Op: "search", Err: err}
		}
		emb, err := types.DecodeVector(blob)
		if err != nil || len(emb) != len(vec) {
			continue
		}
		if hit.ChunkID, err = uuid.Parse(chunkID); err != nil {
			continue
		}
		if hit.DocumentID, err = uuid.Parse(did); err != nil {
			continue
		}
		hit.Score = types.Cosine(vec, emb)
		top.offer(hit)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreReadError{Op: "search", Err: err}
	}
	return top.results(), nil
}
