package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"pdfrag/types"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	dims int
}

func NewPostgresStore(ctx context.Context, connStr string, dims int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool: pool,
		dims: dims,
	}, nil
}

func (p *PostgresStore) ListDocuments(ctx context.Context, sourceID string) ([]types.IngestedDocument, error) {
	query := `SELECT id, source_id, path, title, version, ingested_at FROM documents`
	var args []any
	if sourceID != "" {
		query += ` WHERE source_id = $1`
		args = append(args, sourceID)
	}
	query += ` ORDER BY path`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &types.StoreReadError{Op: "list documents", Err: err}
	}
	defer rows.Close()

	var docs []types.IngestedDocument
	for rows.Next() {
		var doc types.IngestedDocument
		if err := rows.Scan(&doc.ID, &doc.SourceID, &doc.Path, &doc.Title, &doc.Version, &doc.IngestedAt); err != nil {
			return nil, &types.StoreReadError{Op: "list documents", Err: err}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreReadError{Op: "list documents", Err: err}
	}
	return docs, nil
}

func (p *PostgresStore) GetDocumentByID(ctx context.Context, docID uuid.UUID) (*types.IngestedDocument, error) {
	doc := &types.IngestedDocument{}
	err := p.pool.QueryRow(ctx,
		`SELECT id, source_id, path, title, version, ingested_at FROM documents WHERE id = $1`, docID,
	).Scan(&doc.ID, &doc.SourceID, &doc.Path, &doc.Title, &doc.Version, &doc.IngestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, &types.StoreReadError{Op: "get document", Err: err}
	}
	return doc, nil
}

func (p *PostgresStore) ListChunks(ctx context.Context, docID uuid.UUID) ([]types.IngestedChunk, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, page, position, content, embedding FROM chunks WHERE doc_id = $1 ORDER BY page, position`, docID)
	if err != nil {
		return nil, &types.StoreReadError{Op: "list chunks", Err: err}
	}
	defer rows.Close()

	var chunks []types.IngestedChunk
	for rows.Next() {
		c := types.IngestedChunk{DocumentID: docID}
		var embedding pgvector.Vector
		if err := rows.Scan(&c.ID, &c.Page, &c.Index, &c.Text, &embedding); err != nil {
			return nil, &types.StoreReadError{Op: "list chunks", Err: err}
		}
		c.Embedding = embedding.Slice()
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreReadError{Op: "list chunks", Err: err}
	}
	return chunks, nil
}

func (p *PostgresStore) CommitDocument(ctx context.Context, c DocumentCommit) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}

		if len(c.Delete) > 0 {
			ids := make([]string, len(c.Delete))
			for i, id := range c.Delete {
				ids[i] = id.String()
			}
			batch.Queue(`DELETE FROM chunks WHERE doc_id = $1 AND id = ANY($2::uuid[])`, c.Document.ID, ids)
		}

		for _, ch := range c.Upsert {
			if ch.DocumentID != c.Document.ID {
				return fmt.Errorf("chunk %s belongs to document %s", ch.ID, ch.DocumentID)
			}
			batch.Queue(`
				INSERT INTO chunks (id, doc_id, page, position, content, embedding)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO UPDATE SET
					doc_id = EXCLUDED.doc_id,
					page = EXCLUDED.page,
					position = EXCLUDED.position,
					content = EXCLUDED.content,
					embedding = EXCLUDED.embedding`,
				ch.ID, ch.DocumentID, ch.Page, ch.Index, ch.Text, pgvector.NewVector(ch.Embedding))
		}

		d := c.Document
		batch.Queue(`
			INSERT INTO documents (id, source_id, path, title, version, ingested_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				source_id = EXCLUDED.source_id,
				path = EXCLUDED.path,
				title = EXCLUDED.title,
				version = EXCLUDED.version,
				ingested_at = EXCLUDED.ingested_at`,
			d.ID, d.SourceID, d.Path, d.Title, d.Version, d.IngestedAt)

		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return &types.StoreWriteError{Op: "commit " + c.Document.Path, Err: err}
	}
	return nil
}

func (p *PostgresStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	if _, err := p.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id); err != nil {
		return &types.StoreWriteError{Op: "delete document", Err: err}
	}
	return nil
}

func (p *PostgresStore) Search(ctx context.Context, queryVec []float32, filter SearchFilter, limit int) ([]types.SearchResult, error) {
	if len(queryVec) == 0 {
		return nil, &types.StoreReadError{Op: "search", Err: errors.New("empty query vector")}
	}

	query := `
		SELECT pc.id, pc.doc_id, doc.source_id, doc.path, doc.title,
		       pc.page, pc.position, pc.content,
		       1-(pc.embedding <=> $1) as score
		FROM chunks pc
		JOIN documents doc ON pc.doc_id = doc.id
		WHERE pc.embedding IS NOT NULL
		  AND ($3::text = '' OR doc.source_id = $3)
		  AND ($4::uuid IS NULL OR doc.id = $4)
		ORDER BY pc.embedding <=> $1
		LIMIT $2
	`
	var docFilter *uuid.UUID
	if filter.DocumentID != uuid.Nil {
		docFilter = &filter.DocumentID
	}

	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(queryVec), limit, filter.SourceID, docFilter)
	if err != nil {
		return nil, &types.StoreReadError{Op: "search", Err: err}
	}
	defer rows.Close()

	var results []types.SearchResult
	for rows.Next() {
		var r types.SearchResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.SourceID, &r.Path, &r.Title,
			&r.Page, &r.Index, &r.Text, &r.Score); err != nil {
			return nil, &types.StoreReadError{Op: "search", Err: err}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreReadError{Op: "search", Err: err}
	}
	// ordering by distance alone keeps the hnsw index usable
	sortResults(results)
	return results, nil
}

func (p *PostgresStore) createRagTables(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		source_id TEXT NOT NULL,
		path TEXT NOT NULL,
		title TEXT NOT NULL,
		version TEXT NOT NULL,
		ingested_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_source_id ON documents(source_id);

	CREATE TABLE IF NOT EXISTS chunks (
		id UUID PRIMARY KEY,
		doc_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
		page INT NOT NULL,
		position INT NOT NULL,
		content TEXT NOT NULL,
		embedding vector(%d)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
	`, p.dims)
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	if err := p.createRagTables(ctx); err != nil {
		return &types.StoreWriteError{Op: "init", Err: err}
	}
	return nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		slog.Info("Postgres connection pool is closed")
	}
	return nil
}
