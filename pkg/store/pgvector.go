package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/RanFeng/ilog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PgVectorStore stores chunks and their embeddings in a Postgres table with
// the pgvector extension.
type PgVectorStore struct {
	config   VectorStoreConfig
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
}

var _ Store = (*PgVectorStore)(nil)

func NewPgVector(ctx context.Context, config VectorStoreConfig, embedder embeddings.Embedder) (*PgVectorStore, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1536 // Default for OpenAI embeddings
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PgVectorStore{
		config:   config,
		pool:     pool,
		embedder: embedder,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PgVectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			title TEXT,
			content TEXT,
			chunk_index INTEGER,
			embedding vector(%d),
			metadata JSONB
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

func (vs *PgVectorStore) embedderFor(opts vectorstores.Options) (embeddings.Embedder, error) {
	if opts.Embedder != nil {
		return opts.Embedder, nil
	}
	if vs.embedder == nil {
		return nil, ErrNoEmbedder
	}
	return vs.embedder, nil
}

// AddDocuments embeds and upserts docs, one transaction per batch.
func (vs *PgVectorStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := parseOptions(options)
	embedder, err := vs.embedderFor(opts)
	if err != nil {
		return nil, err
	}
	docs = dedupe(ctx, opts, docs)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, source, title, content, chunk_index, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.config.TableName)

	ids := make([]string, 0, len(docs))
	for start := 0; start < len(docs); start += vs.config.BatchSize {
		end := min(start+vs.config.BatchSize, len(docs))
		batchDocs := docs[start:end]

		vectors, err := embedDocuments(ctx, embedder, batchDocs)
		if err != nil {
			return ids, err
		}

		batch := &pgx.Batch{}
		batchIDs := make([]string, len(batchDocs))
		for i, doc := range batchDocs {
			if len(vectors[i]) != vs.config.VectorDim {
				return ids, fmt.Errorf("embedding has %d dimensions, table expects %d", len(vectors[i]), vs.config.VectorDim)
			}
			source, _ := doc.Metadata["source"].(string)
			title, _ := doc.Metadata["title"].(string)
			batchIDs[i] = documentID(doc)

			batch.Queue(stmt,
				batchIDs[i],
				source,
				sanitizeUTF8(title),
				sanitizeUTF8(doc.PageContent),
				chunkIndex(doc),
				pgvector.NewVector(vectors[i]),
				sanitizeMetadata(doc.Metadata),
			)
		}

		if err := vs.sendBatch(ctx, batch); err != nil {
			return ids, err
		}
		ids = append(ids, batchIDs...)
		ilog.EventDebug(ctx, "pgvector_batch_stored", "table", vs.config.TableName, "count", len(batchDocs))
	}

	return ids, nil
}

func (vs *PgVectorStore) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert documents: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SimilaritySearch ranks rows by cosine distance. Scores are reported as
// cosine similarity (1 - distance).
func (vs *PgVectorStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := parseOptions(options)
	embedder, err := vs.embedderFor(opts)
	if err != nil {
		return nil, err
	}
	if numDocuments <= 0 {
		numDocuments = vs.config.SearchLimit
	}

	qv, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	filter := "{}"
	if f, ok := opts.Filters.(map[string]any); ok {
		b, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("encode filter: %w", err)
		}
		filter = string(b)
	}

	sql := fmt.Sprintf(`
		SELECT content, metadata, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		WHERE metadata @> $2::jsonb
		  AND 1 - (embedding <=> $1::vector) >= $3
		ORDER BY embedding <=> $1::vector
		LIMIT $4`,
		vs.config.TableName)

	threshold := float64(-1)
	if opts.ScoreThreshold > 0 {
		threshold = float64(opts.ScoreThreshold)
	}

	rows, err := vs.pool.Query(ctx, sql, pgvector.NewVector(qv), filter, threshold, numDocuments)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []schema.Document
	for rows.Next() {
		var (
			content  string
			metadata map[string]any
			score    float64
		)
		if err := rows.Scan(&content, &metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, schema.Document{
			PageContent: content,
			Metadata:    metadata,
			Score:       float32(score),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return docs, nil
}

func (vs *PgVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := vs.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", vs.config.TableName)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

func (vs *PgVectorStore) Clear(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", vs.config.TableName)); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	return nil
}

func (vs *PgVectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// sanitizeUTF8 drops invalid bytes, which Postgres rejects in TEXT columns.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}

func sanitizeMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if s, ok := v.(string); ok {
			v = sanitizeUTF8(s)
		}
		out[k] = v
	}
	return out
}
