package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/dbutil"
)

const insertBatchSize = 200

var chunkColumns = []string{"id", "collection", "source_file", "position", "chunk_type", "content", "token_count", "embedding", "metadata", "ctime"}

func init() {
	Register(dbutil.DriverSQLite, func(args Args) (Store, error) {
		return newSQLStore(args, dbutil.DriverSQLite)
	})
	Register(dbutil.DriverPostgres, func(args Args) (Store, error) {
		return newSQLStore(args, dbutil.DriverPostgres)
	})
}

// sqlStore keeps chunks in the "chunks" table. Embeddings use the pgvector
// text encoding on both drivers; postgres ranks with the <=> operator while
// sqlite ranks in process.
type sqlStore struct {
	db     *sql.DB
	driver string
}

func newSQLStore(args Args, driver string) (Store, error) {
	if args.DB == nil {
		return nil, fmt.Errorf("%s vector store requires a database", driver)
	}
	return &sqlStore{db: args.DB, driver: driver}, nil
}

func (s *sqlStore) EnsureCollection(ctx context.Context, collection string) error {
	sqlStr, args := dbutil.Finalize(s.driver,
		`INSERT INTO collections (name, ctime) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
		[]interface{}{collection, time.Now().UnixMilli()})
	_, err := s.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (s *sqlStore) Replace(ctx context.Context, collection, source string, chunks []*model.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := s.deleteBySource(ctx, tx, collection, source); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for start := 0; start < len(chunks); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		rows := make([]map[string]interface{}, 0, end-start)
		for _, c := range chunks[start:end] {
			meta, err := json.Marshal(c.Metadata)
			if err != nil {
				return err
			}
			ctime := c.Ctime
			if ctime == 0 {
				ctime = now
			}
			rows = append(rows, map[string]interface{}{
				"id":          c.ID,
				"collection":  collection,
				"source_file": source,
				"position":    c.Position,
				"chunk_type":  string(c.ChunkType),
				"content":     c.Content,
				"token_count": c.TokenCount,
				"embedding":   pgvector.NewVector(c.Embedding),
				"metadata":    string(meta),
				"ctime":       ctime,
			})
		}
		sqlStr, args, err := builder.BuildInsert("chunks", rows)
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(s.driver, sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) DeleteBySource(ctx context.Context, collection, source string) (int64, error) {
	return s.deleteBySource(ctx, s.db, collection, source)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *sqlStore) deleteBySource(ctx context.Context, ex execer, collection, source string) (int64, error) {
	where := map[string]interface{}{
		"collection":  collection,
		"source_file": source,
	}
	sqlStr, args, err := builder.BuildDelete("chunks", where)
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(s.driver, sqlStr, args)
	res, err := ex.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlStore) Search(ctx context.Context, collection string, query []float32, k int) ([]model.ScoredChunk, error) {
	if s.driver == dbutil.DriverPostgres {
		return s.searchPostgres(ctx, collection, query, k)
	}
	where := map[string]interface{}{
		"collection": collection,
	}
	sqlStr, args, err := builder.BuildSelect("chunks", where, chunkColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(s.driver, sqlStr, args)
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var matches []model.ScoredChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, model.ScoredChunk{Chunk: *c, Score: CosineSimilarity(query, c.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(matches, k), nil
}

func (s *sqlStore) searchPostgres(ctx context.Context, collection string, query []float32, k int) ([]model.ScoredChunk, error) {
	const q = `
		SELECT id, collection, source_file, position, chunk_type, content, token_count, embedding, metadata, ctime,
			1 - (embedding <=> $2) AS score
		FROM chunks
		WHERE collection = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, q, collection, pgvector.NewVector(query), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var matches []model.ScoredChunk
	for rows.Next() {
		var (
			c     model.Chunk
			typ   string
			emb   pgvector.Vector
			meta  string
			score float64
		)
		if err := rows.Scan(&c.ID, &c.Collection, &c.SourceFile, &c.Position, &typ, &c.Content, &c.TokenCount, &emb, &meta, &c.Ctime, &score); err != nil {
			return nil, err
		}
		c.ChunkType = model.ChunkType(typ)
		c.Embedding = emb.Slice()
		if c.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		matches = append(matches, model.ScoredChunk{Chunk: c, Score: float32(score)})
	}
	return matches, rows.Err()
}

func (s *sqlStore) Count(ctx context.Context, collection string) (int64, error) {
	sqlStr, args := dbutil.Finalize(s.driver, `SELECT COUNT(1) FROM chunks WHERE collection = ?`, []interface{}{collection})
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanChunk(rows *sql.Rows) (*model.Chunk, error) {
	var (
		c    model.Chunk
		typ  string
		emb  pgvector.Vector
		meta string
	)
	if err := rows.Scan(&c.ID, &c.Collection, &c.SourceFile, &c.Position, &typ, &c.Content, &c.TokenCount, &emb, &meta, &c.Ctime); err != nil {
		return nil, err
	}
	c.ChunkType = model.ChunkType(typ)
	c.Embedding = emb.Slice()
	md, err := decodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	c.Metadata = md
	return &c, nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var md map[string]string
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("decode chunk metadata: %w", err)
	}
	return md, nil
}
