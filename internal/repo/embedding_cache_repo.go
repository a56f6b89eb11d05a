package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/dbutil"
)

const embeddingCacheTable = "embedding_cache"

type EmbeddingCacheRepo struct {
	db     *sql.DB
	driver string
}

func NewEmbeddingCacheRepo(db *sql.DB, driver string) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db, driver: driver}
}

func (r *EmbeddingCacheRepo) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	where := map[string]interface{}{
		"model_name":   modelName,
		"task_type":    taskType,
		"content_hash": contentHash,
		"_limit":       []uint{0, 1},
	}
	sqlStr, args, err := builder.BuildSelect(embeddingCacheTable, where, []string{"embedding"})
	if err != nil {
		return nil, false, err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	var vec pgvector.Vector
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&vec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return vec.Slice(), true, nil
}

// Save upserts one vector. A repeated save refreshes ctime so hot entries
// survive the retention sweep.
func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.CachedEmbedding) error {
	sqlStr, args := dbutil.Finalize(r.driver, `
		INSERT INTO embedding_cache (model_name, task_type, content_hash, embedding, ctime)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (model_name, task_type, content_hash) DO UPDATE SET
			embedding = excluded.embedding,
			ctime = excluded.ctime
	`, []interface{}{item.Model, item.Task, item.Hash, pgvector.NewVector(item.Vector), item.Ctime})
	_, err := r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	sqlStr, args, err := builder.BuildDelete(embeddingCacheTable, map[string]interface{}{"ctime <": cutoff})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
